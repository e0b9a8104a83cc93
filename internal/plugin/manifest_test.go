package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor_CaseInsensitiveKeys(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{
		"ID": "reports",
		"NAME": "Reports",
		"Version": "2.1.0",
		"assembly": "reports.so",
		"ENTRYTYPE": "Reports.NewPlugin",
		"routeBase": "/reports"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "reports", d.ID)
	assert.Equal(t, "Reports", d.Name)
	assert.Equal(t, "2.1.0", d.Version)
	assert.Equal(t, "reports.so", d.Assembly)
	assert.Equal(t, "Reports.NewPlugin", d.EntryType)
	assert.Equal(t, "/reports", d.RouteBase)
}

func TestParseDescriptor_RejectsWrongTypes(t *testing.T) {
	_, err := ParseDescriptor([]byte(`{"id": 42, "name": "x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestParseDescriptor_RejectsMalformed(t *testing.T) {
	for _, doc := range []string{`{`, `[]`, `"id"`} {
		_, err := ParseDescriptor([]byte(doc))
		assert.Error(t, err, "document %q", doc)
	}
}

func TestDescriptorValidate_ReportsFirstMissingField(t *testing.T) {
	tests := []struct {
		name   string
		d      Descriptor
		reason string
	}{
		{"missing id", Descriptor{Name: "n", Version: "1", Assembly: "a.so", EntryType: "E"}, "plugin id is missing"},
		{"missing name", Descriptor{ID: "x", Version: "1", Assembly: "a.so", EntryType: "E"}, "plugin name is missing"},
		{"missing version", Descriptor{ID: "x", Name: "n", Assembly: "a.so", EntryType: "E"}, "plugin version is missing"},
		{"missing assembly", Descriptor{ID: "x", Name: "n", Version: "1", EntryType: "E"}, "plugin assembly is missing"},
		{"missing entry type", Descriptor{ID: "x", Name: "n", Version: "1", Assembly: "a.so"}, "plugin entry type is missing"},
		{"blank id and name", Descriptor{ID: "  ", Version: "1", Assembly: "a.so", EntryType: "E"}, "plugin id is missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDescriptor))
			assert.True(t, strings.HasSuffix(err.Error(), tt.reason), "got %q", err.Error())
		})
	}
}

func TestDescriptorToManifest_Trims(t *testing.T) {
	m, err := Descriptor{
		ID: " x ", Name: "N", Version: "1", Assembly: " x.so", EntryType: "E ", Folder: "/p/x",
	}.ToManifest()
	require.NoError(t, err)
	assert.Equal(t, "x", m.ID)
	assert.Equal(t, "x.so", m.Assembly)
	assert.Equal(t, "E", m.EntryType)
	assert.Equal(t, "/p/x", m.Folder)
}

func TestLoadDescriptors_MissingRoot(t *testing.T) {
	got := LoadDescriptors(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Empty(t, got)
}

func TestLoadDescriptors_SkipsBadFoldersAndKeepsOrder(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "charlie", manifestFor("charlie", "New"))
	writePlugin(t, root, "alpha", manifestFor("alpha", "New"))

	// No manifest: ignored silently.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	// Malformed manifest: skipped, scan continues.
	broken := filepath.Join(root, "bravo")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, ManifestFileName), []byte("{not json"), 0o644))

	// Stray file at the root is not a plugin folder.
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("hi"), 0o644))

	descriptors, skipped := scanDescriptors(root, nil)
	require.Len(t, descriptors, 2)
	assert.Equal(t, "alpha", descriptors[0].ID)
	assert.Equal(t, "charlie", descriptors[1].ID)
	assert.Equal(t, filepath.Join(root, "alpha"), descriptors[0].Folder)

	require.Len(t, skipped, 1)
	assert.Equal(t, broken, skipped[0].Folder)
	assert.Equal(t, StageManifest, skipped[0].Stage)

	assert.Len(t, LoadDescriptors(root, nil), 2)
}

func TestLoadManifests_DropsInvalidDescriptors(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "good", manifestFor("good", "New"))

	m := manifestFor("noentry", "")
	delete(m, "entryType")
	writePlugin(t, root, "noentry", m)

	manifests := LoadManifests(root, nil)
	require.Len(t, manifests, 1)
	assert.Equal(t, "good", manifests[0].ID)
	assert.Len(t, LoadDescriptors(root, nil), 2)
}

func TestCheckFolder_ReportsEveryProblem(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "good", manifestFor("good", "New"))

	m := manifestFor("noversion", "New")
	delete(m, "version")
	writePlugin(t, root, "noversion", m)

	bad := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, ManifestFileName), []byte("{"), 0o644))

	manifests, skipped := CheckFolder(root, nil)
	require.Len(t, manifests, 1)
	assert.Equal(t, "good", manifests[0].ID)

	require.Len(t, skipped, 2)
	for _, s := range skipped {
		assert.Equal(t, StageManifest, s.Stage)
	}
	reasons := skipped[0].Reason + "|" + skipped[1].Reason
	assert.Contains(t, reasons, "plugin version is missing")
}
