package documents

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestStatus_RollsUpDescendants(t *testing.T) {
	root := filepath.Join(t.TempDir(), "F1")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Sub", "Deeper"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Empty"), 0o755))

	touch(t, filepath.Join(root, "a.pdf"), fixedNow.Add(-72*time.Hour))
	touch(t, filepath.Join(root, "Sub", "b.pdf"), fixedNow.Add(-5*time.Hour))
	touch(t, filepath.Join(root, "Sub", "Deeper", "c.pdf"), fixedNow.Add(-time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	st, err := newTestEngine().Status(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, "F1", st.Name)
	assert.Equal(t, "", st.Path)
	assert.Equal(t, 3, st.PDFCount)
	require.NotNil(t, st.LastModifiedUtc)
	assert.True(t, st.LastModifiedUtc.Equal(fixedNow.Add(-time.Hour)))
	assert.Equal(t, "Updated 1 hour ago", st.Status)

	require.Len(t, st.Children, 2)
	empty, sub := st.Children[0], st.Children[1]

	assert.Equal(t, "Empty", empty.Name)
	assert.Equal(t, 0, empty.PDFCount)
	assert.Nil(t, empty.LastModifiedUtc)
	assert.Equal(t, "No documents", empty.Status)

	assert.Equal(t, "Sub", sub.Name)
	assert.Equal(t, 2, sub.PDFCount)
	require.Len(t, sub.Children, 1)
	assert.Equal(t, "Sub/Deeper", sub.Children[0].Path)
	assert.Equal(t, 1, sub.Children[0].PDFCount)
}

func TestStatus_OnlyOldDocuments(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.pdf"), fixedNow.Add(-72*time.Hour))

	st, err := newTestEngine().Status(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "Updated 3 days ago", st.Status)
}

func TestStatus_UnreadableFolder(t *testing.T) {
	st, err := newTestEngine().Status(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.NotEmpty(t, st.Error)
	assert.True(t, strings.HasPrefix(st.Status, "Error: "))
	assert.Equal(t, 0, st.PDFCount)
}

func TestStatus_UnreadableBranchDoesNotAbortSiblings(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	root := t.TempDir()
	locked := filepath.Join(root, "Locked")
	open := filepath.Join(root, "Open")
	require.NoError(t, os.MkdirAll(locked, 0o755))
	require.NoError(t, os.MkdirAll(open, 0o755))
	touch(t, filepath.Join(open, "a.pdf"), fixedNow.Add(-time.Hour))
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) }) //nolint:errcheck

	st, err := newTestEngine().Status(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, st.Children, 2)
	assert.True(t, strings.HasPrefix(st.Children[0].Status, "Error: "))
	assert.Equal(t, 1, st.Children[1].PDFCount)
	assert.Equal(t, 1, st.PDFCount)
}

func TestStatus_CancelledContext(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Station 1", "Torque"), 0o755))
	touch(t, filepath.Join(root, "Station 1", "a.pdf"), time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine().Status(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}
