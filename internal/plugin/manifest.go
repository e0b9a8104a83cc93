package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ManifestFileName is the descriptor file expected in every plugin folder.
const ManifestFileName = "plugin.json"

// ErrInvalidDescriptor is wrapped by every descriptor validation error.
var ErrInvalidDescriptor = errors.New("invalid plugin descriptor")

// Descriptor is the host-side view of a plugin.json file before it is
// validated.
type Descriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Assembly    string `json:"assembly"`
	EntryType   string `json:"entryType"`
	RouteBase   string `json:"routeBase"`

	// Folder is the plugin directory the descriptor was read from.
	Folder string `json:"-"`
}

// Manifest is the validated contract derived from a Descriptor.
type Manifest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Assembly  string `json:"assembly"`
	EntryType string `json:"entryType"`
	RouteBase string `json:"routeBase,omitempty"`
	Folder    string `json:"-"`
}

// Validate checks that every required field is present. The first missing
// field is reported.
func (d Descriptor) Validate() error {
	required := []struct {
		value, reason string
	}{
		{d.ID, "plugin id is missing"},
		{d.Name, "plugin name is missing"},
		{d.Version, "plugin version is missing"},
		{d.Assembly, "plugin assembly is missing"},
		{d.EntryType, "plugin entry type is missing"},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s", ErrInvalidDescriptor, f.reason)
		}
	}
	return nil
}

// ToManifest validates the descriptor and maps it to a Manifest.
func (d Descriptor) ToManifest() (Manifest, error) {
	if err := d.Validate(); err != nil {
		return Manifest{}, err
	}
	return Manifest{
		ID:        strings.TrimSpace(d.ID),
		Name:      strings.TrimSpace(d.Name),
		Version:   strings.TrimSpace(d.Version),
		Assembly:  strings.TrimSpace(d.Assembly),
		EntryType: strings.TrimSpace(d.EntryType),
		RouteBase: strings.TrimSpace(d.RouteBase),
		Folder:    d.Folder,
	}, nil
}

// ParseDescriptor decodes a manifest document. Keys are matched
// case-insensitively and every known key must hold a string.
func ParseDescriptor(data []byte) (Descriptor, error) {
	if err := validateManifestSchema(data); err != nil {
		return Descriptor{}, err
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return d, nil
}

// LoadDescriptors reads plugin.json from every immediate subdirectory of
// rootDir. Folders without a manifest are ignored; malformed manifests are
// logged and skipped. A missing rootDir yields no descriptors.
func LoadDescriptors(rootDir string, logger *slog.Logger) []Descriptor {
	descriptors, _ := scanDescriptors(rootDir, logger)
	return descriptors
}

// LoadManifests returns the manifests of all descriptors that pass
// validation.
func LoadManifests(rootDir string, logger *slog.Logger) []Manifest {
	descriptors := LoadDescriptors(rootDir, logger)
	manifests := make([]Manifest, 0, len(descriptors))
	for _, d := range descriptors {
		m, err := d.ToManifest()
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests
}

// CheckFolder validates every plugin folder under rootDir without opening
// any code. It reports the manifests that would be loaded and a skip entry
// for each folder whose manifest is unreadable, malformed or incomplete.
func CheckFolder(rootDir string, logger *slog.Logger) ([]Manifest, []Skip) {
	descriptors, skipped := scanDescriptors(rootDir, logger)
	manifests := make([]Manifest, 0, len(descriptors))
	for _, d := range descriptors {
		m, err := d.ToManifest()
		if err != nil {
			skipped = append(skipped, Skip{Folder: d.Folder, PluginID: d.ID, Stage: StageManifest, Reason: err.Error()})
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, skipped
}

// scanDescriptors is LoadDescriptors plus a skip entry for every folder
// whose manifest could not be read or parsed.
func scanDescriptors(rootDir string, logger *slog.Logger) ([]Descriptor, []Skip) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("plugin root unreadable", "root", rootDir, "error", err)
		}
		return nil, nil
	}

	var (
		descriptors []Descriptor
		skipped     []Skip
	)
	for _, entry := range entries {
		dir := filepath.Join(rootDir, entry.Name())
		if !isDir(dir, entry) {
			continue
		}

		manifestPath := filepath.Join(dir, ManifestFileName)
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("plugin manifest unreadable", "path", manifestPath, "error", err)
				skipped = append(skipped, Skip{Folder: dir, Stage: StageManifest, Reason: err.Error()})
			}
			continue
		}

		d, err := ParseDescriptor(data)
		if err != nil {
			logger.Warn("plugin manifest ignored", "path", manifestPath, "error", err)
			skipped = append(skipped, Skip{Folder: dir, Stage: StageManifest, Reason: err.Error()})
			continue
		}

		d.Folder = dir
		descriptors = append(descriptors, d)
	}
	return descriptors, skipped
}

func isDir(path string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
