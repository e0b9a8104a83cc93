package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MetadataFileName is the sidecar file kept next to the PDFs of a folder.
const MetadataFileName = ".documents.json"

// VersionRecord describes one stored division of a document.
type VersionRecord struct {
	FileName    string    `json:"fileName"`
	Division    int       `json:"division"`
	UploadedUtc time.Time `json:"uploadedUtc"`
	Comment     string    `json:"comment"`
}

// Metadata is the sidecar content: version records grouped by document base
// name. Base names compare case-insensitively.
type Metadata struct {
	Documents map[string][]VersionRecord `json:"documents"`
}

func newMetadata() *Metadata {
	return &Metadata{Documents: make(map[string][]VersionRecord)}
}

// loadMetadata reads the sidecar in dir. A missing or unreadable sidecar
// yields empty metadata.
func loadMetadata(dir string, logger *slog.Logger) *Metadata {
	p := filepath.Join(dir, MetadataFileName)
	data, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("document metadata unreadable, treating as empty", "path", p, "error", err)
		}
		return newMetadata()
	}

	m := newMetadata()
	if err := json.Unmarshal(data, m); err != nil {
		logger.Warn("document metadata corrupt, treating as empty", "path", p, "error", err)
		return newMetadata()
	}
	if m.Documents == nil {
		m.Documents = make(map[string][]VersionRecord)
	}
	return m
}

// key returns the existing key matching base case-insensitively, or base.
func (m *Metadata) key(base string) string {
	if _, ok := m.Documents[base]; ok {
		return base
	}
	for k := range m.Documents {
		if strings.EqualFold(k, base) {
			return k
		}
	}
	return base
}

// Versions returns the records of base, matched case-insensitively.
func (m *Metadata) Versions(base string) []VersionRecord {
	return m.Documents[m.key(base)]
}

func (m *Metadata) add(base string, rec VersionRecord) {
	k := m.key(base)
	m.Documents[k] = append(m.Documents[k], rec)
}

// find returns the base name and record for fileName.
func (m *Metadata) find(fileName string) (string, VersionRecord, bool) {
	for base, recs := range m.Documents {
		for _, r := range recs {
			if strings.EqualFold(r.FileName, fileName) {
				return base, r, true
			}
		}
	}
	return "", VersionRecord{}, false
}

// normalize merges keys that differ only in case and drops records without a
// file name. A file name may appear once in the sidecar and a division once
// per base; later repeats are dropped. It reports whether anything changed.
func (m *Metadata) normalize() bool {
	keys := make([]string, 0, len(m.Documents))
	for k := range m.Documents {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changed := false
	merged := make(map[string][]VersionRecord, len(keys))
	canonical := make(map[string]string, len(keys))
	files := make(map[string]bool)
	divisions := make(map[string]map[int]bool, len(keys))
	for _, k := range keys {
		lower := strings.ToLower(k)
		target, seen := canonical[lower]
		if !seen {
			target = k
			canonical[lower] = k
		} else {
			changed = true
		}

		for _, r := range m.Documents[k] {
			if strings.TrimSpace(r.FileName) == "" {
				changed = true
				continue
			}
			file := strings.ToLower(r.FileName)
			if divisions[target] == nil {
				divisions[target] = make(map[int]bool)
			}
			if files[file] || divisions[target][r.Division] {
				changed = true
				continue
			}
			files[file] = true
			divisions[target][r.Division] = true
			merged[target] = append(merged[target], r)
		}
		if _, ok := merged[target]; !ok {
			merged[target] = nil
		}
	}

	for k, recs := range merged {
		if len(recs) == 0 {
			delete(merged, k)
			changed = true
		}
	}
	m.Documents = merged
	return changed
}

// reconcile drops records whose file is not in present (lower-cased file
// names). It reports whether anything was removed.
func (m *Metadata) reconcile(present map[string]bool) bool {
	changed := false
	for base, recs := range m.Documents {
		kept := recs[:0:0]
		for _, r := range recs {
			if present[strings.ToLower(r.FileName)] {
				kept = append(kept, r)
				continue
			}
			changed = true
		}
		if len(kept) == 0 {
			delete(m.Documents, base)
			continue
		}
		m.Documents[base] = kept
	}
	return changed
}

// maxDivision is the highest division recorded for base.
func (m *Metadata) maxDivision(base string) int {
	max := 0
	for _, r := range m.Versions(base) {
		if r.Division > max {
			max = r.Division
		}
	}
	return max
}

// save writes the sidecar atomically: a temp file in dir renamed over the
// previous version.
func (m *Metadata) save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, MetadataFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metadata temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, MetadataFileName)); err != nil {
		return fmt.Errorf("replace metadata: %w", err)
	}
	return nil
}
