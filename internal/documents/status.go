package documents

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FolderStatus is the rolled-up state of a folder and its descendants.
type FolderStatus struct {
	Name            string         `json:"name"`
	Path            string         `json:"path"`
	PDFCount        int            `json:"pdfCount"`
	LastModifiedUtc *time.Time     `json:"lastModifiedUtc,omitempty"`
	Status          string         `json:"status"`
	Error           string         `json:"error,omitempty"`
	Children        []FolderStatus `json:"children"`
}

const statusNoDocuments = "No documents"

// Status walks dir recursively. A folder that cannot be read reports the
// error on its own branch; its siblings are still visited. Cancelling ctx
// stops the walk before the next folder is read and returns ctx.Err().
func (e *Engine) Status(ctx context.Context, dir string) (FolderStatus, error) {
	st := e.folderStatus(ctx, dir, filepath.Base(dir), "", e.now())
	if err := ctx.Err(); err != nil {
		return FolderStatus{}, err
	}
	return st, nil
}

func (e *Engine) folderStatus(ctx context.Context, dir, name, rel string, now time.Time) FolderStatus {
	st := FolderStatus{Name: name, Path: rel, Children: []FolderStatus{}}
	if ctx.Err() != nil {
		return st
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		e.logger.Warn("document folder unreadable", "folder", dir, "error", err)
		st.Error = err.Error()
		st.Status = "Error: " + err.Error()
		return st
	}

	var latest time.Time
	for _, entry := range entries {
		n := entry.Name()
		if strings.HasPrefix(n, ".") {
			continue
		}

		if entry.IsDir() {
			childRel := n
			if rel != "" {
				childRel = rel + "/" + n
			}
			child := e.folderStatus(ctx, filepath.Join(dir, n), n, childRel, now)
			st.PDFCount += child.PDFCount
			if child.LastModifiedUtc != nil && child.LastModifiedUtc.After(latest) {
				latest = *child.LastModifiedUtc
			}
			st.Children = append(st.Children, child)
			continue
		}

		if !isPDF(n) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		st.PDFCount++
		if mt := info.ModTime().UTC(); mt.After(latest) {
			latest = mt
		}
	}

	if !latest.IsZero() {
		st.LastModifiedUtc = &latest
	}
	st.Status = statusText(st.PDFCount, latest, now)
	return st
}

func statusText(count int, latest, now time.Time) string {
	if count == 0 || latest.IsZero() {
		return statusNoDocuments
	}
	return "Updated " + humanize.RelTime(latest, now, "ago", "from now")
}
