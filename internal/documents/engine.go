package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrInvalidFileName = errors.New("invalid file name")
	ErrCommentRequired = errors.New("comment is required")
	ErrCommentTooLong  = errors.New("comment is too long")
	ErrDuplicateFile   = errors.New("file already exists")
	ErrTooLarge        = errors.New("upload exceeds the size limit")
	ErrNotFound        = errors.New("not found")
)

const (
	MaxCommentLength      = 500
	DefaultMaxUploadBytes = 50 << 20
)

// IsValidationError reports whether err is a client error rather than a
// failure of the host.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidFileName) ||
		errors.Is(err, ErrCommentRequired) ||
		errors.Is(err, ErrCommentTooLong) ||
		errors.Is(err, ErrDuplicateFile) ||
		errors.Is(err, ErrTooLarge)
}

// DocumentVersion is one division of a document as listed to clients.
type DocumentVersion struct {
	FileName    string     `json:"fileName"`
	Division    int        `json:"division"`
	UploadedUtc *time.Time `json:"uploadedUtc,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	Size        int64      `json:"size"`
	ModifiedUtc time.Time  `json:"modifiedUtc"`
}

// DocumentGroup is every version of one logical document.
type DocumentGroup struct {
	BaseName string            `json:"baseName"`
	Versions []DocumentVersion `json:"versions"`
}

// Listing is the content of one folder.
type Listing struct {
	Folders   []string        `json:"folders"`
	Files     []string        `json:"files"`
	Documents []DocumentGroup `json:"documents"`
}

// UploadRequest is a document to store in a folder.
type UploadRequest struct {
	FileName string
	Comment  string
	Content  io.Reader
}

// UploadResult describes the stored division.
type UploadResult struct {
	StoredFileName string    `json:"storedFileName"`
	BaseName       string    `json:"baseName"`
	Division       int       `json:"division"`
	UploadedUtc    time.Time `json:"uploadedUtc"`
	Comment        string    `json:"comment"`
}

// Engine tracks document versions per folder. It keeps no state between
// calls apart from the folder locks; every operation starts from what is on
// disk.
type Engine struct {
	logger   *slog.Logger
	locks    *folderLocks
	maxBytes int64
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxUploadBytes limits the size of uploaded documents.
func WithMaxUploadBytes(n int64) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:   logger,
		locks:    newFolderLocks(),
		maxBytes: DefaultMaxUploadBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxUploadBytes returns the configured upload limit.
func (e *Engine) MaxUploadBytes() int64 { return e.maxBytes }

type folderEntries struct {
	dirs  []string
	pdfs  []os.DirEntry
	names map[string]bool // lower-cased pdf names
}

func readFolder(dir string) (*folderEntries, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fe := &folderEntries{names: make(map[string]bool)}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			fe.dirs = append(fe.dirs, name)
			continue
		}
		if !entry.Type().IsRegular() || !isPDF(name) || ValidatePDFFileName(name) != nil {
			continue
		}
		fe.pdfs = append(fe.pdfs, entry)
		fe.names[strings.ToLower(name)] = true
	}
	sort.Slice(fe.dirs, func(i, j int) bool { return lessFold(fe.dirs[i], fe.dirs[j]) })
	sort.Slice(fe.pdfs, func(i, j int) bool { return lessFold(fe.pdfs[i].Name(), fe.pdfs[j].Name()) })
	return fe, nil
}

func lessFold(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

// prepare runs the load, normalize and reconcile steps for dir and persists
// the metadata when they changed it. Callers hold the folder lock.
func (e *Engine) prepare(dir string) (*Metadata, *folderEntries, error) {
	fe, err := readFolder(dir)
	if err != nil {
		return nil, nil, err
	}

	meta := loadMetadata(dir, e.logger)
	changed := meta.normalize()
	if meta.reconcile(fe.names) {
		changed = true
	}
	if changed {
		if err := meta.save(dir); err != nil {
			e.logger.Warn("failed to persist reconciled document metadata", "folder", dir, "error", err)
		} else {
			e.logger.Info("document metadata reconciled", "folder", dir)
		}
	}
	return meta, fe, nil
}

// List returns the subfolders, PDF files and grouped document versions of
// dir.
func (e *Engine) List(ctx context.Context, dir string) (*Listing, error) {
	release, err := e.lockFolder(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer release()

	meta, fe, err := e.prepare(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(dir))
		}
		return nil, fmt.Errorf("read folder: %w", err)
	}

	listing := &Listing{
		Folders:   append([]string{}, fe.dirs...),
		Files:     make([]string, 0, len(fe.pdfs)),
		Documents: groupDocuments(meta, fe.pdfs),
	}
	for _, f := range fe.pdfs {
		listing.Files = append(listing.Files, f.Name())
	}
	return listing, nil
}

func groupDocuments(meta *Metadata, pdfs []os.DirEntry) []DocumentGroup {
	groups := make(map[string]*DocumentGroup)
	var order []string

	for _, f := range pdfs {
		name := f.Name()
		v := DocumentVersion{FileName: name}
		if info, err := f.Info(); err == nil {
			v.Size = info.Size()
			v.ModifiedUtc = info.ModTime().UTC()
		}

		var base string
		if b, rec, ok := meta.find(name); ok {
			base = b
			v.Division = rec.Division
			v.Comment = rec.Comment
			if !rec.UploadedUtc.IsZero() {
				t := rec.UploadedUtc.UTC()
				v.UploadedUtc = &t
			}
		} else if b, n, ok := ParseDivision(name); ok {
			base, v.Division = b, n
		} else {
			base = stem(name)
		}

		key := strings.ToLower(base)
		g, ok := groups[key]
		if !ok {
			g = &DocumentGroup{BaseName: base}
			groups[key] = g
			order = append(order, key)
		}
		g.Versions = append(g.Versions, v)
	}

	sort.Slice(order, func(i, j int) bool { return lessFold(groups[order[i]].BaseName, groups[order[j]].BaseName) })

	out := make([]DocumentGroup, 0, len(order))
	for _, key := range order {
		g := groups[key]
		sort.SliceStable(g.Versions, func(i, j int) bool {
			a, b := g.Versions[i], g.Versions[j]
			if a.Division != b.Division {
				return a.Division < b.Division
			}
			return lessFold(a.FileName, b.FileName)
		})
		out = append(out, *g)
	}
	return out
}

// Upload stores req as the next division of its document in dir.
func (e *Engine) Upload(ctx context.Context, dir string, req UploadRequest) (*UploadResult, error) {
	if err := ValidatePDFFileName(req.FileName); err != nil {
		return nil, err
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		return nil, ErrCommentRequired
	}
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return nil, fmt.Errorf("%w: at most %d characters", ErrCommentTooLong, MaxCommentLength)
	}
	if req.Content == nil {
		return nil, errors.New("upload has no content")
	}

	release, err := e.lockFolder(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer release()

	meta, fe, err := e.prepare(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(dir))
		}
		return nil, fmt.Errorf("read folder: %w", err)
	}

	base := uploadBaseName(req.FileName)
	division := nextDivision(meta, fe, base)
	stored := StoredFileName(base, division)
	if fe.names[strings.ToLower(stored)] {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFile, stored)
	}

	target := filepath.Join(dir, stored)
	if err := e.writeExclusive(target, req.Content); err != nil {
		return nil, err
	}

	rec := VersionRecord{
		FileName:    stored,
		Division:    division,
		UploadedUtc: e.now().UTC(),
		Comment:     comment,
	}
	meta.add(base, rec)
	if err := meta.save(dir); err != nil {
		if rmErr := os.Remove(target); rmErr != nil {
			e.logger.Error("failed to remove orphaned upload", "path", target, "error", rmErr)
		}
		return nil, fmt.Errorf("persist document metadata: %w", err)
	}

	e.logger.Info("document uploaded",
		"folder", dir, "file", stored, "base", base, "division", division)

	return &UploadResult{
		StoredFileName: stored,
		BaseName:       base,
		Division:       division,
		UploadedUtc:    rec.UploadedUtc,
		Comment:        comment,
	}, nil
}

// nextDivision is one past the highest division of base found in the
// metadata or in _Division-suffixed file names on disk.
func nextDivision(meta *Metadata, fe *folderEntries, base string) int {
	max := meta.maxDivision(base)
	for _, f := range fe.pdfs {
		b, n, ok := ParseDivision(f.Name())
		if ok && strings.EqualFold(SanitizeBaseName(b), base) && n > max {
			max = n
		}
	}
	return max + 1
}

// writeExclusive creates path, failing if it exists, and copies at most
// maxBytes from r into it. A partial file is removed on failure.
func (e *Engine) writeExclusive(path string, r io.Reader) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDuplicateFile, filepath.Base(path))
		}
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", filepath.Base(path), cerr)
		}
		if err != nil {
			os.Remove(path) //nolint:errcheck
		}
	}()

	n, err := io.Copy(f, io.LimitReader(r, e.maxBytes+1))
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if n > e.maxBytes {
		return fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, e.maxBytes)
	}
	return nil
}
