package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(opts ...EngineOption) *Engine {
	opts = append([]EngineOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewEngine(nil, opts...)
}

func upload(t *testing.T, e *Engine, dir, name, comment string) *UploadResult {
	t.Helper()
	res, err := e.Upload(context.Background(), dir, UploadRequest{
		FileName: name,
		Comment:  comment,
		Content:  strings.NewReader("%PDF-1.7 " + comment),
	})
	require.NoError(t, err)
	return res
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestUpload_TwoVersionsListed(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine()

	first := upload(t, e, dir, "Drawing.pdf", "initial")
	assert.Equal(t, "Drawing_Division01.pdf", first.StoredFileName)
	assert.Equal(t, "Drawing", first.BaseName)
	assert.Equal(t, 1, first.Division)
	assert.Equal(t, "initial", first.Comment)
	assert.Equal(t, fixedNow, first.UploadedUtc)

	second := upload(t, e, dir, "Drawing.pdf", "rev A")
	assert.Equal(t, "Drawing_Division02.pdf", second.StoredFileName)
	assert.Equal(t, 2, second.Division)

	listing, err := e.List(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Drawing_Division01.pdf", "Drawing_Division02.pdf"}, listing.Files)

	require.Len(t, listing.Documents, 1)
	group := listing.Documents[0]
	assert.Equal(t, "Drawing", group.BaseName)
	require.Len(t, group.Versions, 2)
	assert.Equal(t, 1, group.Versions[0].Division)
	assert.Equal(t, "initial", group.Versions[0].Comment)
	assert.Equal(t, 2, group.Versions[1].Division)
	assert.Equal(t, "rev A", group.Versions[1].Comment)
	require.NotNil(t, group.Versions[1].UploadedUtc)

	data, err := os.ReadFile(filepath.Join(dir, "Drawing_Division02.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 rev A", string(data))
}

func TestUpload_StrictlyIncreasingDivisions(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine()

	for i := 1; i <= 12; i++ {
		res := upload(t, e, dir, "Drawing.pdf", fmt.Sprintf("rev %d", i))
		assert.Equal(t, i, res.Division)
		if i%3 == 0 {
			other := upload(t, e, dir, "Layout.pdf", "unrelated")
			assert.Equal(t, i/3, other.Division)
		}
	}
}

func TestUpload_ConcurrentUploadsGetDistinctDivisions(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine()

	const n = 10
	divisions := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Upload(context.Background(), dir, UploadRequest{
				FileName: "Drawing.pdf",
				Comment:  fmt.Sprintf("upload %d", i),
				Content:  strings.NewReader("x"),
			})
			if assert.NoError(t, err) {
				divisions <- res.Division
			}
		}(i)
	}
	wg.Wait()
	close(divisions)

	seen := make(map[int]bool)
	for d := range divisions {
		assert.False(t, seen[d], "division %d assigned twice", d)
		seen[d] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[i], "division %d missing", i)
	}
}

func TestUpload_DivisionFromDiskWithoutMetadata(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Drawing_Division04.pdf", "old")

	res := upload(t, newTestEngine(), dir, "Drawing.pdf", "after manual copy")
	assert.Equal(t, 5, res.Division)
	assert.Equal(t, "Drawing_Division05.pdf", res.StoredFileName)
}

func TestUpload_EmptyCommentRejected(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine()

	for _, comment := range []string{"", "   \t"} {
		_, err := e.Upload(context.Background(), dir, UploadRequest{
			FileName: "Drawing.pdf",
			Comment:  comment,
			Content:  strings.NewReader("x"),
		})
		assert.ErrorIs(t, err, ErrCommentRequired)
		assert.True(t, IsValidationError(err))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_Validation(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine()

	_, err := e.Upload(context.Background(), dir, UploadRequest{FileName: "notes.txt", Comment: "c", Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidFileName)

	_, err = e.Upload(context.Background(), dir, UploadRequest{FileName: "../Drawing.pdf", Comment: "c", Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidFileName)

	_, err = e.Upload(context.Background(), dir, UploadRequest{
		FileName: "Drawing.pdf",
		Comment:  strings.Repeat("é", MaxCommentLength+1),
		Content:  strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, ErrCommentTooLong)

	res, err := e.Upload(context.Background(), dir, UploadRequest{
		FileName: "Drawing.pdf",
		Comment:  "  " + strings.Repeat("é", MaxCommentLength) + "  ",
		Content:  strings.NewReader("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, MaxCommentLength, len([]rune(res.Comment)))
}

func TestUpload_TooLarge(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(WithMaxUploadBytes(8))

	_, err := e.Upload(context.Background(), dir, UploadRequest{
		FileName: "Drawing.pdf",
		Comment:  "big",
		Content:  strings.NewReader("0123456789"),
	})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, statErr := os.Stat(filepath.Join(dir, "Drawing_Division01.pdf"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "partial upload must be removed")

	res := upload(t, e, dir, "Drawing.pdf", "ok")
	assert.Equal(t, 1, res.Division)
}

func TestWriteExclusive_RefusesToClobber(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Drawing_Division01.pdf", "original")

	e := newTestEngine()
	err := e.writeExclusive(filepath.Join(dir, "Drawing_Division01.pdf"), strings.NewReader("new"))
	assert.ErrorIs(t, err, ErrDuplicateFile)

	data, rerr := os.ReadFile(filepath.Join(dir, "Drawing_Division01.pdf"))
	require.NoError(t, rerr)
	assert.Equal(t, "original", string(data))
}

func TestUpload_MissingFolder(t *testing.T) {
	_, err := newTestEngine().Upload(context.Background(), filepath.Join(t.TempDir(), "gone"), UploadRequest{
		FileName: "Drawing.pdf", Comment: "c", Content: strings.NewReader("x"),
	})
	assert.Error(t, err)
}

func TestList_GroupsAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Layout.pdf", "x")
	writeFile(t, dir, "b_Division02.pdf", "x")
	writeFile(t, dir, "B_Division01.pdf", "x")
	writeFile(t, dir, "a.pdf", "x")
	writeFile(t, dir, "readme.txt", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "Archive"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".hidden"), 0o755))

	listing, err := newTestEngine().List(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"Archive"}, listing.Folders)
	assert.Equal(t, []string{"a.pdf", "B_Division01.pdf", "b_Division02.pdf", "Layout.pdf"}, listing.Files)

	require.Len(t, listing.Documents, 3)
	assert.Equal(t, "a", listing.Documents[0].BaseName)
	assert.Equal(t, 0, listing.Documents[0].Versions[0].Division)

	b := listing.Documents[1]
	assert.True(t, strings.EqualFold("b", b.BaseName))
	require.Len(t, b.Versions, 2)
	assert.Equal(t, "B_Division01.pdf", b.Versions[0].FileName)
	assert.Equal(t, "b_Division02.pdf", b.Versions[1].FileName)

	assert.Equal(t, "Layout", listing.Documents[2].BaseName)
}

func TestList_MetadataWinsOverFileName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "drawing-final.pdf", "x")

	m := newMetadata()
	m.add("Drawing", VersionRecord{FileName: "drawing-final.pdf", Division: 3, Comment: "renamed by hand"})
	require.NoError(t, m.save(dir))

	listing, err := newTestEngine().List(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, listing.Documents, 1)
	assert.Equal(t, "Drawing", listing.Documents[0].BaseName)
	assert.Equal(t, 3, listing.Documents[0].Versions[0].Division)
	assert.Equal(t, "renamed by hand", listing.Documents[0].Versions[0].Comment)
}

func TestList_PrunesOnceAndDoesNotRewrite(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine()

	upload(t, e, dir, "Drawing.pdf", "initial")
	upload(t, e, dir, "Drawing.pdf", "rev A")
	require.NoError(t, os.Remove(filepath.Join(dir, "Drawing_Division01.pdf")))

	_, err := e.List(context.Background(), dir)
	require.NoError(t, err)

	meta := loadMetadata(dir, e.logger)
	require.Len(t, meta.Versions("Drawing"), 1)
	assert.Equal(t, "Drawing_Division02.pdf", meta.Versions("Drawing")[0].FileName)

	sidecar := filepath.Join(dir, MetadataFileName)
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(sidecar, old, old))

	_, err = e.List(context.Background(), dir)
	require.NoError(t, err)

	info, err := os.Stat(sidecar)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "unchanged folder must not rewrite metadata")

	// Divisions keep counting from what is still on disk.
	res := upload(t, e, dir, "Drawing.pdf", "rev B")
	assert.Equal(t, 3, res.Division)
}

func TestList_CorruptMetadataIsIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Drawing_Division01.pdf", "x")
	writeFile(t, dir, MetadataFileName, "not json at all")

	listing, err := newTestEngine().List(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, listing.Documents, 1)
	assert.Equal(t, 1, listing.Documents[0].Versions[0].Division)

	res := upload(t, newTestEngine(), dir, "Drawing.pdf", "heals")
	assert.Equal(t, 2, res.Division)
	assert.Len(t, loadMetadata(dir, slog.Default()).Versions("Drawing"), 1)
}

func TestList_MissingFolder(t *testing.T) {
	_, err := newTestEngine().List(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}
