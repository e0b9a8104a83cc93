package documents

import (
	"context"
	"strings"
)

// Service is the document view handed to plugins through the host service
// container. It addresses folders by line and relative path, so plugins
// never deal with filesystem roots.
type Service struct {
	library *Library
	engine  *Engine
}

func NewService(library *Library, engine *Engine) *Service {
	return &Service{library: library, engine: engine}
}

// Lines returns the configured lines that exist on disk.
func (s *Service) Lines() []string { return s.library.Lines() }

// List returns the listing of a folder below line.
func (s *Service) List(ctx context.Context, line, rel string) (*Listing, error) {
	dir, _, err := s.library.Folder(line, rel)
	if err != nil {
		return nil, err
	}
	return s.engine.List(ctx, dir)
}

// Status returns the status rollup of a whole line.
func (s *Service) Status(ctx context.Context, line string) (FolderStatus, error) {
	_, dir, err := s.library.LineDir(line)
	if err != nil {
		return FolderStatus{}, err
	}
	return s.engine.Status(ctx, dir)
}

// Latest returns the newest version of the document base in a folder, or
// false when the folder has no such document.
func (s *Service) Latest(ctx context.Context, line, rel, base string) (DocumentVersion, bool, error) {
	listing, err := s.List(ctx, line, rel)
	if err != nil {
		return DocumentVersion{}, false, err
	}
	for _, g := range listing.Documents {
		// Versions are sorted by ascending division.
		if strings.EqualFold(g.BaseName, base) && len(g.Versions) > 0 {
			return g.Versions[len(g.Versions)-1], true, nil
		}
	}
	return DocumentVersion{}, false, nil
}
