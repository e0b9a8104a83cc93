package plugin

import (
	"errors"
	"fmt"
	"os"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrDependencyNotFound is returned by Unit.Resolve when neither the plugin
// folder nor the shared search path contains the requested file.
var ErrDependencyNotFound = errors.New("plugin dependency not found")

// Unit is the isolation unit of one plugin folder. Dependency lookups
// resolve against the plugin's own folder before the host's shared search
// path, so two plugins may ship same-named files without colliding.
//
// Units are never unloaded.
type Unit struct {
	Dir      string    `json:"dir"`
	Path     string    `json:"path"`
	OpenedAt time.Time `json:"openedAt"`

	handle     Handle
	sharedDirs []string
}

func newUnit(dir, path string, handle Handle, sharedDirs []string) *Unit {
	return &Unit{
		Dir:        dir,
		Path:       path,
		OpenedAt:   time.Now().UTC(),
		handle:     handle,
		sharedDirs: sharedDirs,
	}
}

// Lookup resolves an exported symbol inside this unit only.
func (u *Unit) Lookup(symbol string) (any, error) {
	if u.handle == nil {
		return nil, fmt.Errorf("unit %s is not open", u.Path)
	}
	return u.handle.Lookup(symbol)
}

// Resolve returns the path of a dependency file, preferring the plugin
// folder and falling back to the shared search path.
func (u *Unit) Resolve(name string) (string, error) {
	if p, ok := existingFileIn(u.Dir, name); ok {
		return p, nil
	}
	for _, dir := range u.sharedDirs {
		if p, ok := existingFileIn(dir, name); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDependencyNotFound, name)
}

func existingFileIn(dir, name string) (string, bool) {
	if dir == "" || name == "" {
		return "", false
	}
	p, err := securejoin.SecureJoin(dir, name)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}
