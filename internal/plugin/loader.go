package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

// Loader discovers plugin folders, opens each plugin in its own isolation
// unit and instantiates its entry type. One pass never aborts because of a
// single plugin; failures end up in the LoadReport.
type Loader struct {
	opener     Opener
	sanitizer  *Sanitizer
	sharedDirs []string
	logger     *slog.Logger

	mu    sync.Mutex
	units map[string]*Unit // assembly path -> unit
	order []*Unit
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOpener replaces the native Go plugin opener.
func WithOpener(o Opener) LoaderOption {
	return func(l *Loader) { l.opener = o }
}

// WithSharedDirs sets the host search path consulted after a plugin's own
// folder.
func WithSharedDirs(dirs ...string) LoaderOption {
	return func(l *Loader) { l.sharedDirs = append([]string(nil), dirs...) }
}

// WithSanitizer shares a Sanitizer between loaders.
func WithSanitizer(s *Sanitizer) LoaderOption {
	return func(l *Loader) { l.sanitizer = s }
}

func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		opener: NativeOpener{},
		logger: logger,
		units:  make(map[string]*Unit),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sanitizer == nil {
		l.sanitizer = NewSanitizer(logger)
	}
	return l
}

// Sanitizer returns the sanitizer used to wrap UI plugins.
func (l *Loader) Sanitizer() *Sanitizer { return l.sanitizer }

// Units returns every isolation unit this loader has opened, in open order.
func (l *Loader) Units() []*Unit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Unit(nil), l.order...)
}

// LoadAll runs one full load pass over rootDir. The pass always visits every
// folder; ctx only carries values for logging.
func (l *Loader) LoadAll(ctx context.Context, services *Services, rootDir string) *LoadReport {
	if services == nil {
		services = NewServices(l.logger)
	}

	report := &LoadReport{StartedAt: time.Now().UTC()}
	descriptors, skipped := scanDescriptors(rootDir, l.logger)
	report.Skipped = append(report.Skipped, skipped...)

	byID := make(map[string]int)
	for _, d := range descriptors {
		reg, skip := l.load(services, d)
		if skip != nil {
			l.logger.WarnContext(ctx, "plugin skipped",
				"folder", skip.Folder, "plugin", skip.PluginID, "stage", skip.Stage, "reason", skip.Reason)
			report.Skipped = append(report.Skipped, *skip)
			continue
		}

		key := strings.ToLower(reg.Manifest.ID)
		if idx, dup := byID[key]; dup {
			prev := report.Registrations[idx]
			report.Skipped = append(report.Skipped, Skip{
				Folder:   prev.Folder,
				PluginID: prev.Manifest.ID,
				Stage:    StageDuplicate,
				Reason:   fmt.Sprintf("replaced by plugin in %s", reg.Folder),
			})
			report.Registrations[idx] = reg
			continue
		}
		byID[key] = len(report.Registrations)
		report.Registrations = append(report.Registrations, reg)

		l.logger.InfoContext(ctx, "plugin loaded",
			"plugin", reg.Manifest.ID, "version", reg.Manifest.Version, "folder", reg.Folder)
	}

	report.Duration = time.Since(report.StartedAt)
	return report
}

func (l *Loader) load(services *Services, d Descriptor) (*Registration, *Skip) {
	skip := func(stage Stage, format string, args ...any) *Skip {
		return &Skip{Folder: d.Folder, PluginID: d.ID, Stage: stage, Reason: fmt.Sprintf(format, args...)}
	}

	manifest, err := d.ToManifest()
	if err != nil {
		return nil, skip(StageManifest, "%s", strings.TrimPrefix(err.Error(), ErrInvalidDescriptor.Error()+": "))
	}
	if d.Folder == "" {
		return nil, skip(StageManifest, "plugin folder is missing")
	}

	assemblyPath, err := securejoin.SecureJoin(d.Folder, manifest.Assembly)
	if err != nil {
		return nil, skip(StageAssembly, "invalid assembly path %q: %v", manifest.Assembly, err)
	}
	if info, err := os.Stat(assemblyPath); err != nil || info.IsDir() {
		return nil, skip(StageAssembly, "assembly %s not found", manifest.Assembly)
	}

	unit, err := l.openUnit(d.Folder, assemblyPath)
	if err != nil {
		return nil, skip(StageOpen, "%v", err)
	}

	sym, resolved, err := resolveSymbol(unit, manifest.EntryType)
	if err != nil {
		return nil, skip(StageEntryType, "%v", err)
	}
	if resolved != manifest.EntryType {
		l.logger.Warn("plugin entry type resolved by short name",
			"plugin", manifest.ID, "declared", manifest.EntryType, "resolved", resolved)
	}

	factory, err := asFactory(sym)
	if err != nil {
		return nil, skip(StageInterface, "entry type %s: %v", resolved, err)
	}

	var instance pluginapi.Plugin
	if err := guard(func() error {
		var ferr error
		instance, ferr = factory()
		if ferr == nil && instance == nil {
			ferr = errors.New("factory returned nil plugin")
		}
		return ferr
	}); err != nil {
		return nil, skip(StageInstantiate, "%v", err)
	}

	if err := guard(func() error {
		return instance.Initialize(services.forUnit(unit, manifest.ID))
	}); err != nil {
		return nil, skip(StageInitialize, "%v", err)
	}

	return &Registration{
		Descriptor: d,
		Manifest:   manifest,
		Folder:     d.Folder,
		Unit:       unit,
		Instance:   l.sanitizer.WrapIfNeeded(instance),
		LoadedAt:   time.Now().UTC(),
	}, nil
}

// openUnit returns the isolation unit for assemblyPath, opening it on first
// use. A code unit can only be opened once per process, so later passes
// reuse it.
func (l *Loader) openUnit(dir, assemblyPath string) (*Unit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if u, ok := l.units[assemblyPath]; ok {
		return u, nil
	}

	var handle Handle
	if err := guard(func() error {
		var oerr error
		handle, oerr = l.opener.Open(assemblyPath)
		return oerr
	}); err != nil {
		return nil, err
	}

	u := newUnit(dir, assemblyPath, handle, l.sharedDirs)
	l.units[assemblyPath] = u
	l.order = append(l.order, u)
	return u, nil
}

// resolveSymbol looks up name in the unit, falling back to its short name
// (the part after the last '.' or '/'). The fallback never leaves the unit.
func resolveSymbol(u *Unit, name string) (any, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", errors.New("entry type is empty")
	}

	sym, err := u.Lookup(name)
	if err == nil {
		return sym, name, nil
	}

	if short := shortName(name); short != "" && short != name {
		if sym, serr := u.Lookup(short); serr == nil {
			return sym, short, nil
		}
	}
	return nil, "", fmt.Errorf("entry type %q not found in %s: %w", name, u.Path, err)
}

func shortName(name string) string {
	if i := strings.LastIndexAny(name, "./"); i >= 0 {
		return name[i+1:]
	}
	return name
}

type factoryFunc func() (pluginapi.Plugin, error)

// asFactory adapts the supported entry symbol shapes to a factory.
func asFactory(sym any) (factoryFunc, error) {
	switch v := sym.(type) {
	case func() pluginapi.Plugin:
		return func() (pluginapi.Plugin, error) { return v(), nil }, nil
	case func() (pluginapi.Plugin, error):
		return v, nil
	case *pluginapi.Plugin:
		if v == nil || *v == nil {
			return nil, errors.New("plugin variable is nil")
		}
		p := *v
		return func() (pluginapi.Plugin, error) { return p, nil }, nil
	case pluginapi.Plugin:
		return func() (pluginapi.Plugin, error) { return v, nil }, nil
	default:
		return nil, fmt.Errorf("%T does not implement pluginapi.Plugin", sym)
	}
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
