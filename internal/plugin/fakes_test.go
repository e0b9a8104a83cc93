package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

// fakeOpener serves symbol tables keyed by plugin folder name, so tests do
// not need real -buildmode=plugin artifacts.
type fakeOpener struct {
	mu      sync.Mutex
	symbols map[string]map[string]any
	opened  map[string]int
	fail    map[string]error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		symbols: make(map[string]map[string]any),
		opened:  make(map[string]int),
		fail:    make(map[string]error),
	}
}

func (o *fakeOpener) add(folder string, symbols map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.symbols[folder] = symbols
}

func (o *fakeOpener) Open(path string) (Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	folder := filepath.Base(filepath.Dir(path))
	o.opened[folder]++
	if err := o.fail[folder]; err != nil {
		return nil, err
	}
	syms, ok := o.symbols[folder]
	if !ok {
		return nil, fmt.Errorf("no such plugin %s", path)
	}
	return fakeHandle(syms), nil
}

func (o *fakeOpener) openCount(folder string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[folder]
}

type fakeHandle map[string]any

func (h fakeHandle) Lookup(symbol string) (any, error) {
	if s, ok := h[symbol]; ok {
		return s, nil
	}
	return nil, errors.New("symbol " + symbol + " not found")
}

type testPlugin struct {
	id        string
	initErr   error
	initPanic bool
	execErr   error
	execPanic bool

	services pluginapi.ServiceContext
	inits    atomic.Int32
	execs    atomic.Int32
	executed chan struct{}
}

func newTestPlugin(id string) *testPlugin {
	return &testPlugin{id: id, executed: make(chan struct{}, 16)}
}

func (p *testPlugin) ID() string      { return p.id }
func (p *testPlugin) Name() string    { return "Test " + p.id }
func (p *testPlugin) Version() string { return "1.0.0" }

func (p *testPlugin) Initialize(services pluginapi.ServiceContext) error {
	p.inits.Add(1)
	if p.initPanic {
		panic("initialize exploded")
	}
	p.services = services
	return p.initErr
}

func (p *testPlugin) Execute(ctx context.Context) error {
	p.execs.Add(1)
	defer func() {
		select {
		case p.executed <- struct{}{}:
		default:
		}
	}()
	if p.execPanic {
		panic("execute exploded")
	}
	return p.execErr
}

type uiTestPlugin struct {
	*testPlugin
	root       pluginapi.ComponentType
	components []pluginapi.ComponentType
}

func (p *uiTestPlugin) RootComponent() pluginapi.ComponentType     { return p.root }
func (p *uiTestPlugin) SetRootComponent(ct pluginapi.ComponentType) { p.root = ct }
func (p *uiTestPlugin) Components() []pluginapi.ComponentType      { return p.components }

func factoryOf(p pluginapi.Plugin) func() pluginapi.Plugin {
	return func() pluginapi.Plugin { return p }
}

// writePlugin creates <root>/<folder>/plugin.json plus an empty assembly
// file and returns the folder path.
func writePlugin(t *testing.T, root, folder string, manifest map[string]any) string {
	t.Helper()

	dir := filepath.Join(root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if asm, ok := manifest["assembly"].(string); ok && asm != "" {
		if err := os.WriteFile(filepath.Join(dir, asm), []byte("so"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func manifestFor(id, entryType string) map[string]any {
	return map[string]any{
		"id":        id,
		"name":      "Plugin " + id,
		"version":   "1.0.0",
		"assembly":  id + ".so",
		"entryType": entryType,
	}
}

func component(name, pkg string, attrs ...pluginapi.Attribute) *pluginapi.StaticComponent {
	return &pluginapi.StaticComponent{TypeName: name, PackagePath: pkg, Attrs: attrs}
}

func writeManifestOnly(t *testing.T, dir string, manifest map[string]any) {
	t.Helper()
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0o644); err != nil {
		t.Fatal(err)
	}
}
