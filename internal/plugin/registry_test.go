package plugin

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

func loadInto(t *testing.T, reg *Registry, loader *Loader, root string) *LoadReport {
	t.Helper()
	report := loader.LoadAll(context.Background(), nil, root)
	reg.Replace(report, loader.Units())
	return report
}

func TestRegistry_EmptyByDefault(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Registrations())
	assert.Empty(t, r.LoadedUnits())
	assert.True(t, r.LoadedAt().IsZero())

	_, ok := r.Get("anything")
	assert.False(t, ok)
	_, ok = r.ResolveEntryType("anything")
	assert.False(t, ok)
}

func TestRegistry_ResolveEntryTypeCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	opener := newFakeOpener()

	ui := &uiTestPlugin{testPlugin: newTestPlugin("Dashboard"), root: component("panelA", "acme")}
	writePlugin(t, root, "dashboard", manifestFor("Dashboard", "New"))
	opener.add("dashboard", map[string]any{"New": func() pluginapi.Plugin { return ui }})

	reg := NewRegistry()
	loadInto(t, reg, NewLoader(nil, WithOpener(opener)), root)

	for _, id := range []string{"Dashboard", "dashboard", "DASHBOARD", " dashboard "} {
		ep, ok := reg.ResolveEntryType(id)
		require.True(t, ok, id)
		assert.Equal(t, "acme.PanelAProxy", ep.Name)
		require.NotNil(t, ep.Component)
		assert.Equal(t, "PanelAProxy", ep.Component.Name())
	}

	_, ok := reg.ResolveEntryType("unknown")
	assert.False(t, ok)
}

func TestRegistry_ResolveEntryTypeFromUnit(t *testing.T) {
	root := t.TempDir()
	opener := newFakeOpener()

	factory := func() pluginapi.Plugin { return newTestPlugin("worker") }
	writePlugin(t, root, "worker", manifestFor("worker", "Acme.Worker.New"))
	opener.add("worker", map[string]any{"New": factory})

	reg := NewRegistry()
	loadInto(t, reg, NewLoader(nil, WithOpener(opener)), root)

	ep, ok := reg.ResolveEntryType("WORKER")
	require.True(t, ok)
	assert.Equal(t, "New", ep.Name)
	assert.Nil(t, ep.Component)
	assert.NotNil(t, ep.Symbol)
}

func TestRegistry_ReplaceKeepsUnitsAndSwapsRegistrations(t *testing.T) {
	root := t.TempDir()
	opener := newFakeOpener()
	writePlugin(t, root, "alpha", manifestFor("alpha", "New"))
	opener.add("alpha", map[string]any{"New": func() pluginapi.Plugin { return newTestPlugin("alpha") }})

	loader := NewLoader(nil, WithOpener(opener))
	reg := NewRegistry()
	loadInto(t, reg, loader, root)
	require.Len(t, reg.Registrations(), 1)
	firstLoadedAt := reg.LoadedAt()

	// Second pass after the manifest became invalid: the plugin drops out of
	// the registry but its unit stays loaded.
	m := manifestFor("alpha", "")
	delete(m, "entryType")
	writePlugin(t, root, "alpha", m)
	loadInto(t, reg, loader, root)

	assert.Empty(t, reg.Registrations())
	assert.Len(t, reg.LoadedUnits(), 1)
	require.Len(t, reg.Skipped(), 1)
	assert.False(t, reg.LoadedAt().Before(firstLoadedAt))
}

func TestRegistry_ReadersReturnCopies(t *testing.T) {
	root := t.TempDir()
	opener := newFakeOpener()
	writePlugin(t, root, "alpha", manifestFor("alpha", "New"))
	opener.add("alpha", map[string]any{"New": factoryOf(newTestPlugin("alpha"))})

	reg := NewRegistry()
	loadInto(t, reg, NewLoader(nil, WithOpener(opener)), root)

	regs := reg.Registrations()
	regs[0] = nil
	assert.NotNil(t, reg.Registrations()[0])
}

func TestRegistry_ConcurrentReadsDuringReplace(t *testing.T) {
	root := t.TempDir()
	opener := newFakeOpener()
	writePlugin(t, root, "alpha", manifestFor("alpha", "New"))
	opener.add("alpha", map[string]any{"New": func() pluginapi.Plugin { return newTestPlugin("alpha") }})

	loader := NewLoader(nil, WithOpener(opener))
	reg := NewRegistry()
	loadInto(t, reg, loader, root)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if n := len(reg.Registrations()); n != 1 {
					t.Errorf("observed %d registrations", n)
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		loadInto(t, reg, loader, root)
	}
	close(stop)
	wg.Wait()
}
