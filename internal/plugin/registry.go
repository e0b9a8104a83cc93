package plugin

import (
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

// snapshot is an immutable view of one completed load pass.
type snapshot struct {
	registrations []*Registration
	units         []*Unit
	skipped       []Skip
	loadedAt      time.Time
}

// Registry holds the plugins of the most recent load pass. Replace swaps in
// a complete new snapshot, so readers observe either the old or the new set
// and never an empty or partial one.
type Registry struct {
	current atomic.Pointer[snapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{})
	return r
}

// Replace publishes the result of a load pass. units is the full set of
// isolation units opened so far; units are never dropped.
func (r *Registry) Replace(report *LoadReport, units []*Unit) {
	next := &snapshot{
		registrations: slices.Clone(report.Registrations),
		units:         slices.Clone(units),
		skipped:       slices.Clone(report.Skipped),
		loadedAt:      report.StartedAt,
	}
	r.current.Store(next)
}

// Registrations returns the loaded plugins in load order.
func (r *Registry) Registrations() []*Registration {
	return slices.Clone(r.current.Load().registrations)
}

// LoadedUnits returns every isolation unit opened by the host.
func (r *Registry) LoadedUnits() []*Unit {
	return slices.Clone(r.current.Load().units)
}

// Skipped returns the plugins skipped by the last load pass.
func (r *Registry) Skipped() []Skip {
	return slices.Clone(r.current.Load().skipped)
}

// LoadedAt is the start time of the pass that produced the current set.
func (r *Registry) LoadedAt() time.Time {
	return r.current.Load().loadedAt
}

// Get finds a registration by case-insensitive id, matching either the
// descriptor or the manifest id.
func (r *Registry) Get(id string) (*Registration, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	for _, reg := range r.current.Load().registrations {
		if strings.EqualFold(reg.Descriptor.ID, id) || strings.EqualFold(reg.Manifest.ID, id) {
			return reg, true
		}
	}
	return nil, false
}

// ResolveEntryType returns the plugin's entry point. A UI plugin's root
// component wins; otherwise the declared entry type is resolved against
// the plugin's own unit.
func (r *Registry) ResolveEntryType(id string) (EntryPoint, bool) {
	reg, ok := r.Get(id)
	if !ok {
		return EntryPoint{}, false
	}

	if ui, ok := reg.UI(); ok {
		if ct := ui.RootComponent(); ct != nil {
			return EntryPoint{Name: pluginapi.QualifiedName(ct), Component: ct}, true
		}
	}

	if reg.Unit == nil {
		return EntryPoint{}, false
	}
	sym, name, err := resolveSymbol(reg.Unit, reg.Manifest.EntryType)
	if err != nil {
		return EntryPoint{}, false
	}
	ep := EntryPoint{Name: name, Symbol: sym}
	if ct, ok := sym.(pluginapi.ComponentType); ok {
		ep.Component = ct
	}
	return ep, true
}
