package plugin

import (
	"time"

	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

// Stage names the step of a load pass at which a plugin was skipped.
type Stage string

const (
	StageManifest    Stage = "manifest"
	StageAssembly    Stage = "assembly"
	StageOpen        Stage = "open"
	StageEntryType   Stage = "entry-type"
	StageInterface   Stage = "interface"
	StageInstantiate Stage = "instantiate"
	StageInitialize  Stage = "initialize"
	StageDuplicate   Stage = "duplicate"
)

// Skip records a plugin that did not make it into the registry.
type Skip struct {
	Folder   string `json:"folder"`
	PluginID string `json:"pluginId,omitempty"`
	Stage    Stage  `json:"stage"`
	Reason   string `json:"reason"`
}

// Registration is a successfully loaded plugin.
type Registration struct {
	Descriptor Descriptor
	Manifest   Manifest
	Folder     string
	Unit       *Unit
	Instance   pluginapi.Plugin
	LoadedAt   time.Time
}

// UI returns the plugin's UI capability, if it has one.
func (r *Registration) UI() (pluginapi.UIPlugin, bool) {
	ui, ok := r.Instance.(pluginapi.UIPlugin)
	return ui, ok
}

// LoadReport is the outcome of one load pass.
type LoadReport struct {
	Registrations []*Registration `json:"-"`
	Skipped       []Skip          `json:"skipped"`
	StartedAt     time.Time       `json:"startedAt"`
	Duration      time.Duration   `json:"duration"`
}

// EntryPoint is what ResolveEntryType found for a plugin.
type EntryPoint struct {
	Name string

	// Component is set when the entry point can be rendered.
	Component pluginapi.ComponentType

	// Symbol is the raw looked-up symbol when the entry point was resolved
	// from the plugin's unit.
	Symbol any
}
