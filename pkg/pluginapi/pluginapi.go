// Package pluginapi is the contract between the lineside host and the
// plugins it loads. Plugins are Go packages built with -buildmode=plugin
// that export the entry symbol named by their manifest's entryType.
package pluginapi

import (
	"context"
	"io"
	"log/slog"
)

// Plugin defines the capabilities every plugin must expose.
type Plugin interface {
	ID() string
	Name() string
	Version() string

	// Initialize is called exactly once after construction. It must not
	// block indefinitely.
	Initialize(services ServiceContext) error

	// Execute runs the plugin's background work. The host calls it
	// fire-and-forget; returned errors are logged, never propagated.
	Execute(ctx context.Context) error
}

// UIPlugin is implemented by plugins that contribute a rendered component.
type UIPlugin interface {
	Plugin
	RootComponent() ComponentType
	SetRootComponent(ComponentType)
}

// ComponentProvider is an optional capability for plugins exposing more
// than one component.
type ComponentProvider interface {
	Components() []ComponentType
}

// ComponentType describes a renderable component contributed by a plugin.
type ComponentType interface {
	Name() string
	Package() string
	Attributes() []Attribute
	Render(ctx context.Context, w io.Writer, params map[string]any) error
}

// Attribute is declarative metadata attached to a ComponentType.
type Attribute struct {
	Kind string            `json:"kind"`
	Args map[string]string `json:"args,omitempty"`
}

// Well-known attribute kinds understood by the host.
const (
	AttributeRoute           = "route"
	AttributeLayout          = "layout"
	AttributeTitle           = "title"
	AttributeStreamRendering = "stream-rendering"
)

// ServiceContext gives plugins access to host services during Initialize.
type ServiceContext interface {
	Logger() *slog.Logger

	// Lookup returns a host service registered under name.
	Lookup(name string) (any, bool)

	// PluginDir is the folder the plugin was loaded from.
	PluginDir() string

	// Resolve locates a dependency file, searching the plugin's own folder
	// before the host's shared search path.
	Resolve(name string) (string, error)
}

// Host service names available through ServiceContext.Lookup.
const (
	ServiceWorkOrders = "workorders"
	ServiceDocuments  = "documents"
	ServiceEvents     = "events"
)
