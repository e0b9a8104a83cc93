package plugin

import (
	"context"

	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

// uiProxy intercepts the component accessors of a UI plugin and substitutes
// sanitized components. Every other call is forwarded to the plugin as is.
type uiProxy struct {
	inner     pluginapi.UIPlugin
	sanitizer *Sanitizer
}

var (
	_ pluginapi.UIPlugin          = (*uiProxy)(nil)
	_ pluginapi.ComponentProvider = (*uiProxy)(nil)
)

// WrapIfNeeded wraps UI plugins in an interception proxy. Plugins without
// the UI capability, and plugins that are already wrapped, are returned
// unchanged.
func (s *Sanitizer) WrapIfNeeded(p pluginapi.Plugin) pluginapi.Plugin {
	if _, ok := p.(*uiProxy); ok {
		return p
	}
	ui, ok := p.(pluginapi.UIPlugin)
	if !ok {
		return p
	}

	// Synthesize eagerly so a bad component surfaces during the load pass.
	_ = s.EnsureValid(ui.RootComponent())

	return &uiProxy{inner: ui, sanitizer: s}
}

func (p *uiProxy) ID() string      { return p.inner.ID() }
func (p *uiProxy) Name() string    { return p.inner.Name() }
func (p *uiProxy) Version() string { return p.inner.Version() }

func (p *uiProxy) Initialize(services pluginapi.ServiceContext) error {
	return p.inner.Initialize(services)
}

func (p *uiProxy) Execute(ctx context.Context) error {
	return p.inner.Execute(ctx)
}

func (p *uiProxy) RootComponent() pluginapi.ComponentType {
	return p.sanitizer.EnsureValid(p.inner.RootComponent())
}

func (p *uiProxy) SetRootComponent(ct pluginapi.ComponentType) {
	p.inner.SetRootComponent(unwrapComponent(ct))
}

// Components returns nil when the plugin does not provide components.
func (p *uiProxy) Components() []pluginapi.ComponentType {
	provider, ok := p.inner.(pluginapi.ComponentProvider)
	if !ok {
		return nil
	}
	components := provider.Components()
	out := make([]pluginapi.ComponentType, len(components))
	for i, ct := range components {
		out[i] = p.sanitizer.EnsureValid(ct)
	}
	return out
}

// Unwrap returns the plugin instance behind the proxy.
func (p *uiProxy) Unwrap() pluginapi.Plugin {
	return p.inner
}
