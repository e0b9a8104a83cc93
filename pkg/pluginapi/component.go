package pluginapi

import (
	"context"
	"io"
)

// RenderFunc renders a component body.
type RenderFunc func(ctx context.Context, w io.Writer, params map[string]any) error

// StaticComponent is a ComponentType implementation for plugins that do not
// need a bespoke type.
type StaticComponent struct {
	TypeName    string
	PackagePath string
	Attrs       []Attribute
	RenderFn    RenderFunc
}

func (c *StaticComponent) Name() string    { return c.TypeName }
func (c *StaticComponent) Package() string { return c.PackagePath }

func (c *StaticComponent) Attributes() []Attribute {
	out := make([]Attribute, len(c.Attrs))
	copy(out, c.Attrs)
	return out
}

func (c *StaticComponent) Render(ctx context.Context, w io.Writer, params map[string]any) error {
	if c.RenderFn == nil {
		return nil
	}
	return c.RenderFn(ctx, w, params)
}

// QualifiedName returns "<package>.<name>", or just the name when the
// package is empty.
func QualifiedName(c ComponentType) string {
	if c == nil {
		return ""
	}
	if c.Package() == "" {
		return c.Name()
	}
	return c.Package() + "." + c.Name()
}
