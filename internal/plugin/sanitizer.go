package plugin

import (
	"log/slog"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

// defaultComponentPackage is used for sanitized components whose original
// has no package.
const defaultComponentPackage = "lineside.plugincomponents"

// supportedAttributes lists the attribute kinds this host reproduces on
// sanitized components.
var supportedAttributes = map[string]bool{
	pluginapi.AttributeRoute:           true,
	pluginapi.AttributeLayout:          true,
	pluginapi.AttributeTitle:           true,
	pluginapi.AttributeStreamRendering: true,
}

// Sanitizer maps plugin components whose names the host cannot render
// (names starting with a lowercase letter) onto synthesized components with
// a valid name. Each offending component is synthesized once.
type Sanitizer struct {
	cache  sync.Map // cacheKey(original) -> *SanitizedComponent
	logger *slog.Logger
}

func NewSanitizer(logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{logger: logger}
}

// IsValidComponentName reports whether name satisfies the host naming rule.
func IsValidComponentName(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return name == "" || !unicode.IsLower(r)
}

// EnsureValid returns ct unchanged when its name is valid, otherwise the
// cached sanitized component for it.
func (s *Sanitizer) EnsureValid(ct pluginapi.ComponentType) pluginapi.ComponentType {
	if ct == nil {
		return nil
	}
	if _, ok := ct.(*SanitizedComponent); ok {
		return ct
	}
	if IsValidComponentName(ct.Name()) {
		return ct
	}

	key := cacheKey(ct)
	if cached, ok := s.cache.Load(key); ok {
		return cached.(*SanitizedComponent)
	}

	actual, loaded := s.cache.LoadOrStore(key, s.synthesize(ct))
	sc := actual.(*SanitizedComponent)
	if !loaded {
		s.logger.Debug("sanitized plugin component",
			"original", pluginapi.QualifiedName(ct), "sanitized", pluginapi.QualifiedName(sc))
	}
	return sc
}

// valueComponentKey identifies a component held by value, which may not be
// usable as a map key.
type valueComponentKey struct {
	typ  reflect.Type
	name string
}

// cacheKey identifies the component itself, so two plugins that both ship a
// component called "panel" never share a sanitized wrapper.
func cacheKey(ct pluginapi.ComponentType) any {
	if reflect.ValueOf(ct).Kind() == reflect.Pointer {
		return ct
	}
	return valueComponentKey{typ: reflect.TypeOf(ct), name: pluginapi.QualifiedName(ct)}
}

// Len returns the number of synthesized components.
func (s *Sanitizer) Len() int {
	n := 0
	s.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Sanitizer) synthesize(original pluginapi.ComponentType) *SanitizedComponent {
	name := sanitizedName(original.Name())

	pkg := original.Package()
	if pkg == "" {
		pkg = defaultComponentPackage
	}

	var attrs []pluginapi.Attribute
	for _, a := range original.Attributes() {
		if !supportedAttributes[a.Kind] {
			s.logger.Debug("attribute not reproduced on sanitized component",
				"component", original.Name(), "kind", a.Kind)
			continue
		}
		attrs = append(attrs, cloneAttribute(a))
	}

	return &SanitizedComponent{
		ComponentType: original,
		name:          name,
		pkg:           pkg,
		attrs:         attrs,
	}
}

func sanitizedName(original string) string {
	if original == "" {
		original = "PluginComponent"
	}
	r, size := utf8.DecodeRuneInString(original)
	name := string(unicode.ToUpper(r)) + original[size:]
	if name == original {
		name = "Proxy" + name
	}
	return name + "Proxy"
}

func cloneAttribute(a pluginapi.Attribute) pluginapi.Attribute {
	out := pluginapi.Attribute{Kind: a.Kind}
	if a.Args != nil {
		out.Args = make(map[string]string, len(a.Args))
		for k, v := range a.Args {
			out.Args[k] = v
		}
	}
	return out
}

// SanitizedComponent is a synthesized component with a host-valid name. It
// embeds the original component, so rendering behaves identically.
type SanitizedComponent struct {
	pluginapi.ComponentType

	name  string
	pkg   string
	attrs []pluginapi.Attribute
}

func (c *SanitizedComponent) Name() string    { return c.name }
func (c *SanitizedComponent) Package() string { return c.pkg }

func (c *SanitizedComponent) Attributes() []pluginapi.Attribute {
	out := make([]pluginapi.Attribute, len(c.attrs))
	for i, a := range c.attrs {
		out[i] = cloneAttribute(a)
	}
	return out
}

// Unwrap returns the plugin's original component.
func (c *SanitizedComponent) Unwrap() pluginapi.ComponentType {
	return c.ComponentType
}

// unwrapComponent strips host sanitization so plugins only ever see their
// own component values.
func unwrapComponent(ct pluginapi.ComponentType) pluginapi.ComponentType {
	if sc, ok := ct.(*SanitizedComponent); ok {
		return sc.Unwrap()
	}
	return ct
}
