package plugin

import (
	"log/slog"
	"sync"

	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

// Services is the host's service container handed to plugins during
// Initialize.
type Services struct {
	mu       sync.RWMutex
	services map[string]any
	logger   *slog.Logger
}

func NewServices(logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	return &Services{
		services: make(map[string]any),
		logger:   logger,
	}
}

// Register makes svc available to plugins under name.
func (s *Services) Register(name string, svc any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = svc
}

func (s *Services) Lookup(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[name]
	return svc, ok
}

// forUnit scopes the container to one plugin's isolation unit.
func (s *Services) forUnit(u *Unit, pluginID string) pluginapi.ServiceContext {
	return &unitServices{
		Services: s,
		unit:     u,
		logger:   s.logger.With("plugin", pluginID),
	}
}

type unitServices struct {
	*Services
	unit   *Unit
	logger *slog.Logger
}

func (s *unitServices) Logger() *slog.Logger { return s.logger }
func (s *unitServices) PluginDir() string    { return s.unit.Dir }

func (s *unitServices) Resolve(name string) (string, error) {
	return s.unit.Resolve(name)
}
