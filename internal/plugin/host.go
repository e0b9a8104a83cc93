package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/darkden-lab/lineside/internal/events"
)

// ErrPluginNotFound is returned for operations on an unknown plugin id.
var ErrPluginNotFound = errors.New("plugin not found")

// HostConfig wires a Host. Store and Events are optional.
type HostConfig struct {
	RootDir  string
	Loader   *Loader
	Registry *Registry
	Services *Services
	Store    *Store
	Events   events.Publisher
	Logger   *slog.Logger

	// ExecuteTimeout bounds one background Execute call. Zero means no limit.
	ExecuteTimeout time.Duration
}

// Host owns the plugin lifecycle: load passes, the registry and background
// execution of loaded plugins.
type Host struct {
	rootDir  string
	loader   *Loader
	registry *Registry
	services *Services
	store    *Store
	events   events.Publisher
	logger   *slog.Logger
	timeout  time.Duration

	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHost(cfg HostConfig) *Host {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Loader == nil {
		cfg.Loader = NewLoader(logger)
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Services == nil {
		cfg.Services = NewServices(logger)
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		rootDir:  cfg.RootDir,
		loader:   cfg.Loader,
		registry: cfg.Registry,
		services: cfg.Services,
		store:    cfg.Store,
		events:   cfg.Events,
		logger:   logger,
		timeout:  cfg.ExecuteTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (h *Host) Registry() *Registry { return h.registry }
func (h *Host) Services() *Services { return h.services }
func (h *Host) RootDir() string     { return h.rootDir }

// Reload runs a load pass and swaps the registry. Concurrent callers share
// the pass that is already running. A caller whose ctx is already done gets
// ctx.Err() and the registry is left untouched; once started, a pass runs to
// completion even if the caller goes away.
func (h *Host) Reload(ctx context.Context) (*LoadReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	passCtx := context.WithoutCancel(ctx)

	v, err, _ := h.group.Do("reload", func() (any, error) {
		if err := h.ctx.Err(); err != nil {
			return nil, errors.New("plugin host is closed")
		}

		report := h.loader.LoadAll(passCtx, h.services, h.rootDir)
		h.registry.Replace(report, h.loader.Units())

		h.logger.Info("plugin load pass finished",
			"root", h.rootDir,
			"loaded", len(report.Registrations),
			"skipped", len(report.Skipped),
			"duration", report.Duration)

		if h.store != nil {
			if err := h.store.RecordPass(passCtx, report); err != nil {
				h.logger.Warn("failed to record plugin load pass", "error", err)
			}
		}

		ids := make([]string, 0, len(report.Registrations))
		for _, reg := range report.Registrations {
			ids = append(ids, reg.Manifest.ID)
		}
		event := events.NewEvent(events.TopicPluginsReloaded, h.rootDir, "Plugins reloaded", map[string]any{
			"loaded":  ids,
			"skipped": report.Skipped,
		})
		if err := h.events.Publish(events.TopicPluginsReloaded, event); err != nil {
			h.logger.Warn("failed to publish reload event", "error", err)
		}

		for _, reg := range report.Registrations {
			h.start(reg)
		}
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*LoadReport), nil
}

// Execute starts the plugin's Execute in the background and returns
// immediately.
func (h *Host) Execute(id string) error {
	reg, ok := h.registry.Get(id)
	if !ok {
		return ErrPluginNotFound
	}
	h.start(reg)
	return nil
}

func (h *Host) start(reg *Registration) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx := h.ctx
		if h.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.timeout)
			defer cancel()
		}

		id := reg.Manifest.ID
		err := guard(func() error { return reg.Instance.Execute(ctx) })
		if err == nil {
			h.logger.Debug("plugin executed", "plugin", id)
			return
		}

		h.logger.Error("plugin execute failed", "plugin", id, "error", err)
		event := events.NewEvent(events.TopicPluginError, id, "Plugin execute failed", map[string]string{
			"error": err.Error(),
		})
		if perr := h.events.Publish(events.TopicPluginError, event); perr != nil {
			h.logger.Warn("failed to publish plugin error event", "error", perr)
		}
	}()
}

// Close cancels running executions and waits for them to return.
func (h *Host) Close() {
	h.cancel()
	h.wg.Wait()
}
