package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkden-lab/lineside/docs"
	"github.com/darkden-lab/lineside/internal/config"
	"github.com/darkden-lab/lineside/internal/db"
	"github.com/darkden-lab/lineside/internal/documents"
	"github.com/darkden-lab/lineside/internal/events"
	"github.com/darkden-lab/lineside/internal/httputil"
	"github.com/darkden-lab/lineside/internal/logging"
	mw "github.com/darkden-lab/lineside/internal/middleware"
	"github.com/darkden-lab/lineside/internal/plugin"
	"github.com/darkden-lab/lineside/internal/workorders"
	"github.com/darkden-lab/lineside/internal/ws"
	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database (optional: load history and the SQL work order source)
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL, db.WithLogger(logger))
		if err != nil {
			logger.Warn("database connection failed, continuing without DB", "error", err)
		} else {
			defer database.Close()
			pool = database.Pool
			if version, err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
				logger.Warn("migrations failed", "error", err)
			} else {
				logger.Info("database ready", "schemaVersion", version)
			}
		}
	}

	// Events
	broker, err := events.NewBroker(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, logger)
	if err != nil {
		logger.Warn("event broker setup failed, falling back to in-memory", "error", err)
		broker = events.NewInMemoryBroker()
	}
	defer broker.Close() //nolint:errcheck

	// WebSocket Hub
	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	if err := hub.Forward(broker); err != nil {
		logger.Warn("live updates disabled", "error", err)
	}
	wsHandler := ws.NewWSHandler(hub, ws.NewOriginChecker(cfg.AllowedOrigins))

	// Documents
	library := documents.NewLibrary(cfg.PDFRoot, cfg.AllowedLines)
	engine := documents.NewEngine(logger, documents.WithMaxUploadBytes(cfg.MaxUploadBytes))
	docHandlers := documents.NewHandlers(library, engine, broker, logger)

	// Work orders
	var woHandlers *workorders.Handlers
	reader, err := workorders.NewReader(workorders.Options{
		Source: cfg.WorkOrdersSource,
		APIURL: cfg.WorkOrdersAPIURL,
		APIKey: cfg.WorkOrdersAPIKey,
	}, pool, logger)
	if err != nil {
		logger.Error("work order source unavailable, work order routes disabled",
			"source", cfg.WorkOrdersSource, "error", err)
	} else {
		woHandlers = workorders.NewHandlers(reader, logger)
	}

	// Plugins
	services := plugin.NewServices(logger)
	services.Register(pluginapi.ServiceDocuments, documents.NewService(library, engine))
	services.Register(pluginapi.ServiceEvents, broker)
	if reader != nil {
		services.Register(pluginapi.ServiceWorkOrders, reader)
	}

	var store *plugin.Store
	if pool != nil {
		store = plugin.NewStore(pool)
	}
	host := plugin.NewHost(plugin.HostConfig{
		RootDir:        cfg.PluginsDir,
		Loader:         plugin.NewLoader(logger, plugin.WithSharedDirs(cfg.PluginSharedDirs...)),
		Services:       services,
		Store:          store,
		Events:         broker,
		Logger:         logger,
		ExecuteTimeout: 10 * time.Minute,
	})
	defer host.Close()

	if _, err := host.Reload(ctx); err != nil {
		logger.Warn("initial plugin load failed", "error", err)
	}
	if cfg.PluginWatch {
		if watcher, err := plugin.NewWatcher(host, logger); err != nil {
			logger.Warn("plugin watching disabled", "dir", cfg.PluginsDir, "error", err)
		} else {
			defer watcher.Close() //nolint:errcheck
			go watcher.Run(ctx)
		}
	}

	// Router
	r := mux.NewRouter()
	limiter := mw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst,
		mw.WithWriteLimit(cfg.WriteRateLimitRPS, cfg.WriteRateLimitBurst))
	defer limiter.Stop()
	r.Use(mw.RequestID, mw.Recover(logger), mw.AccessLog(logger), limiter.Middleware())

	r.HandleFunc("/healthz", healthzHandler).Methods("GET")
	docs.RegisterRoutes(r)
	docHandlers.RegisterRoutes(r)
	if woHandlers != nil {
		woHandlers.RegisterRoutes(r)
	}
	plugin.NewHandlers(host, store).RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	// CORS wraps the entire router so OPTIONS preflight requests are handled
	// before mux routing (which would 404 on OPTIONS).
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mw.CORS(cfg.AllowedOrigins)(r),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "pdfRoot", cfg.PDFRoot, "pluginsDir", cfg.PluginsDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
