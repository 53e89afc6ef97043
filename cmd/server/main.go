// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	_ "node-service/docs"
	"node-service/internal/config"
	"node-service/internal/database"
	"node-service/internal/discovery"
	"node-service/internal/discovery/usb"
	"node-service/internal/handler"
	"node-service/internal/loop"
	"node-service/internal/metrics"
	"node-service/internal/model"
	"node-service/internal/protocol"
	"node-service/internal/repository"
	"node-service/internal/routes"
	"node-service/internal/service"
	"node-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB
	metrics  *metrics.Metrics

	bridge           *loop.Bridge
	discoveryRepo    repository.DiscoveryRepository
	discoveryService *service.DiscoveryService
	eventBus         *handler.EventBus
	wsHandler        *handler.WebSocketHandler

	background context.Context
	stop       context.CancelFunc
}

// @title Node Service API
// @version 1.0.0
// @description Serial port discovery and node identification

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8085
// @BasePath /api/v1
func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "node-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	background, stop := context.WithCancel(context.Background())
	app := &Application{
		config:     cfg,
		logger:     logger,
		metrics:    metrics.New(cfg.Metrics.Namespace),
		background: background,
		stop:       stop,
	}

	if err := app.initializeRepository(); err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}

	app.initializeServices()

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeRepository stores history in Postgres when enabled, in memory otherwise
func (app *Application) initializeRepository() error {
	if !app.config.Database.Enabled {
		app.discoveryRepo = repository.NewMemoryRepository(app.logger)
		app.logger.Info("Discovery history kept in memory")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	if err := database.NewMigrator(db, app.logger).Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.discoveryRepo = repository.NewDiscoveryRepository(db, app.logger)
	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeServices wires transports, the identification session and the facade
func (app *Application) initializeServices() {
	cfg := app.config

	app.bridge = loop.NewBridge(app.logger, loop.WithRecorder(app.metrics))

	opener := protocol.NewRouter(
		protocol.NewSerialOpener(serialDefaults(&cfg.Serial), cfg.Discovery.ReadInterval, app.logger),
		protocol.NewTCPOpener(protocol.TCPConfig{
			ConnectTimeout: cfg.TCP.ConnectTimeout,
			KeepAlive:      cfg.TCP.KeepAlive,
		}, app.logger),
		app.logger,
	)

	var enumeratorOpts []discovery.EnumeratorOption
	if cfg.Discovery.USBEnrichment {
		enricher := usb.NewEnricher(usb.NewVendorDatabase(), true, app.logger)
		enumeratorOpts = append(enumeratorOpts, discovery.WithEnricher(enricher))
	}
	enumerator := discovery.NewSerialEnumerator(cfg.Discovery.PortPatterns, app.logger, enumeratorOpts...)

	session := discovery.NewSession(opener, app.logger,
		discovery.WithProbeRecorder(app.metrics),
		discovery.WithReadInterval(cfg.Discovery.ReadInterval),
	)

	app.eventBus = handler.NewEventBus(app.logger)

	app.discoveryService = service.NewDiscoveryService(
		enumerator,
		session,
		app.bridge,
		app.discoveryRepo,
		&cfg.Discovery,
		app.logger,
		service.WithEventPublisher(app.eventBus),
		service.WithRunRecorder(app.metrics),
	)

	app.logger.Info("Services initialized successfully",
		zap.Int("max_concurrency", cfg.Discovery.MaxConcurrency),
		zap.Bool("usb_enrichment", cfg.Discovery.USBEnrichment),
	)
}

func serialDefaults(cfg *config.SerialConfig) model.SerialSettings {
	settings := protocol.DefaultSettings
	if cfg.DataBits != 0 {
		settings.DataBits = cfg.DataBits
	}
	if cfg.StopBits != 0 {
		settings.StopBits = cfg.StopBits
	}
	if cfg.Parity != "" {
		settings.Parity = cfg.Parity
	}
	return settings
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	var db handler.DatabaseChecker
	if app.database != nil {
		db = app.database
	}

	app.wsHandler = handler.NewWebSocketHandler(app.eventBus, app.config.Security.AllowedOrigins, app.logger)

	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		handler.NewHealthHandler(db, app.bridge, app.config, app.logger),
		handler.NewDiscoveryHandler(app.discoveryService, app.config, app.logger),
		app.wsHandler,
		app.metrics.Handler(),
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("metrics_enabled", app.config.Metrics.Enabled),
	)
	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	go app.eventBus.Start()
	go app.wsHandler.Run(app.background.Done())
	go app.discoveryService.RunRetention(app.background)

	app.logger.Info("Background services started",
		zap.Duration("history_retention", app.config.Discovery.HistoryRetention),
		zap.Duration("cleanup_interval", app.config.Discovery.CleanupInterval),
	)
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "node-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.stop()
	app.eventBus.Close()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed",
		zap.Int64("active_workers", app.bridge.ActiveWorkers()),
	)

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()
	app.waitForShutdown()

	return nil
}
