package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/config"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
	"github.com/nyimbi/stateflow/internal/engine"
	"github.com/nyimbi/stateflow/internal/history"
	httpserver "github.com/nyimbi/stateflow/internal/interfaces/http"
	"github.com/nyimbi/stateflow/internal/metrics"
	"github.com/nyimbi/stateflow/internal/notification"
	"github.com/nyimbi/stateflow/internal/repository"
	"github.com/nyimbi/stateflow/internal/worker"
	"github.com/nyimbi/stateflow/pkg/database"
	"github.com/nyimbi/stateflow/pkg/logger"
)

func main() {
	// Pick up a local .env before viper binds environment variables
	_ = gotenv.Load()

	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting stateflow workflow engine",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		log.Fatal("Failed to create data directory", zap.Error(err))
	}
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	migrator := database.NewMigrator(db, log)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Load workflow definitions
	registry, err := loadWorkflows(cfg.Workflows.Dir, log)
	if err != nil {
		log.Fatal("Failed to load workflow definitions", zap.Error(err))
	}
	log.Info("Workflow definitions loaded", zap.Strings("workflows", registry.Names()))

	// Initialize repositories
	instanceRepo := repository.NewInstanceRepository(db, log)
	historyStore := history.NewStore(db, log)

	// Initialize metrics
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	// Initialize notification dispatcher and channels
	dispatcher := notification.NewDispatcher(log,
		notification.WithRetryConfig(notification.RetryConfig{
			MaxAttempts: cfg.Notification.RetryMaxAttempts,
			BaseDelay:   cfg.Notification.RetryBaseDelay,
			MaxDelay:    cfg.Notification.RetryMaxDelay,
		}),
		notification.WithObserver(func(channel string, err error) {
			m.ObserveNotification(channel, err)
		}),
	)

	flash := notification.NewFlashChannel(0, log)
	dispatcher.Register(flash)
	dispatcher.Register(notification.NewSignalChannel(log))

	if cfg.Notification.Email.Enabled {
		provider := notification.NewLarkProvider(notification.LarkConfig{
			AppID:     cfg.Notification.Email.AppID,
			AppSecret: cfg.Notification.Email.AppSecret,
		}, log)
		dispatcher.Register(notification.NewEmailChannel(provider, cfg.Notification.Email.From, log))
	}
	if cfg.Notification.SMS.Enabled {
		provider := notification.NewHTTPSMSProvider(cfg.Notification.SMS.Endpoint, cfg.Notification.SMS.Token, log)
		dispatcher.Register(notification.NewSMSChannel(provider, log))
	}
	if cfg.Notification.Webhook.Enabled {
		dispatcher.Register(notification.NewWebhookChannel(notification.WebhookConfig{
			URL:            cfg.Notification.Webhook.URL,
			Method:         cfg.Notification.Webhook.Method,
			Headers:        cfg.Notification.Webhook.Headers,
			AuthToken:      cfg.Notification.Webhook.AuthToken,
			SuccessCodes:   cfg.Notification.Webhook.SuccessCodes,
			RetryableCodes: cfg.Notification.Webhook.RetryableCodes,
			Timeout:        cfg.Notification.Webhook.Timeout,
		}, log))
	}
	log.Info("Notification channels registered", zap.Strings("channels", dispatcher.Channels()))

	// Initialize workflow engine
	eng := engine.NewEngine(
		registry,
		instanceRepo,
		historyStore,
		db,
		dispatcher,
		log,
		engine.WithMaxAutoChain(cfg.Engine.MaxAutoChain),
		engine.WithMetrics(m),
	)

	// Initialize background workers
	workerManager := worker.NewManager(log)
	workerManager.Register(worker.NewTimeoutWatcher(eng, cfg.Engine.TimeoutPollInterval, log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := workerManager.StartAll(ctx); err != nil {
		log.Fatal("Failed to start workers", zap.Error(err))
	}

	// Initialize HTTP server
	srv := httpserver.NewServer(
		httpserver.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		eng,
		registry,
		historyStore,
		log,
		httpserver.WithFlashChannel(flash),
		httpserver.WithMetricsGatherer(promRegistry),
	)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := workerManager.StopAll(); err != nil {
		log.Error("Worker shutdown failed", zap.Error(err))
	}
	if err := dispatcher.Close(); err != nil {
		log.Error("Dispatcher shutdown failed", zap.Error(err))
	}

	log.Info("Shutdown complete")
}

// loadWorkflows reads every YAML definition in dir into a registry.
// Definitions loaded from disk may only reference built-in conditions;
// named checks, hooks and validators require code registration.
func loadWorkflows(dir string, log *zap.Logger) (*workflow.Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	resolver := workflow.Resolver{
		Checks:     workflow.NewCheckRegistry(nil),
		Hooks:      workflow.NewHookRegistry(nil, nil),
		Validators: map[string]workflow.Validator{},
	}

	var defs []*workflow.Definition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		def, err := workflow.LoadFile(filepath.Join(dir, name), resolver)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
		log.Info("Loaded workflow definition",
			zap.String("file", name),
			zap.String("workflow", def.Name()),
			zap.Int("version", def.Version()))
		defs = append(defs, def)
	}

	return workflow.NewRegistry(defs...)
}
