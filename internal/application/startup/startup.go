// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/peakself/attribution-go/internal/application/container"
	"github.com/peakself/attribution-go/internal/infrastructure/analytics"
	schema "github.com/peakself/attribution-go/internal/infrastructure/database"
	"github.com/peakself/attribution-go/internal/infrastructure/messaging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/performance"
	"github.com/peakself/attribution-go/internal/infrastructure/persistence/database"
	"github.com/peakself/attribution-go/internal/presentation/http/server"
	"github.com/peakself/attribution-go/pkg/config"
)

// Initialize performs the complete startup sequence and blocks until a
// shutdown signal is received.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	// Step 1: Validate configuration
	log.Println("Validating configuration...")
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Step 2: Channeled logging
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()
	logger.Startup().Info("Channeled logging initialized", "level", config.LogLevel, "toFile", config.LogToFile)

	perfTracker := performance.NewTracker(&performance.TrackerConfig{
		MaxMarkers:    1000,
		SlowThreshold: config.SlowQueryThreshold,
		OnSlow: func(m performance.Marker) {
			logger.Perf().Warn("Slow operation", "operation", m.Operation, "duration", m.Duration, "success", m.Success)
		},
	})

	// Step 3: Database
	phaseStart := time.Now()
	db, err := database.Open(ctx, database.Settings{
		DatabaseURL:     config.DatabaseURL,
		TursoURL:        config.TursoDatabaseURL,
		TursoToken:      config.TursoAuthToken,
		SQLitePath:      config.SQLitePath,
		MaxOpenConns:    config.DBMaxOpenConns,
		MaxIdleConns:    config.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(config.DBConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(config.DBConnMaxIdleMinutes) * time.Minute,
	}, logger)
	if err != nil {
		logger.LogStartupPhase("database", time.Since(phaseStart), false, map[string]any{"error": err.Error()})
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := schema.NewTableCreator().CreateSchema(ctx, db); err != nil {
		logger.LogStartupPhase("schema", time.Since(phaseStart), false, map[string]any{"error": err.Error()})
		return fmt.Errorf("failed to create schema: %w", err)
	}
	logger.LogStartupPhase("database", time.Since(phaseStart), true, map[string]any{"dialect": string(db.Dialect)})

	// Step 4: Optional feed publishers and traffic mirror
	phaseStart = time.Now()
	publishers := connectPublishers(ctx, logger)
	mirror := connectTrafficMirror(ctx, logger)
	logger.LogStartupPhase("publishers", time.Since(phaseStart), true, map[string]any{
		"publishers": len(publishers),
		"mirror":     mirror != nil,
	})

	// Step 5: Dependency injection container
	appContainer := container.NewContainer(container.Dependencies{
		DB:            db,
		Logger:        logger,
		PerfTracker:   perfTracker,
		Publishers:    publishers,
		TrafficMirror: mirror,
	}, container.SettingsFromConfig())
	logger.Startup().Info("Dependency injection container created with singleton services")

	go appContainer.LiveHub.Run(ctx)

	// Step 6: HTTP server
	httpServer := server.New(config.Port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port,
		"dialect", db.Dialect)

	// Wait for shutdown signal or a listener failure
	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
			cancelBackgroundTasks()
			appContainer.Close()
			return err
		}
	}

	shutdownStart := time.Now()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	// stop accepting requests first; the hub then closes open websockets
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}
	cancelBackgroundTasks()

	select {
	case <-appContainer.LiveHub.Done():
	case <-shutdownCtx.Done():
		logger.Shutdown().Warn("Live hub did not stop before the shutdown deadline")
	}

	if err := appContainer.Close(); err != nil {
		logger.Shutdown().Error("Error closing publishers", "error", err.Error())
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

func newLogger() (*logging.ChanneledLogger, error) {
	cfg := logging.DefaultLoggerConfig()
	cfg.OutputToFile = config.LogToFile
	cfg.LogDirectory = config.LogDirectory
	cfg.JSONFormat = config.LogJSON
	cfg.DefaultLevel = logging.ParseLevel(config.LogLevel)
	return logging.NewChanneledLogger(cfg)
}

// connectPublishers opens every configured broker. A broker that cannot be
// reached is logged and skipped.
func connectPublishers(ctx context.Context, logger *logging.ChanneledLogger) []messaging.Publisher {
	var publishers []messaging.Publisher
	wrap := func(name string, p messaging.Publisher) {
		publishers = append(publishers, messaging.NewAsyncPublisher(name, p, 1024, 5*time.Second, logger))
		logger.Startup().Info("Feed publisher connected", "publisher", name)
	}

	if config.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		p, err := messaging.NewRedisPublisher(connectCtx, config.RedisURL, config.RedisFeedChannel)
		cancel()
		if err != nil {
			logger.Startup().Warn("Redis publisher unavailable", "error", err.Error())
		} else {
			wrap("redis", p)
		}
	}

	if config.NatsURL != "" {
		p, err := messaging.NewNatsPublisher(config.NatsURL, config.NatsFeedSubject)
		if err != nil {
			logger.Startup().Warn("NATS publisher unavailable", "error", err.Error())
		} else {
			wrap("nats", p)
		}
	}

	if len(config.KafkaBrokers) > 0 {
		p, err := messaging.NewKafkaPublisher(config.KafkaBrokers, config.KafkaFeedTopic)
		if err != nil {
			logger.Startup().Warn("Kafka publisher unavailable", "error", err.Error())
		} else {
			wrap("kafka", p)
		}
	}

	return publishers
}

func connectTrafficMirror(ctx context.Context, logger *logging.ChanneledLogger) *analytics.TrafficMirror {
	if config.ClickHouseAddr == "" {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	writer, err := analytics.NewClickHouseWriter(connectCtx, analytics.ClickHouseSettings{
		Addr:        config.ClickHouseAddr,
		Database:    config.ClickHouseDB,
		Username:    config.ClickHouseUser,
		Password:    config.ClickHousePass,
		DialTimeout: config.ClickHouseTimeout,
	})
	if err != nil {
		logger.Startup().Warn("ClickHouse mirror unavailable", "error", err.Error())
		return nil
	}
	logger.Startup().Info("ClickHouse traffic mirror connected", "addr", config.ClickHouseAddr)
	return analytics.NewTrafficMirror(writer, analytics.MirrorConfig{}, logger)
}

// setupLogging configures gin and the bootstrap logger
func setupLogging() {
	if config.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
