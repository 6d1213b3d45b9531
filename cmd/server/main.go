/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave allocation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, apply flag overrides
  2. Initialize SQLite store (and apply the seed file, if any)
  3. Connect RabbitMQ (notices) and Redis (sweep lease) when configured
  4. Build the engine services and the API handler
  5. Start the sweep and the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides SERVER_PORT)
  -db      SQLite database path (overrides DATABASE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (SERVER_SHUTDOWN_TIMEOUT)
  4. Flush queued notices, close connections
  5. Exit

EXAMPLES:
  # Run with file database and a seed
  SEED_FILE=./seed.yaml ./server -db="./data/leave.db"

  # Run with in-memory database
  ./server -db=":memory:"

ENVIRONMENT:
  See config/config.go. RABBITMQ_DSN and REDIS_HOST are optional; without
  them notices are logged and every replica sweeps.

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Periodic sweep
  - factory/engine.go: Service wiring
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/MiltronBee/leave-engine/api"
	"github.com/MiltronBee/leave-engine/config"
	"github.com/MiltronBee/leave-engine/factory"
	"github.com/MiltronBee/leave-engine/notify"
	"github.com/MiltronBee/leave-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	flag.Parse()

	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	// Notices go to RabbitMQ when configured, otherwise to the log
	var notifier notify.Notifier = notify.Log{Logger: logger}
	if cfg.RabbitMQ.DSN != "" {
		conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("failed to open channel: %w", err)
		}
		defer ch.Close()

		if _, err := notify.DeclareQueue(ch, cfg.RabbitMQ.Queue); err != nil {
			return fmt.Errorf("failed to declare queue: %w", err)
		}
		timeout := time.Duration(cfg.RabbitMQ.PublishTimeout) * time.Second
		async := notify.NewAsync(notify.NewAMQPPublisher(ch, cfg.RabbitMQ.Queue, timeout), 256, timeout, logger)
		defer async.Close()
		notifier = async
		logger.Info("publishing notices", "queue", cfg.RabbitMQ.Queue)
	}

	engine, err := factory.NewEngine(ctx, cfg, store, factory.EngineOptions{Notifier: notifier, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	metrics := api.NewMetrics()
	handler, err := api.NewHandler(api.Deps{
		Store:     store,
		Directory: store,
		Resolver:  engine.Resolver,
		Table:     engine.Table,
		Programs:  engine.Programs,
		Planner:   engine.Planner,
		Scheduler: engine.Scheduler,
		Metrics:   metrics,
		Logger:    logger,
		Ping:      store.Ping,
	})
	if err != nil {
		return fmt.Errorf("failed to build handler: %w", err)
	}

	// Sweep: one replica at a time when Redis is configured
	sweep := api.NewSweepScheduler(engine.Programs, engine.Scheduler)
	sweep.Interval = cfg.Sweep.Interval
	sweep.Metrics = metrics
	sweep.Logger = logger
	if cfg.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		sweep.Lock = api.NewRedisLock(rdb, "leave:sweep", time.Duration(cfg.Redis.LockTTL)*time.Second)
	}
	sweep.Start()
	defer sweep.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", *dbPath, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	sweep.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
