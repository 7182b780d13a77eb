package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storybook-server/internal/config"
	dbmigrations "storybook-server/internal/database"
	delivery "storybook-server/internal/delivery/http"
	ws "storybook-server/internal/delivery/websocket"
	"storybook-server/internal/gateway"
	"storybook-server/internal/messaging"
	"storybook-server/internal/prompts"
	"storybook-server/internal/repository"
	"storybook-server/internal/service"
	"storybook-server/internal/storage"
	"storybook-server/pkg/database"
	"storybook-server/pkg/logger"
	"storybook-server/pkg/taskmanager"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	// pkg/taskmanager и pkg/migration пишут через zerolog
	logger.SetupZerolog(cfg.Logger)

	if err := run(cfg, log); err != nil {
		log.Fatal("Server stopped with error", zap.Error(err))
	}
	log.Info("Server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting storybook server", zap.String("env", cfg.AppEnv), zap.String("port", cfg.HTTP.Port))

	// --- PostgreSQL ---
	log.Info("Connecting to database", zap.String("dsn", cfg.Database.MaskedDSN()))
	db, err := database.New(ctx, database.Config{
		DSN:            cfg.Database.GetDSN(),
		MaxConns:       cfg.Database.MaxConns,
		ConnectTimeout: 10 * time.Second,
	}, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := dbmigrations.ApplyMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// --- Prompts и AI ---
	templates := prompts.EmbeddedTemplates()
	if cfg.PromptsDir != "" {
		templates = os.DirFS(cfg.PromptsDir)
		log.Info("Using prompt templates from directory", zap.String("dir", cfg.PromptsDir))
	}
	composer, err := prompts.NewComposer(templates)
	if err != nil {
		return fmt.Errorf("prompts: %w", err)
	}
	ai := gateway.NewProvider(cfg.AI, log)
	generator := service.NewGenerator(ai, composer, log)

	// --- Необязательные зависимости ---
	snapshots := initSnapshotStore(ctx, cfg.Redis, log)
	publisher, closePublisher := initPublisher(cfg.RabbitMQ, log)
	defer closePublisher()
	images := initImageStore(ctx, cfg.MinIO, log)

	// --- Книги ---
	books := repository.NewCachedBookRepository(
		repository.NewPgBookRepository(db.Pool, log),
		cfg.BookCache.TTL, cfg.BookCache.CleanupInterval, log,
	)
	bookService := service.NewBookService(books, images, publisher, log)

	// --- Запуски ---
	tm := taskmanager.New(taskmanager.Config{
		MaxTasks:    cfg.Runs.MaxActive,
		Topic:       service.RunTopic,
		MessageType: service.RunUpdateMessage,
	})
	hub := ws.NewManager(cfg.CORS.AllowedOrigins, log)
	tm.SetNotifier(hub)
	runService := service.NewRunService(generator, tm, snapshots, bookService, log)

	// --- HTTP ---
	handler := delivery.NewHandler(generator, runService, bookService, log)
	router := delivery.NewRouter(delivery.RouterConfig{
		Debug:          cfg.AppEnv == "development",
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		EnableMetrics:  true,
	}, handler, hub, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Runs.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := runService.Cleanup(cfg.Runs.Retention); n > 0 {
					log.Info("Finished runs removed", zap.Int("count", n))
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := tm.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("task manager shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// initSnapshotStore подключает Redis для зеркала снимков. Без Redis снимки живут только в памяти.
func initSnapshotStore(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) service.SnapshotStore {
	if cfg.Addr == "" {
		log.Info("Redis is not configured, run snapshots are kept in memory only")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis is unavailable, run snapshots are kept in memory only", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = client.Close()
		return nil
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.Addr))
	return repository.NewRunSnapshotStore(client, cfg.SnapshotTTL, log)
}

// initPublisher подключает RabbitMQ для событий book.created.
func initPublisher(cfg config.RabbitMQConfig, log *zap.Logger) (messaging.BookEventPublisher, func()) {
	noop := func() {}
	if cfg.URL == "" {
		log.Info("RabbitMQ is not configured, book events are disabled")
		return messaging.NoopPublisher{}, noop
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		log.Warn("RabbitMQ is unavailable, book events are disabled", zap.Error(err))
		return messaging.NoopPublisher{}, noop
	}
	publisher, err := messaging.NewRabbitMQBookPublisher(conn, cfg.BookExchange, log)
	if err != nil {
		log.Warn("Failed to set up book event publisher", zap.Error(err))
		_ = conn.Close()
		return messaging.NoopPublisher{}, noop
	}
	return publisher, func() {
		_ = publisher.Close()
		_ = conn.Close()
	}
}

// initImageStore подключает MinIO для выгрузки встроенных изображений.
func initImageStore(ctx context.Context, cfg config.MinIOConfig, log *zap.Logger) service.ImageOffloader {
	if cfg.Endpoint == "" {
		return nil
	}
	store, err := storage.NewImageStore(ctx, cfg, log)
	if err != nil {
		log.Warn("MinIO is unavailable, inline images are stored as is", zap.Error(err))
		return nil
	}
	return store
}
