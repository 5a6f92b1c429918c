package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipstream/account-service/internal/auth"
	"github.com/clipstream/account-service/internal/config"
	"github.com/clipstream/account-service/internal/event"
	handler "github.com/clipstream/account-service/internal/handler/http"
	"github.com/clipstream/account-service/internal/repository/postgres"
	"github.com/clipstream/account-service/internal/service"
	"github.com/clipstream/account-service/internal/storage"
	"github.com/clipstream/account-service/internal/storage/memory"
	"github.com/clipstream/account-service/internal/storage/s3"
	"github.com/clipstream/account-service/migrations"
	"github.com/clipstream/account-service/pkg/database"
	"github.com/clipstream/account-service/pkg/health"
	pkgkafka "github.com/clipstream/account-service/pkg/kafka"
)

// App wires together all dependencies and runs the account service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	producer   *pkgkafka.Producer
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Parse token expiry durations before acquiring any connections so a bad
	// value cannot leak a pool or producer.
	accessExpiry, err := time.ParseDuration(cfg.AccessTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("parse access token expiry %q: %w", cfg.AccessTokenExpiry, err)
	}
	refreshExpiry, err := time.ParseDuration(cfg.RefreshTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("parse refresh token expiry %q: %w", cfg.RefreshTokenExpiry, err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL

	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "account")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Media storage backend.
	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		if cerr := producer.Close(); cerr != nil {
			logger.Error("kafka producer close error", slog.String("error", cerr.Error()))
		}
		pool.Close()
		return nil, fmt.Errorf("init storage backend: %w", err)
	}
	logger.Info("storage backend initialized", slog.String("backend", cfg.StorageBackend))

	// Build the dependency graph.
	tokens := auth.NewTokenManager(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, accessExpiry, refreshExpiry)
	userRepo := postgres.NewUserRepository(pool)
	eventProducer := event.NewProducer(producer, logger)
	accountService := service.NewAccountService(userRepo, uploader, tokens, eventProducer, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		Service: accountService,
		Repo:    userRepo,
		Tokens:  tokens,
		Health:  healthHandler,
		Logger:  logger,
		CORS: handler.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		producer:   producer,
		httpServer: httpServer,
	}, nil
}

func newUploader(ctx context.Context, cfg *config.Config) (storage.Uploader, error) {
	switch cfg.StorageBackend {
	case "s3":
		return s3.New(ctx, s3.Config{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			BaseEndpoint:  cfg.S3Endpoint,
			PublicBaseURL: cfg.MediaBaseURL,
		})
	default:
		return memory.New(cfg.MediaBaseURL), nil
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order: HTTP server first so
// in-flight requests drain, then the Kafka producer, then the pool.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
