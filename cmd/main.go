package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/application/pipeline"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/config"
	redisstore "github.com/baechuer/real-time-ressys/services/dataset-service/internal/infrastructure/caching/redis"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/infrastructure/db/postgres"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/infrastructure/messaging/rabbitmq"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/infrastructure/storage"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/scheduler"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/transport/http/handlers"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/transport/http/router"
)

// sysClock implements pipeline.Clock using system time
type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now().UTC() }

// App holds all dependencies for the service
type App struct {
	Config  *config.Config
	Server  *http.Server
	DB      *sql.DB
	Redis   *redisstore.Client
	Service *pipeline.Service

	S3        *storage.S3Sink
	Publisher *rabbitmq.Publisher
	Consumer  *rabbitmq.Consumer
	Scheduler *scheduler.Scheduler
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info", "console")
		zlog.Fatal().Err(err).Msg("config load failed")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if u, err := url.Parse(cfg.DatabaseURL); err == nil {
		zlog.Info().
			Str("db_user", u.User.Username()).
			Str("db_host", u.Host).
			Str("db_db", u.Path).
			Msg("db config loaded")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("db open failed")
	}
	defer db.Close()

	{
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			zlog.Fatal().Err(err).Msg("db ping failed")
		}
	}

	rdb, err := redisstore.New(cfg.RedisURL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("redis connect failed")
	}
	defer rdb.Close()

	app := NewApp(cfg, db, rdb)
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if app.S3 != nil {
		if err := app.S3.EnsureBucket(ctx); err != nil {
			zlog.Fatal().Err(err).Msg("s3 bucket check failed")
		}
	}
	if app.Consumer != nil {
		if err := app.Consumer.Start(ctx); err != nil {
			zlog.Fatal().Err(err).Msg("consumer start failed")
		}
	}
	if app.Scheduler != nil {
		app.Scheduler.Start()
	}

	go func() {
		zlog.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("server crashed")
		}
	}()

	<-ctx.Done()
	zlog.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if app.Scheduler != nil {
		app.Scheduler.Stop(shutdownCtx)
	}
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("http shutdown failed")
	}
	if app.Consumer != nil {
		_ = app.Consumer.Close()
	}
	// in-flight builds get the rest of the deadline, then are cancelled and marked failed
	if err := app.Service.Shutdown(shutdownCtx); err != nil {
		zlog.Warn().Err(err).Msg("dataset builds interrupted by shutdown")
	}
}

func NewApp(cfg *config.Config, db *sql.DB, rdb *redisstore.Client) *App {
	app := &App{Config: cfg, DB: db, Redis: rdb}

	// 1) Infrastructure
	sinks := []pipeline.DatasetSink{postgres.NewTrainingSink(db)}

	if cfg.S3Bucket != "" {
		client, err := storage.NewS3Client(cfg)
		if err != nil {
			zlog.Fatal().Err(err).Msg("s3 client init failed")
		}
		app.S3 = storage.NewS3Sink(client, cfg.S3Bucket, cfg.S3Prefix, zlog.Logger)
		sinks = append(sinks, app.S3)
		zlog.Info().Str("bucket", cfg.S3Bucket).Str("prefix", cfg.S3Prefix).Msg("s3 sink enabled")
	} else {
		zlog.Warn().Msg("S3_BUCKET empty: partitions are written to postgres only")
	}

	var pub pipeline.EventPublisher = pipeline.NoopPublisher{}
	if cfg.RabbitURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			zlog.Fatal().Err(err).Msg("rabbit publisher init failed")
		}
		app.Publisher = p
		pub = p
		zlog.Info().Str("exchange", cfg.RabbitExchange).Msg("rabbit publisher ready")
	} else {
		zlog.Warn().Msg("RABBIT_URL empty: dataset.built will not be published")
	}

	// 2) Application
	app.Service = pipeline.New(pipeline.Deps{
		Source:    postgres.NewSource(db),
		Sinks:     sinks,
		Histories: redisstore.NewHistoryStore(rdb, cfg.HistoryTTL),
		Runs:      redisstore.NewRunStore(rdb),
		Lock:      redisstore.NewLocker(rdb, cfg.RunLockTTL),
		Publisher: pub,
		Clock:     sysClock{},

		LockRetry:    cfg.RunLockRetry,
		QueueTimeout: cfg.RunQueueTimeout,
	}, cfg.HistoryMaxActions, cfg.RunTimeout)

	// 3) Triggers
	if cfg.RabbitURL != "" {
		c, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitExchange, app.Service)
		if err != nil {
			zlog.Fatal().Err(err).Msg("rabbit consumer init failed")
		}
		app.Consumer = c
	}
	if cfg.ScheduleEnabled {
		s, err := scheduler.New(cfg.ScheduleCron, app.Service, sysClock{})
		if err != nil {
			zlog.Fatal().Err(err).Msg("scheduler init failed")
		}
		app.Scheduler = s
	}

	// 4) Transport
	h := handlers.NewRunsHandler(app.Service)
	z := handlers.NewHealthHandler(map[string]handlers.Checker{
		"postgres": db.PingContext,
		"redis":    rdb.Ping,
	})
	httpHandler := router.New(h, z, cfg)

	// 5) Server
	app.Server = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return app
}

func (a *App) Close() {
	if a.Consumer != nil {
		_ = a.Consumer.Close()
	}
	if a.Publisher != nil {
		_ = a.Publisher.Close()
	}
}
