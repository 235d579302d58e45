package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/mailqueue/internal/config"
	"github.com/kursadbilgin/mailqueue/internal/domain"
	"github.com/kursadbilgin/mailqueue/internal/events"
	"github.com/kursadbilgin/mailqueue/internal/handler"
	"github.com/kursadbilgin/mailqueue/internal/infra/postgresql"
	"github.com/kursadbilgin/mailqueue/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/mailqueue/internal/infra/redis"
	"github.com/kursadbilgin/mailqueue/internal/observability"
	"github.com/kursadbilgin/mailqueue/internal/provider"
	"github.com/kursadbilgin/mailqueue/internal/ratelimit"
	"github.com/kursadbilgin/mailqueue/internal/repository"
	"github.com/kursadbilgin/mailqueue/internal/service"
	"github.com/kursadbilgin/mailqueue/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the process-wide dependencies shared by every command.
type application struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	rdb     *redis.Client
	events  *events.RabbitMQPublisher
	metrics *observability.Metrics

	emails   *repository.GormEmailRepo
	attempts *repository.GormAttemptRepo
}

func bootstrap(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}

	app := &application{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		metrics:  observability.NewMetrics(),
		emails:   repository.NewGormEmailRepo(db),
		attempts: repository.NewGormAttemptRepo(db),
	}

	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("redis initialization failed: %w", err)
		}
		app.rdb = rdb
	}

	if cfg.EventsURL != "" {
		broker, err := events.NewRabbitMQ(ctx, cfg.EventsURL)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		app.events = events.NewRabbitMQPublisher(broker)
	}

	return app, nil
}

func (a *application) close() {
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.logger.Sync()
}

func (a *application) migrate() error {
	if err := migrations.Migrate(a.db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	a.logger.Info("database migrations applied")
	return nil
}

func (a *application) queueService() (*service.QueueService, error) {
	svc, err := service.NewQueueService(a.emails, a.attempts, a.logger.Named("queue"))
	if err != nil {
		return nil, err
	}
	svc.SetMetrics(a.metrics)
	return svc, nil
}

func (a *application) dispatcher() (*service.Dispatcher, error) {
	mailTransport, err := newMailTransport(a.cfg)
	if err != nil {
		return nil, err
	}

	d, err := service.NewDispatcher(
		a.emails,
		a.attempts,
		mailTransport,
		a.rateLimiter(),
		service.DispatcherConfig{
			BatchSize:         a.cfg.PollBatchSize,
			MaxAttempts:       a.cfg.MaxAttempts,
			Concurrency:       a.cfg.DispatchConcurrency,
			SendTimeout:       a.cfg.SendTimeout,
			StaleSendingAfter: a.cfg.StaleSendingAfter,
			Backoff:           domain.NewBackoffPolicy(),
		},
		a.logger.Named("dispatcher"),
	)
	if err != nil {
		return nil, err
	}
	d.SetMetrics(a.metrics)
	if a.events != nil {
		d.SetEventPublisher(a.events)
	}

	a.logger.Info("mail transport configured",
		zap.String("transport", a.cfg.MailTransport),
		zap.String("endpoint", mailTransport.Name()),
	)
	return d, nil
}

// rateLimiter shares the send budget across instances through redis when it
// is configured, otherwise each process keeps its own bucket.
func (a *application) rateLimiter() ratelimit.RateLimiter {
	if a.rdb != nil {
		limiter, err := infraredis.NewRedisRateLimiter(a.rdb, a.cfg.RateLimitPerSec)
		if err == nil {
			return limiter
		}
		a.logger.Warn("redis rate limiter unavailable, using local limiter", zap.Error(err))
	}
	return ratelimit.NewLocalRateLimiter(a.cfg.RateLimitPerSec)
}

func newMailTransport(cfg *config.Config) (provider.Transport, error) {
	switch cfg.MailTransport {
	case config.TransportWebhook:
		return provider.NewWebhookTransport(cfg.MailWebhookURL, cfg.SMTPFrom)
	default:
		return provider.NewSMTPTransport(provider.SMTPConfig{
			Host:               cfg.SMTPHost,
			Port:               cfg.SMTPPort,
			User:               cfg.SMTPUser,
			Password:           cfg.SMTPPassword,
			FromAddress:        cfg.SMTPFrom,
			FromName:           cfg.SMTPFromName,
			InsecureSkipVerify: cfg.SMTPInsecureSkipVerify,
		})
	}
}

func (a *application) httpServer(svc handler.EmailService) (*fiber.App, error) {
	sqlDB, err := a.db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	server := fiber.New(fiber.Config{
		AppName:               "mailqueue",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(a.logger.Named("http")),
	})
	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(a.metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(server, sqlDB, a.rdb)
	server.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))
	if err := handler.RegisterEmailRoutes(server, svc); err != nil {
		return nil, err
	}

	return server, nil
}

func (a *application) listenAddr() string {
	return ":" + strconv.Itoa(a.cfg.APIPort)
}
