// Package app wires configuration, storage, collaborators and HTTP routes
// into a runnable server.
package app

import (
	"context"
	"fmt"
	"time"

	"resqtail/internal/config"
	"resqtail/internal/database"
	"resqtail/internal/handlers"
	"resqtail/internal/metrics"
	"resqtail/internal/middleware"
	"resqtail/internal/notify"
	"resqtail/internal/realtime"
	"resqtail/internal/repositories"
	"resqtail/internal/services"
	"resqtail/internal/session"
	"resqtail/internal/storage"
	"resqtail/pkg/rabbitmq"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const bodyLimit = storage.MaxImageSize + 2*1024*1024

// Queue is the broker used for report-created events.
type Queue interface {
	PublishReportCreated(event interface{}) error
	ConsumeReportEvents(handler func(body []byte) error) error
	Close() error
}

// Deps are the external resources the application runs on. Only DB is
// required; nil collaborators disable their feature.
type Deps struct {
	DB       *gorm.DB
	Sessions session.Store
	Redis    *redis.Client
	Queue    Queue
	Uploader storage.ImageUploader
	Mailer   notify.Mailer
}

// App is a fully wired server.
type App struct {
	Fiber    *fiber.App
	Auth     *services.AuthService
	Reports  *services.ReportService
	Notifier *notify.Notifier
	Hub      *realtime.Hub
	Metrics  *metrics.Metrics

	waiter interface{ Wait() }
	cancel context.CancelFunc
	deps   Deps
	log    *logrus.Entry
}

// New opens every resource named by cfg and builds the App.
func New(cfg *config.Config, log *logrus.Entry) (*App, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	deps := Deps{DB: db}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		deps.Redis = rdb
		deps.Sessions = session.NewRedisStore(rdb)
		log.WithField("addr", cfg.Redis.Addr).Info("using Redis for sessions and realtime events")
	}

	if cfg.RabbitMQ.URL != "" {
		client, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQ.URL, Queue: cfg.RabbitMQ.Queue})
		if err != nil {
			return nil, err
		}
		deps.Queue = client
	}

	if cfg.Storage.Enabled() {
		deps.Uploader = storage.NewS3Uploader(storage.Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			Bucket:          cfg.Storage.Bucket,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			PublicURL:       cfg.Storage.PublicURL,
		})
	} else {
		log.Warn("S3 storage not configured, photo uploads will fail")
	}

	smtp := notify.SMTPConfig{
		Host: cfg.SMTP.Host,
		Port: cfg.SMTP.Port,
		User: cfg.SMTP.User,
		Pass: cfg.SMTP.Pass,
		From: cfg.SMTP.From,
	}
	if smtp.Enabled() {
		deps.Mailer = notify.NewSMTPMailer(smtp)
	}

	return Build(cfg, deps, log)
}

// Build wires handlers and services over deps.
func Build(cfg *config.Config, deps Deps, log *logrus.Entry) (*App, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()
	hub := realtime.NewHub()

	userRepo := repositories.NewGORMUserRepository(deps.DB)
	reportRepo := repositories.NewGORMReportRepository(deps.DB)

	var broadcaster notify.Broadcaster = hub
	if deps.Redis != nil {
		broadcaster = realtime.NewRedisBroadcaster(deps.Redis, realtime.DefaultChannel)
		go func() {
			if err := realtime.Relay(ctx, deps.Redis, realtime.DefaultChannel, hub, log); err != nil {
				log.WithError(err).Error("realtime relay stopped")
			}
		}()
	}

	notifier := notify.NewNotifier(userRepo, deps.Mailer, broadcaster, m, log)

	async := notify.NewAsyncDispatcher(notifier, cfg.App.NotifyTimeout)
	var dispatcher notify.Dispatcher = async
	var waiter interface{ Wait() } = async
	if deps.Queue != nil {
		queued := notify.NewQueueDispatcher(deps.Queue, async, log)
		dispatcher, waiter = queued, queued
		if err := deps.Queue.ConsumeReportEvents(notify.MessageHandler(notifier, cfg.App.NotifyTimeout, log)); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start report consumer: %w", err)
		}
	}

	sessions := session.NewManager(deps.Sessions, cfg.App.SessionSecret, cfg.App.SessionTTL)
	authService := services.NewAuthService(userRepo, sessions, m, log)
	reportService := services.NewReportService(reportRepo, deps.Uploader, dispatcher, m, log)

	authHandler := handlers.NewAuthHandler(authService, cfg.App.SecureCookies, log)
	reportHandler := handlers.NewReportHandler(reportService, log)
	eventsHandler := handlers.NewEventsHandler(hub)

	f := fiber.New(fiber.Config{
		AppName:   "resqtail",
		BodyLimit: bodyLimit,
	})
	f.Use(recover.New())
	f.Use(logger.New())

	f.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Report injured animals nearby. Volunteers will take care of them.",
			"links": fiber.Map{
				"register":  "/register",
				"login":     "/login",
				"dashboard": "/dashboard",
				"report":    "/report",
			},
		})
	})
	f.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	f.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	authHandler.RegisterRoutes(f)

	protected := f.Group("", middleware.AuthRequired(authService, log))
	reportHandler.RegisterRoutes(protected)
	eventsHandler.RegisterRoutes(protected)

	return &App{
		Fiber:    f,
		Auth:     authService,
		Reports:  reportService,
		Notifier: notifier,
		Hub:      hub,
		Metrics:  m,
		waiter:   waiter,
		cancel:   cancel,
		deps:     deps,
		log:      log,
	}, nil
}

// Listen serves HTTP on addr until Shutdown.
func (a *App) Listen(addr string) error {
	return a.Fiber.Listen(addr)
}

// WaitNotifications blocks until dispatched notifications finished.
func (a *App) WaitNotifications() {
	a.waiter.Wait()
}

// Shutdown ends event streams, stops the server, lets pending notifications
// finish and closes the broker and Redis connections. Closing the broker
// drains its consumer, so queued fan-outs are done before the DB closes.
func (a *App) Shutdown() error {
	a.Hub.Close()
	err := a.Fiber.ShutdownWithTimeout(10 * time.Second)
	a.WaitNotifications()
	a.cancel()

	if a.deps.Queue != nil {
		if qErr := a.deps.Queue.Close(); qErr != nil {
			a.log.WithError(qErr).Warn("failed to close RabbitMQ client")
		}
	}
	if a.deps.Redis != nil {
		if rErr := a.deps.Redis.Close(); rErr != nil {
			a.log.WithError(rErr).Warn("failed to close Redis client")
		}
	}
	if sqlDB, dbErr := a.deps.DB.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	return err
}
