package main

import (
	"os"
	"os/signal"
	"syscall"

	"resqtail/internal/app"
	"resqtail/internal/config"
	"resqtail/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("resqtail", "info").WithError(err).Fatal("failed to load configuration")
	}

	log := logger.New("resqtail", cfg.App.LogLevel)

	application, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize application")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.WithField("addr", cfg.App.Port).Info("starting server")
		if err := application.Listen(cfg.App.Port); err != nil {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	<-quit
	log.Info("shutting down server")

	if err := application.Shutdown(); err != nil {
		log.WithError(err).Error("error during shutdown")
	}
	log.Info("server gracefully stopped")
}
