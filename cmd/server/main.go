package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"sketchbook/internal/config"
	"sketchbook/internal/db"
	"sketchbook/internal/server"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		logrus.WithError(err).Warn("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	config.ConfigureLogger(cfg)

	var store server.Storage = server.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg)
		if err != nil {
			logrus.WithError(err).Fatal("database connection failed")
		}
		if err := db.Migrate(conn); err != nil {
			logrus.WithError(err).Fatal("database migration failed")
		}
		store = server.NewGormStore(conn)
	} else {
		logrus.Warn("DATABASE_URL not set, rooms are kept in memory")
	}

	pipeline, closePipeline, err := server.NewPipeline(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("image pipeline setup failed")
	}
	defer closePipeline()

	srv := server.New(store, pipeline, cfg)
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":      cfg.Addr(),
			"job_queue": cfg.JobQueue,
		}).Info("sketchbook server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
	srv.Close()
}
