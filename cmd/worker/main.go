package main

import (
	"sketchbook/internal/config"
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
	if cfg.RedisAddr == "" {
		logrus.Fatal("REDIS_ADDR is not set")
	}

	pipeline, cleanup := server.NewLocalPipelineFromConfig(cfg)
	defer cleanup()

	worker := server.NewWorkerServer(cfg)
	logrus.WithFields(logrus.Fields{
		"queue":       cfg.JobQueueName,
		"concurrency": cfg.WorkerConcurrency,
	}).Info("render worker starting")
	if err := worker.Run(server.NewWorkerMux(pipeline)); err != nil {
		logrus.WithError(err).Fatal("worker stopped")
	}
}
