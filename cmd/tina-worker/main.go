package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/phoen-ix/bank-of-tina/internal/amqp"
	"github.com/phoen-ix/bank-of-tina/internal/config"
	"github.com/phoen-ix/bank-of-tina/internal/worker"
)

func main() {
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))

	cfg := config.Load()
	if cfg.AMQPURL == "" {
		slog.Error("AMQP_URL is required for the audit worker")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		slog.Error("Failed to connect to AMQP", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	auditPath := os.Getenv("AUDIT_LOG_PATH")
	if auditPath == "" {
		auditPath = "./data/audit.log"
	}
	auditWorker, err := worker.NewAuditWorker(auditPath)
	if err != nil {
		slog.Error("Failed to open audit log", "error", err, "path", auditPath)
		os.Exit(1)
	}
	defer auditWorker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Audit worker started", "queue", cfg.AMQPQueue, "audit_log", auditPath)
	if err := auditWorker.Run(ctx, client); err != nil && ctx.Err() == nil {
		slog.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Audit worker stopped")
}
