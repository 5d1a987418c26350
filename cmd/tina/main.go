package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/phoen-ix/bank-of-tina/internal/amqp"
	"github.com/phoen-ix/bank-of-tina/internal/backup"
	"github.com/phoen-ix/bank-of-tina/internal/config"
	"github.com/phoen-ix/bank-of-tina/internal/email"
	apphttp "github.com/phoen-ix/bank-of-tina/internal/http"
	"github.com/phoen-ix/bank-of-tina/internal/scheduler"
	"github.com/phoen-ix/bank-of-tina/internal/services"
	"github.com/phoen-ix/bank-of-tina/internal/storage"
)

func main() {
	// Load .env for local development; in containers the environment
	// comes preconfigured.
	_ = godotenv.Load()

	setupLogging()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := connectWithRetry(cfg)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	// AMQP is optional: without a URL the ledger runs with no event
	// sink and everything else works the same.
	var events services.EventSink
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			slog.Error("Failed to connect to AMQP", "error", err, "url", cfg.AMQPURL)
			os.Exit(1)
		}
		defer amqpClient.Close()
		events = amqpClient
		slog.Info("AMQP event publishing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		slog.Info("AMQP disabled - no AMQP_URL provided")
	}

	settings := services.NewSettings(store)
	ledger := services.NewLedger(store, events)
	analytics := services.NewAnalytics(store)
	collect := services.NewAutoCollect(store, settings)
	emails := email.NewService(store, settings, email.NewSMTPSender(settings))
	backups := backup.NewService(store, settings, cfg.SQLiteDBPath,
		cfg.BackupDir, cfg.UploadDir, cfg.BackupCommandTimeout)

	sched := scheduler.New()
	jobs := scheduler.NewJobs(sched, settings, emails, collect, backups)
	if err := jobs.Restore(context.Background()); err != nil {
		slog.Warn("Failed to restore scheduled jobs", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Store:     store,
		Settings:  settings,
		Ledger:    ledger,
		Analytics: analytics,
		Collect:   collect,
		Emails:    emails,
		Backups:   backups,
		Jobs:      jobs,
		Sched:     sched,
		UploadDir: cfg.UploadDir,
		IconsDir:  cfg.IconsDir,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped gracefully")
}

func setupLogging() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))
}

// connectWithRetry opens the repository with exponential backoff so the
// app survives a slow volume mount at container start.
func connectWithRetry(cfg *config.Config) (*storage.SQLiteRepository, error) {
	var store *storage.SQLiteRepository
	var err error
	delay := time.Second
	for attempt := 1; attempt <= cfg.DBConnectAttempts; attempt++ {
		store, err = storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err == nil {
			return store, nil
		}
		slog.Warn("Database open failed",
			"attempt", attempt, "max_attempts", cfg.DBConnectAttempts, "error", err)
		if attempt < cfg.DBConnectAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return nil, err
}
