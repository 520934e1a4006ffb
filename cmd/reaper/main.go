// Command reaper purges expired OTP challenges, used reset tokens and old security events from Postgres.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/infra/app"
	"github.com/arklim/auth-core/internal/infra/config"
	"github.com/arklim/auth-core/internal/infra/logger"
	"github.com/arklim/auth-core/internal/infra/reaper"
)

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage.Driver != config.StorageDriverPostgres {
		log.Fatalf("reaper requires the postgres storage driver, got %q", cfg.Storage.Driver)
	}

	zlog, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	storage, err := app.OpenStorage(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to open storage", zap.Error(err))
	}
	defer storage.Close()

	settings := app.RetentionSettings(cfg)
	// Counters live in Redis or inside each API process, never here.
	settings.CountersSchedule = ""
	jobs := reaper.NewJobs(storage.Otps, storage.SecurityEvents, storage.ResetTokens, settings, zlog)

	if *once {
		if err := jobs.RunAll(ctx); err != nil {
			zlog.Error("retention run failed", zap.Error(err))
			storage.Close()
			os.Exit(1)
		}
		return
	}

	scheduler := reaper.NewScheduler(jobs, zlog)
	if err := scheduler.Start(); err != nil {
		zlog.Fatal("failed to start scheduler", zap.Error(err))
	}
	zlog.Info("reaper started",
		zap.String("otp_schedule", settings.OtpSchedule),
		zap.String("events_schedule", settings.EventsSchedule),
		zap.String("tokens_schedule", settings.TokensSchedule),
	)

	<-ctx.Done()

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.App.ShutdownTimeout):
		zlog.Warn("reaper jobs still running at shutdown")
	}
}
