package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-scheduler/internal/app"
	"github.com/hackgods/clinic-appointment-scheduler/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduler/internal/config"
	"github.com/hackgods/clinic-appointment-scheduler/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Setup(cfg.Env, cfg.LogLevel, "reminder-worker")
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("batch", cfg.WorkerBatch).
		Msg("reminder-worker starting up")

	if cfg.StoreBackend != config.StorePostgres {
		logger.Warn().Msg("in-memory store is private to this process, no reminders will be found")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, prometheus.NewRegistry())
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	notifier := appointment.LogNotifier{}

	// Run once at startup
	runOnce(rootCtx, a.Service, notifier, cfg.WorkerBatch)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Service, notifier, cfg.WorkerBatch)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, notifier appointment.Notifier, batch int) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := svc.SendDueReminders(runCtx, notifier, batch)
	if err != nil {
		log.Error().Err(err).Msg("reminder run error")
		return
	}
	log.Info().Int("sent", sent).Dur("took", time.Since(start)).Msg("reminder run complete")
}
