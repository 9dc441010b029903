package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/mdmvenezuela/mdm-backend/internal/cron"
	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/telemetry"
	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/db"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/metrics"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox"
	"github.com/mdmvenezuela/mdm-backend/pkg/redis"
)

const (
	presenceEvery          = time.Minute
	locationRetentionEvery = 24 * time.Hour
	outboxRetentionEvery   = 6 * time.Hour
)

const serviceKind = "cron-worker"

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

func run() (err error) {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if loadErr := godotenv.Load(); loadErr != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return err
	}
	cfg.Service.Kind = serviceKind
	logg = logger.ForApp(serviceKind, cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		return err
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		return multierr.Append(err, dbClient.Close())
	}
	defer func() {
		if closeErr := multierr.Combine(redisClient.Close(), dbClient.Close()); closeErr != nil {
			logg.Error(context.Background(), "error releasing resources", closeErr)
			err = multierr.Append(err, closeErr)
		}
	}()

	var jobMetrics *metrics.JobMetrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		jobMetrics = metrics.NewJobMetrics(reg)
		go func() {
			if serveErr := metrics.Serve(ctx, cfg.Metrics.WorkerAddr, reg, logg); serveErr != nil {
				logg.Error(ctx, "metrics listener stopped", serveErr)
			}
		}()
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron"), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		return err
	}
	scheduler, err := cron.NewScheduler(cron.SchedulerConfig{
		Logger:  logg,
		Lock:    lock,
		Metrics: jobMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron scheduler", err)
		return err
	}
	if err := scheduleJobs(scheduler, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		return err
	}

	logg.Info(ctx, "starting cron worker")
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func scheduleJobs(scheduler *cron.Scheduler, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) error {
	conn := dbClient.DB()

	presence, err := cron.NewPresenceSweepJob(cron.PresenceSweepJobParams{
		Logger:       logg,
		Devices:      devices.NewRepository(conn),
		OfflineAfter: cfg.Presence.OfflineAfter,
	})
	if err != nil {
		return err
	}
	locations, err := cron.NewLocationRetentionJob(cron.LocationRetentionJobParams{
		Logger:    logg,
		Locations: telemetry.NewRepository(conn),
		Days:      cfg.Retention.LocationDays,
	})
	if err != nil {
		return err
	}
	outboxPurge, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(conn),
		Days:       cfg.Retention.OutboxDays,
	})
	if err != nil {
		return err
	}

	scheduler.Every(presenceEvery, presence)
	scheduler.Every(locationRetentionEvery, locations)
	scheduler.Every(outboxRetentionEvery, outboxPurge)
	return nil
}
