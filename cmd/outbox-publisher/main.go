package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/db"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/metrics"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox/registry"
	"github.com/mdmvenezuela/mdm-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

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
		"topic":       cfg.PubSub.DeviceEventsTopic,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		return err
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		return multierr.Append(err, dbClient.Close())
	}
	defer func() {
		if closeErr := multierr.Combine(pubsubClient.Close(), dbClient.Close()); closeErr != nil {
			logg.Error(context.Background(), "error releasing resources", closeErr)
			err = multierr.Append(err, closeErr)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(ctx, "failed to build event registry", err)
		return err
	}

	var relayMetrics *metrics.OutboxMetrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		relayMetrics = metrics.NewOutboxMetrics(reg)
		go func() {
			if serveErr := metrics.Serve(ctx, cfg.Metrics.WorkerAddr, reg, logg); serveErr != nil {
				logg.Error(ctx, "metrics listener stopped", serveErr)
			}
		}()
	}

	conn := dbClient.DB()
	relay, err := NewRelay(RelayParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(conn),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(conn),
		Metrics:       relayMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox relay", err)
		return err
	}

	logg.Info(ctx, "starting outbox relay")
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox relay stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "outbox relay shutting down gracefully")
	return nil
}
