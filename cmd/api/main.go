package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/mdmvenezuela/mdm-backend/api/routes"
	"github.com/mdmvenezuela/mdm-backend/internal/auth"
	"github.com/mdmvenezuela/mdm-backend/internal/commands"
	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/enrollment"
	"github.com/mdmvenezuela/mdm-backend/internal/licenses"
	"github.com/mdmvenezuela/mdm-backend/internal/operators"
	"github.com/mdmvenezuela/mdm-backend/internal/resellers"
	"github.com/mdmvenezuela/mdm-backend/internal/telemetry"
	"github.com/mdmvenezuela/mdm-backend/pkg/auth/session"
	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/db"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/metrics"
	"github.com/mdmvenezuela/mdm-backend/pkg/migrate"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox"
	"github.com/mdmvenezuela/mdm-backend/pkg/qrcode"
	"github.com/mdmvenezuela/mdm-backend/pkg/redis"
)

const (
	qrSize          = 512
	shutdownTimeout = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.ForApp("api", cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)

	if err := migrate.AutoMigrate(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	requireResource(ctx, logg, "session manager", err)

	var (
		registry    *prometheus.Registry
		httpMetrics *metrics.HTTPMetrics
		enrollMet   *metrics.EnrollmentMetrics
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		httpMetrics = metrics.NewHTTPMetrics(registry)
		enrollMet = metrics.NewEnrollmentMetrics(registry)
	}

	conn := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	ledger, err := licenses.NewLedger(licenses.NewRepository(conn), nil)
	requireResource(ctx, logg, "license ledger", err)

	commandRepo := commands.NewRepository(conn)
	mailbox, err := commands.NewMailbox(commands.MailboxParams{
		Repository: commandRepo,
		Tx:         dbClient,
		Logger:     logg,
	})
	requireResource(ctx, logg, "command mailbox", err)

	deviceRepo := devices.NewRepository(conn)
	deviceService, err := devices.NewService(devices.ServiceParams{
		Repository: deviceRepo,
		Tx:         dbClient,
		Commands:   mailbox,
		Licenses:   ledger,
		Outbox:     outboxService,
		Logger:     logg,
	})
	requireResource(ctx, logg, "device service", err)

	resellerRepo := resellers.NewRepository(conn)
	resellerService, err := resellers.NewService(resellers.ServiceParams{
		Repository: resellerRepo,
		Tx:         dbClient,
		Licenses:   ledger,
		Devices:    deviceService,
		Password:   cfg.Password,
		Logger:     logg,
	})
	requireResource(ctx, logg, "reseller service", err)

	authService, err := auth.NewService(auth.ServiceParams{
		Operators:      operators.NewRepository(conn),
		Resellers:      resellerRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		Password:       cfg.Password,
		Logger:         logg,
	})
	requireResource(ctx, logg, "auth service", err)

	telemetryService, err := telemetry.NewService(telemetry.ServiceParams{
		Repository: telemetry.NewRepository(conn),
		Devices:    deviceRepo,
		Tx:         dbClient,
		Logger:     logg,
	})
	requireResource(ctx, logg, "telemetry service", err)

	provisioner, err := enrollment.NewProvisioner(cfg.Enrollment)
	requireResource(ctx, logg, "enrollment provisioner", err)

	tokenRepo := enrollment.NewTokenRepository(conn)
	issuer, err := enrollment.NewIssuer(enrollment.IssuerParams{
		Licenses:    ledger,
		Tokens:      tokenRepo,
		Tx:          dbClient,
		Provisioner: provisioner,
		QR:          qrcode.NewRenderer(qrSize),
		Metrics:     enrollMet,
		Logger:      logg,
		TTL:         cfg.Enrollment.TokenTTL,
	})
	requireResource(ctx, logg, "token issuer", err)

	orchestrator, err := enrollment.NewOrchestrator(enrollment.OrchestratorParams{
		Tokens:   tokenRepo,
		Devices:  deviceRepo,
		Licenses: ledger,
		Outbox:   outboxService,
		Tx:       dbClient,
		Metrics:  enrollMet,
		Logger:   logg,
	})
	requireResource(ctx, logg, "enrollment orchestrator", err)

	params := routes.Params{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		RateLimits:  redisClient,
		Idempotency: redisClient,
		Sessions:    sessionManager,
		HTTPMetrics: httpMetrics,
		Auth:        authService,
		Resellers:   resellerService,
		Devices:     deviceService,
		Telemetry:   telemetryService,
		Issuer:      issuer,
		Enrollment:  orchestrator,
		Mailbox:     mailbox,
	}
	if registry != nil {
		params.Gatherer = registry
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(serverCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logg.Info(serverCtx, "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := multierr.Combine(
		server.Shutdown(shutdownCtx),
		redisClient.Close(),
		dbClient.Close(),
	)
	if closeErr != nil {
		logg.Error(serverCtx, "shutdown finished with errors", closeErr)
		exitCode = 1
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to initialize "+resource, err)
	os.Exit(1)
}
