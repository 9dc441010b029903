package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mdmvenezuela/mdm-backend/api/controllers"
	"github.com/mdmvenezuela/mdm-backend/api/middleware"
	"github.com/mdmvenezuela/mdm-backend/internal/auth"
	"github.com/mdmvenezuela/mdm-backend/internal/commands"
	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/enrollment"
	"github.com/mdmvenezuela/mdm-backend/internal/resellers"
	"github.com/mdmvenezuela/mdm-backend/internal/telemetry"
	"github.com/mdmvenezuela/mdm-backend/pkg/auth/session"
	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/metrics"
	pkgredis "github.com/mdmvenezuela/mdm-backend/pkg/redis"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

const defaultRequestTimeout = 30 * time.Second

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(ctx context.Context, oldAccessID, provided string, actor types.Actor) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
}

// TokenMinter issues enrollment QR tokens.
type TokenMinter interface {
	MintEnrollmentToken(ctx context.Context, resellerID uuid.UUID) (*enrollment.MintResult, error)
}

// EnrollmentRedeemer consumes enrollment tokens.
type EnrollmentRedeemer interface {
	RedeemEnrollment(ctx context.Context, input enrollment.RedeemInput) (*enrollment.RedeemResult, error)
}

// CommandPuller drains a device's command mailbox.
type CommandPuller interface {
	Pull(ctx context.Context, deviceID uuid.UUID) ([]commands.Command, error)
}

// Params carries everything the HTTP surface is built from. A nil rate limit or
// idempotency store disables that middleware.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	RateLimits  middleware.RateLimitStore
	Idempotency pkgredis.IdempotencyStore
	Sessions    sessionManager
	HTTPMetrics *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer

	Auth       auth.Service
	Resellers  resellers.Service
	Devices    devices.Service
	Telemetry  telemetry.Service
	Issuer     TokenMinter
	Enrollment EnrollmentRedeemer
	Mailbox    CommandPuller
}

// NewRouter assembles the chi router for the API process.
func NewRouter(p Params) http.Handler {
	cfg := p.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	logg := p.Logger

	timeout := cfg.App.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
		chimiddleware.Timeout(timeout),
	)

	limits := cfg.AuthRateLimit
	loginLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:     "login",
		Window:   limits.LoginWindow,
		PerIP:    limits.LoginIPLimit,
		Field:    "username",
		PerField: limits.LoginUsernameLimit,
	}, p.RateLimits, logg)
	registerLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:     "device-register",
		Window:   limits.RegisterWindow,
		PerIP:    limits.RegisterIPLimit,
		Field:    "imei",
		PerField: limits.RegisterIMEILimit,
	}, p.RateLimits, logg)

	provisioning := middleware.Idempotent(middleware.ProvisioningIdempotency, p.Idempotency, logg)
	command := middleware.Idempotent(middleware.CommandIdempotency, p.Idempotency, logg)

	r.Get("/health", controllers.HealthLive(nil))
	r.Get("/health/ready", controllers.HealthReady(readinessChecks(p), logg))
	if p.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(p.Gatherer))
	}
	if dir := cfg.Enrollment.APKDir; dir != "" {
		r.Handle("/apk/*", http.StripPrefix("/apk/", http.FileServer(http.Dir(dir))))
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.With(loginLimit).Post("/admin/login", controllers.AdminLogin(p.Auth, logg))
		r.With(loginLimit).Post("/reseller/login", controllers.ResellerLogin(p.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(p.Sessions, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(p.Sessions, cfg.JWT, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleSuperAdmin))

		r.Get("/dashboard", controllers.AdminDashboard(p.Resellers, logg))
		r.With(provisioning).Post("/reseller", controllers.AdminCreateReseller(p.Resellers, logg))
		r.Get("/resellers", controllers.AdminListResellers(p.Resellers, logg))
		r.With(provisioning).Post("/reseller/{id}/licenses", controllers.AdminAddLicenses(p.Resellers, logg))
		r.Post("/reseller/{id}/toggle", controllers.AdminToggleReseller(p.Resellers, logg))
		r.Get("/devices", controllers.AdminListDevices(p.Devices, logg))
	})

	r.Route("/api/reseller", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleReseller))

		r.Get("/dashboard", controllers.ResellerDashboard(p.Resellers, logg))
		r.With(command).Post("/qr/generate", controllers.ResellerGenerateQR(p.Issuer, logg))
		r.Get("/devices", controllers.ResellerListDevices(p.Devices, logg))
		r.Route("/device/{id}", func(r chi.Router) {
			r.Get("/", controllers.ResellerDeviceDetail(p.Devices, logg))
			r.With(command).Post("/lock", controllers.ResellerLockDevice(p.Devices, logg))
			r.With(command).Post("/unlock", controllers.ResellerUnlockDevice(p.Devices, logg))
			r.With(command).Delete("/release", controllers.ResellerReleaseDevice(p.Devices, logg))
			r.Get("/location/history", controllers.ResellerLocationHistory(p.Telemetry, logg))
		})
	})

	r.Route("/api/device", func(r chi.Router) {
		r.With(registerLimit).Post("/register", controllers.DeviceRegister(p.Enrollment, logg))
		r.Post("/location", controllers.DeviceLocation(p.Telemetry, logg))
		r.Get("/commands", controllers.DeviceCommands(p.Mailbox, logg))
		r.Post("/heartbeat", controllers.DeviceHeartbeat(p.Telemetry, logg))
	})

	return r
}

func readinessChecks(p Params) map[string]controllers.Pinger {
	checks := map[string]controllers.Pinger{}
	if p.DB != nil {
		checks["db"] = p.DB
	}
	if p.Redis != nil {
		checks["redis"] = p.Redis
	}
	return checks
}
