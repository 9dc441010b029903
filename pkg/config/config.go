package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// minProdSecretLen is the shortest HS256 secret accepted in production.
const minProdSecretLen = 32

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Enrollment    EnrollmentConfig
	Presence      PresenceConfig
	Retention     RetentionConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Metrics       MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// validate checks constraints that span fields; envconfig only sees one
// variable at a time.
func (c *Config) validate() (err error) {
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf(format, args...))
		}
	}
	access := time.Duration(c.JWT.ExpirationMinutes) * time.Minute
	check(access > 0, "%s must be positive", EnvJWTExpMins)
	check(c.JWT.RefreshTokenTTL() > access, "%s must exceed %s", EnvRefreshTokenTTLMinutes, EnvJWTExpMins)
	check(!c.App.IsProd() || len(c.JWT.Secret) >= minProdSecretLen,
		"%s must be at least %d bytes in %s", EnvJWTSecret, minProdSecretLen, AppEnvProd)
	check(c.Enrollment.TokenTTL > 0, "%s must be positive", EnvEnrollmentTokenTTL)
	check(c.Outbox.BatchSize > 0 && c.Outbox.MaxAttempts > 0, "outbox batch size and max attempts must be positive")
	return err
}

type AppConfig struct {
	Env          string `envconfig:"MDM_APP_ENV" required:"true"`
	Port         string `envconfig:"MDM_APP_PORT" default:"3000"`
	LogLevel     string `envconfig:"MDM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MDM_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"MDM_LOG_FORMAT" default:"json"`
	// RequestTimeout bounds every API request; a transaction still open when
	// it fires is rolled back through the request context.
	RequestTimeout time.Duration `envconfig:"MDM_APP_REQUEST_TIMEOUT" default:"15s"`
	CORSOrigins    []string      `envconfig:"MDM_APP_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MDM_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MDM_DB_DSN"`
	Driver string `envconfig:"MDM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MDM_DB_HOST"`
	LegacyPort     int    `envconfig:"MDM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MDM_DB_USER"`
	LegacyPassword string `envconfig:"MDM_DB_PASSWORD"`
	LegacyName     string `envconfig:"MDM_DB_NAME"`
	LegacySSLMode  string `envconfig:"MDM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MDM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MDM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MDM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MDM_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery logs statements slower than this at warn; zero disables it.
	SlowQuery time.Duration `envconfig:"MDM_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the sqlite dialector was requested.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"MDM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MDM_REDIS_ADDR"`
	Password     string        `envconfig:"MDM_REDIS_PASSWORD"`
	DB           int           `envconfig:"MDM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MDM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MDM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MDM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MDM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MDM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"MDM_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"MDM_JWT_ISSUER" default:"mdm-backend"`
	ExpirationMinutes      int    `envconfig:"MDM_JWT_EXPIRATION_MINUTES" default:"1440"`
	RefreshTokenTTLMinutes int    `envconfig:"MDM_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"MDM_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"MDM_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"MDM_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"MDM_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"MDM_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"MDM_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginUsernameLimit int           `envconfig:"MDM_AUTH_RATE_LIMIT_LOGIN_USERNAME_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"MDM_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"MDM_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterIMEILimit  int           `envconfig:"MDM_AUTH_RATE_LIMIT_REGISTER_IMEI_LIMIT" default:"5"`
	RegisterIPLimit    int           `envconfig:"MDM_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MDM_AUTO_MIGRATE" default:"false"`
}

type EnrollmentConfig struct {
	TokenTTL       time.Duration `envconfig:"MDM_ENROLLMENT_TOKEN_TTL" default:"24h"`
	ServerURL      string        `envconfig:"MDM_ENROLLMENT_SERVER_URL" default:"http://localhost:3000"`
	APKURL         string        `envconfig:"MDM_ENROLLMENT_APK_URL" default:"https://github.com/mdmvenezuela/mdm-backend/releases/download/v2/mdm.apk"`
	APKChecksum    string        `envconfig:"MDM_ENROLLMENT_APK_CHECKSUM"`
	APKDir         string        `envconfig:"MDM_ENROLLMENT_APK_DIR" default:"public/apk"`
	APKFile        string        `envconfig:"MDM_ENROLLMENT_APK_FILE" default:"mdm.apk"`
	AdminComponent string        `envconfig:"MDM_ENROLLMENT_ADMIN_COMPONENT" default:"com.tecnoca.mdm/.DeviceAdminReceiver"`
}

type PresenceConfig struct {
	OfflineAfter time.Duration `envconfig:"MDM_PRESENCE_OFFLINE_AFTER" default:"10m"`
}

type RetentionConfig struct {
	LocationDays int `envconfig:"MDM_RETENTION_LOCATION_DAYS" default:"90"`
	OutboxDays   int `envconfig:"MDM_RETENTION_OUTBOX_DAYS" default:"30"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"MDM_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DeviceEventsTopic        string `envconfig:"MDM_PUBSUB_DEVICE_EVENTS_TOPIC" default:"mdm-device-events"`
	DeviceEventsSubscription string `envconfig:"MDM_PUBSUB_DEVICE_EVENTS_SUBSCRIPTION"`
	// CreateTopic creates a missing topic at startup instead of failing.
	// Meant for the emulator (PUBSUB_EMULATOR_HOST) and local stacks.
	CreateTopic bool `envconfig:"MDM_PUBSUB_CREATE_TOPIC" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MDM_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MDM_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MDM_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type MetricsConfig struct {
	Enabled bool `envconfig:"MDM_METRICS_ENABLED" default:"true"`
	// WorkerAddr is where cron-worker and outbox-publisher expose /metrics.
	WorkerAddr string `envconfig:"MDM_METRICS_WORKER_ADDR" default:":9090"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=sqlite", EnvDBDSN, EnvDBDriver)
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
