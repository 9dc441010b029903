package config

const (
	EnvPrefix = "MDM"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MDM_APP_ENV"
	EnvPort     = "MDM_APP_PORT"
	EnvLogLevel = "MDM_LOG_LEVEL"

	EnvDBDSN    = "MDM_DB_DSN"
	EnvDBDriver = "MDM_DB_DRIVER"
	EnvDBHost   = "MDM_DB_HOST"
	EnvDBUser   = "MDM_DB_USER"
	EnvDBName   = "MDM_DB_NAME"

	EnvRedisURL = "MDM_REDIS_URL"

	EnvJWTSecret               = "MDM_JWT_SECRET"
	EnvJWTIssuer               = "MDM_JWT_ISSUER"
	EnvJWTExpMins              = "MDM_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes  = "MDM_REFRESH_TOKEN_TTL_MINUTES"
	EnvEnrollmentServerURL     = "MDM_ENROLLMENT_SERVER_URL"
	EnvEnrollmentAPKURL        = "MDM_ENROLLMENT_APK_URL"
	EnvEnrollmentTokenTTL      = "MDM_ENROLLMENT_TOKEN_TTL"
	EnvPresenceOfflineAfter    = "MDM_PRESENCE_OFFLINE_AFTER"
	EnvRetentionLocationDays   = "MDM_RETENTION_LOCATION_DAYS"
	EnvGCPProjectID            = "MDM_GCP_PROJECT_ID"
	EnvPubSubDeviceEventsTopic = "MDM_PUBSUB_DEVICE_EVENTS_TOPIC"
	EnvPubSubDeviceEventsSub   = "MDM_PUBSUB_DEVICE_EVENTS_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
