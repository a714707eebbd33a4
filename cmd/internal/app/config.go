package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Upper bound for one notification delivery attempt.
	NotifyTimeout time.Duration

	// If true, POST /users and PUT /users/{id}/channel mutate the in-memory
	// directory. Meant for development and smoke runs.
	UserSeeding bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("EMBER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("EMBER_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("EMBER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("EMBER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("EMBER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("EMBER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("EMBER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("EMBER_DATABASE_URL", ""),
		DBSchema:    EnvString("EMBER_DB_SCHEMA", "ember"),
		DBMaxConns:  EnvInt32("EMBER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("EMBER_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("EMBER_READINESS_REQUIRE_DB", false),

		NotifyTimeout: EnvDuration("EMBER_NOTIFY_TIMEOUT", 5*time.Second),

		UserSeeding: EnvBool("EMBER_USER_SEEDING", true),

		CORSAllowedOrigins:   EnvStringList("EMBER_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("EMBER_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("EMBER_CORS_MAX_AGE_SECONDS", 600),
	}
}
