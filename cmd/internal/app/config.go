package app

import (
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// Classification collaborator. Empty ClassifyAPIKey disables it.
	ClassifyBaseURL string
	ClassifyAPIKey  string
	ClassifyModel   string
	ClassifyTimeout time.Duration

	// Outbound event relay. Empty AMQPURL disables it.
	AMQPURL      string
	AMQPExchange string

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
// A .env file in the working directory is honored when present (dev).
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:  EnvString("CAMPFIRE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CAMPFIRE_LOG_LEVEL", "info"),
		LogFormat: EnvString("CAMPFIRE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CAMPFIRE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CAMPFIRE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CAMPFIRE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CAMPFIRE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CAMPFIRE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CAMPFIRE_DATABASE_URL", ""),
		DBSchema:    EnvString("CAMPFIRE_DB_SCHEMA", "campfire"),
		DBMaxConns:  EnvInt32("CAMPFIRE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CAMPFIRE_DB_MIN_CONNS", 0),

		ClassifyBaseURL: EnvString("CAMPFIRE_CLASSIFY_BASE_URL", "https://api.openai.com/v1"),
		ClassifyAPIKey:  EnvString("CAMPFIRE_CLASSIFY_API_KEY", ""),
		ClassifyModel:   EnvString("CAMPFIRE_CLASSIFY_MODEL", ""),
		ClassifyTimeout: EnvDuration("CAMPFIRE_CLASSIFY_TIMEOUT", 10*time.Second),

		AMQPURL:      EnvString("CAMPFIRE_AMQP_URL", ""),
		AMQPExchange: EnvString("CAMPFIRE_AMQP_EXCHANGE", ""),

		ReadinessRequireDB: EnvBool("CAMPFIRE_READINESS_REQUIRE_DB", false),
	}
}
