package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/dig"

	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/provider/anthropic"
	"github.com/davidbz/tally/internal/provider/openai"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents the service configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Metering  MeteringConfig
	Telemetry TelemetryConfig
	OpenAI    openai.Config `envPrefix:"OPENAI_"`
	Groq      openai.Config `envPrefix:"GROQ_"`
	Gemini    openai.Config `envPrefix:"GEMINI_"`
	Anthropic anthropic.Config
	Echo      EchoConfig
}

// EchoConfig toggles the credential-free echo provider.
type EchoConfig struct {
	Enabled bool `env:"ECHO_PROVIDER_ENABLED" envDefault:"false"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"300"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization,X-User-ID,X-Request-ID"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// DatabaseConfig selects and configures the metering store.
type DatabaseConfig struct {
	Driver   string `env:"STORE_DRIVER"      envDefault:"postgres"`
	URL      string `env:"DATABASE_URL"`
	MaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"20"`
	MinConns int32  `env:"DATABASE_MIN_CONNS" envDefault:"2"`
}

// RedisConfig configures the reconciliation queue. An empty address disables it.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"         envDefault:"0"`
	Stream   string `env:"RECONCILE_STREAM" envDefault:"tally:reconcile"`
}

// MeteringConfig contains admission and charging settings.
type MeteringConfig struct {
	DefaultSpendCeiling decimal.Decimal `env:"DEFAULT_SPEND_CEILING"             envDefault:"0"`
	ReservationTTL      time.Duration   `env:"RESERVATION_TTL"                   envDefault:"10m"`
	DefaultOutputTokens int64           `env:"RESERVATION_DEFAULT_OUTPUT_TOKENS" envDefault:"1000"`
	ChargeTimeout       time.Duration   `env:"CHARGE_TIMEOUT"                    envDefault:"10s"`
	AutoCreateAccounts  bool            `env:"AUTO_CREATE_ACCOUNTS"              envDefault:"false"`
	PricingFile         string          `env:"PRICING_FILE"`
}

// AdmissionOptions converts the metering settings for the admission controller.
func (m MeteringConfig) AdmissionOptions() domain.AdmissionOptions {
	return domain.AdmissionOptions{
		ReservationTTL:      m.ReservationTTL,
		DefaultOutputTokens: m.DefaultOutputTokens,
		ChargeTimeout:       m.ChargeTimeout,
		AutoCreateAccounts:  m.AutoCreateAccounts,
		DefaultCeiling:      m.DefaultSpendCeiling,
	}
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	ServiceName  string `env:"OTEL_SERVICE_NAME"  envDefault:"tally"`
	ExporterType string `env:"OTEL_EXPORTER_TYPE" envDefault:"none"`
	Endpoint     string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*DatabaseConfig
	*RedisConfig
	*MeteringConfig
	*TelemetryConfig

	Admission domain.AdmissionOptions
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		ServerConfig:    &cfg.Server,
		CORSConfig:      &cfg.CORS,
		DatabaseConfig:  &cfg.Database,
		RedisConfig:     &cfg.Redis,
		MeteringConfig:  &cfg.Metering,
		TelemetryConfig: &cfg.Telemetry,
		Admission:       cfg.Metering.AdmissionOptions(),
	}
}
