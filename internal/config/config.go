// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// Startup fails if any field tagged "required" is missing.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"           envDefault:"25"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"  envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`

	// ServiceToken authenticates trusted callers of the dispatch trigger and
	// admin endpoints (cron, internal services). Not an end-user credential.
	ServiceToken string `env:"SERVICE_TOKEN,required"`

	// ── WhatsApp Cloud API ───────────────────────────────────────────────────────
	WAAccessToken        string `env:"WA_ACCESS_TOKEN"`
	WAAPIVersion         string `env:"WA_API_VERSION"          envDefault:"v24.0"`
	WAAPIBaseURL         string `env:"WA_API_BASE_URL"         envDefault:"https://graph.facebook.com"`
	WAWebhookVerifyToken string `env:"WA_WEBHOOK_VERIFY_TOKEN"`
	WAAppSecret          string `env:"WA_APP_SECRET"`

	// ── Media object storage ─────────────────────────────────────────────────────
	MediaBucket string `env:"MEDIA_BUCKET"    envDefault:"wa-media"`
	MediaRegion string `env:"MEDIA_S3_REGION" envDefault:"us-east-1"`
	// MediaEndpoint overrides the S3 endpoint for MinIO / localstack deployments.
	MediaEndpoint string `env:"MEDIA_S3_ENDPOINT"`

	// ── Dispatcher ───────────────────────────────────────────────────────────────
	DispatchBatchSize      int           `env:"DISPATCH_BATCH_SIZE"      envDefault:"10"`
	DispatchMaxAttempts    int           `env:"DISPATCH_MAX_ATTEMPTS"    envDefault:"10"`
	DispatchHandlerTimeout time.Duration `env:"DISPATCH_HANDLER_TIMEOUT" envDefault:"30s"`
	DispatchLeaseTimeout   time.Duration `env:"DISPATCH_LEASE_TIMEOUT"   envDefault:"10m"`
	DispatchPollInterval   time.Duration `env:"DISPATCH_POLL_INTERVAL"   envDefault:"5s"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
