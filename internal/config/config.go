// Package config provides environment variable-based configuration loading.
//
// Purpose:
//
//	This package defines the service configuration structure and provides
//	functions to load configuration from environment variables using envconfig.
//	All binaries (authn-api, reconciler, seed) share this configuration structure.
//
// Dependencies:
//   - github.com/kelseyhightower/envconfig: Environment variable parsing
//   - github.com/joho/godotenv: Optional .env file for local development
//
// Key Responsibilities:
//   - Config struct defines all service configuration fields
//   - Load reads and validates environment variables
//   - MustLoad exits the process if configuration is invalid
//
// Debugging Notes:
//   - Required fields: DATABASE_URL, JWT_SECRET
//   - JWT_SECRET must be at least 32 bytes (validated by Load)
//   - Social providers are only registered when both client id and secret are set
//   - Redis is optional (no-op cache used if REDIS_ADDR is empty)
//   - A .env file in the working directory is loaded first; real environment wins
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config represents shared runtime configuration for the gateway binaries.
// All fields are populated from environment variables with defaults where specified.
type Config struct {
	// ServiceName is emitted in logs and metrics.
	ServiceName string `envconfig:"SERVICE_NAME" default:"authentication"`
	// HTTPPort is the port the HTTP server listens on.
	HTTPPort int `envconfig:"HTTP_PORT" default:"9000"`
	// PublicURL is the externally visible base URL, used to build OAuth callback URLs.
	PublicURL string `envconfig:"PUBLIC_URL" default:"http://localhost:9000"`
	// DatabaseURL is the Postgres connection string for application/organization records.
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	// RedisAddr is the host:port of the Redis instance used for the identity cache.
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	// RedisPassword is the optional password for Redis authentication.
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	// RedisDB selects the logical Redis database index.
	RedisDB int `envconfig:"REDIS_DB" default:"0"`
	// LogLevel controls zerolog global level (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// Environment describes the current deployment environment (dev, staging, prod, etc.).
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	// CORSAllowedOrigins lists browser origins accepted in addition to localhost.
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
	// DebugRoutes exposes GET /debug/routes.
	DebugRoutes bool `envconfig:"DEBUG_ROUTES" default:"false"`

	// JWTSecret signs and verifies first-party tokens (HS256).
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// TokenStalenessThreshold is the token age after which claims are reconciled
	// against the live identity record.
	TokenStalenessThreshold time.Duration `envconfig:"TOKEN_STALENESS_THRESHOLD" default:"1h"`
	// IdentityCacheTTL bounds how long an identity record is served from cache.
	IdentityCacheTTL time.Duration `envconfig:"IDENTITY_CACHE_TTL" default:"30m"`

	// OktaURL is the Okta org base URL (e.g., "https://example.okta.com").
	OktaURL string `envconfig:"OKTA_URL" default:""`
	// OktaAPIToken is the SSWS token for the Okta management API.
	OktaAPIToken string `envconfig:"OKTA_API_TOKEN" default:""`
	// OktaClientID is the OIDC client used for the Okta-native login flow.
	OktaClientID string `envconfig:"OKTA_CLIENT_ID" default:""`
	// OktaClientSecret is the secret of the Okta OIDC client.
	OktaClientSecret string `envconfig:"OKTA_CLIENT_SECRET" default:""`

	GoogleClientID       string `envconfig:"GOOGLE_CLIENT_ID" default:""`
	GoogleClientSecret   string `envconfig:"GOOGLE_CLIENT_SECRET" default:""`
	FacebookClientID     string `envconfig:"FACEBOOK_CLIENT_ID" default:""`
	FacebookClientSecret string `envconfig:"FACEBOOK_CLIENT_SECRET" default:""`
	// AppleClientID is the Services ID registered for Sign in with Apple.
	AppleClientID string `envconfig:"APPLE_CLIENT_ID" default:""`
	// AppleClientSecret is the pre-generated client secret JWT for Sign in with Apple.
	AppleClientSecret   string `envconfig:"APPLE_CLIENT_SECRET" default:""`
	TwitterClientID     string `envconfig:"TWITTER_CLIENT_ID" default:""`
	TwitterClientSecret string `envconfig:"TWITTER_CLIENT_SECRET" default:""`

	// GatewayURL is the base URL used to reach downstream microservices
	// during the user cascade delete.
	GatewayURL string `envconfig:"GATEWAY_URL" default:"http://localhost:9000"`
	// HTTPClientTimeout bounds every outbound call to the identity provider,
	// social providers and downstream microservices.
	HTTPClientTimeout time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"10s"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g., "broker1:9092,broker2:9092").
	// If empty, audit events will be logged instead of sent to Kafka.
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""`
	// KafkaTopic is the Kafka topic name for audit events.
	KafkaTopic string `envconfig:"KAFKA_TOPIC" default:"audit.authentication"`
	// KafkaClientID is the client ID used when connecting to Kafka.
	KafkaClientID string `envconfig:"KAFKA_CLIENT_ID" default:"authentication"`

	// AMQPURL points at the RabbitMQ broker receiving email jobs. Empty disables publishing.
	AMQPURL string `envconfig:"AMQP_URL" default:""`
	// NotifyQueue is the durable queue that email jobs are published to.
	NotifyQueue string `envconfig:"NOTIFY_QUEUE" default:"mail.outbound"`

	// LockoutMaxAttempts is the number of failed logins allowed per email within the window.
	LockoutMaxAttempts int `envconfig:"LOCKOUT_MAX_ATTEMPTS" default:"10"`
	// LockoutWindowMinutes is the time window for counting failed attempts in minutes.
	LockoutWindowMinutes int `envconfig:"LOCKOUT_WINDOW_MINUTES" default:"15"`

	// DeletionStaleAfter is how long a Deletion may stay pending before the
	// reconciler finalizes it as failed.
	DeletionStaleAfter time.Duration `envconfig:"DELETION_STALE_AFTER" default:"1h"`
	// ReconcileInterval is the reconciler's scan period.
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5m"`
}

// Load reads environment variables into Config, applying defaults where necessary.
func Load() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad returns Config or exits the process.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	if c.TokenStalenessThreshold <= 0 {
		return errors.New("config: TOKEN_STALENESS_THRESHOLD must be positive")
	}
	if c.OktaURL != "" && c.OktaAPIToken == "" {
		return errors.New("config: OKTA_API_TOKEN is required when OKTA_URL is set")
	}
	return nil
}

// KafkaBrokerList splits KafkaBrokers into individual addresses.
func (c *Config) KafkaBrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
