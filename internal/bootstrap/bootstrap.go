// Package bootstrap provides centralized initialization and lifecycle management for
// the gateway's runtime dependencies.
//
// Purpose:
//
//	This package wires together the dependencies shared by the authn-api,
//	reconciler and seed binaries. It fixes the initialization order, degrades
//	gracefully when optional collaborators are absent, and provides a single
//	shutdown and readiness interface.
//
// Dependencies:
//   - github.com/jackc/pgx/v5 (via internal/storage/postgres): association store
//   - github.com/redis/go-redis/v9: identity cache, social login state, lockout counters
//   - internal/identity: Okta directory wrapped in the identity cache
//   - internal/social: social provider adapters and the session bridge
//   - internal/audit, internal/notify: Kafka audit events and AMQP email jobs
//
// Key Responsibilities:
//   - Initialize connects to Postgres, applies migrations and connects to Redis
//   - Runtime bundles the initialized services for use by binaries
//   - ReadinessCheck checks Postgres and Redis
//   - Close releases resources in reverse initialization order
//
// Debugging Notes:
//   - Redis connection failures fail fast during initialization (2s timeout)
//   - Without REDIS_ADDR a no-op cache is used and social login is disabled
//   - Without OKTA_URL the Directory is nil; authn-api refuses to start
//   - Without KAFKA_BROKERS / AMQP_URL events and jobs are logged instead
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/audit"
	"github.com/resource-watch/authentication-sub000/internal/authz"
	"github.com/resource-watch/authentication-sub000/internal/cache"
	"github.com/resource-watch/authentication-sub000/internal/config"
	"github.com/resource-watch/authentication-sub000/internal/deletion"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/logging"
	"github.com/resource-watch/authentication-sub000/internal/notify"
	"github.com/resource-watch/authentication-sub000/internal/security"
	"github.com/resource-watch/authentication-sub000/internal/social"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

// Runtime bundles initialized runtime dependencies for use by service binaries.
// All fields are populated during Initialize and remain valid until Close is called.
type Runtime struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Postgres *postgres.Store
	Redis    *redis.Client // nil when REDIS_ADDR is empty
	Cache    cache.Cache

	Directory *identity.CachedDirectory // nil when OKTA_URL is empty
	Pager     *identity.Pager
	Codec     *token.Codec
	Freshness *token.Reconciler
	Authz     *authz.Resolver
	Social    *social.Bridge
	Deletions *deletion.Workflow

	Audit          audit.Emitter
	Notify         notify.Publisher
	LockoutTracker *security.LockoutTracker
}

// Initialize wires core dependencies based on the provided configuration.
// Initialization order: Postgres, Redis, identity, token, social, deletion, messaging.
// The returned Runtime must be closed via Close() during shutdown.
func Initialize(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)

	pgStore, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Postgres: pgStore,
		Cache:    cache.Noop{},
	}
	if err := pgStore.Migrate(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("bootstrap migrate: %w", err)
	}

	if cfg.RedisAddr != "" {
		rt.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rt.Redis.Ping(pingCtx).Err(); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		rt.Cache = cache.NewRedisCache(rt.Redis)
	} else {
		logger.Warn().Msg("REDIS_ADDR not set, identity cache and social login disabled")
	}

	rt.Codec = token.NewCodec([]byte(cfg.JWTSecret))
	rt.Authz = authz.NewResolver(pgStore)
	rt.LockoutTracker = security.NewLockoutTracker(rt.Redis, security.LockoutConfigFrom(cfg))

	if cfg.OktaURL != "" {
		okta := identity.NewOktaDirectory(identity.OktaConfig{
			BaseURL:  cfg.OktaURL,
			APIToken: cfg.OktaAPIToken,
			Timeout:  cfg.HTTPClientTimeout,
		}, logger)
		rt.Directory = identity.NewCachedDirectory(okta, rt.Cache, cfg.IdentityCacheTTL, logger)
		rt.Pager = identity.NewPager(rt.Directory)
		rt.Freshness = token.NewReconciler(rt.Directory, cfg.TokenStalenessThreshold)

		var adapters []social.Adapter
		if rt.Redis != nil {
			adapters = social.AdaptersFromConfig(ctx, cfg, logger)
		}
		rt.Social = social.NewBridge(rt.Directory, rt.Cache, rt.Codec, logger, adapters...).
			AllowCallbackOrigins(cfg.CORSAllowedOrigins)

		downstream := deletion.HTTPDeleters(cfg.GatewayURL, &http.Client{Timeout: cfg.HTTPClientTimeout}, rt.Codec.MicroserviceToken)
		rt.Deletions = deletion.NewWorkflow(pgStore, rt.Directory, downstream, logger)
	} else {
		logger.Warn().Msg("OKTA_URL not set, identity directory disabled")
	}

	rt.Audit = audit.NewEmitterFromConfig(cfg, logger)

	if cfg.AMQPURL != "" {
		publisher, err := notify.DialAMQP(cfg.AMQPURL, cfg.NotifyQueue, logger)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("bootstrap amqp: %w", err)
		}
		rt.Notify = publisher
	} else {
		logger.Info().Msg("AMQP not configured, logging email jobs instead")
		rt.Notify = notify.NewLoggerPublisher(logger)
	}

	return rt, nil
}

// Close releases runtime resources in reverse initialization order. It keeps
// closing after a failure and returns the first error encountered.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt == nil {
		return nil
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c, ok := rt.Notify.(interface{ Close() error }); ok {
		keep(c.Close())
	}
	if c, ok := rt.Audit.(interface{ Close() error }); ok {
		keep(c.Close())
	}
	if rt.Redis != nil {
		keep(rt.Redis.Close())
	}
	if rt.Postgres != nil {
		rt.Postgres.Close()
	}
	return firstErr
}

// ReadinessCheck returns an error if Postgres or Redis (when configured)
// are unreachable. The caller sets the timeout.
func (rt *Runtime) ReadinessCheck(ctx context.Context) error {
	if rt.Postgres != nil {
		if err := rt.Postgres.Ping(ctx); err != nil {
			return fmt.Errorf("postgres not ready: %w", err)
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis not ready: %w", err)
		}
	}
	return nil
}
