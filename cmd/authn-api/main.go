// Command authn-api is the HTTP gateway for authentication, users,
// applications and organizations.
//
// Purpose:
//
//	This binary loads configuration, initializes the runtime via bootstrap,
//	mounts every route group behind the token middleware and serves until
//	SIGINT/SIGTERM.
//
// Debugging Notes:
//   - Server starts on HTTP_PORT (default 9000)
//   - Startup fails without OKTA_URL because every user route needs the directory
//   - /auth/generate-token is mounted outside the freshness check so stale
//     tokens can still be renewed
//   - Graceful shutdown allows in-flight requests 10s to complete
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/resource-watch/authentication-sub000/internal/bootstrap"
	"github.com/resource-watch/authentication-sub000/internal/config"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/applications"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/auth"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/deletions"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/middleware"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/organizations"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/request"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/users"
	"github.com/resource-watch/authentication-sub000/internal/logging"
	"github.com/resource-watch/authentication-sub000/internal/server"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(cfg.ServiceName+"-api", cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Environment).
		Int("port", cfg.HTTPPort).
		Msg("starting authentication API")

	runtime, err := bootstrap.Initialize(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap runtime")
	}
	if runtime.Directory == nil {
		_ = runtime.Close(context.Background())
		logger.Fatal().Msg("OKTA_URL must be set to serve the authentication API")
	}
	logger.Info().Msg("runtime dependencies initialized")

	authn := middleware.NewAuthenticator(runtime.Codec, runtime.Freshness, logger)
	authHandler := auth.NewHandlerFromRuntime(runtime, logger)

	srv := server.New(server.Options{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		ServiceName:    cfg.ServiceName + "-api",
		Readiness:      runtime.ReadinessCheck,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		DebugRoutes:    cfg.DebugRoutes,
		RegisterRoutes: func(router chi.Router) {
			// Health routes are already mounted, so middleware goes on a group.
			router.Group(func(r chi.Router) {
				r.Use(authn.Parse)
				authHandler.RenewalRoutes(r)

				r.Group(func(r chi.Router) {
					r.Use(authn.Fresh)
					authHandler.Routes(r)
					users.RegisterRoutes(r, runtime, logger)
					applications.RegisterRoutes(r, runtime, logger)
					organizations.RegisterRoutes(r, runtime, logger)
					request.RegisterRoutes(r, runtime, logger)
					deletions.RegisterRoutes(r, runtime, logger)
				})
			})
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("authentication API server failed")
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	if err := runtime.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to cleanly close runtime")
	}

	logger.Info().Msg("authentication API stopped")
}
