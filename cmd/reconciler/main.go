// Command reconciler is a background worker that closes out cascade deletes
// which never finished.
//
// Purpose:
//
//	A deletion that is still pending after DELETION_STALE_AFTER was abandoned
//	mid-flight (process restart, timeout). The worker marks those records
//	failed every RECONCILE_INTERVAL and publishes the number of incomplete
//	deletions as a gauge. Individual steps are never retried.
//
// Debugging Notes:
//   - Health and metrics are served on HTTP_PORT + 1 (default 9001)
//   - Only Postgres is required; the identity directory is not used
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/bootstrap"
	"github.com/resource-watch/authentication-sub000/internal/config"
	"github.com/resource-watch/authentication-sub000/internal/logging"
	"github.com/resource-watch/authentication-sub000/internal/metrics"
	"github.com/resource-watch/authentication-sub000/internal/server"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(cfg.ServiceName+"-reconciler", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := bootstrap.Initialize(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap runtime")
	}
	defer func() {
		if err := runtime.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to close runtime resources")
		}
	}()

	port := cfg.HTTPPort + 1
	logger.Info().
		Str("env", cfg.Environment).
		Int("port", port).
		Dur("interval", cfg.ReconcileInterval).
		Dur("stale_after", cfg.DeletionStaleAfter).
		Msg("starting reconciler")

	srv := server.New(server.Options{
		Port:        port,
		Logger:      logger,
		ServiceName: cfg.ServiceName + "-reconciler",
		Readiness:   runtime.ReadinessCheck,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("reconciler server failed")
		}
	}()

	w := &worker{
		store:      runtime.Postgres,
		staleAfter: cfg.DeletionStaleAfter,
		now:        time.Now,
		logger:     logger,
	}
	go w.run(ctx, cfg.ReconcileInterval)

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}

	logger.Info().Msg("reconciler stopped")
}

type deletionStore interface {
	FinalizeStaleDeletions(ctx context.Context, cutoff time.Time) (int, error)
	CountIncompleteDeletions(ctx context.Context) (int, error)
}

type worker struct {
	store      deletionStore
	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

func (w *worker) run(ctx context.Context, interval time.Duration) {
	w.logger.Info().Msg("reconciler worker started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.sweep(ctx); err != nil {
			w.logger.Error().Err(err).Msg("deletion sweep failed")
		}
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("reconciler worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// sweep fails stale pending deletions and refreshes the incomplete gauge.
func (w *worker) sweep(ctx context.Context) error {
	failed, err := w.store.FinalizeStaleDeletions(ctx, w.now().Add(-w.staleAfter))
	if err != nil {
		return err
	}
	for range failed {
		metrics.RecordDeletionFinalized("failed")
	}
	if failed > 0 {
		w.logger.Warn().Int("count", failed).Msg("marked stale deletions as failed")
	}

	incomplete, err := w.store.CountIncompleteDeletions(ctx)
	if err != nil {
		return err
	}
	metrics.SetIncompleteDeletions(incomplete)
	return nil
}
