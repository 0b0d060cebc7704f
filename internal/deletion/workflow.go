// Package deletion runs the best-effort cascade delete of a user.
//
// Downstream resources are deleted concurrently through the gateway. Each
// step that succeeds is marked on a Deletion record; failed steps stay false
// and are never retried. Association rows and the identity record are
// removed whatever happened downstream.
package deletion

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/metrics"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
)

// DefaultConcurrency bounds the number of downstream calls in flight.
const DefaultConcurrency = 4

// Store is the persistence used by the workflow.
type Store interface {
	CreateDeletion(ctx context.Context, userID, requestorID string) (postgres.Deletion, error)
	MarkDeletionStep(ctx context.Context, id uuid.UUID, resource postgres.DeletionResource) error
	FinalizeDeletion(ctx context.Context, id uuid.UUID, status postgres.DeletionStatus) (postgres.Deletion, error)
	CascadeDeleteUserAssociations(ctx context.Context, userID string) error
}

// Users deletes identity records. CachedDirectory satisfies it and evicts
// the cache entry on the way.
type Users interface {
	Delete(ctx context.Context, legacyID string) (*identity.User, error)
}

// ResourceDeleter removes one kind of user-owned resource.
type ResourceDeleter interface {
	Resource() postgres.DeletionResource
	DeleteByUser(ctx context.Context, userID string) error
}

// Result is a finished cascade delete.
type Result struct {
	User     *identity.User
	Deletion postgres.Deletion
}

type Workflow struct {
	store       Store
	users       Users
	deleters    []ResourceDeleter
	concurrency int
	logger      zerolog.Logger
}

func NewWorkflow(store Store, users Users, deleters []ResourceDeleter, logger zerolog.Logger) *Workflow {
	return &Workflow{
		store:       store,
		users:       users,
		deleters:    deleters,
		concurrency: DefaultConcurrency,
		logger:      logger.With().Str("component", "deletion").Logger(),
	}
}

// Run deletes userID on behalf of requestorID. Downstream failures only show
// up on the returned Deletion; an error is returned when the record cannot
// be created or the identity record cannot be deleted.
func (w *Workflow) Run(ctx context.Context, userID, requestorID string) (Result, error) {
	record, err := w.store.CreateDeletion(ctx, userID, requestorID)
	if err != nil {
		return Result{}, fmt.Errorf("deletion: create record: %w", err)
	}
	log := w.logger.With().Str("deletion_id", record.ID.String()).Str("user_id", userID).Logger()

	var (
		mu     sync.Mutex
		failed []postgres.DeletionResource
	)
	fail := func(resource postgres.DeletionResource) {
		mu.Lock()
		failed = append(failed, resource)
		mu.Unlock()
	}

	// Steps never return errors so one failure does not cancel the others.
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, d := range w.deleters {
		g.Go(func() error {
			resource := d.Resource()
			if err := d.DeleteByUser(ctx, userID); err != nil {
				log.Warn().Err(err).Str("resource", string(resource)).Msg("downstream delete failed")
				metrics.RecordDeletionStep(string(resource), false)
				fail(resource)
				return nil
			}
			metrics.RecordDeletionStep(string(resource), true)
			w.mark(ctx, log, record.ID, resource)
			return nil
		})
	}
	_ = g.Wait()

	if err := w.store.CascadeDeleteUserAssociations(ctx, userID); err != nil {
		log.Warn().Err(err).Msg("deleting user associations failed")
		fail(postgres.ResourceApplications)
		fail(postgres.ResourceOrganizations)
	} else {
		w.mark(ctx, log, record.ID, postgres.ResourceApplications)
		w.mark(ctx, log, record.ID, postgres.ResourceOrganizations)
	}

	user, err := w.users.Delete(ctx, userID)
	if err != nil {
		w.finalize(ctx, log, record, postgres.DeletionFailed)
		return Result{Deletion: record}, fmt.Errorf("deletion: delete identity: %w", err)
	}
	w.mark(ctx, log, record.ID, postgres.ResourceUserAccount)

	status := postgres.DeletionDone
	if len(failed) > 0 {
		status = postgres.DeletionFailed
	}
	final := w.finalize(ctx, log, record, status)
	log.Info().Str("status", string(final.Status)).Int("failed_steps", len(failed)).Msg("user deletion finished")
	return Result{User: user, Deletion: final}, nil
}

func (w *Workflow) mark(ctx context.Context, log zerolog.Logger, id uuid.UUID, resource postgres.DeletionResource) {
	if err := w.store.MarkDeletionStep(ctx, id, resource); err != nil {
		log.Error().Err(err).Str("resource", string(resource)).Msg("failed to mark deletion step")
	}
}

// finalize returns the stored record, or the last known one when the store fails.
func (w *Workflow) finalize(ctx context.Context, log zerolog.Logger, record postgres.Deletion, status postgres.DeletionStatus) postgres.Deletion {
	final, err := w.store.FinalizeDeletion(ctx, record.ID, status)
	if err != nil {
		log.Error().Err(err).Msg("failed to finalize deletion record")
		record.Status = status
		return record
	}
	metrics.RecordDeletionFinalized(string(status))
	return final
}
