package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeletionResources lists every cascade delete step in a stable order.
func DeletionResources() []DeletionResource {
	out := make([]DeletionResource, 0, len(deletionColumns))
	for _, c := range deletionColumns {
		out = append(out, c.Resource)
	}
	return out
}

func deletionColumn(resource DeletionResource) (string, bool) {
	for _, c := range deletionColumns {
		if c.Resource == resource {
			return c.Column, true
		}
	}
	return "", false
}

func deletionSelect() string {
	cols := make([]string, 0, len(deletionColumns))
	for _, c := range deletionColumns {
		cols = append(cols, c.Column)
	}
	return `SELECT deletion_id, user_id, requestor_id, status, ` + strings.Join(cols, ", ") + `, created_at, updated_at FROM deletions`
}

// CreateDeletion starts a pending deletion record.
func (s *Store) CreateDeletion(ctx context.Context, userID, requestorID string) (Deletion, error) {
	id := uuid.New()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO deletions (deletion_id, user_id, requestor_id, status) VALUES ($1, $2, $3, 'pending')
	`, id, userID, requestorID); err != nil {
		return Deletion{}, translate(err)
	}
	return s.loadDeletion(ctx, id)
}

// MarkDeletionStep flips the flag of a succeeded step. Finalized records are left untouched.
func (s *Store) MarkDeletionStep(ctx context.Context, id uuid.UUID, resource DeletionResource) error {
	column, ok := deletionColumn(resource)
	if !ok {
		return fmt.Errorf("unknown deletion resource %q", resource)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE deletions SET `+column+` = true, updated_at = now() WHERE deletion_id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("Deletion")
	}
	return nil
}

// FinalizeDeletion sets the terminal status. A record is finalized at most once.
func (s *Store) FinalizeDeletion(ctx context.Context, id uuid.UUID, status DeletionStatus) (Deletion, error) {
	if status != DeletionDone && status != DeletionFailed {
		return Deletion{}, fmt.Errorf("invalid terminal deletion status %q", status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE deletions SET status = $1, updated_at = now() WHERE deletion_id = $2 AND status = 'pending'
	`, string(status), id)
	if err != nil {
		return Deletion{}, err
	}
	if tag.RowsAffected() == 0 {
		return Deletion{}, notFound("Deletion")
	}
	return s.loadDeletion(ctx, id)
}

// GetDeletion retrieves a deletion record by id.
func (s *Store) GetDeletion(ctx context.Context, id string) (Deletion, error) {
	deletionID, err := parseID("Deletion", id)
	if err != nil {
		return Deletion{}, err
	}
	return s.loadDeletion(ctx, deletionID)
}

// ListDeletions returns a page of deletion records, newest first, and the total count.
func (s *Store) ListDeletions(ctx context.Context, filter DeletionFilter) ([]Deletion, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deletions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit, max(filter.Offset, 0))
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`%s %s ORDER BY created_at DESC, deletion_id LIMIT $%d OFFSET $%d`,
		deletionSelect(), where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Deletion{}
	for rows.Next() {
		d, err := scanDeletion(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// FinalizeStaleDeletions marks deletions still pending since before cutoff as
// failed and returns how many were changed. Steps are never retried.
func (s *Store) FinalizeStaleDeletions(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deletions SET status = 'failed', updated_at = now() WHERE status = 'pending' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CountIncompleteDeletions counts records whose status is not done.
func (s *Store) CountIncompleteDeletions(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deletions WHERE status <> 'done'`).Scan(&n)
	return n, err
}

func (s *Store) loadDeletion(ctx context.Context, id uuid.UUID) (Deletion, error) {
	d, err := scanDeletion(s.pool.QueryRow(ctx, deletionSelect()+` WHERE deletion_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deletion{}, notFound("Deletion")
		}
		return Deletion{}, err
	}
	return d, nil
}

func scanDeletion(row pgx.Row) (Deletion, error) {
	var (
		d      Deletion
		status string
	)
	flags := make([]bool, len(deletionColumns))
	dest := []any{&d.ID, &d.UserID, &d.RequestorID, &status}
	for i := range flags {
		dest = append(dest, &flags[i])
	}
	dest = append(dest, &d.CreatedAt, &d.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return Deletion{}, err
	}
	d.Status = DeletionStatus(status)
	d.Steps = make(map[DeletionResource]bool, len(deletionColumns))
	for i, c := range deletionColumns {
		d.Steps[c.Resource] = flags[i]
	}
	return d, nil
}
