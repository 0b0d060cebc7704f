package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const applicationColumns = `
	a.application_id, a.name, a.api_key_value, au.user_id, oa.organization_id, a.created_at, a.updated_at
`

const applicationFrom = `
	FROM applications a
	LEFT JOIN application_users au ON au.application_id = a.application_id
	LEFT JOIN organization_applications oa ON oa.application_id = a.application_id
`

// CreateApplication inserts an application with a fresh api key and its
// optional owner and organization links.
func (s *Store) CreateApplication(ctx context.Context, params CreateApplicationParams) (Application, error) {
	var orgID *uuid.UUID
	if params.OrganizationID != nil {
		id, err := parseID("Organization", *params.OrganizationID)
		if err != nil {
			return Application{}, err
		}
		orgID = &id
	}
	apiKey, err := newAPIKey()
	if err != nil {
		return Application{}, err
	}

	appID := uuid.New()
	var out Application
	err = s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO applications (application_id, name, api_key_value) VALUES ($1, $2, $3)
		`, appID, params.Name, apiKey); err != nil {
			return translate(err)
		}
		if err := setOwner(ctx, tx, appID, params.OwnerID); err != nil {
			return err
		}
		if err := setApplicationOrganization(ctx, tx, appID, orgID); err != nil {
			return err
		}
		app, err := loadApplication(ctx, tx, appID)
		if err != nil {
			return err
		}
		out = app
		return nil
	})
	return out, err
}

// GetApplication retrieves an application by id.
func (s *Store) GetApplication(ctx context.Context, id string) (Application, error) {
	appID, err := parseID("Application", id)
	if err != nil {
		return Application{}, err
	}
	return loadApplication(ctx, s.pool, appID)
}

// GetApplicationByAPIKey retrieves the application owning an api key.
func (s *Store) GetApplicationByAPIKey(ctx context.Context, apiKey string) (Application, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+applicationColumns+applicationFrom+` WHERE a.api_key_value = $1`, apiKey)
	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, notFound("Application")
		}
		return Application{}, err
	}
	return app, nil
}

// ListApplications returns a page of applications and the total match count.
func (s *Store) ListApplications(ctx context.Context, filter ApplicationFilter) ([]Application, int, error) {
	where, args := applicationWhere(filter)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM applications a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit, max(filter.Offset, 0))
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s %s %s ORDER BY a.created_at, a.application_id LIMIT $%d OFFSET $%d`,
		applicationColumns, applicationFrom, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	apps := []Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, 0, err
		}
		apps = append(apps, app)
	}
	return apps, total, rows.Err()
}

func applicationWhere(filter ApplicationFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		clauses = append(clauses, fmt.Sprintf("a.name ILIKE $%d", len(args)))
	}
	if filter.IDs != nil {
		args = append(args, filter.IDs)
		clauses = append(clauses, fmt.Sprintf("a.application_id = ANY($%d)", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// UpdateApplication applies a partial update.
func (s *Store) UpdateApplication(ctx context.Context, params UpdateApplicationParams) (Application, error) {
	appID, err := parseID("Application", params.ID)
	if err != nil {
		return Application{}, err
	}
	var orgID *uuid.UUID
	if params.SetOrganization && params.OrganizationID != nil {
		id, err := parseID("Organization", *params.OrganizationID)
		if err != nil {
			return Application{}, err
		}
		orgID = &id
	}

	var out Application
	err = s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockApplication(ctx, tx, appID); err != nil {
			return err
		}
		if params.Name != nil {
			if _, err := tx.Exec(ctx, `UPDATE applications SET name = $1 WHERE application_id = $2`, *params.Name, appID); err != nil {
				return err
			}
		}
		if params.SetOwner {
			if err := setOwner(ctx, tx, appID, params.OwnerID); err != nil {
				return err
			}
		}
		if params.SetOrganization {
			if err := setApplicationOrganization(ctx, tx, appID, orgID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE applications SET updated_at = now() WHERE application_id = $1`, appID); err != nil {
			return err
		}
		app, err := loadApplication(ctx, tx, appID)
		if err != nil {
			return err
		}
		out = app
		return nil
	})
	return out, err
}

// RegenerateAPIKey replaces the api key of an application.
func (s *Store) RegenerateAPIKey(ctx context.Context, id string) (Application, error) {
	appID, err := parseID("Application", id)
	if err != nil {
		return Application{}, err
	}
	apiKey, err := newAPIKey()
	if err != nil {
		return Application{}, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications SET api_key_value = $1, updated_at = now() WHERE application_id = $2
	`, apiKey, appID)
	if err != nil {
		return Application{}, translate(err)
	}
	if tag.RowsAffected() == 0 {
		return Application{}, notFound("Application")
	}
	return loadApplication(ctx, s.pool, appID)
}

// DeleteApplication removes an application; its association rows go with it.
func (s *Store) DeleteApplication(ctx context.Context, id string) (Application, error) {
	appID, err := parseID("Application", id)
	if err != nil {
		return Application{}, err
	}
	var out Application
	err = s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		app, err := loadApplication(ctx, tx, appID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM applications WHERE application_id = $1`, appID); err != nil {
			return err
		}
		out = app
		return nil
	})
	return out, err
}

func loadApplication(ctx context.Context, q querier, id uuid.UUID) (Application, error) {
	row := q.QueryRow(ctx, `SELECT `+applicationColumns+applicationFrom+` WHERE a.application_id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, notFound("Application")
		}
		return Application{}, err
	}
	return app, nil
}

func scanApplication(row pgx.Row) (Application, error) {
	var (
		a     Application
		owner pgtype.Text
		org   pgtype.UUID
	)
	if err := row.Scan(&a.ID, &a.Name, &a.APIKeyValue, &owner, &org, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Application{}, err
	}
	a.OwnerID = textPtr(owner)
	a.OrganizationID = uuidPtr(org)
	return a, nil
}
