package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateOrganization inserts an organization with its members and applications.
func (s *Store) CreateOrganization(ctx context.Context, params CreateOrganizationParams) (Organization, error) {
	appIDs, err := parseApplicationIDs(params.ApplicationIDs)
	if err != nil {
		return Organization{}, err
	}
	if err := validateMembers(params.Members); err != nil {
		return Organization{}, err
	}

	orgID := uuid.New()
	var out Organization
	err = s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO organizations (organization_id, name) VALUES ($1, $2)`, orgID, params.Name); err != nil {
			return translate(err)
		}
		if err := replaceMembers(ctx, tx, orgID, params.Members); err != nil {
			return err
		}
		if err := replaceApplications(ctx, tx, orgID, appIDs); err != nil {
			return err
		}
		org, err := loadOrganization(ctx, tx, orgID)
		if err != nil {
			return err
		}
		out = org
		return nil
	})
	return out, err
}

// GetOrganization retrieves an organization with its members and application ids.
func (s *Store) GetOrganization(ctx context.Context, id string) (Organization, error) {
	orgID, err := parseID("Organization", id)
	if err != nil {
		return Organization{}, err
	}
	return loadOrganization(ctx, s.pool, orgID)
}

// ListOrganizations returns a page of organizations and the total match count.
func (s *Store) ListOrganizations(ctx context.Context, filter OrganizationFilter) ([]Organization, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.IDs != nil {
		args = append(args, filter.IDs)
		clauses = append(clauses, fmt.Sprintf("organization_id = ANY($%d)", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit, max(filter.Offset, 0))
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT organization_id FROM organizations %s ORDER BY created_at, organization_id LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	ids, err := collectUUIDs(rows)
	if err != nil {
		return nil, 0, err
	}

	orgs := make([]Organization, 0, len(ids))
	for _, id := range ids {
		org, err := loadOrganization(ctx, s.pool, id)
		if err != nil {
			return nil, 0, err
		}
		orgs = append(orgs, org)
	}
	return orgs, total, nil
}

// UpdateOrganization renames an organization and optionally replaces its
// member and application sets.
func (s *Store) UpdateOrganization(ctx context.Context, params UpdateOrganizationParams) (Organization, error) {
	orgID, err := parseID("Organization", params.ID)
	if err != nil {
		return Organization{}, err
	}
	var appIDs []uuid.UUID
	if params.ApplicationIDs != nil {
		if appIDs, err = parseApplicationIDs(*params.ApplicationIDs); err != nil {
			return Organization{}, err
		}
	}
	if params.Members != nil {
		if err := validateMembers(*params.Members); err != nil {
			return Organization{}, err
		}
	}

	var out Organization
	err = s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		if params.Name != nil {
			if _, err := tx.Exec(ctx, `UPDATE organizations SET name = $1 WHERE organization_id = $2`, *params.Name, orgID); err != nil {
				return err
			}
		}
		if params.Members != nil {
			if err := replaceMembers(ctx, tx, orgID, *params.Members); err != nil {
				return err
			}
		}
		if params.ApplicationIDs != nil {
			if err := replaceApplications(ctx, tx, orgID, appIDs); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE organizations SET updated_at = now() WHERE organization_id = $1`, orgID); err != nil {
			return err
		}
		org, err := loadOrganization(ctx, tx, orgID)
		if err != nil {
			return err
		}
		out = org
		return nil
	})
	return out, err
}

func parseApplicationIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := parseID("Application", r)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func validateMembers(members []MemberParams) error {
	seen := map[string]bool{}
	for _, m := range members {
		if m.UserID == "" || !m.Role.Valid() {
			return fmt.Errorf("%w: member %q with role %q", ErrInvalidMembership, m.UserID, m.Role)
		}
		if seen[m.UserID] {
			return fmt.Errorf("%w: user %s listed twice", ErrConflict, m.UserID)
		}
		seen[m.UserID] = true
	}
	return nil
}

func replaceMembers(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, members []MemberParams) error {
	if _, err := tx.Exec(ctx, `DELETE FROM organization_users WHERE organization_id = $1`, orgID); err != nil {
		return err
	}
	for _, m := range members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO organization_users (organization_id, user_id, role) VALUES ($1, $2, $3)
		`, orgID, m.UserID, string(m.Role)); err != nil {
			return translate(err)
		}
	}
	return nil
}

// replaceApplications makes appIDs the organization's exact application set.
// Applications are moved out of any organization they previously belonged to.
func replaceApplications(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, appIDs []uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM organization_applications WHERE organization_id = $1`, orgID); err != nil {
		return err
	}
	for _, appID := range appIDs {
		if err := lockApplication(ctx, tx, appID); err != nil {
			return err
		}
		if err := setApplicationOrganization(ctx, tx, appID, &orgID); err != nil {
			return err
		}
	}
	return nil
}

func loadOrganization(ctx context.Context, q querier, id uuid.UUID) (Organization, error) {
	var org Organization
	err := q.QueryRow(ctx, `
		SELECT organization_id, name, created_at, updated_at FROM organizations WHERE organization_id = $1
	`, id).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, notFound("Organization")
		}
		return Organization{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT organization_id, user_id, role FROM organization_users WHERE organization_id = $1 ORDER BY created_at, user_id
	`, id)
	if err != nil {
		return Organization{}, err
	}
	org.Members, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Membership, error) {
		var (
			m    Membership
			role string
		)
		err := row.Scan(&m.OrganizationID, &m.UserID, &role)
		m.Role = OrgRole(role)
		return m, err
	})
	if err != nil {
		return Organization{}, err
	}

	rows, err = q.Query(ctx, `
		SELECT application_id FROM organization_applications WHERE organization_id = $1 ORDER BY created_at, application_id
	`, id)
	if err != nil {
		return Organization{}, err
	}
	org.ApplicationIDs, err = collectUUIDs(rows)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}
