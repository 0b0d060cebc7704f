package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SetApplicationOwner replaces the owning user of an application. A nil
// userID removes the owner.
func (s *Store) SetApplicationOwner(ctx context.Context, applicationID string, userID *string) error {
	appID, err := parseID("Application", applicationID)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockApplication(ctx, tx, appID); err != nil {
			return err
		}
		return setOwner(ctx, tx, appID, userID)
	})
}

// SetOrganizationMembership upserts a membership. A nil role removes it.
func (s *Store) SetOrganizationMembership(ctx context.Context, organizationID, userID string, role *OrgRole) error {
	orgID, err := parseID("Organization", organizationID)
	if err != nil {
		return err
	}
	if role != nil && !role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidMembership, *role)
	}
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		if role == nil {
			_, err := tx.Exec(ctx, `DELETE FROM organization_users WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO organization_users (organization_id, user_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (organization_id, user_id) DO UPDATE SET role = EXCLUDED.role
		`, orgID, userID, string(*role))
		return translate(err)
	})
}

// SetApplicationOrganization moves an application into an organization. A
// nil organizationID detaches it.
func (s *Store) SetApplicationOrganization(ctx context.Context, applicationID string, organizationID *string) error {
	appID, err := parseID("Application", applicationID)
	if err != nil {
		return err
	}
	var orgID *uuid.UUID
	if organizationID != nil {
		id, err := parseID("Organization", *organizationID)
		if err != nil {
			return err
		}
		orgID = &id
	}
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockApplication(ctx, tx, appID); err != nil {
			return err
		}
		return setApplicationOrganization(ctx, tx, appID, orgID)
	})
}

// CascadeDeleteUserAssociations removes every ApplicationUser and
// OrganizationUser row for userID. Applications and organizations are kept.
func (s *Store) CascadeDeleteUserAssociations(ctx context.Context, userID string) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM application_users WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete application owners: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM organization_users WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete organization memberships: %w", err)
		}
		return nil
	})
}

// CascadeDeleteOrganization deletes an organization and its memberships.
// It fails with ErrHasApplications, leaving everything intact, when any
// application still belongs to the organization.
func (s *Store) CascadeDeleteOrganization(ctx context.Context, organizationID string) (Organization, error) {
	orgID, err := parseID("Organization", organizationID)
	if err != nil {
		return Organization{}, err
	}

	var out Organization
	err = s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		hasApps, err := exists(ctx, tx, `SELECT 1 FROM organization_applications WHERE organization_id = $1`, orgID)
		if err != nil {
			return err
		}
		if hasApps {
			return ErrHasApplications
		}

		org, err := loadOrganization(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM organization_users WHERE organization_id = $1`, orgID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM organizations WHERE organization_id = $1`, orgID); err != nil {
			return err
		}
		out = org
		return nil
	})
	return out, err
}

// ListApplicationsForOrganizationAdmin returns the ids of applications that
// belong to organizations where userID is ORG_ADMIN.
func (s *Store) ListApplicationsForOrganizationAdmin(ctx context.Context, userID string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT oa.application_id
		FROM organization_users ou
		JOIN organization_applications oa ON oa.organization_id = ou.organization_id
		WHERE ou.user_id = $1 AND ou.role = 'ORG_ADMIN'
		ORDER BY oa.application_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectUUIDs(rows)
}

// ListApplicationsOwnedBy returns the ids of applications directly owned by userID.
func (s *Store) ListApplicationsOwnedBy(ctx context.Context, userID string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT application_id FROM application_users WHERE user_id = $1 ORDER BY application_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectUUIDs(rows)
}

// IsApplicationOwner reports whether userID directly owns the application.
func (s *Store) IsApplicationOwner(ctx context.Context, applicationID uuid.UUID, userID string) (bool, error) {
	return exists(ctx, s.pool, `
		SELECT 1 FROM application_users WHERE application_id = $1 AND user_id = $2
	`, applicationID, userID)
}

// IsOrganizationAdminOfApplication reports whether userID is ORG_ADMIN of the
// organization owning the application.
func (s *Store) IsOrganizationAdminOfApplication(ctx context.Context, applicationID uuid.UUID, userID string) (bool, error) {
	return exists(ctx, s.pool, `
		SELECT 1
		FROM organization_applications oa
		JOIN organization_users ou ON ou.organization_id = oa.organization_id
		WHERE oa.application_id = $1 AND ou.user_id = $2 AND ou.role = 'ORG_ADMIN'
	`, applicationID, userID)
}

// OrganizationRole returns the caller's membership role, or "" when not a member.
func (s *Store) OrganizationRole(ctx context.Context, organizationID uuid.UUID, userID string) (OrgRole, error) {
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT role FROM organization_users WHERE organization_id = $1 AND user_id = $2
	`, organizationID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return OrgRole(role), nil
}

// ListOrganizationsForMember returns the ids of organizations userID belongs to.
func (s *Store) ListOrganizationsForMember(ctx context.Context, userID string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT organization_id FROM organization_users WHERE user_id = $1 ORDER BY organization_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectUUIDs(rows)
}

func lockApplication(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var found uuid.UUID
	err := tx.QueryRow(ctx, `SELECT application_id FROM applications WHERE application_id = $1 FOR UPDATE`, id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("Application")
	}
	return err
}

func lockOrganization(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var found uuid.UUID
	err := tx.QueryRow(ctx, `SELECT organization_id FROM organizations WHERE organization_id = $1 FOR UPDATE`, id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("Organization")
	}
	return err
}

func setOwner(ctx context.Context, tx pgx.Tx, appID uuid.UUID, userID *string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM application_users WHERE application_id = $1`, appID); err != nil {
		return err
	}
	if userID == nil || *userID == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `INSERT INTO application_users (application_id, user_id) VALUES ($1, $2)`, appID, *userID)
	return translate(err)
}

func setApplicationOrganization(ctx context.Context, tx pgx.Tx, appID uuid.UUID, orgID *uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM organization_applications WHERE application_id = $1`, appID); err != nil {
		return err
	}
	if orgID == nil {
		return nil
	}
	if err := lockOrganization(ctx, tx, *orgID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `INSERT INTO organization_applications (application_id, organization_id) VALUES ($1, $2)`, appID, *orgID)
	return translate(err)
}
