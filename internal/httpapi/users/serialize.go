package users

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

// ResourceType is the JSON:API type of user documents.
const ResourceType = "user"

// ExtraUserData mirrors the token claim of the same name.
type ExtraUserData struct {
	Apps []string `json:"apps"`
}

// OrganizationRef is one organization membership of a user.
type OrganizationRef struct {
	ID   string           `json:"id"`
	Role postgres.OrgRole `json:"role"`
}

// Attributes is the JSON:API attribute set of a user.
type Attributes struct {
	Email         string            `json:"email"`
	Name          string            `json:"name,omitempty"`
	Photo         string            `json:"photo,omitempty"`
	Role          identity.Role     `json:"role"`
	Provider      identity.Provider `json:"provider"`
	ExtraUserData ExtraUserData     `json:"extraUserData"`
	Applications  []string          `json:"applications,omitempty"`
	Organizations []OrganizationRef `json:"organizations,omitempty"`
	CreatedAt     *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time        `json:"updatedAt,omitempty"`
}

// Serialize converts a user into a JSON:API resource keyed by legacyId.
func Serialize(u *identity.User) jsonapi.Resource {
	apps := u.Apps
	if apps == nil {
		apps = []string{}
	}
	attrs := Attributes{
		Email:         u.Email,
		Name:          u.Name,
		Photo:         u.Photo,
		Role:          u.Role,
		Provider:      u.Provider,
		ExtraUserData: ExtraUserData{Apps: apps},
	}
	if !u.CreatedAt.IsZero() {
		created := u.CreatedAt
		attrs.CreatedAt = &created
	}
	if !u.UpdatedAt.IsZero() {
		updated := u.UpdatedAt
		attrs.UpdatedAt = &updated
	}
	return jsonapi.Resource{ID: u.LegacyID, Type: ResourceType, Attributes: attrs}
}

// UserFromClaims rebuilds the user a token was issued for.
func UserFromClaims(c *token.Claims) *identity.User {
	u := &identity.User{
		LegacyID: c.ID,
		Email:    c.Email,
		Name:     c.Name,
		Photo:    c.Photo,
		Role:     c.Role,
		Provider: identity.Provider(c.Provider),
		Apps:     c.ExtraUserData.Apps,
	}
	if c.CreatedAt != nil {
		u.CreatedAt = *c.CreatedAt
	}
	return u
}

// Associations is the read side of the association store used to decorate
// single-user responses.
type Associations interface {
	ListApplicationsOwnedBy(ctx context.Context, userID string) ([]uuid.UUID, error)
	ListOrganizationsForMember(ctx context.Context, userID string) ([]uuid.UUID, error)
	OrganizationRole(ctx context.Context, organizationID uuid.UUID, userID string) (postgres.OrgRole, error)
}

// SerializeWithAssociations adds the applications the user owns and the
// organizations the user belongs to.
func SerializeWithAssociations(ctx context.Context, store Associations, u *identity.User) (jsonapi.Resource, error) {
	res := Serialize(u)
	attrs := res.Attributes.(Attributes)

	apps, err := store.ListApplicationsOwnedBy(ctx, u.LegacyID)
	if err != nil {
		return jsonapi.Resource{}, err
	}
	attrs.Applications = make([]string, 0, len(apps))
	for _, id := range apps {
		attrs.Applications = append(attrs.Applications, id.String())
	}

	orgs, err := store.ListOrganizationsForMember(ctx, u.LegacyID)
	if err != nil {
		return jsonapi.Resource{}, err
	}
	attrs.Organizations = make([]OrganizationRef, 0, len(orgs))
	for _, id := range orgs {
		role, err := store.OrganizationRole(ctx, id, u.LegacyID)
		if err != nil {
			return jsonapi.Resource{}, err
		}
		attrs.Organizations = append(attrs.Organizations, OrganizationRef{ID: id.String(), Role: role})
	}

	res.Attributes = attrs
	return res, nil
}
