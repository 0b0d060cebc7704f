// Package authz decides whether a caller may act on an Application,
// Organization or User.
//
// Ownership is never denormalized. An Application's effective owners are its
// direct owner plus the ORG_ADMINs of the organization it belongs to, both
// read from the association tables on every check.
package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/metrics"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

// Kind is the type of resource being accessed.
type Kind string

const (
	KindApplication  Kind = "application"
	KindOrganization Kind = "organization"
	KindUser         Kind = "user"
)

// Intent is what the caller wants to do with the resource.
type Intent string

const (
	IntentRead       Intent = "read"
	IntentList       Intent = "list"
	IntentWrite      Intent = "write"
	IntentDelete     Intent = "delete"
	IntentSelfDelete Intent = "self-delete"
)

// managerLevel reports whether MANAGER is sufficient for the intent.
func (i Intent) managerLevel() bool {
	return i == IntentRead || i == IntentList
}

// Resource identifies the target of a decision. ID may be empty for list intents.
type Resource struct {
	Kind Kind
	ID   string
}

func Application(id string) Resource  { return Resource{Kind: KindApplication, ID: id} }
func Organization(id string) Resource { return Resource{Kind: KindOrganization, ID: id} }
func User(id string) Resource         { return Resource{Kind: KindUser, ID: id} }

// Caller is the authenticated principal of a request.
type Caller struct {
	ID    string
	Role  identity.Role
	Email string
	Apps  []string
}

// CallerFromClaims builds a Caller from verified token claims.
func CallerFromClaims(c *token.Claims) *Caller {
	if c == nil {
		return nil
	}
	return &Caller{ID: c.ID, Role: c.Role, Email: c.Email, Apps: c.ExtraUserData.Apps}
}

// IsAdmin reports whether the caller holds the global ADMIN role.
func (c *Caller) IsAdmin() bool { return c != nil && c.Role == identity.RoleAdmin }

// IsMicroservice reports whether the caller is another internal service.
func (c *Caller) IsMicroservice() bool {
	return c != nil && (c.ID == token.MicroserviceID || c.Role == identity.RoleMicroservice)
}

// Associations is the read side of the association store used for decisions.
type Associations interface {
	IsApplicationOwner(ctx context.Context, applicationID uuid.UUID, userID string) (bool, error)
	IsOrganizationAdminOfApplication(ctx context.Context, applicationID uuid.UUID, userID string) (bool, error)
	ListApplicationsOwnedBy(ctx context.Context, userID string) ([]uuid.UUID, error)
	ListApplicationsForOrganizationAdmin(ctx context.Context, userID string) ([]uuid.UUID, error)
}

// Resolver evaluates the decision table against the association store.
type Resolver struct {
	store Associations
}

func NewResolver(store Associations) *Resolver {
	return &Resolver{store: store}
}

// Authorize returns nil when the caller may perform intent on target. Denials
// are *apierror.Error values with status 401 or 403. The first matching rule wins.
func (r *Resolver) Authorize(ctx context.Context, caller *Caller, target Resource, intent Intent) error {
	allowed, err := r.decide(ctx, caller, target, intent)
	switch {
	case err != nil:
		metrics.RecordAuthzDecision(string(target.Kind), string(intent), "error")
		return err
	case allowed:
		metrics.RecordAuthzDecision(string(target.Kind), string(intent), "allow")
		return nil
	case caller == nil:
		metrics.RecordAuthzDecision(string(target.Kind), string(intent), "unauthenticated")
		return apierror.Unauthenticated(apierror.DetailNotAuthenticated)
	default:
		metrics.RecordAuthzDecision(string(target.Kind), string(intent), "deny")
		return apierror.Forbidden()
	}
}

func (r *Resolver) decide(ctx context.Context, caller *Caller, target Resource, intent Intent) (bool, error) {
	if caller == nil {
		return false, nil
	}
	if caller.Role == identity.RoleAdmin {
		return true, nil
	}
	if intent.managerLevel() && caller.Role == identity.RoleManager {
		return true, nil
	}

	switch target.Kind {
	case KindApplication:
		return r.applicationAccess(ctx, caller, target.ID)
	case KindOrganization:
		// Organizations are ADMIN-only beyond manager reads. ORG_ADMIN membership
		// only reaches the organization's applications.
		return false, nil
	case KindUser:
		if intent == IntentSelfDelete {
			return caller.ID == target.ID || caller.ID == token.MicroserviceID, nil
		}
	}
	return false, nil
}

func (r *Resolver) applicationAccess(ctx context.Context, caller *Caller, rawID string) (bool, error) {
	appID, err := uuid.Parse(rawID)
	if err != nil {
		return false, nil
	}
	owner, err := r.store.IsApplicationOwner(ctx, appID, caller.ID)
	if err != nil {
		return false, fmt.Errorf("application owner: %w", err)
	}
	if owner {
		return true, nil
	}
	admin, err := r.store.IsOrganizationAdminOfApplication(ctx, appID, caller.ID)
	if err != nil {
		return false, fmt.Errorf("organization admin: %w", err)
	}
	return admin, nil
}

// VisibleApplications returns the application ids a non-admin caller may list:
// those it owns plus those of organizations it administers. A nil slice with
// a nil error means the caller sees everything.
func (r *Resolver) VisibleApplications(ctx context.Context, caller *Caller) ([]uuid.UUID, error) {
	if caller == nil {
		return nil, apierror.Unauthenticated(apierror.DetailNotAuthenticated)
	}
	if caller.Role == identity.RoleAdmin || caller.Role == identity.RoleManager {
		return nil, nil
	}
	owned, err := r.store.ListApplicationsOwnedBy(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("owned applications: %w", err)
	}
	administered, err := r.store.ListApplicationsForOrganizationAdmin(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("administered applications: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(owned)+len(administered))
	out := make([]uuid.UUID, 0, len(owned)+len(administered))
	for _, id := range append(owned, administered...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
