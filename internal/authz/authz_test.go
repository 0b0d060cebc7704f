package authz

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

type fakeAssociations struct {
	owners     map[uuid.UUID]string
	appOrg     map[uuid.UUID]uuid.UUID
	membership map[uuid.UUID]map[string]postgres.OrgRole
	err        error
}

func newFakeAssociations() *fakeAssociations {
	return &fakeAssociations{
		owners:     map[uuid.UUID]string{},
		appOrg:     map[uuid.UUID]uuid.UUID{},
		membership: map[uuid.UUID]map[string]postgres.OrgRole{},
	}
}

func (f *fakeAssociations) member(org uuid.UUID, user string, role postgres.OrgRole) {
	if f.membership[org] == nil {
		f.membership[org] = map[string]postgres.OrgRole{}
	}
	f.membership[org][user] = role
}

func (f *fakeAssociations) IsApplicationOwner(_ context.Context, app uuid.UUID, user string) (bool, error) {
	return f.owners[app] == user, f.err
}

func (f *fakeAssociations) IsOrganizationAdminOfApplication(_ context.Context, app uuid.UUID, user string) (bool, error) {
	org, ok := f.appOrg[app]
	if !ok {
		return false, f.err
	}
	return f.membership[org][user] == postgres.OrgRoleAdmin, f.err
}

func (f *fakeAssociations) ListApplicationsOwnedBy(_ context.Context, user string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for app, owner := range f.owners {
		if owner == user {
			out = append(out, app)
		}
	}
	return out, f.err
}

func (f *fakeAssociations) ListApplicationsForOrganizationAdmin(_ context.Context, user string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for app, org := range f.appOrg {
		if f.membership[org][user] == postgres.OrgRoleAdmin {
			out = append(out, app)
		}
	}
	return out, f.err
}

func caller(id string, role identity.Role) *Caller {
	return &Caller{ID: id, Role: role}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return http.StatusOK
	}
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	return apiErr.Status
}

func TestAuthorizeDecisionTable(t *testing.T) {
	store := newFakeAssociations()
	owned, orgApp, stray := uuid.New(), uuid.New(), uuid.New()
	org := uuid.New()
	store.owners[owned] = "owner"
	store.appOrg[orgApp] = org
	store.member(org, "org-admin", postgres.OrgRoleAdmin)
	store.member(org, "org-member", postgres.OrgRoleMember)
	resolver := NewResolver(store)
	ctx := context.Background()

	tests := []struct {
		name   string
		caller *Caller
		target Resource
		intent Intent
		want   int
	}{
		{"anonymous", nil, Application(owned.String()), IntentRead, http.StatusUnauthorized},
		{"admin on stray app", caller("a", identity.RoleAdmin), Application(stray.String()), IntentDelete, http.StatusOK},
		{"admin on organization", caller("a", identity.RoleAdmin), Organization(org.String()), IntentDelete, http.StatusOK},
		{"manager reads", caller("m", identity.RoleManager), Application(stray.String()), IntentRead, http.StatusOK},
		{"manager lists users", caller("m", identity.RoleManager), User(""), IntentList, http.StatusOK},
		{"manager cannot write", caller("m", identity.RoleManager), Application(stray.String()), IntentWrite, http.StatusForbidden},
		{"direct owner writes", caller("owner", identity.RoleUser), Application(owned.String()), IntentWrite, http.StatusOK},
		{"org admin writes org app", caller("org-admin", identity.RoleUser), Application(orgApp.String()), IntentWrite, http.StatusOK},
		{"org member denied", caller("org-member", identity.RoleUser), Application(orgApp.String()), IntentRead, http.StatusForbidden},
		{"stranger denied", caller("x", identity.RoleUser), Application(owned.String()), IntentRead, http.StatusForbidden},
		{"malformed app id denied", caller("owner", identity.RoleUser), Application("nope"), IntentRead, http.StatusForbidden},
		{"org admin cannot read org", caller("org-admin", identity.RoleUser), Organization(org.String()), IntentRead, http.StatusForbidden},
		{"org admin cannot list orgs", caller("org-admin", identity.RoleUser), Organization(""), IntentList, http.StatusForbidden},
		{"manager reads org", caller("m", identity.RoleManager), Organization(org.String()), IntentRead, http.StatusOK},
		{"org admin cannot update org", caller("org-admin", identity.RoleUser), Organization(org.String()), IntentWrite, http.StatusForbidden},
		{"org admin cannot delete org", caller("org-admin", identity.RoleUser), Organization(org.String()), IntentDelete, http.StatusForbidden},
		{"org member cannot read org", caller("org-member", identity.RoleUser), Organization(org.String()), IntentRead, http.StatusForbidden},
		{"self delete", caller("u1", identity.RoleUser), User("u1"), IntentSelfDelete, http.StatusOK},
		{"delete someone else", caller("u1", identity.RoleUser), User("u2"), IntentSelfDelete, http.StatusForbidden},
		{"microservice delete", caller(token.MicroserviceID, identity.RoleMicroservice), User("u2"), IntentSelfDelete, http.StatusOK},
		{"user cannot read other user", caller("u1", identity.RoleUser), User("u2"), IntentRead, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := resolver.Authorize(ctx, tt.caller, tt.target, tt.intent)
			assert.Equal(t, tt.want, statusOf(t, err))
		})
	}
}

func TestAuthorizeDenialDetails(t *testing.T) {
	resolver := NewResolver(newFakeAssociations())
	ctx := context.Background()

	err := resolver.Authorize(ctx, nil, Application(uuid.NewString()), IntentRead)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Not authenticated", apiErr.Detail)

	err = resolver.Authorize(ctx, caller("u", identity.RoleUser), Application(uuid.NewString()), IntentRead)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Not authorized", apiErr.Detail)
}

// Whatever a lesser role may do, ADMIN may do too.
func TestAuthorizeAdminDominatesLesserRoles(t *testing.T) {
	store := newFakeAssociations()
	app, org := uuid.New(), uuid.New()
	store.owners[app] = "u"
	store.appOrg[app] = org
	store.member(org, "u", postgres.OrgRoleAdmin)
	resolver := NewResolver(store)
	ctx := context.Background()

	targets := []Resource{Application(app.String()), Organization(org.String()), User("u"), User("")}
	intents := []Intent{IntentRead, IntentList, IntentWrite, IntentDelete, IntentSelfDelete}
	lesser := []identity.Role{identity.RoleUser, identity.RoleManager, identity.RoleMicroservice}

	for _, target := range targets {
		for _, intent := range intents {
			for _, role := range lesser {
				if resolver.Authorize(ctx, caller("u", role), target, intent) != nil {
					continue
				}
				assert.NoError(t, resolver.Authorize(ctx, caller("u", identity.RoleAdmin), target, intent),
					"%s %s allowed for %s but not ADMIN", intent, target.Kind, role)
			}
		}
	}
}

// Write access to an application is granted only by direct ownership,
// ORG_ADMIN of the owning organization, or the ADMIN role.
func TestAuthorizeApplicationWritePaths(t *testing.T) {
	store := newFakeAssociations()
	app, org, otherOrg := uuid.New(), uuid.New(), uuid.New()
	store.owners[app] = "owner"
	store.appOrg[app] = org
	store.member(org, "org-admin", postgres.OrgRoleAdmin)
	store.member(org, "org-member", postgres.OrgRoleMember)
	store.member(otherOrg, "other-admin", postgres.OrgRoleAdmin)
	resolver := NewResolver(store)
	ctx := context.Background()

	allowed := map[string]bool{"owner": true, "org-admin": true}
	for _, id := range []string{"owner", "org-admin", "org-member", "other-admin", "stranger"} {
		for _, role := range []identity.Role{identity.RoleUser, identity.RoleManager, identity.RoleMicroservice} {
			err := resolver.Authorize(ctx, caller(id, role), Application(app.String()), IntentWrite)
			assert.Equal(t, allowed[id], err == nil, "caller %s with role %s", id, role)
		}
	}
}

func TestAuthorizePropagatesStoreErrors(t *testing.T) {
	store := newFakeAssociations()
	store.err = errors.New("connection refused")
	resolver := NewResolver(store)

	err := resolver.Authorize(context.Background(), caller("u", identity.RoleUser), Application(uuid.NewString()), IntentRead)
	require.Error(t, err)
	var apiErr *apierror.Error
	assert.False(t, errors.As(err, &apiErr))
}

func TestVisibleApplications(t *testing.T) {
	store := newFakeAssociations()
	owned, orgApp, both := uuid.New(), uuid.New(), uuid.New()
	org := uuid.New()
	store.owners[owned] = "u"
	store.owners[both] = "u"
	store.appOrg[orgApp] = org
	store.appOrg[both] = org
	store.member(org, "u", postgres.OrgRoleAdmin)
	resolver := NewResolver(store)
	ctx := context.Background()

	ids, err := resolver.VisibleApplications(ctx, caller("u", identity.RoleUser))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{owned, orgApp, both}, ids)

	ids, err = resolver.VisibleApplications(ctx, caller("stranger", identity.RoleUser))
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)

	ids, err = resolver.VisibleApplications(ctx, caller("a", identity.RoleAdmin))
	require.NoError(t, err)
	assert.Nil(t, ids)

	_, err = resolver.VisibleApplications(ctx, nil)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
}

func TestCallerFromClaims(t *testing.T) {
	assert.Nil(t, CallerFromClaims(nil))

	c := CallerFromClaims(&token.Claims{ID: "u1", Role: identity.RoleManager, Email: "a@b.c",
		ExtraUserData: token.ExtraUserData{Apps: []string{"rw"}}})
	assert.Equal(t, &Caller{ID: "u1", Role: identity.RoleManager, Email: "a@b.c", Apps: []string{"rw"}}, c)
	assert.False(t, c.IsAdmin())
	assert.False(t, c.IsMicroservice())
}
