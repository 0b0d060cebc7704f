package applications

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/audit"
	"github.com/resource-watch/authentication-sub000/internal/authz"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/middleware"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres/postgrestest"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

type recordingEmitter struct {
	events []audit.Event
}

func (e *recordingEmitter) Emit(_ context.Context, event audit.Event) error {
	e.events = append(e.events, event)
	return nil
}

type fixture struct {
	store   *postgrestest.Store
	emitter *recordingEmitter
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: postgrestest.NewStore(), emitter: &recordingEmitter{}}
	r := chi.NewRouter()
	NewHandler(f.store, authz.NewResolver(f.store), f.emitter, zerolog.Nop()).Routes(r)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, caller *token.Claims, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req = req.WithContext(middleware.WithClaims(req.Context(), caller))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func claims(id string, role identity.Role) *token.Claims {
	return &token.Claims{ID: id, Role: role, ExtraUserData: token.ExtraUserData{Apps: []string{}}}
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) createApp(t *testing.T, name string, owner, org *string) postgres.Application {
	t.Helper()
	app, err := f.store.CreateApplication(context.Background(), postgres.CreateApplicationParams{Name: name, OwnerID: owner, OrganizationID: org})
	require.NoError(t, err)
	return app
}

type resourceDoc struct {
	Data struct {
		ID         string     `json:"id"`
		Type       string     `json:"type"`
		Attributes Attributes `json:"attributes"`
	} `json:"data"`
}

func decodeResource(t *testing.T, w *httptest.ResponseRecorder) resourceDoc {
	t.Helper()
	var doc resourceDoc
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	return doc
}

func errorDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var doc jsonapi.ErrorDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Errors, 1)
	return doc.Errors[0].Detail
}

func TestGetApplicationUnauthenticated(t *testing.T) {
	f := newFixture(t)
	app := f.createApp(t, "gfw", ptr("owner"), nil)

	w := f.do(t, http.MethodGet, "/api/v1/application/"+app.ID.String(), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Not authenticated", errorDetail(t, w))
}

func TestGetApplicationByDirectOwner(t *testing.T) {
	f := newFixture(t)
	app := f.createApp(t, "gfw", ptr("owner"), nil)

	w := f.do(t, http.MethodGet, "/api/v1/application/"+app.ID.String(), claims("owner", identity.RoleUser), nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decodeResource(t, w)
	assert.Equal(t, "gfw", doc.Data.Attributes.Name)
	assert.Equal(t, ResourceType, doc.Data.Type)
	assert.Equal(t, app.ID.String(), doc.Data.ID)
}

func TestGetApplicationByOrganizationAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org, err := f.store.CreateOrganization(ctx, postgres.CreateOrganizationParams{
		Name:    "wri",
		Members: []postgres.MemberParams{{UserID: "orgadmin", Role: postgres.OrgRoleAdmin}, {UserID: "member", Role: postgres.OrgRoleMember}},
	})
	require.NoError(t, err)
	app := f.createApp(t, "rw", nil, ptr(org.ID.String()))

	w := f.do(t, http.MethodGet, "/api/v1/application/"+app.ID.String(), claims("orgadmin", identity.RoleUser), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rw", decodeResource(t, w).Data.Attributes.Name)

	w = f.do(t, http.MethodGet, "/api/v1/application/"+app.ID.String(), claims("member", identity.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Not authorized", errorDetail(t, w))
}

func TestGetApplicationNotFoundForAdmin(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"not-a-uuid", "6f1c1d0e-8b0a-4a8e-9d7c-111111111111"} {
		w := f.do(t, http.MethodGet, "/api/v1/application/"+id, claims("root", identity.RoleAdmin), nil)
		assert.Equal(t, http.StatusNotFound, w.Code, id)
		assert.Equal(t, "Application not found", errorDetail(t, w), id)
	}
}

func TestGetApplicationHidesExistenceFromStrangers(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/application/6f1c1d0e-8b0a-4a8e-9d7c-111111111111", claims("someone", identity.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWriteRequiresOwnershipPath(t *testing.T) {
	f := newFixture(t)
	app := f.createApp(t, "gfw", ptr("owner"), nil)
	path := "/api/v1/application/" + app.ID.String()

	w := f.do(t, http.MethodPatch, path, claims("stranger", identity.RoleUser), map[string]any{"name": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// MANAGER may read but not write.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, claims("mgr", identity.RoleManager), nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPatch, path, claims("mgr", identity.RoleManager), map[string]any{"name": "x"}).Code)

	w = f.do(t, http.MethodPatch, path, claims("owner", identity.RoleUser), map[string]any{"name": "renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "renamed", decodeResource(t, w).Data.Attributes.Name)
	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, audit.ActionApplicationUpdate, f.emitter.events[0].Action)
	assert.Equal(t, "owner", f.emitter.events[0].ActorID)
}

func TestOwnerCannotReassignApplication(t *testing.T) {
	f := newFixture(t)
	app := f.createApp(t, "gfw", ptr("owner"), nil)
	path := "/api/v1/application/" + app.ID.String()

	w := f.do(t, http.MethodPatch, path, claims("owner", identity.RoleUser), map[string]any{"user": "someone-else"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPatch, path, claims("root", identity.RoleAdmin), map[string]any{"user": nil})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodeResource(t, w).Data.Attributes.User)
}

func TestCreateApplication(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/application", nil, map[string]any{"name": "gfw"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/application", claims("u1", identity.RoleUser), map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/application", claims("u1", identity.RoleUser), map[string]any{"name": "gfw", "user": "u2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/application", claims("u1", identity.RoleUser), map[string]any{"name": "gfw"})
	require.Equal(t, http.StatusOK, w.Code)
	doc := decodeResource(t, w)
	require.NotNil(t, doc.Data.Attributes.User)
	assert.Equal(t, "u1", *doc.Data.Attributes.User)
	assert.Len(t, doc.Data.Attributes.APIKeyValue, 48)
}

func TestCreateApplicationWithUserAndOrganization(t *testing.T) {
	f := newFixture(t)
	org, err := f.store.CreateOrganization(context.Background(), postgres.CreateOrganizationParams{Name: "wri"})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/v1/application", claims("root", identity.RoleAdmin),
		map[string]any{"name": "gfw", "user": "u1", "organization": org.ID.String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	attrs := decodeResource(t, w).Data.Attributes
	require.NotNil(t, attrs.User)
	assert.Equal(t, "u1", *attrs.User)
	require.NotNil(t, attrs.Organization)
	assert.Equal(t, org.ID.String(), *attrs.Organization)
}

func TestListApplicationsIsScopedToCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.createApp(t, "mine", ptr("u1"), nil)
	f.createApp(t, "theirs", ptr("u2"), nil)
	org, err := f.store.CreateOrganization(ctx, postgres.CreateOrganizationParams{
		Name:    "wri",
		Members: []postgres.MemberParams{{UserID: "u1", Role: postgres.OrgRoleAdmin}},
	})
	require.NoError(t, err)
	viaOrg := f.createApp(t, "org-app", nil, ptr(org.ID.String()))

	list := func(caller *token.Claims) []string {
		w := f.do(t, http.MethodGet, "/api/v1/application", caller, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var doc struct {
			Data []jsonapi.Resource `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		ids := []string{}
		for _, d := range doc.Data {
			ids = append(ids, d.ID)
		}
		return ids
	}

	assert.ElementsMatch(t, []string{mine.ID.String(), viaOrg.ID.String()}, list(claims("u1", identity.RoleUser)))
	assert.Len(t, list(claims("root", identity.RoleAdmin)), 3)
	assert.Empty(t, list(claims("nobody", identity.RoleUser)))

	w := f.do(t, http.MethodGet, "/api/v1/application", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apierror.DetailNotAuthenticated, errorDetail(t, w))
}

func TestDeleteAndRegenerateKey(t *testing.T) {
	f := newFixture(t)
	app := f.createApp(t, "gfw", ptr("owner"), nil)
	path := "/api/v1/application/" + app.ID.String()

	w := f.do(t, http.MethodPost, path+"/regenerate-key", claims("owner", identity.RoleUser), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, app.APIKeyValue, decodeResource(t, w).Data.Attributes.APIKeyValue)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, path, claims("stranger", identity.RoleUser), nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, path, claims("owner", identity.RoleUser), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, claims("root", identity.RoleAdmin), nil).Code)
}
