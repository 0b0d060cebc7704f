package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOkta struct {
	t        *testing.T
	users    map[string]*oktaUser // by okta id
	password map[string]string
	searches []string
}

func newFakeOkta(t *testing.T) (*fakeOkta, *OktaDirectory) {
	t.Helper()
	f := &fakeOkta{t: t, users: map[string]*oktaUser{}, password: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	dir := NewOktaDirectory(OktaConfig{BaseURL: srv.URL, APIToken: "token", Timeout: time.Second}, zerolog.Nop())
	return f, dir
}

func (f *fakeOkta) add(id string, p oktaProfile) {
	f.users[id] = &oktaUser{ID: id, Status: "ACTIVE", Created: time.Now().UTC(), LastUpdated: time.Now().UTC(), Profile: p}
}

func (f *fakeOkta) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "SSWS token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/api/v1/users":
		search := r.URL.Query().Get("search")
		f.searches = append(f.searches, search)
		var out []oktaUser
		for _, u := range f.users {
			if search == "" ||
				strings.Contains(search, `"`+u.Profile.LegacyID+`"`) ||
				strings.Contains(search, `"`+u.Profile.Email+`"`) {
				out = append(out, *u)
			}
		}
		if r.URL.Query().Get("after") == "" && search == "" && len(out) > 0 {
			w.Header().Add("Link", `<https://okta.example/api/v1/users?limit=1>; rel="self"`)
			w.Header().Add("Link", `<https://okta.example/api/v1/users?after=cursor-2&limit=1>; rel="next"`)
		}
		_ = json.NewEncoder(w).Encode(out)
	case r.Method == http.MethodPost && path == "/api/v1/users":
		var body struct {
			Profile     oktaProfile `json:"profile"`
			Credentials struct {
				Password struct {
					Value string `json:"value"`
				} `json:"password"`
			} `json:"credentials"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		id := "okta-" + body.Profile.LegacyID
		f.add(id, body.Profile)
		f.password[body.Profile.Email] = body.Credentials.Password.Value
		_ = json.NewEncoder(w).Encode(f.users[id])
	case r.Method == http.MethodPost && path == "/api/v1/authn":
		var body map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		for id, u := range f.users {
			if u.Profile.Email == body["username"] && f.password[u.Profile.Email] == body["password"] {
				_, _ = w.Write([]byte(`{"status":"SUCCESS","_embedded":{"user":{"id":"` + id + `"}}}`))
				return
			}
		}
		w.WriteHeader(http.StatusUnauthorized)
	case strings.HasPrefix(path, "/api/v1/users/"):
		rest := strings.TrimPrefix(path, "/api/v1/users/")
		id, action, _ := strings.Cut(rest, "/")
		u, ok := f.users[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(u)
		case r.Method == http.MethodPost && action == "":
			var body struct {
				Profile map[string]any `json:"profile"`
			}
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			if v, ok := body.Profile["role"].(string); ok {
				u.Profile.Role = v
			}
			if v, ok := body.Profile["displayName"].(string); ok {
				u.Profile.DisplayName = v
			}
			_ = json.NewEncoder(w).Encode(u)
		case r.Method == http.MethodPost && action == "lifecycle/deactivate":
			u.Status = "DEPROVISIONED"
		case r.Method == http.MethodPost && action == "lifecycle/reset_password":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete:
			delete(f.users, id)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func TestOktaDirectoryNormalizesProfile(t *testing.T) {
	f, dir := newFakeOkta(t)
	f.add("00u1", oktaProfile{Email: "ana@example.com", LegacyID: "legacy-1", DisplayName: "Ana", Role: "MANAGER", Provider: "google", ProviderID: "g-1", Apps: []string{"rw"}})

	u, err := dir.GetByLegacyID(context.Background(), "legacy-1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "legacy-1", u.LegacyID)
	assert.Equal(t, "Ana", u.Name)
	assert.Equal(t, RoleManager, u.Role)
	assert.Equal(t, ProviderGoogle, u.Provider)
	assert.Equal(t, []string{"rw"}, u.Apps)
	assert.Contains(t, f.searches[0], `profile.legacyId eq "legacy-1"`)
}

func TestOktaDirectoryLookupMissReturnsNil(t *testing.T) {
	_, dir := newFakeOkta(t)
	u, err := dir.GetByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestOktaDirectoryDefaultsUnknownRole(t *testing.T) {
	f, dir := newFakeOkta(t)
	f.add("00u1", oktaProfile{Email: "a@example.com", LegacyID: "l1"})

	u, err := dir.GetByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, ProviderLocal, u.Provider)
	assert.NotNil(t, u.Apps)
}

func TestOktaDirectoryCreateAndAuthenticate(t *testing.T) {
	_, dir := newFakeOkta(t)
	ctx := context.Background()

	created, err := dir.Create(ctx, NewUser{Email: "New@Example.com", Name: "New User", Password: "secret-pass", Apps: []string{"gfw"}})
	require.NoError(t, err)
	assert.Len(t, created.LegacyID, 24)
	assert.Equal(t, "new@example.com", created.Email)
	assert.Equal(t, RoleUser, created.Role)

	_, err = dir.Create(ctx, NewUser{Email: "new@example.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	u, err := dir.Authenticate(ctx, "new@example.com", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, created.LegacyID, u.LegacyID)

	_, err = dir.Authenticate(ctx, "new@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = dir.Authenticate(ctx, "unknown@example.com", "secret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestOktaDirectoryUpdateAndDelete(t *testing.T) {
	f, dir := newFakeOkta(t)
	f.add("00u1", oktaProfile{Email: "a@example.com", LegacyID: "l1", Role: "USER"})
	ctx := context.Background()

	admin := RoleAdmin
	u, err := dir.Update(ctx, "l1", Changes{Role: &admin})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)

	_, err = dir.Update(ctx, "missing", Changes{Role: &admin})
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := dir.Delete(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "l1", deleted.LegacyID)
	assert.Empty(t, f.users)

	_, err = dir.Delete(ctx, "l1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOktaDirectoryListReadsNextCursor(t *testing.T) {
	f, dir := newFakeOkta(t)
	f.add("00u1", oktaProfile{Email: "a@example.com", LegacyID: "l1"})

	res, err := dir.List(context.Background(), Filter{}, ListRequest{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Users, 1)
	assert.Equal(t, "cursor-2", res.NextAfter)
}

func TestOktaDirectoryRejectedCredentials(t *testing.T) {
	f, _ := newFakeOkta(t)
	srv := httptest.NewServer(f)
	defer srv.Close()
	dir := NewOktaDirectory(OktaConfig{BaseURL: srv.URL, APIToken: "wrong"}, zerolog.Nop())

	_, err := dir.GetByEmail(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, ErrUpstreamUnauthorized)
}

func TestSearchExpression(t *testing.T) {
	expr := searchExpression(Filter{Name: `Jo"e`, Role: RoleAdmin, App: "rw", IDs: []string{"a", "b"}})
	assert.Equal(t,
		`profile.displayName sw "Jo\"e" and profile.role eq "ADMIN" and profile.apps eq "rw" and (profile.legacyId eq "a" or profile.legacyId eq "b")`,
		expr)
}

func TestSameAppsIgnoresOrder(t *testing.T) {
	assert.True(t, SameApps([]string{"rw", "gfw"}, []string{"gfw", "rw"}))
	assert.True(t, SameApps(nil, []string{}))
	assert.False(t, SameApps([]string{"rw"}, []string{"rw", "gfw"}))
}
