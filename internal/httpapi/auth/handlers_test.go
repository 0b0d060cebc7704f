package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/audit"
	"github.com/resource-watch/authentication-sub000/internal/cache"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/middleware"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/identity/identitytest"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/notify"
	"github.com/resource-watch/authentication-sub000/internal/security"
	"github.com/resource-watch/authentication-sub000/internal/social"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingPublisher struct {
	jobs []notify.Job
}

func (p *recordingPublisher) Publish(_ context.Context, job notify.Job) error {
	p.jobs = append(p.jobs, job)
	return nil
}

type recordingEmitter struct {
	events []audit.Event
}

func (e *recordingEmitter) Emit(_ context.Context, event audit.Event) error {
	e.events = append(e.events, event)
	return nil
}

// fakeAdapter accepts codes and access tokens listed in profiles.
type fakeAdapter struct {
	provider identity.Provider
	profiles map[string]social.Profile
}

func (f *fakeAdapter) Provider() identity.Provider { return f.provider }

func (f *fakeAdapter) AuthCodeURL(state, _ string) string {
	return "https://provider.test/authorize?" + url.Values{"state": {state}}.Encode()
}

func (f *fakeAdapter) Exchange(_ context.Context, code, _ string) (social.Profile, error) {
	p, ok := f.profiles[code]
	if !ok {
		return social.Profile{}, &social.ProviderAuthError{Provider: f.provider, Reason: "code exchange failed"}
	}
	return p, nil
}

func (f *fakeAdapter) ProfileFromToken(ctx context.Context, tok string) (social.Profile, error) {
	return f.Exchange(ctx, tok, "")
}

type fixture struct {
	dir     *identitytest.Directory
	codec   *token.Codec
	redis   *miniredis.Miniredis
	google  *fakeAdapter
	mail    *recordingPublisher
	emitter *recordingEmitter
	router  http.Handler
}

func newFixture(t *testing.T, withSocial bool) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		dir:     identitytest.NewDirectory(),
		codec:   token.NewCodec([]byte(testSecret)),
		redis:   mr,
		google:  &fakeAdapter{provider: identity.ProviderGoogle, profiles: map[string]social.Profile{}},
		mail:    &recordingPublisher{},
		emitter: &recordingEmitter{},
	}
	deps := Dependencies{
		Directory: f.dir,
		Codec:     f.codec,
		Lockout:   security.NewLockoutTracker(client, security.LockoutConfig{MaxAttempts: 3, WindowDuration: time.Minute}),
		Audit:     f.emitter,
		Notify:    f.mail,
	}
	if withSocial {
		deps.Social = social.NewBridge(f.dir, cache.NewRedisCache(client), f.codec, zerolog.Nop(), f.google).
			AllowCallbackOrigins([]string{"https://app.example.org"})
	}
	h := NewHandler(deps, zerolog.Nop())
	r := chi.NewRouter()
	h.Routes(r)
	h.RenewalRoutes(r)
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

type sessionDoc struct {
	Data struct {
		ID         string          `json:"id"`
		Attributes TokenAttributes `json:"attributes"`
	} `json:"data"`
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) sessionDoc {
	t.Helper()
	var doc sessionDoc
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

func TestLoginIssuesToken(t *testing.T) {
	f := newFixture(t, false)
	user := f.dir.Add(identity.User{Email: "ana@example.com", Name: "Ana", Role: identity.RoleUser, Apps: []string{"rw"}}, "s3cret")

	w := f.do(t, http.MethodPost, "/auth/login", nil, LoginRequest{Email: "Ana@Example.com", Password: "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	doc := decodeSession(t, w)
	assert.Equal(t, user.LegacyID, doc.Data.ID)
	assert.Equal(t, "ana@example.com", doc.Data.Attributes.Email)

	claims, err := f.codec.Decode(doc.Data.Attributes.Token)
	require.NoError(t, err)
	assert.Equal(t, user.LegacyID, claims.ID)
	assert.Equal(t, []string{"rw"}, claims.ExtraUserData.Apps)

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, audit.ActionUserLogin, f.emitter.events[0].Action)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t, false)
	f.dir.Add(identity.User{Email: "ana@example.com", Role: identity.RoleUser}, "s3cret")

	wrong := f.do(t, http.MethodPost, "/auth/login", nil, LoginRequest{Email: "ana@example.com", Password: "nope"})
	unknown := f.do(t, http.MethodPost, "/auth/login", nil, LoginRequest{Email: "bob@example.com", Password: "nope"})
	empty := f.do(t, http.MethodPost, "/auth/login", nil, LoginRequest{})

	for _, w := range []*httptest.ResponseRecorder{wrong, unknown, empty} {
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, apierror.DetailInvalidCredentials, errorDetail(t, w))
	}
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestLoginThrottlesRepeatedFailures(t *testing.T) {
	f := newFixture(t, false)
	f.dir.Add(identity.User{Email: "ana@example.com", Role: identity.RoleUser}, "s3cret")

	for range 3 {
		w := f.do(t, http.MethodPost, "/auth/login", nil, LoginRequest{Email: "ana@example.com", Password: "nope"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := f.do(t, http.MethodPost, "/auth/login", nil, LoginRequest{Email: "ana@example.com", Password: "s3cret"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apierror.DetailInvalidCredentials, errorDetail(t, w))
	assert.Equal(t, 3, f.dir.Calls["Authenticate"])

	f.redis.FastForward(2 * time.Minute)
	w = f.do(t, http.MethodPost, "/auth/login", nil, LoginRequest{Email: "ana@example.com", Password: "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignUp(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/auth/sign-up", nil, SignUpRequest{Password: "a", RepeatPassword: "a"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Email is required", errorDetail(t, w))

	w = f.do(t, http.MethodPost, "/auth/sign-up", nil, SignUpRequest{Email: "new@example.com", Password: "a", RepeatPassword: "b"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Password and Repeat password not equal", errorDetail(t, w))

	body := SignUpRequest{Email: "new@example.com", Name: "New", Password: "pw", RepeatPassword: "pw", Apps: []string{"rw"}}
	w = f.do(t, http.MethodPost, "/auth/sign-up", nil, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"email":"new@example.com"`)
	require.Len(t, f.mail.jobs, 1)
	assert.Equal(t, notify.TemplateWelcome, f.mail.jobs[0].Template)
	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, audit.ActionUserSignUp, f.emitter.events[0].Action)

	w = f.do(t, http.MethodPost, "/auth/login", nil, LoginRequest{Email: "new@example.com", Password: "pw"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/auth/sign-up", nil, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email exists", errorDetail(t, w))
}

func TestResetPasswordAlwaysSucceeds(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/auth/reset-password", nil, ResetPasswordRequest{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.dir.Calls["ResetPassword"])

	w = f.do(t, http.MethodPost, "/auth/reset-password", nil, ResetPasswordRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCheckLogged(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/auth/check-logged", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	caller := &token.Claims{ID: "u1", Role: identity.RoleUser, Email: "ana@example.com", ExtraUserData: token.ExtraUserData{Apps: []string{"rw"}}}
	w = f.do(t, http.MethodGet, "/auth/check-logged", caller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"u1"`)
	assert.Contains(t, w.Body.String(), `"email":"ana@example.com"`)
	assert.Zero(t, f.dir.Calls["GetByLegacyID"])
}

func TestGenerateTokenUsesLiveProfile(t *testing.T) {
	f := newFixture(t, false)
	user := f.dir.Add(identity.User{Email: "ana@example.com", Role: identity.RoleUser, Apps: []string{"rw"}}, "")
	_, err := f.dir.Update(context.Background(), user.LegacyID, identity.Changes{Apps: &[]string{"rw", "gfw"}})
	require.NoError(t, err)

	old := token.ClaimsFor(&user)
	w := f.do(t, http.MethodGet, "/auth/generate-token", &old, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	claims, err := f.codec.Decode(resp.Token)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rw", "gfw"}, claims.ExtraUserData.Apps)

	ghost := token.Claims{ID: "ghost", Role: identity.RoleUser}
	w = f.do(t, http.MethodGet, "/auth/generate-token", &ghost, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/auth/generate-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSocialLoginRedirectsToCallback(t *testing.T) {
	f := newFixture(t, true)
	f.google.profiles["code-1"] = social.Profile{
		Provider: identity.ProviderGoogle, ProviderID: "g-1", Email: "gina@example.com", EmailVerified: true, DisplayName: "Gina",
	}

	w := f.do(t, http.MethodGet, "/auth/google?callbackUrl="+url.QueryEscape("https://app.example.org/done"), nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	authURL, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.test", authURL.Host)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	w = f.do(t, http.MethodGet, "/auth/google/callback?"+url.Values{"state": {state}, "code": {"code-1"}}.Encode(), nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	target, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.org", target.Host)
	assert.Equal(t, "/done", target.Path)

	claims, err := f.codec.Decode(target.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "gina@example.com", claims.Email)
	assert.Equal(t, string(identity.ProviderGoogle), claims.Provider)

	// The state entry is single use.
	w = f.do(t, http.MethodGet, "/auth/google/callback?"+url.Values{"state": {state}, "code": {"code-1"}}.Encode(), nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "/auth/fail?"))
}

func TestSocialLoginIgnoresUnlistedCallback(t *testing.T) {
	f := newFixture(t, true)
	f.google.profiles["code-9"] = social.Profile{
		Provider: identity.ProviderGoogle, ProviderID: "g-9", Email: "gwen@example.com", EmailVerified: true,
	}

	w := f.do(t, http.MethodGet, "/auth/google?callbackUrl="+url.QueryEscape("https://attacker.invalid/steal"), nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	authURL, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	w = f.do(t, http.MethodGet, "/auth/google/callback?"+url.Values{"state": {authURL.Query().Get("state")}, "code": {"code-9"}}.Encode(), nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	target, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Empty(t, target.Host)
	assert.Equal(t, "/auth/success", target.Path)
	assert.NotEmpty(t, target.Query().Get("token"))
}

func TestSocialCallbackAcceptsFormPost(t *testing.T) {
	f := newFixture(t, true)
	f.google.profiles["code-2"] = social.Profile{
		Provider: identity.ProviderGoogle, ProviderID: "g-2", Email: "gus@example.com", EmailVerified: true,
	}

	w := f.do(t, http.MethodGet, "/auth/google", nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	authURL, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	form := url.Values{"state": {authURL.Query().Get("state")}, "code": {"code-2"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/google/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	target, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, successPath, target.Path)
	assert.NotEmpty(t, target.Query().Get("token"))

	w = f.do(t, http.MethodGet, rec.Header().Get("Location"), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSocialTokenLogin(t *testing.T) {
	f := newFixture(t, true)
	f.google.profiles["access-1"] = social.Profile{
		Provider: identity.ProviderGoogle, ProviderID: "g-3", Email: "gail@example.com", EmailVerified: true,
	}

	w := f.do(t, http.MethodGet, "/auth/google/token?access_token=access-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decodeSession(t, w)
	assert.Equal(t, "gail@example.com", doc.Data.Attributes.Email)
	assert.NotEmpty(t, doc.Data.Attributes.Token)

	w = f.do(t, http.MethodGet, "/auth/google/token?access_token=bogus", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authentication with google failed", errorDetail(t, w))

	w = f.do(t, http.MethodGet, "/auth/twitter/token?access_token=access-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSocialRoutesWithoutBridge(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/auth/google", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Provider not configured", errorDetail(t, w))
}

func TestFailPage(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/auth/fail?error="+url.QueryEscape("Authentication with google failed"), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authentication with google failed", errorDetail(t, w))
}
