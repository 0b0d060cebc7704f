package social

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/resource-watch/authentication-sub000/internal/identity"
)

const (
	testIssuer   = "https://issuer.test"
	testClientID = "client-123"
)

type oidcFixture struct {
	adapter *OIDCAdapter
	key     *rsa.PrivateKey
	idToken string
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "subject-1",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"email":          "Person@Example.com",
		"email_verified": true,
		"name":           "Person",
		"picture":        "https://img.test/p.png",
	}
}

func newOIDCFixture(t *testing.T, provider identity.Provider) *oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &oidcFixture{key: key}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     f.idToken,
		})
	}))
	t.Cleanup(srv.Close)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID})
	f.adapter = newOIDCAdapter(OIDCConfig{
		Provider:    provider,
		ClientID:    testClientID,
		RedirectURL: "http://localhost/auth/" + string(provider) + "/callback",
		AuthParams:  map[string]string{"response_mode": "form_post"},
		HTTPClient:  srv.Client(),
	}, oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}, verifier)
	return f
}

func TestOIDCExchangeVerifiesIDToken(t *testing.T) {
	f := newOIDCFixture(t, identity.ProviderGoogle)
	f.idToken = signIDToken(t, f.key, baseClaims())

	profile, err := f.adapter.Exchange(context.Background(), "good-code", "")
	require.NoError(t, err)
	assert.Equal(t, Profile{
		Provider:      identity.ProviderGoogle,
		ProviderID:    "subject-1",
		Email:         "person@example.com",
		EmailVerified: true,
		DisplayName:   "Person",
		Photo:         "https://img.test/p.png",
	}, profile)
}

func TestOIDCExchangeFailures(t *testing.T) {
	f := newOIDCFixture(t, identity.ProviderGoogle)

	claims := baseClaims()
	claims["aud"] = "someone-else"
	f.idToken = signIDToken(t, f.key, claims)
	_, err := f.adapter.Exchange(context.Background(), "good-code", "")
	var authErr *ProviderAuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "id token verification failed", authErr.Reason)

	_, err = f.adapter.Exchange(context.Background(), "bad-code", "")
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "code exchange failed", authErr.Reason)
}

func TestOIDCAppleStringEmailVerified(t *testing.T) {
	f := newOIDCFixture(t, identity.ProviderApple)
	claims := baseClaims()
	claims["email_verified"] = "true"
	delete(claims, "name")

	profile, err := f.adapter.ProfileFromToken(context.Background(), signIDToken(t, f.key, claims))
	require.NoError(t, err)
	assert.True(t, profile.EmailVerified)
	assert.Equal(t, identity.ProviderApple, profile.Provider)
}

func TestOIDCProfileFromTokenWithoutDiscovery(t *testing.T) {
	f := newOIDCFixture(t, identity.ProviderGoogle)
	_, err := f.adapter.ProfileFromToken(context.Background(), "not-a-jwt")
	var authErr *ProviderAuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestOIDCAuthCodeURL(t *testing.T) {
	f := newOIDCFixture(t, identity.ProviderApple)
	authURL := f.adapter.AuthCodeURL("state-1", "ignored")
	assert.Contains(t, authURL, "state=state-1")
	assert.Contains(t, authURL, "response_mode=form_post")
	assert.Contains(t, authURL, "client_id="+testClientID)
	assert.NotContains(t, authURL, "code_challenge")
}
