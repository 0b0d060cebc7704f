package social

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/resource-watch/authentication-sub000/internal/identity"
)

// OIDCConfig configures an OpenID Connect provider.
type OIDCConfig struct {
	Provider     identity.Provider
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// AuthParams are appended to the authorization URL (e.g. response_mode).
	AuthParams map[string]string
	HTTPClient *http.Client
}

// OIDCAdapter covers providers that return a signed ID token: google, apple and okta.
type OIDCAdapter struct {
	provider identity.Provider
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	// oidcProvider is nil when the adapter was built without discovery;
	// userinfo lookups are then unavailable.
	oidcProvider *oidc.Provider
	authParams   []oauth2.AuthCodeOption
	client       *http.Client
}

// NewOIDCAdapter runs discovery against cfg.IssuerURL.
func NewOIDCAdapter(ctx context.Context, cfg OIDCConfig) (*OIDCAdapter, error) {
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.Provider, err)
	}
	a := newOIDCAdapter(cfg, provider.Endpoint(), provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}))
	a.oidcProvider = provider
	return a, nil
}

func newOIDCAdapter(cfg OIDCConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *OIDCAdapter {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	a := &OIDCAdapter{
		provider: cfg.Provider,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: verifier,
		client:   cfg.HTTPClient,
	}
	for k, v := range cfg.AuthParams {
		a.authParams = append(a.authParams, oauth2.SetAuthURLParam(k, v))
	}
	return a
}

func (a *OIDCAdapter) Provider() identity.Provider { return a.provider }

func (a *OIDCAdapter) AuthCodeURL(state, _ string) string {
	return a.oauth.AuthCodeURL(state, a.authParams...)
}

func (a *OIDCAdapter) Exchange(ctx context.Context, code, _ string) (Profile, error) {
	ctx = a.clientContext(ctx)
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return Profile{}, authError(a.provider, "code exchange failed", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Profile{}, authError(a.provider, "missing id_token in response", nil)
	}
	return a.verify(ctx, rawIDToken)
}

// ProfileFromToken accepts an ID token, or an access token when userinfo is available.
func (a *OIDCAdapter) ProfileFromToken(ctx context.Context, raw string) (Profile, error) {
	ctx = a.clientContext(ctx)
	profile, err := a.verify(ctx, raw)
	if err == nil || a.oidcProvider == nil {
		return profile, err
	}

	info, uerr := a.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: raw}))
	if uerr != nil {
		return Profile{}, authError(a.provider, "userinfo request failed", uerr)
	}
	var claims idClaims
	if err := info.Claims(&claims); err != nil {
		return Profile{}, authError(a.provider, "decode userinfo", err)
	}
	claims.Subject = info.Subject
	return claims.profile(a.provider), nil
}

func (a *OIDCAdapter) verify(ctx context.Context, rawIDToken string) (Profile, error) {
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Profile{}, authError(a.provider, "id token verification failed", err)
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return Profile{}, authError(a.provider, "decode id token claims", err)
	}
	claims.Subject = idToken.Subject
	return claims.profile(a.provider), nil
}

func (a *OIDCAdapter) clientContext(ctx context.Context) context.Context {
	if a.client == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, a.client)
}

type idClaims struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	Picture       string   `json:"picture"`
}

func (c idClaims) profile(provider identity.Provider) Profile {
	return Profile{
		Provider:      provider,
		ProviderID:    c.Subject,
		Email:         strings.ToLower(c.Email),
		EmailVerified: bool(c.EmailVerified),
		DisplayName:   c.Name,
		Photo:         c.Picture,
	}
}

// flexBool accepts both true and "true"; Apple sends the string form.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	*b = flexBool(strings.Trim(string(data), `"`) == "true")
	return nil
}
