package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"github.com/resource-watch/authentication-sub000/internal/identity"
)

// OAuthConfig configures a plain OAuth2 provider. Zero Endpoint and APIURL
// select the provider's public endpoints.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	APIURL       string
	HTTPClient   *http.Client
}

func (c OAuthConfig) oauthConfig(defaultEndpoint oauth2.Endpoint, scopes []string) *oauth2.Config {
	endpoint := c.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = defaultEndpoint
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
	}
}

func (c OAuthConfig) apiURL(def string) string {
	if c.APIURL == "" {
		return def
	}
	return strings.TrimRight(c.APIURL, "/")
}

// FacebookAdapter reads the profile from the Graph API.
type FacebookAdapter struct {
	oauth    *oauth2.Config
	graphURL string
	client   *http.Client
}

func NewFacebookAdapter(cfg OAuthConfig) *FacebookAdapter {
	return &FacebookAdapter{
		oauth:    cfg.oauthConfig(facebook.Endpoint, []string{"email", "public_profile"}),
		graphURL: cfg.apiURL("https://graph.facebook.com"),
		client:   cfg.HTTPClient,
	}
}

func (a *FacebookAdapter) Provider() identity.Provider { return identity.ProviderFacebook }

func (a *FacebookAdapter) AuthCodeURL(state, _ string) string {
	return a.oauth.AuthCodeURL(state)
}

func (a *FacebookAdapter) Exchange(ctx context.Context, code, _ string) (Profile, error) {
	ctx = withClient(ctx, a.client)
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return Profile{}, authError(identity.ProviderFacebook, "code exchange failed", err)
	}
	return a.ProfileFromToken(ctx, tok.AccessToken)
}

func (a *FacebookAdapter) ProfileFromToken(ctx context.Context, accessToken string) (Profile, error) {
	ctx = withClient(ctx, a.client)
	var me struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	client := a.oauth.Client(ctx, &oauth2.Token{AccessToken: accessToken})
	if err := getJSON(ctx, client, identity.ProviderFacebook, a.graphURL+"/me?fields=id,name,email,picture.type(large)", &me); err != nil {
		return Profile{}, err
	}
	return Profile{
		Provider:      identity.ProviderFacebook,
		ProviderID:    me.ID,
		Email:         strings.ToLower(me.Email),
		EmailVerified: me.Email != "",
		DisplayName:   me.Name,
		Photo:         me.Picture.Data.URL,
	}, nil
}

var twitterEndpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// TwitterAdapter uses OAuth 2.0 with PKCE and the v2 users/me endpoint.
type TwitterAdapter struct {
	oauth  *oauth2.Config
	apiURL string
	client *http.Client
}

func NewTwitterAdapter(cfg OAuthConfig) *TwitterAdapter {
	return &TwitterAdapter{
		oauth:  cfg.oauthConfig(twitterEndpoint, []string{"users.read", "tweet.read", "users.email"}),
		apiURL: cfg.apiURL("https://api.twitter.com"),
		client: cfg.HTTPClient,
	}
}

func (a *TwitterAdapter) Provider() identity.Provider { return identity.ProviderTwitter }

func (a *TwitterAdapter) AuthCodeURL(state, verifier string) string {
	return a.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (a *TwitterAdapter) Exchange(ctx context.Context, code, verifier string) (Profile, error) {
	ctx = withClient(ctx, a.client)
	tok, err := a.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Profile{}, authError(identity.ProviderTwitter, "code exchange failed", err)
	}
	return a.ProfileFromToken(ctx, tok.AccessToken)
}

func (a *TwitterAdapter) ProfileFromToken(ctx context.Context, accessToken string) (Profile, error) {
	ctx = withClient(ctx, a.client)
	var me struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
			ConfirmedEmail  string `json:"confirmed_email"`
		} `json:"data"`
	}
	client := a.oauth.Client(ctx, &oauth2.Token{AccessToken: accessToken})
	if err := getJSON(ctx, client, identity.ProviderTwitter, a.apiURL+"/2/users/me?user.fields=profile_image_url,confirmed_email", &me); err != nil {
		return Profile{}, err
	}
	name := me.Data.Name
	if name == "" {
		name = me.Data.Username
	}
	return Profile{
		Provider:      identity.ProviderTwitter,
		ProviderID:    me.Data.ID,
		Email:         strings.ToLower(me.Data.ConfirmedEmail),
		EmailVerified: me.Data.ConfirmedEmail != "",
		DisplayName:   name,
		Photo:         me.Data.ProfileImageURL,
	}, nil
}

func withClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// getJSON decodes a 2xx response into out. Anything else is a ProviderAuthError.
func getJSON(ctx context.Context, client *http.Client, provider identity.Provider, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("social: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return authError(provider, "profile request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return authError(provider, fmt.Sprintf("profile request returned %d", resp.StatusCode), errors.New(strings.TrimSpace(string(body))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return authError(provider, "decode profile", err)
	}
	return nil
}
