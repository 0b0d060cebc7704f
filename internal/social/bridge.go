package social

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/resource-watch/authentication-sub000/internal/cache"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/metrics"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

// StateTTL bounds the time between Initiate and Callback.
const StateTTL = 10 * time.Minute

// Session is the server-side state stashed by Initiate.
type Session struct {
	Provider    identity.Provider `json:"provider"`
	CallbackURL string            `json:"callbackUrl,omitempty"`
	Origin      string            `json:"origin,omitempty"`
	Verifier    string            `json:"verifier"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Outcome is a completed login.
type Outcome struct {
	User        *identity.User
	Token       string
	CallbackURL string
}

// Bridge runs the Initiate, Callback and Resolve phases for every adapter.
type Bridge struct {
	adapters  map[identity.Provider]Adapter
	states    cache.Cache
	directory identity.Directory
	codec     *token.Codec
	logger    zerolog.Logger

	// callbackOrigins are the scheme://host[:port] values a callbackUrl may point at.
	callbackOrigins []string
}

func NewBridge(directory identity.Directory, states cache.Cache, codec *token.Codec, logger zerolog.Logger, adapters ...Adapter) *Bridge {
	b := &Bridge{
		adapters:  make(map[identity.Provider]Adapter, len(adapters)),
		states:    states,
		directory: directory,
		codec:     codec,
		logger:    logger.With().Str("component", "social").Logger(),
	}
	for _, a := range adapters {
		b.adapters[a.Provider()] = a
	}
	return b
}

// AllowCallbackOrigins sets the origins a callbackUrl may redirect to. Any
// other callbackUrl is dropped and the login lands on the success page.
func (b *Bridge) AllowCallbackOrigins(origins []string) *Bridge {
	b.callbackOrigins = nil
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			b.callbackOrigins = append(b.callbackOrigins, strings.ToLower(o))
		}
	}
	return b
}

// allowedCallback returns raw when it is an absolute http(s) URL on an
// allowed origin, and "" otherwise.
func (b *Bridge) allowedCallback(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.User != nil {
		return ""
	}
	if !slices.Contains(b.callbackOrigins, strings.ToLower(u.Scheme+"://"+u.Host)) {
		return ""
	}
	return raw
}

// Providers lists the configured providers in a stable order.
func (b *Bridge) Providers() []identity.Provider {
	out := make([]identity.Provider, 0, len(b.adapters))
	for p := range b.adapters {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (b *Bridge) adapter(provider identity.Provider) (Adapter, error) {
	a, ok := b.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return a, nil
}

// Initiate stores a state entry and returns the provider authorization URL.
// callbackURL is kept only when it points at an allowed origin.
func (b *Bridge) Initiate(ctx context.Context, provider identity.Provider, callbackURL, origin string) (string, error) {
	a, err := b.adapter(provider)
	if err != nil {
		return "", err
	}
	state, err := generateStateToken()
	if err != nil {
		return "", fmt.Errorf("social: state token: %w", err)
	}

	if allowed := b.allowedCallback(callbackURL); allowed != callbackURL {
		b.logger.Warn().
			Str("provider", string(provider)).
			Str("callback_url", callbackURL).
			Msg("ignoring callbackUrl outside the allowed origins")
		callbackURL = allowed
	}

	sess := Session{
		Provider:    provider,
		CallbackURL: callbackURL,
		Origin:      origin,
		Verifier:    oauth2.GenerateVerifier(),
		CreatedAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("social: encode state: %w", err)
	}
	if err := b.states.Set(ctx, cache.SocialStateKey(state), raw, StateTTL); err != nil {
		return "", fmt.Errorf("social: store state: %w", err)
	}

	metrics.RecordSocialLoginAttempt(string(provider))
	return a.AuthCodeURL(state, sess.Verifier), nil
}

// Callback consumes the state entry and exchanges code for a verified profile.
// The state entry is gone afterwards whatever the outcome.
func (b *Bridge) Callback(ctx context.Context, provider identity.Provider, state, code string) (Profile, Session, error) {
	a, err := b.adapter(provider)
	if err != nil {
		return Profile{}, Session{}, err
	}
	if state == "" {
		return Profile{}, Session{}, authError(provider, "missing state", nil)
	}

	raw, ok, err := b.states.Take(ctx, cache.SocialStateKey(state))
	if err != nil {
		return Profile{}, Session{}, fmt.Errorf("social: load state: %w", err)
	}
	if !ok {
		return Profile{}, Session{}, authError(provider, "unknown or expired state", nil)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Profile{}, Session{}, authError(provider, "corrupt state", err)
	}
	if sess.Provider != provider {
		return Profile{}, sess, authError(provider, "state issued for another provider", nil)
	}
	if code == "" {
		return Profile{}, sess, authError(provider, "missing authorization code", nil)
	}

	profile, err := a.Exchange(ctx, code, sess.Verifier)
	if err != nil {
		return Profile{}, sess, err
	}
	return profile, sess, nil
}

// Resolve finds or creates the user behind profile. Lookup is by
// (provider, providerId), then by email, then a new USER is created with
// origin as its only application. An account found by email is linked to the
// provider so later logins match on (provider, providerId).
func (b *Bridge) Resolve(ctx context.Context, profile Profile, origin string) (*identity.User, error) {
	if profile.ProviderID == "" {
		return nil, authError(profile.Provider, "profile has no subject", nil)
	}

	u, err := b.directory.GetByProvider(ctx, profile.Provider, profile.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("social: lookup by provider: %w", err)
	}
	if u != nil {
		return u, nil
	}

	if profile.Email == "" {
		return nil, authError(profile.Provider, "provider did not return an email address", nil)
	}
	u, err = b.directory.GetByEmail(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("social: lookup by email: %w", err)
	}
	if u != nil {
		if !linksByEmail(profile.Provider) || !profile.EmailVerified {
			return nil, authError(profile.Provider, "email already registered with another provider", nil)
		}
		provider, providerID := profile.Provider, profile.ProviderID
		linked, err := b.directory.Update(ctx, u.LegacyID, identity.Changes{Provider: &provider, ProviderID: &providerID})
		if err != nil {
			return nil, fmt.Errorf("social: link provider: %w", err)
		}
		b.logger.Info().
			Str("user_id", linked.LegacyID).
			Str("provider", string(profile.Provider)).
			Msg("linked existing account to social provider by email")
		return linked, nil
	}

	apps := []string{}
	if origin != "" {
		apps = append(apps, origin)
	}
	created, err := b.directory.Create(ctx, identity.NewUser{
		Email:      profile.Email,
		Name:       profile.DisplayName,
		Photo:      profile.Photo,
		Role:       identity.RoleUser,
		Provider:   profile.Provider,
		ProviderID: profile.ProviderID,
		Apps:       apps,
	})
	if err != nil {
		return nil, fmt.Errorf("social: create user: %w", err)
	}
	b.logger.Info().
		Str("user_id", created.LegacyID).
		Str("provider", string(profile.Provider)).
		Msg("created user from social login")
	return created, nil
}

// Complete runs Callback and Resolve and mints a token. CallbackURL is set
// from the stashed state even when the login fails.
func (b *Bridge) Complete(ctx context.Context, provider identity.Provider, state, code string) (Outcome, error) {
	profile, sess, err := b.Callback(ctx, provider, state, code)
	if err != nil {
		metrics.RecordSocialCallbackFailure(string(provider), "callback")
		return Outcome{CallbackURL: sess.CallbackURL}, err
	}
	out, err := b.finish(ctx, profile, sess.Origin)
	out.CallbackURL = sess.CallbackURL
	return out, err
}

// TokenLogin signs in with a token the client obtained from the provider itself.
func (b *Bridge) TokenLogin(ctx context.Context, provider identity.Provider, providerToken string) (Outcome, error) {
	a, err := b.adapter(provider)
	if err != nil {
		return Outcome{}, err
	}
	if providerToken == "" {
		return Outcome{}, authError(provider, "missing access token", nil)
	}
	profile, err := a.ProfileFromToken(ctx, providerToken)
	if err != nil {
		metrics.RecordSocialCallbackFailure(string(provider), "token")
		return Outcome{}, err
	}
	return b.finish(ctx, profile, "")
}

func (b *Bridge) finish(ctx context.Context, profile Profile, origin string) (Outcome, error) {
	u, err := b.Resolve(ctx, profile, origin)
	if err != nil {
		metrics.RecordSocialCallbackFailure(string(profile.Provider), "resolve")
		return Outcome{}, err
	}
	signed, err := b.codec.IssueFor(u)
	if err != nil {
		return Outcome{}, err
	}
	metrics.RecordSocialCallbackSuccess(string(profile.Provider))
	return Outcome{User: u, Token: signed}, nil
}

func generateStateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
