// Package social federates logins through Google, Facebook, Apple, Twitter
// and Okta.
//
// Purpose:
//
//	Every provider follows the same three phases. Initiate stores a one-time
//	state entry and returns the provider's authorization URL. Callback
//	consumes the state and exchanges the code for a verified Profile. Resolve
//	maps the Profile onto an identity.User, creating one when needed.
//
// Dependencies:
//   - github.com/coreos/go-oidc/v3/oidc: ID token verification (google, apple, okta)
//   - golang.org/x/oauth2: authorization code exchange and PKCE (twitter)
//   - internal/cache: state entries under "social:state:{token}"
//
// Debugging Notes:
//   - State entries expire after ten minutes and are removed on first use,
//     so a failed handshake must restart from Initiate
//   - With the no-op cache every callback fails with "unknown or expired state"
//   - Found-by-email accounts are only linked for providers that assert a
//     verified email (google, apple, okta)
package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/resource-watch/authentication-sub000/internal/identity"
)

// ErrUnknownProvider is returned for providers that are not configured.
var ErrUnknownProvider = errors.New("social: provider not configured")

// Profile is the verified subset of a provider's user profile. Provider tags
// which adapter produced it.
type Profile struct {
	Provider      identity.Provider
	ProviderID    string
	Email         string
	EmailVerified bool
	DisplayName   string
	Photo         string
}

// ProviderAuthError reports a failed handshake with a provider.
type ProviderAuthError struct {
	Provider identity.Provider
	Reason   string
	Err      error
}

func (e *ProviderAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("social: %s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("social: %s: %s", e.Provider, e.Reason)
}

func (e *ProviderAuthError) Unwrap() error { return e.Err }

// ProviderName names the provider that rejected the login.
func (e *ProviderAuthError) ProviderName() string { return string(e.Provider) }

func authError(provider identity.Provider, reason string, err error) error {
	return &ProviderAuthError{Provider: provider, Reason: reason, Err: err}
}

// Adapter performs the provider-specific part of a login.
type Adapter interface {
	Provider() identity.Provider
	// AuthCodeURL builds the authorization URL. verifier is a PKCE code
	// verifier the adapter may ignore.
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (Profile, error)
	// ProfileFromToken resolves a profile from a token obtained by a client
	// directly from the provider.
	ProfileFromToken(ctx context.Context, token string) (Profile, error)
}

// linksByEmail reports whether an existing account with the same email may
// be signed into through provider.
func linksByEmail(provider identity.Provider) bool {
	switch provider {
	case identity.ProviderGoogle, identity.ProviderApple, identity.ProviderOkta:
		return true
	}
	return false
}
