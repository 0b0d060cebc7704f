// Package middleware provides HTTP middleware for authentication and authorization.
//
// Purpose:
//
//	This package verifies first-party Bearer tokens, runs the token freshness
//	check and stores the authenticated caller in the request context.
//
// Dependencies:
//   - internal/token: HS256 verification and the freshness reconciler
//   - internal/authz: Caller type consumed by handlers
//   - internal/jsonapi: errors[] envelope for rejections
//
// Key Responsibilities:
//   - Parse: signature-only verification, invalid tokens are ignored
//   - Fresh: reconciles stale tokens against the live identity record
//   - RequireAuth / RequireRole: reject anonymous or under-privileged callers
//
// Debugging Notes:
//   - A missing or invalid token leaves the request anonymous; protected routes
//     then answer 401 "Not authenticated"
//   - Fresh answers 401 "Your token is outdated..." when the live profile differs
//   - /auth/generate-token sits behind Parse only so outdated tokens can be renewed
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/authz"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

// ContextKey is the type for context keys.
type ContextKey string

// ClaimsKey is the context key for verified token claims.
const ClaimsKey ContextKey = "auth.claims"

// Freshness reconciles stale claims against the live identity record.
type Freshness interface {
	Check(ctx context.Context, claims *token.Claims) error
}

// Authenticator verifies Bearer tokens.
type Authenticator struct {
	codec     *token.Codec
	freshness Freshness
	logger    zerolog.Logger
}

// NewAuthenticator creates an authenticator. A nil freshness skips reconciliation.
func NewAuthenticator(codec *token.Codec, freshness Freshness, logger zerolog.Logger) *Authenticator {
	return &Authenticator{codec: codec, freshness: freshness, logger: logger}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(raw)
}

// Parse verifies the token signature and stores the claims in the context.
func (a *Authenticator) Parse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := BearerToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.codec.Decode(raw)
		if err != nil {
			a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("ignoring invalid bearer token")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// Fresh rejects tokens whose claims no longer match the live identity record.
// Anonymous requests pass through.
func (a *Authenticator) Fresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		if claims == nil || a.freshness == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.freshness.Check(r.Context(), claims); err != nil {
			jsonapi.WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth answers 401 for anonymous requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ClaimsFrom(r.Context()) == nil {
			jsonapi.WriteError(w, r, apierror.Unauthenticated(apierror.DetailNotAuthenticated))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole answers 401 for anonymous requests and 403 for callers whose
// global role is not listed.
func RequireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil {
				jsonapi.WriteError(w, r, apierror.Unauthenticated(apierror.DetailNotAuthenticated))
				return
			}
			if !slices.Contains(roles, claims.Role) {
				jsonapi.WriteError(w, r, apierror.Forbidden())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// ClaimsFrom returns the verified claims, or nil for anonymous requests.
func ClaimsFrom(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*token.Claims)
	return claims
}

// CallerFrom returns the authenticated caller, or nil for anonymous requests.
func CallerFrom(ctx context.Context) *authz.Caller {
	return authz.CallerFromClaims(ClaimsFrom(ctx))
}
