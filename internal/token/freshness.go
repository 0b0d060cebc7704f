package token

import (
	"context"
	"fmt"
	"time"

	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/metrics"
)

// DefaultStalenessThreshold is the token age after which claims are reconciled.
const DefaultStalenessThreshold = time.Hour

// ProfileSource resolves the live identity record behind a token.
// A nil user with a nil error means the record no longer exists.
type ProfileSource interface {
	ProfileForToken(ctx context.Context, legacyID, email string) (*identity.User, error)
}

// Reconciler decides whether a decoded token can be trusted as-is.
//
//	FRESH: age < threshold, accepted without touching the identity provider.
//	CHECK: age >= threshold (or no iat), compared with the live record; any
//	difference in id, role, email or the set of apps rejects the token.
//
// A matching stale token is accepted but never reissued.
type Reconciler struct {
	source    ProfileSource
	threshold time.Duration
	now       func() time.Time
}

func NewReconciler(source ProfileSource, threshold time.Duration) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}
	return &Reconciler{source: source, threshold: threshold, now: time.Now}
}

// WithClock returns a copy of the reconciler using now as the current time.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	return &Reconciler{source: r.source, threshold: r.threshold, now: now}
}

// Stale reports whether claims must be compared against the live record.
func (r *Reconciler) Stale(claims *Claims) bool {
	if claims.IssuedAt == nil {
		return true
	}
	return r.now().Sub(claims.IssuedAt.Time) >= r.threshold
}

// Check returns nil when the claims may be trusted, ErrOutdatedToken when
// they no longer match, or the lookup error when the identity provider
// could not be reached.
func (r *Reconciler) Check(ctx context.Context, claims *Claims) error {
	if claims.IsMicroservice() {
		metrics.RecordTokenFreshness("skipped")
		return nil
	}
	if !r.Stale(claims) {
		metrics.RecordTokenFreshness("fresh")
		return nil
	}

	live, err := r.source.ProfileForToken(ctx, claims.ID, claims.Email)
	if err != nil {
		return fmt.Errorf("token freshness lookup: %w", err)
	}
	if live == nil || !Matches(claims, live) {
		metrics.RecordTokenFreshness("outdated")
		return ErrOutdatedToken
	}
	metrics.RecordTokenFreshness("checked")
	return nil
}

// Matches compares the identity-bearing claims with a live record. Apps are
// compared as a set.
func Matches(claims *Claims, live *identity.User) bool {
	return claims.ID == live.LegacyID &&
		claims.Role == live.Role &&
		claims.Email == live.Email &&
		identity.SameApps(claims.ExtraUserData.Apps, live.Apps)
}
