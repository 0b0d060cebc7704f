package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resource-watch/authentication-sub000/internal/identity"
)

type stubSource struct {
	user  *identity.User
	err   error
	calls int
}

func (s *stubSource) ProfileForToken(context.Context, string, string) (*identity.User, error) {
	s.calls++
	return s.user, s.err
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func claimsAged(age time.Duration, role identity.Role, apps ...string) *Claims {
	return &Claims{
		ID:            "abc",
		Role:          role,
		Email:         "a@example.com",
		ExtraUserData: ExtraUserData{Apps: apps},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now.Add(-age)),
		},
	}
}

func liveUser(role identity.Role, apps ...string) *identity.User {
	return &identity.User{LegacyID: "abc", Email: "a@example.com", Role: role, Apps: apps}
}

func newReconciler(src ProfileSource) *Reconciler {
	return NewReconciler(src, time.Hour).WithClock(func() time.Time { return now })
}

func TestFreshTokenSkipsLookup(t *testing.T) {
	src := &stubSource{}
	err := newReconciler(src).Check(context.Background(), claimsAged(59*time.Minute, identity.RoleUser, "rw"))
	require.NoError(t, err)
	assert.Zero(t, src.calls)
}

func TestStaleTokenMatchingLiveProfileIsAccepted(t *testing.T) {
	src := &stubSource{user: liveUser(identity.RoleUser, "rw")}
	err := newReconciler(src).Check(context.Background(), claimsAged(time.Hour, identity.RoleUser, "rw"))
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestStaleTokenWithChangedRoleIsOutdated(t *testing.T) {
	src := &stubSource{user: liveUser(identity.RoleAdmin, "rw")}
	err := newReconciler(src).Check(context.Background(), claimsAged(2*time.Hour, identity.RoleUser, "rw"))
	assert.ErrorIs(t, err, ErrOutdatedToken)
}

func TestAppsOrderDoesNotMakeTokenOutdated(t *testing.T) {
	src := &stubSource{user: liveUser(identity.RoleUser, "gfw", "rw")}
	err := newReconciler(src).Check(context.Background(), claimsAged(2*time.Hour, identity.RoleUser, "rw", "gfw"))
	assert.NoError(t, err)
}

func TestEmailCaseChangeMakesTokenOutdated(t *testing.T) {
	live := liveUser(identity.RoleUser, "rw")
	live.Email = "A@example.com"
	src := &stubSource{user: live}
	err := newReconciler(src).Check(context.Background(), claimsAged(2*time.Hour, identity.RoleUser, "rw"))
	assert.ErrorIs(t, err, ErrOutdatedToken)
}

func TestAppsChangeMakesTokenOutdated(t *testing.T) {
	src := &stubSource{user: liveUser(identity.RoleUser, "rw", "prep")}
	err := newReconciler(src).Check(context.Background(), claimsAged(2*time.Hour, identity.RoleUser, "rw"))
	assert.ErrorIs(t, err, ErrOutdatedToken)
}

func TestMissingLiveProfileIsOutdated(t *testing.T) {
	src := &stubSource{}
	err := newReconciler(src).Check(context.Background(), claimsAged(2*time.Hour, identity.RoleUser))
	assert.ErrorIs(t, err, ErrOutdatedToken)
}

func TestMissingIssuedAtIsChecked(t *testing.T) {
	src := &stubSource{user: liveUser(identity.RoleUser)}
	claims := claimsAged(0, identity.RoleUser)
	claims.IssuedAt = nil

	require.NoError(t, newReconciler(src).Check(context.Background(), claims))
	assert.Equal(t, 1, src.calls)
}

func TestMicroserviceTokenSkipsCheck(t *testing.T) {
	src := &stubSource{}
	claims := claimsAged(48*time.Hour, identity.RoleMicroservice)
	claims.ID = MicroserviceID

	require.NoError(t, newReconciler(src).Check(context.Background(), claims))
	assert.Zero(t, src.calls)
}

func TestLookupFailureIsNotOutdated(t *testing.T) {
	upstream := errors.New("timeout")
	src := &stubSource{err: upstream}
	err := newReconciler(src).Check(context.Background(), claimsAged(2*time.Hour, identity.RoleUser))
	assert.ErrorIs(t, err, upstream)
	assert.NotErrorIs(t, err, ErrOutdatedToken)
}
