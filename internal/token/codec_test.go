package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resource-watch/authentication-sub000/internal/identity"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestCodecRoundTrip(t *testing.T) {
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	codec := NewCodec([]byte(testSecret)).WithClock(func() time.Time { return fixed })

	raw, err := codec.IssueFor(&identity.User{
		LegacyID:  "abc",
		Email:     "a@example.com",
		Name:      "Ana",
		Role:      identity.RoleManager,
		Provider:  identity.ProviderLocal,
		Apps:      []string{"rw", "gfw"},
		CreatedAt: created,
	})
	require.NoError(t, err)

	claims, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", claims.ID)
	assert.Equal(t, identity.RoleManager, claims.Role)
	assert.Equal(t, []string{"rw", "gfw"}, claims.ExtraUserData.Apps)
	assert.Equal(t, fixed.Unix(), claims.IssuedAt.Unix())
	require.NotNil(t, claims.CreatedAt)
	assert.True(t, created.Equal(*claims.CreatedAt))
}

func TestCodecRejectsWrongSecret(t *testing.T) {
	raw, err := NewCodec([]byte(testSecret)).Encode(Claims{ID: "abc", Role: identity.RoleUser})
	require.NoError(t, err)

	_, err = NewCodec([]byte("another-secret-another-secret-xx")).Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestCodecRejectsOtherAlgorithms(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: "abc", Role: identity.RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewCodec([]byte(testSecret)).Decode(unsigned)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{ID: "abc"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = NewCodec([]byte(testSecret)).Decode(hs512)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := NewCodec([]byte(testSecret)).Decode("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestMicroserviceToken(t *testing.T) {
	codec := NewCodec([]byte(testSecret))
	raw, err := codec.MicroserviceToken()
	require.NoError(t, err)

	claims, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.True(t, claims.IsMicroservice())
	assert.Equal(t, identity.RoleMicroservice, claims.Role)
}
