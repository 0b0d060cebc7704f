// Package token encodes and verifies first-party HS256 tokens and decides
// whether an older token still matches the live identity record.
//
// Debugging Notes:
//   - Only HS256 is accepted; any other alg fails as ErrInvalidSignature
//   - Tokens carry no exp claim; age is measured from iat
//   - Tokens older than the staleness threshold are compared against the
//     live profile on every request until the caller regenerates them
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/resource-watch/authentication-sub000/internal/identity"
)

var (
	// ErrInvalidSignature covers malformed tokens, wrong algorithms and bad signatures.
	ErrInvalidSignature = errors.New("token: invalid signature")
	// ErrOutdatedToken is returned when a stale token no longer matches the live profile.
	ErrOutdatedToken = errors.New("token: outdated")
)

// MicroserviceID is the id carried by tokens minted for service-to-service calls.
const MicroserviceID = "microservice"

// ExtraUserData holds the application list.
type ExtraUserData struct {
	Apps []string `json:"apps"`
}

// Claims is the token payload.
type Claims struct {
	ID            string        `json:"id"`
	Role          identity.Role `json:"role"`
	Provider      string        `json:"provider,omitempty"`
	Email         string        `json:"email,omitempty"`
	ExtraUserData ExtraUserData `json:"extraUserData"`
	Name          string        `json:"name,omitempty"`
	Photo         string        `json:"photo,omitempty"`
	CreatedAt     *time.Time    `json:"createdAt,omitempty"`
	jwt.RegisteredClaims
}

// IsMicroservice reports whether the token was minted for internal services.
func (c *Claims) IsMicroservice() bool {
	return c.ID == MicroserviceID
}

// ClaimsFor builds the claims for a user.
func ClaimsFor(u *identity.User) Claims {
	apps := u.Apps
	if apps == nil {
		apps = []string{}
	}
	c := Claims{
		ID:            u.LegacyID,
		Role:          u.Role,
		Provider:      string(u.Provider),
		Email:         u.Email,
		ExtraUserData: ExtraUserData{Apps: apps},
		Name:          u.Name,
		Photo:         u.Photo,
	}
	if !u.CreatedAt.IsZero() {
		created := u.CreatedAt
		c.CreatedAt = &created
	}
	return c
}

// Codec signs and verifies tokens with a shared secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec. The secret must be non-empty.
func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret, now: time.Now}
}

// WithClock returns a copy of the codec using now for iat.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{secret: c.secret, now: now}
}

// Encode signs claims, stamping iat when it is not already set.
func (c *Codec) Encode(claims Claims) (string, error) {
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(c.now())
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and returns the claims.
func (c *Codec) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return claims, nil
}

// IssueFor mints a token for u.
func (c *Codec) IssueFor(u *identity.User) (string, error) {
	return c.Encode(ClaimsFor(u))
}

// MicroserviceToken mints the token used for outbound service calls.
func (c *Codec) MicroserviceToken() (string, error) {
	return c.Encode(Claims{
		ID:            MicroserviceID,
		Role:          identity.RoleMicroservice,
		ExtraUserData: ExtraUserData{Apps: []string{}},
	})
}
