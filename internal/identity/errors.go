package identity

import "errors"

var (
	// ErrNotFound is returned by mutations addressing a user that does not exist.
	// Lookups report absence as a nil *User instead.
	ErrNotFound = errors.New("identity: user not found")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrEmailTaken is returned when creating a user whose email already exists.
	ErrEmailTaken = errors.New("identity: email already exists")
	// ErrUpstream wraps any unexpected identity provider response or transport failure.
	ErrUpstream = errors.New("identity: upstream error")
	// ErrUpstreamUnauthorized is returned when the identity provider rejects our credentials.
	ErrUpstreamUnauthorized = errors.New("identity: upstream rejected credentials")
)
