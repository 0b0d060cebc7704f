// Package apierror defines the error taxonomy surfaced to HTTP callers and the
// single mapping from internal sentinel errors to status codes and details.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

// Fixed details shared across packages.
const (
	DetailNotAuthenticated   = "Not authenticated"
	DetailNotAuthorized      = "Not authorized"
	DetailInvalidCredentials = "Invalid email or password"
	DetailOutdatedToken      = "Your token is outdated. Please use /auth/login to login and /auth/generate-token to generate a new token."
	DetailHasApplications    = "Organizations with associated applications cannot be deleted"
	DetailInternal           = "Internal server error"
)

// Error is an HTTP-status-shaped error. Detail is safe to show to callers.
type Error struct {
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given status and detail.
func New(status int, detail string) *Error {
	return &Error{Status: status, Detail: detail}
}

func Unauthenticated(detail string) *Error {
	if detail == "" {
		detail = DetailNotAuthenticated
	}
	return New(http.StatusUnauthorized, detail)
}

func Forbidden() *Error { return New(http.StatusForbidden, DetailNotAuthorized) }

func NotFound(detail string) *Error { return New(http.StatusNotFound, detail) }

func BadRequest(detail string) *Error { return New(http.StatusBadRequest, detail) }

func Unprocessable(detail string) *Error { return New(http.StatusUnprocessableEntity, detail) }

func Conflict(detail string) *Error { return New(http.StatusConflict, detail) }

// Upstream reports a failed collaborator call without leaking its response.
func Upstream(err error) *Error {
	return &Error{Status: http.StatusBadGateway, Detail: "Upstream service error", Err: err}
}

// From maps any error to an *Error. Unknown errors become a 500 whose
// detail does not expose the cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var notFound *postgres.NotFoundError
	var providerErr interface{ ProviderName() string }

	switch {
	case errors.As(err, &notFound):
		return &Error{Status: http.StatusNotFound, Detail: notFound.Resource + " not found", Err: err}
	case errors.Is(err, postgres.ErrHasApplications):
		return &Error{Status: http.StatusBadRequest, Detail: DetailHasApplications, Err: err}
	case errors.Is(err, postgres.ErrInvalidMembership):
		return &Error{Status: http.StatusBadRequest, Detail: "Invalid organization membership", Err: err}
	case errors.Is(err, postgres.ErrConflict):
		return &Error{Status: http.StatusConflict, Detail: "Resource conflicts with an existing record", Err: err}
	case errors.Is(err, postgres.ErrNotFound):
		return &Error{Status: http.StatusNotFound, Detail: "Not found", Err: err}
	case errors.Is(err, token.ErrOutdatedToken):
		return &Error{Status: http.StatusUnauthorized, Detail: DetailOutdatedToken, Err: err}
	case errors.Is(err, token.ErrInvalidSignature):
		return &Error{Status: http.StatusUnauthorized, Detail: DetailNotAuthenticated, Err: err}
	case errors.Is(err, identity.ErrInvalidCredentials):
		return &Error{Status: http.StatusUnauthorized, Detail: DetailInvalidCredentials, Err: err}
	case errors.Is(err, identity.ErrNotFound):
		return &Error{Status: http.StatusNotFound, Detail: "User not found", Err: err}
	case errors.Is(err, identity.ErrEmailTaken):
		return &Error{Status: http.StatusBadRequest, Detail: "Email exists", Err: err}
	case errors.Is(err, identity.ErrInvalidCursor):
		return &Error{Status: http.StatusBadRequest, Detail: "Invalid page cursor", Err: err}
	case errors.Is(err, identity.ErrUpstreamUnauthorized):
		return &Error{Status: http.StatusUnauthorized, Detail: "Identity provider rejected the request", Err: err}
	case errors.Is(err, identity.ErrUpstream):
		return Upstream(err)
	case errors.As(err, &providerErr):
		return &Error{
			Status: http.StatusUnauthorized,
			Detail: "Authentication with " + strings.ToLower(providerErr.ProviderName()) + " failed",
			Err:    err,
		}
	}
	return &Error{Status: http.StatusInternalServerError, Detail: DetailInternal, Err: err}
}
