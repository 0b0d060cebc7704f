package postgres

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a requested resource does not exist or its id is malformed.
	ErrNotFound = errors.New("authentication/postgres: resource not found")
	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("authentication/postgres: conflict")
	// ErrInvalidMembership is returned for unknown membership roles or empty user ids.
	ErrInvalidMembership = errors.New("authentication/postgres: invalid organization membership")
	// ErrHasApplications is returned when deleting an organization that still has applications.
	ErrHasApplications = errors.New("authentication/postgres: organization has associated applications")
)

// NotFoundError names the missing resource. It matches ErrNotFound with errors.Is.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return "authentication/postgres: " + strings.ToLower(e.Resource) + " not found"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(resource string) error {
	return &NotFoundError{Resource: resource}
}
