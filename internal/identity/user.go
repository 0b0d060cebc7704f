// Package identity adapts the external identity provider into the gateway's
// User representation.
//
// Purpose:
//
//	Users are never persisted locally. Every read and write goes through a
//	Directory, normally an OktaDirectory wrapped by a CachedDirectory. The
//	legacyId is the only key other packages ever see; the provider's own
//	record id stays inside this package.
//
// Key Responsibilities:
//   - User, Role, Provider define the normalized identity shape
//   - Directory is the lookup/list/create/update/delete contract
//   - OktaDirectory talks to the Okta management API
//   - CachedDirectory memoizes lookups under "identity:{legacyId}" and is the
//     single write-through path that evicts on update and delete
//   - Pager implements offset and cursor pagination over provider cursors
//
// Error Handling:
//   - Lookups return (nil, nil) when no user matches
//   - Transport failures and unexpected statuses wrap ErrUpstream
//   - Mutations of a missing user return ErrNotFound
package identity

import (
	"context"
	"slices"
	"time"
)

// Role is the global user role.
type Role string

const (
	RoleUser         Role = "USER"
	RoleManager      Role = "MANAGER"
	RoleAdmin        Role = "ADMIN"
	RoleMicroservice Role = "MICROSERVICE"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleManager, RoleAdmin, RoleMicroservice:
		return true
	}
	return false
}

// Provider identifies where a user's credentials live.
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
	ProviderApple    Provider = "apple"
	ProviderTwitter  Provider = "twitter"
	ProviderOkta     Provider = "okta"
)

// User is the normalized identity record.
type User struct {
	LegacyID   string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Photo      string    `json:"photo,omitempty"`
	Role       Role      `json:"role"`
	Provider   Provider  `json:"provider"`
	ProviderID string    `json:"providerId,omitempty"`
	Apps       []string  `json:"apps"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HasApp reports whether the user is registered for app.
func (u *User) HasApp(app string) bool {
	return slices.Contains(u.Apps, app)
}

// SameApps compares two app lists as sets.
func SameApps(a, b []string) bool {
	return slices.Equal(normalizeApps(a), normalizeApps(b))
}

func normalizeApps(apps []string) []string {
	out := slices.Clone(apps)
	slices.Sort(out)
	return slices.Compact(out)
}

// Filter narrows List results. Empty fields are ignored.
type Filter struct {
	Name     string
	Email    string
	Provider Provider
	Role     Role
	App      string
	IDs      []string
}

// NewUser carries the fields for Create.
type NewUser struct {
	Email      string
	Name       string
	Photo      string
	Password   string
	Role       Role
	Provider   Provider
	ProviderID string
	Apps       []string
}

// Changes lists the mutable profile fields. Nil fields are left untouched.
type Changes struct {
	Name       *string
	Photo      *string
	Role       *Role
	Apps       *[]string
	Provider   *Provider
	ProviderID *string
}

// Empty reports whether no field is set.
func (c Changes) Empty() bool {
	return c.Name == nil && c.Photo == nil && c.Role == nil && c.Apps == nil && c.Provider == nil && c.ProviderID == nil
}

// ListRequest addresses one provider page.
type ListRequest struct {
	Limit int
	After string
}

// ListResult is one provider page. NextAfter is empty on the last page.
type ListResult struct {
	Users     []User
	NextAfter string
}

// Directory is the identity provider contract.
type Directory interface {
	GetByLegacyID(ctx context.Context, legacyID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByProvider(ctx context.Context, provider Provider, providerID string) (*User, error)
	List(ctx context.Context, filter Filter, req ListRequest) (ListResult, error)
	Create(ctx context.Context, in NewUser) (*User, error)
	Update(ctx context.Context, legacyID string, changes Changes) (*User, error)
	Delete(ctx context.Context, legacyID string) (*User, error)
	Authenticate(ctx context.Context, email, password string) (*User, error)
	ResetPassword(ctx context.Context, email string) error
}
