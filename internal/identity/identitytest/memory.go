// Package identitytest provides an in-memory identity.Directory for tests.
package identitytest

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/resource-watch/authentication-sub000/internal/identity"
)

type record struct {
	user     identity.User
	password string
}

// Directory is a concurrency-safe in-memory identity.Directory. List pages
// use the decimal index of the next record as the after cursor.
type Directory struct {
	mu      sync.Mutex
	records []*record
	seq     int

	// Calls counts provider round trips per method name.
	Calls map[string]int
}

func NewDirectory() *Directory {
	return &Directory{Calls: map[string]int{}}
}

// Add inserts a user as-is and returns it.
func (d *Directory) Add(u identity.User, password string) identity.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.LegacyID == "" {
		d.seq++
		u.LegacyID = fmt.Sprintf("user-%d", d.seq)
	}
	if u.Apps == nil {
		u.Apps = []string{}
	}
	if u.Provider == "" {
		u.Provider = identity.ProviderLocal
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	d.records = append(d.records, &record{user: u, password: password})
	return u
}

func (d *Directory) count(name string) {
	d.Calls[name]++
}

func (d *Directory) find(match func(identity.User) bool) *record {
	for _, r := range d.records {
		if match(r.user) {
			return r
		}
	}
	return nil
}

func clone(u identity.User) *identity.User {
	u.Apps = slices.Clone(u.Apps)
	return &u
}

func (d *Directory) GetByLegacyID(_ context.Context, legacyID string) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count("GetByLegacyID")
	if r := d.find(func(u identity.User) bool { return u.LegacyID == legacyID }); r != nil {
		return clone(r.user), nil
	}
	return nil, nil
}

func (d *Directory) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count("GetByEmail")
	if r := d.find(func(u identity.User) bool { return strings.EqualFold(u.Email, email) }); r != nil {
		return clone(r.user), nil
	}
	return nil, nil
}

func (d *Directory) GetByProvider(_ context.Context, provider identity.Provider, providerID string) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count("GetByProvider")
	if r := d.find(func(u identity.User) bool { return u.Provider == provider && u.ProviderID == providerID }); r != nil {
		return clone(r.user), nil
	}
	return nil, nil
}

func (d *Directory) List(_ context.Context, filter identity.Filter, req identity.ListRequest) (identity.ListResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count("List")

	var matched []identity.User
	for _, r := range d.records {
		if matches(r.user, filter) {
			matched = append(matched, *clone(r.user))
		}
	}

	start := 0
	if req.After != "" {
		n, err := strconv.Atoi(req.After)
		if err != nil {
			return identity.ListResult{}, fmt.Errorf("%w: bad after %q", identity.ErrUpstream, req.After)
		}
		start = n
	}
	limit := req.Limit
	if limit <= 0 {
		limit = len(matched)
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+limit, len(matched))

	res := identity.ListResult{Users: matched[start:end]}
	if end < len(matched) {
		res.NextAfter = strconv.Itoa(end)
	}
	return res, nil
}

func matches(u identity.User, f identity.Filter) bool {
	if f.Name != "" && !strings.HasPrefix(u.Name, f.Name) {
		return false
	}
	if f.Email != "" && !strings.HasPrefix(strings.ToLower(u.Email), strings.ToLower(f.Email)) {
		return false
	}
	if f.Provider != "" && u.Provider != f.Provider {
		return false
	}
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.App != "" && !u.HasApp(f.App) {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, u.LegacyID) {
		return false
	}
	return true
}

func (d *Directory) Create(ctx context.Context, in identity.NewUser) (*identity.User, error) {
	d.mu.Lock()
	exists := d.find(func(u identity.User) bool { return strings.EqualFold(u.Email, in.Email) }) != nil
	d.count("Create")
	d.mu.Unlock()
	if exists {
		return nil, identity.ErrEmailTaken
	}
	role := in.Role
	if role == "" {
		role = identity.RoleUser
	}
	u := d.Add(identity.User{
		Email:      strings.ToLower(in.Email),
		Name:       in.Name,
		Photo:      in.Photo,
		Role:       role,
		Provider:   in.Provider,
		ProviderID: in.ProviderID,
		Apps:       in.Apps,
	}, in.Password)
	return &u, nil
}

func (d *Directory) Update(_ context.Context, legacyID string, c identity.Changes) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count("Update")
	r := d.find(func(u identity.User) bool { return u.LegacyID == legacyID })
	if r == nil {
		return nil, identity.ErrNotFound
	}
	if c.Name != nil {
		r.user.Name = *c.Name
	}
	if c.Photo != nil {
		r.user.Photo = *c.Photo
	}
	if c.Role != nil {
		r.user.Role = *c.Role
	}
	if c.Apps != nil {
		r.user.Apps = slices.Clone(*c.Apps)
	}
	if c.Provider != nil {
		r.user.Provider = *c.Provider
	}
	if c.ProviderID != nil {
		r.user.ProviderID = *c.ProviderID
	}
	r.user.UpdatedAt = time.Now().UTC()
	return clone(r.user), nil
}

func (d *Directory) Delete(_ context.Context, legacyID string) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count("Delete")
	for i, r := range d.records {
		if r.user.LegacyID == legacyID {
			d.records = slices.Delete(d.records, i, i+1)
			return clone(r.user), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (d *Directory) Authenticate(_ context.Context, email, password string) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count("Authenticate")
	r := d.find(func(u identity.User) bool { return strings.EqualFold(u.Email, email) })
	if r == nil || r.password == "" || r.password != password {
		return nil, identity.ErrInvalidCredentials
	}
	return clone(r.user), nil
}

func (d *Directory) ResetPassword(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count("ResetPassword")
	return nil
}
