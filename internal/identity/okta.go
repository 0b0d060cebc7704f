package identity

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OktaConfig configures the Okta management API client.
type OktaConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// OktaDirectory implements Directory against the Okta management API.
// Custom profile attributes carry legacyId, displayName, photo, role,
// provider, providerId and apps.
type OktaDirectory struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewOktaDirectory creates a directory client.
func NewOktaDirectory(cfg OktaConfig, logger zerolog.Logger) *OktaDirectory {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OktaDirectory{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		client:  client,
		logger:  logger.With().Str("component", "identity.okta").Logger(),
	}
}

type oktaProfile struct {
	Login       string   `json:"login,omitempty"`
	Email       string   `json:"email,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	LegacyID    string   `json:"legacyId,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	Photo       string   `json:"photo,omitempty"`
	Role        string   `json:"role,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	ProviderID  string   `json:"providerId,omitempty"`
	Apps        []string `json:"apps,omitempty"`
}

type oktaUser struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	Created     time.Time   `json:"created"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Profile     oktaProfile `json:"profile"`
}

func (u oktaUser) toUser() User {
	apps := u.Profile.Apps
	if apps == nil {
		apps = []string{}
	}
	role := Role(u.Profile.Role)
	if !role.Valid() {
		role = RoleUser
	}
	provider := Provider(u.Profile.Provider)
	if provider == "" {
		provider = ProviderLocal
	}
	return User{
		LegacyID:   u.Profile.LegacyID,
		Email:      u.Profile.Email,
		Name:       u.Profile.DisplayName,
		Photo:      u.Profile.Photo,
		Role:       role,
		Provider:   provider,
		ProviderID: u.Profile.ProviderID,
		Apps:       apps,
		CreatedAt:  u.Created,
		UpdatedAt:  u.LastUpdated,
	}
}

// GetByLegacyID searches by the legacyId profile attribute.
func (d *OktaDirectory) GetByLegacyID(ctx context.Context, legacyID string) (*User, error) {
	u, err := d.findOne(ctx, eq("profile.legacyId", legacyID))
	if err != nil || u == nil {
		return nil, err
	}
	out := u.toUser()
	return &out, nil
}

func (d *OktaDirectory) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := d.findOne(ctx, eq("profile.email", strings.ToLower(email)))
	if err != nil || u == nil {
		return nil, err
	}
	out := u.toUser()
	return &out, nil
}

func (d *OktaDirectory) GetByProvider(ctx context.Context, provider Provider, providerID string) (*User, error) {
	if providerID == "" {
		return nil, nil
	}
	u, err := d.findOne(ctx, and(eq("profile.provider", string(provider)), eq("profile.providerId", providerID)))
	if err != nil || u == nil {
		return nil, err
	}
	out := u.toUser()
	return &out, nil
}

// List returns one provider page. The next cursor is read from the Link header.
func (d *OktaDirectory) List(ctx context.Context, filter Filter, req ListRequest) (ListResult, error) {
	q := url.Values{}
	if search := searchExpression(filter); search != "" {
		q.Set("search", search)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.After != "" {
		q.Set("after", req.After)
	}

	var users []oktaUser
	resp, err := d.do(ctx, http.MethodGet, "/api/v1/users?"+q.Encode(), nil, &users)
	if err != nil {
		return ListResult{}, err
	}

	out := ListResult{Users: make([]User, 0, len(users)), NextAfter: nextAfter(resp.Header)}
	for _, u := range users {
		out.Users = append(out.Users, u.toUser())
	}
	return out, nil
}

// Create provisions and activates a user. The legacyId is assigned here and
// never changes afterwards.
func (d *OktaDirectory) Create(ctx context.Context, in NewUser) (*User, error) {
	existing, err := d.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	legacyID, err := newLegacyID()
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}
	provider := in.Provider
	if provider == "" {
		provider = ProviderLocal
	}
	apps := in.Apps
	if apps == nil {
		apps = []string{}
	}

	first, last := splitName(in.Name)
	body := map[string]any{
		"profile": oktaProfile{
			Login:       strings.ToLower(in.Email),
			Email:       strings.ToLower(in.Email),
			FirstName:   first,
			LastName:    last,
			LegacyID:    legacyID,
			DisplayName: in.Name,
			Photo:       in.Photo,
			Role:        string(role),
			Provider:    string(provider),
			ProviderID:  in.ProviderID,
			Apps:        apps,
		},
	}
	if in.Password != "" {
		body["credentials"] = map[string]any{"password": map[string]string{"value": in.Password}}
	}

	var created oktaUser
	if _, err := d.do(ctx, http.MethodPost, "/api/v1/users?activate=true", body, &created); err != nil {
		return nil, err
	}
	out := created.toUser()
	d.logger.Info().Str("legacy_id", out.LegacyID).Str("provider", string(out.Provider)).Msg("user created")
	return &out, nil
}

// Update applies a partial profile update.
func (d *OktaDirectory) Update(ctx context.Context, legacyID string, changes Changes) (*User, error) {
	current, err := d.findOne(ctx, eq("profile.legacyId", legacyID))
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	profile := map[string]any{}
	if changes.Name != nil {
		profile["displayName"] = *changes.Name
	}
	if changes.Photo != nil {
		profile["photo"] = *changes.Photo
	}
	if changes.Role != nil {
		profile["role"] = string(*changes.Role)
	}
	if changes.Apps != nil {
		profile["apps"] = *changes.Apps
	}
	if changes.Provider != nil {
		profile["provider"] = string(*changes.Provider)
	}
	if changes.ProviderID != nil {
		profile["providerId"] = *changes.ProviderID
	}

	var updated oktaUser
	if _, err := d.do(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(current.ID), map[string]any{"profile": profile}, &updated); err != nil {
		return nil, err
	}
	out := updated.toUser()
	return &out, nil
}

// Delete deactivates then removes the user, returning the last known record.
func (d *OktaDirectory) Delete(ctx context.Context, legacyID string) (*User, error) {
	current, err := d.findOne(ctx, eq("profile.legacyId", legacyID))
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	path := "/api/v1/users/" + url.PathEscape(current.ID)
	if current.Status != "DEPROVISIONED" {
		if _, err := d.do(ctx, http.MethodPost, path+"/lifecycle/deactivate", nil, nil); err != nil {
			return nil, err
		}
	}
	if _, err := d.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return nil, err
	}
	out := current.toUser()
	d.logger.Info().Str("legacy_id", legacyID).Msg("user deleted")
	return &out, nil
}

// Authenticate checks a password with the primary authentication API.
// Every rejection collapses into ErrInvalidCredentials.
func (d *OktaDirectory) Authenticate(ctx context.Context, email, password string) (*User, error) {
	var authn struct {
		Status   string `json:"status"`
		Embedded struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"_embedded"`
	}
	_, err := d.do(ctx, http.MethodPost, "/api/v1/authn", map[string]string{
		"username": strings.ToLower(email),
		"password": password,
	}, &authn)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnauthorized) || errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if authn.Status != "SUCCESS" || authn.Embedded.User.ID == "" {
		return nil, ErrInvalidCredentials
	}

	var u oktaUser
	if _, err := d.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(authn.Embedded.User.ID), nil, &u); err != nil {
		return nil, err
	}
	out := u.toUser()
	return &out, nil
}

// ResetPassword asks Okta to email a reset link. Unknown emails are ignored
// so callers cannot enumerate accounts.
func (d *OktaDirectory) ResetPassword(ctx context.Context, email string) error {
	u, err := d.findOne(ctx, eq("profile.email", strings.ToLower(email)))
	if err != nil {
		return err
	}
	if u == nil {
		return nil
	}
	_, err = d.do(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(u.ID)+"/lifecycle/reset_password?sendEmail=true", nil, nil)
	return err
}

func (d *OktaDirectory) findOne(ctx context.Context, search string) (*oktaUser, error) {
	var users []oktaUser
	q := url.Values{"search": {search}, "limit": {"1"}}
	if _, err := d.do(ctx, http.MethodGet, "/api/v1/users?"+q.Encode(), nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// do performs one API call. 404 maps to ErrNotFound, 401/403 to
// ErrUpstreamUnauthorized and every other non-2xx to ErrUpstream.
func (d *OktaDirectory) do(ctx context.Context, method, path string, body, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("identity: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "SSWS "+d.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUpstream, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp, ErrUpstreamUnauthorized
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		d.logger.Warn().Str("method", method).Int("status", resp.StatusCode).Str("body", string(snippet)).Msg("identity provider call failed")
		return resp, fmt.Errorf("%w: %s %s returned %d", ErrUpstream, method, path, resp.StatusCode)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp, fmt.Errorf("%w: decode %s: %v", ErrUpstream, path, err)
		}
	}
	return resp, nil
}

func searchExpression(f Filter) string {
	var parts []string
	if f.Name != "" {
		parts = append(parts, sw("profile.displayName", f.Name))
	}
	if f.Email != "" {
		parts = append(parts, sw("profile.email", strings.ToLower(f.Email)))
	}
	if f.Provider != "" {
		parts = append(parts, eq("profile.provider", string(f.Provider)))
	}
	if f.Role != "" {
		parts = append(parts, eq("profile.role", string(f.Role)))
	}
	if f.App != "" {
		parts = append(parts, eq("profile.apps", f.App))
	}
	if len(f.IDs) > 0 {
		ids := make([]string, 0, len(f.IDs))
		for _, id := range f.IDs {
			ids = append(ids, eq("profile.legacyId", id))
		}
		parts = append(parts, "("+strings.Join(ids, " or ")+")")
	}
	return strings.Join(parts, " and ")
}

func eq(attr, value string) string { return attr + ` eq "` + escapeSearch(value) + `"` }

func sw(attr, value string) string { return attr + ` sw "` + escapeSearch(value) + `"` }

func and(exprs ...string) string { return strings.Join(exprs, " and ") }

func escapeSearch(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

// nextAfter extracts the after cursor from a Link: <...>; rel="next" header.
func nextAfter(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			if !strings.Contains(part, `rel="next"`) {
				continue
			}
			start, end := strings.Index(part, "<"), strings.Index(part, ">")
			if start < 0 || end <= start {
				continue
			}
			u, err := url.Parse(part[start+1 : end])
			if err != nil {
				continue
			}
			return u.Query().Get("after")
		}
	}
	return ""
}

func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "RW", "API"
	}
	first, last, found := strings.Cut(name, " ")
	if !found || strings.TrimSpace(last) == "" {
		return first, "-"
	}
	return first, strings.TrimSpace(last)
}

func newLegacyID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: generate legacy id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
