// Package postgrestest provides an in-memory stand-in for postgres.Store
// with the same not-found, conflict and delete-guard semantics.
package postgrestest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
)

type application struct {
	id        uuid.UUID
	name      string
	apiKey    string
	createdAt time.Time
	updatedAt time.Time
}

type organization struct {
	id        uuid.UUID
	name      string
	createdAt time.Time
	updatedAt time.Time
}

type membershipKey struct {
	org  uuid.UUID
	user string
}

// Store is a concurrency-safe in-memory association store.
type Store struct {
	mu sync.Mutex

	apps      map[uuid.UUID]*application
	appOrder  []uuid.UUID
	orgs      map[uuid.UUID]*organization
	orgOrder  []uuid.UUID
	owners    map[uuid.UUID]string
	appOrgs   map[uuid.UUID]uuid.UUID
	members   map[membershipKey]postgres.OrgRole
	memberSeq []membershipKey
	deletions map[uuid.UUID]*postgres.Deletion
	delOrder  []uuid.UUID

	// Err, when set, is returned by every association lookup.
	Err error
}

func NewStore() *Store {
	return &Store{
		apps:      map[uuid.UUID]*application{},
		orgs:      map[uuid.UUID]*organization{},
		owners:    map[uuid.UUID]string{},
		appOrgs:   map[uuid.UUID]uuid.UUID{},
		members:   map[membershipKey]postgres.OrgRole{},
		deletions: map[uuid.UUID]*postgres.Deletion{},
	}
}

func notFound(resource string) error {
	return &postgres.NotFoundError{Resource: resource}
}

func parseID(resource, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, notFound(resource)
	}
	return id, nil
}

func newAPIKey() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (s *Store) application(id uuid.UUID) postgres.Application {
	a := s.apps[id]
	out := postgres.Application{
		ID:          a.id,
		Name:        a.name,
		APIKeyValue: a.apiKey,
		CreatedAt:   a.createdAt,
		UpdatedAt:   a.updatedAt,
	}
	if owner, ok := s.owners[id]; ok {
		out.OwnerID = &owner
	}
	if org, ok := s.appOrgs[id]; ok {
		out.OrganizationID = &org
	}
	return out
}

func (s *Store) organization(id uuid.UUID) postgres.Organization {
	o := s.orgs[id]
	out := postgres.Organization{
		ID:             o.id,
		Name:           o.name,
		Members:        []postgres.Membership{},
		ApplicationIDs: []uuid.UUID{},
		CreatedAt:      o.createdAt,
		UpdatedAt:      o.updatedAt,
	}
	for _, k := range s.memberSeq {
		if k.org == id {
			out.Members = append(out.Members, postgres.Membership{OrganizationID: id, UserID: k.user, Role: s.members[k]})
		}
	}
	for _, appID := range s.appOrder {
		if org, ok := s.appOrgs[appID]; ok && org == id {
			out.ApplicationIDs = append(out.ApplicationIDs, appID)
		}
	}
	return out
}

func (s *Store) setOwner(appID uuid.UUID, userID *string) {
	delete(s.owners, appID)
	if userID != nil && *userID != "" {
		s.owners[appID] = *userID
	}
}

func (s *Store) setApplicationOrganization(appID uuid.UUID, orgID *uuid.UUID) error {
	if orgID == nil {
		delete(s.appOrgs, appID)
		return nil
	}
	if _, ok := s.orgs[*orgID]; !ok {
		return notFound("Organization")
	}
	s.appOrgs[appID] = *orgID
	return nil
}

func (s *Store) setMember(orgID uuid.UUID, userID string, role *postgres.OrgRole) {
	k := membershipKey{org: orgID, user: userID}
	if role == nil {
		delete(s.members, k)
		s.memberSeq = slices.DeleteFunc(s.memberSeq, func(m membershipKey) bool { return m == k })
		return
	}
	if _, ok := s.members[k]; !ok {
		s.memberSeq = append(s.memberSeq, k)
	}
	s.members[k] = *role
}

func (s *Store) CreateApplication(_ context.Context, params postgres.CreateApplicationParams) (postgres.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orgID *uuid.UUID
	if params.OrganizationID != nil {
		id, err := parseID("Organization", *params.OrganizationID)
		if err != nil {
			return postgres.Application{}, err
		}
		if _, ok := s.orgs[id]; !ok {
			return postgres.Application{}, notFound("Organization")
		}
		orgID = &id
	}
	now := time.Now().UTC()
	a := &application{id: uuid.New(), name: params.Name, apiKey: newAPIKey(), createdAt: now, updatedAt: now}
	s.apps[a.id] = a
	s.appOrder = append(s.appOrder, a.id)
	s.setOwner(a.id, params.OwnerID)
	_ = s.setApplicationOrganization(a.id, orgID)
	return s.application(a.id), nil
}

func (s *Store) GetApplication(_ context.Context, id string) (postgres.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appID, err := parseID("Application", id)
	if err != nil {
		return postgres.Application{}, err
	}
	if _, ok := s.apps[appID]; !ok {
		return postgres.Application{}, notFound("Application")
	}
	return s.application(appID), nil
}

func (s *Store) GetApplicationByAPIKey(_ context.Context, apiKey string) (postgres.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.appOrder {
		if s.apps[id].apiKey == apiKey {
			return s.application(id), nil
		}
	}
	return postgres.Application{}, notFound("Application")
}

func (s *Store) ListApplications(_ context.Context, filter postgres.ApplicationFilter) ([]postgres.Application, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []postgres.Application
	for _, id := range s.appOrder {
		if filter.Name != "" && !strings.Contains(strings.ToLower(s.apps[id].name), strings.ToLower(filter.Name)) {
			continue
		}
		if filter.IDs != nil && !slices.Contains(filter.IDs, id) {
			continue
		}
		matched = append(matched, s.application(id))
	}
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (s *Store) UpdateApplication(_ context.Context, params postgres.UpdateApplicationParams) (postgres.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appID, err := parseID("Application", params.ID)
	if err != nil {
		return postgres.Application{}, err
	}
	a, ok := s.apps[appID]
	if !ok {
		return postgres.Application{}, notFound("Application")
	}
	var orgID *uuid.UUID
	if params.SetOrganization && params.OrganizationID != nil {
		id, err := parseID("Organization", *params.OrganizationID)
		if err != nil {
			return postgres.Application{}, err
		}
		if _, ok := s.orgs[id]; !ok {
			return postgres.Application{}, notFound("Organization")
		}
		orgID = &id
	}
	if params.Name != nil {
		a.name = *params.Name
	}
	if params.SetOwner {
		s.setOwner(appID, params.OwnerID)
	}
	if params.SetOrganization {
		_ = s.setApplicationOrganization(appID, orgID)
	}
	a.updatedAt = time.Now().UTC()
	return s.application(appID), nil
}

func (s *Store) RegenerateAPIKey(_ context.Context, id string) (postgres.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appID, err := parseID("Application", id)
	if err != nil {
		return postgres.Application{}, err
	}
	a, ok := s.apps[appID]
	if !ok {
		return postgres.Application{}, notFound("Application")
	}
	a.apiKey = newAPIKey()
	a.updatedAt = time.Now().UTC()
	return s.application(appID), nil
}

func (s *Store) DeleteApplication(_ context.Context, id string) (postgres.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appID, err := parseID("Application", id)
	if err != nil {
		return postgres.Application{}, err
	}
	if _, ok := s.apps[appID]; !ok {
		return postgres.Application{}, notFound("Application")
	}
	out := s.application(appID)
	delete(s.apps, appID)
	delete(s.owners, appID)
	delete(s.appOrgs, appID)
	s.appOrder = slices.DeleteFunc(s.appOrder, func(u uuid.UUID) bool { return u == appID })
	return out, nil
}

func (s *Store) CreateOrganization(_ context.Context, params postgres.CreateOrganizationParams) (postgres.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appIDs, err := s.existingApplications(params.ApplicationIDs)
	if err != nil {
		return postgres.Organization{}, err
	}
	if err := validateMembers(params.Members); err != nil {
		return postgres.Organization{}, err
	}
	now := time.Now().UTC()
	o := &organization{id: uuid.New(), name: params.Name, createdAt: now, updatedAt: now}
	s.orgs[o.id] = o
	s.orgOrder = append(s.orgOrder, o.id)
	for _, m := range params.Members {
		s.setMember(o.id, m.UserID, &m.Role)
	}
	for _, appID := range appIDs {
		s.appOrgs[appID] = o.id
	}
	return s.organization(o.id), nil
}

func (s *Store) GetOrganization(_ context.Context, id string) (postgres.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orgID, err := parseID("Organization", id)
	if err != nil {
		return postgres.Organization{}, err
	}
	if _, ok := s.orgs[orgID]; !ok {
		return postgres.Organization{}, notFound("Organization")
	}
	return s.organization(orgID), nil
}

func (s *Store) ListOrganizations(_ context.Context, filter postgres.OrganizationFilter) ([]postgres.Organization, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []postgres.Organization
	for _, id := range s.orgOrder {
		if filter.Name != "" && !strings.Contains(strings.ToLower(s.orgs[id].name), strings.ToLower(filter.Name)) {
			continue
		}
		if filter.IDs != nil && !slices.Contains(filter.IDs, id) {
			continue
		}
		matched = append(matched, s.organization(id))
	}
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (s *Store) UpdateOrganization(_ context.Context, params postgres.UpdateOrganizationParams) (postgres.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orgID, err := parseID("Organization", params.ID)
	if err != nil {
		return postgres.Organization{}, err
	}
	o, ok := s.orgs[orgID]
	if !ok {
		return postgres.Organization{}, notFound("Organization")
	}
	var appIDs []uuid.UUID
	if params.ApplicationIDs != nil {
		if appIDs, err = s.existingApplications(*params.ApplicationIDs); err != nil {
			return postgres.Organization{}, err
		}
	}
	if params.Members != nil {
		if err := validateMembers(*params.Members); err != nil {
			return postgres.Organization{}, err
		}
	}
	if params.Name != nil {
		o.name = *params.Name
	}
	if params.Members != nil {
		for _, k := range slices.Clone(s.memberSeq) {
			if k.org == orgID {
				s.setMember(orgID, k.user, nil)
			}
		}
		for _, m := range *params.Members {
			s.setMember(orgID, m.UserID, &m.Role)
		}
	}
	if params.ApplicationIDs != nil {
		for appID, org := range s.appOrgs {
			if org == orgID {
				delete(s.appOrgs, appID)
			}
		}
		for _, appID := range appIDs {
			s.appOrgs[appID] = orgID
		}
	}
	o.updatedAt = time.Now().UTC()
	return s.organization(orgID), nil
}

func (s *Store) existingApplications(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := parseID("Application", r)
		if err != nil {
			return nil, err
		}
		if _, ok := s.apps[id]; !ok {
			return nil, notFound("Application")
		}
		out = append(out, id)
	}
	return out, nil
}

func validateMembers(members []postgres.MemberParams) error {
	seen := map[string]bool{}
	for _, m := range members {
		if m.UserID == "" || !m.Role.Valid() {
			return fmt.Errorf("%w: member %q with role %q", postgres.ErrInvalidMembership, m.UserID, m.Role)
		}
		if seen[m.UserID] {
			return fmt.Errorf("%w: user %s listed twice", postgres.ErrConflict, m.UserID)
		}
		seen[m.UserID] = true
	}
	return nil
}

func (s *Store) SetApplicationOwner(_ context.Context, applicationID string, userID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	appID, err := parseID("Application", applicationID)
	if err != nil {
		return err
	}
	if _, ok := s.apps[appID]; !ok {
		return notFound("Application")
	}
	s.setOwner(appID, userID)
	return nil
}

func (s *Store) SetOrganizationMembership(_ context.Context, organizationID, userID string, role *postgres.OrgRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	orgID, err := parseID("Organization", organizationID)
	if err != nil {
		return err
	}
	if role != nil && !role.Valid() {
		return fmt.Errorf("%w: role %q", postgres.ErrInvalidMembership, *role)
	}
	if _, ok := s.orgs[orgID]; !ok {
		return notFound("Organization")
	}
	s.setMember(orgID, userID, role)
	return nil
}

func (s *Store) SetApplicationOrganization(_ context.Context, applicationID string, organizationID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	appID, err := parseID("Application", applicationID)
	if err != nil {
		return err
	}
	var orgID *uuid.UUID
	if organizationID != nil {
		id, err := parseID("Organization", *organizationID)
		if err != nil {
			return err
		}
		orgID = &id
	}
	if _, ok := s.apps[appID]; !ok {
		return notFound("Application")
	}
	return s.setApplicationOrganization(appID, orgID)
}

func (s *Store) CascadeDeleteUserAssociations(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for appID, owner := range s.owners {
		if owner == userID {
			delete(s.owners, appID)
		}
	}
	for _, k := range slices.Clone(s.memberSeq) {
		if k.user == userID {
			s.setMember(k.org, userID, nil)
		}
	}
	return nil
}

func (s *Store) CascadeDeleteOrganization(_ context.Context, organizationID string) (postgres.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orgID, err := parseID("Organization", organizationID)
	if err != nil {
		return postgres.Organization{}, err
	}
	if _, ok := s.orgs[orgID]; !ok {
		return postgres.Organization{}, notFound("Organization")
	}
	for _, org := range s.appOrgs {
		if org == orgID {
			return postgres.Organization{}, postgres.ErrHasApplications
		}
	}
	out := s.organization(orgID)
	for _, k := range slices.Clone(s.memberSeq) {
		if k.org == orgID {
			s.setMember(orgID, k.user, nil)
		}
	}
	delete(s.orgs, orgID)
	s.orgOrder = slices.DeleteFunc(s.orgOrder, func(u uuid.UUID) bool { return u == orgID })
	return out, nil
}

func (s *Store) ListApplicationsForOrganizationAdmin(_ context.Context, userID string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []uuid.UUID{}
	for _, appID := range s.appOrder {
		org, ok := s.appOrgs[appID]
		if ok && s.members[membershipKey{org: org, user: userID}] == postgres.OrgRoleAdmin {
			out = append(out, appID)
		}
	}
	return out, nil
}

func (s *Store) ListApplicationsOwnedBy(_ context.Context, userID string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []uuid.UUID{}
	for _, appID := range s.appOrder {
		if s.owners[appID] == userID {
			out = append(out, appID)
		}
	}
	return out, nil
}

func (s *Store) IsApplicationOwner(_ context.Context, applicationID uuid.UUID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	owner, ok := s.owners[applicationID]
	return ok && owner == userID, nil
}

func (s *Store) IsOrganizationAdminOfApplication(_ context.Context, applicationID uuid.UUID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	org, ok := s.appOrgs[applicationID]
	return ok && s.members[membershipKey{org: org, user: userID}] == postgres.OrgRoleAdmin, nil
}

func (s *Store) OrganizationRole(_ context.Context, organizationID uuid.UUID, userID string) (postgres.OrgRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.members[membershipKey{org: organizationID, user: userID}], nil
}

func (s *Store) ListOrganizationsForMember(_ context.Context, userID string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []uuid.UUID{}
	for _, k := range s.memberSeq {
		if k.user == userID {
			out = append(out, k.org)
		}
	}
	return out, nil
}

func (s *Store) CreateDeletion(_ context.Context, userID, requestorID string) (postgres.Deletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	d := &postgres.Deletion{
		ID:          uuid.New(),
		UserID:      userID,
		RequestorID: requestorID,
		Status:      postgres.DeletionPending,
		Steps:       map[postgres.DeletionResource]bool{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, r := range postgres.DeletionResources() {
		d.Steps[r] = false
	}
	s.deletions[d.ID] = d
	s.delOrder = append(s.delOrder, d.ID)
	return cloneDeletion(d), nil
}

func (s *Store) MarkDeletionStep(_ context.Context, id uuid.UUID, resource postgres.DeletionResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deletions[id]
	if !ok || d.Status != postgres.DeletionPending {
		return notFound("Deletion")
	}
	if _, known := d.Steps[resource]; !known {
		return fmt.Errorf("unknown deletion resource %q", resource)
	}
	d.Steps[resource] = true
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) FinalizeDeletion(_ context.Context, id uuid.UUID, status postgres.DeletionStatus) (postgres.Deletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status != postgres.DeletionDone && status != postgres.DeletionFailed {
		return postgres.Deletion{}, fmt.Errorf("invalid terminal deletion status %q", status)
	}
	d, ok := s.deletions[id]
	if !ok || d.Status != postgres.DeletionPending {
		return postgres.Deletion{}, notFound("Deletion")
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return cloneDeletion(d), nil
}

func (s *Store) GetDeletion(_ context.Context, id string) (postgres.Deletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deletionID, err := parseID("Deletion", id)
	if err != nil {
		return postgres.Deletion{}, err
	}
	d, ok := s.deletions[deletionID]
	if !ok {
		return postgres.Deletion{}, notFound("Deletion")
	}
	return cloneDeletion(d), nil
}

func (s *Store) ListDeletions(_ context.Context, filter postgres.DeletionFilter) ([]postgres.Deletion, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []postgres.Deletion
	for i := len(s.delOrder) - 1; i >= 0; i-- {
		d := s.deletions[s.delOrder[i]]
		if filter.UserID != "" && d.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		matched = append(matched, cloneDeletion(d))
	}
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

// FinalizeStaleDeletions fails pending deletions created before cutoff.
func (s *Store) FinalizeStaleDeletions(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.deletions {
		if d.Status == postgres.DeletionPending && d.CreatedAt.Before(cutoff) {
			d.Status = postgres.DeletionFailed
			d.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *Store) CountIncompleteDeletions(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.deletions {
		if d.Status != postgres.DeletionDone {
			n++
		}
	}
	return n, nil
}

func cloneDeletion(d *postgres.Deletion) postgres.Deletion {
	out := *d
	out.Steps = make(map[postgres.DeletionResource]bool, len(d.Steps))
	for k, v := range d.Steps {
		out.Steps[k] = v
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 10
	}
	offset = max(offset, 0)
	if offset >= len(items) {
		return []T{}
	}
	return slices.Clone(items[offset:min(offset+limit, len(items))])
}
