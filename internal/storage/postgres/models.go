package postgres

import (
	"time"

	"github.com/google/uuid"
)

// OrgRole is a per-organization membership role.
type OrgRole string

const (
	OrgRoleAdmin  OrgRole = "ORG_ADMIN"
	OrgRoleMember OrgRole = "ORG_MEMBER"
)

// Valid reports whether r is a known membership role.
func (r OrgRole) Valid() bool {
	return r == OrgRoleAdmin || r == OrgRoleMember
}

// Application is an API consumer identified by its api key.
// OwnerID and OrganizationID are independent optional links.
type Application struct {
	ID             uuid.UUID
	Name           string
	APIKeyValue    string
	OwnerID        *string
	OrganizationID *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CreateApplicationParams struct {
	Name           string
	OwnerID        *string
	OrganizationID *string
}

// UpdateApplicationParams changes only the fields whose Set flag (or pointer) is present.
type UpdateApplicationParams struct {
	ID              string
	Name            *string
	SetOwner        bool
	OwnerID         *string
	SetOrganization bool
	OrganizationID  *string
}

type ApplicationFilter struct {
	Name string
	// IDs restricts results when non-nil. An empty non-nil slice matches nothing.
	IDs    []uuid.UUID
	Limit  int
	Offset int
}

// Membership is one OrganizationUser row.
type Membership struct {
	OrganizationID uuid.UUID
	UserID         string
	Role           OrgRole
}

type Organization struct {
	ID             uuid.UUID
	Name           string
	Members        []Membership
	ApplicationIDs []uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type MemberParams struct {
	UserID string
	Role   OrgRole
}

type CreateOrganizationParams struct {
	Name           string
	Members        []MemberParams
	ApplicationIDs []string
}

// UpdateOrganizationParams replaces members or applications when the pointer is set.
type UpdateOrganizationParams struct {
	ID             string
	Name           *string
	Members        *[]MemberParams
	ApplicationIDs *[]string
}

type OrganizationFilter struct {
	Name string
	// IDs restricts results when non-nil.
	IDs    []uuid.UUID
	Limit  int
	Offset int
}

// DeletionStatus tracks the lifecycle of a user cascade delete.
type DeletionStatus string

const (
	DeletionPending DeletionStatus = "pending"
	DeletionDone    DeletionStatus = "done"
	DeletionFailed  DeletionStatus = "failed"
)

// DeletionResource names one step of the cascade delete.
type DeletionResource string

const (
	ResourceDatasets      DeletionResource = "datasets"
	ResourceLayers        DeletionResource = "layers"
	ResourceWidgets       DeletionResource = "widgets"
	ResourceUserAccount   DeletionResource = "userAccount"
	ResourceUserData      DeletionResource = "userData"
	ResourceCollections   DeletionResource = "collections"
	ResourceFavourites    DeletionResource = "favourites"
	ResourceAreas         DeletionResource = "areas"
	ResourceApplications  DeletionResource = "applications"
	ResourceStories       DeletionResource = "stories"
	ResourceSubscriptions DeletionResource = "subscriptions"
	ResourceDashboards    DeletionResource = "dashboards"
	ResourceProfiles      DeletionResource = "profiles"
	ResourceTopics        DeletionResource = "topics"
	ResourceOrganizations DeletionResource = "organizations"
)

// deletionColumns maps each step to its boolean column. Order matches scanDeletion.
var deletionColumns = []struct {
	Resource DeletionResource
	Column   string
}{
	{ResourceDatasets, "datasets_deleted"},
	{ResourceLayers, "layers_deleted"},
	{ResourceWidgets, "widgets_deleted"},
	{ResourceUserAccount, "user_account_deleted"},
	{ResourceUserData, "user_data_deleted"},
	{ResourceCollections, "collections_deleted"},
	{ResourceFavourites, "favourites_deleted"},
	{ResourceAreas, "areas_deleted"},
	{ResourceApplications, "applications_deleted"},
	{ResourceStories, "stories_deleted"},
	{ResourceSubscriptions, "subscriptions_deleted"},
	{ResourceDashboards, "dashboards_deleted"},
	{ResourceProfiles, "profiles_deleted"},
	{ResourceTopics, "topics_deleted"},
	{ResourceOrganizations, "organizations_deleted"},
}

// Deletion is the audit record of one user cascade delete.
type Deletion struct {
	ID          uuid.UUID
	UserID      string
	RequestorID string
	Status      DeletionStatus
	Steps       map[DeletionResource]bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DeletionFilter struct {
	UserID string
	Status DeletionStatus
	Limit  int
	Offset int
}
