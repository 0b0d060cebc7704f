// Package organizations provides HTTP handlers for organization management.
//
// Purpose:
//
//	This package implements the /api/v1/organization resource. Only ADMIN
//	may create, update or delete organizations and MANAGER may read and list
//	them. ORG_ADMIN membership grants access to the organization's
//	applications, not to the organization itself.
//
// Key Responsibilities:
//   - List: GET /api/v1/organization
//   - Create: POST /api/v1/organization
//   - Get, Update, Delete: GET|PATCH|DELETE /api/v1/organization/{id}
//
// Debugging Notes:
//   - PATCH replaces the member and application sets when they are present
//   - DELETE fails with 400 while any application belongs to the organization
package organizations

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/audit"
	"github.com/resource-watch/authentication-sub000/internal/authz"
	"github.com/resource-watch/authentication-sub000/internal/bootstrap"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/middleware"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
)

// ResourceType is the JSON:API type of organization documents.
const ResourceType = "organizations"

// Store is the organization side of the association store.
type Store interface {
	CreateOrganization(ctx context.Context, params postgres.CreateOrganizationParams) (postgres.Organization, error)
	GetOrganization(ctx context.Context, id string) (postgres.Organization, error)
	ListOrganizations(ctx context.Context, filter postgres.OrganizationFilter) ([]postgres.Organization, int, error)
	UpdateOrganization(ctx context.Context, params postgres.UpdateOrganizationParams) (postgres.Organization, error)
	CascadeDeleteOrganization(ctx context.Context, organizationID string) (postgres.Organization, error)
}

// Authorizer decides access to organizations.
type Authorizer interface {
	Authorize(ctx context.Context, caller *authz.Caller, target authz.Resource, intent authz.Intent) error
}

// Handler serves organization endpoints.
type Handler struct {
	store  Store
	authz  Authorizer
	audit  audit.Emitter
	logger zerolog.Logger
}

func NewHandler(store Store, authorizer Authorizer, emitter audit.Emitter, logger zerolog.Logger) *Handler {
	if emitter == nil {
		emitter = audit.NewNoopEmitter()
	}
	return &Handler{
		store:  store,
		authz:  authorizer,
		audit:  emitter,
		logger: logger.With().Str("component", "organizations").Logger(),
	}
}

// RegisterRoutes mounts organization routes beneath /api/v1/organization.
func RegisterRoutes(router chi.Router, rt *bootstrap.Runtime, logger zerolog.Logger) {
	if rt == nil || rt.Postgres == nil {
		return
	}
	NewHandler(rt.Postgres, rt.Authz, rt.Audit, logger).Routes(router)
}

// Routes mounts the handler on router.
func (h *Handler) Routes(router chi.Router) {
	router.Route("/api/v1/organization", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// Member is one membership in requests and responses.
type Member struct {
	ID   string           `json:"id"`
	Role postgres.OrgRole `json:"role"`
}

// Attributes is the JSON:API attribute set of an organization.
type Attributes struct {
	Name         string    `json:"name"`
	Applications []string  `json:"applications"`
	Users        []Member  `json:"users"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Serialize converts an organization into a JSON:API resource.
func Serialize(org postgres.Organization) jsonapi.Resource {
	attrs := Attributes{
		Name:         org.Name,
		Applications: make([]string, 0, len(org.ApplicationIDs)),
		Users:        make([]Member, 0, len(org.Members)),
		CreatedAt:    org.CreatedAt,
		UpdatedAt:    org.UpdatedAt,
	}
	for _, id := range org.ApplicationIDs {
		attrs.Applications = append(attrs.Applications, id.String())
	}
	for _, m := range org.Members {
		attrs.Users = append(attrs.Users, Member{ID: m.UserID, Role: m.Role})
	}
	return jsonapi.Resource{ID: org.ID.String(), Type: ResourceType, Attributes: attrs}
}

// CreateRequest is the payload of POST /api/v1/organization.
type CreateRequest struct {
	Name         string   `json:"name"`
	Applications []string `json:"applications,omitempty"`
	Users        []Member `json:"users,omitempty"`
}

// UpdateRequest is the payload of PATCH /api/v1/organization/{id}.
type UpdateRequest struct {
	Name         *string   `json:"name,omitempty"`
	Applications *[]string `json:"applications,omitempty"`
	Users        *[]Member `json:"users,omitempty"`
}

func memberParams(members []Member) []postgres.MemberParams {
	out := make([]postgres.MemberParams, 0, len(members))
	for _, m := range members {
		out = append(out, postgres.MemberParams{UserID: m.ID, Role: m.Role})
	}
	return out
}

// List handles GET /api/v1/organization. ADMIN and MANAGER see every
// organization; everyone else is forbidden.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.authz.Authorize(ctx, middleware.CallerFrom(ctx), authz.Organization(""), authz.IntentList); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	page, err := jsonapi.ParsePage(r)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	filter := postgres.OrganizationFilter{
		Name:   r.URL.Query().Get("name"),
		Limit:  page.Size,
		Offset: page.Offset(),
	}

	orgs, total, err := h.store.ListOrganizations(ctx, filter)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	data := make([]jsonapi.Resource, 0, len(orgs))
	for _, org := range orgs {
		data = append(data, Serialize(org))
	}
	jsonapi.WriteJSON(w, http.StatusOK, jsonapi.Document{
		Data:  data,
		Links: jsonapi.OffsetLinks(r, page, page.Offset()+len(orgs) < total),
		Meta:  map[string]int{"total-items": total, "size": page.Size},
	})
}

// Create handles POST /api/v1/organization.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	if err := h.authz.Authorize(ctx, caller, authz.Organization(""), authz.IntentWrite); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	if req.Name == "" {
		jsonapi.WriteError(w, r, apierror.BadRequest("Organization name is required"))
		return
	}

	org, err := h.store.CreateOrganization(ctx, postgres.CreateOrganizationParams{
		Name:           req.Name,
		Members:        memberParams(req.Users),
		ApplicationIDs: req.Applications,
	})
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	h.emit(r, caller, audit.ActionOrganizationCreate, org)
	jsonapi.WriteData(w, http.StatusOK, Serialize(org))
}

// Get handles GET /api/v1/organization/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.authz.Authorize(ctx, middleware.CallerFrom(ctx), authz.Organization(id), authz.IntentRead); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	org, err := h.store.GetOrganization(ctx, id)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	jsonapi.WriteData(w, http.StatusOK, Serialize(org))
}

// Update handles PATCH /api/v1/organization/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	id := chi.URLParam(r, "id")
	if err := h.authz.Authorize(ctx, caller, authz.Organization(id), authz.IntentWrite); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	params := postgres.UpdateOrganizationParams{ID: id, Name: req.Name, ApplicationIDs: req.Applications}
	if req.Users != nil {
		members := memberParams(*req.Users)
		params.Members = &members
	}

	org, err := h.store.UpdateOrganization(ctx, params)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	h.emit(r, caller, audit.ActionOrganizationUpdate, org)
	jsonapi.WriteData(w, http.StatusOK, Serialize(org))
}

// Delete handles DELETE /api/v1/organization/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	id := chi.URLParam(r, "id")
	if err := h.authz.Authorize(ctx, caller, authz.Organization(id), authz.IntentDelete); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	org, err := h.store.CascadeDeleteOrganization(ctx, id)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	h.emit(r, caller, audit.ActionOrganizationDelete, org)
	jsonapi.WriteData(w, http.StatusOK, Serialize(org))
}

func (h *Handler) emit(r *http.Request, caller *authz.Caller, action string, org postgres.Organization) {
	event := audit.BuildEventFromRequest(
		audit.BuildEvent(caller.ID, audit.ActorTypeFor(caller.IsMicroservice()), action, audit.TargetTypeOrganization, org.ID.String()).
			WithMetadata(map[string]any{"name": org.Name}),
		r,
	)
	if err := h.audit.Emit(r.Context(), event); err != nil {
		h.logger.Warn().Err(err).Str("action", action).Msg("failed to emit audit event")
	}
}
