// Package applications provides HTTP handlers for application management.
//
// Purpose:
//
//	This package implements the /api/v1/application resource. Every request is
//	checked by the authorization resolver: ADMIN sees everything, MANAGER may
//	read and list, and other callers reach an application only as its direct
//	owner or as ORG_ADMIN of the organization it belongs to.
//
// Dependencies:
//   - github.com/go-chi/chi/v5: HTTP router for route parameters
//   - internal/authz: decision table and visible application ids
//   - internal/audit: application.* events
//   - internal/storage/postgres: application records and association links
//
// Key Responsibilities:
//   - List: GET /api/v1/application
//   - Create: POST /api/v1/application
//   - Get, Update, Delete: GET|PATCH|DELETE /api/v1/application/{id}
//   - RegenerateKey: POST /api/v1/application/{id}/regenerate-key
//
// Error Handling:
//   - Malformed or absent ids return 404 "Application not found"
//   - Denials return 401 "Not authenticated" or 403 "Not authorized"
package applications

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/audit"
	"github.com/resource-watch/authentication-sub000/internal/authz"
	"github.com/resource-watch/authentication-sub000/internal/bootstrap"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/middleware"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
)

// ResourceType is the JSON:API type of application documents.
const ResourceType = "applications"

// Store is the application side of the association store.
type Store interface {
	CreateApplication(ctx context.Context, params postgres.CreateApplicationParams) (postgres.Application, error)
	GetApplication(ctx context.Context, id string) (postgres.Application, error)
	ListApplications(ctx context.Context, filter postgres.ApplicationFilter) ([]postgres.Application, int, error)
	UpdateApplication(ctx context.Context, params postgres.UpdateApplicationParams) (postgres.Application, error)
	RegenerateAPIKey(ctx context.Context, id string) (postgres.Application, error)
	DeleteApplication(ctx context.Context, id string) (postgres.Application, error)
}

// Authorizer decides access to applications.
type Authorizer interface {
	Authorize(ctx context.Context, caller *authz.Caller, target authz.Resource, intent authz.Intent) error
	VisibleApplications(ctx context.Context, caller *authz.Caller) ([]uuid.UUID, error)
}

// Handler serves application endpoints.
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
		logger: logger.With().Str("component", "applications").Logger(),
	}
}

// RegisterRoutes mounts application routes beneath /api/v1/application.
func RegisterRoutes(router chi.Router, rt *bootstrap.Runtime, logger zerolog.Logger) {
	if rt == nil || rt.Postgres == nil {
		return
	}
	NewHandler(rt.Postgres, rt.Authz, rt.Audit, logger).Routes(router)
}

// Routes mounts the handler on router.
func (h *Handler) Routes(router chi.Router) {
	router.Route("/api/v1/application", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/regenerate-key", h.RegenerateKey)
	})
}

// Attributes is the JSON:API attribute set of an application.
type Attributes struct {
	Name         string    `json:"name"`
	APIKeyValue  string    `json:"apiKeyValue"`
	User         *string   `json:"user"`
	Organization *string   `json:"organization"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Serialize converts an application into a JSON:API resource.
func Serialize(app postgres.Application) jsonapi.Resource {
	attrs := Attributes{
		Name:        app.Name,
		APIKeyValue: app.APIKeyValue,
		User:        app.OwnerID,
		CreatedAt:   app.CreatedAt,
		UpdatedAt:   app.UpdatedAt,
	}
	if app.OrganizationID != nil {
		org := app.OrganizationID.String()
		attrs.Organization = &org
	}
	return jsonapi.Resource{ID: app.ID.String(), Type: ResourceType, Attributes: attrs}
}

// CreateRequest is the payload of POST /api/v1/application.
type CreateRequest struct {
	Name         string  `json:"name"`
	User         *string `json:"user,omitempty"`
	Organization *string `json:"organization,omitempty"`
}

// UpdateRequest is the payload of PATCH /api/v1/application/{id}. Present
// keys are applied; a null user or organization removes the link.
type UpdateRequest struct {
	Name         *string         `json:"name,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
	Organization json.RawMessage `json:"organization,omitempty"`
}

// List handles GET /api/v1/application.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	if caller == nil {
		jsonapi.WriteError(w, r, apierror.Unauthenticated(apierror.DetailNotAuthenticated))
		return
	}

	visible, err := h.authz.VisibleApplications(ctx, caller)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	page, err := jsonapi.ParsePage(r)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	apps, total, err := h.store.ListApplications(ctx, postgres.ApplicationFilter{
		Name:   r.URL.Query().Get("name"),
		IDs:    visible,
		Limit:  page.Size,
		Offset: page.Offset(),
	})
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	data := make([]jsonapi.Resource, 0, len(apps))
	for _, app := range apps {
		data = append(data, Serialize(app))
	}
	jsonapi.WriteJSON(w, http.StatusOK, jsonapi.Document{
		Data:  data,
		Links: jsonapi.OffsetLinks(r, page, page.Offset()+len(apps) < total),
		Meta:  map[string]int{"total-items": total, "size": page.Size},
	})
}

// Create handles POST /api/v1/application. Non-admin callers always become
// the owner; only ADMIN may create on behalf of another user or organization.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	if caller == nil {
		jsonapi.WriteError(w, r, apierror.Unauthenticated(apierror.DetailNotAuthenticated))
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	if req.Name == "" {
		jsonapi.WriteError(w, r, apierror.BadRequest("Application name is required"))
		return
	}

	owner := req.User
	if !caller.IsAdmin() {
		if req.Organization != nil || (req.User != nil && *req.User != caller.ID) {
			jsonapi.WriteError(w, r, apierror.Forbidden())
			return
		}
		owner = &caller.ID
	}

	app, err := h.store.CreateApplication(ctx, postgres.CreateApplicationParams{
		Name:           req.Name,
		OwnerID:        owner,
		OrganizationID: req.Organization,
	})
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	h.emit(r, caller, audit.ActionApplicationCreate, app)
	jsonapi.WriteData(w, http.StatusOK, Serialize(app))
}

// Get handles GET /api/v1/application/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.authz.Authorize(ctx, middleware.CallerFrom(ctx), authz.Application(id), authz.IntentRead); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	app, err := h.store.GetApplication(ctx, id)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	jsonapi.WriteData(w, http.StatusOK, Serialize(app))
}

// Update handles PATCH /api/v1/application/{id}. Changing the owner or the
// organization is reserved to ADMIN.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	id := chi.URLParam(r, "id")
	if err := h.authz.Authorize(ctx, caller, authz.Application(id), authz.IntentWrite); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	params := postgres.UpdateApplicationParams{ID: id, Name: req.Name}
	var err error
	if params.SetOwner, params.OwnerID, err = optionalID(req.User); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	if params.SetOrganization, params.OrganizationID, err = optionalID(req.Organization); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	if (params.SetOwner || params.SetOrganization) && !caller.IsAdmin() {
		jsonapi.WriteError(w, r, apierror.Forbidden())
		return
	}

	app, err := h.store.UpdateApplication(ctx, params)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	h.emit(r, caller, audit.ActionApplicationUpdate, app)
	jsonapi.WriteData(w, http.StatusOK, Serialize(app))
}

// Delete handles DELETE /api/v1/application/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	id := chi.URLParam(r, "id")
	if err := h.authz.Authorize(ctx, caller, authz.Application(id), authz.IntentDelete); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	app, err := h.store.DeleteApplication(ctx, id)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	h.emit(r, caller, audit.ActionApplicationDelete, app)
	jsonapi.WriteData(w, http.StatusOK, Serialize(app))
}

// RegenerateKey handles POST /api/v1/application/{id}/regenerate-key.
func (h *Handler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	id := chi.URLParam(r, "id")
	if err := h.authz.Authorize(ctx, caller, authz.Application(id), authz.IntentWrite); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	app, err := h.store.RegenerateAPIKey(ctx, id)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	h.emit(r, caller, audit.ActionApplicationRegenerateKey, app)
	jsonapi.WriteData(w, http.StatusOK, Serialize(app))
}

func (h *Handler) emit(r *http.Request, caller *authz.Caller, action string, app postgres.Application) {
	event := audit.BuildEventFromRequest(
		audit.BuildEvent(caller.ID, audit.ActorTypeFor(caller.IsMicroservice()), action, audit.TargetTypeApplication, app.ID.String()).
			WithMetadata(map[string]any{"name": app.Name}),
		r,
	)
	if err := h.audit.Emit(r.Context(), event); err != nil {
		h.logger.Warn().Err(err).Str("action", action).Msg("failed to emit audit event")
	}
}

// optionalID decodes a JSON key that may be absent, null or a string id.
func optionalID(raw json.RawMessage) (set bool, id *string, err error) {
	if raw == nil {
		return false, nil, nil
	}
	if string(raw) == "null" {
		return true, nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, nil, apierror.BadRequest("Invalid id")
	}
	return true, &s, nil
}
