// Package users provides HTTP handlers for user management.
//
// Purpose:
//
//	This package implements the /auth/user resource on top of the identity
//	directory. Users are never stored locally: reads go through the cached
//	directory, writes go through its write-through Update, and deletes run
//	the cascade delete workflow.
//
// Dependencies:
//   - github.com/go-chi/chi/v5: HTTP router for route parameters
//   - internal/identity: Directory and Pager
//   - internal/deletion: cascade delete workflow
//   - internal/notify: welcome and account-deleted emails
//
// Key Responsibilities:
//   - List: GET /auth/user (ADMIN, MANAGER) with offset or cursor pagination
//   - Create: POST /auth/user (ADMIN, MANAGER)
//   - Me, UpdateMe: GET|PATCH /auth/user/me
//   - Get, Update, Delete: GET|PATCH|DELETE /auth/user/{id}
//   - FindByIDs, IDsByRole: POST /auth/user/find-by-ids, GET /auth/user/ids/{role}
//
// Debugging Notes:
//   - {id} is always the legacyId, never the provider's record id
//   - MANAGER may not create ADMIN users or grant apps it does not hold
//   - DELETE answers 200 with the deleted user even when some downstream
//     steps failed; the deletion record carries the per-resource outcome
package users

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/audit"
	"github.com/resource-watch/authentication-sub000/internal/authz"
	"github.com/resource-watch/authentication-sub000/internal/bootstrap"
	"github.com/resource-watch/authentication-sub000/internal/deletion"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/middleware"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/notify"
)

// Directory is the subset of the identity directory used here. Update must
// evict cached copies of the user.
type Directory interface {
	GetByLegacyID(ctx context.Context, legacyID string) (*identity.User, error)
	List(ctx context.Context, filter identity.Filter, req identity.ListRequest) (identity.ListResult, error)
	Create(ctx context.Context, in identity.NewUser) (*identity.User, error)
	Update(ctx context.Context, legacyID string, changes identity.Changes) (*identity.User, error)
}

// Pager pages over the directory.
type Pager interface {
	Page(ctx context.Context, filter identity.Filter, req identity.PageRequest) (identity.Page, error)
}

// Deleter runs the cascade delete for one user.
type Deleter interface {
	Run(ctx context.Context, userID, requestorID string) (deletion.Result, error)
}

// Authorizer decides access to user records.
type Authorizer interface {
	Authorize(ctx context.Context, caller *authz.Caller, target authz.Resource, intent authz.Intent) error
}

// Dependencies groups the collaborators of Handler.
type Dependencies struct {
	Directory    Directory
	Pager        Pager
	Deletions    Deleter
	Associations Associations
	Authorizer   Authorizer
	Audit        audit.Emitter
	Notify       notify.Publisher
}

// Handler serves user endpoints.
type Handler struct {
	deps   Dependencies
	logger zerolog.Logger
}

func NewHandler(deps Dependencies, logger zerolog.Logger) *Handler {
	if deps.Audit == nil {
		deps.Audit = audit.NewNoopEmitter()
	}
	if deps.Notify == nil {
		deps.Notify = notify.NewLoggerPublisher(logger)
	}
	return &Handler{deps: deps, logger: logger.With().Str("component", "users").Logger()}
}

// RegisterRoutes mounts user routes beneath /auth/user.
func RegisterRoutes(router chi.Router, rt *bootstrap.Runtime, logger zerolog.Logger) {
	if rt == nil || rt.Directory == nil || rt.Postgres == nil {
		return
	}
	NewHandler(Dependencies{
		Directory:    rt.Directory,
		Pager:        rt.Pager,
		Deletions:    rt.Deletions,
		Associations: rt.Postgres,
		Authorizer:   rt.Authz,
		Audit:        rt.Audit,
		Notify:       rt.Notify,
	}, logger).Routes(router)
}

// Routes mounts the handler on router.
func (h *Handler) Routes(router chi.Router) {
	staff := middleware.RequireRole(identity.RoleAdmin, identity.RoleManager)
	services := middleware.RequireRole(identity.RoleMicroservice, identity.RoleAdmin)

	router.Route("/auth/user", func(r chi.Router) {
		r.With(staff).Get("/", h.List)
		r.With(staff).Post("/", h.Create)
		r.With(middleware.RequireAuth).Get("/me", h.Me)
		r.With(middleware.RequireAuth).Patch("/me", h.UpdateMe)
		r.With(services).Post("/find-by-ids", h.FindByIDs)
		r.With(services).Get("/ids/{role}", h.IDsByRole)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// CreateRequest is the payload of POST /auth/user.
type CreateRequest struct {
	Email         string        `json:"email"`
	Name          string        `json:"name,omitempty"`
	Photo         string        `json:"photo,omitempty"`
	Role          identity.Role `json:"role,omitempty"`
	ExtraUserData ExtraUserData `json:"extraUserData"`
}

// UpdateMeRequest is the payload of PATCH /auth/user/me. Role changes are
// not accepted here.
type UpdateMeRequest struct {
	Name         *string   `json:"name,omitempty"`
	Photo        *string   `json:"photo,omitempty"`
	Applications *[]string `json:"applications,omitempty"`
}

// UpdateRequest is the payload of PATCH /auth/user/{id}.
type UpdateRequest struct {
	Name          *string        `json:"name,omitempty"`
	Photo         *string        `json:"photo,omitempty"`
	Role          *identity.Role `json:"role,omitempty"`
	ExtraUserData *ExtraUserData `json:"extraUserData,omitempty"`
}

// FindByIDsRequest is the payload of POST /auth/user/find-by-ids.
type FindByIDsRequest struct {
	IDs []string `json:"ids"`
}

// List handles GET /auth/user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params, err := jsonapi.ParsePage(r)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := identity.Filter{
		Name:     q.Get("name"),
		Email:    q.Get("email"),
		Provider: identity.Provider(q.Get("provider")),
		Role:     identity.Role(strings.ToUpper(q.Get("role"))),
		App:      q.Get("app"),
	}
	if filter.Role != "" && !filter.Role.Valid() {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid role"))
		return
	}

	req := identity.PageRequest{
		Strategy: identity.StrategyOffset,
		Number:   params.Number,
		Size:     params.Size,
		After:    params.After,
		Before:   params.Before,
	}
	if params.Cursor {
		req.Strategy = identity.StrategyCursor
	}
	page, err := h.deps.Pager.Page(r.Context(), filter, req)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	data := make([]jsonapi.Resource, 0, len(page.Users))
	for i := range page.Users {
		data = append(data, Serialize(&page.Users[i]))
	}
	links := jsonapi.OffsetLinks(r, params, page.HasNext)
	if page.Strategy == identity.StrategyCursor {
		links = jsonapi.CursorLinks(r, page.Size, page.Next, page.Prev)
	}
	jsonapi.WriteJSON(w, http.StatusOK, jsonapi.Document{
		Data:  data,
		Links: links,
		Meta:  map[string]int{"size": page.Size},
	})
}

// Create handles POST /auth/user.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		jsonapi.WriteError(w, r, apierror.Unprocessable("Email is required"))
		return
	}
	if req.Role == "" {
		req.Role = identity.RoleUser
	}
	if !req.Role.Valid() {
		jsonapi.WriteError(w, r, apierror.Unprocessable("Invalid role"))
		return
	}
	if !caller.IsAdmin() {
		if req.Role == identity.RoleAdmin || req.Role == identity.RoleMicroservice {
			jsonapi.WriteError(w, r, apierror.Forbidden())
			return
		}
		for _, app := range req.ExtraUserData.Apps {
			if !slices.Contains(caller.Apps, app) {
				jsonapi.WriteError(w, r, apierror.Forbidden())
				return
			}
		}
	}

	user, err := h.deps.Directory.Create(ctx, identity.NewUser{
		Email:    req.Email,
		Name:     req.Name,
		Photo:    req.Photo,
		Role:     req.Role,
		Provider: identity.ProviderLocal,
		Apps:     req.ExtraUserData.Apps,
	})
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	h.mail(ctx, notify.TemplateWelcome, user)
	h.emit(r, caller, audit.ActionUserCreate, user.LegacyID, nil)
	jsonapi.WriteData(w, http.StatusOK, Serialize(user))
}

// Me handles GET /auth/user/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.ClaimsFrom(ctx)
	if claims.IsMicroservice() {
		jsonapi.WriteData(w, http.StatusOK, Serialize(UserFromClaims(claims)))
		return
	}
	h.writeUser(w, r, claims.ID)
}

// UpdateMe handles PATCH /auth/user/me.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	if caller.IsMicroservice() {
		jsonapi.WriteError(w, r, apierror.Forbidden())
		return
	}

	var req UpdateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	h.update(w, r, caller, caller.ID, identity.Changes{Name: req.Name, Photo: req.Photo, Apps: req.Applications})
}

// Get handles GET /auth/user/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	id := chi.URLParam(r, "id")
	if !caller.IsMicroservice() {
		if err := h.deps.Authorizer.Authorize(ctx, caller, authz.User(id), authz.IntentRead); err != nil {
			jsonapi.WriteError(w, r, err)
			return
		}
	}
	h.writeUser(w, r, id)
}

func (h *Handler) writeUser(w http.ResponseWriter, r *http.Request, legacyID string) {
	ctx := r.Context()
	user, err := h.deps.Directory.GetByLegacyID(ctx, legacyID)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	if user == nil {
		jsonapi.WriteError(w, r, apierror.NotFound("User not found"))
		return
	}
	res, err := SerializeWithAssociations(ctx, h.deps.Associations, user)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	jsonapi.WriteData(w, http.StatusOK, res)
}

// Update handles PATCH /auth/user/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	id := chi.URLParam(r, "id")
	if err := h.deps.Authorizer.Authorize(ctx, caller, authz.User(id), authz.IntentWrite); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	if req.Role != nil && !req.Role.Valid() {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid role"))
		return
	}
	changes := identity.Changes{Name: req.Name, Photo: req.Photo, Role: req.Role}
	if req.ExtraUserData != nil {
		apps := req.ExtraUserData.Apps
		if apps == nil {
			apps = []string{}
		}
		changes.Apps = &apps
	}
	h.update(w, r, caller, id, changes)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, caller *authz.Caller, legacyID string, changes identity.Changes) {
	ctx := r.Context()
	if changes.Empty() {
		h.writeUser(w, r, legacyID)
		return
	}
	user, err := h.deps.Directory.Update(ctx, legacyID, changes)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	h.emit(r, caller, audit.ActionUserUpdate, legacyID, nil)
	jsonapi.WriteData(w, http.StatusOK, Serialize(user))
}

// Delete handles DELETE /auth/user/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)
	id := chi.URLParam(r, "id")
	if err := h.deps.Authorizer.Authorize(ctx, caller, authz.User(id), authz.IntentSelfDelete); err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	existing, err := h.deps.Directory.GetByLegacyID(ctx, id)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	if existing == nil {
		jsonapi.WriteError(w, r, apierror.NotFound("User not found"))
		return
	}

	result, err := h.deps.Deletions.Run(ctx, id, caller.ID)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	h.mail(ctx, notify.TemplateAccountDeleted, result.User)
	h.emit(r, caller, audit.ActionUserDelete, id, map[string]any{
		"deletion_id": result.Deletion.ID.String(),
		"status":      string(result.Deletion.Status),
	})
	jsonapi.WriteData(w, http.StatusOK, Serialize(result.User))
}

// FindByIDs handles POST /auth/user/find-by-ids.
func (h *Handler) FindByIDs(w http.ResponseWriter, r *http.Request) {
	var req FindByIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	data := []jsonapi.Resource{}
	if len(req.IDs) > 0 {
		users, err := h.listAll(r.Context(), identity.Filter{IDs: req.IDs})
		if err != nil {
			jsonapi.WriteError(w, r, err)
			return
		}
		for i := range users {
			data = append(data, Serialize(&users[i]))
		}
	}
	jsonapi.WriteData(w, http.StatusOK, data)
}

// IDsByRole handles GET /auth/user/ids/{role}.
func (h *Handler) IDsByRole(w http.ResponseWriter, r *http.Request) {
	role := identity.Role(strings.ToUpper(chi.URLParam(r, "role")))
	if !role.Valid() {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid role"))
		return
	}
	users, err := h.listAll(r.Context(), identity.Filter{Role: role})
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.LegacyID)
	}
	jsonapi.WriteData(w, http.StatusOK, ids)
}

func (h *Handler) listAll(ctx context.Context, filter identity.Filter) ([]identity.User, error) {
	var (
		out   []identity.User
		after string
	)
	for {
		res, err := h.deps.Directory.List(ctx, filter, identity.ListRequest{Limit: identity.MaxPageSize, After: after})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Users...)
		if res.NextAfter == "" {
			return out, nil
		}
		after = res.NextAfter
	}
}

func (h *Handler) mail(ctx context.Context, template string, user *identity.User) {
	if user == nil || user.Email == "" {
		return
	}
	job := notify.Job{
		Template:  template,
		Recipient: user.Email,
		Data:      map[string]any{"name": user.Name},
		CreatedAt: time.Now().UTC(),
	}
	if err := h.deps.Notify.Publish(ctx, job); err != nil {
		h.logger.Warn().Err(err).Str("template", template).Msg("failed to publish email job")
	}
}

func (h *Handler) emit(r *http.Request, caller *authz.Caller, action, target string, metadata map[string]any) {
	event := audit.BuildEvent(caller.ID, audit.ActorTypeFor(caller.IsMicroservice()), action, audit.TargetTypeUser, target)
	if metadata != nil {
		event = event.WithMetadata(metadata)
	}
	if err := h.deps.Audit.Emit(r.Context(), audit.BuildEventFromRequest(event, r)); err != nil {
		h.logger.Warn().Err(err).Str("action", action).Msg("failed to emit audit event")
	}
}
