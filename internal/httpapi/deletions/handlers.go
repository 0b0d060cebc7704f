// Package deletions exposes the cascade delete records to administrators.
package deletions

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/bootstrap"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/middleware"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
)

// ResourceType is the JSON:API type of deletion documents.
const ResourceType = "deletions"

// Store reads deletion records.
type Store interface {
	GetDeletion(ctx context.Context, id string) (postgres.Deletion, error)
	ListDeletions(ctx context.Context, filter postgres.DeletionFilter) ([]postgres.Deletion, int, error)
}

// Handler serves GET /api/v1/deletion.
type Handler struct {
	store  Store
	logger zerolog.Logger
}

func NewHandler(store Store, logger zerolog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes mounts deletion routes beneath /api/v1/deletion.
func RegisterRoutes(router chi.Router, rt *bootstrap.Runtime, logger zerolog.Logger) {
	if rt == nil || rt.Postgres == nil {
		return
	}
	NewHandler(rt.Postgres, logger).Routes(router)
}

// Routes mounts the handler on router. Every route is ADMIN only.
func (h *Handler) Routes(router chi.Router) {
	router.Route("/api/v1/deletion", func(r chi.Router) {
		r.Use(middleware.RequireRole(identity.RoleAdmin))
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
	})
}

// Serialize flattens a deletion record. Each step becomes a
// "{resource}Deleted" boolean attribute.
func Serialize(d postgres.Deletion) jsonapi.Resource {
	attrs := map[string]any{
		"userId":          d.UserID,
		"requestorUserId": d.RequestorID,
		"status":          d.Status,
		"createdAt":       d.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":       d.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, resource := range postgres.DeletionResources() {
		attrs[string(resource)+"Deleted"] = d.Steps[resource]
	}
	return jsonapi.Resource{ID: d.ID.String(), Type: ResourceType, Attributes: attrs}
}

// List handles GET /api/v1/deletion with optional userId and status filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, err := jsonapi.ParsePage(r)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := postgres.DeletionFilter{
		UserID: q.Get("userId"),
		Status: postgres.DeletionStatus(q.Get("status")),
		Limit:  page.Size,
		Offset: page.Offset(),
	}
	switch filter.Status {
	case "", postgres.DeletionPending, postgres.DeletionDone, postgres.DeletionFailed:
	default:
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid status"))
		return
	}

	records, total, err := h.store.ListDeletions(r.Context(), filter)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	data := make([]jsonapi.Resource, 0, len(records))
	for _, d := range records {
		data = append(data, Serialize(d))
	}
	jsonapi.WriteJSON(w, http.StatusOK, jsonapi.Document{
		Data:  data,
		Links: jsonapi.OffsetLinks(r, page, page.Offset()+len(records) < total),
		Meta:  map[string]int{"total-items": total, "size": page.Size},
	})
}

// Get handles GET /api/v1/deletion/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetDeletion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	jsonapi.WriteData(w, http.StatusOK, Serialize(d))
}
