// Package request implements the combined request validation endpoint used
// by other services to resolve an API key and a user token in one call.
//
// Debugging Notes:
//   - The API key may come from the body or the x-api-key header; the body wins
//   - An unknown API key is a 404, an invalid or outdated userToken a 401
//   - Keys missing from the request are omitted from the response
package request

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/bootstrap"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/applications"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/users"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

// APIKeyHeader carries the application key when the body does not.
const APIKeyHeader = "x-api-key"

// Applications resolves API keys.
type Applications interface {
	GetApplicationByAPIKey(ctx context.Context, apiKey string) (postgres.Application, error)
}

// Users loads live identity records.
type Users interface {
	GetByLegacyID(ctx context.Context, legacyID string) (*identity.User, error)
}

// Freshness reconciles stale user tokens.
type Freshness interface {
	Check(ctx context.Context, claims *token.Claims) error
}

// Handler serves POST /api/v1/request/validate.
type Handler struct {
	apps      Applications
	users     Users
	codec     *token.Codec
	freshness Freshness
	logger    zerolog.Logger
}

// NewHandler creates a handler. A nil freshness skips reconciliation.
func NewHandler(apps Applications, users Users, codec *token.Codec, freshness Freshness, logger zerolog.Logger) *Handler {
	return &Handler{
		apps:      apps,
		users:     users,
		codec:     codec,
		freshness: freshness,
		logger:    logger.With().Str("component", "request").Logger(),
	}
}

// RegisterRoutes mounts the validation route.
func RegisterRoutes(router chi.Router, rt *bootstrap.Runtime, logger zerolog.Logger) {
	if rt == nil || rt.Postgres == nil || rt.Directory == nil {
		return
	}
	NewHandler(rt.Postgres, rt.Directory, rt.Codec, rt.Freshness, logger).Routes(router)
}

// Routes mounts the handler on router.
func (h *Handler) Routes(router chi.Router) {
	router.Post("/api/v1/request/validate", h.Validate)
}

// ValidateRequest is the request payload. Both fields are optional but at
// least one must be present.
type ValidateRequest struct {
	APIKey    string `json:"apiKey,omitempty"`
	UserToken string `json:"userToken,omitempty"`
}

// ValidateResponse holds one JSON:API document per resolved credential.
type ValidateResponse struct {
	Application *jsonapi.Document `json:"application,omitempty"`
	User        *jsonapi.Document `json:"user,omitempty"`
}

// Validate handles POST /api/v1/request/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	if req.APIKey == "" {
		req.APIKey = r.Header.Get(APIKeyHeader)
	}
	if req.APIKey == "" && req.UserToken == "" {
		jsonapi.WriteError(w, r, apierror.BadRequest("apiKey or userToken is required"))
		return
	}

	var resp ValidateResponse
	if req.UserToken != "" {
		user, err := h.resolveUser(ctx, req.UserToken)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("user token rejected")
			jsonapi.WriteError(w, r, err)
			return
		}
		resp.User = &jsonapi.Document{Data: users.Serialize(user)}
	}
	if req.APIKey != "" {
		app, err := h.apps.GetApplicationByAPIKey(ctx, req.APIKey)
		if err != nil {
			jsonapi.WriteError(w, r, err)
			return
		}
		resp.Application = &jsonapi.Document{Data: applications.Serialize(app)}
	}
	jsonapi.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) resolveUser(ctx context.Context, raw string) (*identity.User, error) {
	raw = strings.TrimSpace(raw)
	if scheme, rest, ok := strings.Cut(raw, " "); ok && strings.EqualFold(scheme, "bearer") {
		raw = strings.TrimSpace(rest)
	}
	claims, err := h.codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	if claims.IsMicroservice() {
		return users.UserFromClaims(claims), nil
	}
	if h.freshness != nil {
		if err := h.freshness.Check(ctx, claims); err != nil {
			return nil, err
		}
	}
	user, err := h.users.GetByLegacyID(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apierror.Unauthenticated(apierror.DetailNotAuthenticated)
	}
	return user, nil
}
