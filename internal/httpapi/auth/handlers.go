// Package auth provides HTTP handlers for authentication endpoints.
//
// Purpose:
//
//	This package implements password login, sign-up, password reset, token
//	inspection and renewal, and the social login redirects. Every successful
//	login answers with a first-party HS256 token.
//
// Dependencies:
//   - github.com/go-chi/chi/v5: HTTP router for route registration
//   - internal/identity: credential checks and account creation
//   - internal/security: failed-login throttling
//   - internal/social: provider session bridge
//
// Key Responsibilities:
//   - Login: POST /auth/login
//   - SignUp: POST /auth/sign-up
//   - ResetPassword: POST /auth/reset-password
//   - CheckLogged: GET /auth/check-logged
//   - GenerateToken: GET /auth/generate-token
//   - Social: GET /auth/{provider}, GET|POST /auth/{provider}/callback,
//     GET /auth/{provider}/token, GET /auth/success, GET /auth/fail
//
// Debugging Notes:
//   - Wrong password, unknown email and throttled email all answer the same 401
//   - GenerateToken is mounted outside the freshness check so outdated tokens
//     can be exchanged for a token built from the live profile
//   - Reset password answers 200 whether or not the email exists
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/audit"
	"github.com/resource-watch/authentication-sub000/internal/bootstrap"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/middleware"
	"github.com/resource-watch/authentication-sub000/internal/httpapi/users"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/metrics"
	"github.com/resource-watch/authentication-sub000/internal/notify"
	"github.com/resource-watch/authentication-sub000/internal/social"
	"github.com/resource-watch/authentication-sub000/internal/token"
)

// Directory is the subset of the identity directory used for authentication.
type Directory interface {
	GetByLegacyID(ctx context.Context, legacyID string) (*identity.User, error)
	Create(ctx context.Context, in identity.NewUser) (*identity.User, error)
	Authenticate(ctx context.Context, email, password string) (*identity.User, error)
	ResetPassword(ctx context.Context, email string) error
}

// Lockout throttles repeated login failures.
type Lockout interface {
	Locked(ctx context.Context, email string) (bool, error)
	TrackFailedAttempt(ctx context.Context, email string) (int, bool, error)
	ClearAttempts(ctx context.Context, email string) error
}

// Social runs provider logins.
type Social interface {
	Initiate(ctx context.Context, provider identity.Provider, callbackURL, origin string) (string, error)
	Complete(ctx context.Context, provider identity.Provider, state, code string) (social.Outcome, error)
	TokenLogin(ctx context.Context, provider identity.Provider, providerToken string) (social.Outcome, error)
}

// Dependencies groups the collaborators of Handler. Social may be nil.
type Dependencies struct {
	Directory Directory
	Codec     *token.Codec
	Lockout   Lockout
	Social    Social
	Audit     audit.Emitter
	Notify    notify.Publisher
}

// Handler serves authentication endpoints.
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
	return &Handler{deps: deps, logger: logger.With().Str("component", "auth").Logger()}
}

// NewHandlerFromRuntime wires a handler from the runtime. It returns nil when
// no identity directory is configured.
func NewHandlerFromRuntime(rt *bootstrap.Runtime, logger zerolog.Logger) *Handler {
	if rt == nil || rt.Directory == nil {
		return nil
	}
	deps := Dependencies{
		Directory: rt.Directory,
		Codec:     rt.Codec,
		Audit:     rt.Audit,
		Notify:    rt.Notify,
	}
	if rt.LockoutTracker != nil {
		deps.Lockout = rt.LockoutTracker
	}
	if rt.Social != nil {
		deps.Social = rt.Social
	}
	return NewHandler(deps, logger)
}

// Routes mounts the routes that sit behind the token freshness check.
func (h *Handler) Routes(router chi.Router) {
	router.Post("/auth/login", h.Login)
	router.Post("/auth/sign-up", h.SignUp)
	router.Post("/auth/reset-password", h.ResetPassword)
	router.With(middleware.RequireAuth).Get("/auth/check-logged", h.CheckLogged)

	router.Get("/auth/success", h.Success)
	router.Get("/auth/fail", h.Fail)
	router.Get("/auth/{provider}", h.SocialInitiate)
	router.Get("/auth/{provider}/callback", h.SocialCallback)
	router.Post("/auth/{provider}/callback", h.SocialCallback)
	router.Get("/auth/{provider}/token", h.SocialToken)
}

// RenewalRoutes mounts the routes that only need a valid signature.
func (h *Handler) RenewalRoutes(router chi.Router) {
	router.With(middleware.RequireAuth).Get("/auth/generate-token", h.GenerateToken)
}

// LoginRequest is the payload of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpRequest is the payload of POST /auth/sign-up.
type SignUpRequest struct {
	Email          string   `json:"email"`
	Password       string   `json:"password,omitempty"`
	RepeatPassword string   `json:"repeatPassword,omitempty"`
	Name           string   `json:"name,omitempty"`
	Apps           []string `json:"apps,omitempty"`
}

// ResetPasswordRequest is the payload of POST /auth/reset-password.
type ResetPasswordRequest struct {
	Email string `json:"email"`
}

// TokenAttributes is a user plus the token issued for it.
type TokenAttributes struct {
	users.Attributes
	Token string `json:"token"`
}

// TokenResponse is the body of GET /auth/generate-token.
type TokenResponse struct {
	Token string `json:"token"`
}

func writeSession(w http.ResponseWriter, u *identity.User, signed string) {
	res := users.Serialize(u)
	res.Attributes = TokenAttributes{Attributes: res.Attributes.(users.Attributes), Token: signed}
	jsonapi.WriteData(w, http.StatusOK, res)
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		metrics.RecordAuthFailure("password", "missing_credentials")
		jsonapi.WriteError(w, r, apierror.Unauthenticated(apierror.DetailInvalidCredentials))
		return
	}

	if h.deps.Lockout != nil {
		locked, err := h.deps.Lockout.Locked(ctx, email)
		if err != nil {
			h.logger.Warn().Err(err).Msg("lockout check failed")
		}
		if locked {
			metrics.RecordAuthFailure("password", "locked")
			jsonapi.WriteError(w, r, apierror.Unauthenticated(apierror.DetailInvalidCredentials))
			return
		}
	}

	user, err := h.deps.Directory.Authenticate(ctx, email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.trackFailure(ctx, email)
			metrics.RecordAuthFailure("password", "invalid_credentials")
		} else {
			metrics.RecordAuthFailure("password", "upstream")
		}
		jsonapi.WriteError(w, r, err)
		return
	}

	if h.deps.Lockout != nil {
		if err := h.deps.Lockout.ClearAttempts(ctx, email); err != nil {
			h.logger.Warn().Err(err).Msg("failed to clear login attempts")
		}
	}

	signed, err := h.deps.Codec.IssueFor(user)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	metrics.RecordAuthSuccess("password")
	h.emit(r, user.LegacyID, audit.ActionUserLogin, user.LegacyID)
	writeSession(w, user, signed)
}

func (h *Handler) trackFailure(ctx context.Context, email string) {
	if h.deps.Lockout == nil {
		return
	}
	count, locked, err := h.deps.Lockout.TrackFailedAttempt(ctx, email)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to track login attempt")
		return
	}
	if locked {
		h.logger.Warn().Int("failed_attempts", count).Msg("login throttled for email")
	}
}

// SignUp handles POST /auth/sign-up.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		jsonapi.WriteError(w, r, apierror.Unprocessable("Email is required"))
		return
	}
	if req.Password != req.RepeatPassword {
		jsonapi.WriteError(w, r, apierror.Unprocessable("Password and Repeat password not equal"))
		return
	}

	user, err := h.deps.Directory.Create(ctx, identity.NewUser{
		Email:    email,
		Name:     req.Name,
		Password: req.Password,
		Role:     identity.RoleUser,
		Provider: identity.ProviderLocal,
		Apps:     req.Apps,
	})
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}

	job := notify.Job{
		Template:  notify.TemplateWelcome,
		Recipient: user.Email,
		Data:      map[string]any{"name": user.Name},
		CreatedAt: time.Now().UTC(),
	}
	if err := h.deps.Notify.Publish(ctx, job); err != nil {
		h.logger.Warn().Err(err).Msg("failed to publish welcome email")
	}
	h.emit(r, user.LegacyID, audit.ActionUserSignUp, user.LegacyID)
	jsonapi.WriteData(w, http.StatusOK, users.Serialize(user))
}

// ResetPassword handles POST /auth/reset-password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, r, apierror.BadRequest("Invalid request payload"))
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		jsonapi.WriteError(w, r, apierror.Unprocessable("Email is required"))
		return
	}
	if err := h.deps.Directory.ResetPassword(r.Context(), email); err != nil {
		h.logger.Warn().Err(err).Msg("password reset request failed")
	}
	jsonapi.WriteData(w, http.StatusOK, map[string]string{
		"message": "If the email is registered, password reset instructions have been sent",
	})
}

// CheckLogged handles GET /auth/check-logged and echoes the token's user.
func (h *Handler) CheckLogged(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	jsonapi.WriteData(w, http.StatusOK, users.Serialize(users.UserFromClaims(claims)))
}

// GenerateToken handles GET /auth/generate-token.
func (h *Handler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.ClaimsFrom(ctx)
	if claims.IsMicroservice() {
		jsonapi.WriteError(w, r, apierror.Forbidden())
		return
	}
	user, err := h.deps.Directory.GetByLegacyID(ctx, claims.ID)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	if user == nil {
		jsonapi.WriteError(w, r, apierror.Unauthenticated(apierror.DetailNotAuthenticated))
		return
	}
	signed, err := h.deps.Codec.IssueFor(user)
	if err != nil {
		jsonapi.WriteError(w, r, err)
		return
	}
	jsonapi.WriteJSON(w, http.StatusOK, TokenResponse{Token: signed})
}

func (h *Handler) emit(r *http.Request, actorID, action, target string) {
	event := audit.BuildEventFromRequest(
		audit.BuildEvent(actorID, audit.ActorTypeUser, action, audit.TargetTypeUser, target),
		r,
	)
	if err := h.deps.Audit.Emit(r.Context(), event); err != nil {
		h.logger.Warn().Err(err).Str("action", action).Msg("failed to emit audit event")
	}
}
