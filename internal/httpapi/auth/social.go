package auth

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
	"github.com/resource-watch/authentication-sub000/internal/audit"
	"github.com/resource-watch/authentication-sub000/internal/identity"
	"github.com/resource-watch/authentication-sub000/internal/jsonapi"
	"github.com/resource-watch/authentication-sub000/internal/social"
)

const (
	successPath = "/auth/success"
	failPath    = "/auth/fail"
)

func (h *Handler) provider(w http.ResponseWriter, r *http.Request) (identity.Provider, bool) {
	provider := identity.Provider(chi.URLParam(r, "provider"))
	if h.deps.Social == nil {
		jsonapi.WriteError(w, r, apierror.NotFound("Provider not configured"))
		return "", false
	}
	return provider, true
}

func writeSocialError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, social.ErrUnknownProvider) {
		jsonapi.WriteError(w, r, apierror.NotFound("Provider not configured"))
		return
	}
	jsonapi.WriteError(w, r, err)
}

// SocialInitiate handles GET /auth/{provider}. The optional callbackUrl and
// origin query parameters are kept with the login state.
func (h *Handler) SocialInitiate(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	authURL, err := h.deps.Social.Initiate(r.Context(), provider, q.Get("callbackUrl"), q.Get("origin"))
	if err != nil {
		writeSocialError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// SocialCallback handles GET|POST /auth/{provider}/callback. Apple posts the
// state and code as a form.
func (h *Handler) SocialCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}
	outcome, err := h.deps.Social.Complete(r.Context(), provider, r.FormValue("state"), r.FormValue("code"))
	if err != nil {
		if errors.Is(err, social.ErrUnknownProvider) {
			writeSocialError(w, r, err)
			return
		}
		h.logger.Warn().Err(err).Str("provider", string(provider)).Msg("social login failed")
		detail := apierror.From(err).Detail
		http.Redirect(w, r, failPath+"?"+url.Values{"error": {detail}}.Encode(), http.StatusFound)
		return
	}

	h.emit(r, outcome.User.LegacyID, audit.ActionUserLogin, outcome.User.LegacyID)
	target := successPath
	if outcome.CallbackURL != "" {
		target = outcome.CallbackURL
	}
	http.Redirect(w, r, withToken(target, outcome.Token), http.StatusFound)
}

func withToken(target, signed string) string {
	u, err := url.Parse(target)
	if err != nil {
		return successPath + "?" + url.Values{"token": {signed}}.Encode()
	}
	q := u.Query()
	q.Set("token", signed)
	u.RawQuery = q.Encode()
	return u.String()
}

// SocialToken handles GET /auth/{provider}/token?access_token=...
func (h *Handler) SocialToken(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}
	outcome, err := h.deps.Social.TokenLogin(r.Context(), provider, r.URL.Query().Get("access_token"))
	if err != nil {
		writeSocialError(w, r, err)
		return
	}
	h.emit(r, outcome.User.LegacyID, audit.ActionUserLogin, outcome.User.LegacyID)
	writeSession(w, outcome.User, outcome.Token)
}

// Success handles GET /auth/success, the landing page of a social login
// without a callbackUrl.
func (h *Handler) Success(w http.ResponseWriter, r *http.Request) {
	signed := r.URL.Query().Get("token")
	if signed == "" {
		jsonapi.WriteError(w, r, apierror.Unauthenticated(apierror.DetailNotAuthenticated))
		return
	}
	jsonapi.WriteJSON(w, http.StatusOK, TokenResponse{Token: signed})
}

// Fail handles GET /auth/fail.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	detail := r.URL.Query().Get("error")
	if detail == "" {
		detail = "Authentication failed"
	}
	jsonapi.WriteError(w, r, apierror.Unauthenticated(detail))
}
