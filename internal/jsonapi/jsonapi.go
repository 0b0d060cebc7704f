// Package jsonapi writes JSON:API shaped success documents and the errors[]
// envelope. WriteError is the only place an error body is formatted.
package jsonapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/apierror"
)

// Resource is a single JSON:API resource object.
type Resource struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes any    `json:"attributes"`
}

// Links carries pagination links for collection documents.
type Links struct {
	Self  string `json:"self,omitempty"`
	First string `json:"first,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
}

// Document is the top-level success envelope.
type Document struct {
	Data  any    `json:"data"`
	Links *Links `json:"links,omitempty"`
	Meta  any    `json:"meta,omitempty"`
}

// ErrorObject is one entry of the errors[] envelope.
type ErrorObject struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// ErrorDocument is the error envelope.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes {"data": data}.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Document{Data: data})
}

// WriteError maps err through apierror.From and writes the errors[] envelope.
// Server-side failures are logged with the request-scoped logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierror.From(err)
	if apiErr == nil {
		return
	}
	if apiErr.Status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", apiErr.Status).Msg("request failed")
	} else if apiErr.Err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Int("status", apiErr.Status).Msg("request rejected")
	}
	WriteJSON(w, apiErr.Status, ErrorDocument{Errors: []ErrorObject{{Status: apiErr.Status, Detail: apiErr.Detail}}})
}
