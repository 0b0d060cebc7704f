// Package audit emits audit events for identity, application and
// organization mutations.
//
// Purpose:
//
//	Every state-changing request records who did what to which resource.
//	Events are streamed to Kafka when brokers are configured and logged
//	otherwise.
//
// Dependencies:
//   - github.com/segmentio/kafka-go: KafkaEmitter producer
//   - github.com/rs/zerolog: LoggerEmitter
//
// Key Responsibilities:
//   - Event defines the audit record schema
//   - Emitter abstracts Kafka vs logger implementations
//   - BuildEvent stamps id, time and a payload hash
//
// Debugging Notes:
//   - Actor and target ids are legacyIds for users and uuids otherwise
//   - The Kafka message key is the target id so one resource's events stay ordered
//   - Emission failures are returned for the caller to log; requests never fail on them
//
// Thread Safety:
//   - Emitter implementations must be safe for concurrent use
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one audit record.
type Event struct {
	EventID    uuid.UUID      `json:"event_id"`
	ActorID    string         `json:"actor_id"`
	ActorType  string         `json:"actor_type"`
	TargetID   string         `json:"target_id,omitempty"`
	TargetType string         `json:"target_type,omitempty"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Hash       string         `json:"hash"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Emitter sends audit events.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// LoggerEmitter logs audit events as structured JSON.
type LoggerEmitter struct {
	logger zerolog.Logger
}

// NewLoggerEmitter creates a logger-based audit emitter.
func NewLoggerEmitter(logger zerolog.Logger) *LoggerEmitter {
	return &LoggerEmitter{logger: logger.With().Str("component", "audit").Logger()}
}

// Emit logs the event. It never fails.
func (e *LoggerEmitter) Emit(_ context.Context, event Event) error {
	e.logger.Info().
		Str("event_id", event.EventID.String()).
		Str("actor_id", event.ActorID).
		Str("actor_type", event.ActorType).
		Str("action", event.Action).
		Str("target_type", event.TargetType).
		Str("target_id", event.TargetID).
		Interface("metadata", event.Metadata).
		Msg("audit event")
	return nil
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func NewNoopEmitter() *NoopEmitter {
	return &NoopEmitter{}
}

func (e *NoopEmitter) Emit(context.Context, Event) error {
	return nil
}

// BuildEvent constructs an event and computes its hash.
func BuildEvent(actorID, actorType, action, targetType, targetID string) Event {
	event := Event{
		EventID:    uuid.New(),
		ActorID:    actorID,
		ActorType:  actorType,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		CreatedAt:  time.Now().UTC(),
	}
	event.Hash = computeEventHash(event)
	return event
}

// WithMetadata returns a copy of the event carrying metadata, with the hash recomputed.
func (e Event) WithMetadata(metadata map[string]any) Event {
	e.Metadata = metadata
	e.Hash = computeEventHash(e)
	return e
}

// BuildEventFromRequest enriches an event with HTTP request metadata.
func BuildEventFromRequest(event Event, r *http.Request) Event {
	event.IPAddress = getClientIP(r)
	event.UserAgent = r.Header.Get("User-Agent")
	if event.Resource == "" {
		event.Resource = r.Method + " " + r.URL.Path
	}
	event.Hash = computeEventHash(event)
	return event
}

// computeEventHash hashes the payload without the hash field.
func computeEventHash(event Event) string {
	event.Hash = ""
	payload, err := json.Marshal(event)
	if err != nil {
		payload = []byte(fmt.Sprintf("%+v", event))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

const (
	ActionUserCreate               = "user.create"
	ActionUserUpdate               = "user.update"
	ActionUserDelete               = "user.delete"
	ActionUserLogin                = "user.login"
	ActionUserSignUp               = "user.sign_up"
	ActionApplicationCreate        = "application.create"
	ActionApplicationUpdate        = "application.update"
	ActionApplicationDelete        = "application.delete"
	ActionApplicationRegenerateKey = "application.regenerate_key"
	ActionOrganizationCreate       = "organization.create"
	ActionOrganizationUpdate       = "organization.update"
	ActionOrganizationDelete       = "organization.delete"
)

const (
	TargetTypeUser         = "user"
	TargetTypeApplication  = "application"
	TargetTypeOrganization = "organization"
)

const (
	ActorTypeUser         = "user"
	ActorTypeMicroservice = "microservice"
	ActorTypeAnonymous    = "anonymous"
)

// ActorTypeFor classifies an authenticated actor.
func ActorTypeFor(microservice bool) string {
	if microservice {
		return ActorTypeMicroservice
	}
	return ActorTypeUser
}
