// Package metrics provides Prometheus metrics collectors for the authentication gateway.
//
// Purpose:
//
//	This package defines and exports Prometheus metrics for authentication,
//	social login, authorization decisions, token freshness checks, the
//	identity cache and the user cascade delete. Metrics are registered
//	globally and exposed via the /metrics endpoint.
//
// Dependencies:
//   - github.com/prometheus/client_golang/prometheus: Prometheus Go client
//
// Usage:
//
//	Metrics are automatically registered when the package is imported.
//	Use the exported functions to record metric values:
//	  metrics.RecordAuthSuccess("password")
//	  metrics.RecordAuthzDecision("application", "write", "deny")
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "authentication"
	subsystem = "auth"
)

var (
	// AuthAttemptsTotal counts authentication attempts by method and result.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempts_total",
			Help:      "Total number of authentication attempts by method and result",
		},
		[]string{"method", "result"}, // method: password, social_google, ...; result: success, failure
	)

	// AuthFailuresTotal counts authentication failures by method and reason.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Total number of authentication failures by method and reason",
		},
		[]string{"method", "reason"}, // reason: invalid_credentials, throttled, provider_error, ...
	)

	// SocialLoginAttemptsTotal counts social login initiations by provider.
	SocialLoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "social_login_attempts_total",
			Help:      "Total number of social login initiations by provider",
		},
		[]string{"provider"},
	)

	// SocialCallbackTotal counts social callback completions by provider and result.
	SocialCallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "social_callback_total",
			Help:      "Total number of social callback completions by provider and result",
		},
		[]string{"provider", "result"},
	)

	// TokenFreshnessTotal counts freshness checks by outcome.
	TokenFreshnessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "freshness_checks_total",
			Help:      "Total number of token freshness evaluations by outcome",
		},
		[]string{"outcome"}, // outcome: fresh, checked, outdated, skipped
	)

	// AuthzDecisionsTotal counts authorization decisions.
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions by resource, intent and outcome",
		},
		[]string{"resource", "intent", "outcome"},
	)

	// IdentityCacheTotal counts identity cache lookups by result.
	IdentityCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "cache_lookups_total",
			Help:      "Total number of identity cache lookups by result",
		},
		[]string{"result"}, // result: hit, miss, error
	)

	// DeletionStepsTotal counts downstream deletion steps by resource and result.
	DeletionStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deletion",
			Name:      "steps_total",
			Help:      "Total number of cascade delete steps by resource and result",
		},
		[]string{"resource", "result"},
	)

	// DeletionsFinalizedTotal counts finalized deletions by status.
	DeletionsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deletion",
			Name:      "finalized_total",
			Help:      "Total number of deletion records finalized by status",
		},
		[]string{"status"}, // status: done, failed
	)

	// IncompleteDeletions reports deletion records not in status done, as last seen by the reconciler.
	IncompleteDeletions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "deletion",
			Name:      "incomplete",
			Help:      "Number of deletion records with status pending or failed",
		},
	)
)

// RecordAuthSuccess records a successful authentication attempt.
func RecordAuthSuccess(method string) {
	AuthAttemptsTotal.WithLabelValues(method, "success").Inc()
}

// RecordAuthFailure records a failed authentication attempt.
func RecordAuthFailure(method, reason string) {
	AuthAttemptsTotal.WithLabelValues(method, "failure").Inc()
	AuthFailuresTotal.WithLabelValues(method, reason).Inc()
}

// RecordSocialLoginAttempt records a social login initiation.
func RecordSocialLoginAttempt(provider string) {
	SocialLoginAttemptsTotal.WithLabelValues(provider).Inc()
}

// RecordSocialCallbackSuccess records a successful social callback.
func RecordSocialCallbackSuccess(provider string) {
	SocialCallbackTotal.WithLabelValues(provider, "success").Inc()
	RecordAuthSuccess("social_" + provider)
}

// RecordSocialCallbackFailure records a failed social callback.
func RecordSocialCallbackFailure(provider, reason string) {
	SocialCallbackTotal.WithLabelValues(provider, "failure").Inc()
	RecordAuthFailure("social_"+provider, reason)
}

func RecordTokenFreshness(outcome string) {
	TokenFreshnessTotal.WithLabelValues(outcome).Inc()
}

func RecordAuthzDecision(resource, intent, outcome string) {
	AuthzDecisionsTotal.WithLabelValues(resource, intent, outcome).Inc()
}

func RecordIdentityCache(result string) {
	IdentityCacheTotal.WithLabelValues(result).Inc()
}

// RecordDeletionStep records the outcome of one downstream delete.
func RecordDeletionStep(resource string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	DeletionStepsTotal.WithLabelValues(resource, result).Inc()
}

func RecordDeletionFinalized(status string) {
	DeletionsFinalizedTotal.WithLabelValues(status).Inc()
}

func SetIncompleteDeletions(n int) {
	IncompleteDeletions.Set(float64(n))
}
