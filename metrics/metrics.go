package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quantumauth"

// Outcome labels shared by the middleware and the audit trail.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeRejected      = "rejected"
	OutcomeMissingBody   = "missing_body"
	OutcomeReplayed      = "replayed"
	OutcomeMismatch      = "canonical_mismatch"
	OutcomeErrored       = "errored"
	OutcomeInvalidBody   = "invalid_body"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	verifications   *prometheus.CounterVec
	verifyDuration  prometheus.Histogram
	bridgeRequests  *prometheus.CounterVec
	bridgeProbes    *prometheus.CounterVec
	challengeErrors *prometheus.CounterVec
}

// New registers the collectors on reg. Use prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "middleware",
			Name:      "requests_total",
			Help:      "Requests handled by the verification middleware, by outcome.",
		}, []string{"outcome"}),
		verifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "middleware",
			Name:      "verify_duration_seconds",
			Help:      "Latency of the auth-service verification call.",
			Buckets:   prometheus.DefBuckets,
		}),
		bridgeRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "Bridge channel requests to the credential holder, by action and outcome.",
		}, []string{"action", "outcome"}),
		bridgeProbes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "probes_total",
			Help:      "Availability probes, by result (cached, available, unavailable).",
		}, []string{"result"}),
		challengeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "challenge_errors_total",
			Help:      "Failed challenge acquisitions, by strategy.",
		}, []string{"strategy"}),
	}
}

func (m *Metrics) ObserveVerification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveVerifyDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.verifyDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveBridgeRequest(action, outcome string) {
	if m == nil {
		return
	}
	m.bridgeRequests.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveProbe(result string) {
	if m == nil {
		return
	}
	m.bridgeProbes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveChallengeError(strategy string) {
	if m == nil {
		return
	}
	m.challengeErrors.WithLabelValues(strategy).Inc()
}
