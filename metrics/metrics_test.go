package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveVerification(OutcomeAuthenticated)
		m.ObserveVerifyDuration(time.Millisecond)
		m.ObserveBridgeRequest("ping", "ok")
		m.ObserveProbe("cached")
		m.ObserveChallengeError("bridge")
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveVerification(OutcomeRejected)
	m.ObserveVerification(OutcomeRejected)
	m.ObserveBridgeRequest("request_challenge", "timeout")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.verifications.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeRequests.WithLabelValues("request_challenge", "timeout")))
}
