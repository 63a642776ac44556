package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.SessionOpened()
	r.SessionOpened()
	r.SessionClosed()
	r.SessionReset()
	r.ObserveStep("greeting", "text", "applied", 10*time.Millisecond)
	r.ObserveStep("greeting", "text", "applied", 10*time.Millisecond)
	r.QueueDelta(3)
	r.QueueDelta(-1)
	r.Notification("analysis")
	r.ObserveCompletion("perplexity", "sonar", 120, "", time.Second)
	r.ObserveCompletion("perplexity", "sonar", 0, "rate_limit", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.sessionsTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessionsTotal.WithLabelValues("reset")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.stepsTotal.WithLabelValues("greeting", "text", "applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notificationsTotal.WithLabelValues("analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.completionsTotal.WithLabelValues("perplexity", "sonar", "error", "rate_limit")))
	assert.Equal(t, 120.0, testutil.ToFloat64(r.completionTokens.WithLabelValues("perplexity", "sonar")))

	n, err := testutil.GatherAndCount(reg, "bench_flow_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.SessionOpened()
	r.SessionClosed()
	r.SessionReset()
	r.ObserveStep("s", "i", "o", time.Second)
	r.QueueDelta(1)
	r.Notification("k")
	r.ObserveCompletion("p", "m", 1, "", time.Second)
}
