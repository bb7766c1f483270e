package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.SubmissionsTotal)
	assert.NotNil(t, m.ChatTurnsTotal)
	assert.NotNil(t, m.RateLimitedTotal)
	assert.NotNil(t, m.CacheTotal)
	assert.NotNil(t, m.GenerationErrors)
	assert.NotNil(t, m.GenerationDuration)
	assert.NotNil(t, m.TransitionsTotal)
	assert.NotNil(t, m.SessionsSwept)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RecordSubmission("created")
	m.RecordSubmission("created")
	m.RecordChatTurn("ok")
	m.RecordRateLimited("chat_minute")
	m.RecordCache("hit")
	m.RecordGenerationError("timeout")
	m.RecordTransition("INIT", "QUESTIONS_ASKED")
	m.RecordNotifyFailure("quote_requested")
	m.AddSwept(3)
	m.AddSwept(0)
	m.SetDBSize(8192)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `leadflow_submissions_total{result="created"} 2`)
	assert.Contains(t, body, `leadflow_chat_turns_total{result="ok"} 1`)
	assert.Contains(t, body, `leadflow_rate_limited_total{limiter="chat_minute"} 1`)
	assert.Contains(t, body, `leadflow_blueprint_cache_total{result="hit"} 1`)
	assert.Contains(t, body, `leadflow_generation_errors_total{class="timeout"} 1`)
	assert.Contains(t, body, `leadflow_state_transitions_total{from="INIT",to="QUESTIONS_ASKED"} 1`)
	assert.Contains(t, body, `leadflow_notify_failures_total{event="quote_requested"} 1`)
	assert.Contains(t, body, `leadflow_sessions_swept_total 3`)
	assert.Contains(t, body, `leadflow_db_size_bytes 8192`)
}

func TestMetrics_ObserveGeneration(t *testing.T) {
	m := New()
	m.ObserveGeneration("blueprint", 1.5)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `leadflow_generation_duration_seconds_count{op="blueprint"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSubmission("created")
		m.RecordChatTurn("ok")
		m.RecordRateLimited("submission")
		m.RecordCache("miss")
		m.RecordGenerationError("timeout")
		m.ObserveGeneration("chat", 1)
		m.RecordTransition("a", "b")
		m.AddSwept(1)
		m.RecordNotifyFailure("x")
		m.SetDBSize(1)
	})
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
