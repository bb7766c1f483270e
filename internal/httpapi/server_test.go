package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/leadflow/internal/blueprint"
	"github.com/p-blackswan/leadflow/internal/conversation"
	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/health"
	"github.com/p-blackswan/leadflow/internal/kv"
	"github.com/p-blackswan/leadflow/internal/llm"
	"github.com/p-blackswan/leadflow/internal/metrics"
	"github.com/p-blackswan/leadflow/internal/notify"
	"github.com/p-blackswan/leadflow/internal/orchestrator"
	"github.com/p-blackswan/leadflow/internal/prompts"
	"github.com/p-blackswan/leadflow/internal/ratelimit"
	"github.com/p-blackswan/leadflow/internal/requestid"
	"github.com/p-blackswan/leadflow/internal/session"
	"github.com/p-blackswan/leadflow/internal/store"
)

const testKey = "sk-ant-REDACTED"

// scriptedProvider answers blueprint prompts with JSON and everything else
// with a short reply.
type scriptedProvider struct {
	blueprintSystem string
	calls           atomic.Int32
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls.Add(1)
	text := "Thanks, that helps."
	if req.SystemPrompt == p.blueprintSystem {
		text = `{"title":"Weekly report bot","summary":"Pull sheet numbers into the deck",
"steps":[{"title":"Connect","description":"Link the sheets"}],
"clarifying_questions":["How often?","Who reads it?","What breaks?"]}`
	}
	return &llm.CompletionResponse{Text: text, StopReason: llm.StopReasonEndTurn}, nil
}

func (p *scriptedProvider) Name() string    { return llm.ProviderAnthropic }
func (p *scriptedProvider) ModelID() string { return "scripted" }

type testEnv struct {
	app      *fiber.App
	provider *scriptedProvider
	now      atomic.Pointer[time.Time]
}

func (e *testEnv) clock() time.Time { return *e.now.Load() }

func (e *testEnv) advance(d time.Duration) {
	t := e.clock().Add(d)
	e.now.Store(&t)
}

func newEnv(t *testing.T, rl ratelimit.Config, cfgs ...Config) *testEnv {
	t.Helper()
	env := &testEnv{}
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	env.now.Store(&start)

	logger := zerolog.Nop()
	st, err := store.New(filepath.Join(t.TempDir(), "api.db"), logger, store.WithClock(env.clock))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mem := kv.NewMemoryStore(1000, env.clock)
	p := prompts.Default()
	env.provider = &scriptedProvider{blueprintSystem: p.BlueprintSystem}
	m := metrics.New()

	mgr := conversation.New(conversation.DefaultConfig(), conversation.Deps{
		Store:     st,
		Cache:     blueprint.NewCache(mem, 7*24*time.Hour, logger, blueprint.WithClock(env.clock)),
		Limiter:   ratelimit.New(rl, mem, logger, ratelimit.WithClock(env.clock)),
		Generator: orchestrator.New(env.provider, llm.ProviderAnthropic, testKey, p, logger),
		Notifier:  notify.Nop{},
		Prompts:   p,
		Metrics:   m,
	}, logger, conversation.WithClock(env.clock))

	checker := health.NewChecker(logger)
	checker.Register("sqlite", health.PingCheck(st))
	checker.Register("kv", health.PingCheck(mem))

	var cfg Config
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	env.app = New(cfg, mgr, checker, m, logger).App()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

const questionnaireJSON = `{"goal":"Automate reporting","workflow":"Every Monday I copy numbers from three sheets into a deck","tools":"Sheets","pain_points":"manual copy-paste"}`

func (e *testEnv) submit(t *testing.T) conversation.Result {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/api/v1/submissions", questionnaireJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var res conversation.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	return res
}

func problem(t *testing.T, raw []byte) ProblemDetail {
	t.Helper()
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(raw, &p))
	return p
}

func TestRoutes_Table(t *testing.T) {
	srv := New(Config{}, nil, nil, metrics.New(), zerolog.Nop())
	var got []string
	for _, r := range srv.Routes() {
		got = append(got, r.Method+" "+r.Path)
	}
	assert.Contains(t, got, "POST /api/v1/submissions")
	assert.Contains(t, got, "POST /api/v1/webhooks/quote")
	assert.Contains(t, got, "DELETE /api/v1/sessions/:id")
	assert.Contains(t, got, "GET /metrics")
}

func TestProbes(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())

	resp, raw := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "ok")

	resp, raw = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"sqlite":"ok"`)

	resp, raw = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "go_goroutines")
}

func TestSubmitAndChatFlow(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())
	sub := env.submit(t)

	assert.True(t, sub.Success)
	assert.Equal(t, session.StateQuestionsAsked, sub.State)
	assert.Equal(t, 20, sub.Progress)
	assert.Equal(t, []string{"How often?", "Who reads it?", "What breaks?"}, sub.Questions)
	require.NotNil(t, sub.Blueprint)
	assert.Equal(t, "Weekly report bot", sub.Blueprint.Title)

	var last conversation.Result
	for i := 0; i < 3; i++ {
		resp, raw := env.do(t, http.MethodPost, "/api/v1/sessions/"+sub.SessionID+"/messages", `{"message":"Every Monday"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		require.NoError(t, json.Unmarshal(raw, &last))
	}
	assert.Equal(t, session.StateEstimateReady, last.State)
	assert.Equal(t, conversation.ActionShowEstimate, last.NextAction)
	assert.NotNil(t, last.Blueprint)

	resp, raw := env.do(t, http.MethodGet, "/api/v1/sessions/"+sub.SessionID+"/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), sub.SessionID)
	var exp conversation.Export
	require.NoError(t, json.Unmarshal(raw, &exp))
	assert.Len(t, exp.Messages, 7)
}

func TestResubmitServedFromCache(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())
	first := env.submit(t)
	calls := env.provider.calls.Load()

	second := env.submit(t)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.True(t, second.FromCache)
	assert.Equal(t, calls, env.provider.calls.Load())
}

func TestSubmit_Validation(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())

	resp, raw := env.do(t, http.MethodPost, "/api/v1/submissions", `{"goal":"short"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, perrors.KindValidation, problem(t, raw).Type)

	resp, raw = env.do(t, http.MethodPost, "/api/v1/submissions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_body", problem(t, raw).Type)
}

func TestSubmit_RateLimited(t *testing.T) {
	rl := ratelimit.DefaultConfig()
	rl.SubmissionsPerHour = 1
	env := newEnv(t, rl)
	env.submit(t)

	resp, raw := env.do(t, http.MethodPost, "/api/v1/submissions", questionnaireJSON)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, perrors.KindRateLimited, problem(t, raw).Type)
}

func TestChat_PerMinuteLimitSetsRetryAfter(t *testing.T) {
	rl := ratelimit.DefaultConfig()
	rl.ChatPerMinute = 1
	env := newEnv(t, rl)
	sub := env.submit(t)

	path := "/api/v1/sessions/" + sub.SessionID + "/messages"
	resp, _ := env.do(t, http.MethodPost, path, `{"message":"weekly"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := env.do(t, http.MethodPost, path, `{"message":"again"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Equal(t, 60, problem(t, raw).RetryAfter)
}

func TestSessionErrors(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())

	resp, raw := env.do(t, http.MethodGet, "/api/v1/sessions/not-a-session", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, perrors.KindInvalidSession, problem(t, raw).Type)

	unknown := session.NewID()
	resp, raw = env.do(t, http.MethodGet, "/api/v1/sessions/"+unknown, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, perrors.KindSessionNotFound, problem(t, raw).Type)

	sub := env.submit(t)
	env.advance(31 * 24 * time.Hour)
	resp, raw = env.do(t, http.MethodPost, "/api/v1/sessions/"+sub.SessionID+"/messages", `{"message":"hello?"}`)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, perrors.KindSessionExpired, problem(t, raw).Type)
}

func TestTransition(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())
	sub := env.submit(t)
	path := "/api/v1/sessions/" + sub.SessionID + "/transition"

	resp, raw := env.do(t, http.MethodPost, path, `{"state":"estimate_ready"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = env.do(t, http.MethodPost, path, `{"state":"QUESTIONS_ASKED"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var res conversation.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, session.StateEstimateReady, res.State)

	resp, raw = env.do(t, http.MethodPost, path, `{"state":"QUOTE_REQUESTED"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(raw))

	resp, _ = env.do(t, http.MethodPost, path, `{"state":"DONE"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuote_WebhookThenUIIsIdempotent(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())
	sub := env.submit(t)

	resp, raw := env.do(t, http.MethodPost, "/api/v1/webhooks/quote", `{"session_id":"`+sub.SessionID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var res conversation.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, session.StateQuoteRequested, res.State)
	assert.False(t, res.AlreadyMarked)

	resp, raw = env.do(t, http.MethodPost, "/api/v1/sessions/"+sub.SessionID+"/quote", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = conversation.Result{}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.AlreadyMarked)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/sessions/"+sub.SessionID+"/quote", `{"source":"fax"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuoteWebhook_Secret(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig(), Config{WebhookSecret: "s3cret"})
	sub := env.submit(t)
	body := `{"session_id":"` + sub.SessionID + `"}`

	resp, raw := env.do(t, http.MethodPost, "/api/v1/webhooks/quote", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_webhook_secret", problem(t, raw).Type)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/webhooks/quote", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WebhookSecretHeader, "s3cret")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubscribeAndTrack(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())
	sub := env.submit(t)
	base := "/api/v1/sessions/" + sub.SessionID

	resp, _ := env.do(t, http.MethodPost, base+"/subscribe", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, base+"/subscribe", `{"email":"ann@example.com"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, base+"/track/consultation", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, base+"/track/additional_workflow", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, base+"/track/banner", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelete(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())
	sub := env.submit(t)
	path := "/api/v1/sessions/" + sub.SessionID

	resp, _ := env.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestID(t *testing.T) {
	env := newEnv(t, ratelimit.DefaultConfig())

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/sessions/"+session.NewID(), nil)
	req.Header.Set(requestid.Header, "edge-42")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "edge-42", resp.Header.Get(requestid.Header))

	var p ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, "edge-42", p.RequestID)

	resp2, _ := env.do(t, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, resp2.Header.Get(requestid.Header))
}

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		perrors.KindValidation:        http.StatusBadRequest,
		perrors.KindInvalidSession:    http.StatusBadRequest,
		perrors.KindRateLimited:       http.StatusTooManyRequests,
		perrors.KindSessionNotFound:   http.StatusNotFound,
		perrors.KindSessionExpired:    http.StatusGone,
		perrors.KindInvalidTransition: http.StatusConflict,
		perrors.KindStore:             http.StatusServiceUnavailable,
		perrors.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}
