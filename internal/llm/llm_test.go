package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
)

func TestCheckCredential(t *testing.T) {
	assert.NoError(t, CheckCredential(ProviderAnthropic, "sk-ant-REDACTED"))
	assert.NoError(t, CheckCredential(ProviderOpenAI, "sk-proj-abcdefghijklmnopqrst"))

	assert.Error(t, CheckCredential(ProviderAnthropic, ""))
	assert.Error(t, CheckCredential(ProviderAnthropic, "sk-proj-abcdefghijklmnopqrst"))
	assert.Error(t, CheckCredential(ProviderOpenAI, "sk-ant-REDACTED"))
	assert.Error(t, CheckCredential(ProviderOpenAI, "sk-short"))
	assert.Error(t, CheckCredential(ProviderOpenAI, "sk-proj abcdefghijklmnopqrst"))
	assert.Error(t, CheckCredential("gemini", "whatever-key-123456789"))
}

func TestNew(t *testing.T) {
	p, err := New(ProviderAnthropic, "k")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p.Name())
	assert.Equal(t, defaultModel, p.ModelID())

	p, err = New(ProviderOpenAI, "k", WithModel("gpt-4.1"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", p.ModelID())

	_, err = New("nope", "k")
	assert.Error(t, err)
}

func TestAnthropic_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be brief", req.System)
		assert.Len(t, req.Messages, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"there"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-ant-test", WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, StopReasonEndTurn, resp.StopReason)
	assert.Equal(t, 5, resp.InputTokens)
}

func TestAnthropic_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-ant-test", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var apiErr *perrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "slow down")
	assert.True(t, perrors.IsRetryable(err))
}

func TestAnthropic_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-ant-test", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), CompletionRequest{})
	var apiErr *perrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 502, apiErr.StatusCode)
}

func TestAnthropic_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-ant-test", WithBaseURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Complete(ctx, CompletionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"length"}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-proj-test", WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, StopReasonMaxTokens, resp.StopReason)
}
