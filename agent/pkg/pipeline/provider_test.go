package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"
)

func TestPipeline_IsRetryableStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{400, 401, 403, 404, 422} {
		require.False(t, isRetryableStatus(code), code)
	}
	for _, code := range []int{408, 409, 429, 500, 502, 503, 529} {
		require.True(t, isRetryableStatus(code), code)
	}
}

func TestPipeline_ProviderFault(t *testing.T) {
	t.Parallel()

	f := providerFault(&ProviderError{StatusCode: 403, Err: errors.New("forbidden")})
	require.Equal(t, FaultProvider, f.Kind)
	require.False(t, f.Retryable)

	f = providerFault(fmt.Errorf("wrapped: %w", &ProviderError{StatusCode: 529, Retryable: true, Err: errors.New("overloaded")}))
	require.True(t, f.Retryable)

	f = providerFault(errors.New("dial tcp: connection refused"))
	require.True(t, f.Retryable)
}

func TestPipeline_ClassifyAnthropicError(t *testing.T) {
	t.Parallel()

	apiError := func(status int) *anthropic.Error {
		return &anthropic.Error{
			StatusCode: status,
			Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
			Response:   &http.Response{StatusCode: status},
		}
	}

	perr := classifyAnthropicError(apiError(http.StatusUnauthorized))
	require.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	require.False(t, perr.Retryable)

	perr = classifyAnthropicError(fmt.Errorf("messages: %w", apiError(http.StatusTooManyRequests)))
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.True(t, perr.Retryable)

	perr = classifyAnthropicError(context.Canceled)
	require.False(t, perr.Retryable)

	perr = classifyAnthropicError(errors.New("unexpected EOF"))
	require.True(t, perr.Retryable)
}

func TestPipeline_PerplexityLLMClient_Complete(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sonar", req.Model)
		require.Equal(t, 0.0, req.Temperature)
		require.Len(t, req.Messages, 1)
		require.Equal(t, "Qual o total?", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"query_expression\": \"result = 0\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewPerplexityLLMClient(logger, srv.URL, "test-key", "", 0)
	got, err := c.Complete(context.Background(), "Qual o total?")
	require.NoError(t, err)
	require.Equal(t, `{"query_expression": "result = 0"}`, got)
	require.Equal(t, int32(1), calls.Load())
}

func TestPipeline_PerplexityLLMClient_FailsFastOnAuthError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewPerplexityLLMClient(logger, srv.URL, "bad-key", "", 0)
	_, err := c.Complete(context.Background(), "Qual o total?")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	require.False(t, perr.Retryable)
	require.False(t, providerFault(err).Retryable)
}

func TestPipeline_PerplexityLLMClient_TransientErrorIsOneRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewPerplexityLLMClient(logger, srv.URL, "test-key", "", 0)
	_, err := c.Complete(context.Background(), "Qual o total?")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
	require.True(t, providerFault(err).Retryable)
}
