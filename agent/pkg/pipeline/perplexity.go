package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/malbeclabs/csvagent/agent/pkg/pipeline/metrics"
)

const (
	DefaultPerplexityURL   = "https://api.perplexity.ai/chat/completions"
	DefaultPerplexityModel = "sonar"
)

// PerplexityLLMClient implements LLMClient against Perplexity's OpenAI-compatible
// chat completions endpoint.
type PerplexityLLMClient struct {
	log        *slog.Logger
	baseURL    string
	httpClient *http.Client
	apiKey     string
	model      string
	maxTokens  int64
}

// NewPerplexityLLMClient creates a new Perplexity client. An empty baseURL uses
// the public endpoint.
func NewPerplexityLLMClient(log *slog.Logger, baseURL, apiKey, model string, maxTokens int64) *PerplexityLLMClient {
	if baseURL == "" {
		baseURL = DefaultPerplexityURL
	}
	if model == "" {
		model = DefaultPerplexityModel
	}
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	return &PerplexityLLMClient{
		log:        log,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int64         `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends a prompt at temperature 0 and returns the response text.
func (c *PerplexityLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("json marshal: %w", err)
	}

	start := time.Now()
	text, err := c.chat(ctx, body)
	duration := time.Since(start)
	metrics.LLMRequestDuration.WithLabelValues("perplexity").Observe(duration.Seconds())
	if err != nil {
		var perr *ProviderError
		if !errors.As(err, &perr) {
			perr = &ProviderError{Retryable: true, Err: err}
		}
		c.log.Warn("perplexity: request failed", "duration", duration, "retryable", perr.Retryable, "error", err)
		return "", perr
	}
	c.log.Debug("perplexity: request completed", "duration", duration)
	return text, nil
}

func (c *PerplexityLLMClient) chat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", &ProviderError{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", &ProviderError{Err: err}
		}
		return "", &ProviderError{Retryable: true, Err: fmt.Errorf("http do: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &ProviderError{Retryable: true, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProviderError{
			StatusCode: resp.StatusCode,
			Retryable:  isRetryableStatus(resp.StatusCode),
			Err:        fmt.Errorf("perplexity API error: %s", bytes.TrimSpace(data)),
		}
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &ProviderError{Err: fmt.Errorf("json unmarshal: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &ProviderError{Err: errors.New("no choices in response")}
	}
	return out.Choices[0].Message.Content, nil
}
