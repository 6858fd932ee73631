package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/malbeclabs/csvagent/agent/pkg/pipeline/metrics"
)

const (
	DefaultAnthropicModel = anthropic.ModelClaudeSonnet4_5_20250929
	DefaultMaxTokens      = 256
)

// AnthropicLLMClient implements LLMClient using the Anthropic API.
type AnthropicLLMClient struct {
	log       *slog.Logger
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicLLMClient creates a new Anthropic-based LLM client. The SDK's own
// retries are disabled so every Complete call is exactly one request; the
// pipeline decides whether a failed request is tried again.
func NewAnthropicLLMClient(log *slog.Logger, apiKey string, model anthropic.Model, maxTokens int64) *AnthropicLLMClient {
	if model == "" {
		model = DefaultAnthropicModel
	}
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicLLMClient{
		log:       log,
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends a prompt to Claude at temperature 0 and returns the response text.
func (c *AnthropicLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	c.log.Debug("anthropic: request starting", "model", c.model, "maxTokens", c.maxTokens, "promptLen", len(prompt))

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	duration := time.Since(start)
	metrics.LLMRequestDuration.WithLabelValues("anthropic").Observe(duration.Seconds())
	if err != nil {
		perr := classifyAnthropicError(err)
		c.log.Warn("anthropic: request failed", "duration", duration, "retryable", perr.Retryable, "error", err)
		return "", perr
	}
	c.log.Debug("anthropic: request completed", "duration", duration, "stopReason", msg.StopReason)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", &ProviderError{Err: errors.New("no text content in response")}
}

func classifyAnthropicError(err error) *ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.StatusCode,
			Retryable:  isRetryableStatus(apiErr.StatusCode),
			Err:        fmt.Errorf("anthropic API error: %w", err),
		}
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Retryable: false, Err: err}
	}
	return &ProviderError{Retryable: true, Err: fmt.Errorf("anthropic API error: %w", err)}
}
