package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/csvagent/internal/mcp/server/metrics"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Answerer answers one natural-language question. Implementations serialize
// concurrent calls.
type Answerer interface {
	Answer(ctx context.Context, question string) string
}

type AskInput struct {
	Question string `json:"question" jsonschema:"a question in natural language about the loaded fiscal-note tables"`
}

type AskOutput struct {
	Answer string `json:"answer"`
}

const minQuestionLength = 4

var errQuestionTooShort = errors.New("question is too short")

func RegisterAskTool(log *slog.Logger, server *mcp.Server, answerer Answerer, name string, description string) error {
	req, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask input schema: %w", err)
	}

	res, err := jsonschema.For[AskOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req AskInput) (*mcp.CallToolResult, AskOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling ask", "question", req.Question)

		out, err := handleAsk(ctx, answerer, req)
		metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(startTime).Seconds())
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
			return nil, AskOutput{}, err
		}
		metrics.ToolCallsTotal.WithLabelValues(name, "success").Inc()
		return nil, out, nil
	})
	return nil
}

func handleAsk(ctx context.Context, answerer Answerer, req AskInput) (AskOutput, error) {
	question := strings.TrimSpace(req.Question)
	if len([]rune(question)) < minQuestionLength {
		return AskOutput{}, fmt.Errorf("%w: at least %d characters are required", errQuestionTooShort, minQuestionLength)
	}
	return AskOutput{Answer: answerer.Answer(ctx, question)}, nil
}
