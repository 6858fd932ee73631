// Package pipeline answers natural-language questions about loaded tables by
// asking a language model for a single query expression, validating and
// executing it, and feeding failures back to the model for a bounded number of
// attempts.
//
// The expression denylist in ValidateExpression is best-effort and is not a
// sandbox. Isolation comes from the Starlark evaluator, which has no imports,
// no file or network access, and binds nothing but the table mapping.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/csvagent/agent/pkg/pipeline/metrics"
	"github.com/malbeclabs/csvagent/pkg/tables"
)

// Pipeline runs the generate-validate-execute-retry loop for one table mapping.
type Pipeline struct {
	log      *slog.Logger
	cfg      Config
	prompts  *Prompts
	schema   string
	format   string
	executor *Executor
	backoff  backoff.BackOff

	// mu serializes questions; there is never more than one in flight.
	mu sync.Mutex
}

// New creates a pipeline over m. The schema context is computed once here.
func New(cfg Config, m tables.Mapping) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prompts, err := LoadPrompts()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	format, err := FormatInstructions()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		log:      cfg.Logger,
		cfg:      cfg,
		prompts:  prompts,
		schema:   BuildSchemaContext(m),
		format:   format,
		executor: NewExecutor(m, cfg.MaxSteps),
		backoff:  cfg.BackOff,
	}, nil
}

// Answer returns the text to show the user. It never fails: exhausted attempts
// yield ApologyMessage and an unreachable model yields ProviderUnavailableMessage.
func (p *Pipeline) Answer(ctx context.Context, question string) string {
	return p.Run(ctx, question).Answer
}

// Run answers question and reports every attempt made.
func (p *Pipeline) Run(ctx context.Context, question string) *Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	out := &Outcome{Question: question}
	p.backoff.Reset()

	var previous *Attempt
	for n := 1; n <= p.cfg.MaxAttempts; n++ {
		attempt := p.attempt(ctx, question, n, previous)
		out.Attempts = append(out.Attempts, attempt.Attempt)

		if attempt.Fault == nil {
			metrics.AttemptsTotal.WithLabelValues("success").Inc()
			out.State = StateSucceeded
			out.Result = &attempt.result
			out.Answer = FormatResult(attempt.result)
			p.progress(Progress{State: StateSucceeded, Attempt: n})
			break
		}

		fault := attempt.Fault
		metrics.AttemptsTotal.WithLabelValues("failure").Inc()
		metrics.FaultsTotal.WithLabelValues(string(fault.Kind)).Inc()
		p.log.Info("pipeline: attempt failed", "attempt", n, "kind", fault.Kind, "retryable", fault.Retryable, "expression", attempt.Expression, "error", fault.Message)

		terminal := !fault.Retryable || n == p.cfg.MaxAttempts
		if !terminal && fault.Kind == FaultProvider {
			if err := p.wait(ctx, p.backoff.NextBackOff()); err != nil {
				terminal = true
			}
		}
		if terminal {
			out.State = StateExhaustedFailed
			out.Err = terminalError(fault)
			out.Answer = ApologyMessage
			if fault.Kind == FaultProvider {
				out.Answer = ProviderUnavailableMessage
			}
			p.progress(Progress{State: StateExhaustedFailed, Attempt: n, Fault: fault})
			break
		}

		p.progress(Progress{State: StateRetrying, Attempt: n, Fault: fault})
		// Provider faults carry no model output to correct, so the retry context
		// stays on the last attempt that produced some.
		if fault.Kind != FaultProvider {
			prev := attempt.Attempt
			previous = &prev
		}
	}

	metrics.QuestionsTotal.WithLabelValues(string(out.State)).Inc()
	p.log.Info("pipeline: question resolved", "state", out.State, "attempts", len(out.Attempts), "duration", time.Since(start))
	return out
}

type attemptResult struct {
	Attempt
	result QueryResult
}

// attempt runs one compose-request-parse-validate-execute cycle.
func (p *Pipeline) attempt(ctx context.Context, question string, n int, previous *Attempt) attemptResult {
	res := attemptResult{Attempt: Attempt{Number: n}}

	p.progress(Progress{State: StateComposing, Attempt: n})
	prompt := p.prompts.Compose(PromptInput{
		Schema:             p.schema,
		FormatInstructions: p.format,
		Question:           question,
		Previous:           previous,
	})

	p.progress(Progress{State: StateRequesting, Attempt: n})
	text, err := p.cfg.LLM.Complete(ctx, prompt)
	if err != nil {
		res.Fault = providerFault(err)
		return res
	}

	p.progress(Progress{State: StateParsing, Attempt: n})
	expr, err := ParseResponse(text)
	if err != nil {
		res.Fault = newFault(FaultParse, err)
		return res
	}
	res.Expression = expr
	p.log.Debug("pipeline: generated expression", "attempt", n, "expression", expr)

	p.progress(Progress{State: StateValidating, Attempt: n})
	if err := ValidateExpression(expr); err != nil {
		res.Fault = newFault(FaultValidation, err)
		return res
	}

	p.progress(Progress{State: StateExecuting, Attempt: n})
	result, fault := p.executor.Execute(ctx, expr)
	if fault != nil {
		res.Fault = fault
		return res
	}
	res.result = result
	return res
}

// wait pauses before re-requesting after a transient provider failure.
func (p *Pipeline) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func terminalError(f *Fault) error {
	if f.Kind == FaultProvider {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, f)
	}
	return fmt.Errorf("%w: %w", ErrAttemptsExhausted, f)
}

func (p *Pipeline) progress(pr Progress) {
	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(pr)
	}
}

// IsProviderUnavailable reports whether err is a terminal provider failure.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
