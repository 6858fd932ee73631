package pipeline

import (
	"context"
	"log/slog"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts = 2

	// Sentinel is the expression the model returns for questions unrelated to the data.
	Sentinel = "result = 0"

	ApologyMessage             = "Desculpe, não consegui encontrar um resultado para sua consulta. Tente reformular sua pergunta ou envie uma dúvida diferente."
	ProviderUnavailableMessage = "Desculpe, o serviço de linguagem está indisponível no momento. Tente novamente mais tarde."
	NoResultsMessage           = "Não foram encontrados resultados para sua consulta."
)

// LLMClient is the interface for interacting with an LLM.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds the configuration for the pipeline.
type Config struct {
	Logger      *slog.Logger
	LLM         LLMClient
	MaxAttempts int             // Max model requests per question (default 2)
	MaxSteps    uint64          // Starlark execution step budget (0 uses the evaluator default)
	BackOff     backoff.BackOff // Delay before retrying a transient provider failure (default exponential)
	OnProgress  ProgressCallback
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errLoggerRequired
	}
	if c.LLM == nil {
		return errLLMRequired
	}
	if c.MaxAttempts < 0 {
		return errNegativeAttempts
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackOff == nil {
		c.BackOff = backoff.NewExponentialBackOff()
	}
	return nil
}

// State is a step of the per-question retry state machine.
type State string

const (
	StateComposing       State = "composing"
	StateRequesting      State = "requesting"
	StateParsing         State = "parsing"
	StateValidating      State = "validating"
	StateExecuting       State = "executing"
	StateRetrying        State = "retrying"
	StateSucceeded       State = "succeeded"
	StateExhaustedFailed State = "exhausted_failed"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhaustedFailed
}

// Progress reports a state transition while a question is being answered.
type Progress struct {
	State   State
	Attempt int    // 1-based attempt number
	Fault   *Fault // Set when entering StateRetrying or StateExhaustedFailed
}

// ProgressCallback is called at each state transition.
type ProgressCallback func(Progress)

// Attempt is one generate-validate-execute cycle.
type Attempt struct {
	Number     int
	Expression string // Empty if no expression was produced
	Fault      *Fault // Nil on success
}

// ResultKind tags the shape of a QueryResult.
type ResultKind string

const (
	ResultEmpty    ResultKind = "empty"
	ResultScalar   ResultKind = "scalar"
	ResultSequence ResultKind = "sequence"
	ResultRecord   ResultKind = "record"
	ResultRecords  ResultKind = "records"
)

// Record is an ordered set of named fields.
type Record struct {
	Keys   []string
	Values []any
}

// QueryResult is the value bound to "result" by a successful expression.
type QueryResult struct {
	Kind    ResultKind
	Scalar  any
	Values  []any
	Record  Record
	Columns []string
	Records [][]any
}

// Outcome is the complete result of answering one question.
type Outcome struct {
	Question string
	State    State
	Attempts []Attempt
	Result   *QueryResult // Set when State is StateSucceeded
	Answer   string
	Err      error // Terminal fault when State is StateExhaustedFailed
}
