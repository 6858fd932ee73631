package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/csvagent/pkg/tables"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

// mockLLM returns scripted responses in order and records every prompt.
type mockLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
	delay     time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (m *mockLLM) Complete(_ context.Context, prompt string) (string, error) {
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		cur := m.maxInflight.Load()
		if n <= cur || m.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", errors.New("unexpected call")
}

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func jsonResponse(t *testing.T, expr string) string {
	t.Helper()
	b, err := json.Marshal(ResponseSchema{QueryExpression: expr})
	require.NoError(t, err)
	return "```json\n" + string(b) + "\n```"
}

func notasMapping(t *testing.T) tables.Mapping {
	t.Helper()
	notas, err := tables.NewTable("notas.csv", []string{"CHAVE DE ACESSO", "UF", "VALOR"}, [][]any{
		{"k1", "SP", int64(100)},
		{"k2", "RJ", int64(50)},
	})
	require.NoError(t, err)
	m, err := tables.NewMapping(notas)
	require.NoError(t, err)
	return m
}

func newTestPipeline(t *testing.T, llm LLMClient, maxAttempts int) *Pipeline {
	t.Helper()
	p, err := New(Config{Logger: logger, LLM: llm, MaxAttempts: maxAttempts, BackOff: &backoff.ZeroBackOff{}}, notasMapping(t))
	require.NoError(t, err)
	return p
}

func TestPipeline_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{LLM: &mockLLM{}}
	require.ErrorIs(t, cfg.Validate(), errLoggerRequired)

	cfg = Config{Logger: logger}
	require.ErrorIs(t, cfg.Validate(), errLLMRequired)

	cfg = Config{Logger: logger, LLM: &mockLLM{}, MaxAttempts: -1}
	require.Error(t, cfg.Validate())

	cfg = Config{Logger: logger, LLM: &mockLLM{}}
	require.NoError(t, cfg.Validate())
	require.Equal(t, 2, cfg.MaxAttempts)
	require.NotNil(t, cfg.BackOff)
}

func TestPipeline_Run_SumOnFirstAttempt(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{responses: []string{jsonResponse(t, `result = tables["notas.csv"]["VALOR"].sum()`)}}
	p := newTestPipeline(t, llm, 0)

	out := p.Run(context.Background(), "Qual o valor total das notas fiscais?")
	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, 1, llm.calls())
	require.Len(t, out.Attempts, 1)
	require.Nil(t, out.Attempts[0].Fault)
	require.Equal(t, ResultScalar, out.Result.Kind)
	require.Equal(t, int64(150), out.Result.Scalar)
	require.Equal(t, "O resultado para sua consulta é 150", out.Answer)
	require.NoError(t, out.Err)
}

func TestPipeline_Run_SentinelIsNoResults(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{responses: []string{jsonResponse(t, "result = 0")}}
	p := newTestPipeline(t, llm, 0)

	out := p.Run(context.Background(), "Qual a capital da França?")
	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, ResultEmpty, out.Result.Kind)
	require.Equal(t, NoResultsMessage, out.Answer)
	require.Equal(t, 1, llm.calls())
}

func TestPipeline_Run_PromptCarriesLocationGuidance(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{responses: []string{jsonResponse(t, `result = len(tables["notas.csv"][tables["notas.csv"]["UF"].isin(["SP", "São Paulo"])])`)}}
	p := newTestPipeline(t, llm, 0)

	out := p.Run(context.Background(), "Quantas notas foram emitidas em SP?")
	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, "O resultado para sua consulta é 1", out.Answer)

	prompt := llm.prompts[0]
	require.Contains(t, prompt, "SP = São Paulo")
	require.Contains(t, prompt, `also check for "São Paulo"`)
	require.Contains(t, prompt, "Quantas notas foram emitidas em SP?")
	require.Contains(t, prompt, `notas.csv: ["CHAVE DE ACESSO", "UF", "VALOR"]`)
	require.Contains(t, prompt, "query_expression")
	require.NotContains(t, prompt, "PREVIOUS QUERY")
}

func TestPipeline_Run_RetryCarriesPreviousFailure(t *testing.T) {
	t.Parallel()

	first := `result = tables["notas.csv"]["PRECO"].sum()`
	second := `result = tables["notas.csv"]["PREÇO"].sum()`
	llm := &mockLLM{responses: []string{jsonResponse(t, first), jsonResponse(t, second)}}
	p := newTestPipeline(t, llm, 0)

	out := p.Run(context.Background(), "Qual o preço total?")
	require.Equal(t, StateExhaustedFailed, out.State)
	require.Equal(t, ApologyMessage, out.Answer)
	require.Equal(t, 2, llm.calls())
	require.Len(t, out.Attempts, 2)
	require.ErrorIs(t, out.Err, ErrAttemptsExhausted)

	require.Equal(t, first, out.Attempts[0].Expression)
	require.Equal(t, FaultExecution, out.Attempts[0].Fault.Kind)
	require.Contains(t, out.Attempts[0].Fault.Message, `column "PRECO" not found`)

	retryPrompt := llm.prompts[1]
	require.Contains(t, retryPrompt, "PREVIOUS QUERY:\n"+first)
	require.Contains(t, retryPrompt, `column "PRECO" not found`)
	require.Contains(t, retryPrompt, "generate a NEW, corrected")
}

func TestPipeline_Run_DenylistRejectsWithoutExecuting(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{responses: []string{
		jsonResponse(t, `result = __import__("os").listdir(".")`),
		jsonResponse(t, `result = tables["notas.csv"]["VALOR"].max()`),
	}}
	var executed []int
	p, err := New(Config{
		Logger: logger,
		LLM:    llm,
		OnProgress: func(pr Progress) {
			if pr.State == StateExecuting {
				executed = append(executed, pr.Attempt)
			}
		},
	}, notasMapping(t))
	require.NoError(t, err)

	out := p.Run(context.Background(), "Qual a maior nota?")
	require.Equal(t, StateSucceeded, out.State)
	require.Len(t, out.Attempts, 2)
	require.Equal(t, FaultValidation, out.Attempts[0].Fault.Kind)
	require.Equal(t, "O resultado para sua consulta é 100", out.Answer)
	require.Contains(t, llm.prompts[1], "unsafe code detected")
	require.Equal(t, []int{2}, executed)
}

func TestPipeline_Run_SuccessStopsRetrying(t *testing.T) {
	t.Parallel()

	first := `result = tables["notas.csv"]["PRECO"].sum()`
	llm := &mockLLM{responses: []string{
		jsonResponse(t, first),
		jsonResponse(t, `result = tables["notas.csv"]["VALOR"].sum()`),
		jsonResponse(t, "result = 0"),
	}}
	p := newTestPipeline(t, llm, 3)

	out := p.Run(context.Background(), "Qual o valor total?")
	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, 2, llm.calls())
	require.Len(t, out.Attempts, 2)
	require.Contains(t, llm.prompts[1], first)
	require.Equal(t, "O resultado para sua consulta é 150", out.Answer)
}

func TestPipeline_Run_AttemptsAreBounded(t *testing.T) {
	t.Parallel()

	for _, maxAttempts := range []int{1, 2, 3} {
		llm := &mockLLM{responses: []string{"nope", "nope", "nope", "nope"}}
		p := newTestPipeline(t, llm, maxAttempts)

		out := p.Run(context.Background(), "Qual o total?")
		require.Equal(t, StateExhaustedFailed, out.State)
		require.Equal(t, maxAttempts, llm.calls())
		require.Len(t, out.Attempts, maxAttempts)
		require.Equal(t, ApologyMessage, out.Answer)
		for _, a := range out.Attempts {
			require.Equal(t, FaultParse, a.Fault.Kind)
			require.Empty(t, a.Expression)
		}
	}
}

func TestPipeline_Run_ParseFailureRetryContext(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{responses: []string{"I think you should sum VALOR", jsonResponse(t, `result = tables["notas.csv"]["VALOR"].count()`)}}
	p := newTestPipeline(t, llm, 0)

	out := p.Run(context.Background(), "Quantas notas existem?")
	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, "O resultado para sua consulta é 2", out.Answer)
	require.Contains(t, llm.prompts[1], "(no expression was produced)")
}

func TestPipeline_Run_EmptyAndMissingResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
		kind FaultKind
	}{
		{"empty table", `result = tables["notas.csv"][tables["notas.csv"]["VALOR"].gt(1000)]`, FaultEmptyResult},
		{"no result binding", `x = tables["notas.csv"]["VALOR"].sum()`, FaultNoResult},
		{"none result", `result = None`, FaultNoResult},
		{"groupby without aggregation", `result = tables["notas.csv"].groupby("UF")`, FaultExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			llm := &mockLLM{responses: []string{jsonResponse(t, tt.expr)}}
			p := newTestPipeline(t, llm, 1)

			out := p.Run(context.Background(), "pergunta")
			require.Equal(t, StateExhaustedFailed, out.State)
			require.Equal(t, tt.kind, out.Attempts[0].Fault.Kind)
			require.Equal(t, ApologyMessage, out.Answer)
		})
	}
}

func TestPipeline_Run_NonRetryableProviderFailsFast(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{errs: []error{&ProviderError{StatusCode: 401, Err: errors.New("invalid x-api-key")}}}
	p := newTestPipeline(t, llm, 3)

	out := p.Run(context.Background(), "Qual o total?")
	require.Equal(t, StateExhaustedFailed, out.State)
	require.Equal(t, 1, llm.calls())
	require.Equal(t, ProviderUnavailableMessage, out.Answer)
	require.True(t, IsProviderUnavailable(out.Err))

	var fault *Fault
	require.ErrorAs(t, out.Err, &fault)
	require.Equal(t, FaultProvider, fault.Kind)
	require.False(t, fault.Retryable)
}

func TestPipeline_Run_TransientProviderFailureIsRetried(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{
		errs:      []error{&ProviderError{StatusCode: 503, Retryable: true, Err: errors.New("overloaded")}},
		responses: []string{"", jsonResponse(t, `result = tables["notas.csv"]["VALOR"].sum()`)},
	}
	p := newTestPipeline(t, llm, 0)

	out := p.Run(context.Background(), "Qual o total?")
	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, 2, llm.calls())
	require.Equal(t, FaultProvider, out.Attempts[0].Fault.Kind)
	require.NotContains(t, llm.prompts[1], "PREVIOUS QUERY:")
	require.NotContains(t, llm.prompts[1], "overloaded")
}

func TestPipeline_Run_ProviderRequestsAreBoundedByAttempts(t *testing.T) {
	t.Parallel()

	for _, maxAttempts := range []int{1, 2, 3} {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))

		llm := NewPerplexityLLMClient(logger, srv.URL, "test-key", "", 0)
		p, err := New(Config{Logger: logger, LLM: llm, MaxAttempts: maxAttempts, BackOff: &backoff.ZeroBackOff{}}, notasMapping(t))
		require.NoError(t, err)

		out := p.Run(context.Background(), "Qual o total?")
		srv.Close()

		require.Equal(t, StateExhaustedFailed, out.State)
		require.Equal(t, ProviderUnavailableMessage, out.Answer)
		require.Len(t, out.Attempts, maxAttempts)
		require.Equal(t, int32(maxAttempts), requests.Load())
	}
}

func TestPipeline_Run_CancelledDuringProviderBackOff(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{errs: []error{&ProviderError{StatusCode: 429, Retryable: true, Err: errors.New("rate limited")}}}
	p, err := New(Config{Logger: logger, LLM: llm, MaxAttempts: 3, BackOff: backoff.NewConstantBackOff(time.Hour)}, notasMapping(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := p.Run(ctx, "Qual o total?")
	require.Equal(t, StateExhaustedFailed, out.State)
	require.Equal(t, ProviderUnavailableMessage, out.Answer)
	require.Equal(t, 1, llm.calls())
}

func TestPipeline_Run_ProviderFailureOnLastAttempt(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{
		responses: []string{jsonResponse(t, `result = tables["x.csv"]`)},
		errs:      []error{nil, errors.New("connection reset")},
	}
	p := newTestPipeline(t, llm, 2)

	out := p.Run(context.Background(), "Qual o total?")
	require.Equal(t, StateExhaustedFailed, out.State)
	require.Equal(t, ProviderUnavailableMessage, out.Answer)
	require.Equal(t, 2, llm.calls())
}

func TestPipeline_Run_ReportsProgress(t *testing.T) {
	t.Parallel()

	var states []State
	llm := &mockLLM{responses: []string{"garbage", jsonResponse(t, `result = tables["notas.csv"]["UF"].unique()`)}}
	p, err := New(Config{
		Logger:     logger,
		LLM:        llm,
		OnProgress: func(pr Progress) { states = append(states, pr.State) },
	}, notasMapping(t))
	require.NoError(t, err)

	out := p.Run(context.Background(), "Quais estados?")
	require.Equal(t, "- SP\n- RJ", out.Answer)
	require.Equal(t, []State{
		StateComposing, StateRequesting, StateParsing, StateRetrying,
		StateComposing, StateRequesting, StateParsing, StateValidating, StateExecuting, StateSucceeded,
	}, states)
	require.True(t, states[len(states)-1].Terminal())
}

func TestPipeline_Answer_SerializesQuestions(t *testing.T) {
	t.Parallel()

	responses := make([]string, 8)
	for i := range responses {
		responses[i] = jsonResponse(t, `result = tables["notas.csv"]["VALOR"].sum()`)
	}
	llm := &mockLLM{responses: responses, delay: 5 * time.Millisecond}
	p := newTestPipeline(t, llm, 0)

	var wg sync.WaitGroup
	answers := make([]string, len(responses))
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			answers[i] = p.Answer(context.Background(), "Qual o total?")
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), llm.maxInflight.Load())
	for _, a := range answers {
		require.True(t, strings.HasSuffix(a, "150"), a)
	}
}
