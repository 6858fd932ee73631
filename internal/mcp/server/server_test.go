package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	mu        sync.Mutex
	questions []string
}

func (f *fakeAnswerer) Answer(_ context.Context, question string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, question)
	return "O resultado para sua consulta é 150"
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestMCP_Server_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{Answerer: &fakeAnswerer{}}
	require.Error(t, cfg.Validate())

	cfg = Config{Logger: testLogger(t)}
	require.Error(t, cfg.Validate())

	cfg = Config{Logger: testLogger(t), Answerer: &fakeAnswerer{}}
	require.NoError(t, cfg.Validate())
	require.Equal(t, defaultListenAddr, cfg.ListenAddr)
	require.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestMCP_Server_Healthz(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Logger: testLogger(t), Answerer: &fakeAnswerer{}})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok\n", rr.Body.String())
}

func TestMCP_Server_AskTool(t *testing.T) {
	t.Parallel()

	answerer := &fakeAnswerer{}
	s, err := New(Config{Logger: testLogger(t), Answerer: answerer, Version: "test"})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL}, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	require.Equal(t, "ask", tools.Tools[0].Name)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "ask",
		Arguments: map[string]any{"question": "  Qual o valor total das notas?  "},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	var out AskOutput
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	require.Equal(t, "O resultado para sua consulta é 150", out.Answer)
	require.Equal(t, []string{"Qual o valor total das notas?"}, answerer.questions)
}

func TestMCP_Server_HandleAsk_RejectsShortQuestions(t *testing.T) {
	t.Parallel()

	answerer := &fakeAnswerer{}
	_, err := handleAsk(context.Background(), answerer, AskInput{Question: " oi "})
	require.ErrorIs(t, err, errQuestionTooShort)
	require.Empty(t, answerer.questions)

	out, err := handleAsk(context.Background(), answerer, AskInput{Question: "ação"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Answer)
}
