package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/malbeclabs/csvagent/internal/mcp/server/metrics"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const askToolDescription = `
	PURPOSE:
	Answer a question about the loaded fiscal-note (nota fiscal) CSV tables.

	USAGE RULES:
	- Ask one self-contained question per call, in Portuguese or English.
	- Questions unrelated to the loaded invoices return a "no results" answer.
	- The answer is plain text, ready to show to a user.
`

type Server struct {
	log  *slog.Logger
	cfg  Config
	mcp  *mcp.Server
	http *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "CSV Agent MCP Server",
		Version: cfg.Version,
	}, nil)

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
		mcp: mcpServer,
	}

	if err := RegisterAskTool(s.log, mcpServer, cfg.Answerer, "ask", askToolDescription); err != nil {
		return nil, fmt.Errorf("failed to create ask tool: %w", err)
	}

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler serves the MCP endpoint at "/" and a liveness probe at "/healthz".
func (s *Server) Handler() http.Handler {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})

	mux := http.NewServeMux()
	mux.Handle("/", s.metricsMiddleware(handler))
	mux.Handle("/healthz", s.metricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})))
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: mcp streamable http listening", "listenAddr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "listenAddr", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "listenAddr", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, fmt.Sprintf("%d", wrapped.statusCode)).Inc()
		metrics.HTTPRequestDuration.Observe(time.Since(startTime).Seconds())
	})
}

// responseWriter captures the status code and keeps streaming responses flushable.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
