package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/malbeclabs/csvagent/agent/pkg/pipeline"
	"github.com/malbeclabs/csvagent/agent/pkg/pipeline/metrics"
	"github.com/malbeclabs/csvagent/pkg/logger"
	"github.com/malbeclabs/csvagent/pkg/tables"
)

const (
	defaultDataDir     = "files"
	defaultMaxAttempts = 2
	defaultMaxTokens   = pipeline.DefaultMaxTokens

	providerAnthropic  = "anthropic"
	providerPerplexity = "perplexity"

	envAnthropicKey  = "ANTHROPIC_API_KEY"
	envPerplexityKey = "PPLX_API_KEY"
	envProvider      = "CSV_AGENT_PROVIDER"
	envModel         = "CSV_AGENT_MODEL"
	envDataDir       = "CSV_AGENT_DATA_DIR"
)

// options are the persistent flags shared by every command.
type options struct {
	verbose     bool
	dataDir     string
	provider    string
	model       string
	maxAttempts int
	maxTokens   int64
	metricsAddr string
}

func optionsFromFlags(cmd *cobra.Command) (*options, error) {
	return optionsFromFlagSet(cmd.Root().PersistentFlags())
}

func optionsFromFlagSet(flags *pflag.FlagSet) (*options, error) {
	var (
		opts options
		err  error
	)
	if opts.verbose, err = flags.GetBool("verbose"); err != nil {
		return nil, flagError("verbose", err)
	}
	if opts.dataDir, err = flags.GetString("data-dir"); err != nil {
		return nil, flagError("data-dir", err)
	}
	if opts.provider, err = flags.GetString("provider"); err != nil {
		return nil, flagError("provider", err)
	}
	if opts.model, err = flags.GetString("model"); err != nil {
		return nil, flagError("model", err)
	}
	if opts.maxAttempts, err = flags.GetInt("max-attempts"); err != nil {
		return nil, flagError("max-attempts", err)
	}
	if opts.maxTokens, err = flags.GetInt64("max-tokens"); err != nil {
		return nil, flagError("max-tokens", err)
	}
	if opts.metricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return nil, flagError("metrics-addr", err)
	}
	if opts.maxAttempts < 1 {
		return nil, fmt.Errorf("max-attempts must be at least 1, got %d", opts.maxAttempts)
	}
	return &opts, nil
}

// newLogger logs to stderr so it never interleaves with answers on stdout.
func newLogger(verbose bool, base slog.Level) *slog.Logger {
	return logger.New(os.Stderr, logger.Level(verbose, base), color.NoColor)
}

func newLLMClient(log *slog.Logger, opts *options) (pipeline.LLMClient, error) {
	switch opts.provider {
	case providerAnthropic:
		apiKey := os.Getenv(envAnthropicKey)
		if apiKey == "" {
			return nil, fmt.Errorf("%s is required for provider %q", envAnthropicKey, opts.provider)
		}
		return pipeline.NewAnthropicLLMClient(log, apiKey, anthropic.Model(opts.model), opts.maxTokens), nil
	case providerPerplexity:
		apiKey := os.Getenv(envPerplexityKey)
		if apiKey == "" {
			return nil, fmt.Errorf("%s is required for provider %q", envPerplexityKey, opts.provider)
		}
		return pipeline.NewPerplexityLLMClient(log, "", apiKey, opts.model, opts.maxTokens), nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", opts.provider)
	}
}

var errNoTables = errors.New("no valid CSV files were loaded")

// loadTables reads the data directory. The returned messages are meant for the user.
func loadTables(ctx context.Context, log *slog.Logger, dataDir string) (tables.Mapping, []tables.Message, error) {
	loader, err := tables.NewLoader(tables.LoaderConfig{Logger: log})
	if err != nil {
		return tables.Mapping{}, nil, fmt.Errorf("failed to create loader: %w", err)
	}
	defer loader.Close()

	m, msgs, err := loader.Load(ctx, dataDir)
	if err != nil {
		return tables.Mapping{}, nil, err
	}
	metrics.TablesLoaded.Set(float64(m.Len()))
	if m.Len() == 0 {
		return m, msgs, errNoTables
	}
	return m, msgs, nil
}

func newPipeline(log *slog.Logger, opts *options, m tables.Mapping) (*pipeline.Pipeline, error) {
	llm, err := newLLMClient(log, opts)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		Logger:      log,
		LLM:         llm,
		MaxAttempts: opts.maxAttempts,
		OnProgress: func(p pipeline.Progress) {
			log.Debug("pipeline: progress", "state", p.State, "attempt", p.Attempt)
		},
	}, m)
}

// startMetricsServer serves /metrics on addr. Errors are delivered on the
// returned channel; it is nil when addr is empty.
func startMetricsServer(log *slog.Logger, addr string, info BuildInfo) <-chan error {
	if addr == "" {
		return nil
	}
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.Date).Set(1)

	errCh := make(chan error, 1)
	go func() {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			log.Error("failed to start prometheus metrics server listener", "error", err)
			errCh <- err
			return
		}
		log.Info("prometheus metrics server listening", "address", listener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := srv.Serve(listener); err != nil {
			log.Error("failed to serve prometheus metrics", "error", err)
			errCh <- err
		}
	}()
	return errCh
}
