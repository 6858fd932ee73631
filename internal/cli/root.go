package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func Run(info BuildInfo, args []string) ExitCode {
	// A missing .env is fine; the environment may already carry the keys.
	_ = godotenv.Load()

	rootCmd := NewRootCmd(info)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd(info BuildInfo) *cobra.Command {
	chat := NewChatCmd(info)

	rootCmd := &cobra.Command{
		Use:          "csv-agent",
		Short:        "Ask questions in natural language about fiscal-note CSV files.",
		Version:      info.Version,
		SilenceUsage: true,
		RunE:         chat.run,
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "set debug logging level")
	flags.String("data-dir", envOr(envDataDir, defaultDataDir), "directory holding the CSV files (env "+envDataDir+")")
	flags.String("provider", envOr(envProvider, providerAnthropic), "language model provider: anthropic or perplexity (env "+envProvider+")")
	flags.String("model", os.Getenv(envModel), "model name; empty uses the provider default (env "+envModel+")")
	flags.Int("max-attempts", defaultMaxAttempts, "maximum model requests per question")
	flags.Int64("max-tokens", defaultMaxTokens, "maximum tokens per model response")
	flags.String("metrics-addr", "", "address to serve prometheus metrics on; empty disables it")

	chat.addFlags(rootCmd)

	rootCmd.AddCommand(
		chat.Command(),
		NewAskCmd(info).Command(),
		NewTablesCmd().Command(),
		NewSyncCmd().Command(),
		NewServeCmd(info).Command(),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func flagError(name string, err error) error {
	return fmt.Errorf("failed to get %s flag: %w", name, err)
}
