package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/csvagent/internal/mcp/server"
)

const defaultListenAddr = "127.0.0.1:8010"

type ServeCmd struct {
	info BuildInfo
}

func NewServeCmd(info BuildInfo) *ServeCmd {
	return &ServeCmd{info: info}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question pipeline as an MCP tool over streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := optionsFromFlags(cmd)
			if err != nil {
				return err
			}
			listenAddr, err := cmd.Flags().GetString("listen-addr")
			if err != nil {
				return flagError("listen-addr", err)
			}

			log := newLogger(opts.verbose, slog.LevelInfo)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			m, msgs, err := loadTables(ctx, log, opts.dataDir)
			for _, msg := range msgs {
				log.Warn("tables: "+msg.Text, "level", msg.Level)
			}
			if err != nil {
				return err
			}

			p, err := newPipeline(log, opts, m)
			if err != nil {
				return err
			}

			srv, err := server.New(server.Config{
				Logger:     log,
				Answerer:   p,
				Version:    c.info.Version,
				ListenAddr: listenAddr,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			metricsErrCh := startMetricsServer(log, opts.metricsAddr, c.info)

			serverErrCh := make(chan error, 1)
			go func() {
				serverErrCh <- srv.Run(ctx)
			}()

			select {
			case err := <-serverErrCh:
				return err
			case err := <-metricsErrCh:
				return err
			}
		},
	}
	cmd.Flags().String("listen-addr", defaultListenAddr, "MCP HTTP server listen address")
	return cmd
}
