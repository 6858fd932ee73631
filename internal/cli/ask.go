package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

type AskCmd struct {
	info BuildInfo
}

func NewAskCmd(info BuildInfo) *AskCmd {
	return &AskCmd{info: info}
}

func (c *AskCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := optionsFromFlags(cmd)
			if err != nil {
				return err
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if len([]rune(question)) < minQuestionLength {
				return fmt.Errorf("question must have at least %d characters", minQuestionLength)
			}

			log := newLogger(opts.verbose, slog.LevelWarn)

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

			out := p.Run(ctx, question)
			fmt.Fprintln(cmd.OutOrStdout(), out.Answer)
			if out.Err != nil {
				log.Debug("ask: question not answered", "state", out.State, "error", out.Err)
			}
			return nil
		},
	}
}
