package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/malbeclabs/csvagent/internal/console"
	"github.com/malbeclabs/csvagent/pkg/tables"
)

const minQuestionLength = 4

var exitWords = map[string]struct{}{"sair": {}, "exit": {}, "quit": {}}

type ChatCmd struct {
	info BuildInfo
}

func NewChatCmd(info BuildInfo) *ChatCmd {
	return &ChatCmd{info: info}
}

func (c *ChatCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive question loop (default command)",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
	c.addFlags(cmd)
	return cmd
}

func (c *ChatCmd) addFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("skip-sync", false, "do not offer to copy more CSV files before loading")
}

func (c *ChatCmd) run(cmd *cobra.Command, _ []string) error {
	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	skipSync, err := cmd.Flags().GetBool("skip-sync")
	if err != nil {
		return flagError("skip-sync", err)
	}

	log := newLogger(opts.verbose, slog.LevelWarn)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	con := console.New(console.Config{In: os.Stdin, Out: os.Stdout, Width: terminalWidth(), NoColor: color.NoColor})
	con.Header()

	if !skipSync {
		if err := syncMenu(ctx, con, opts.dataDir); err != nil {
			return err
		}
	}

	m, msgs, err := loadTables(ctx, log, opts.dataDir)
	con.Messages(msgs)
	if err != nil {
		return err
	}

	p, err := newPipeline(log, opts, m)
	if err != nil {
		con.Error("%v", err)
		return err
	}

	metricsErrCh := startMetricsServer(log, opts.metricsAddr, c.info)

	for {
		select {
		case err := <-metricsErrCh:
			return err
		default:
		}

		question, err := readLine(ctx, con.ReadQuestion)
		if err != nil {
			fmt.Fprintln(os.Stdout)
			question = "sair"
		}
		con.User(question)

		if utf8.RuneCountInString(question) < minQuestionLength {
			con.Warning("Pergunta muito curta. Digite ao menos %d caracteres.", minQuestionLength)
			continue
		}
		if _, ok := exitWords[strings.ToLower(question)]; ok {
			con.Warning("Até logo! 👋")
			return nil
		}

		con.Agent(p.Answer(ctx, question))
		if ctx.Err() != nil {
			con.Warning("Até logo! 👋")
			return nil
		}
	}
}

// syncMenu offers to copy more CSV files into dataDir until the user declines.
func syncMenu(ctx context.Context, con *console.Console, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	for {
		existing, err := tables.ListCSV(dataDir)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", dataDir, err)
		}

		if len(existing) > 0 {
			con.Info("CSV encontrados em '%s':", dataDir)
			for _, name := range existing {
				con.Item(name)
			}
			choice, err := readLine(ctx, func() (string, error) {
				return con.Ask("Deseja incluir mais arquivos? (s/n):")
			})
			if err != nil {
				fmt.Fprintln(os.Stdout)
				return nil
			}
			switch strings.ToLower(choice) {
			case "n":
				return nil
			case "s":
			default:
				con.Warning("Resposta inválida. Digite 's' ou 'n'.")
				continue
			}
		} else {
			con.Info("Nenhum CSV encontrado em '%s'.", dataDir)
		}

		src, err := readLine(ctx, func() (string, error) {
			return con.Ask("Informe o PATH do ZIP/pasta com CSVs:")
		})
		if err != nil {
			fmt.Fprintln(os.Stdout)
			return nil
		}
		con.Messages(tables.Sync(src, dataDir))
	}
}

// readLine runs read until it returns or ctx is done, so an interrupt ends a
// blocked prompt. The reader goroutine is abandoned on cancellation.
func readLine(ctx context.Context, read func() (string, error)) (string, error) {
	type line struct {
		text string
		err  error
	}
	ch := make(chan line, 1)
	go func() {
		text, err := read()
		ch <- line{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-ch:
		if l.err != nil && !errors.Is(l.err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", l.err)
		}
		return l.text, l.err
	}
}

// terminalWidth returns the stdout width, or 0 when stdout is not a terminal.
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
