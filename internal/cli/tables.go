package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/csvagent/pkg/tables"
)

type TablesCmd struct{}

func NewTablesCmd() *TablesCmd {
	return &TablesCmd{}
}

func (c *TablesCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the loaded tables with their columns and row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := optionsFromFlags(cmd)
			if err != nil {
				return err
			}
			log := newLogger(opts.verbose, slog.LevelInfo)

			m, msgs, err := loadTables(cmd.Context(), log, opts.dataDir)
			for _, msg := range msgs {
				log.Warn("tables: "+msg.Text, "level", msg.Level)
			}
			if err != nil {
				return err
			}

			printTables(cmd, m)
			return nil
		},
	}
}

func printTables(cmd *cobra.Command, m tables.Mapping) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader([]string{"Tabela", "Linhas", "Colunas"})

	for _, name := range m.Names() {
		t, _ := m.Get(name)
		table.Append([]string{
			name,
			fmt.Sprintf("%d", t.Len()),
			strings.Join(t.Columns, "\n"),
		})
	}
	table.Render()
}
