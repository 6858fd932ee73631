package cli

import (
	"errors"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/csvagent/internal/console"
	"github.com/malbeclabs/csvagent/pkg/tables"
)

type SyncCmd struct{}

func NewSyncCmd() *SyncCmd {
	return &SyncCmd{}
}

func (c *SyncCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <zip-or-dir>",
		Short: "Copy CSV files from a directory or extract them from a ZIP into the data directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := optionsFromFlags(cmd)
			if err != nil {
				return err
			}

			con := console.New(console.Config{In: os.Stdin, Out: cmd.OutOrStdout(), NoColor: color.NoColor})
			if failed := con.Messages(tables.Sync(args[0], opts.dataDir)); failed {
				return errors.New("sync failed")
			}
			return nil
		},
	}
}
