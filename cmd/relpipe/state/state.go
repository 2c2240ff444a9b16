package statecmd

import (
	"github.com/spf13/cobra"
)

// Cmd returns "relpipe state".
func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect release checkpoints",
	}
	cmd.AddCommand(showCmd())
	cmd.AddCommand(historyCmd())
	return cmd
}
