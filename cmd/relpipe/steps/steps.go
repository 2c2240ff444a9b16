package stepscmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"relpipe/cmd/relpipe/ui"
	"relpipe/internal/pipeline"
	"relpipe/internal/release"
)

func Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps",
		Short: "List the release steps and their hand-offs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return list(cmd.OutOrStdout())
		},
	}
}

func list(w io.Writer) error {
	steps := release.Catalog(&release.Env{Settings: release.DefaultSettings()})
	rows := make([][]string, 0, len(pipeline.AllSteps()))
	for i, id := range pipeline.AllSteps() {
		step, err := steps(id)
		if err != nil {
			return err
		}
		next := step.Next()
		successor := "-"
		if next.Kind() != pipeline.NextTerminal {
			successor = next.Step().String()
		}
		display := next.DisplayName()
		if display == "" {
			display = "-"
		}
		rows = append(rows, []string{fmt.Sprint(i + 1), id.String(), next.Kind().String(), successor, display})
	}
	_, err := fmt.Fprintln(w, ui.Table([]string{"#", "Step", "Hand-off", "Next", "Job"}, rows))
	return err
}
