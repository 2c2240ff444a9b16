package statecmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"relpipe/cmd/relpipe/ui"
	"relpipe/internal/blob"
)

func historyCmd() *cobra.Command {
	var revision int64

	cmd := &cobra.Command{
		Use:   "history <sqlite-uri>",
		Short: "List the revisions of a local checkpoint",
		Long: "List every committed revision of a checkpoint kept in a local database,\n" +
			"or print one of them with --revision. URIs have the form sqlite://<path>#<key>.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db := blob.NewSQLite()
			defer db.Close()
			if revision > 0 {
				data, err := db.Revision(cmd.Context(), args[0], revision)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			revs, err := db.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return history(cmd.OutOrStdout(), revs)
		},
	}
	cmd.Flags().Int64Var(&revision, "revision", 0, "Print the document stored at this revision")
	return cmd
}

func history(w io.Writer, revs []blob.Revision) error {
	if len(revs) == 0 {
		_, err := fmt.Fprintln(w, ui.InfoMsg("No revisions stored."))
		return err
	}
	rows := make([][]string, 0, len(revs))
	for _, r := range revs {
		created := "-"
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{strconv.FormatInt(r.Revision, 10), strconv.Itoa(r.Size), created})
	}
	_, err := fmt.Fprintln(w, ui.Table([]string{"Revision", "Bytes", "Committed"}, rows))
	return err
}
