package versioncmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relpipe/internal/version"
)

var bumpKinds = []string{"minor", "patch", "rc", "drop-minor", "branch"}

func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Compute release versions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "bump <" + strings.Join(bumpKinds, "|") + "> <version>",
		Short:     "Print the version derived from another",
		Args:      cobra.ExactArgs(2),
		ValidArgs: bumpKinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := bump(args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	})
	return cmd
}

func bump(kind, text string) (string, error) {
	v, err := version.Parse(text)
	if err != nil {
		return "", err
	}
	switch kind {
	case "minor":
		return v.BumpMinor().WithQualifier("").String(), nil
	case "patch":
		return v.BumpPatch().WithQualifier("").String(), nil
	case "rc":
		return v.BumpReleaseCandidate().String(), nil
	case "drop-minor":
		return v.DropMinor().String(), nil
	case "branch":
		return v.ReleaseBranch(), nil
	default:
		return "", fmt.Errorf("unknown bump %q, want one of %s", kind, strings.Join(bumpKinds, ", "))
	}
}
