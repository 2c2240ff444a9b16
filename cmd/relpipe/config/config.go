package configcmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"relpipe/cmd/relpipe/ui"
	"relpipe/config"
)

func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the relpipe config file",
	}
	cmd.AddCommand(initCmd())
	return cmd
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: "Write the default settings to the file named by --config, or to\n" +
			"$XDG_CONFIG_HOME/relpipe/config.yaml. Environment variables still\n" +
			"override the file at run time.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return writeDefaults(cmd.OutOrStdout(), path, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func writeDefaults(w io.Writer, path string, force bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = config.Path()
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists, use --force to overwrite", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat config: %w", err)
		}
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, ui.SuccessMsg("Wrote %s", path))
	return err
}
