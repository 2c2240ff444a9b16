package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relpipe/cmd/relpipe/cmdutil"
	configcmd "relpipe/cmd/relpipe/config"
	runcmd "relpipe/cmd/relpipe/run"
	stepscmd "relpipe/cmd/relpipe/steps"
	statecmd "relpipe/cmd/relpipe/state"
	"relpipe/cmd/relpipe/ui"
	versioncmd "relpipe/cmd/relpipe/version"
	"relpipe/internal/logging"
)

func main() {
	var (
		debug         bool
		configPath    string
		logFormat     string
		noInteraction bool
	)
	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "relpipe",
		Short:         "Camera Kit SDK release pipeline",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction(noInteraction)

			cfg, err := cmdutil.LoadConfig(configPath)
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if debug {
				level = logging.LevelDebug
			}
			format := cfg.LogFormat
			if cmd.Flags().Changed("log-format") {
				format = logFormat
			}
			if err := logging.ConfigureFormat(level, format); err != nil {
				return err
			}
			cmd.SetContext(cmdutil.WithConfig(cmd.Context(), cfg))
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/relpipe/config.yaml)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format: text or json")
	root.PersistentFlags().BoolVar(&noInteraction, "no-interaction", false, "Plain output without colors")

	root.AddCommand(configcmd.Cmd())
	root.AddCommand(runcmd.Cmd())
	root.AddCommand(stepscmd.Cmd())
	root.AddCommand(statecmd.Cmd())
	root.AddCommand(versioncmd.Cmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("error: %v", err))
		os.Exit(1)
	}
}
