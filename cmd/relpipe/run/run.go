package runcmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"relpipe/cmd/relpipe/cmdutil"
	"relpipe/cmd/relpipe/ui"
	"relpipe/internal/pipeline"
	"relpipe/internal/release"
	"relpipe/internal/telemetry"
)

// Cmd returns "relpipe run".
func Cmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run [step] [state-ref]",
		Short: "Run a pipeline step against a checkpoint",
		Long: "Run a pipeline step and hand off to its successors.\n\n" +
			"The step defaults to $" + pipeline.ParamRunStep + " and the state reference to $" +
			pipeline.ParamStateRef + ", the parameters a dynamically added job receives.\n" +
			"The state reference is empty, a gs://, file:// or sqlite:// URI, or an inline JSON document.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := cmdutil.Arg(args, 0, pipeline.ParamRunStep)
			if name == "" {
				return errors.New("no step given")
			}
			id, err := pipeline.ParseStepID(name)
			if err != nil {
				return err
			}
			ref := cmdutil.Arg(args, 1, pipeline.ParamStateRef)

			ctx := cmd.Context()
			cfg, err := cmdutil.ConfigFrom(ctx)
			if err != nil {
				return err
			}

			provider, err := telemetry.Setup(ctx, telemetry.Options{
				Endpoint:   cfg.TelemetryEndpoint,
				Processors: []sdktrace.SpanProcessor{ui.NewProgress(os.Stderr)},
			})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = provider.Shutdown(shutdownCtx)
			}()
			tracer := provider.Tracer("relpipe")

			svc, err := cmdutil.Wire(cfg, cmdutil.Options{DryRun: dryRun, Tracer: tracer})
			if err != nil {
				return err
			}
			defer svc.Close()

			plan := cmdutil.Plan(release.Catalog(svc.Env), id)
			inv, err := telemetry.StartInvocation(ctx, tracer, plan, cfg.TestMode, telemetry.RefKind(ref))
			if err != nil {
				return err
			}
			out, err := svc.Driver.RunStep(inv.Context(), id.String(), ref)
			inv.End(err)
			if err != nil {
				return err
			}

			printOutcome(out)
			if svc.Recorder != nil {
				printRecorded(svc)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Record scheduler calls instead of dispatching jobs")
	return cmd
}

func printOutcome(out pipeline.Outcome) {
	rows := make([][]string, 0, len(out.Trail))
	for _, v := range out.Trail {
		rows = append(rows, []string{v.Step.String(), ui.Bool(v.Executed), v.Phase.String(), v.JobID})
	}
	fmt.Println(ui.Table([]string{"Step", "Executed", "Phase", "Job"}, rows))

	last := out.Last()
	switch last.Phase {
	case pipeline.PhaseTerminal:
		fmt.Println(ui.SuccessMsg("Release flow finished at %s", last.Step))
	case pipeline.PhaseDispatched:
		fmt.Println(ui.SuccessMsg("Handed off after %s to job %s", last.Step, ui.Accent(last.JobID)))
	default:
		fmt.Println(ui.InfoMsg("Stopped after %s (%s)", last.Step, last.Phase))
	}
}

func printRecorded(svc *cmdutil.Services) {
	subs := svc.Recorder.Submitted()
	if len(subs) == 0 {
		return
	}
	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, []string{s.JobID, s.DisplayName, s.Params[pipeline.ParamRunStep]})
	}
	fmt.Println(ui.Muted("Dry run, no jobs were dispatched:"))
	fmt.Println(ui.Table([]string{"Job", "Name", "Step"}, rows))
}
