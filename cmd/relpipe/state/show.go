package statecmd

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"relpipe/cmd/relpipe/cmdutil"
	"relpipe/cmd/relpipe/ui"
	"relpipe/internal/blob"
	"relpipe/internal/pipeline"
	"relpipe/internal/shell"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

func showCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show [state-ref]",
		Short: "Print a checkpoint",
		Long: "Print a checkpoint. The reference defaults to $" + pipeline.ParamStateRef +
			", then to the run's configured checkpoint location.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := cmdutil.Arg(args, 0, pipeline.ParamStateRef)
			if ref == "" {
				cfg, err := cmdutil.ConfigFrom(cmd.Context())
				if err != nil {
					return err
				}
				ref = cfg.StateSaveURI()
			}
			if ref == "" {
				return errors.New("no checkpoint reference given and the run is not identified")
			}

			sqlite := blob.NewSQLite()
			defer sqlite.Close()
			st, err := state.Open(cmd.Context(), state.Options{Blobs: cmdutil.Blobs(shell.Exec{}, sqlite)}, ref)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if raw {
				data, err := st.JSON(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}
			return show(out, st.Snapshot(cmd.Context()))
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "Print the serialized document")
	return cmd
}

func show(w io.Writer, doc *state.Document) error {
	scope := "-"
	if doc.Step1.ReleaseScope != nil {
		scope = doc.Step1.ReleaseScope.String()
	}
	sections := []string{
		ui.Section("Release",
			ui.KV("Scope", scope),
			ui.KV("Version", versionString(doc.Step1.ReleaseVersion)),
			ui.KV("Verification issue", ui.Optional(doc.Step1.ReleaseVerificationIssueKey)),
			ui.KV("Coordination channel", ui.Optional(doc.Step1.ReleaseCoordinationSlackChannel)),
			ui.KV("Development version", versionString(doc.Step2.DevelopmentVersion)),
		),
		ui.Section("SDK builds",
			ui.KV("Android dev", sdkBuild(doc.Step3.AndroidDevSdkBuild)),
			ui.KV("Android candidate", sdkBuild(doc.Step3.AndroidReleaseCandidateSdkBuild)),
			ui.KV("iOS dev", sdkBuild(doc.Step3.IOSDevSdkBuild)),
			ui.KV("iOS candidate", sdkBuild(doc.Step3.IOSReleaseCandidateSdkBuild)),
		),
		ui.Section("Verification",
			ui.KV("Candidate commit", ui.Optional(doc.Step4.ReleaseCandidateSdkBuildsCommitSha)),
			ui.KV("Candidate binaries", binaries(doc.Step4.ReleaseCandidateBinaryBuilds)),
			ui.KV("Prompt", ui.Optional(doc.Step5.ReleaseVerificationPromptMessageTimestamp)),
			ui.KV("Complete", ui.Bool(doc.Step5.ReleaseVerificationComplete)),
			ui.KV("Verified Android", sdkBuild(doc.Step5.ReleaseCandidateAndroidSdkBuild)),
			ui.KV("Verified iOS", sdkBuild(doc.Step5.ReleaseCandidateIosSdkBuild)),
		),
		ui.Section("Release builds",
			ui.KV("Android", sdkBuild(doc.Step6.ReleaseAndroidSdkBuild)),
			ui.KV("iOS", sdkBuild(doc.Step6.ReleaseIosSdkBuild)),
			ui.KV("Binaries", binaries(doc.Step8.ReleaseBinaryBuilds)),
			ui.KV("GitHub release", ui.Optional(doc.Step8.ReleaseGithubURL)),
		),
		ui.Section("Publishing",
			ui.KV("Maven Central", ui.Bool(doc.Step9.AndroidSdkPublishedToMavenCentral)),
			ui.KV("CocoaPods", ui.Bool(doc.Step9.IosSdkPublishedToCocoapods)),
			ui.KV("API reference on GitHub", ui.Bool(doc.Step10.SdkAPIReferenceSyncedToPublicGithub)),
			ui.KV("API reference on docs", ui.Bool(doc.Step10.SdkAPIReferenceSyncedToSnapDocs)),
		),
	}
	_, err := fmt.Fprintln(w, strings.Join(sections, "\n"))
	return err
}

func versionString(v *version.Version) string {
	if v == nil {
		return ui.Muted("-")
	}
	return v.String()
}

func sdkBuild(b *state.SdkBuild) string {
	if b == nil {
		return ui.Muted("-")
	}
	return fmt.Sprintf("%s #%s %s", b.Version, b.BuildNumber, ui.Muted(b.URL()))
}

func binaries(builds map[string]state.BinaryBuild) string {
	if len(builds) == 0 {
		return ui.Muted("-")
	}
	names := make([]string, 0, len(builds))
	for name := range builds {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
