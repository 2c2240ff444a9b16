// Package cmdutil assembles the production collaborators of the release
// flow from a config.
package cmdutil

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"relpipe/config"
	"relpipe/internal/artifacts"
	"relpipe/internal/blob"
	"relpipe/internal/jobs"
	"relpipe/internal/pipeline"
	"relpipe/internal/release"
	"relpipe/internal/remote"
	"relpipe/internal/scm"
	"relpipe/internal/shell"
	"relpipe/internal/state"
)

// Options adjust how Wire builds the services.
type Options struct {
	// DryRun records scheduler calls instead of running the CI client.
	DryRun bool
	Tracer trace.Tracer
	// Run executes external tools. Defaults to shell.Exec.
	Run shell.Runner
}

// Services is everything one invocation needs.
type Services struct {
	Env    *release.Env
	Driver *pipeline.Driver
	Blobs  *blob.Router
	// Recorder is set in dry runs.
	Recorder *jobs.Recorder

	sqlite *blob.SQLite
}

// Blobs routes the checkpoint and artifact schemes to their stores.
func Blobs(run shell.Runner, sqlite *blob.SQLite) *blob.Router {
	return blob.NewRouter().
		Register(blob.SchemeGS, blob.NewGSUtil(run)).
		Register(blob.SchemeFile, blob.FS{}).
		Register(blob.SchemeSQLite, sqlite)
}

// Settings applies the per-run configuration to the production constants.
func Settings(cfg config.Config) release.Settings {
	s := release.DefaultSettings()
	s.TestMode = cfg.TestMode
	s.ReleaseScope = strings.TrimSpace(cfg.ReleaseScope)
	s.PatchVersion = strings.TrimSpace(cfg.PatchVersion)
	s.PipelineURL = cfg.PipelineURL
	s.PipelineID = cfg.PipelineID
	s.BuildNumber = cfg.BuildNumber
	s.OutputsDir = cfg.OutputsDir
	s.PollInterval = cfg.PollInterval
	if len(cfg.Approvers) > 0 {
		s.Approvers = cfg.Approvers
	}
	return s
}

func tokens(svc config.Service, run shell.Runner, audience string) remote.TokenSource {
	if svc.Token != "" {
		return remote.StaticToken(svc.Token)
	}
	return remote.LCATokens{Run: run, Audience: audience}
}

// Wire builds the services for cfg.
func Wire(cfg config.Config, opts Options) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	run := opts.Run
	if run == nil {
		run = shell.Exec{}
	}

	settings := Settings(cfg)
	sqlite := blob.NewSQLite()
	router := Blobs(run, sqlite)

	tracker, err := remote.NewJiraClient(cfg.Tracker.APIURL, cfg.Tracker.BrowseHost,
		remote.WithTokens(tokens(cfg.Tracker, run, cfg.TokenAudience)))
	if err != nil {
		return nil, fmt.Errorf("tracker client: %w", err)
	}
	chat, err := remote.NewSlackClient(cfg.Chat.APIURL,
		remote.WithTokens(tokens(cfg.Chat, run, cfg.TokenAudience)))
	if err != nil {
		return nil, fmt.Errorf("chat client: %w", err)
	}

	var (
		scheduler jobs.Scheduler
		pipelines jobs.PipelineRunner
		recorder  *jobs.Recorder
	)
	if opts.DryRun {
		recorder = jobs.NewRecorder()
		scheduler, pipelines = recorder, recorder
	} else {
		cliOpts := []jobs.CLIOption{jobs.WithBinary(cfg.Scheduler)}
		if label := strings.TrimSpace(cfg.TriggerLabel); label != "" {
			cliOpts = append(cliOpts, jobs.WithTriggerLabel(label))
		}
		cli := jobs.NewCLI(run, cliOpts...)
		scheduler, pipelines = cli, cli
	}

	env := &release.Env{
		Settings: settings,
		Tracker:  tracker,
		Chat:     chat,
		SCM: scm.NewClient(run,
			scm.WithPollInterval(cfg.PollInterval),
			scm.WithRetryAttempts(cfg.RetryCap)),
		Inputs:    artifacts.Inputs{Dir: cfg.InputsDir},
		Artifacts: artifacts.Bucket{Blobs: router, Base: blob.SchemeGS + "://" + settings.ArtifactBucket},
		Pipelines: pipelines,
		Blobs:     router,
		Probe:     remote.HTTPProbe(nil),
		Sizes:     release.NewBigQuerySizes(run),
	}

	driver := &pipeline.Driver{
		Runner: &pipeline.Runner{
			Scheduler: scheduler,
			Steps:     release.Catalog(env),
			Dispatch:  pipeline.Dispatch{Label: cfg.ResumeJob, TestMode: cfg.TestMode},
			Tracer:    opts.Tracer,
		},
		State: state.Options{Blobs: router, SaveURI: cfg.StateSaveURI()},
	}
	return &Services{Env: env, Driver: driver, Blobs: router, Recorder: recorder, sqlite: sqlite}, nil
}

// Close releases open checkpoint databases.
func (s *Services) Close() error {
	if s == nil || s.sqlite == nil {
		return nil
	}
	return s.sqlite.Close()
}
