package cmdutil

import (
	"context"
	"errors"
	"os"
	"strings"

	"relpipe/config"
	"relpipe/internal/pipeline"
	"relpipe/internal/telemetry"
)

// LoadConfig reads the config at path (empty for the default location).
func LoadConfig(path string) (config.Config, error) {
	return config.Load(strings.TrimSpace(path))
}

type configKey struct{}

// WithConfig stores the config loaded for this invocation in ctx.
func WithConfig(ctx context.Context, cfg config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// ConfigFrom returns the config the root command loaded.
func ConfigFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("config not loaded")
	}
	return cfg, nil
}

// Arg returns args[i], falling back to the environment variable a
// dynamic job receives its parameter through.
func Arg(args []string, i int, env string) string {
	if i < len(args) && strings.TrimSpace(args[i]) != "" {
		return args[i]
	}
	return strings.TrimSpace(os.Getenv(env))
}

// Plan lists start and its in-process successors, the steps one
// invocation can reach before it terminates or dispatches.
func Plan(steps pipeline.Factory, start pipeline.StepID) telemetry.Plan {
	var plan telemetry.Plan
	seen := make(map[pipeline.StepID]bool)
	id := start
	for !seen[id] {
		seen[id] = true
		plan.Steps = append(plan.Steps, id.String())
		step, err := steps(id)
		if err != nil {
			break
		}
		next := step.Next()
		if next.Kind() != pipeline.NextInProcess {
			break
		}
		id = next.Step()
	}
	return plan
}
