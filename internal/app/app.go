package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"provkit/internal/config"
	provErrors "provkit/internal/errors"
	"provkit/internal/recipe"
	"provkit/internal/ui"
	"provkit/pkg/provision"
)

// Options configures an App.
type Options struct {
	// ConfigFile is an optional YAML file layered under the environment.
	ConfigFile string
	Console    *ui.Console
	// Deps builds step collaborators; NewHostDeps when nil.
	Deps   DepsFactory
	Runner RunnerOptions
}

// App is the facade the CLI drives: it resolves recipes, loads their
// configuration and runs, inspects or resets them.
type App struct {
	opts Options
}

func New(opts Options) *App {
	if opts.Console == nil {
		opts.Console = ui.NewConsole()
	}
	if opts.Deps == nil {
		opts.Deps = NewHostDeps
	}
	opts.Runner.Console = opts.Console
	return &App{opts: opts}
}

// Plan is a recipe bound to its effective configuration.
type Plan struct {
	Recipe recipe.Recipe
	Config *config.Config
	Steps  []provision.Step
}

// Descriptions lists the plan's step descriptions in execution order.
func (p *Plan) Descriptions() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Description
	}
	return out
}

// Load resolves the recipe called name and its configuration.
func (a *App) Load(name string) (recipe.Recipe, *config.Config, error) {
	r, err := recipe.Get(name)
	if err != nil {
		return recipe.Recipe{}, nil, provErrors.NewRecipeError(
			fmt.Sprintf("Recipe '%s' does not exist", name),
			err.Error(),
			"Run 'provkit list' to see the available recipes",
			err,
		)
	}

	cfg, err := config.Load(r.Defaults(), a.opts.ConfigFile)
	if err != nil {
		return recipe.Recipe{}, nil, provErrors.NewConfigError(
			fmt.Sprintf("Configuration for '%s' is invalid", name),
			err.Error(),
			"Check the PROVKIT_* environment variables and the --config file",
			err,
		)
	}
	return r, cfg, nil
}

// Plan builds the step list for name without executing anything.
func (a *App) Plan(name string) (*Plan, error) {
	r, cfg, err := a.Load(name)
	if err != nil {
		return nil, err
	}

	deps, err := a.opts.Deps(cfg)
	if err != nil {
		return nil, provErrors.NewConfigError(
			fmt.Sprintf("Cannot set up '%s'", name),
			err.Error(),
			"Check the source.gitlab_url setting",
			err,
		)
	}

	return &Plan{Recipe: r, Config: cfg, Steps: r.Build(cfg, deps)}, nil
}

// Provision runs the recipe called name. The returned error covers problems
// that prevent a run from starting at all; everything after that is
// described by the Result.
func (a *App) Provision(ctx context.Context, name string) (provision.Result, error) {
	plan, err := a.Plan(name)
	if err != nil {
		return provision.Result{}, err
	}

	slog.Info("Provisioning", "recipe", name, "run", plan.Config.Run.Name, "steps", len(plan.Steps))

	runner := NewRunner(
		provision.Identity{Name: plan.Config.Run.Name, Label: plan.Config.Run.Label},
		provision.Paths{LogPath: plan.Config.Paths.LogFile, StatusPath: plan.Config.Paths.StatusFile},
		a.runnerOptions(plan.Config),
	)
	defer func() {
		if err := runner.Close(); err != nil {
			slog.Warn("Failed to close run log", "error", err)
		}
	}()

	return runner.Run(ctx, plan.Steps), nil
}

func (a *App) runnerOptions(cfg *config.Config) RunnerOptions {
	opts := a.opts.Runner
	if opts.MaxLogSize <= 0 {
		opts.MaxLogSize = cfg.Log.MaxSizeBytes()
	}
	return opts
}

// StatusEntry describes the completion state of one recipe.
type StatusEntry struct {
	Recipe      string
	Label       string
	StatusPath  string
	Done        bool
	RunID       string
	CompletedAt time.Time
}

// Status reports the completion state of the named recipes, or of every
// recipe when names is empty.
func (a *App) Status(names ...string) ([]StatusEntry, error) {
	if len(names) == 0 {
		names = recipe.Names()
	}

	entries := make([]StatusEntry, 0, len(names))
	for _, name := range names {
		r, cfg, err := a.Load(name)
		if err != nil {
			return nil, err
		}

		entry := StatusEntry{
			Recipe:     r.Name,
			Label:      cfg.Run.Label,
			StatusPath: cfg.Paths.StatusFile,
			Done:       flagExists(cfg.Paths.StatusFile),
		}
		if entry.Done {
			marker, err := readCompletionFlag(cfg.Paths.StatusFile)
			if err != nil {
				slog.Warn("Cannot read completion flag", "path", cfg.Paths.StatusFile, "error", err)
			} else if marker != nil {
				entry.RunID = marker.RunID
				entry.CompletedAt = marker.CompletedAt
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Reset removes the completion flag of name so the next run executes again.
// It returns the flag path and whether a flag was removed.
func (a *App) Reset(name string) (string, bool, error) {
	_, cfg, err := a.Load(name)
	if err != nil {
		return "", false, err
	}

	removed, err := removeCompletionFlag(cfg.Paths.StatusFile)
	if err != nil {
		return cfg.Paths.StatusFile, false, provErrors.NewFileSystemError(
			fmt.Sprintf("Cannot reset '%s'", name),
			err.Error(),
			"Check permissions on the status file directory",
			err,
		)
	}
	if removed {
		slog.Info("Removed completion flag", "recipe", name, "path", cfg.Paths.StatusFile)
	}
	return cfg.Paths.StatusFile, removed, nil
}
