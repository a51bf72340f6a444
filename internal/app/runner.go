package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	provErrors "provkit/internal/errors"
	"provkit/internal/runlog"
	"provkit/internal/ui"
	"provkit/pkg/provision"
	"provkit/pkg/runtime"
)

// RunnerOptions tunes a Runner. Zero values select the defaults.
type RunnerOptions struct {
	// MaxLogSize is the size in bytes at which the log is rotated on open.
	MaxLogSize int64
	// ScratchParent is where scratch directories are created.
	ScratchParent string
	Clock         func() time.Time
	NewRunID      func() string
	Console       *ui.Console
}

// Runner executes one named, idempotent, logged sequence of steps.
type Runner struct {
	identity provision.Identity
	paths    provision.Paths
	opts     RunnerOptions

	logFile *os.File
	log     *runlog.Logger
}

// NewRunner creates a Runner for identity persisting its state at paths.
func NewRunner(identity provision.Identity, paths provision.Paths, opts RunnerOptions) *Runner {
	if opts.MaxLogSize <= 0 {
		opts.MaxLogSize = runlog.DefaultMaxSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	if opts.Console == nil {
		opts.Console = ui.NewConsole()
	}
	return &Runner{identity: identity, paths: paths, opts: opts}
}

// Prepare creates the log and status directories and opens the log for
// appending. It is a no-op once it has succeeded. Failures are returned as
// *errors.PrepareError.
func (r *Runner) Prepare() error {
	if r.log != nil {
		return nil
	}

	for _, dir := range []string{filepath.Dir(r.paths.LogPath), filepath.Dir(r.paths.StatusPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &provErrors.PrepareError{Kind: provErrors.ErrDirectoryUnavailable, Path: dir, Err: err}
		}
	}

	f, err := runlog.Open(r.paths.LogPath, r.opts.MaxLogSize)
	if err != nil {
		return &provErrors.PrepareError{Kind: provErrors.ErrLogUnwritable, Path: r.paths.LogPath, Err: err}
	}

	r.logFile = f
	r.log = runlog.New(f, r.identity.Name)
	return nil
}

// CheckAlreadyDone reports whether the completion flag exists.
func (r *Runner) CheckAlreadyDone() bool {
	return flagExists(r.paths.StatusPath)
}

// Close releases the log file.
func (r *Runner) Close() error {
	if r.logFile == nil {
		return nil
	}
	err := r.logFile.Close()
	r.logFile = nil
	r.log = nil
	return err
}

// Run executes steps in order and produces exactly one result. A completed
// run is skipped without executing anything; otherwise the first failing
// step aborts the run and the completion flag is written only when every
// step succeeded. The scratch directory is removed on every return path.
func (r *Runner) Run(ctx context.Context, steps []provision.Step) provision.Result {
	if r.CheckAlreadyDone() {
		r.noteSkip()
		slog.Info("Run already completed", "run", r.identity.Name, "status", r.paths.StatusPath)
		return provision.Skipped()
	}

	if err := r.Prepare(); err != nil {
		// The log may be unusable, so this is reported on stderr only.
		msg := provErrors.Sentence(err)
		r.opts.Console.PrintFailure(msg)
		result := provision.Failed(msg, 1)
		result.Err = err
		return result
	}

	start := r.opts.Clock()
	if start.IsZero() {
		return r.fail(provErrors.NewProvisionError(
			provErrors.ErrClockUnavailable,
			fmt.Sprintf("Cannot determine the start time of %s", r.identity.Label),
			"the clock returned the zero time",
			"Check the host clock and run again.",
			fmt.Errorf("cannot determine the start time of %s; no step was run", r.identity.Label),
		), 1)
	}

	runID := r.opts.NewRunID()
	r.log.Begin(start, runID)
	r.log.Info(fmt.Sprintf("Starting %s.", r.identity.Label), "steps", len(steps))
	slog.Info("Starting run", "run", r.identity.Name, "run_id", runID, "steps", len(steps))

	ws := provision.NewWorkspace(r.opts.ScratchParent, "provkit-"+r.identity.Name+"-*")
	defer func() {
		if err := ws.Close(); err != nil {
			slog.Warn("Failed to remove scratch directory", "error", err)
		}
	}()

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return r.fail(fmt.Errorf("%s was interrupted before %s: %w", r.identity.Label, step.Description, err), 1)
		}

		r.log.Info(step.Description+"...in progress.", "step", i+1)
		slog.Info("Running step", "step", i+1, "description", step.Description)

		if err := step.Action(ctx, ws); err != nil {
			stepErr := provErrors.NewStepError(step.Description, runtime.ExitCode(err), err)
			return r.fail(stepErr, stepErr.ExitCode)
		}
	}

	marker := newCompletionMarker(r.identity.Name, runID, start, r.opts.Clock())
	if err := writeCompletionFlag(r.paths.StatusPath, marker); err != nil {
		return r.fail(provErrors.NewProvisionError(
			provErrors.ErrFlagUnwritable,
			fmt.Sprintf("Cannot write the completion flag of %s", r.identity.Label),
			err.Error(),
			"Check that paths.config_dir is writable.",
			err,
		), 1)
	}

	r.log.Info(fmt.Sprintf("%s completed; flag written to %s.", r.identity.Label, r.paths.StatusPath))
	slog.Info("Run completed", "run", r.identity.Name, "run_id", runID)
	return provision.Succeeded()
}

// noteSkip records the re-run notice. The log is appended to without
// rotation, and a log that cannot be opened does not turn the skip into a
// failure.
func (r *Runner) noteSkip() {
	msg := fmt.Sprintf("%s has already been provisioned (%s exists); re-running is a no-op.", r.identity.Label, r.paths.StatusPath)

	if r.log == nil {
		if err := os.MkdirAll(filepath.Dir(r.paths.LogPath), 0755); err != nil {
			slog.Warn("Cannot record re-run notice", "path", r.paths.LogPath, "error", err)
			return
		}
		f, err := runlog.Append(r.paths.LogPath)
		if err != nil {
			slog.Warn("Cannot record re-run notice", "path", r.paths.LogPath, "error", err)
			return
		}
		r.logFile = f
		r.log = runlog.New(f, r.identity.Name)
	}
	r.log.Info(msg)
}

// fail records err as the run's final entry and on stderr.
func (r *Runner) fail(err error, exitCode int) provision.Result {
	msg := provErrors.Sentence(err)
	r.log.Failure(msg, "exit_code", exitCode)
	r.opts.Console.PrintFailure(msg)
	result := provision.Failed(msg, exitCode)
	result.Err = err
	return result
}
