package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Identity names a provisioning run. Name is used for status and log file
// naming, Label for human-facing messages.
type Identity struct {
	Name  string
	Label string
}

// Paths locates the durable state of a run.
type Paths struct {
	LogPath    string
	StatusPath string
}

// Action performs the side effect of a single step.
type Action func(ctx context.Context, ws *Workspace) error

// Step is one ordered, independently failable unit of provisioning work.
type Step struct {
	Description string
	Action      Action
}

// ResultKind tags the outcome of a run.
type ResultKind string

const (
	ResultSkipped   ResultKind = "skipped"
	ResultSucceeded ResultKind = "succeeded"
	ResultFailed    ResultKind = "failed"
)

// Result is produced exactly once per run. Err is the cause of a failed
// run, when there is one.
type Result struct {
	Kind     ResultKind
	Message  string
	ExitCode int
	Err      error
}

func Skipped() Result   { return Result{Kind: ResultSkipped} }
func Succeeded() Result { return Result{Kind: ResultSucceeded} }

// Failed builds a failed result. Non-positive codes are normalized to 1.
func Failed(message string, exitCode int) Result {
	if exitCode <= 0 {
		exitCode = 1
	}
	return Result{Kind: ResultFailed, Message: message, ExitCode: exitCode}
}

// ProcessExitCode maps a result onto the process exit status: 0 for a
// completed or previously completed run, 1 for any failure.
func (r Result) ProcessExitCode() int {
	if r.Kind == ResultFailed {
		return 1
	}
	return 0
}

func (r Result) String() string {
	if r.Kind == ResultFailed {
		return fmt.Sprintf("%s (exit %d): %s", r.Kind, r.ExitCode, r.Message)
	}
	return string(r.Kind)
}

// Workspace hands steps a scratch directory that is created on first use and
// removed when the owning run finishes.
type Workspace struct {
	parent  string
	pattern string
	dir     string
}

// NewWorkspace returns a workspace whose scratch directory will be created
// under parent (os.TempDir when empty).
func NewWorkspace(parent, pattern string) *Workspace {
	if pattern == "" {
		pattern = "provkit-*"
	}
	return &Workspace{parent: parent, pattern: pattern}
}

// ScratchDir returns the run's scratch directory, creating it if needed.
func (w *Workspace) ScratchDir() (string, error) {
	if w.dir != "" {
		return w.dir, nil
	}
	dir, err := os.MkdirTemp(w.parent, w.pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	slog.Debug("Created scratch directory", "path", dir)
	w.dir = dir
	return dir, nil
}

// Created reports the scratch directory path, or "" if none was created.
func (w *Workspace) Created() string {
	return w.dir
}

// Close removes the scratch directory. It is safe to call more than once.
func (w *Workspace) Close() error {
	if w.dir == "" {
		return nil
	}
	dir := w.dir
	w.dir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove scratch directory %s: %w", dir, err)
	}
	slog.Debug("Removed scratch directory", "path", dir)
	return nil
}
