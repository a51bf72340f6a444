package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"time"

	"provkit/pkg/runtime"
)

// DefaultTimeout bounds every host command unless the caller overrides it.
const DefaultTimeout = 30 * time.Minute

// ExecRuntime implements the Commander interface using local subprocesses.
type ExecRuntime struct {
	timeout time.Duration
}

// NewExecRuntime creates an ExecRuntime. A non-positive timeout selects
// DefaultTimeout.
func NewExecRuntime(timeout time.Duration) *ExecRuntime {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRuntime{timeout: timeout}
}

// Run starts the command and returns a reader over its combined output.
func (e *ExecRuntime) Run(ctx context.Context, command runtime.Command) (io.ReadCloser, error) {
	if command.Name == "" {
		return nil, fmt.Errorf("command name cannot be empty")
	}

	slog.Info("Running command", "command", command.String())

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	cmd := exec.CommandContext(runCtx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = mergeEnv(os.Environ(), command.Env)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		cancel()
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", command.Name, err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		done <- err
	}()

	return &commandReader{
		command: command.String(),
		ctx:     runCtx,
		cancel:  cancel,
		reader:  pr,
		done:    done,
	}, nil
}

// commandReader wraps command output and reports the exit status on Close.
type commandReader struct {
	command string
	ctx     context.Context
	cancel  context.CancelFunc
	reader  *io.PipeReader
	done    chan error
	closed  bool
	result  error
}

// Read reads from the command output.
func (cr *commandReader) Read(p []byte) (int, error) {
	return cr.reader.Read(p)
}

// Close waits for the command to exit and releases its resources.
func (cr *commandReader) Close() error {
	if cr.closed {
		return cr.result
	}
	cr.closed = true
	defer cr.cancel()

	// Unblock the writer if the caller stopped reading early.
	cr.reader.Close()

	err := <-cr.done
	cr.result = cr.interpret(err)
	return cr.result
}

func (cr *commandReader) interpret(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(cr.ctx.Err(), context.DeadlineExceeded) {
		return &runtime.ExitError{Command: cr.command, Code: 1, Err: fmt.Errorf("timed out: %w", err)}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code <= 0 {
			// Killed by a signal.
			code = 1
		}
		return &runtime.ExitError{Command: cr.command, Code: code, Err: err}
	}
	return &runtime.ExitError{Command: cr.command, Code: 1, Err: err}
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := append([]string{}, base...)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return env
}
