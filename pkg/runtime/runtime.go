package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Command describes a subprocess invocation as an explicit argument list.
// Nothing in a Command is ever passed through a shell.
type Command struct {
	Name string
	Args []string
	Env  map[string]string
	Dir  string
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Commander defines the contract for running host commands.
// The returned reader streams combined output; Close waits for the command
// and reports its exit status as an *ExitError.
type Commander interface {
	Run(ctx context.Context, cmd Command) (io.ReadCloser, error)
}

// ExitError reports a command that ran and exited with a non-zero code.
type ExitError struct {
	Command string
	Code    int
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code carried by err, defaulting to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}
