package errors

import (
	"errors"
	"fmt"
)

var (
	ErrRecipeNotFound       = errors.New("recipe not found")
	ErrConfigInvalid        = errors.New("configuration invalid")
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	ErrLogUnwritable        = errors.New("log unwritable")
	ErrClockUnavailable     = errors.New("clock unavailable")
	ErrStepFailed           = errors.New("step failed")
	ErrFlagUnwritable       = errors.New("completion flag unwritable")
	ErrSCMFailed            = errors.New("SCM operation failed")
	ErrNetworkFailed        = errors.New("network operation failed")
	ErrFileSystemFailed     = errors.New("filesystem operation failed")
)

type ProvisionError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
}

func (e *ProvisionError) Error() string {
	return e.OriginalErr.Error()
}

func (e *ProvisionError) Unwrap() error {
	return e.OriginalErr
}

// Is matches the error against its Type sentinel.
func (e *ProvisionError) Is(target error) bool {
	return target == e.Type
}

func NewProvisionError(errorType error, context, cause, suggestion string, originalErr error) *ProvisionError {
	return &ProvisionError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewRecipeError(context, cause, suggestion string, originalErr error) *ProvisionError {
	return NewProvisionError(ErrRecipeNotFound, context, cause, suggestion, originalErr)
}

func NewConfigError(context, cause, suggestion string, originalErr error) *ProvisionError {
	return NewProvisionError(ErrConfigInvalid, context, cause, suggestion, originalErr)
}

func NewSCMError(context, cause, suggestion string, originalErr error) *ProvisionError {
	return NewProvisionError(ErrSCMFailed, context, cause, suggestion, originalErr)
}

func NewNetworkError(context, cause, suggestion string, originalErr error) *ProvisionError {
	return NewProvisionError(ErrNetworkFailed, context, cause, suggestion, originalErr)
}

func NewFileSystemError(context, cause, suggestion string, originalErr error) *ProvisionError {
	return NewProvisionError(ErrFileSystemFailed, context, cause, suggestion, originalErr)
}

// PrepareError reports a setup failure that happens before the run log is
// usable. Kind is ErrDirectoryUnavailable or ErrLogUnwritable.
type PrepareError struct {
	Kind error
	Path string
	Err  error
}

func (e *PrepareError) Error() string {
	switch e.Kind {
	case ErrDirectoryUnavailable:
		return fmt.Sprintf("cannot create directory %s: %v", e.Path, e.Err)
	case ErrLogUnwritable:
		return fmt.Sprintf("cannot open log file %s for appending: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("cannot prepare %s: %v", e.Path, e.Err)
	}
}

func (e *PrepareError) Unwrap() error {
	return e.Err
}

func (e *PrepareError) Is(target error) bool {
	return target == e.Kind
}

// StepError reports the failure of a named step. ExitCode carries the
// subprocess status when the step ran one, else 1.
type StepError struct {
	Description string
	ExitCode    int
	Err         error
}

func NewStepError(description string, exitCode int, err error) *StepError {
	if exitCode <= 0 {
		exitCode = 1
	}
	return &StepError{Description: description, ExitCode: exitCode, Err: err}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Description, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return target == ErrStepFailed
}

// Sentence renders err as one declarative line ending in a period.
func Sentence(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if msg == "" {
		return msg
	}
	switch msg[len(msg)-1] {
	case '.', '!', '?':
		return msg
	}
	return msg + "."
}
