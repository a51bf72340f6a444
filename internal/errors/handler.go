package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"provkit/internal/runlog"
	"provkit/internal/ui"
)

type ErrorHandler struct {
	logger  *slog.Logger
	console *ui.Console
}

func NewErrorHandler() (*ErrorHandler, error) {
	logFile, err := createLogFile()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	console := ui.NewConsole()

	return &ErrorHandler{
		logger:  logger,
		console: console,
	}, nil
}

// getOSStandardLogDir returns the OS-standard log directory path
func getOSStandardLogDir() (string, error) {
	// Check for environment variable override first
	if customLogDir := os.Getenv("PROVKIT_LOG_DIR"); customLogDir != "" {
		return customLogDir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", "provkit"), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
			return filepath.Join(stateHome, "provkit", "logs"), nil
		}
		return filepath.Join(homeDir, ".local", "state", "provkit", "logs"), nil
	default:
		// Fallback for unknown OS
		return filepath.Join(homeDir, ".provkit", "logs"), nil
	}
}

// createLogDirectoryWithFallback creates the log directory with fallback to the temp directory
func createLogDirectoryWithFallback() (string, bool, error) {
	var warnings []string
	var fallbackUsed bool

	// Try OS-standard directory first
	logDir, err := getOSStandardLogDir()
	if err == nil {
		if err := os.MkdirAll(logDir, 0750); err == nil {
			// Check if we can write to the directory
			testFile := filepath.Join(logDir, ".test_write")
			if f, testErr := os.Create(testFile); testErr == nil {
				if err := f.Close(); err != nil {
					slog.Warn("Failed to close test file", "path", testFile, "error", err)
				}
				if err := os.Remove(testFile); err != nil {
					slog.Warn("Failed to remove test file", "path", testFile, "error", err)
				}
				return logDir, fallbackUsed, nil
			}
		}
		warnings = append(warnings, fmt.Sprintf("Cannot access standard log directory %s: %v", logDir, err))
	} else {
		warnings = append(warnings, fmt.Sprintf("Cannot determine standard log directory: %v", err))
	}

	// Fallback to the system temp directory
	fallbackDir := os.TempDir()
	fallbackUsed = true
	if len(warnings) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %s. Falling back to %s for logging.\n", warnings[0], fallbackDir)
	}

	return fallbackDir, fallbackUsed, nil
}

func createLogFile() (*os.File, error) {
	logDir, _, err := createLogDirectoryWithFallback()
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := "provkit.log"

	logPath := filepath.Join(logDir, logFileName)

	return runlog.Open(logPath, runlog.DefaultMaxSize)
}

// Handle records err in the tool log and reports it on the console.
func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	h.Record(err)

	var provisionErr *ProvisionError
	if errors.As(err, &provisionErr) {
		h.console.PrintError(h.console.FormatErrorMessage(provisionErr.Context, provisionErr.Cause, provisionErr.Suggestion))
		return
	}
	h.console.PrintError(Sentence(err))
}

// Record writes err to the tool log without printing it. Failed runs have
// already reported themselves on stderr, so their causes are only recorded.
func (h *ErrorHandler) Record(err error) {
	if err == nil {
		return
	}

	var provisionErr *ProvisionError
	var prepareErr *PrepareError
	var stepErr *StepError
	switch {
	case errors.As(err, &prepareErr):
		h.logger.Error("Provisioning run could not be prepared",
			"error", prepareErr.Err.Error(),
			"type", getErrorTypeName(prepareErr.Kind),
			"path", prepareErr.Path,
		)
	case errors.As(err, &stepErr):
		attrs := []any{
			"error", stepErr.Err.Error(),
			"type", getErrorTypeName(ErrStepFailed),
			"step", stepErr.Description,
			"exit_code", stepErr.ExitCode,
		}
		if errors.As(stepErr.Err, &provisionErr) {
			attrs = append(attrs, "cause_type", getErrorTypeName(provisionErr.Type))
		}
		h.logger.Error("Provisioning step failed", attrs...)
	case errors.As(err, &provisionErr):
		h.logStructuredError(provisionErr)
	default:
		h.logger.Error("Unhandled error occurred",
			"error", err.Error(),
			"type", "generic",
		)
	}
}

func (h *ErrorHandler) logStructuredError(err *ProvisionError) {
	logAttrs := []slog.Attr{
		slog.String("error", err.OriginalErr.Error()),
		slog.String("type", getErrorTypeName(err.Type)),
		slog.String("context", err.Context),
	}

	if err.Cause != "" {
		logAttrs = append(logAttrs, slog.String("cause", err.Cause))
	}

	if err.Suggestion != "" {
		logAttrs = append(logAttrs, slog.String("suggestion", err.Suggestion))
	}

	h.logger.LogAttrs(context.TODO(), slog.LevelError, "provkit error occurred", logAttrs...)
}

func getErrorTypeName(errType error) string {
	switch errType {
	case ErrRecipeNotFound:
		return "recipe_not_found"
	case ErrConfigInvalid:
		return "config_invalid"
	case ErrDirectoryUnavailable:
		return "directory_unavailable"
	case ErrLogUnwritable:
		return "log_unwritable"
	case ErrClockUnavailable:
		return "clock_unavailable"
	case ErrStepFailed:
		return "step_failed"
	case ErrFlagUnwritable:
		return "flag_unwritable"
	case ErrSCMFailed:
		return "scm_failed"
	case ErrNetworkFailed:
		return "network_failed"
	case ErrFileSystemFailed:
		return "filesystem_failed"
	default:
		return "unknown"
	}
}
