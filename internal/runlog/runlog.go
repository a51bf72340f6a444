package runlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

const (
	// DefaultMaxSize is the size at which a log is rotated before opening.
	DefaultMaxSize = 10 * 1024 * 1024 // 10MB
	maxFiles       = 5
)

// Open rotates the log at path if it has reached maxSize bytes and then
// opens it for appending, creating it if needed. Rotation only ever happens
// here, so a log stays append-only for the lifetime of the process.
func Open(path string, maxSize int64) (*os.File, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := CheckRotation(path, maxSize); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to rotate log file: %v\n", err)
	}
	return Append(path)
}

// Append opens the log at path for appending without rotating it.
func Append(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// CheckRotation rotates the log at path when it is at least maxSize bytes.
func CheckRotation(path string, maxSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		// Nothing to rotate yet.
		return nil
	}
	if info.Size() >= maxSize {
		return Rotate(path)
	}
	return nil
}

// Rotate shifts path.1..path.4 up by one, drops path.5 and moves path to
// path.1.
func Rotate(path string) error {
	oldest := fmt.Sprintf("%s.%d", path, maxFiles)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			slog.Warn("Failed to remove old log file", "path", oldest, "error", err)
		}
	}

	for i := maxFiles - 1; i > 0; i-- {
		oldPath := fmt.Sprintf("%s.%d", path, i)
		newPath := fmt.Sprintf("%s.%d", path, i+1)
		if _, err := os.Stat(oldPath); err == nil {
			if err := os.Rename(oldPath, newPath); err != nil {
				slog.Warn("Failed to rotate log file", "old", oldPath, "new", newPath, "error", err)
			}
		}
	}

	if _, err := os.Stat(path); err == nil {
		return os.Rename(path, path+".1")
	}
	return nil
}

// Logger narrates one provisioning run into a human-readable text log.
// Once Begin is called every entry carries the run-start timestamp rather
// than the time it was written.
type Logger struct {
	w     io.Writer
	name  string
	start time.Time
	base  *slog.Logger
}

// New creates a run logger writing to w for the run called name.
func New(w io.Writer, name string) *Logger {
	l := &Logger{w: w, name: name}
	l.base = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: l.replaceAttr,
	})).With("run", name)
	return l
}

func (l *Logger) replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && !l.start.IsZero() {
		return slog.Time(slog.TimeKey, l.start)
	}
	return a
}

// Begin pins the run timestamp and tags subsequent entries with runID.
func (l *Logger) Begin(start time.Time, runID string) {
	l.start = start
	l.base = l.base.With("run_id", runID)
}

// Start returns the pinned run timestamp, zero before Begin.
func (l *Logger) Start() time.Time {
	return l.start
}

// Info records an informational entry.
func (l *Logger) Info(msg string, args ...any) {
	l.base.Info(msg, args...)
}

// Failure records msg at error level with the failure marker.
func (l *Logger) Failure(msg string, args ...any) {
	l.base.Error("** "+msg, args...)
}
