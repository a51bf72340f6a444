package app

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const markerStatusOK = "OK"

// CompletionMarker is the content of a completion flag. Only the flag's
// existence decides whether a run is complete; the content is informational.
type CompletionMarker struct {
	Status      string    `json:"status"`
	Run         string    `json:"run"`
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

func newCompletionMarker(run, runID string, startedAt, completedAt time.Time) *CompletionMarker {
	return &CompletionMarker{
		Status:      markerStatusOK,
		Run:         run,
		RunID:       runID,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
}

// flagExists reports whether the completion flag at path exists.
func flagExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// writeCompletionFlag persists marker at path. The file is written under a
// temporary name and renamed into place so a partial flag is never observed.
func writeCompletionFlag(path string, marker *CompletionMarker) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize completion marker: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write completion flag %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write completion flag %s: %w", path, err)
	}
	return nil
}

// readCompletionFlag loads the marker at path. A flag whose content is not a
// marker (for instance one written by hand) yields (nil, nil).
func readCompletionFlag(path string) (*CompletionMarker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read completion flag %s: %w", path, err)
	}

	var marker CompletionMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, nil
	}
	return &marker, nil
}

// removeCompletionFlag deletes the flag at path. It reports whether a flag
// was present.
func removeCompletionFlag(path string) (bool, error) {
	if !flagExists(path) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("failed to remove completion flag %s: %w", path, err)
	}
	return true, nil
}
