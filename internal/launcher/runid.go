package launcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"carina/internal/atomicfile"
)

// RunIDFileName is the scenario-directory file the Event Store worker
// writes once it has created the run row, and the Central Controller and
// Learning Core both wait on before starting their own loops — the
// run_id every subsequent log_episode/log_report payload is tagged with
// has to come from the one process that owns the database connection.
const RunIDFileName = "run_id.json"

type runIDFile struct {
	RunID int64 `json:"run_id"`
}

// WriteRunID atomically publishes runID for other processes to read.
func WriteRunID(scenarioDir string, runID int64) error {
	return atomicfile.WriteJSON(filepath.Join(scenarioDir, RunIDFileName), runIDFile{RunID: runID})
}

// WaitForRunID polls scenarioDir for the run-id file the Event Store
// worker publishes at startup, the same "missing file treated as empty,
// retry" convention used throughout this tree's atomic state files.
func WaitForRunID(ctx context.Context, scenarioDir string, pollInterval time.Duration) (int64, error) {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	path := filepath.Join(scenarioDir, RunIDFileName)
	for {
		var f runIDFile
		ok, err := atomicfile.ReadJSON(path, &f)
		if err != nil {
			return 0, fmt.Errorf("wait for run id: %w", err)
		}
		if ok {
			return f.RunID, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
