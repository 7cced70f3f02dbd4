// Package history persists every submission made by a controller: the run
// row goes to SQLite and the final result body is archived as a blob.
package history

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/example/rul-predictor/client-go/internal/blob"
	"github.com/example/rul-predictor/client-go/internal/model"
	"github.com/example/rul-predictor/client-go/internal/store"
)

type Recorder struct {
	Runs  *store.SQLite
	Blobs blob.LocalFS
}

func (r Recorder) Submitted(ctx context.Context, runID, filepath string) error {
	now := time.Now().UTC()
	return r.Runs.CreateRun(ctx, model.Run{
		ID:        runID,
		CreatedAt: now,
		UpdatedAt: now,
		Filepath:  filepath,
		Phase:     model.PhaseSubmitting,
	})
}

func (r Recorder) Update(ctx context.Context, runID string, patch model.RunPatch) error {
	return r.Runs.UpdateRun(ctx, runID, patch)
}

func (r Recorder) Completed(ctx context.Context, runID string, body []byte) error {
	key, err := r.Blobs.Put(ResultKey(runID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("archive result: %w", err)
	}
	phase := string(model.PhaseDone)
	return r.Runs.UpdateRun(ctx, runID, model.RunPatch{Phase: &phase, ResultKey: &key})
}

// ResultKey is where the final body of a run is archived.
func ResultKey(runID string) string {
	return path.Join("runs", runID, "result.json")
}
