package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/rul-predictor/client-go/internal/model"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now().UTC()
	run := model.Run{ID: "run-1", CreatedAt: now, UpdatedAt: now, Filepath: "/data/input.csv", Phase: model.PhaseSubmitting}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	jobID, phase, attempts := "abc123", string(model.PhasePolling), 1
	if err := s.UpdateRun(ctx, "run-1", model.RunPatch{JobID: &jobID, Phase: &phase, Attempts: &attempts}); err != nil {
		t.Fatalf("update: %v", err)
	}
	key, done := "runs/run-1/result.json", string(model.PhaseDone)
	if err := s.UpdateRun(ctx, "run-1", model.RunPatch{Phase: &done, ResultKey: &key}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.JobID != "abc123" || got.Phase != model.PhaseDone || got.Attempts != 1 || got.ResultKey != key {
		t.Fatalf("run = %+v", got)
	}
	if got.Filepath != "/data/input.csv" || got.Error != "" {
		t.Fatalf("run = %+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, model.ErrNotFound)
	}
	phase := string(model.PhaseDone)
	if err := s.UpdateRun(context.Background(), "missing", model.RunPatch{Phase: &phase}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("update error = %v, want %v", err, model.ErrNotFound)
	}
}

func TestListRunsFiltersAndLimits(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, phase := range []model.Phase{model.PhaseDone, model.PhaseFailed, model.PhaseDone} {
		ts := base.Add(time.Duration(i) * time.Minute)
		run := model.Run{ID: string(rune('a' + i)), CreatedAt: ts, UpdatedAt: ts, Filepath: "f", Phase: phase}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := s.ListRuns(ctx, nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("runs = %+v, want newest first", all)
	}

	done := model.PhaseDone
	filtered, err := s.ListRuns(ctx, &done, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "c" {
		t.Fatalf("runs = %+v, want [c]", filtered)
	}
}
