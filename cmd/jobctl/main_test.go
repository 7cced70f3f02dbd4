package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/rul-predictor/client-go/internal/model"
	"github.com/example/rul-predictor/client-go/internal/store"
)

func newBackend(t *testing.T, resultCode int, body string) string {
	t.Helper()
	for _, key := range []string{"RUL_START_PATH", "RUL_RESULTS_PATH", "RUL_REQUEST_TIMEOUT"} {
		t.Setenv(key, "")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			_, _ = w.Write([]byte(`"abc123"`))
		case "/results/abc123":
			w.WriteHeader(resultCode)
			_, _ = w.Write([]byte(body))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func onlyRun(t *testing.T, dir string) model.Run {
	t.Helper()
	runs, err := store.Open(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer runs.Close()
	list, err := runs.ListRuns(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("runs = %+v, want one", list)
	}
	return list[0]
}

func TestRunPrintsStatus(t *testing.T) {
	url := newBackend(t, http.StatusOK, `{"rul": 17}`)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-backend", url, "/data/input.csv"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, stderr: %s", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != `{"rul": 17}` {
		t.Fatalf("stdout = %q", got)
	}
}

func TestRunRecordsFatalPoll(t *testing.T) {
	url := newBackend(t, http.StatusNotFound, `{"detail":"unknown job"}`)
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-backend", url, "-record", "-data-dir", dir, "/data/input.csv"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout = %q, want empty", stdout.String())
	}

	got := onlyRun(t, dir)
	if got.Phase != model.PhaseFailed || got.JobID != "abc123" || got.Attempts != 1 {
		t.Fatalf("run = %+v, want failed after one attempt", got)
	}
}

func TestRunInterruptedRecordsClose(t *testing.T) {
	url := newBackend(t, http.StatusAccepted, `{"status":"processing"}`)
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"-backend", url, "-interval", "1h", "-record", "-data-dir", dir, "/data/input.csv"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}

	got := onlyRun(t, dir)
	if got.Phase != model.PhaseFailed || got.Error != "controller closed" {
		t.Fatalf("run = %+v, want failed by close", got)
	}
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), nil, &stdout, &stderr); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "usage: jobctl") {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if code := run(context.Background(), []string{"-bogus"}, &stdout, &stderr); code != 2 {
		t.Fatalf("unknown flag exit = %d, want 2", code)
	}
}
