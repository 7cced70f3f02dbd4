package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/rul-predictor/client-go/internal/blob"
	"github.com/example/rul-predictor/client-go/internal/config"
	"github.com/example/rul-predictor/client-go/internal/controller"
	"github.com/example/rul-predictor/client-go/internal/history"
	"github.com/example/rul-predictor/client-go/internal/jobapi"
	"github.com/example/rul-predictor/client-go/internal/store"
)

func main() {
	config.LoadDotEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run returns the exit code so deferred teardown always happens first.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	logf := log.New(stderr, "", log.LstdFlags).Printf

	flags := flag.NewFlagSet("jobctl", flag.ContinueOnError)
	flags.SetOutput(stderr)
	backend := flags.String("backend", cfg.BackendURL, "Backend base URL")
	interval := flags.Duration("interval", cfg.PollInterval, "Delay between status polls")
	maxAttempts := flags.Int("max-attempts", cfg.MaxAttempts, "Give up after this many polls (0 = never)")
	timeout := flags.Duration("timeout", cfg.PollTimeout, "Give up after polling this long (0 = never)")
	record := flags.Bool("record", false, "Record the run in the data dir history")
	dataDir := flags.String("data-dir", cfg.DataDir, "History directory used with -record")
	verbose := flags.Bool("v", false, "Log every poll")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: jobctl [flags] <filepath>")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts := controller.Options{
		Interval:       *interval,
		MaxAttempts:    *maxAttempts,
		Timeout:        *timeout,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	}
	if *record {
		if err := os.MkdirAll(*dataDir, 0o755); err != nil {
			logf("mkdir data dir: %v", err)
			return 1
		}
		runs, err := store.Open(filepath.Join(*dataDir, "runs.db"))
		if err != nil {
			logf("open run store: %v", err)
			return 1
		}
		defer runs.Close()
		opts.Recorder = history.Recorder{Runs: runs, Blobs: blob.LocalFS{Root: *dataDir}}
	}

	ctrl := controller.New(&jobapi.Client{
		BaseURL:     *backend,
		StartPath:   cfg.StartPath,
		ResultsPath: cfg.ResultsPath,
		Logger:      logger,
	}, opts)
	defer ctrl.Close()

	if err := ctrl.Submit(ctx, flags.Arg(0)); err != nil {
		logf("submit failed: %v", err)
		return 1
	}
	state, err := ctrl.Wait(ctx)
	if err != nil {
		logf("job %s did not complete: %v", state.JobID, err)
		return 1
	}
	fmt.Fprintln(stdout, string(state.Status))
	return 0
}
