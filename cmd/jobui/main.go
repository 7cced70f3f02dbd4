package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/example/rul-predictor/client-go/internal/blob"
	"github.com/example/rul-predictor/client-go/internal/config"
	"github.com/example/rul-predictor/client-go/internal/controller"
	"github.com/example/rul-predictor/client-go/internal/history"
	"github.com/example/rul-predictor/client-go/internal/httpapi"
	"github.com/example/rul-predictor/client-go/internal/jobapi"
	"github.com/example/rul-predictor/client-go/internal/store"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "runs.db")
	runs, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("open run store: %v", err)
	}
	defer runs.Close()

	blobStore := blob.LocalFS{Root: cfg.DataDir}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	api := &jobapi.Client{
		BaseURL:     cfg.BackendURL,
		StartPath:   cfg.StartPath,
		ResultsPath: cfg.ResultsPath,
		Logger:      logger,
	}
	ctrl := controller.New(api, controller.Options{
		Interval:       cfg.PollInterval,
		MaxAttempts:    cfg.MaxAttempts,
		Timeout:        cfg.PollTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Recorder:       history.Recorder{Runs: runs, Blobs: blobStore},
		Logger:         logger,
	})
	defer ctrl.Close()

	server := httpapi.Server{
		Controller: ctrl,
		Runs:       runs,
		Blobs:      blobStore,
	}
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Router()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("UI listening on %s (backend=%s, interval=%s)", cfg.Addr, cfg.BackendURL, cfg.PollInterval)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
}
