package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/rul-predictor/client-go/internal/blob"
	"github.com/example/rul-predictor/client-go/internal/controller"
	"github.com/example/rul-predictor/client-go/internal/model"
	"github.com/example/rul-predictor/client-go/internal/store"
)

// Server is the view surface over a single controller: a filepath input and
// a status display, plus the run history.
type Server struct {
	Controller *controller.Controller
	Runs       *store.SQLite // optional
	Blobs      blob.LocalFS
}

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/submit", s.handleSubmit)
		r.Get("/state", s.handleState)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/result", s.handleGetResult)
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req model.JobRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
			return
		}
	} else {
		req.Filepath = r.FormValue("filepath")
	}

	if err := s.Controller.Submit(r.Context(), req.Filepath); err != nil {
		writeErr(w, submitStatus(err), fmt.Errorf("submit job: %w", err))
		return
	}

	writeJSON(w, http.StatusAccepted, s.Controller.State())
}

func (s Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Controller.State())
}

func (s Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.Runs == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("run history is not configured"))
		return
	}

	var phase *model.Phase
	if raw := strings.TrimSpace(r.URL.Query().Get("phase")); raw != "" {
		parsed := model.Phase(raw)
		switch parsed {
		case model.PhaseSubmitting, model.PhasePolling, model.PhaseDone, model.PhaseFailed:
			phase = &parsed
		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid phase: %s", raw))
			return
		}
	}

	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", raw))
			return
		}
		if value > 100 {
			value = 100
		}
		limit = value
	}

	runs, err := s.Runs.ListRuns(r.Context(), phase, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.Runs == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("run history is not configured"))
		return
	}
	run, err := s.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if s.Runs == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("run history is not configured"))
		return
	}
	run, err := s.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	if run.ResultKey == "" || !s.Blobs.Exists(run.ResultKey) {
		writeErr(w, http.StatusNotFound, fmt.Errorf("result not ready"))
		return
	}
	f, err := s.Blobs.Open(run.ResultKey)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	contentType := "application/json"
	if !json.Valid(data) {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// submitStatus maps a failed submission to a response code. Only backend
// failures are reported as a bad gateway.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, controller.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, controller.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func statusFor(err error) int {
	if errors.Is(err, model.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
