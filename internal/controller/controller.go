package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/rul-predictor/client-go/internal/jobapi"
	"github.com/example/rul-predictor/client-go/internal/model"
)

const (
	DefaultInterval = 2 * time.Second

	buttonIdle    = "Submit"
	buttonLoading = "Loading..."
)

var (
	// ErrSuperseded finishes a sequence replaced by a newer Submit.
	ErrSuperseded = errors.New("superseded by a newer submission")
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("controller closed")
)

// API is the subset of the backend client the controller needs.
type API interface {
	Start(ctx context.Context, filepath string) (model.JobID, error)
	Result(ctx context.Context, id model.JobID) (jobapi.Response, error)
}

// Recorder receives the lifecycle of each submission. Errors are logged and
// never affect polling.
type Recorder interface {
	Submitted(ctx context.Context, runID, filepath string) error
	Update(ctx context.Context, runID string, patch model.RunPatch) error
	Completed(ctx context.Context, runID string, body []byte) error
}

// Options tunes polling. Zero values keep the unbounded 2s loop.
type Options struct {
	Interval       time.Duration
	MaxAttempts    int
	Timeout        time.Duration
	RequestTimeout time.Duration
	Scheduler      Scheduler
	Recorder       Recorder
	Logger         *slog.Logger
}

// Controller submits one job at a time and polls it to completion.
type Controller struct {
	api  API
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  model.UIState
	gen    uint64
	seq    *sequence
	closed bool
}

// sequence is one submit/poll run. Only the controller touches its fields,
// under mu; done is closed exactly once when it finishes.
type sequence struct {
	runID    string
	jobID    model.JobID
	started  time.Time
	timer    Timer
	finished bool
	err      error
	done     chan struct{}
}

func New(api API, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		api:    api,
		opts:   opts,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		state: model.UIState{
			SubmitButtonText: buttonIdle,
			Phase:            model.PhaseIdle,
		},
	}
}

// State returns a copy of the UI state.
func (c *Controller) State() model.UIState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Submit starts a job for filepath and performs the first poll. A failed
// start is logged and returned; UI status is left alone and polling never
// starts. Later polls run on the scheduler.
func (c *Controller) Submit(ctx context.Context, filepath string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	var prev *sequence
	if c.seq != nil && !c.seq.finished {
		prev = c.seq
		c.endLocked(prev, ErrSuperseded)
	}
	c.seq = nil
	c.state = model.UIState{
		SubmitButtonText: buttonLoading,
		Loading:          true,
		Phase:            model.PhaseSubmitting,
	}
	c.mu.Unlock()

	if prev != nil {
		c.recordEnded(prev.runID, ErrSuperseded)
	}

	runID := uuid.NewString()
	c.log.Info("controller.submit", "run_id", runID, "filepath", filepath)
	c.record("submitted", func(ctx context.Context, r Recorder) error {
		return r.Submitted(ctx, runID, filepath)
	})

	id, err := c.api.Start(ctx, filepath)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		abandoned := ErrSuperseded
		if c.closed {
			abandoned = ErrClosed
		}
		c.mu.Unlock()

		c.log.Warn("controller.submit.abandoned", "run_id", runID, "job_id", id, "error", abandoned)
		c.recordEnded(runID, abandoned)
		return abandoned
	}
	if err != nil {
		c.state.Phase = model.PhaseIdle
		c.state.Loading = false
		c.state.SubmitButtonText = buttonIdle
		c.mu.Unlock()

		c.log.Error("controller.submit.error", "run_id", runID, "error", err)
		c.record("submit failed", func(ctx context.Context, r Recorder) error {
			phase, msg := string(model.PhaseFailed), err.Error()
			return r.Update(ctx, runID, model.RunPatch{Phase: &phase, Error: &msg})
		})
		return err
	}

	seq := &sequence{
		runID:   runID,
		jobID:   id,
		started: c.opts.Scheduler.Now(),
		done:    make(chan struct{}),
	}
	c.seq = seq
	c.state.Phase = model.PhasePolling
	c.state.JobID = id
	c.mu.Unlock()

	c.log.Info("controller.submit.accepted", "run_id", runID, "job_id", id)
	c.record("job accepted", func(ctx context.Context, r Recorder) error {
		jobID, phase := string(id), string(model.PhasePolling)
		return r.Update(ctx, runID, model.RunPatch{JobID: &jobID, Phase: &phase})
	})

	c.poll(seq)
	return nil
}

// Wait blocks until the current sequence finishes and returns the final
// state. A Submit still waiting on the start call is not yet a sequence.
func (c *Controller) Wait(ctx context.Context) (model.UIState, error) {
	c.mu.Lock()
	seq := c.seq
	c.mu.Unlock()
	if seq == nil {
		return c.State(), model.ErrNotStarted
	}

	select {
	case <-seq.done:
		return c.State(), seq.err
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// Close stops any pending poll. In-flight requests are abandoned.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var ended *sequence
	if c.seq != nil && !c.seq.finished {
		ended = c.seq
		c.endLocked(ended, ErrClosed)
	}
	if c.state.Phase == model.PhaseSubmitting {
		c.state.Phase = model.PhaseIdle
	}
	c.state.Loading = false
	c.state.SubmitButtonText = buttonIdle
	c.cancel()
	c.mu.Unlock()

	if ended != nil {
		c.recordEnded(ended.runID, ErrClosed)
	}
	return nil
}

func (c *Controller) poll(seq *sequence) {
	if !c.live(seq) {
		return
	}

	ctx := c.ctx
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}
	resp, err := c.api.Result(ctx, seq.jobID)

	c.mu.Lock()
	if c.seq != seq || seq.finished {
		c.mu.Unlock()
		return
	}
	c.state.Attempts++
	attempts := c.state.Attempts

	switch {
	case err != nil && c.ctx.Err() != nil:
		c.endLocked(seq, ErrClosed)
		c.mu.Unlock()
		c.recordEnded(seq.runID, ErrClosed)
		return
	case err != nil:
		c.log.Warn("controller.poll.error", "job_id", seq.jobID, "attempt", attempts, "error", err)
	case resp.Code == 202:
		c.log.Info("controller.poll.processing", "job_id", seq.jobID, "status", resp.Code, "data", string(resp.Body))
	case resp.Code == 200:
		c.log.Info("controller.poll.complete", "job_id", seq.jobID, "attempt", attempts, "data", string(resp.Body))
		c.state.Status = statusBody(resp.Body)
		c.finishLocked(seq, model.PhaseDone, nil)
		c.mu.Unlock()

		body := resp.Body
		c.record("result", func(ctx context.Context, r Recorder) error {
			if err := r.Update(ctx, seq.runID, model.RunPatch{Attempts: &attempts}); err != nil {
				return err
			}
			return r.Completed(ctx, seq.runID, body)
		})
		return
	default:
		serr := &jobapi.StatusError{Op: "poll result", Code: resp.Code, Body: resp.Body}
		if !serr.Transient() {
			c.log.Error("controller.poll.failed", "job_id", seq.jobID, "status", resp.Code, "data", string(resp.Body))
			c.failLocked(seq, serr, attempts)
			return
		}
		c.log.Warn("controller.poll.retry", "job_id", seq.jobID, "status", resp.Code, "attempt", attempts)
	}

	if c.opts.MaxAttempts > 0 && attempts >= c.opts.MaxAttempts {
		c.failLocked(seq, model.ErrPollLimit, attempts)
		return
	}
	if c.opts.Timeout > 0 && c.opts.Scheduler.Now().Sub(seq.started) >= c.opts.Timeout {
		c.failLocked(seq, model.ErrPollTimeout, attempts)
		return
	}

	seq.timer = c.opts.Scheduler.AfterFunc(c.opts.Interval, func() { c.poll(seq) })
	c.mu.Unlock()

	c.record("attempt", func(ctx context.Context, r Recorder) error {
		return r.Update(ctx, seq.runID, model.RunPatch{Attempts: &attempts})
	})
}

// failLocked finishes seq as failed and releases mu.
func (c *Controller) failLocked(seq *sequence, err error, attempts int) {
	c.finishLocked(seq, model.PhaseFailed, err)
	c.mu.Unlock()

	c.log.Error("controller.poll.stopped", "job_id", seq.jobID, "attempt", attempts, "error", err)
	c.record("failure", func(ctx context.Context, r Recorder) error {
		phase, msg := string(model.PhaseFailed), err.Error()
		return r.Update(ctx, seq.runID, model.RunPatch{Phase: &phase, Attempts: &attempts, Error: &msg})
	})
}

func (c *Controller) finishLocked(seq *sequence, phase model.Phase, err error) {
	c.endLocked(seq, err)
	c.state.Phase = phase
	c.state.Loading = false
	c.state.SubmitButtonText = buttonIdle
	if err != nil {
		c.state.Error = err.Error()
	}
}

// endLocked cancels the pending timer and releases waiters. Safe to call
// on an already stopped timer.
func (c *Controller) endLocked(seq *sequence, err error) {
	if seq.timer != nil {
		seq.timer.Stop()
		seq.timer = nil
	}
	seq.finished = true
	seq.err = err
	close(seq.done)
}

func (c *Controller) live(seq *sequence) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq == seq && !seq.finished
}

func (c *Controller) snapshotLocked() model.UIState {
	out := c.state
	if c.state.Status != nil {
		out.Status = append(json.RawMessage(nil), c.state.Status...)
	}
	return out
}

// recordEnded marks a run that stopped without a result of its own.
func (c *Controller) recordEnded(runID string, err error) {
	c.record("ended", func(ctx context.Context, r Recorder) error {
		phase, msg := string(model.PhaseFailed), err.Error()
		return r.Update(ctx, runID, model.RunPatch{Phase: &phase, Error: &msg})
	})
}

func (c *Controller) record(what string, fn func(context.Context, Recorder) error) {
	if c.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx, c.opts.Recorder); err != nil {
		c.log.Warn("controller.record.error", "event", what, "error", err)
	}
}

// statusBody keeps JSON bodies verbatim and quotes anything else.
func statusBody(body []byte) json.RawMessage {
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
