package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Phase is the controller's position in the submit/poll state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further polling happens in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

var (
	ErrNotFound    = errors.New("not found")
	ErrEmptyJobID  = errors.New("start endpoint returned an empty job id")
	ErrPollLimit   = errors.New("poll attempt limit reached")
	ErrPollTimeout = errors.New("poll timeout exceeded")
	ErrNotStarted  = errors.New("no job submitted")
)

// JobID is the opaque handle returned by the start endpoint.
type JobID string

// JobRequest is the body of a start call.
type JobRequest struct {
	Filepath string `json:"filepath"`
}

// UIState is what the view layer renders. Only the controller writes it.
type UIState struct {
	SubmitButtonText string          `json:"submitButtonText"`
	Loading          bool            `json:"loading"`
	Phase            Phase           `json:"phase"`
	JobID            JobID           `json:"jobId,omitempty"`
	Status           json.RawMessage `json:"status,omitempty"`
	Error            string          `json:"error,omitempty"`
	Attempts         int             `json:"attempts"`
}

// Run is the local history record of a single submission.
//
// - ID is generated locally before the job id is known.
// - ResultKey is the blob key of the archived 200 body.
type Run struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Filepath  string    `json:"filepath"`
	JobID     JobID     `json:"jobId,omitempty"`
	Phase     Phase     `json:"phase"`
	Attempts  int       `json:"attempts"`
	ResultKey string    `json:"resultKey,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// RunPatch is used for partial updates.
type RunPatch struct {
	JobID     *string
	Phase     *string
	Attempts  *int
	ResultKey *string
	Error     *string
}
