package queue

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/cuemby/herald/pkg/types"
)

// JobState is the lifecycle position of a job
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Job is one unit of work stored in the queue
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	Opts         JobOptions      `json:"opts"`
	State        JobState        `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	RunAt        time.Time       `json:"runAt"`
	LockedUntil  *time.Time      `json:"lockedUntil,omitempty"`
	RepeatKey    string          `json:"repeatKey,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	ReturnValue  string          `json:"returnValue,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

// JobOptions controls retries, delay and repetition of a job
type JobOptions struct {
	Attempts         int               `json:"attempts"`
	Backoff          Backoff           `json:"backoff"`
	RemoveOnComplete bool              `json:"removeOnComplete"`
	Delay            time.Duration     `json:"delay"`
	Repeat           *types.RepeatRule `json:"repeat,omitempty"`
}

// Backoff is an exponential retry delay: Delay * 2^(attempt-1), capped at MaxDelay
type Backoff struct {
	Delay    time.Duration `json:"delay"`
	MaxDelay time.Duration `json:"maxDelay"`
}

// Next returns the wait before retrying after the given failed attempt (1-based)
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 1 {
		return b.cap(b.Delay)
	}
	delay := float64(b.Delay) * math.Pow(2, float64(attempt-1))
	if delay > float64(math.MaxInt64) {
		return b.cap(time.Duration(math.MaxInt64))
	}
	return b.cap(time.Duration(delay))
}

func (b Backoff) cap(d time.Duration) time.Duration {
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Validate checks the backoff configuration
func (b Backoff) Validate() error {
	if b.Delay < 0 {
		return errors.New("backoff delay must be non-negative")
	}
	if b.MaxDelay < 0 {
		return errors.New("backoff max delay must be non-negative")
	}
	if b.MaxDelay > 0 && b.Delay > b.MaxDelay {
		return errors.New("backoff delay cannot be greater than max delay")
	}
	return nil
}

// Result is the outcome of a queue operation. Operations never return errors
// or panic; failures are reported as Success false with a Message.
type Result struct {
	Success  bool   `json:"success"`
	JobID    string `json:"jobId,omitempty"`
	Message  string `json:"message,omitempty"`
	NotFound bool   `json:"-"`
	Job      *Job   `json:"-"`
}

func failure(msg string, err error) Result {
	return Result{Success: false, Message: msg + ": " + err.Error()}
}

func notFound(id string) Result {
	return Result{Success: false, JobID: id, Message: "job not found", NotFound: true}
}

// Outcome is what a handler reports for one attempt
type Outcome struct {
	Success bool
	Message string
}

// Handler processes one attempt of a job
type Handler func(ctx context.Context, job *Job) Outcome

// Patch edits a waiting or delayed job
type Patch struct {
	RunAt *time.Time
	Data  map[string]any // sjson paths, e.g. "user.name"
}

// Settlement reports that a job reached completed or failed-after-retries.
// For repeating jobs NewJobID names the next instance; it is empty when the
// rule has no further runs. For one-shot jobs NewJobID equals OldJobID.
type Settlement struct {
	OldJobID string
	NewJobID string
	Name     string
	State    JobState
	Message  string
	Final    bool // no further instance will run
}

// SettleListener is notified after every settlement
type SettleListener func(ctx context.Context, s Settlement)

// RepeatEntry is a registered repeat rule and its current instance
type RepeatEntry struct {
	Key       string           `json:"key"`
	JobID     string           `json:"jobId"`
	Name      string           `json:"name"`
	Data      json.RawMessage  `json:"data"`
	Opts      JobOptions       `json:"opts"`
	Rule      types.RepeatRule `json:"rule"`
	CreatedAt time.Time        `json:"createdAt"`
}
