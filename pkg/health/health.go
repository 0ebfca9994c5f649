package health

import (
	"context"
	"time"
)

// CheckType names the probe mechanism
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypePing CheckType = "ping"
)

// Result is the outcome of one probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one dependency
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls how often a dependency is probed and how many failures
// it takes to mark it down.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration

	// Retries is the number of consecutive failures that mark a
	// dependency down
	Retries int

	// StartPeriod ignores failures until the first success or until the
	// period has passed, whichever comes first
	StartPeriod time.Duration
}

// DefaultConfig returns the probe settings used when none are given
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// State is the reported condition of a dependency
type State string

const (
	// StateStarting is a dependency that has not answered yet
	StateStarting State = "starting"
	StateUp       State = "up"
	StateDown     State = "down"
)

// Status is the tracked health of one dependency
type Status struct {
	State    State
	Failures int
	Last     Result

	// Since is when State last changed
	Since time.Time

	started time.Time
}

func newStatus(now time.Time) *Status {
	return &Status{State: StateStarting, Since: now, started: now}
}

// Healthy reports whether the dependency counts as available. A starting
// dependency is given the benefit of the doubt.
func (s *Status) Healthy() bool {
	return s.State != StateDown
}

// observe folds r into the status and reports whether State changed
func (s *Status) observe(r Result, cfg Config) bool {
	prev := s.State
	s.Last = r

	switch {
	case r.Healthy:
		s.Failures = 0
		s.State = StateUp
	case s.State == StateStarting && cfg.StartPeriod > 0 && r.CheckedAt.Sub(s.started) < cfg.StartPeriod:
		// still warming up
	default:
		s.Failures++
		if s.Failures >= cfg.Retries {
			s.State = StateDown
		}
	}

	if s.State == prev {
		return false
	}
	s.Since = r.CheckedAt
	return true
}
