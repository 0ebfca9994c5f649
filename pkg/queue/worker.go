package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/cuemby/herald/pkg/recurrence"
	bolt "go.etcd.io/bbolt"
)

// Start begins the worker loop. Handlers run with ctx; cancelling it leaves
// in-flight jobs active so their leases are reclaimed on the next start.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Stop stops the worker loop and waits for in-flight handlers
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	q.wg.Wait()
}

func (q *Queue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// run is the main worker loop
func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	q.logger.Info().
		Int("concurrency", q.cfg.Concurrency).
		Dur("poll_interval", q.cfg.PollInterval).
		Msg("Queue worker started")

	for {
		q.dispatch(ctx)

		select {
		case <-ticker.C:
		case <-q.wakeCh:
		case <-ctx.Done():
			q.logger.Info().Msg("Queue worker stopped")
			return
		case <-q.stopCh:
			q.logger.Info().Msg("Queue worker stopped")
			return
		}
	}
}

// dispatch claims due jobs up to the free worker slots and starts them
func (q *Queue) dispatch(ctx context.Context) {
	free := q.cfg.Concurrency - int(q.inflight.Load())

	claimed, expired, err := q.claim(free)
	if err != nil {
		q.logger.Error().Err(err).Msg("Failed to claim jobs")
		return
	}

	for _, id := range expired {
		q.logger.Warn().Str("job_id", id).Msg("Reclaiming job with expired lease")
		q.finish(ctx, id, Outcome{Success: false, Message: "lease expired"})
	}

	for _, job := range claimed {
		q.mu.RLock()
		h := q.handlers[job.Name]
		q.mu.RUnlock()

		q.inflight.Add(1)
		q.wg.Add(1)
		go q.execute(ctx, job, h)
	}
}

// claim moves due jobs to active with a lease in one transaction and
// collects active jobs whose lease expired without a running handler.
func (q *Queue) claim(free int) ([]*Job, []string, error) {
	var claimed []*Job
	var expired []string

	err := q.db.Update(func(tx *bolt.Tx) error {
		now := q.now().UTC()
		var due []*Job

		c := tx.Bucket(bucketJobs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to decode job %s: %w", k, err)
			}
			switch job.State {
			case StateWaiting, StateDelayed:
				if !job.RunAt.After(now) {
					due = append(due, &job)
				}
			case StateActive:
				if job.LockedUntil != nil && job.LockedUntil.Before(now) && !q.isRunning(job.ID) {
					expired = append(expired, job.ID)
				}
			}
		}

		sort.SliceStable(due, func(i, j int) bool {
			if due[i].RunAt.Equal(due[j].RunAt) {
				return due[i].ID < due[j].ID
			}
			return due[i].RunAt.Before(due[j].RunAt)
		})
		if len(due) > free {
			due = due[:max(free, 0)]
		}

		lease := now.Add(q.cfg.LockTimeout)
		for _, job := range due {
			job.State = StateActive
			job.AttemptsMade++
			job.LockedUntil = &lease
			job.UpdatedAt = now
			if err := putJob(tx, job); err != nil {
				return err
			}
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	q.runningMu.Lock()
	for _, job := range claimed {
		q.running[job.ID] = struct{}{}
	}
	q.runningMu.Unlock()

	return claimed, expired, nil
}

func (q *Queue) isRunning(id string) bool {
	q.runningMu.Lock()
	defer q.runningMu.Unlock()
	_, ok := q.running[id]
	return ok
}

// execute runs one attempt and settles it
func (q *Queue) execute(ctx context.Context, job *Job, h Handler) {
	defer q.wg.Done()
	defer q.inflight.Add(-1)
	defer func() {
		q.runningMu.Lock()
		delete(q.running, job.ID)
		q.runningMu.Unlock()
		q.wake()
	}()

	logger := log.ForJob(q.logger, job.ID, job.Name, job.AttemptsMade)

	timer := metrics.NewTimer()
	outcome := q.invoke(ctx, job, h)
	timer.ObserveDurationVec(metrics.JobDuration, job.Name)
	metrics.JobsProcessed.WithLabelValues(job.Name, metrics.Outcome(outcome.Success)).Inc()

	if ctx.Err() != nil {
		logger.Warn().Msg("Worker context cancelled, leaving job for lease recovery")
		return
	}

	if !outcome.Success {
		logger.Warn().Str("reason", outcome.Message).Msg("Job attempt failed")
	} else {
		logger.Debug().Msg("Job attempt succeeded")
	}

	q.finish(ctx, job.ID, outcome)
}

// invoke calls the handler, converting panics and timeouts into failures
func (q *Queue) invoke(ctx context.Context, job *Job, h Handler) Outcome {
	if h == nil {
		return Outcome{Success: false, Message: fmt.Sprintf("no handler registered for job %s", job.Name)}
	}

	jobCtx := ctx
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Outcome{Success: false, Message: fmt.Sprintf("handler panicked: %v", r)}
			}
		}()
		done <- h(jobCtx, job)
	}()

	select {
	case out := <-done:
		return out
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return Outcome{Success: false, Message: fmt.Sprintf("job timed out after %s", q.cfg.JobTimeout)}
		}
		return Outcome{Success: false, Message: "job cancelled"}
	}
}

// finish records the outcome of an active job. A failure with attempts left
// is rescheduled with backoff under the same id; anything else settles.
func (q *Queue) finish(ctx context.Context, id string, outcome Outcome) {
	var settled *Settlement

	err := q.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, id)
		if errors.Is(err, errJobNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if job.State != StateActive {
			return nil
		}

		now := q.now().UTC()
		job.LockedUntil = nil
		job.UpdatedAt = now

		if !outcome.Success && job.AttemptsMade < job.Opts.Attempts {
			job.State = StateDelayed
			job.FailedReason = outcome.Message
			job.RunAt = now.Add(job.Opts.Backoff.Next(job.AttemptsMade))
			return putJob(tx, job)
		}

		job.FinishedAt = &now
		if outcome.Success {
			job.State = StateCompleted
			job.ReturnValue = outcome.Message
		} else {
			job.State = StateFailed
			job.FailedReason = outcome.Message
		}

		if outcome.Success && job.Opts.RemoveOnComplete {
			if err := tx.Bucket(bucketJobs).Delete([]byte(id)); err != nil {
				return err
			}
		} else if err := putJob(tx, job); err != nil {
			return err
		}

		settled = &Settlement{
			OldJobID: id,
			NewJobID: id,
			Name:     job.Name,
			State:    job.State,
			Message:  outcome.Message,
			Final:    true,
		}
		if job.RepeatKey != "" {
			return q.advance(tx, job, now, settled)
		}
		return nil
	})
	if err != nil {
		q.logger.Error().Err(err).Str("job_id", id).Msg("Failed to record job outcome")
		return
	}
	if settled == nil {
		return
	}

	q.logger.Info().
		Str("job_id", id).
		Str("next_job_id", settled.NewJobID).
		Str("state", string(settled.State)).
		Bool("final", settled.Final).
		Msg("Job settled")

	q.notify(ctx, *settled)
}

// advance creates the next instance of a repeat rule, or retires the rule
// when it has no further run inside its bounds.
func (q *Queue) advance(tx *bolt.Tx, job *Job, now time.Time, s *Settlement) error {
	s.NewJobID = ""

	entry, err := getRepeat(tx, job.RepeatKey)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	after := now
	if job.RunAt.After(after) {
		after = job.RunAt
	}
	next, ok := recurrence.NextRun(&entry.Rule, after)
	if !ok {
		return tx.Bucket(bucketRepeats).Delete([]byte(entry.Key))
	}

	instance := &Job{
		ID:        newJobID(),
		Name:      entry.Name,
		Data:      entry.Data,
		Opts:      entry.Opts,
		State:     StateDelayed,
		RunAt:     next,
		RepeatKey: entry.Key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	entry.JobID = instance.ID
	if err := putRepeat(tx, entry); err != nil {
		return err
	}
	if err := putJob(tx, instance); err != nil {
		return err
	}

	s.NewJobID = instance.ID
	s.Final = false
	return nil
}

func (q *Queue) notify(ctx context.Context, s Settlement) {
	q.mu.RLock()
	l := q.listener
	q.mu.RUnlock()
	if l == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().
				Str("job_id", s.OldJobID).
				Interface("panic", r).
				Msg("Settle listener panicked")
		}
	}()
	l(ctx, s)
}
