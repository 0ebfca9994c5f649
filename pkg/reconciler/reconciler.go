package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/cuemby/herald/pkg/queue"
	"github.com/cuemby/herald/pkg/scheduler"
	"github.com/cuemby/herald/pkg/types"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultInterval is the time between reconciliation cycles
const DefaultInterval = time.Minute

// settleGrace leaves recently finished jobs to the queue's own listener
const settleGrace = 30 * time.Second

// JobReader is the read side of the job queue
type JobReader interface {
	GetJob(ctx context.Context, id string) queue.Result
	ListRepeatRules() ([]*queue.RepeatEntry, error)
}

// ReminderLister lists every stored reminder
type ReminderLister interface {
	ListReminders() ([]*types.Reminder, error)
}

// Stats summarizes one reconciliation cycle
type Stats struct {
	Checked  int
	Repaired int
}

// Reconciler ensures scheduled reminders point at live queue jobs. A
// reminder whose settlement was missed (for example because the process
// stopped between settling a job and updating the reminder) gets that
// settlement replayed through the scheduler's listener.
type Reconciler struct {
	jobs      JobReader
	reminders ReminderLister
	settle    queue.SettleListener
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReconciler creates a new reconciler. settle is normally
// Scheduler.OnSettle.
func NewReconciler(jobs JobReader, reminders ReminderLister, settle queue.SettleListener) *Reconciler {
	return &Reconciler{
		jobs:      jobs,
		reminders: reminders,
		settle:    settle,
		interval:  DefaultInterval,
		logger:    log.WithComponent("reconciler"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// WithInterval sets the time between cycles
func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	r.interval = d
	return r
}

// Start begins the reconciliation loop. The first cycle runs immediately.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop stops the reconciler and waits for the current cycle to finish
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// run is the main reconciliation loop
func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Reconcile(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Reconciliation failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one reconciliation cycle
func (r *Reconciler) Reconcile(ctx context.Context) (Stats, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	var stats Stats

	reminders, err := r.reminders.ListReminders()
	if err != nil {
		return stats, fmt.Errorf("failed to list reminders: %w", err)
	}

	current, err := r.currentInstances()
	if err != nil {
		return stats, err
	}

	for _, reminder := range reminders {
		if reminder.Status != types.ReminderStatusScheduled {
			continue
		}
		stats.Checked++

		st, ok := r.missedSettlement(ctx, reminder, current)
		if !ok {
			continue
		}

		r.logger.Warn().
			Str("reminder_id", reminder.ID).
			Str("job_id", reminder.JobID).
			Str("next_job_id", st.NewJobID).
			Bool("final", st.Final).
			Msg("Replaying missed settlement")
		r.settle(ctx, st)
		metrics.RemindersRepaired.Inc()
		stats.Repaired++
	}

	return stats, nil
}

// currentInstances maps reminder IDs to the pending job of their repeat rule
func (r *Reconciler) currentInstances() (map[string]string, error) {
	entries, err := r.jobs.ListRepeatRules()
	if err != nil {
		return nil, fmt.Errorf("failed to list repeat rules: %w", err)
	}

	current := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Name != scheduler.JobName || e.JobID == "" {
			continue
		}
		if id := gjson.GetBytes(e.Data, "reminderId").String(); id != "" {
			current[id] = e.JobID
		}
	}
	return current, nil
}

// missedSettlement decides whether reminder's job has settled without the
// reminder being updated, and builds the settlement to replay.
func (r *Reconciler) missedSettlement(ctx context.Context, reminder *types.Reminder, current map[string]string) (queue.Settlement, bool) {
	st := queue.Settlement{
		OldJobID: reminder.JobID,
		Name:     scheduler.JobName,
	}
	next, repeating := current[reminder.ID]

	res := r.jobs.GetJob(ctx, reminder.JobID)
	if !res.Success && !res.NotFound {
		r.logger.Debug().Str("job_id", reminder.JobID).Str("error", res.Message).Msg("Job lookup failed")
		return st, false
	}
	if res.Success && !settled(res.Job, r.now()) {
		return st, false
	}

	switch {
	case res.Success && res.Job.RepeatKey == "":
		// One-shot job settled, listener never ran
		st.NewJobID = reminder.JobID
		st.State = res.Job.State
		st.Message = res.Job.FailedReason
		st.Final = true
		return st, true

	case repeating && next != reminder.JobID:
		// Rule advanced past the job the reminder points at
		st.NewJobID = next
		st.State = queue.StateCompleted
		return st, true

	case repeating:
		return st, false

	case res.Success:
		// Repeat rule retired after its last instance
		st.State = res.Job.State
		st.Final = true
		return st, true

	default:
		// Job and rule are both gone
		st.NewJobID = reminder.JobID
		st.State = queue.StateFailed
		st.Message = "job lost"
		st.Final = true
		return st, true
	}
}

// settled reports whether job finished long enough ago that its listener
// should have run
func settled(job *queue.Job, now time.Time) bool {
	if job.State != queue.StateCompleted && job.State != queue.StateFailed {
		return false
	}
	return job.FinishedAt == nil || now.Sub(*job.FinishedAt) >= settleGrace
}
