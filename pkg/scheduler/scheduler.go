package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/herald/pkg/actions"
	"github.com/cuemby/herald/pkg/broadcast"
	"github.com/cuemby/herald/pkg/events"
	"github.com/cuemby/herald/pkg/executor"
	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/cuemby/herald/pkg/queue"
	"github.com/cuemby/herald/pkg/recurrence"
	"github.com/cuemby/herald/pkg/storage"
	"github.com/cuemby/herald/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JobName is the queue job name for reminders
const JobName = "reminder"

// JobQueue is the part of the durable queue the scheduler drives
type JobQueue interface {
	CreateJob(ctx context.Context, name string, data any, opts queue.JobOptions) queue.Result
	RemoveJob(ctx context.Context, id string) queue.Result
	RemoveRepeatableJob(ctx context.Context, id string) queue.Result
}

// PlanRunner executes a task's plan
type PlanRunner interface {
	Run(ctx context.Context, task *types.Task) executor.Report
}

// ReminderRequest describes a reminder to schedule
type ReminderRequest struct {
	UserID          string            `json:"userId" yaml:"userId"`
	TaskDescription string            `json:"taskDescription" yaml:"taskDescription"`
	Time            string            `json:"time,omitempty" yaml:"time,omitempty"`
	OneTimeDate     string            `json:"one_time_date,omitempty" yaml:"one_time_date,omitempty"`
	Recurrence      *types.Recurrence `json:"recurrence,omitempty" yaml:"recurrence,omitempty"`
	Ends            *types.Ends       `json:"ends,omitempty" yaml:"ends,omitempty"`
	Plan            json.RawMessage   `json:"plan,omitempty" yaml:"-"`
}

// Result is the outcome of a reminder operation
type Result struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	ReminderID string          `json:"reminderId,omitempty"`
	JobID      string          `json:"jobId,omitempty"`
	NotFound   bool            `json:"-"`
	Reminder   *types.Reminder `json:"-"`
}

// jobPayload is the data stored on every reminder job
type jobPayload struct {
	ReminderID string `json:"reminderId"`
	UserID     string `json:"userId"`
}

// Scheduler books reminders on the durable queue and runs them when due
type Scheduler struct {
	store    storage.Store
	queue    JobQueue
	compiler *recurrence.Compiler
	sender   broadcast.Sender
	opts     queue.JobOptions
	runner   PlanRunner
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler. opts are the base options of every
// reminder job; the compiled schedule supplies Delay or Repeat.
func NewScheduler(store storage.Store, q JobQueue, compiler *recurrence.Compiler, sender broadcast.Sender, opts queue.JobOptions) *Scheduler {
	return &Scheduler{
		store:    store,
		queue:    q,
		compiler: compiler,
		sender:   sender,
		opts:     opts,
		logger:   log.WithComponent("scheduler"),
	}
}

// SetRunner sets the plan runner used by ProcessReminder.
// The runner's own handlers may schedule reminders, so it is wired after construction.
func (s *Scheduler) SetRunner(r PlanRunner) {
	s.runner = r
}

// ScheduleReminder validates and compiles req, creates the queue job and
// persists the reminder. If persistence fails the job is removed again.
func (s *Scheduler) ScheduleReminder(ctx context.Context, req ReminderRequest) Result {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	if req.UserID == "" {
		return Result{Message: "userId is required"}
	}
	if req.TaskDescription == "" {
		return Result{Message: "taskDescription is required"}
	}
	if len(req.Plan) > 0 {
		if _, err := actions.ParsePlan(req.Plan); err != nil {
			return Result{Message: err.Error()}
		}
	}

	sched, err := s.compiler.Compile(recurrence.Request{
		Time:        req.Time,
		OneTimeDate: req.OneTimeDate,
		Recurrence:  req.Recurrence,
		Ends:        req.Ends,
	})
	if err != nil {
		return Result{Message: err.Error()}
	}

	reminderID := uuid.New().String()
	opts := s.opts
	switch sched.Kind {
	case recurrence.KindOnce:
		opts.Delay = sched.Delay
	case recurrence.KindRepeat:
		opts.Repeat = sched.Repeat
	}

	res := s.queue.CreateJob(ctx, JobName, jobPayload{ReminderID: reminderID, UserID: req.UserID}, opts)
	if !res.Success {
		return Result{Message: res.Message}
	}

	now := time.Now().UTC()
	reminder := &types.Reminder{
		ID:              reminderID,
		JobID:           res.JobID,
		UserID:          req.UserID,
		TaskDescription: req.TaskDescription,
		Time:            req.Time,
		OneTimeDate:     req.OneTimeDate,
		Recurrence:      req.Recurrence,
		Ends:            req.Ends,
		Plan:            req.Plan,
		Status:          types.ReminderStatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateReminder(reminder); err != nil {
		s.removeJob(ctx, res.JobID)
		return Result{Message: fmt.Sprintf("failed to save reminder: %v", err)}
	}

	metrics.RemindersScheduled.Inc()
	s.logger.Info().
		Str("reminder_id", reminderID).
		Str("job_id", res.JobID).
		Str("user_id", req.UserID).
		Str("kind", string(sched.Kind)).
		Msg("Reminder scheduled")

	return Result{Success: true, ReminderID: reminderID, JobID: res.JobID, Reminder: reminder}
}

// removeJob retires the repeat rule behind jobID, or removes jobID itself
// when it is a one-shot job.
func (s *Scheduler) removeJob(ctx context.Context, jobID string) {
	res := s.queue.RemoveRepeatableJob(ctx, jobID)
	if res.NotFound {
		res = s.queue.RemoveJob(ctx, jobID)
	}
	if !res.Success && !res.NotFound {
		s.logger.Error().Str("job_id", jobID).Str("reason", res.Message).Msg("Failed to remove reminder job")
	}
}

// CancelReminder cancels a scheduled reminder owned by userID and removes
// its pending job and repeat rule.
func (s *Scheduler) CancelReminder(ctx context.Context, userID, reminderID string) Result {
	reminder, err := s.GetReminder(ctx, userID, reminderID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{Message: "reminder not found", ReminderID: reminderID, NotFound: true}
	}
	if err != nil {
		return Result{Message: err.Error(), ReminderID: reminderID}
	}
	if !reminder.Status.CanTransition(types.ReminderStatusCancelled) {
		return Result{Message: fmt.Sprintf("reminder is %s", reminder.Status), ReminderID: reminderID}
	}

	s.removeJob(ctx, reminder.JobID)

	reminder.Status = types.ReminderStatusCancelled
	reminder.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateReminder(reminder); err != nil {
		return Result{Message: fmt.Sprintf("failed to save reminder: %v", err), ReminderID: reminderID}
	}

	s.logger.Info().Str("reminder_id", reminderID).Msg("Reminder cancelled")
	s.publish(reminder)
	return Result{Success: true, ReminderID: reminderID, JobID: reminder.JobID, Reminder: reminder}
}

// GetReminder returns a reminder owned by userID
func (s *Scheduler) GetReminder(ctx context.Context, userID, reminderID string) (*types.Reminder, error) {
	reminder, err := s.store.GetReminder(reminderID)
	if err != nil {
		return nil, err
	}
	if reminder.UserID != userID {
		return nil, fmt.Errorf("reminder %w: %s", storage.ErrNotFound, reminderID)
	}
	return reminder, nil
}

// ListReminders returns every reminder owned by userID
func (s *Scheduler) ListReminders(ctx context.Context, userID string) ([]*types.Reminder, error) {
	return s.store.ListRemindersByUser(userID)
}

// OnSettle is the queue settlement listener for reminder jobs. It re-points
// the reminder to the next instance of a repeat rule and records the final
// status once no further instance will run.
func (s *Scheduler) OnSettle(ctx context.Context, st queue.Settlement) {
	if st.Name != JobName {
		return
	}

	var reminder *types.Reminder
	var err error
	if st.NewJobID != "" && st.NewJobID != st.OldJobID {
		reminder, err = s.store.RepointReminderJob(st.OldJobID, st.NewJobID)
	} else {
		reminder, err = s.store.GetReminderByJobID(st.OldJobID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Debug().Str("job_id", st.OldJobID).Msg("Settled job has no reminder")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", st.OldJobID).Msg("Failed to load reminder for settled job")
		return
	}

	if st.Final {
		next := types.ReminderStatusCompleted
		if st.State == queue.StateFailed && st.NewJobID == st.OldJobID {
			next = types.ReminderStatusFailed
		}
		if reminder.Status.CanTransition(next) {
			reminder.Status = next
			reminder.UpdatedAt = time.Now().UTC()
			if err := s.store.UpdateReminder(reminder); err != nil {
				s.logger.Error().Err(err).Str("reminder_id", reminder.ID).Msg("Failed to update reminder status")
				return
			}
		}
	}

	s.logger.Debug().
		Str("reminder_id", reminder.ID).
		Str("job_id", reminder.JobID).
		Str("status", string(reminder.Status)).
		Msg("Reminder settled")
	s.publish(reminder)
}

func (s *Scheduler) publish(reminder *types.Reminder) {
	if s.sender == nil {
		return
	}
	payload, err := json.Marshal(reminder)
	if err != nil {
		return
	}
	err = s.sender.SendToUser(reminder.UserID, &events.Event{
		Type:    events.EventReminderUpdated,
		Payload: payload,
	})
	if err != nil {
		metrics.DeliveryFailures.WithLabelValues("reminder").Inc()
		s.logger.Debug().Err(err).Str("reminder_id", reminder.ID).Msg("Reminder update not delivered")
	}
}

// ProcessReminder is the queue handler for reminder jobs. It runs the
// reminder's plan as a new task; plans without a notification step get one
// appended so every reminder ends by notifying the user.
func (s *Scheduler) ProcessReminder(ctx context.Context, job *queue.Job) queue.Outcome {
	var p jobPayload
	if err := json.Unmarshal(job.Data, &p); err != nil {
		return queue.Outcome{Success: false, Message: fmt.Sprintf("invalid reminder payload: %v", err)}
	}

	reminder, err := s.store.GetReminder(p.ReminderID)
	if errors.Is(err, storage.ErrNotFound) {
		return queue.Outcome{Success: true, Message: "reminder no longer exists"}
	}
	if err != nil {
		return queue.Outcome{Success: false, Message: err.Error()}
	}
	if reminder.Status != types.ReminderStatusScheduled {
		return queue.Outcome{Success: true, Message: fmt.Sprintf("reminder is %s, skipped", reminder.Status)}
	}
	if s.runner == nil {
		return queue.Outcome{Success: false, Message: "no plan runner configured"}
	}

	plan, err := reminderPlan(reminder)
	if err != nil {
		return queue.Outcome{Success: false, Message: err.Error()}
	}

	task := &types.Task{
		ID:        uuid.New().String(),
		UserID:    reminder.UserID,
		Plan:      plan,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateTask(task); err != nil {
		return queue.Outcome{Success: false, Message: fmt.Sprintf("failed to create task: %v", err)}
	}

	jobLogger := log.ForJob(s.logger, job.ID, job.Name, job.AttemptsMade)
	jobLogger.Info().
		Str("reminder_id", reminder.ID).
		Str("task_id", task.ID).
		Msg("Running reminder")

	rep := s.runner.Run(ctx, task)
	return queue.Outcome{Success: rep.Success, Message: rep.Message}
}

// reminderPlan returns the reminder's stored plan, or the default
// notification plan, with a sendNotification step guaranteed to be included.
func reminderPlan(r *types.Reminder) (json.RawMessage, error) {
	if len(r.Plan) == 0 {
		return actions.NewPlan(actions.SendNotification{Title: "Reminder", Body: r.TaskDescription})
	}

	raw := []byte(r.Plan)
	if gjson.GetBytes(raw, "actions.sendNotification.isIncluded").Type == gjson.True {
		return raw, nil
	}

	last := int64(0)
	gjson.GetBytes(raw, "actions").ForEach(func(_, v gjson.Result) bool {
		if v.Get("isIncluded").Type == gjson.True {
			if o := v.Get("executionOrderIfIncluded").Int(); o > last {
				last = o
			}
		}
		return true
	})

	step := map[string]any{
		"isIncluded":               true,
		"executionOrderIfIncluded": last + 1,
		"title":                    "Reminder",
		"body":                     r.TaskDescription,
	}
	out, err := sjson.SetBytes(raw, "actions.sendNotification", step)
	if err != nil {
		return nil, fmt.Errorf("failed to append notification step: %w", err)
	}
	return out, nil
}
