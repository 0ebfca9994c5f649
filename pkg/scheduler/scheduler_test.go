package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/herald/pkg/actions"
	"github.com/cuemby/herald/pkg/events"
	"github.com/cuemby/herald/pkg/executor"
	"github.com/cuemby/herald/pkg/queue"
	"github.com/cuemby/herald/pkg/recurrence"
	"github.com/cuemby/herald/pkg/storage"
	"github.com/cuemby/herald/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeQueue struct {
	mu            sync.Mutex
	n             int
	created       []queue.JobOptions
	data          []any
	repeats       map[string]bool
	removed       []string
	repeatRemoved []string
	fail          bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{repeats: make(map[string]bool)}
}

func (q *fakeQueue) CreateJob(_ context.Context, name string, data any, opts queue.JobOptions) queue.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return queue.Result{Message: "failed to enqueue job: database not open"}
	}
	q.n++
	id := fmt.Sprintf("job-%d", q.n)
	q.created = append(q.created, opts)
	q.data = append(q.data, data)
	if opts.Repeat != nil {
		q.repeats[id] = true
	}
	return queue.Result{Success: true, JobID: id}
}

func (q *fakeQueue) RemoveJob(_ context.Context, id string) queue.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, id)
	return queue.Result{Success: true, JobID: id}
}

func (q *fakeQueue) RemoveRepeatableJob(_ context.Context, id string) queue.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.repeats[id] {
		return queue.Result{Message: "job not found", NotFound: true}
	}
	delete(q.repeats, id)
	q.repeatRemoved = append(q.repeatRemoved, id)
	return queue.Result{Success: true, JobID: id}
}

type fakeSender struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *fakeSender) SendToUser(userID string, e *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.UserID = userID
	s.events = append(s.events, e)
	return nil
}

func (s *fakeSender) last(t *testing.T) *types.Reminder {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	e := s.events[len(s.events)-1]
	assert.Equal(t, events.EventReminderUpdated, e.Type)
	var r types.Reminder
	require.NoError(t, json.Unmarshal(e.Payload, &r))
	return &r
}

type fakeRunner struct {
	tasks []*types.Task
	rep   executor.Report
}

func (r *fakeRunner) Run(_ context.Context, task *types.Task) executor.Report {
	r.tasks = append(r.tasks, task)
	return r.rep
}

// failingStore rejects new reminders
type failingStore struct {
	storage.Store
}

func (failingStore) CreateReminder(*types.Reminder) error {
	return errors.New("disk full")
}

type fixture struct {
	sched  *Scheduler
	store  storage.Store
	queue  *fakeQueue
	sender *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	loc, err := recurrence.LoadLocation("")
	require.NoError(t, err)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	compiler := recurrence.NewCompiler(loc).WithClock(func() time.Time { return now })

	q := newFakeQueue()
	sender := &fakeSender{}
	return &fixture{
		sched:  NewScheduler(store, q, compiler, sender, queue.JobOptions{Attempts: 3}),
		store:  store,
		queue:  q,
		sender: sender,
	}
}

func TestScheduleDailyReminder(t *testing.T) {
	f := newFixture(t)

	res := f.sched.ScheduleReminder(context.Background(), ReminderRequest{
		UserID:          "u1",
		TaskDescription: "Take vitamins",
		Time:            "14:30",
		Recurrence:      &types.Recurrence{Type: types.RecurrenceDaily},
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "job-1", res.JobID)
	assert.NotEmpty(t, res.ReminderID)

	require.Len(t, f.queue.created, 1)
	opts := f.queue.created[0]
	require.NotNil(t, opts.Repeat)
	assert.Equal(t, "0 9 * * *", opts.Repeat.Pattern)
	assert.Equal(t, 3, opts.Attempts)
	assert.Equal(t, jobPayload{ReminderID: res.ReminderID, UserID: "u1"}, f.queue.data[0])

	stored, err := f.store.GetReminder(res.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", stored.JobID)
	assert.Equal(t, types.ReminderStatusScheduled, stored.Status)
}

func TestScheduleOneShotReminder(t *testing.T) {
	f := newFixture(t)

	res := f.sched.ScheduleReminder(context.Background(), ReminderRequest{
		UserID:          "u1",
		TaskDescription: "Call the bank",
		OneTimeDate:     "2024-06-01T09:00:00Z",
	})
	require.True(t, res.Success, res.Message)

	opts := f.queue.created[0]
	assert.Nil(t, opts.Repeat)
	// 09:00 IST is 03:30 UTC
	assert.Equal(t, 3*time.Hour+30*time.Minute, opts.Delay)
}

func TestScheduleReminderRejects(t *testing.T) {
	tests := []struct {
		name string
		req  ReminderRequest
	}{
		{"missing user", ReminderRequest{TaskDescription: "x", Time: "09:00", Recurrence: &types.Recurrence{Type: types.RecurrenceDaily}}},
		{"missing description", ReminderRequest{UserID: "u1", Time: "09:00", Recurrence: &types.Recurrence{Type: types.RecurrenceDaily}}},
		{"weekly without days", ReminderRequest{UserID: "u1", TaskDescription: "x", Time: "09:00", Recurrence: &types.Recurrence{Type: types.RecurrenceWeekly}}},
		{"past one-shot", ReminderRequest{UserID: "u1", TaskDescription: "x", OneTimeDate: "2024-01-01T09:00:00Z"}},
		{"invalid plan", ReminderRequest{UserID: "u1", TaskDescription: "x", OneTimeDate: "2024-06-02T09:00:00Z", Plan: json.RawMessage(`{"steps":1}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.sched.ScheduleReminder(context.Background(), tt.req)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Message)
			assert.Empty(t, f.queue.created)
		})
	}
}

func TestScheduleReminderQueueFailure(t *testing.T) {
	f := newFixture(t)
	f.queue.fail = true

	res := f.sched.ScheduleReminder(context.Background(), ReminderRequest{
		UserID: "u1", TaskDescription: "x", Time: "09:00", Recurrence: &types.Recurrence{Type: types.RecurrenceDaily},
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "database not open")

	reminders, err := f.store.ListRemindersByUser("u1")
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestScheduleReminderCompensates(t *testing.T) {
	f := newFixture(t)
	f.sched.store = failingStore{Store: f.store}

	res := f.sched.ScheduleReminder(context.Background(), ReminderRequest{
		UserID: "u1", TaskDescription: "x", Time: "09:00", Recurrence: &types.Recurrence{Type: types.RecurrenceDaily},
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "disk full")
	assert.Equal(t, []string{"job-1"}, f.queue.repeatRemoved)

	res = f.sched.ScheduleReminder(context.Background(), ReminderRequest{
		UserID: "u1", TaskDescription: "x", OneTimeDate: "2024-06-02T09:00:00Z",
	})
	assert.False(t, res.Success)
	assert.Equal(t, []string{"job-2"}, f.queue.removed)
}

func TestCancelReminder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.sched.ScheduleReminder(ctx, ReminderRequest{
		UserID: "u1", TaskDescription: "Gym", Time: "07:00",
		Recurrence: &types.Recurrence{Type: types.RecurrenceWeekly, Days: []string{"Monday"}},
	})
	require.True(t, res.Success, res.Message)

	other := f.sched.CancelReminder(ctx, "u2", res.ReminderID)
	assert.False(t, other.Success)
	assert.True(t, other.NotFound)

	cancel := f.sched.CancelReminder(ctx, "u1", res.ReminderID)
	require.True(t, cancel.Success, cancel.Message)
	assert.Equal(t, []string{res.JobID}, f.queue.repeatRemoved)
	assert.Equal(t, types.ReminderStatusCancelled, f.sender.last(t).Status)

	again := f.sched.CancelReminder(ctx, "u1", res.ReminderID)
	assert.False(t, again.Success)
	assert.Equal(t, "reminder is cancelled", again.Message)

	missing := f.sched.CancelReminder(ctx, "u1", "nope")
	assert.True(t, missing.NotFound)
}

func TestListAndGetReminders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, desc := range []string{"a", "b"} {
		res := f.sched.ScheduleReminder(ctx, ReminderRequest{
			UserID: "u1", TaskDescription: desc, Time: "08:00", Recurrence: &types.Recurrence{Type: types.RecurrenceDaily},
		})
		require.True(t, res.Success)
	}

	list, err := f.sched.ListReminders(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.sched.GetReminder(ctx, "u2", list[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := f.sched.GetReminder(ctx, "u1", list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, list[0].ID, got.ID)
}

func TestOnSettleRepeatRepointsAndRetires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.sched.ScheduleReminder(ctx, ReminderRequest{
		UserID: "u1", TaskDescription: "Stand-up", Time: "09:00",
		Recurrence: &types.Recurrence{Type: types.RecurrenceLimited, StartDate: "2024-06-03"},
		Ends:       &types.Ends{Type: types.EndsOnDate, Value: "2024-06-04"},
	})
	require.True(t, res.Success, res.Message)

	f.sched.OnSettle(ctx, queue.Settlement{OldJobID: res.JobID, NewJobID: "job-next", Name: JobName, State: queue.StateCompleted})

	r, err := f.store.GetReminder(res.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, "job-next", r.JobID)
	assert.Equal(t, types.ReminderStatusScheduled, r.Status)

	byJob, err := f.store.GetReminderByJobID("job-next")
	require.NoError(t, err)
	assert.Equal(t, res.ReminderID, byJob.ID)

	f.sched.OnSettle(ctx, queue.Settlement{OldJobID: "job-next", Name: JobName, State: queue.StateFailed, Final: true})

	r, err = f.store.GetReminder(res.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, types.ReminderStatusCompleted, r.Status)
	assert.Equal(t, types.ReminderStatusCompleted, f.sender.last(t).Status)
}

func TestOnSettleOneShot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.sched.ScheduleReminder(ctx, ReminderRequest{UserID: "u1", TaskDescription: "x", OneTimeDate: "2024-06-02T09:00:00Z"})
	require.True(t, res.Success)

	f.sched.OnSettle(ctx, queue.Settlement{OldJobID: res.JobID, NewJobID: res.JobID, Name: JobName, State: queue.StateFailed, Final: true})

	r, err := f.store.GetReminder(res.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, types.ReminderStatusFailed, r.Status)

	// other job names and unknown jobs are ignored
	f.sched.OnSettle(ctx, queue.Settlement{OldJobID: res.JobID, NewJobID: res.JobID, Name: "notification", Final: true})
	f.sched.OnSettle(ctx, queue.Settlement{OldJobID: "unknown", NewJobID: "unknown", Name: JobName, Final: true})
}

func reminderJob(t *testing.T, reminderID string) *queue.Job {
	t.Helper()
	data, err := json.Marshal(jobPayload{ReminderID: reminderID, UserID: "u1"})
	require.NoError(t, err)
	return &queue.Job{ID: "job-1", Name: JobName, Data: data}
}

func TestProcessReminderDefaultPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	runner := &fakeRunner{rep: executor.Report{Success: true, Message: "executed 1 actions"}}
	f.sched.SetRunner(runner)

	res := f.sched.ScheduleReminder(ctx, ReminderRequest{UserID: "u1", TaskDescription: "Water the plants", OneTimeDate: "2024-06-02T09:00:00Z"})
	require.True(t, res.Success)

	out := f.sched.ProcessReminder(ctx, reminderJob(t, res.ReminderID))
	require.True(t, out.Success, out.Message)
	require.Len(t, runner.tasks, 1)

	task := runner.tasks[0]
	assert.Equal(t, "u1", task.UserID)
	plan, err := actions.ParsePlan(task.Plan)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "Water the plants", plan.Steps[0].Action.(actions.SendNotification).Body)

	stored, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UserID)
}

func TestProcessReminderSkips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	runner := &fakeRunner{rep: executor.Report{Success: true}}
	f.sched.SetRunner(runner)

	out := f.sched.ProcessReminder(ctx, reminderJob(t, "deleted"))
	assert.True(t, out.Success)
	assert.Equal(t, "reminder no longer exists", out.Message)

	res := f.sched.ScheduleReminder(ctx, ReminderRequest{UserID: "u1", TaskDescription: "x", OneTimeDate: "2024-06-02T09:00:00Z"})
	require.True(t, res.Success)
	require.True(t, f.sched.CancelReminder(ctx, "u1", res.ReminderID).Success)

	out = f.sched.ProcessReminder(ctx, reminderJob(t, res.ReminderID))
	assert.True(t, out.Success)
	assert.Equal(t, "reminder is cancelled, skipped", out.Message)
	assert.Empty(t, runner.tasks)

	out = f.sched.ProcessReminder(ctx, &queue.Job{ID: "j", Data: json.RawMessage(`[]`)})
	assert.False(t, out.Success)
}

func TestProcessReminderReportsFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sched.SetRunner(&fakeRunner{rep: executor.Report{Success: false, Message: "1 of 1 actions failed"}})

	res := f.sched.ScheduleReminder(ctx, ReminderRequest{UserID: "u1", TaskDescription: "x", OneTimeDate: "2024-06-02T09:00:00Z"})
	require.True(t, res.Success)

	out := f.sched.ProcessReminder(ctx, reminderJob(t, res.ReminderID))
	assert.False(t, out.Success)
	assert.Equal(t, "1 of 1 actions failed", out.Message)
}

func TestReminderPlanAppendsNotification(t *testing.T) {
	r := &types.Reminder{
		TaskDescription: "Review budget",
		Plan: json.RawMessage(`{"actions":{
			"getUserContext": {"isIncluded": true, "executionOrderIfIncluded": 1},
			"llmPipeline":    {"isIncluded": true, "executionOrderIfIncluded": 4, "systemInstructions": "reminderMessage"},
			"getCalendarEvents": {"isIncluded": false, "executionOrderIfIncluded": 9}
		}}`),
	}

	plan, err := reminderPlan(r)
	require.NoError(t, err)
	step := gjson.GetBytes(plan, "actions.sendNotification")
	assert.True(t, step.Get("isIncluded").Bool())
	assert.Equal(t, int64(5), step.Get("executionOrderIfIncluded").Int())
	assert.Equal(t, "Review budget", step.Get("body").String())

	// a plan that already notifies is left alone
	r.Plan = json.RawMessage(`{"actions":{"sendNotification":{"isIncluded":true,"executionOrderIfIncluded":1}}}`)
	plan, err = reminderPlan(r)
	require.NoError(t, err)
	assert.JSONEq(t, string(r.Plan), string(plan))
}
