package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/herald/pkg/actions"
	"github.com/cuemby/herald/pkg/cache"
	"github.com/cuemby/herald/pkg/executor"
	"github.com/cuemby/herald/pkg/llm"
	"github.com/cuemby/herald/pkg/notify"
	"github.com/cuemby/herald/pkg/queue"
	"github.com/cuemby/herald/pkg/results"
	"github.com/cuemby/herald/pkg/scheduler"
	"github.com/cuemby/herald/pkg/storage"
	"github.com/cuemby/herald/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReminders struct {
	req scheduler.ReminderRequest
	res scheduler.Result
}

func (f *fakeReminders) ScheduleReminder(_ context.Context, req scheduler.ReminderRequest) scheduler.Result {
	f.req = req
	return f.res
}

type fakeNotifier struct {
	sent []notify.Notification
}

func (f *fakeNotifier) Enqueue(_ context.Context, n notify.Notification) queue.Result {
	f.sent = append(f.sent, n)
	return queue.Result{Success: true, JobID: "job-n"}
}

type fakeCalendar struct {
	events []CalendarEvent
	err    error
}

func (f fakeCalendar) Events(context.Context, string, time.Time, time.Time) ([]CalendarEvent, error) {
	return f.events, f.err
}

type fixture struct {
	deps      Deps
	store     *storage.BoltStore
	results   *results.Store
	reminders *fakeReminders
	notifier  *fakeNotifier
}

func newFixture(t *testing.T, gen llm.Generator) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mem := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })
	res := results.NewStore(mem, time.Hour)

	f := &fixture{
		store:     store,
		results:   res,
		reminders: &fakeReminders{res: scheduler.Result{Success: true, ReminderID: "r1", JobID: "job-1"}},
		notifier:  &fakeNotifier{},
	}
	f.deps = Deps{
		Profiles:  store,
		Results:   res,
		Generator: gen,
		Reminders: f.reminders,
		Notifier:  f.notifier,
	}
	return f
}

func task() *types.Task {
	return &types.Task{ID: "task-1", UserID: "u1"}
}

func TestGetUserContext(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.PutProfile(&types.UserProfile{UserID: "u1", Name: "Asha", Facts: map[string]string{"city": "Pune"}}))
	require.NoError(t, f.store.CreateReminder(&types.Reminder{ID: "r1", JobID: "j1", UserID: "u1", TaskDescription: "Gym", Status: types.ReminderStatusScheduled}))
	require.NoError(t, f.store.CreateReminder(&types.Reminder{ID: "r2", JobID: "j2", UserID: "u1", TaskDescription: "Old", Status: types.ReminderStatusCompleted}))

	h := New(f.deps)
	out := h.GetUserContext(context.Background(), task(), actions.GetUserContext{})
	require.True(t, out.Success, out.Message)

	data, err := json.Marshal(out.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"profile": {"name": "Asha", "timezone": "", "facts": {"city": "Pune"}},
		"reminders": [{"id": "r1", "taskDescription": "Gym", "time": ""}]
	}`, string(data))

	out = h.GetUserContext(context.Background(), task(), actions.GetUserContext{Fields: []string{"reminders"}})
	data, err = json.Marshal(out.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reminders": [{"id": "r1", "taskDescription": "Gym", "time": ""}]}`, string(data))
}

func TestGetUserContextWithoutProfile(t *testing.T) {
	f := newFixture(t, nil)
	out := New(f.deps).GetUserContext(context.Background(), task(), actions.GetUserContext{})
	assert.True(t, out.Success)
}

func TestGetCalendarEvents(t *testing.T) {
	f := newFixture(t, nil)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	a := actions.GetCalendarEvents{TimeRange: &actions.TimeRange{Start: start, End: start.Add(24 * time.Hour)}}

	out := New(f.deps).GetCalendarEvents(context.Background(), task(), a)
	assert.True(t, out.Success)
	assert.Equal(t, "no calendar connected", out.Message)

	f.deps.Calendar = fakeCalendar{events: []CalendarEvent{
		{Title: "Lunch", Start: start.Add(12 * time.Hour)},
		{Title: "Stand-up", Start: start.Add(9 * time.Hour)},
	}}
	out = New(f.deps).GetCalendarEvents(context.Background(), task(), a)
	require.True(t, out.Success)
	evs := out.Data.(map[string]any)["events"].([]CalendarEvent)
	assert.Equal(t, "Stand-up", evs[0].Title)

	f.deps.Calendar = fakeCalendar{err: errors.New("token expired")}
	out = New(f.deps).GetCalendarEvents(context.Background(), task(), a)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "token expired")
}

func TestLLMPipelineUsesInputContexts(t *testing.T) {
	var prompt string
	gen := llm.Func(func(_ context.Context, p string, instr llm.Instruction, _ json.RawMessage) (string, error) {
		prompt = p
		assert.Equal(t, llm.InstructionDailyBriefing, instr)
		return "Good morning, Asha.", nil
	})
	f := newFixture(t, gen)
	ctx := context.Background()

	_, err := f.results.StoreActionData(ctx, "task-1", actions.KindGetUserContext, map[string]string{"name": "Asha"})
	require.NoError(t, err)

	out := New(f.deps).LLMPipeline(ctx, task(), actions.LLMPipeline{
		SystemInstructions: llm.InstructionDailyBriefing,
		InputContexts:      []actions.Kind{actions.KindGetUserContext},
		Prompt:             "Brief me.",
	})
	require.True(t, out.Success, out.Message)
	assert.Equal(t, map[string]string{"text": "Good morning, Asha."}, out.Data)
	assert.Contains(t, prompt, "Brief me.")
	assert.Contains(t, prompt, "### userContext")
	assert.Contains(t, prompt, `{"name":"Asha"}`)
}

func TestLLMPipelineSchema(t *testing.T) {
	gen := llm.Func(func(context.Context, string, llm.Instruction, json.RawMessage) (string, error) {
		return "```json\n{\"city\": \"Pune\"}\n```", nil
	})
	f := newFixture(t, gen)

	out := New(f.deps).LLMPipeline(context.Background(), task(), actions.LLMPipeline{
		SystemInstructions: llm.InstructionProfileExtraction,
		Schema:             json.RawMessage(`{"type":"object"}`),
	})
	require.True(t, out.Success, out.Message)
	assert.JSONEq(t, `{"city":"Pune"}`, string(out.Data.(json.RawMessage)))

	bad := llm.Func(func(context.Context, string, llm.Instruction, json.RawMessage) (string, error) {
		return "I could not find any facts", nil
	})
	f.deps.Generator = bad
	out = New(f.deps).LLMPipeline(context.Background(), task(), actions.LLMPipeline{
		SystemInstructions: llm.InstructionProfileExtraction,
		Schema:             json.RawMessage(`{"type":"object"}`),
	})
	assert.False(t, out.Success)
	assert.NotNil(t, out.Data)
}

func TestUpdateUserProfile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.results.StoreActionData(ctx, "task-1", actions.KindLLMPipeline, json.RawMessage(`{"diet":"vegetarian","age":31,"tags":["a"]}`))
	require.NoError(t, err)

	out := New(f.deps).UpdateUserProfile(ctx, task(), actions.UpdateUserProfile{
		Facts:           map[string]string{"city": "Pune"},
		FromModelOutput: true,
	})
	require.True(t, out.Success, out.Message)
	assert.Equal(t, map[string]any{"updated": []string{"age", "city", "diet"}}, out.Data)

	p, err := f.store.GetProfile("u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"city": "Pune", "diet": "vegetarian", "age": "31"}, p.Facts)
}

func TestUpdateUserProfileWithoutModelOutput(t *testing.T) {
	f := newFixture(t, nil)
	out := New(f.deps).UpdateUserProfile(context.Background(), task(), actions.UpdateUserProfile{FromModelOutput: true})
	assert.False(t, out.Success)
	assert.Equal(t, "no model output to extract facts from", out.Message)
}

func TestScheduleReminderHandler(t *testing.T) {
	f := newFixture(t, nil)
	h := New(f.deps)

	out := h.ScheduleReminder(context.Background(), task(), actions.ScheduleReminder{
		TaskDescription: "Pay rent",
		Time:            "10:00",
		Recurrence:      &types.Recurrence{Type: types.RecurrenceDaily},
	})
	require.True(t, out.Success)
	assert.Equal(t, "u1", f.reminders.req.UserID)
	assert.Equal(t, "Pay rent", f.reminders.req.TaskDescription)
	assert.Equal(t, "r1", out.Data.(map[string]any)["reminderId"])

	f.reminders.res = scheduler.Result{Message: "invalid schedule: weekly reminder needs at least one day"}
	out = h.ScheduleReminder(context.Background(), task(), actions.ScheduleReminder{TaskDescription: "x"})
	assert.False(t, out.Success)
	assert.NotNil(t, out.Data)
}

func TestSendNotification(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	h := New(f.deps)

	out := h.SendNotification(ctx, task(), actions.SendNotification{})
	assert.False(t, out.Success)
	assert.Equal(t, "notification has no body", out.Message)

	out = h.SendNotification(ctx, task(), actions.SendNotification{Body: "Stand-up in 5"})
	require.True(t, out.Success)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, DefaultTitle, f.notifier.sent[0].Push.Title)

	_, err := f.results.StoreActionData(ctx, "task-1", actions.KindLLMPipeline, map[string]string{"text": "Time to stretch!"})
	require.NoError(t, err)
	out = h.SendNotification(ctx, task(), actions.SendNotification{Title: "Break"})
	require.True(t, out.Success)
	assert.Equal(t, "Time to stretch!", f.notifier.sent[1].Push.Body)
	assert.Equal(t, "Break", f.notifier.sent[1].Push.Title)
}

func TestPlanThroughExecutor(t *testing.T) {
	gen := llm.Func(func(_ context.Context, p string, _ llm.Instruction, _ json.RawMessage) (string, error) {
		return "Don't forget your 7am run, Asha.", nil
	})
	f := newFixture(t, gen)
	require.NoError(t, f.store.PutProfile(&types.UserProfile{UserID: "u1", Name: "Asha"}))

	plan, err := actions.NewPlan(
		actions.GetUserContext{},
		actions.LLMPipeline{SystemInstructions: llm.InstructionReminderMessage, InputContexts: []actions.Kind{actions.KindGetUserContext}},
		actions.SendNotification{Title: "Reminder"},
	)
	require.NoError(t, err)

	e := executor.New(New(f.deps), f.results, nil)
	rep := e.Run(context.Background(), &types.Task{ID: "task-1", UserID: "u1", Plan: plan})
	require.True(t, rep.Success, rep.Message)
	assert.Len(t, rep.Results, 3)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Don't forget your 7am run, Asha.", f.notifier.sent[0].Push.Body)
}
