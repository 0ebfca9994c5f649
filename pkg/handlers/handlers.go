package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/herald/pkg/actions"
	"github.com/cuemby/herald/pkg/llm"
	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/notify"
	"github.com/cuemby/herald/pkg/queue"
	"github.com/cuemby/herald/pkg/scheduler"
	"github.com/cuemby/herald/pkg/storage"
	"github.com/cuemby/herald/pkg/types"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultTitle is the notification title used when an action sets none
const DefaultTitle = "Herald"

// Profiles reads and writes user profiles and open reminders
type Profiles interface {
	GetProfile(userID string) (*types.UserProfile, error)
	PutProfile(profile *types.UserProfile) error
	ListRemindersByUser(userID string) ([]*types.Reminder, error)
}

// ResultReader reads earlier action results of a task
type ResultReader interface {
	GetKindData(ctx context.Context, taskID string, kind actions.Kind) ([]types.ActionResult, error)
}

// ReminderScheduler books reminders
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, req scheduler.ReminderRequest) scheduler.Result
}

// Notifier queues push notifications
type Notifier interface {
	Enqueue(ctx context.Context, n notify.Notification) queue.Result
}

// CalendarEvent is one entry returned by a calendar source
type CalendarEvent struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CalendarSource lists a user's calendar entries in a time range
type CalendarSource interface {
	Events(ctx context.Context, userID string, start, end time.Time) ([]CalendarEvent, error)
}

// Deps are the collaborators of the built-in action handlers.
// A nil Calendar answers every query with no events.
type Deps struct {
	Profiles  Profiles
	Results   ResultReader
	Generator llm.Generator
	Reminders ReminderScheduler
	Notifier  Notifier
	Calendar  CalendarSource
}

type handlers struct {
	Deps
	logger zerolog.Logger
}

// New returns the built-in handler for every action kind
func New(d Deps) actions.Handlers {
	h := &handlers{Deps: d, logger: log.WithComponent("executor")}
	return actions.Handlers{
		GetUserContext:    h.getUserContext,
		GetCalendarEvents: h.getCalendarEvents,
		LLMPipeline:       h.llmPipeline,
		UpdateUserProfile: h.updateUserProfile,
		ScheduleReminder:  h.scheduleReminder,
		SendNotification:  h.sendNotification,
	}
}

func fail(format string, args ...any) actions.Outcome {
	return actions.Outcome{Success: false, Message: fmt.Sprintf(format, args...)}
}

func (h *handlers) profile(userID string) (*types.UserProfile, error) {
	p, err := h.Profiles.GetProfile(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return &types.UserProfile{UserID: userID, Facts: map[string]string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Facts == nil {
		p.Facts = map[string]string{}
	}
	return p, nil
}

func (h *handlers) getUserContext(ctx context.Context, task *types.Task, a actions.GetUserContext) actions.Outcome {
	p, err := h.profile(task.UserID)
	if err != nil {
		return fail("failed to load profile: %v", err)
	}
	reminders, err := h.Profiles.ListRemindersByUser(task.UserID)
	if err != nil {
		return fail("failed to load reminders: %v", err)
	}

	var open []map[string]any
	for _, r := range reminders {
		if r.Status != types.ReminderStatusScheduled {
			continue
		}
		open = append(open, map[string]any{
			"id":              r.ID,
			"taskDescription": r.TaskDescription,
			"time":            r.Time,
		})
	}

	data := map[string]any{
		"profile": map[string]any{
			"name":     p.Name,
			"timezone": p.Timezone,
			"facts":    p.Facts,
		},
		"reminders": open,
	}
	if len(a.Fields) > 0 {
		selected := make(map[string]any, len(a.Fields))
		for _, f := range a.Fields {
			if v, ok := data[f]; ok {
				selected[f] = v
			}
		}
		data = selected
	}
	return actions.Outcome{Success: true, Data: data}
}

func (h *handlers) getCalendarEvents(ctx context.Context, task *types.Task, a actions.GetCalendarEvents) actions.Outcome {
	data := map[string]any{
		"start":  a.TimeRange.Start,
		"end":    a.TimeRange.End,
		"events": []CalendarEvent{},
	}
	if h.Calendar == nil {
		return actions.Outcome{Success: true, Message: "no calendar connected", Data: data}
	}

	evs, err := h.Calendar.Events(ctx, task.UserID, a.TimeRange.Start, a.TimeRange.End)
	if err != nil {
		return fail("failed to fetch calendar: %v", err)
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Start.Before(evs[j].Start) })
	data["events"] = evs
	return actions.Outcome{Success: true, Data: data}
}

func (h *handlers) llmPipeline(ctx context.Context, task *types.Task, a actions.LLMPipeline) actions.Outcome {
	if h.Generator == nil {
		return fail("no language model configured")
	}

	var b strings.Builder
	if a.Prompt != "" {
		b.WriteString(a.Prompt)
		b.WriteString("\n\n")
	}
	for _, kind := range a.InputContexts {
		items, err := h.Results.GetKindData(ctx, task.ID, kind)
		if err != nil {
			return fail("failed to read %s results: %v", kind, err)
		}
		for _, item := range items {
			fmt.Fprintf(&b, "### %s\n%s\n\n", item.Type, item.Data)
		}
	}

	out, err := h.Generator.Generate(ctx, b.String(), a.SystemInstructions, a.Schema)
	if err != nil {
		return fail("language model call failed: %v", err)
	}

	if len(a.Schema) > 0 {
		doc, err := llm.ExtractJSON(out)
		if err != nil {
			return actions.Outcome{Success: false, Message: err.Error(), Data: map[string]string{"text": out}}
		}
		return actions.Outcome{Success: true, Data: json.RawMessage(doc)}
	}
	return actions.Outcome{Success: true, Data: map[string]string{"text": out}}
}

// latestModelOutput returns the most recent llmPipeline result of the task
func (h *handlers) latestModelOutput(ctx context.Context, taskID string) (gjson.Result, error) {
	items, err := h.Results.GetKindData(ctx, taskID, actions.KindLLMPipeline)
	if err != nil {
		return gjson.Result{}, err
	}
	if len(items) == 0 {
		return gjson.Result{}, nil
	}
	return gjson.ParseBytes(items[len(items)-1].Data), nil
}

func (h *handlers) updateUserProfile(ctx context.Context, task *types.Task, a actions.UpdateUserProfile) actions.Outcome {
	p, err := h.profile(task.UserID)
	if err != nil {
		return fail("failed to load profile: %v", err)
	}

	updated := make([]string, 0, len(a.Facts))
	for k, v := range a.Facts {
		p.Facts[k] = v
		updated = append(updated, k)
	}

	if a.FromModelOutput {
		out, err := h.latestModelOutput(ctx, task.ID)
		if err != nil {
			return fail("failed to read model output: %v", err)
		}
		if !out.IsObject() {
			return fail("no model output to extract facts from")
		}
		out.ForEach(func(k, v gjson.Result) bool {
			if v.Type == gjson.String || v.Type == gjson.Number || v.Type == gjson.True || v.Type == gjson.False {
				p.Facts[k.String()] = v.String()
				updated = append(updated, k.String())
			}
			return true
		})
	}

	p.UpdatedAt = time.Now().UTC()
	if err := h.Profiles.PutProfile(p); err != nil {
		return fail("failed to save profile: %v", err)
	}

	sort.Strings(updated)
	return actions.Outcome{Success: true, Data: map[string]any{"updated": updated}}
}

func (h *handlers) scheduleReminder(ctx context.Context, task *types.Task, a actions.ScheduleReminder) actions.Outcome {
	res := h.Reminders.ScheduleReminder(ctx, scheduler.ReminderRequest{
		UserID:          task.UserID,
		TaskDescription: a.TaskDescription,
		Time:            a.Time,
		OneTimeDate:     a.OneTimeDate,
		Recurrence:      a.Recurrence,
		Ends:            a.Ends,
	})
	if !res.Success {
		return actions.Outcome{Success: false, Message: res.Message, Data: map[string]any{"success": false, "message": res.Message}}
	}
	return actions.Outcome{Success: true, Data: map[string]any{
		"success":    true,
		"reminderId": res.ReminderID,
		"jobId":      res.JobID,
	}}
}

func (h *handlers) sendNotification(ctx context.Context, task *types.Task, a actions.SendNotification) actions.Outcome {
	body := a.Body
	if body == "" {
		out, err := h.latestModelOutput(ctx, task.ID)
		if err != nil {
			return fail("failed to read model output: %v", err)
		}
		if text := out.Get("text"); text.Exists() {
			body = text.String()
		} else if out.Exists() {
			body = out.Raw
		}
	}
	if body == "" {
		return fail("notification has no body")
	}

	title := a.Title
	if title == "" {
		title = DefaultTitle
	}

	res := h.Notifier.Enqueue(ctx, notify.Notification{
		UserID: task.UserID,
		TaskID: task.ID,
		Push:   notify.Payload{Title: title, Body: body},
	})
	if !res.Success {
		return fail("failed to queue notification: %s", res.Message)
	}

	h.logger.Debug().Str("task_id", task.ID).Str("job_id", res.JobID).Msg("Notification queued")
	return actions.Outcome{Success: true, Data: map[string]any{"jobId": res.JobID, "title": title, "body": body}}
}
