package actions

import (
	"context"
	"fmt"

	"github.com/cuemby/herald/pkg/types"
)

// Outcome is what a handler reports for one action.
// Data, when non-nil, is stored as the action's result whatever Success is.
type Outcome struct {
	Success bool
	Message string
	Data    any
}

// Handlers holds one typed function per action kind
type Handlers struct {
	GetUserContext    func(ctx context.Context, task *types.Task, a GetUserContext) Outcome
	GetCalendarEvents func(ctx context.Context, task *types.Task, a GetCalendarEvents) Outcome
	LLMPipeline       func(ctx context.Context, task *types.Task, a LLMPipeline) Outcome
	UpdateUserProfile func(ctx context.Context, task *types.Task, a UpdateUserProfile) Outcome
	ScheduleReminder  func(ctx context.Context, task *types.Task, a ScheduleReminder) Outcome
	SendNotification  func(ctx context.Context, task *types.Task, a SendNotification) Outcome
}

// Dispatch runs the handler matching action's concrete type
func (h Handlers) Dispatch(ctx context.Context, task *types.Task, action Action) Outcome {
	switch a := action.(type) {
	case GetUserContext:
		if h.GetUserContext != nil {
			return h.GetUserContext(ctx, task, a)
		}
	case GetCalendarEvents:
		if h.GetCalendarEvents != nil {
			return h.GetCalendarEvents(ctx, task, a)
		}
	case LLMPipeline:
		if h.LLMPipeline != nil {
			return h.LLMPipeline(ctx, task, a)
		}
	case UpdateUserProfile:
		if h.UpdateUserProfile != nil {
			return h.UpdateUserProfile(ctx, task, a)
		}
	case ScheduleReminder:
		if h.ScheduleReminder != nil {
			return h.ScheduleReminder(ctx, task, a)
		}
	case SendNotification:
		if h.SendNotification != nil {
			return h.SendNotification(ctx, task, a)
		}
	default:
		return Outcome{Message: fmt.Sprintf("unsupported action type %T", action)}
	}
	return Outcome{Message: fmt.Sprintf("no handler registered for %s", action.Kind())}
}
