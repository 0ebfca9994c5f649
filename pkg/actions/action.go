package actions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/herald/pkg/llm"
	"github.com/cuemby/herald/pkg/types"
)

// Action is one decoded, validated plan entry
type Action interface {
	Kind() Kind
	Validate() error
}

// GetUserContext loads the user's profile and open reminders
type GetUserContext struct {
	Fields []string `json:"fields,omitempty"`
}

func (GetUserContext) Kind() Kind { return KindGetUserContext }
func (GetUserContext) Validate() error { return nil }

// TimeRange bounds a calendar query
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// GetCalendarEvents fetches calendar entries inside TimeRange
type GetCalendarEvents struct {
	TimeRange *TimeRange `json:"timeRange"`
}

func (GetCalendarEvents) Kind() Kind { return KindGetCalendarEvents }

func (a GetCalendarEvents) Validate() error {
	if a.TimeRange == nil {
		return fmt.Errorf("timeRange is required")
	}
	if a.TimeRange.Start.IsZero() || a.TimeRange.End.IsZero() {
		return fmt.Errorf("timeRange requires start and end")
	}
	if !a.TimeRange.End.After(a.TimeRange.Start) {
		return fmt.Errorf("timeRange end must be after start")
	}
	return nil
}

// LLMPipeline runs the language model over earlier results
type LLMPipeline struct {
	SystemInstructions llm.Instruction `json:"systemInstructions"`
	InputContexts      []Kind          `json:"inputContexts,omitempty"`
	Prompt             string          `json:"prompt,omitempty"`
	Schema             json.RawMessage `json:"schema,omitempty"`
}

func (LLMPipeline) Kind() Kind { return KindLLMPipeline }

func (a LLMPipeline) Validate() error {
	if a.SystemInstructions == "" {
		return fmt.Errorf("systemInstructions is required")
	}
	if !a.SystemInstructions.Valid() {
		return fmt.Errorf("unknown systemInstructions %q", a.SystemInstructions)
	}
	for _, k := range a.InputContexts {
		if !k.Valid() {
			return fmt.Errorf("unknown input context %q", k)
		}
	}
	return nil
}

// UpdateUserProfile merges facts into the user's profile.
// FromModelOutput also merges the JSON object produced by the latest llmPipeline.
type UpdateUserProfile struct {
	Facts           map[string]string `json:"facts,omitempty"`
	FromModelOutput bool              `json:"fromModelOutput,omitempty"`
}

func (UpdateUserProfile) Kind() Kind { return KindUpdateUserProfile }

func (a UpdateUserProfile) Validate() error {
	if len(a.Facts) == 0 && !a.FromModelOutput {
		return fmt.Errorf("facts or fromModelOutput is required")
	}
	return nil
}

// ScheduleReminder books a follow-up reminder for the task's user
type ScheduleReminder struct {
	TaskDescription string            `json:"taskDescription"`
	Time            string            `json:"time,omitempty"`
	OneTimeDate     string            `json:"one_time_date,omitempty"`
	Recurrence      *types.Recurrence `json:"recurrence,omitempty"`
	Ends            *types.Ends       `json:"ends,omitempty"`
}

func (ScheduleReminder) Kind() Kind { return KindScheduleReminder }

func (a ScheduleReminder) Validate() error {
	if a.TaskDescription == "" {
		return fmt.Errorf("taskDescription is required")
	}
	return nil
}

// SendNotification pushes a message to the user's devices.
// An empty Body falls back to the latest llmPipeline output.
type SendNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

func (SendNotification) Kind() Kind { return KindSendNotification }
func (SendNotification) Validate() error { return nil }

// Decode parses raw action parameters into the typed action for kind
func Decode(kind Kind, raw []byte) (Action, error) {
	var a Action
	var err error

	switch kind {
	case KindGetUserContext:
		a, err = decodeInto[GetUserContext](raw)
	case KindGetCalendarEvents:
		a, err = decodeInto[GetCalendarEvents](raw)
	case KindLLMPipeline:
		a, err = decodeInto[LLMPipeline](raw)
	case KindUpdateUserProfile:
		a, err = decodeInto[UpdateUserProfile](raw)
	case KindScheduleReminder:
		a, err = decodeInto[ScheduleReminder](raw)
	case KindSendNotification:
		a, err = decodeInto[SendNotification](raw)
	default:
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeInto[T Action](raw []byte) (Action, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("malformed parameters: %w", err)
	}
	return v, nil
}
