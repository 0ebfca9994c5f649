package types

import (
	"encoding/json"
	"time"
)

// Task is one execution of a plan
type Task struct {
	ID              string
	UserID          string
	Plan            json.RawMessage // Serialized action graph, never mutated
	MessageID       string
	ChatID          string
	ExecutionStatus []string // AgentState IDs in sequence order
	CreatedAt       time.Time
}

// Reminder is a user-facing scheduled notification backed by one queue job
type Reminder struct {
	ID              string          `json:"id"`    // Stable user-facing identifier
	JobID           string          `json:"jobId"` // Current queue handle, re-pointed on every re-key
	UserID          string          `json:"userId"`
	TaskDescription string          `json:"taskDescription"`
	Time            string          `json:"time,omitempty"` // HH:mm in the source time zone
	OneTimeDate     string          `json:"one_time_date,omitempty"`
	Recurrence      *Recurrence     `json:"recurrence,omitempty"`
	Ends            *Ends           `json:"ends,omitempty"`
	Plan            json.RawMessage `json:"plan,omitempty"`
	Status          ReminderStatus  `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// ReminderStatus represents the lifecycle of a reminder
type ReminderStatus string

const (
	ReminderStatusScheduled ReminderStatus = "scheduled"
	ReminderStatusCompleted ReminderStatus = "completed"
	ReminderStatusFailed    ReminderStatus = "failed"
	ReminderStatusCancelled ReminderStatus = "cancelled"
)

// CanTransition reports whether a reminder may move from s to next.
// Transitions are one-directional out of scheduled; terminal states never change.
func (s ReminderStatus) CanTransition(next ReminderStatus) bool {
	if s != ReminderStatusScheduled {
		return false
	}
	switch next {
	case ReminderStatusCompleted, ReminderStatusFailed, ReminderStatusCancelled:
		return true
	}
	return false
}

// RecurrenceType selects how a reminder repeats
type RecurrenceType string

const (
	RecurrenceOnce    RecurrenceType = "once"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceLimited RecurrenceType = "limited"
)

// Recurrence is the user-supplied description of a repeating schedule
type Recurrence struct {
	Type        RecurrenceType `json:"type,omitempty" yaml:"type,omitempty"`
	Days        []string       `json:"days,omitempty" yaml:"days,omitempty"`
	Ends        *Ends          `json:"ends,omitempty" yaml:"ends,omitempty"`
	StartDate   string         `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	OneTimeDate string         `json:"one_time_date,omitempty" yaml:"one_time_date,omitempty"`
}

// IsEmpty reports whether the recurrence carries no information
func (r *Recurrence) IsEmpty() bool {
	return r == nil || (r.Type == "" && len(r.Days) == 0 && r.Ends == nil && r.StartDate == "" && r.OneTimeDate == "")
}

// EndsType selects how a limited recurrence terminates
type EndsType string

const (
	EndsAfterRepetitions EndsType = "after_repetitions"
	EndsOnDate           EndsType = "on_date"
)

// Ends bounds a limited recurrence
type Ends struct {
	Type  EndsType `json:"type" yaml:"type"`
	Value string   `json:"value" yaml:"value"`
}

// RepeatRule is a cron-equivalent schedule, optionally bounded in time.
// Pattern is a five-field cron expression evaluated in UTC.
type RepeatRule struct {
	Pattern   string     `json:"pattern"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

// AgentState is one persisted, sequenced progress entry
type AgentState struct {
	ID           string
	TaskID       string
	UserID       string
	MessageID    string
	Sequence     uint64
	State        StateLabel
	ErrorMessage string
	Timestamp    time.Time
}

// StateLabel is a progress label from a fixed vocabulary.
// Any label may follow any other.
type StateLabel string

const (
	StateInitializing        StateLabel = "initializing"
	StateProcessingInput     StateLabel = "processingInput"
	StateFetchingContext     StateLabel = "fetchingContext"
	StateFetchingCalendar    StateLabel = "fetchingCalendar"
	StateGeneratingResponse  StateLabel = "generatingResponse"
	StateUpdatingProfile     StateLabel = "updatingProfile"
	StateSchedulingReminder  StateLabel = "schedulingReminder"
	StateSendingNotification StateLabel = "sendingNotification"
	StateCompleted           StateLabel = "completed"
	StateError               StateLabel = "error"
	StateCancelled           StateLabel = "cancelled"
	StateTimeout             StateLabel = "timeout"
)

// ActionResult is one short-lived output of a plan action
type ActionResult struct {
	DataID    string          `json:"dataId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChatMessage is one entry in a chat's message log
type ChatMessage struct {
	ID        string
	ChatID    string
	UserID    string
	Role      MessageRole
	Text      string
	CreatedAt time.Time
}

// MessageRole identifies the author of a chat message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// UserProfile holds the long-lived facts the assistant keeps about a user
type UserProfile struct {
	UserID    string
	Name      string
	Timezone  string
	Facts     map[string]string
	UpdatedAt time.Time
}

// Device is a push-notification registration
type Device struct {
	UserID string
	Token  string
}
