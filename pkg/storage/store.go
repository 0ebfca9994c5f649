package storage

import (
	"errors"

	"github.com/cuemby/herald/pkg/types"
)

// ErrNotFound is wrapped by every lookup miss
var ErrNotFound = errors.New("not found")

// Store defines the interface for assistant state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasksByUser(userID string) ([]*types.Task, error)

	// Reminders
	CreateReminder(reminder *types.Reminder) error
	GetReminder(id string) (*types.Reminder, error)
	GetReminderByJobID(jobID string) (*types.Reminder, error)
	ListReminders() ([]*types.Reminder, error)
	ListRemindersByUser(userID string) ([]*types.Reminder, error)
	UpdateReminder(reminder *types.Reminder) error
	RepointReminderJob(oldJobID, newJobID string) (*types.Reminder, error)
	DeleteReminder(id string) error

	// Agent states
	AppendAgentState(state *types.AgentState) error
	ListAgentStates(taskID, messageID string) ([]*types.AgentState, error)

	// Chat messages
	AppendChatMessage(msg *types.ChatMessage) error
	ReplaceLastUserMessage(msg *types.ChatMessage) (replaced bool, err error)
	ListChatMessages(chatID string) ([]*types.ChatMessage, error)

	// Profiles
	GetProfile(userID string) (*types.UserProfile, error)
	PutProfile(profile *types.UserProfile) error

	// Devices
	RegisterDevice(device *types.Device) error
	ListDevices(userID string) ([]*types.Device, error)
	RemoveDevice(userID, token string) error

	// Utility
	Close() error
}

// StreamKey identifies the sequence an agent state belongs to.
// Task-bound states share the task's stream; chat states use the message's.
func StreamKey(taskID, messageID string) string {
	if taskID != "" {
		return taskID
	}
	return "msg:" + messageID
}
