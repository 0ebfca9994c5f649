package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/herald/pkg/events"
	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/cuemby/herald/pkg/storage"
	"github.com/cuemby/herald/pkg/types"
	"github.com/rs/zerolog"
)

// Sender delivers an event to a user's connected clients
type Sender interface {
	SendToUser(userID string, event *events.Event) error
}

// Update is one progress report
type Update struct {
	UserID       string
	TaskID       string
	MessageID    string
	State        types.StateLabel
	ErrorMessage string
}

// Progress is the payload clients receive for an agentState event
type Progress struct {
	Type         string           `json:"type"`
	State        types.StateLabel `json:"state"`
	Timestamp    time.Time        `json:"timestamp"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	TaskID       string           `json:"taskId,omitempty"`
	Sequence     uint64           `json:"sequence"`
}

type pending struct {
	userID string
	state  *types.AgentState
}

// Manager persists sequenced agent states and drains them to clients
type Manager struct {
	store  storage.Store
	sender Sender
	logger zerolog.Logger

	mu    sync.Mutex
	queue []pending
}

// NewManager creates a broadcaster persisting to store and delivering through sender
func NewManager(store storage.Store, sender Sender) *Manager {
	return &Manager{
		store:  store,
		sender: sender,
		logger: log.WithComponent("broadcast"),
	}
}

// SetState records u as the next state of its stream and pushes it to the user.
// Only persistence errors are returned; delivery is best effort.
func (m *Manager) SetState(ctx context.Context, u Update) (*types.AgentState, error) {
	if u.UserID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if u.TaskID == "" && u.MessageID == "" {
		return nil, fmt.Errorf("task ID or message ID is required")
	}

	state := &types.AgentState{
		TaskID:       u.TaskID,
		UserID:       u.UserID,
		MessageID:    u.MessageID,
		State:        u.State,
		ErrorMessage: u.ErrorMessage,
		Timestamp:    time.Now().UTC(),
	}

	if err := m.store.AppendAgentState(state); err != nil {
		return nil, fmt.Errorf("failed to persist agent state: %w", err)
	}
	metrics.AgentStatesTotal.WithLabelValues(string(u.State)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, pending{userID: u.UserID, state: state})
	m.drainOne()

	return state, nil
}

// Announce pushes u to the user without persisting it or advancing the
// stream's sequence. The delivered event carries sequence 0.
func (m *Manager) Announce(ctx context.Context, u Update) {
	if u.UserID == "" {
		return
	}
	state := &types.AgentState{
		TaskID:       u.TaskID,
		UserID:       u.UserID,
		MessageID:    u.MessageID,
		State:        u.State,
		ErrorMessage: u.ErrorMessage,
		Timestamp:    time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, pending{userID: u.UserID, state: state})
	m.drainOne()
}

// drainOne delivers the oldest queued state. Callers hold m.mu.
func (m *Manager) drainOne() {
	if len(m.queue) == 0 {
		return
	}
	next := m.queue[0]
	m.queue = m.queue[1:]

	payload, err := json.Marshal(Progress{
		Type:         string(events.EventAgentState),
		State:        next.state.State,
		Timestamp:    next.state.Timestamp,
		ErrorMessage: next.state.ErrorMessage,
		TaskID:       next.state.TaskID,
		Sequence:     next.state.Sequence,
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to encode progress event")
		return
	}

	err = m.sender.SendToUser(next.userID, &events.Event{
		Type:      events.EventAgentState,
		Timestamp: next.state.Timestamp,
		Payload:   payload,
	})
	if err != nil {
		metrics.DeliveryFailures.WithLabelValues("broadcast").Inc()
		m.logger.Debug().
			Err(err).
			Str("user_id", next.userID).
			Str("state", string(next.state.State)).
			Uint64("sequence", next.state.Sequence).
			Msg("Progress not delivered")
	}
}

// History returns the persisted states of a stream in sequence order
func (m *Manager) History(taskID, messageID string) ([]*types.AgentState, error) {
	return m.store.ListAgentStates(taskID, messageID)
}
