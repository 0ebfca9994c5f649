package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/herald/pkg/broadcast"
	"github.com/cuemby/herald/pkg/events"
	"github.com/cuemby/herald/pkg/guard"
	"github.com/cuemby/herald/pkg/llm"
	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/cuemby/herald/pkg/notify"
	"github.com/cuemby/herald/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultReplyTimeout is the window a client waits before a timeout notice
	DefaultReplyTimeout = 30 * time.Second

	historyLimit = 10
)

// MessageStore persists the chat log
type MessageStore interface {
	AppendChatMessage(msg *types.ChatMessage) error
	ReplaceLastUserMessage(msg *types.ChatMessage) (bool, error)
	ListChatMessages(chatID string) ([]*types.ChatMessage, error)
}

// StateReporter publishes progress for a message
type StateReporter interface {
	SetState(ctx context.Context, u broadcast.Update) (*types.AgentState, error)
}

// Message is an incoming user message
type Message struct {
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// Reply is the outcome of handling one message
type Reply struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Text       string `json:"text,omitempty"`
	Superseded bool   `json:"superseded,omitempty"`
}

// ReplyEvent is the payload of a chatReply event
type ReplyEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// Config holds the collaborators of a Service
type Config struct {
	Store        MessageStore
	Guard        *guard.Guard
	Generator    llm.Generator
	States       StateReporter
	Sender       broadcast.Sender
	Pending      *notify.Pending
	ReplyTimeout time.Duration
}

// Service answers chat messages, one current reply per chat
type Service struct {
	store        MessageStore
	guard        *guard.Guard
	generator    llm.Generator
	states       StateReporter
	sender       broadcast.Sender
	pending      *notify.Pending
	replyTimeout time.Duration
	logger       zerolog.Logger
}

// NewService creates a chat service
func NewService(cfg Config) *Service {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.Pending == nil {
		cfg.Pending = notify.NewPending()
	}
	return &Service{
		store:        cfg.Store,
		guard:        cfg.Guard,
		generator:    cfg.Generator,
		states:       cfg.States,
		sender:       cfg.Sender,
		pending:      cfg.Pending,
		replyTimeout: cfg.ReplyTimeout,
		logger:       log.WithComponent("chat"),
	}
}

// HandleMessage records msg and generates a reply. A message arriving while
// an earlier reply is still being generated supersedes it: the earlier user
// message is replaced and only the newest generation's reply is stored and
// delivered.
func (s *Service) HandleMessage(ctx context.Context, msg Message) Reply {
	if msg.UserID == "" || msg.ChatID == "" {
		return Reply{Message: "userId and chatId are required"}
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Reply{Message: "message text is required"}
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}

	logger := log.ForMessage(s.logger, msg.UserID, msg.ChatID, msg.MessageID)

	gen, superseded, err := s.guard.Begin(ctx, msg.UserID, msg.ChatID)
	if err != nil {
		return Reply{Message: err.Error()}
	}
	defer func() {
		if err := s.guard.Finish(context.WithoutCancel(ctx), gen); err != nil {
			logger.Warn().Err(err).Msg("Failed to release processing flag")
		}
	}()

	userMsg := &types.ChatMessage{
		ID:        msg.MessageID,
		ChatID:    msg.ChatID,
		UserID:    msg.UserID,
		Role:      types.RoleUser,
		Text:      msg.Text,
		CreatedAt: time.Now().UTC(),
	}
	if superseded {
		replaced, err := s.store.ReplaceLastUserMessage(userMsg)
		if err != nil {
			return Reply{Message: fmt.Sprintf("failed to save message: %v", err)}
		}
		logger.Debug().Bool("replaced", replaced).Msg("Superseded earlier message")
	} else if err := s.store.AppendChatMessage(userMsg); err != nil {
		return Reply{Message: fmt.Sprintf("failed to save message: %v", err)}
	}

	s.report(ctx, msg, types.StateProcessingInput, "")

	s.pending.Add(msg.MessageID, s.replyTimeout, func() {
		s.timedOut(msg)
	})

	prompt, err := s.prompt(msg.ChatID)
	if err != nil {
		s.pending.Resolve(msg.MessageID)
		return Reply{Message: err.Error()}
	}

	s.report(ctx, msg, types.StateGeneratingResponse, "")

	callCtx, cancel := context.WithTimeout(gen.Context(), s.replyTimeout)
	text, genErr := s.generator.Generate(callCtx, prompt, llm.InstructionChatReply, nil)
	cancel()
	waiting := s.pending.Resolve(msg.MessageID)

	current, err := s.guard.Current(ctx, gen)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to check generation")
	}
	if !current {
		logger.Debug().Msg("Dropping superseded reply")
		return Reply{Message: "reply superseded by a newer message", Superseded: true}
	}

	if genErr != nil {
		logger.Warn().Err(genErr).Msg("Reply generation failed")
		// The timeout callback has already told the client
		if !waiting && errors.Is(genErr, context.DeadlineExceeded) {
			return Reply{Message: fmt.Sprintf("failed to generate reply: %v", genErr)}
		}
		s.report(ctx, msg, types.StateError, genErr.Error())
		return Reply{Message: fmt.Sprintf("failed to generate reply: %v", genErr)}
	}

	reply := &types.ChatMessage{
		ID:        uuid.New().String(),
		ChatID:    msg.ChatID,
		UserID:    msg.UserID,
		Role:      types.RoleAssistant,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendChatMessage(reply); err != nil {
		s.report(ctx, msg, types.StateError, err.Error())
		return Reply{Message: fmt.Sprintf("failed to save reply: %v", err)}
	}

	s.deliver(msg, text)
	s.report(ctx, msg, types.StateCompleted, "")

	return Reply{Success: true, Text: text}
}

// prompt renders the recent chat log, oldest first
func (s *Service) prompt(chatID string) (string, error) {
	history, err := s.store.ListChatMessages(chatID)
	if err != nil {
		return "", fmt.Errorf("failed to load chat history: %w", err)
	}
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	return b.String(), nil
}

func (s *Service) deliver(msg Message, text string) {
	payload, err := json.Marshal(ReplyEvent{ChatID: msg.ChatID, MessageID: msg.MessageID, Text: text})
	if err != nil {
		return
	}
	s.send(msg.UserID, events.EventChatReply, payload)
}

func (s *Service) timedOut(msg Message) {
	metrics.ReplyTimeouts.Inc()
	s.logger.Warn().
		Str("chat_id", msg.ChatID).
		Str("message_id", msg.MessageID).
		Dur("timeout", s.replyTimeout).
		Msg("Reply timed out")

	s.report(context.Background(), msg, types.StateTimeout, "no reply within "+s.replyTimeout.String())

	payload, err := json.Marshal(ReplyEvent{ChatID: msg.ChatID, MessageID: msg.MessageID})
	if err != nil {
		return
	}
	s.send(msg.UserID, events.EventReplyTimeout, payload)
}

func (s *Service) send(userID string, t events.EventType, payload json.RawMessage) {
	if s.sender == nil {
		return
	}
	if err := s.sender.SendToUser(userID, &events.Event{Type: t, Payload: payload}); err != nil {
		metrics.DeliveryFailures.WithLabelValues("chat").Inc()
		s.logger.Debug().Err(err).Str("user_id", userID).Str("type", string(t)).Msg("Event not delivered")
	}
}

func (s *Service) report(ctx context.Context, msg Message, state types.StateLabel, errMsg string) {
	if s.states == nil {
		return
	}
	_, err := s.states.SetState(ctx, broadcast.Update{
		UserID:       msg.UserID,
		MessageID:    msg.MessageID,
		State:        state,
		ErrorMessage: errMsg,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("state", string(state)).Msg("Failed to report progress")
	}
}
