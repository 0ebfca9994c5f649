package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoSubscribers is returned when the user has no open channel
	ErrNoSubscribers = errors.New("user has no active subscribers")
	// ErrBufferFull is returned when the broker cannot accept more events
	ErrBufferFull = errors.New("event buffer full")
	// ErrStopped is returned after Stop
	ErrStopped = errors.New("broker stopped")
)

// EventType represents the type of event
type EventType string

const (
	EventAgentState      EventType = "agentState"
	EventChatReply       EventType = "chatReply"
	EventReplyTimeout    EventType = "replyTimeout"
	EventReminderUpdated EventType = "reminderUpdated"
)

// Event is one message delivered to a user's clients
type Event struct {
	ID        string
	Type      EventType
	UserID    string
	Timestamp time.Time
	Payload   json.RawMessage
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker delivers events to the subscribers of one user at a time
type Broker struct {
	subscribers map[string]map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe opens a channel for userID's events
func (b *Broker) Subscribe(userID string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	if b.subscribers[userID] == nil {
		b.subscribers[userID] = make(map[Subscriber]bool)
	}
	b.subscribers[userID][sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(userID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[userID]
	if !subs[sub] {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}
	close(sub)
}

// SendToUser queues an event for userID's subscribers.
// Events for one user are delivered in the order they were sent.
func (b *Broker) SendToUser(userID string, event *Event) error {
	if b.SubscriberCount(userID) == 0 {
		return ErrNoSubscribers
	}

	event.UserID = userID
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return ErrStopped
	default:
	}

	select {
	case b.eventCh <- event:
		return nil
	case <-b.stopCh:
		return ErrStopped
	default:
		return ErrBufferFull
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[event.UserID] {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of open channels for userID
func (b *Broker) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}

// TotalSubscribers returns the number of open channels across all users
func (b *Broker) TotalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}
