package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/herald/pkg/broadcast"
	"github.com/cuemby/herald/pkg/cache"
	"github.com/cuemby/herald/pkg/events"
	"github.com/cuemby/herald/pkg/guard"
	"github.com/cuemby/herald/pkg/llm"
	"github.com/cuemby/herald/pkg/storage"
	"github.com/cuemby/herald/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *fakeSender) SendToUser(userID string, e *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *fakeSender) ofType(t events.EventType) []*events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*events.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *storage.BoltStore
	sender *fakeSender
	guard  *guard.Guard
}

func newFixture(t *testing.T, gen llm.Generator, timeout time.Duration) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mem := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })

	sender := &fakeSender{}
	g := guard.New(mem, time.Minute)
	svc := NewService(Config{
		Store:        store,
		Guard:        g,
		Generator:    gen,
		States:       broadcast.NewManager(store, sender),
		Sender:       sender,
		ReplyTimeout: timeout,
	})
	return &fixture{svc: svc, store: store, sender: sender, guard: g}
}

func TestHandleMessage(t *testing.T) {
	var gotPrompt string
	gen := llm.Func(func(_ context.Context, prompt string, instr llm.Instruction, _ json.RawMessage) (string, error) {
		gotPrompt = prompt
		assert.Equal(t, llm.InstructionChatReply, instr)
		return "Sure, 9am works.", nil
	})
	f := newFixture(t, gen, time.Second)

	reply := f.svc.HandleMessage(context.Background(), Message{UserID: "u1", ChatID: "c1", MessageID: "m1", Text: "Can we meet at 9?"})
	require.True(t, reply.Success, reply.Message)
	assert.Equal(t, "Sure, 9am works.", reply.Text)
	assert.Contains(t, gotPrompt, "user: Can we meet at 9?")

	msgs, err := f.store.ListChatMessages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)

	replies := f.sender.ofType(events.EventChatReply)
	require.Len(t, replies, 1)
	assert.JSONEq(t, `{"chatId":"c1","messageId":"m1","text":"Sure, 9am works."}`, string(replies[0].Payload))

	states, err := f.store.ListAgentStates("", "m1")
	require.NoError(t, err)
	var labels []types.StateLabel
	for _, s := range states {
		labels = append(labels, s.State)
	}
	assert.Equal(t, []types.StateLabel{types.StateProcessingInput, types.StateGeneratingResponse, types.StateCompleted}, labels)
	assert.Equal(t, 0, f.guard.Active())
}

func TestHandleMessageValidation(t *testing.T) {
	f := newFixture(t, llm.Func(func(context.Context, string, llm.Instruction, json.RawMessage) (string, error) {
		t.Fatal("generator must not be called")
		return "", nil
	}), time.Second)

	assert.False(t, f.svc.HandleMessage(context.Background(), Message{ChatID: "c1", Text: "hi"}).Success)
	assert.False(t, f.svc.HandleMessage(context.Background(), Message{UserID: "u1", ChatID: "c1", Text: "  "}).Success)
}

func TestSupersededReplyIsDropped(t *testing.T) {
	started := make(chan struct{})
	gen := llm.Func(func(ctx context.Context, prompt string, _ llm.Instruction, _ json.RawMessage) (string, error) {
		if strings.Contains(prompt, "first question") {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "answer to the second question", nil
	})
	f := newFixture(t, gen, 5*time.Second)
	ctx := context.Background()

	firstDone := make(chan Reply, 1)
	go func() {
		firstDone <- f.svc.HandleMessage(ctx, Message{UserID: "u1", ChatID: "c1", MessageID: "m1", Text: "first question"})
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first generation did not start")
	}

	second := f.svc.HandleMessage(ctx, Message{UserID: "u1", ChatID: "c1", MessageID: "m2", Text: "second question"})
	require.True(t, second.Success, second.Message)

	var first Reply
	select {
	case first = <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first generation did not return")
	}
	assert.False(t, first.Success)
	assert.True(t, first.Superseded)

	msgs, err := f.store.ListChatMessages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "second question", msgs[0].Text)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "answer to the second question", msgs[1].Text)

	assert.Len(t, f.sender.ofType(events.EventChatReply), 1)
	assert.Equal(t, 0, f.guard.Active())
}

func TestReplyTimeout(t *testing.T) {
	gen := llm.Func(func(context.Context, string, llm.Instruction, json.RawMessage) (string, error) {
		time.Sleep(100 * time.Millisecond)
		return "", errors.New("upstream slow")
	})
	f := newFixture(t, gen, 20*time.Millisecond)

	reply := f.svc.HandleMessage(context.Background(), Message{UserID: "u1", ChatID: "c1", MessageID: "m1", Text: "hello?"})
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Message, "upstream slow")

	require.Eventually(t, func() bool {
		return len(f.sender.ofType(events.EventReplyTimeout)) == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		states, err := f.store.ListAgentStates("", "m1")
		if err != nil {
			return false
		}
		for _, s := range states {
			if s.State == types.StateTimeout {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestReplyTimeoutReportedOnce(t *testing.T) {
	gen := llm.Func(func(ctx context.Context, _ string, _ llm.Instruction, _ json.RawMessage) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, gen, 20*time.Millisecond)

	reply := f.svc.HandleMessage(context.Background(), Message{UserID: "u1", ChatID: "c1", MessageID: "m1", Text: "hello?"})
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Message, context.DeadlineExceeded.Error())

	labels := func() []types.StateLabel {
		states, err := f.store.ListAgentStates("", "m1")
		require.NoError(t, err)
		var out []types.StateLabel
		for _, s := range states {
			out = append(out, s.State)
		}
		return out
	}

	require.Eventually(t, func() bool {
		for _, l := range labels() {
			if l == types.StateTimeout {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(f.sender.ofType(events.EventReplyTimeout)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.NotContains(t, labels(), types.StateError)
}

func TestGeneratorError(t *testing.T) {
	gen := llm.Func(func(context.Context, string, llm.Instruction, json.RawMessage) (string, error) {
		return "", errors.New("model overloaded")
	})
	f := newFixture(t, gen, time.Second)

	reply := f.svc.HandleMessage(context.Background(), Message{UserID: "u1", ChatID: "c1", MessageID: "m1", Text: "hi"})
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Message, "model overloaded")
	assert.Empty(t, f.sender.ofType(events.EventChatReply))

	states, err := f.store.ListAgentStates("", "m1")
	require.NoError(t, err)
	last := states[len(states)-1]
	assert.Equal(t, types.StateError, last.State)
	assert.Equal(t, "model overloaded", last.ErrorMessage)

	// the flag is released after a failure
	_, superseded, err := f.guard.Begin(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.False(t, superseded)
}
