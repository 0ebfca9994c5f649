package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cuemby/herald/pkg/api"
	"github.com/cuemby/herald/pkg/chat"
	"github.com/cuemby/herald/pkg/events"
	"github.com/cuemby/herald/pkg/scheduler"
	"github.com/cuemby/herald/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type stubChat struct{}

func (stubChat) HandleMessage(ctx context.Context, msg chat.Message) chat.Reply {
	if msg.Text == "" {
		return chat.Reply{Message: "message text is required"}
	}
	return chat.Reply{Success: true, Text: "ok"}
}

type stubReminders struct {
	reminders map[string]*types.Reminder
}

func (s *stubReminders) ScheduleReminder(ctx context.Context, req scheduler.ReminderRequest) scheduler.Result {
	r := &types.Reminder{ID: "r1", JobID: "j1", UserID: req.UserID, TaskDescription: req.TaskDescription, Status: types.ReminderStatusScheduled}
	s.reminders[r.ID] = r
	return scheduler.Result{Success: true, Message: "reminder scheduled", ReminderID: r.ID, JobID: r.JobID}
}

func (s *stubReminders) CancelReminder(ctx context.Context, userID, reminderID string) scheduler.Result {
	r, ok := s.reminders[reminderID]
	if !ok || r.UserID != userID {
		return scheduler.Result{Message: "reminder not found", NotFound: true}
	}
	r.Status = types.ReminderStatusCancelled
	return scheduler.Result{Success: true, Message: "reminder cancelled", ReminderID: r.ID}
}

func (s *stubReminders) ListReminders(ctx context.Context, userID string) ([]*types.Reminder, error) {
	var out []*types.Reminder
	for _, r := range s.reminders {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestClient(t *testing.T, source api.EventSource) *Client {
	t.Helper()

	srv := api.NewServer(stubChat{}, &stubReminders{reminders: map[string]*types.Reminder{}}, source)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientReminderLifecycle(t *testing.T) {
	c := newTestClient(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	healthy, err := c.Healthy(ctx)
	require.NoError(t, err)
	assert.True(t, healthy)

	res, err := c.ScheduleReminder(ctx, scheduler.ReminderRequest{
		UserID:          "u1",
		TaskDescription: "Stand-up",
		Time:            "09:30",
		Recurrence:      &types.Recurrence{Type: types.RecurrenceDaily},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "r1", res.ReminderID)
	assert.Equal(t, "j1", res.JobID)

	list, err := c.ListReminders(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Stand-up", list[0].TaskDescription)
	assert.Equal(t, types.ReminderStatusScheduled, list[0].Status)

	_, err = c.CancelReminder(ctx, "u2", "r1")
	assert.Equal(t, codes.NotFound, status.Code(err), "foreign reminders are invisible")

	res, err = c.CancelReminder(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestClientSendMessage(t *testing.T) {
	c := newTestClient(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := c.SendMessage(ctx, chat.Message{UserID: "u1", ChatID: "c1", Text: "hi"})
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, "ok", reply.Text)

	reply, err = c.SendMessage(ctx, chat.Message{UserID: "u1", ChatID: "c1"})
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Equal(t, "message text is required", reply.Message)
}

func TestClientSubscribe(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	c := newTestClient(t, broker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for broker.SubscriberCount("u1") == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		_ = broker.SendToUser("u1", &events.Event{Type: events.EventChatReply, Payload: json.RawMessage(`{"text":"one"}`)})
		_ = broker.SendToUser("u1", &events.Event{Type: events.EventChatReply, Payload: json.RawMessage(`{"text":"two"}`)})
	}()

	errDone := errors.New("done")
	var got []string
	err := c.Subscribe(ctx, "u1", func(ev Event) error {
		var p struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, "chatReply", ev.Type)
		got = append(got, p.Text)
		if len(got) == 2 {
			return errDone
		}
		return nil
	})
	assert.ErrorIs(t, err, errDone)
	assert.Equal(t, []string{"one", "two"}, got, "events arrive in send order")
}
