package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/herald/pkg/queue"
	"github.com/cuemby/herald/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevices struct {
	devices map[string][]*types.Device
	err     error
}

func (f *fakeDevices) ListDevices(userID string) ([]*types.Device, error) {
	return f.devices[userID], f.err
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (f *fakeSender) Send(_ context.Context, token string, p Payload) SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[token] {
		return SendResult{Success: false, Message: "unregistered token"}
	}
	f.sent = append(f.sent, token+":"+p.Title)
	return SendResult{Success: true}
}

type fakeQueue struct {
	name string
	data any
}

func (f *fakeQueue) CreateJob(_ context.Context, name string, data any, _ queue.JobOptions) queue.Result {
	f.name, f.data = name, data
	return queue.Result{Success: true, JobID: "01HJOB"}
}

func notificationJob(t *testing.T, n Notification) *queue.Job {
	t.Helper()
	data, err := json.Marshal(n)
	require.NoError(t, err)
	return &queue.Job{ID: "01HJOB", Name: JobName, Data: data}
}

func TestEnqueue(t *testing.T) {
	q := &fakeQueue{}
	d := NewDispatcher(q, &fakeDevices{}, &fakeSender{}, queue.JobOptions{})

	res := d.Enqueue(context.Background(), Notification{UserID: "u1", Push: Payload{Title: "Stand-up", Body: "in 5 minutes"}})
	require.True(t, res.Success)
	assert.Equal(t, JobName, q.name)

	res = d.Enqueue(context.Background(), Notification{Push: Payload{Title: "x"}})
	assert.False(t, res.Success)

	res = d.Enqueue(context.Background(), Notification{UserID: "u1"})
	assert.False(t, res.Success)
	assert.Equal(t, "notification has no content", res.Message)
}

func TestProcess(t *testing.T) {
	devices := &fakeDevices{devices: map[string][]*types.Device{
		"u1": {{UserID: "u1", Token: "token-aaaaaa"}, {UserID: "u1", Token: "token-bbbbbb"}},
		"u2": {{UserID: "u2", Token: "dead-token"}},
	}}

	tests := []struct {
		name        string
		userID      string
		fail        map[string]bool
		wantSuccess bool
		wantMessage string
	}{
		{"all delivered", "u1", nil, true, "delivered to 2 of 2 devices"},
		{"partial delivery", "u1", map[string]bool{"token-aaaaaa": true}, true, "delivered to 1 of 2 devices"},
		{"every device fails", "u2", map[string]bool{"dead-token": true}, false, "delivery failed: unregistered token"},
		{"no devices", "u3", nil, true, "no devices registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{fail: tt.fail}
			d := NewDispatcher(&fakeQueue{}, devices, sender, queue.JobOptions{})

			out := d.Process(context.Background(), notificationJob(t, Notification{UserID: tt.userID, Push: Payload{Title: "Hi"}}))
			assert.Equal(t, tt.wantSuccess, out.Success)
			assert.Equal(t, tt.wantMessage, out.Message)
		})
	}
}

func TestProcessErrors(t *testing.T) {
	d := NewDispatcher(&fakeQueue{}, &fakeDevices{err: errors.New("store closed")}, &fakeSender{}, queue.JobOptions{})

	out := d.Process(context.Background(), notificationJob(t, Notification{UserID: "u1", Push: Payload{Title: "Hi"}}))
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "store closed")

	out = d.Process(context.Background(), &queue.Job{ID: "j", Data: json.RawMessage(`not json`)})
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "invalid notification payload")
}

func TestPendingResolve(t *testing.T) {
	p := NewPending()

	var fired atomic.Bool
	p.Add("m1", 50*time.Millisecond, func() { fired.Store(true) })
	assert.Equal(t, 1, p.Len())

	assert.True(t, p.Resolve("m1"))
	assert.False(t, p.Resolve("m1"))
	assert.Equal(t, 0, p.Len())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestPendingTimeout(t *testing.T) {
	p := NewPending()

	done := make(chan struct{})
	p.Add("m1", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback did not run")
	}
	assert.False(t, p.Resolve("m1"))
	assert.Equal(t, 0, p.Len())
}

func TestPendingReplace(t *testing.T) {
	p := NewPending()

	var first, second atomic.Int32
	p.Add("m1", 20*time.Millisecond, func() { first.Add(1) })
	p.Add("m1", 20*time.Millisecond, func() { second.Add(1) })

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestPendingCallbackPanic(t *testing.T) {
	p := NewPending()
	p.Add("m1", time.Millisecond, func() { panic("boom") })

	require.Eventually(t, func() bool { return p.Len() == 0 }, time.Second, 5*time.Millisecond)
}
