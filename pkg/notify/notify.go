package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/cuemby/herald/pkg/queue"
	"github.com/cuemby/herald/pkg/types"
	"github.com/rs/zerolog"
)

// JobName is the queue job name for push notifications
const JobName = "notification"

// Payload is the user-visible content of a push notification
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// SendResult reports the outcome of one delivery attempt
type SendResult struct {
	Success bool
	Message string
}

// Sender delivers a payload to one device token
type Sender interface {
	Send(ctx context.Context, token string, p Payload) SendResult
}

// DeviceDirectory resolves the push tokens registered for a user
type DeviceDirectory interface {
	ListDevices(userID string) ([]*types.Device, error)
}

// Enqueuer creates queue jobs
type Enqueuer interface {
	CreateJob(ctx context.Context, name string, data any, opts queue.JobOptions) queue.Result
}

// Notification is the payload of a notification job
type Notification struct {
	UserID string  `json:"userId"`
	TaskID string  `json:"taskId,omitempty"`
	Push   Payload `json:"payload"`
}

// Dispatcher queues notifications and delivers them from the queue worker
type Dispatcher struct {
	queue   Enqueuer
	devices DeviceDirectory
	sender  Sender
	opts    queue.JobOptions
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher. opts are applied to every notification job.
func NewDispatcher(q Enqueuer, devices DeviceDirectory, sender Sender, opts queue.JobOptions) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		devices: devices,
		sender:  sender,
		opts:    opts,
		logger:  log.WithComponent("notify"),
	}
}

// Enqueue creates a notification job
func (d *Dispatcher) Enqueue(ctx context.Context, n Notification) queue.Result {
	if n.UserID == "" {
		return queue.Result{Message: "notification requires a user"}
	}
	if n.Push.Title == "" && n.Push.Body == "" {
		return queue.Result{Message: "notification has no content"}
	}
	return d.queue.CreateJob(ctx, JobName, n, d.opts)
}

// Process is the queue handler for notification jobs. It succeeds when at
// least one device accepted the payload, or when the user has no devices.
func (d *Dispatcher) Process(ctx context.Context, job *queue.Job) queue.Outcome {
	var n Notification
	if err := json.Unmarshal(job.Data, &n); err != nil {
		return queue.Outcome{Success: false, Message: fmt.Sprintf("invalid notification payload: %v", err)}
	}

	logger := d.logger.With().
		Str("job_id", job.ID).
		Str("user_id", n.UserID).
		Logger()

	devices, err := d.devices.ListDevices(n.UserID)
	if err != nil {
		return queue.Outcome{Success: false, Message: fmt.Sprintf("failed to list devices: %v", err)}
	}
	if len(devices) == 0 {
		logger.Debug().Msg("No devices registered, dropping notification")
		return queue.Outcome{Success: true, Message: "no devices registered"}
	}

	delivered := 0
	var failures []string
	for _, dev := range devices {
		res := d.sender.Send(ctx, dev.Token, n.Push)
		if res.Success {
			delivered++
			continue
		}
		metrics.DeliveryFailures.WithLabelValues("push").Inc()
		failures = append(failures, res.Message)
		logger.Warn().
			Str("token", redact(dev.Token)).
			Str("reason", res.Message).
			Msg("Push delivery failed")
	}

	if delivered == 0 {
		return queue.Outcome{Success: false, Message: "delivery failed: " + strings.Join(failures, "; ")}
	}
	return queue.Outcome{Success: true, Message: fmt.Sprintf("delivered to %d of %d devices", delivered, len(devices))}
}

func redact(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}

// LogSender writes notifications to the log instead of a push provider
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a LogSender
func NewLogSender() *LogSender {
	return &LogSender{logger: log.WithComponent("notify")}
}

// Send logs the payload and always succeeds
func (s *LogSender) Send(ctx context.Context, token string, p Payload) SendResult {
	s.logger.Info().
		Str("token", redact(token)).
		Str("title", p.Title).
		Str("body", p.Body).
		Msg("Notification")
	return SendResult{Success: true}
}
