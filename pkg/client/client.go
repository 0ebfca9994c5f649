package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/herald/pkg/api"
	"github.com/cuemby/herald/pkg/chat"
	"github.com/cuemby/herald/pkg/scheduler"
	"github.com/cuemby/herald/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the Assistant gRPC service for easy CLI usage
type Client struct {
	conn *grpc.ClientConn
}

// Event is one event received from a subscription
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewClient connects to addr without transport security. The API is meant to
// listen on loopback or behind a terminating proxy.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClientWithConn wraps an existing connection
func NewClientWithConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Healthy reports whether the server's Assistant service is serving
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		return false, err
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

// SendMessage sends a chat message and waits for the reply outcome
func (c *Client) SendMessage(ctx context.Context, msg chat.Message) (*chat.Reply, error) {
	var reply chat.Reply
	if err := c.call(ctx, api.SendMessageMethod, msg, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// ScheduleReminder schedules a reminder
func (c *Client) ScheduleReminder(ctx context.Context, req scheduler.ReminderRequest) (*scheduler.Result, error) {
	var res scheduler.Result
	if err := c.call(ctx, api.ScheduleReminderMethod, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelReminder cancels one of userID's reminders
func (c *Client) CancelReminder(ctx context.Context, userID, reminderID string) (*scheduler.Result, error) {
	req := map[string]string{"userId": userID, "reminderId": reminderID}
	var res scheduler.Result
	if err := c.call(ctx, api.CancelReminderMethod, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListReminders lists userID's reminders
func (c *Client) ListReminders(ctx context.Context, userID string) ([]*types.Reminder, error) {
	var res struct {
		Reminders []*types.Reminder `json:"reminders"`
	}
	if err := c.call(ctx, api.ListRemindersMethod, map[string]string{"userId": userID}, &res); err != nil {
		return nil, err
	}
	return res.Reminders, nil
}

// Subscribe streams userID's events to fn until ctx ends, the server closes
// the stream, or fn returns an error.
func (c *Client) Subscribe(ctx context.Context, userID string, fn func(Event) error) error {
	stream, err := c.conn.NewStream(ctx, &api.ServiceDesc.Streams[0], api.SubscribeMethod)
	if err != nil {
		return err
	}

	in, err := structpb.NewStruct(map[string]any{"userId": userID})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var ev Event
		if err := fromStruct(out, &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	in := new(structpb.Struct)
	if err := protojson.Unmarshal(b, in); err != nil {
		return err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return fromStruct(out, resp)
}

func fromStruct(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
