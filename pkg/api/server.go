package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/herald/pkg/chat"
	"github.com/cuemby/herald/pkg/events"
	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/scheduler"
	"github.com/cuemby/herald/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChatService handles incoming user messages
type ChatService interface {
	HandleMessage(ctx context.Context, msg chat.Message) chat.Reply
}

// ReminderService schedules and cancels reminders
type ReminderService interface {
	ScheduleReminder(ctx context.Context, req scheduler.ReminderRequest) scheduler.Result
	CancelReminder(ctx context.Context, userID, reminderID string) scheduler.Result
	ListReminders(ctx context.Context, userID string) ([]*types.Reminder, error)
}

// EventSource hands out per-user event subscriptions
type EventSource interface {
	Subscribe(userID string) events.Subscriber
	Unsubscribe(userID string, sub events.Subscriber)
}

// Server implements the Assistant gRPC service
type Server struct {
	chat      ChatService
	reminders ReminderService
	events    EventSource
	grpc      *grpc.Server
	health    *health.Server
	logger    zerolog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewServer creates a new API server. The standard gRPC health service is
// registered alongside the Assistant service.
func NewServer(chatSvc ChatService, reminders ReminderService, source EventSource) *Server {
	s := &Server{
		chat:      chatSvc,
		reminders: reminders,
		events:    source,
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(MetricsInterceptor()),
			grpc.ChainStreamInterceptor(StreamMetricsInterceptor()),
		),
		health: health.NewServer(),
		logger: log.WithComponent("api"),
		stopCh: make(chan struct{}),
	}

	RegisterAssistantServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

// Start starts the gRPC server
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}

	s.logger.Info().Str("addr", addr).Msg("gRPC API listening")
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop ends open event streams and gracefully stops the gRPC server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}

// SendMessage handles one chat message and returns the reply outcome
func (s *Server) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg chat.Message
	if err := decode(in, &msg); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid message: %v", err)
	}

	return respond(s.chat.HandleMessage(ctx, msg))
}

// ScheduleReminder schedules a reminder. Validation failures are reported in
// the result, not as RPC errors.
func (s *Server) ScheduleReminder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req scheduler.ReminderRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid reminder request: %v", err)
	}

	return respond(s.reminders.ScheduleReminder(ctx, req))
}

type cancelRequest struct {
	UserID     string `json:"userId"`
	ReminderID string `json:"reminderId"`
}

// CancelReminder cancels a reminder owned by the caller
func (s *Server) CancelReminder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req cancelRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid cancel request: %v", err)
	}
	if req.UserID == "" || req.ReminderID == "" {
		return nil, status.Error(codes.InvalidArgument, "userId and reminderId are required")
	}

	res := s.reminders.CancelReminder(ctx, req.UserID, req.ReminderID)
	if res.NotFound {
		return nil, status.Error(codes.NotFound, res.Message)
	}
	return respond(res)
}

type userRequest struct {
	UserID string `json:"userId"`
}

// ListReminders returns the caller's reminders
func (s *Server) ListReminders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req userRequest
	if err := decode(in, &req); err != nil || req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "userId is required")
	}

	reminders, err := s.reminders.ListReminders(ctx, req.UserID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list reminders: %v", err)
	}
	if reminders == nil {
		reminders = []*types.Reminder{}
	}
	return respond(map[string]any{"reminders": reminders})
}

// eventMessage is the wire form of one streamed event
type eventMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Subscribe streams the caller's events until the client goes away or the
// server stops.
func (s *Server) Subscribe(in *structpb.Struct, stream grpc.ServerStream) error {
	var req userRequest
	if err := decode(in, &req); err != nil || req.UserID == "" {
		return status.Error(codes.InvalidArgument, "userId is required")
	}
	if s.events == nil {
		return status.Error(codes.Unavailable, "event streaming is not enabled")
	}

	sub := s.events.Subscribe(req.UserID)
	defer s.events.Unsubscribe(req.UserID, sub)

	logger := s.logger.With().Str("user_id", req.UserID).Logger()
	logger.Debug().Msg("Client subscribed")

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			out, err := encode(eventMessage{
				ID:        ev.ID,
				Type:      string(ev.Type),
				UserID:    ev.UserID,
				Timestamp: ev.Timestamp,
				Payload:   ev.Payload,
			})
			if err != nil {
				logger.Warn().Err(err).Str("event_id", ev.ID).Msg("Dropping unencodable event")
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			logger.Debug().Msg("Client unsubscribed")
			return nil
		case <-s.stopCh:
			return nil
		}
	}
}

func respond(v any) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}
