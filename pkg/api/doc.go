/*
Package api implements herald's client-facing surface: the Assistant gRPC
service and the HTTP health and metrics endpoints.

# Architecture

	┌──────────────────── CLIENT (app/CLI) ──────────────────────┐
	│  pkg/client or any gRPC client speaking Struct messages     │
	└─────────────────────┬──────────────────────────────────────┘
	                      │ gRPC (default 127.0.0.1:7070)
	┌─────────────────────▼──── herald serve ────────────────────┐
	│                                                              │
	│  ┌──────────────────────────────────────────────┐          │
	│  │     herald.v1.Assistant (pkg/api)             │          │
	│  │  SendMessage      -> chat.Service             │          │
	│  │  ScheduleReminder -> scheduler.Scheduler      │          │
	│  │  CancelReminder   -> scheduler.Scheduler      │          │
	│  │  ListReminders    -> scheduler.Scheduler      │          │
	│  │  Subscribe        <- events.Broker            │          │
	│  └──────────────────────────────────────────────┘          │
	│  grpc.health.v1.Health                                      │
	│                                                              │
	│  HTTP (default 127.0.0.1:9090): /health /ready /metrics     │
	└──────────────────────────────────────────────────────────┘

# Messages

There is no generated code. The service descriptor is declared by hand in
ServiceDesc and every request and response is a google.protobuf.Struct
holding the JSON form of the Go type on the other side:

	SendMessage       {userId, chatId, messageId, text}   -> chat.Reply
	ScheduleReminder  scheduler.ReminderRequest           -> scheduler.Result
	CancelReminder    {userId, reminderId}                -> scheduler.Result
	ListReminders     {userId}                            -> {reminders: [...]}
	Subscribe         {userId}                            -> stream of events

Each streamed event carries id, type (agentState, chatReply, replyTimeout,
reminderUpdated), userId, timestamp and the event payload as a nested
object.

# Errors

Business outcomes stay in the response body: a reminder that fails
validation returns success=false with a message, and a superseded reply
returns superseded=true. RPC status codes are reserved for transport-level
problems:

  - InvalidArgument: the request could not be decoded or lacks a user
  - NotFound: CancelReminder on an unknown or foreign reminder
  - Unavailable: Subscribe when no event source is configured
  - Internal: handler panics and encoding failures

# Observability

MetricsInterceptor and StreamMetricsInterceptor count every call in
herald_api_requests_total by method and status code and observe
herald_api_request_duration_seconds. The HTTP server exposes the
Prometheus registry on /metrics, liveness on /health and readiness on
/ready. Readiness gates on the storage, queue and cache components.

# Shutdown

Server.Stop ends open Subscribe streams, flips the gRPC health status to
NOT_SERVING and waits for in-flight unary calls. HealthServer.Shutdown
drains HTTP requests until its context ends.
*/
package api
