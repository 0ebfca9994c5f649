package api

import (
	"context"
	"strings"

	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MetricsInterceptor records request counts and latency for unary calls and
// converts handler panics into Internal errors.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()

		defer func() {
			if r := recover(); r != nil {
				logger.Error().Str("method", method).Interface("panic", r).Msg("Handler panicked")
				err = status.Errorf(codes.Internal, "internal error: %v", r)
			}
			record(method, timer, err)
		}()

		return handler(ctx, req)
	}
}

// StreamMetricsInterceptor records request counts and latency for streams
func StreamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()

		defer func() {
			if r := recover(); r != nil {
				err = status.Errorf(codes.Internal, "internal error: %v", r)
			}
			record(method, timer, err)
		}()

		return handler(srv, ss)
	}
}

func record(method string, timer *metrics.Timer, err error) {
	metrics.APIRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, method)
}

// methodName extracts the method from a full path
// (e.g., "/herald.v1.Assistant/SendMessage" -> "SendMessage")
func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}
