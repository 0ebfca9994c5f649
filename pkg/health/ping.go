package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is a dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks a dependency through its Ping method
type PingChecker struct {
	target Pinger
}

// NewPingChecker creates a checker for target
func NewPingChecker(target Pinger) *PingChecker {
	return &PingChecker{target: target}
}

// Check performs the ping
func (p *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := p.target.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "ping ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (p *PingChecker) Type() CheckType {
	return CheckTypePing
}
