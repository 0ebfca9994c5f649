package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/rs/zerolog"
)

// Reporter receives the health of a component after every check
type Reporter func(component string, healthy bool, message string)

// Monitor runs a checker per component on its own interval and reports
// status transitions.
type Monitor struct {
	reporter Reporter
	logger   zerolog.Logger

	mu       sync.Mutex
	probes   map[string]*probe
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// probe tracks health check state for a single component
type probe struct {
	checker Checker
	config  Config
	status  *Status
}

// NewMonitor creates a monitor. A nil reporter updates the process-wide
// health checker served on /health and /ready.
func NewMonitor(reporter Reporter) *Monitor {
	if reporter == nil {
		reporter = metrics.UpdateComponent
	}
	return &Monitor{
		reporter: reporter,
		logger:   log.WithComponent("health"),
		probes:   make(map[string]*probe),
		stopCh:   make(chan struct{}),
	}
}

// Add registers a checker for component. Must be called before Start.
func (m *Monitor) Add(component string, checker Checker, config Config) {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Retries < 1 {
		config.Retries = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[component] = &probe{
		checker: checker,
		config:  config,
		status:  newStatus(time.Now()),
	}
}

// Start runs an immediate check for every component, then keeps checking
// on each component's interval until ctx ends or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, p := range m.probes {
		m.wg.Add(1)
		go m.loop(ctx, name, p)
	}
}

// Stop stops all checks and waits for them to exit
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Status returns a copy of component's current status
func (m *Monitor) Status(component string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.probes[component]
	if !ok {
		return Status{}, false
	}
	return *p.status, true
}

func (m *Monitor) loop(ctx context.Context, name string, p *probe) {
	defer m.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	m.check(ctx, name, p)
	for {
		select {
		case <-ticker.C:
			m.check(ctx, name, p)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context, name string, p *probe) {
	checkCtx := ctx
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	result := p.checker.Check(checkCtx)

	m.mu.Lock()
	changed := p.status.observe(result, p.config)
	state := p.status.State
	failures := p.status.Failures
	m.mu.Unlock()

	if changed {
		event := m.logger.Info()
		if state == StateDown {
			event = m.logger.Warn()
		}
		event.Str("component", name).
			Str("check", string(p.checker.Type())).
			Str("state", string(state)).
			Int("failures", failures).
			Str("result", result.Message).
			Msg("Component health changed")
	}

	if state == StateDown {
		m.reporter(name, false, result.Message)
		return
	}
	m.reporter(name, true, "")
}
