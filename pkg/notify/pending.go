package notify

import (
	"sync"
	"time"

	"github.com/cuemby/herald/pkg/log"
	"github.com/rs/zerolog"
)

// Pending correlates outstanding requests with a timeout callback.
// One instance is owned by the component waiting for replies.
type Pending struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	logger  zerolog.Logger
}

type pendingEntry struct {
	timer     *time.Timer
	onTimeout func()
}

// NewPending creates an empty table
func NewPending() *Pending {
	return &Pending{
		entries: make(map[string]*pendingEntry),
		logger:  log.WithComponent("notify"),
	}
}

// Add registers id. onTimeout runs once if id is not resolved within timeout.
// Adding an id that is already pending replaces the earlier registration.
func (p *Pending) Add(id string, timeout time.Duration, onTimeout func()) {
	entry := &pendingEntry{onTimeout: onTimeout}

	p.mu.Lock()
	if old, ok := p.entries[id]; ok {
		old.timer.Stop()
	}
	p.entries[id] = entry
	entry.timer = time.AfterFunc(timeout, func() { p.expire(id, entry) })
	p.mu.Unlock()
}

// Resolve removes id and reports whether it was still pending
func (p *Pending) Resolve(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(p.entries, id)
	return true
}

// Len returns the number of outstanding requests
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pending) expire(id string, entry *pendingEntry) {
	p.mu.Lock()
	if p.entries[id] != entry {
		p.mu.Unlock()
		return
	}
	delete(p.entries, id)
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("request_id", id).Interface("panic", r).Msg("Timeout callback panicked")
		}
	}()
	entry.onTimeout()
}
