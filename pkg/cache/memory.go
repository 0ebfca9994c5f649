package cache

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired keys are swept
const DefaultCleanupInterval = 1 * time.Minute

type entry struct {
	value     string
	list      []string
	isList    bool
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Backend with TTL expiry
type Memory struct {
	entries map[string]*entry
	mu      sync.RWMutex
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemory creates an in-memory backend and starts its cleanup goroutine
func NewMemory(cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	m := &Memory{
		entries: make(map[string]*entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}

	go m.cleanupLoop(cleanupInterval)

	return m
}

// Get implements Backend
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.live(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if e.isList {
		return "", fmt.Errorf("%w: %s", ErrWrongType, key)
	}
	return e.value, nil
}

// Set implements Backend
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Del implements Backend
func (m *Memory) Del(ctx context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if _, ok := m.live(key); ok {
			removed++
		}
		delete(m.entries, key)
	}
	return removed, nil
}

// RPush implements Backend
func (m *Memory) RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		e = &entry{isList: true}
		m.entries[key] = e
	}
	if !e.isList {
		return fmt.Errorf("%w: %s", ErrWrongType, key)
	}

	e.list = append(e.list, values...)
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	return nil
}

// LRange implements Backend
func (m *Memory) LRange(ctx context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.live(key)
	if !ok {
		return []string{}, nil
	}
	if !e.isList {
		return nil, fmt.Errorf("%w: %s", ErrWrongType, key)
	}

	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

// Keys implements Backend
func (m *Memory) Keys(ctx context.Context, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var keys []string
	for key, e := range m.entries {
		if e.expired(now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Ping implements Backend
func (m *Memory) Ping(ctx context.Context) error {
	select {
	case <-m.done:
		return fmt.Errorf("memory cache closed")
	default:
		return nil
	}
}

// Close stops the cleanup goroutine
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// live returns the entry for key if it exists and has not expired.
// Callers must hold m.mu.
func (m *Memory) live(key string) (*entry, bool) {
	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return nil, false
	}
	return e, true
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

// cleanup removes expired entries
func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}
