package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/herald/pkg/cache"
	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTTL bounds how long a processing flag survives a crashed generation
const DefaultTTL = 5 * time.Minute

// Key returns the processing flag key of a chat
func Key(userID, chatID string) string {
	return fmt.Sprintf("bot_processing:%s:%s", userID, chatID)
}

// Generation is one attempt at replying in a chat. Its context is cancelled
// when a newer generation supersedes it or when it finishes.
type Generation struct {
	UserID string
	ChatID string
	Token  string

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the generation's cancellable context
func (g *Generation) Context() context.Context {
	return g.ctx
}

// Guard tracks the current reply generation of every chat
type Guard struct {
	backend cache.Backend
	ttl     time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	active map[string]*Generation
}

// New creates a guard storing its flags in backend
func New(backend cache.Backend, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		backend: backend,
		ttl:     ttl,
		logger:  log.WithComponent("guard"),
		active:  make(map[string]*Generation),
	}
}

// Begin starts a new generation for the chat. When a flag is already set the
// earlier generation is cancelled and superseded is true.
func (g *Guard) Begin(ctx context.Context, userID, chatID string) (gen *Generation, superseded bool, err error) {
	key := Key(userID, chatID)

	g.mu.Lock()
	defer g.mu.Unlock()

	_, err = g.backend.Get(ctx, key)
	switch {
	case err == nil:
		superseded = true
	case !errors.Is(err, cache.ErrNotFound):
		return nil, false, fmt.Errorf("failed to read processing flag: %w", err)
	}

	if prev, ok := g.active[key]; ok {
		prev.cancel()
		delete(g.active, key)
	}
	if superseded {
		if _, err := g.backend.Del(ctx, key); err != nil {
			return nil, false, fmt.Errorf("failed to clear processing flag: %w", err)
		}
		metrics.RepliesSuperseded.Inc()
		g.logger.Debug().Str("user_id", userID).Str("chat_id", chatID).Msg("Superseding reply in progress")
	}

	genCtx, cancel := context.WithCancel(ctx)
	gen = &Generation{
		UserID: userID,
		ChatID: chatID,
		Token:  uuid.New().String(),
		ctx:    genCtx,
		cancel: cancel,
	}

	if err := g.backend.Set(ctx, key, gen.Token, g.ttl); err != nil {
		cancel()
		return nil, superseded, fmt.Errorf("failed to set processing flag: %w", err)
	}
	g.active[key] = gen
	return gen, superseded, nil
}

// Current reports whether gen still owns its chat's flag
func (g *Guard) Current(ctx context.Context, gen *Generation) (bool, error) {
	if gen.ctx.Err() != nil {
		return false, nil
	}
	token, err := g.backend.Get(ctx, Key(gen.UserID, gen.ChatID))
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read processing flag: %w", err)
	}
	return token == gen.Token, nil
}

// Finish releases gen. The flag is cleared only while gen still owns it.
func (g *Guard) Finish(ctx context.Context, gen *Generation) error {
	key := Key(gen.UserID, gen.ChatID)

	g.mu.Lock()
	defer g.mu.Unlock()

	gen.cancel()
	if g.active[key] == gen {
		delete(g.active, key)
	}

	token, err := g.backend.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read processing flag: %w", err)
	}
	if token != gen.Token {
		return nil
	}
	if _, err := g.backend.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to clear processing flag: %w", err)
	}
	return nil
}

// Active returns the number of generations in progress in this process
func (g *Guard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
