package results

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/herald/pkg/actions"
	"github.com/cuemby/herald/pkg/cache"
	"github.com/cuemby/herald/pkg/types"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long a task's results outlive their last write
	DefaultTTL = 1 * time.Hour

	statusCompleted = "completed"
)

// Store keeps short-lived action results under task:{taskID}:{actionType}.
// Expiry is the only garbage collection; nothing deletes keys on success.
type Store struct {
	backend cache.Backend
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates a result store on backend
func NewStore(backend cache.Backend, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{backend: backend, ttl: ttl, now: time.Now}
}

// Key returns the list key for one action type of a task
func Key(taskID string, kind actions.Kind) string {
	return fmt.Sprintf("task:%s:%s", taskID, kind)
}

func pattern(taskID string) string {
	return fmt.Sprintf("task:%s:*", taskID)
}

// StoreActionData wraps data as an ActionResult and appends it to the task's
// list for kind, refreshing the key's TTL in the same step.
func (s *Store) StoreActionData(ctx context.Context, taskID string, kind actions.Kind, data any) (*types.ActionResult, error) {
	desc, ok := actions.Describe(kind)
	if !ok {
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s data: %w", kind, err)
	}

	result := &types.ActionResult{
		DataID:    uuid.New().String(),
		Type:      desc.DataShape,
		Data:      payload,
		Status:    statusCompleted,
		Timestamp: s.now().UTC(),
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	if err := s.backend.RPush(ctx, Key(taskID, kind), s.ttl, string(encoded)); err != nil {
		return nil, fmt.Errorf("failed to store %s result for task %s: %w", kind, taskID, err)
	}
	return result, nil
}

// GetActionData returns every stored result for a task, ordered by key and
// then by insertion. It returns nil when the task has none.
func (s *Store) GetActionData(ctx context.Context, taskID string) ([]types.ActionResult, error) {
	keys, err := s.backend.Keys(ctx, pattern(taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to scan results for task %s: %w", taskID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	var out []types.ActionResult
	for _, key := range keys {
		items, err := s.backend.LRange(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		for _, item := range items {
			var r types.ActionResult
			if err := json.Unmarshal([]byte(item), &r); err != nil {
				return nil, fmt.Errorf("corrupt result in %s: %w", key, err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// GetKindData returns the stored results of one action type for a task
func (s *Store) GetKindData(ctx context.Context, taskID string, kind actions.Kind) ([]types.ActionResult, error) {
	items, err := s.backend.LRange(ctx, Key(taskID, kind))
	if err != nil {
		return nil, err
	}
	out := make([]types.ActionResult, 0, len(items))
	for _, item := range items {
		var r types.ActionResult
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("corrupt result in %s: %w", Key(taskID, kind), err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ClearTaskData deletes every result key of a task. Clearing twice is a no-op.
func (s *Store) ClearTaskData(ctx context.Context, taskID string) error {
	keys, err := s.backend.Keys(ctx, pattern(taskID))
	if err != nil {
		return fmt.Errorf("failed to scan results for task %s: %w", taskID, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.backend.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear results for task %s: %w", taskID, err)
	}
	return nil
}
