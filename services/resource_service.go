package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arena_server/models"
)

// The guard below is the sole read-modify-write path for every session
// entity: lock the key, load the whole JSON value, let the caller mutate it,
// write the whole value back on clean exit. Wholesale overwrite, never field
// patches; partial updates are how stale-field bugs happen under concurrent
// schema drift.

const defaultLockWait = 5 * time.Second

// WithResource runs fn inside the guarded critical section for key. fn
// receives the current value (nil pointer when absent) and returns the value
// to persist:
//   - returning an error writes nothing and surfaces the error;
//   - returning nil deletes the key;
//   - returning an unchanged value writes nothing;
//   - otherwise the stored value is deleted and fully rewritten with ttl.
//
// If lock ownership was lost by write time the mutation is discarded and a
// ConflictError is returned.
func WithResource[T any](ctx context.Context, locks *LockService, kv KV, key string, ttl time.Duration, fn func(value *T, exists bool) (*T, error)) (*T, error) {
	lock, err := locks.Acquire(ctx, key, defaultLockWait)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	raw, err := kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var current *T
	if raw != nil {
		current = new(T)
		if err := json.Unmarshal(raw, current); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resource '%s': %w", key, err)
		}
	}

	next, err := fn(current, raw != nil)
	if err != nil {
		return nil, err
	}

	if next == nil {
		if raw == nil {
			return nil, nil
		}
		if err := ensureOwned(ctx, lock, key); err != nil {
			return nil, err
		}
		if err := kv.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource '%s': %w", key, err)
	}
	if raw != nil && bytes.Equal(raw, encoded) {
		return next, nil
	}
	if err := ensureOwned(ctx, lock, key); err != nil {
		return nil, err
	}
	if raw != nil {
		if err := kv.Delete(ctx, key); err != nil {
			return nil, err
		}
	}
	if err := kv.Set(ctx, key, encoded, ttl); err != nil {
		return nil, err
	}
	return next, nil
}

func unmarshalJSON(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal stored value: %w", err)
	}
	return nil
}

func ensureOwned(ctx context.Context, lock *Lock, key string) error {
	owned, err := lock.Owned(ctx)
	if err != nil {
		return err
	}
	if !owned {
		return &models.ConflictError{Message: fmt.Sprintf("lost lock on %s before write, mutation discarded", key)}
	}
	return nil
}
