package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"arena_server/models"
)

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	locks := &LockService{KV: kv}

	first, err := locks.Acquire(ctx, "resource", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	_, err = locks.Acquire(ctx, "resource", 60*time.Millisecond)
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict while held, got %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	second, err := locks.Acquire(ctx, "resource", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	second.Release(ctx)
}

func TestLockExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	now := time.Now()
	kv.nowFunc = func() time.Time { return now }
	locks := &LockService{KV: kv, TTL: 30 * time.Second}

	held, err := locks.Acquire(ctx, "resource", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(31 * time.Second)

	owned, err := held.Owned(ctx)
	if err != nil {
		t.Fatalf("owned: %v", err)
	}
	if owned {
		t.Fatal("lock should have expired")
	}
	if _, err := locks.Acquire(ctx, "resource", 50*time.Millisecond); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
}

func TestReleaseLostLockIsNoOp(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	locks := &LockService{KV: kv}

	held, err := locks.Acquire(ctx, "resource", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Another holder took over after our TTL elapsed.
	if err := kv.Set(ctx, held.Key, []byte("other-token"), 0); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := held.Release(ctx); err != nil {
		t.Fatalf("release of lost lock should not error: %v", err)
	}
	current, _ := kv.Get(ctx, held.Key)
	if string(current) != "other-token" {
		t.Fatalf("release must not delete the new holder's lock, key now %q", current)
	}
}

func TestAcquireManyRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	locks := &LockService{KV: kv}

	// Pre-hold the key that sorts first so the batch fails immediately.
	blocker, err := locks.Acquire(ctx, "aaa", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("blocker acquire: %v", err)
	}
	defer blocker.Release(ctx)

	_, err = locks.AcquireMany(ctx, []string{"zzz", "aaa"}, 60*time.Millisecond)
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// zzz was never taken, or was released during rollback.
	free, err := locks.Acquire(ctx, "zzz", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("zzz should be free after rollback: %v", err)
	}
	free.Release(ctx)
}

func TestAcquireManyLocksAllKeys(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	locks := &LockService{KV: kv}

	held, err := locks.AcquireMany(ctx, []string{"b", "a", "c"}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire many: %v", err)
	}
	if len(held) != 3 {
		t.Fatalf("expected 3 locks, got %d", len(held))
	}
	for _, key := range []string{"a", "b", "c"} {
		if _, err := locks.Acquire(ctx, key, 30*time.Millisecond); err == nil {
			t.Fatalf("key %s should be held", key)
		}
	}
	ReleaseAll(ctx, held)
}
