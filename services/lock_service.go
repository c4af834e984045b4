package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"arena_server/models"

	"github.com/google/uuid"
)

// LockService hands out TTL-bounded exclusive locks on arbitrary keys. This is
// deliberately a best-effort mutex, not a linearizable one: a holder that
// stalls past the TTL loses the key rather than deadlocking it, so every
// holder must re-check ownership before persisting anything.
type LockService struct {
	KV KV
	// TTL bounds how long a crashed holder can block the key. Zero means
	// models.LockTTL.
	TTL time.Duration
}

// Lock is a held (or formerly held) lock.
type Lock struct {
	Key   string
	Token string
	svc   *LockService
}

const lockKeySuffix = "LOCK"

func (s *LockService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return models.LockTTL
}

// Acquire blocks up to wait for exclusive ownership of key. Exceeding wait is
// a conflict: the caller retries the whole operation, it never resumes.
func (s *LockService) Acquire(ctx context.Context, key string, wait time.Duration) (*Lock, error) {
	lockKey := key + lockKeySuffix
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := s.KV.SetNX(ctx, lockKey, []byte(token), s.ttl())
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock '%s': %w", lockKey, err)
		}
		if ok {
			return &Lock{Key: lockKey, Token: token, svc: s}, nil
		}
		if time.Now().After(deadline) {
			return nil, &models.ConflictError{Message: fmt.Sprintf("timed out waiting for lock on %s", key)}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Owned reports whether the lock is still ours, i.e. the TTL has not elapsed
// and nobody else has taken the key since.
func (l *Lock) Owned(ctx context.Context) (bool, error) {
	current, err := l.svc.KV.Get(ctx, l.Key)
	if err != nil {
		return false, err
	}
	return current != nil && string(current) == l.Token, nil
}

// Release deletes the lock only if we still own it. Releasing a lock that was
// already lost is a no-op; callers must not take release as proof their
// writes landed safely.
func (l *Lock) Release(ctx context.Context) error {
	swapped, err := l.svc.KV.CompareAndSwap(ctx, CASPair{Key: l.Key, Expect: []byte(l.Token)})
	if err != nil {
		return fmt.Errorf("failed to release lock '%s': %w", l.Key, err)
	}
	if !swapped {
		log.Printf("Lock %s was lost before release", l.Key)
	}
	return nil
}

// AcquireMany locks every key, sorted, so concurrent multi-key operations
// agree on a total order and cannot deadlock each other. On failure the locks
// already taken are released.
func (s *LockService) AcquireMany(ctx context.Context, keys []string, wait time.Duration) ([]*Lock, error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	locks := make([]*Lock, 0, len(sorted))
	for _, key := range sorted {
		lock, err := s.Acquire(ctx, key, wait)
		if err != nil {
			for _, held := range locks {
				if relErr := held.Release(ctx); relErr != nil {
					log.Printf("Failed to release lock %s during rollback: %v", held.Key, relErr)
				}
			}
			return nil, err
		}
		locks = append(locks, lock)
	}
	return locks, nil
}

// ReleaseAll releases every lock, logging rather than failing on errors.
func ReleaseAll(ctx context.Context, locks []*Lock) {
	for _, l := range locks {
		if err := l.Release(ctx); err != nil {
			log.Printf("Failed to release lock %s: %v", l.Key, err)
		}
	}
}
