package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"arena_server/models"

	"github.com/redis/go-redis/v9"
)

// KV is the shared low-latency store every session entity lives in. The Redis
// implementation below is the production one; MemoryKV serves local
// development and tests.
type KV interface {
	// Get returns nil, nil when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if the key is absent; reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// PushCapped appends value to the list at key, keeping only the newest
	// limit entries.
	PushCapped(ctx context.Context, key string, value []byte, limit int64, ttl time.Duration) error
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	// CompareAndSwap atomically applies all pairs if every pair's current
	// value matches Expect (nil Expect = key must be absent). A pair with a
	// nil Value deletes its key. Returns false when any comparison failed or
	// the transaction lost a race; the caller decides whether to retry.
	CompareAndSwap(ctx context.Context, pairs ...CASPair) (bool, error)
}

// CASPair is one key in an optimistic multi-key write.
type CASPair struct {
	Key    string
	Expect []byte // nil: key must not exist
	Value  []byte // nil: delete the key
	TTL    time.Duration
}

var errCASMismatch = errors.New("cas mismatch")

// RedisService implements KV on go-redis.
type RedisService struct {
	Client *redis.Client
}

// InitializeRedisClient initializes the Redis client from REDIS_URL
func InitializeRedisClient() *redis.Client {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("Failed to parse REDIS_URL: %v", err)
	}
	return redis.NewClient(opts)
}

func (s *RedisService) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.Client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key '%s': %w", key, err)
	}
	return val, nil
}

func (s *RedisService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key '%s': %w", key, err)
	}
	return nil
}

func (s *RedisService) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.Client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx key '%s': %w", key, err)
	}
	return ok, nil
}

func (s *RedisService) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.Client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys %v: %w", keys, err)
	}
	return nil
}

func (s *RedisService) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to incr key '%s': %w", key, err)
	}
	return n, nil
}

func (s *RedisService) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.Client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to expire key '%s': %w", key, err)
	}
	return nil
}

func (s *RedisService) PushCapped(ctx context.Context, key string, value []byte, limit int64, ttl time.Duration) error {
	pipe := s.Client.TxPipeline()
	pipe.RPush(ctx, key, value)
	pipe.LTrim(ctx, key, -limit, -1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push to capped list '%s': %w", key, err)
	}
	return nil
}

func (s *RedisService) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := s.Client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range list '%s': %w", key, err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// CompareAndSwap runs WATCH over every key, compares, then writes all pairs in
// one MULTI. A concurrent writer aborts the transaction and we report false.
func (s *RedisService) CompareAndSwap(ctx context.Context, pairs ...CASPair) (bool, error) {
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.Key)
	}
	err := s.Client.Watch(ctx, func(tx *redis.Tx) error {
		for _, p := range pairs {
			current, err := tx.Get(ctx, p.Key).Bytes()
			if err == redis.Nil {
				current = nil
			} else if err != nil {
				return err
			}
			if !bytes.Equal(current, p.Expect) {
				return errCASMismatch
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, p := range pairs {
				if p.Value == nil {
					pipe.Del(ctx, p.Key)
				} else {
					pipe.Set(ctx, p.Key, p.Value, p.TTL)
				}
			}
			return nil
		})
		return err
	}, keys...)
	if err == errCASMismatch || err == redis.TxFailedErr {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-swap %v: %w", keys, err)
	}
	return true, nil
}

// CompareAndSwapRetry re-runs an optimistic section until it lands or the
// deadline passes. attempt reads fresh state, builds its CAS pairs and reports
// whether the swap landed; exhausting the deadline surfaces a ConflictError.
func CompareAndSwapRetry(ctx context.Context, deadline time.Duration, attempt func(ctx context.Context) (bool, error)) error {
	stop := time.Now().Add(deadline)
	for {
		swapped, err := attempt(ctx)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
		if time.Now().After(stop) {
			return &models.ConflictError{Message: "operation lost too many races, try again"}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
