package services

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryKV is an in-process KV used for local development and the test suite.
// It honors TTLs lazily: expired entries are dropped when touched.
type MemoryKV struct {
	mu      sync.Mutex
	values  map[string]memoryEntry
	lists   map[string]memoryListEntry
	nowFunc func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryListEntry struct {
	values    [][]byte
	expiresAt time.Time
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values:  make(map[string]memoryEntry),
		lists:   make(map[string]memoryListEntry),
		nowFunc: time.Now,
	}
}

func (m *MemoryKV) now() time.Time { return m.nowFunc() }

func (m *MemoryKV) expiresAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// get drops the entry when expired. Callers hold the mutex.
func (m *MemoryKV) get(key string) ([]byte, bool) {
	e, ok := m.values[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		delete(m.values, key)
		return nil, false
	}
	return e.value, true
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(key)
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: m.expiresAt(ttl)}
	return nil
}

func (m *MemoryKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.get(key); ok {
		return false, nil
	}
	m.values[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: m.expiresAt(ttl)}
	return true, nil
}

func (m *MemoryKV) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		delete(m.lists, key)
	}
	return nil
}

func (m *MemoryKV) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(0)
	if v, ok := m.get(key); ok {
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	e := m.values[key]
	e.value = []byte(strconv.FormatInt(n, 10))
	m.values[key] = e
	return n, nil
}

func (m *MemoryKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.values[key]; ok && !e.expired(m.now()) {
		e.expiresAt = m.expiresAt(ttl)
		m.values[key] = e
	}
	return nil
}

func (m *MemoryKV) PushCapped(ctx context.Context, key string, value []byte, limit int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lists[key]
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		e = memoryListEntry{}
	}
	e.values = append(e.values, append([]byte(nil), value...))
	if int64(len(e.values)) > limit {
		e.values = e.values[int64(len(e.values))-limit:]
	}
	e.expiresAt = m.expiresAt(ttl)
	m.lists[key] = e
	return nil
}

func (m *MemoryKV) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lists[key]
	if !ok || (!e.expiresAt.IsZero() && m.now().After(e.expiresAt)) {
		return nil, nil
	}
	n := int64(len(e.values))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range e.values[start : stop+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

func (m *MemoryKV) CompareAndSwap(ctx context.Context, pairs ...CASPair) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pairs {
		current, _ := m.get(p.Key)
		if !bytes.Equal(current, p.Expect) {
			return false, nil
		}
	}
	for _, p := range pairs {
		if p.Value == nil {
			delete(m.values, p.Key)
		} else {
			m.values[p.Key] = memoryEntry{value: append([]byte(nil), p.Value...), expiresAt: m.expiresAt(p.TTL)}
		}
	}
	return true, nil
}
