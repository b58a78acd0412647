package kv

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Client used in tests and in standalone deployments
// that run without Redis. Expiry is enforced lazily on read.
type Memory struct {
	mu      sync.Mutex
	values  map[string]memoryValue
	sets    map[string]map[string]struct{}
	expires map[string]time.Time

	nowFn func() time.Time
}

type memoryValue struct {
	data string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string]memoryValue),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
		nowFn:   time.Now,
	}
}

func (m *Memory) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryValue{data: value}
	m.expires[key] = m.nowFn().Add(ttl)
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	val, ok := m.values[key]
	if !ok {
		return "", ErrNil
	}
	return val.data, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryValue{data: value}
	delete(m.expires, key)
	return nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		delete(m.sets, key)
		delete(m.expires, key)
	}
	return nil
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	set, ok := m.sets[key]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

func (m *Memory) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
		delete(m.expires, key)
	}
	return nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		m.expires[key] = m.nowFn().Add(ttl)
		return nil
	}
	if _, ok := m.sets[key]; ok {
		m.expires[key] = m.nowFn().Add(ttl)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// purgeLocked drops the key when its TTL has elapsed. Callers hold m.mu.
func (m *Memory) purgeLocked(key string) {
	deadline, ok := m.expires[key]
	if !ok {
		return
	}
	if m.nowFn().After(deadline) {
		delete(m.values, key)
		delete(m.sets, key)
		delete(m.expires, key)
	}
}
