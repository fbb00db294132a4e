/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package state

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements Store in-process. It backs single-node setups
// where no redis is configured, and the test suites. Semantics match the
// redis implementation, including atomicity of the compound operations.
// Expiry applies to plain keys only: ListPrepend ignores its ttl and
// Expire does not reach lists or sets.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryEntry
	lists  map[string][]string
	sets   map[string]map[string]struct{}
	subs   map[*memorySubscription]struct{}
	closed bool
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryEntry),
		lists:  make(map[string][]string),
		sets:   make(map[string]map[string]struct{}),
		subs:   make(map[*memorySubscription]struct{}),
	}
}

func (m *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// lookup must be called with the lock held.
func (m *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := m.values[key]
	if !ok {
		return memoryEntry{}, false
	}
	if m.expired(e) {
		delete(m.values, key)
		return memoryEntry{}, false
	}
	return e, true
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryEntry{value: value, expiresAt: expiry(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.values[key] = memoryEntry{value: value, expiresAt: expiry(ttl)}
	return true, nil
}

func (m *MemoryStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
		delete(m.lists, k)
		delete(m.sets, k)
	}
	return nil
}

func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.lookup(key); ok {
		e.expiresAt = expiry(ttl)
		m.values[key] = e
	}
	return nil
}

func (m *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrLocked(key, delta), nil
}

func (m *MemoryStore) incrLocked(key string, delta int64) int64 {
	var current int64
	if e, ok := m.lookup(key); ok {
		current, _ = strconv.ParseInt(e.value, 10, 64)
	}
	current += delta
	e := m.values[key]
	e.value = strconv.FormatInt(current, 10)
	m.values[key] = e
	return current
}

func (m *MemoryStore) CompareAndDel(ctx context.Context, key, expect string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok || e.value != expect {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *MemoryStore) IncrBoundedPair(ctx context.Context, keyA, keyB string, boundA, boundB int64, ttl time.Duration) (BoundedResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var a, b int64
	if e, ok := m.lookup(keyA); ok {
		a, _ = strconv.ParseInt(e.value, 10, 64)
	}
	if e, ok := m.lookup(keyB); ok {
		b, _ = strconv.ParseInt(e.value, 10, 64)
	}

	if b >= boundB {
		return BoundedLimitB, nil
	}
	if a >= boundA {
		return BoundedLimitA, nil
	}

	m.incrLocked(keyA, 1)
	m.incrLocked(keyB, 1)
	if ttl > 0 {
		for _, k := range []string{keyA, keyB} {
			e := m.values[k]
			e.expiresAt = expiry(ttl)
			m.values[k] = e
		}
	}
	return BoundedOK, nil
}

func (m *MemoryStore) ListPrepend(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]string{value}, m.lists[key]...)
	if maxLen > 0 && int64(len(list)) > maxLen {
		list = list[:maxLen]
	}
	m.lists[key] = list
	return nil
}

func (m *MemoryStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	n := int64(len(list))
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
	if n == 0 || start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *MemoryStore) SetAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func (m *MemoryStore) SetRemove(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets[key]; ok {
		for _, member := range members {
			delete(set, member)
		}
	}
	return nil
}

func (m *MemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[key]
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryStore) SetCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[key])), nil
}

func (m *MemoryStore) Publish(ctx context.Context, channel, payload string) error {
	m.mu.Lock()
	subs := make([]*memorySubscription, 0, len(m.subs))
	for sub := range m.subs {
		if sub.covers(channel) {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()

	msg := Message{Channel: channel, Payload: payload}
	for _, sub := range subs {
		// Publishers are never blocked by slow subscribers.
		select {
		case sub.out <- msg:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	sub := &memorySubscription{
		store:    m,
		channels: make(map[string]struct{}, len(channels)),
		out:      make(chan Message, 64),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	return sub, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for sub := range m.subs {
		close(sub.out)
	}
	m.subs = make(map[*memorySubscription]struct{})
	return nil
}

type memorySubscription struct {
	store    *MemoryStore
	channels map[string]struct{}
	out      chan Message
	once     sync.Once
}

func (s *memorySubscription) covers(channel string) bool {
	_, ok := s.channels[channel]
	return ok
}

func (s *memorySubscription) Messages() <-chan Message { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		if _, live := s.store.subs[s]; live {
			delete(s.store.subs, s)
			close(s.out)
		}
		s.store.mu.Unlock()
	})
	return nil
}
