// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"context"
	"path"
	"sync"
	"time"

	"oss.indeed.com/go/libtime"
)

// MemKV is an in-memory KV with glob matching and TTL expiry. It backs the
// task store in tests and in single-process development setups.
type MemKV struct {
	lock  sync.RWMutex
	items map[string]memItem
	clock libtime.Clock
}

type memItem struct {
	value    string
	deadline time.Time // zero means no expiry
}

// NewMemKV returns an empty in-memory KV using the system clock.
func NewMemKV() *MemKV {
	return NewMemKVWithClock(libtime.SystemClock())
}

// NewMemKVWithClock returns an empty in-memory KV on the given clock.
func NewMemKVWithClock(clock libtime.Clock) *MemKV {
	return &MemKV{
		items: make(map[string]memItem),
		clock: clock,
	}
}

func (m *MemKV) expired(item memItem) bool {
	return !item.deadline.IsZero() && m.clock.Now().After(item.deadline)
}

func (m *MemKV) Keys(_ context.Context, pattern string) ([]string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var keys []string
	for key, item := range m.items {
		if m.expired(item) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemKV) Get(_ context.Context, key string) (string, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	item, ok := m.items[key]
	if !ok || m.expired(item) {
		return "", false, nil
	}
	return item.value, true, nil
}

func (m *MemKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	item := memItem{value: value}
	if ttl > 0 {
		item.deadline = m.clock.Now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

func (m *MemKV) MSet(_ context.Context, pairs map[string]string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	for key, value := range pairs {
		m.items[key] = memItem{value: value}
	}
	return nil
}

func (m *MemKV) Append(_ context.Context, key, value string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	item := m.items[key]
	if m.expired(item) {
		item = memItem{}
	}
	item.value += value
	m.items[key] = item
	return nil
}

func (m *MemKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	item, ok := m.items[key]
	if !ok || m.expired(item) {
		return nil
	}
	item.deadline = m.clock.Now().Add(ttl)
	m.items[key] = item
	return nil
}

func (m *MemKV) Delete(_ context.Context, keys ...string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

func (m *MemKV) Close() error {
	return nil
}
