// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     NowFunc
}

// NewMemoryStore creates an empty store. A nil now uses time.Now.
func NewMemoryStore(now NowFunc) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || expired(e.expires, s.now.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string, expires time.Time) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	s.entries[key] = memoryEntry{value: value, expires: expires}
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	now := s.now.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && !expired(e.expires, now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
