// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/panekit/windowbus/lib/patch"
)

// Store is an observable state container holding one state key's value
// as canonical JSON. Watchers run synchronously on the mutating
// goroutine, so by the time Set returns, every downstream reaction has
// completed. The sync engine's apply guard depends on that.
type Store struct {
	mu       sync.Mutex
	value    json.RawMessage
	nextID   int
	watchers map[int]func()
}

// NewStore creates a store holding the initial value.
func NewStore(initial any) (*Store, error) {
	raw, err := patch.Marshal(initial)
	if err != nil {
		return nil, err
	}
	return &Store{value: raw, watchers: make(map[int]func())}, nil
}

// Raw returns a copy of the current value as canonical JSON.
func (s *Store) Raw() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil {
		return nil
	}
	out := make(json.RawMessage, len(s.value))
	copy(out, s.value)
	return out
}

// Decode unmarshals the current value into v.
func (s *Store) Decode(v any) error {
	raw := s.Raw()
	if raw == nil {
		return fmt.Errorf("store holds no value")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding store value: %w", err)
	}
	return nil
}

// Set replaces the value and notifies watchers.
func (s *Store) Set(v any) error {
	raw, err := patch.Marshal(v)
	if err != nil {
		return err
	}
	s.SetRaw(raw)
	return nil
}

// SetRaw replaces the value with pre-encoded JSON and notifies
// watchers. The store takes its own copy.
func (s *Store) SetRaw(raw json.RawMessage) {
	s.mu.Lock()
	if raw == nil {
		s.value = nil
	} else {
		s.value = make(json.RawMessage, len(raw))
		copy(s.value, raw)
	}
	watchers := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

// Watch registers fn to run after every mutation. The returned cancel
// unregisters it.
func (s *Store) Watch(fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}
