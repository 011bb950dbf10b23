// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

// Package netmon tracks whether the device can reach the system of record
// and notifies subscribers when that changes.
package netmon

import (
	"log/slog"
	"sync"
)

// State is a single connectivity reading
type State struct {
	Connected bool `json:"connected"` // a network interface is up
	Reachable bool `json:"reachable"` // the remote answered a health probe
}

// Online reports whether both connectivity and reachability hold.
func (s State) Online() bool {
	return s.Connected && s.Reachable
}

// Monitor keeps the last observed State and fans out online/offline
// transitions. The zero reading is offline.
type Monitor struct {
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	online      bool
	nextID      int
	subscribers map[int]func(online bool)
}

// NewMonitor creates a monitor in the offline state
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:      logger,
		subscribers: make(map[int]func(online bool)),
	}
}

// Observe records a platform reading. Subscribers are notified only when the
// derived online flag changes.
func (m *Monitor) Observe(s State) {
	m.mu.Lock()
	m.state = s
	online := s.Online()
	if online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online

	callbacks := make([]func(bool), 0, len(m.subscribers))
	for id := 0; id < m.nextID; id++ {
		if cb, ok := m.subscribers[id]; ok {
			callbacks = append(callbacks, cb)
		}
	}
	m.mu.Unlock()

	status := "offline"
	if online {
		status = "online"
	}
	m.logger.Info("Network status changed", "status", status,
		"connected", s.Connected, "reachable", s.Reachable)

	for _, cb := range callbacks {
		cb(online)
	}
}

// CurrentlyOnline returns the last observed online flag
func (m *Monitor) CurrentlyOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// State returns the last observed reading
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers cb for online/offline transitions. Callbacks run on the
// goroutine calling Observe, in subscription order, and must not block.
// The returned cancel func is idempotent.
func (m *Monitor) Subscribe(cb func(online bool)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = cb
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of active subscriptions
func (m *Monitor) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}
