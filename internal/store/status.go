// Package store keeps merge status where the HTTP layer can poll it: in
// process memory for a single instance, or in Redis when several share it.
package store

import (
	"context"
	"sync"
	"time"
)

// Status is the latest known state of a session's merge.
type Status struct {
	Stage    string                 `json:"stage"`
	Progress int                    `json:"progress"`
	Current  int                    `json:"current"`
	Total    int                    `json:"total"`
	Message  string                 `json:"message"`
	Warnings []string               `json:"warnings,omitempty"`
	Start    *time.Time             `json:"start_time,omitempty"`
	End      *time.Time             `json:"end_time,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// StatusStore persists Status by session id.
type StatusStore interface {
	Set(ctx context.Context, id string, st Status) error
	Get(ctx context.Context, id string) (Status, bool, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

type memoryEntry struct {
	st      Status
	expires time.Time
}

// MemoryStatus is a StatusStore for a single process. Entries older than
// the TTL read as missing.
type MemoryStatus struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryStatus(ttl time.Duration) *MemoryStatus {
	return &MemoryStatus{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryStatus) Set(_ context.Context, id string, st Status) error {
	e := memoryEntry{st: st}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStatus) Get(_ context.Context, id string) (Status, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return Status{}, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
		return Status{}, false, nil
	}
	return e.st, true, nil
}

func (m *MemoryStatus) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStatus) Ping(context.Context) error { return nil }
func (m *MemoryStatus) Close() error               { return nil }
