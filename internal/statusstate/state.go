// Package statusstate persists the last observed up/down status of devices.
package statusstate

import (
	"context"
	"sync"
	"time"
)

// Status is the liveness of a device.
type Status string

const (
	Up   Status = "UP"
	Down Status = "DOWN"
)

// Record is a status together with the time it was observed.
type Record struct {
	Status   Status    `json:"status"`
	Observed time.Time `json:"observed"`
}

// Store is the authoritative status store. Update applies the newer-wins rule:
// a record without an observation time is always replaced, otherwise only a
// strictly newer observation is accepted.
type Store interface {
	Lookup(ctx context.Context, device string) (Record, bool, error)
	Update(ctx context.Context, device string, rec Record) (bool, error)
}

// Accepts reports whether next may replace current under the newer-wins rule.
func Accepts(current, next Record) bool {
	if current.Observed.IsZero() {
		return true
	}
	return next.Observed.After(current.Observed)
}

// MemoryStore keeps statuses in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(ctx context.Context, device string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[device]
	return rec, ok, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, device string, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.records[device]; ok && !Accepts(current, rec) {
		return false, nil
	}
	s.records[device] = rec
	return true, nil
}
