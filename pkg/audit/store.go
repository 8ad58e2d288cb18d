// SPDX-License-Identifier: Apache-2.0

// Package audit records completed flow invocations for operational review.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one completed invocation. Status holds "OK" or the taxonomy
// status name of the terminal failure.
type Entry struct {
	ID        string
	Flow      string
	Streaming bool
	Status    string
	Chunks    int
	Duration  time.Duration
	CreatedAt time.Time
}

// Recorder accepts invocation records. The gateway calls Record once per
// handled request, after the response is complete.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Filter narrows List results.
type Filter struct {
	Flow   string
	Status string
	Since  time.Time
	Limit  int
}

// Store is a queryable Recorder.
type Store interface {
	Recorder
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

const defaultListLimit = 50

// MemoryStore keeps invocation records in memory, newest first.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an in-memory invocation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record stores an entry, stamping ID and CreatedAt when unset.
func (s *MemoryStore) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

// List returns matching entries, newest first.
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.entries[i]
		if filter.Flow != "" && entry.Flow != filter.Flow {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && entry.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
