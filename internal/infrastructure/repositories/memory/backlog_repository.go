package memory

import (
	"context"
	"encoding/json"
	"sync"

	"djlive/internal/core/ports"
)

// MemoryBacklogRepository keeps the most recent entries up to a fixed cap.
type MemoryBacklogRepository struct {
	entries []json.RawMessage
	cap     int
	mu      sync.RWMutex
}

func NewMemoryBacklogRepository(cap int) ports.BacklogRepository {
	return &MemoryBacklogRepository{cap: cap}
}

func (r *MemoryBacklogRepository) Append(ctx context.Context, entry json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make(json.RawMessage, len(entry))
	copy(copied, entry)

	r.entries = append(r.entries, copied)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
	return nil
}

func (r *MemoryBacklogRepository) Recent(ctx context.Context, limit int) ([]json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := 0
	if limit > 0 && len(r.entries) > limit {
		start = len(r.entries) - limit
	}

	out := make([]json.RawMessage, len(r.entries)-start)
	copy(out, r.entries[start:])
	return out, nil
}
