package memory

import (
	"context"
	"sync"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"
)

type MemorySessionRepository struct {
	session *domain.BroadcastSession
	mu      sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{}
}

func (r *MemorySessionRepository) Put(ctx context.Context, session *domain.BroadcastSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *session
	r.session = &copied
	return nil
}

func (r *MemorySessionRepository) Get(ctx context.Context) (*domain.BroadcastSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.session == nil {
		return nil, domain.ErrNoActiveSession
	}

	copied := *r.session
	return &copied, nil
}

func (r *MemorySessionRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session = nil
	return nil
}
