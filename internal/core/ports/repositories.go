package ports

import (
	"context"
	"encoding/json"

	"djlive/internal/core/domain"
)

// SessionRepository holds the at-most-one active broadcast session.
type SessionRepository interface {
	Put(ctx context.Context, session *domain.BroadcastSession) error
	Get(ctx context.Context) (*domain.BroadcastSession, error)
	Clear(ctx context.Context) error
}

// BacklogRepository stores the opaque chat backlog served inside state
// snapshots. Entries are never interpreted, only capped and replayed.
type BacklogRepository interface {
	Append(ctx context.Context, entry json.RawMessage) error
	Recent(ctx context.Context, limit int) ([]json.RawMessage, error)
}
