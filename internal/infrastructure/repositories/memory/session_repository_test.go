package memory

import (
	"context"
	"testing"
	"time"

	"djlive/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestSessionRepository_PutGetClear(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	session := &domain.BroadcastSession{
		ID:            "session-1",
		BroadcasterID: "dj-1",
		StartedAt:     time.Now(),
		DisplayLabel:  "Friday Night",
	}
	assert.NoError(t, repo.Put(ctx, session))

	got, err := repo.Get(ctx)
	assert.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.BroadcasterID, got.BroadcasterID)

	// The stored session is a copy, not an alias.
	got.DisplayLabel = "mutated"
	again, err := repo.Get(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "Friday Night", again.DisplayLabel)

	assert.NoError(t, repo.Clear(ctx))
	_, err = repo.Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}
