package ports

import (
	"context"

	"djlive/internal/core/domain"
)

// SignalSender delivers envelopes to addressed recipients. Delivery is
// at-least-once and unordered; endpoints own ordering discipline.
type SignalSender interface {
	SendTo(ctx context.Context, target domain.PartyID, env domain.Envelope) error
	Broadcast(ctx context.Context, env domain.Envelope) error
}
