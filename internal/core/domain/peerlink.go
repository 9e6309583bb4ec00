package domain

import "time"

type LinkState string

const (
	LinkStateNew         LinkState = "new"
	LinkStateNegotiating LinkState = "negotiating"
	LinkStateConnected   LinkState = "connected"
	LinkStateFailed      LinkState = "failed"
	LinkStateClosed      LinkState = "closed"
)

// PeerLink tracks one broadcaster-to-listener connection and its negotiation
// state. Candidates that arrive before the remote description is set are
// buffered in arrival order and drained exactly once.
type PeerLink struct {
	ListenerID           PartyID
	State                LinkState
	PendingCandidates    []string
	LocalDescriptionSet  bool
	RemoteDescriptionSet bool
	CreatedAt            time.Time
}

// Live reports whether the link still occupies the listener's slot.
// At most one live link may exist per listener.
func (l *PeerLink) Live() bool {
	return l.State != LinkStateClosed
}
