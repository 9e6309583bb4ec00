package ports

import (
	"context"

	"djlive/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// SessionArbitrator tracks which single party currently holds the
// broadcaster role. Contention is first-come-first-served with no queueing;
// a denied candidate must explicitly re-request.
type SessionArbitrator interface {
	RequestRole(ctx context.Context, candidateID domain.PartyID, claims domain.IdentityClaims, label string) (*domain.BroadcastSession, error)
	ReleaseRole(ctx context.Context, candidateID domain.PartyID) error
	CurrentState(ctx context.Context) (*domain.BroadcastSession, error)
}

// FanoutManager turns one local audio source into N independent outbound
// peer links. A failure on one link never affects its siblings.
type FanoutManager interface {
	Start(ctx context.Context, track webrtc.TrackLocal) error
	OnListenerReady(ctx context.Context, listenerID domain.PartyID) error
	OnAnswer(ctx context.Context, listenerID domain.PartyID, sdp string) error
	OnICECandidate(ctx context.Context, listenerID domain.PartyID, candidate string) error
	OnSourceChanged(ctx context.Context, track webrtc.TrackLocal) error
	Stop(ctx context.Context) error
	ActiveLinks() []domain.PeerLink
}

// ListenerHandler negotiates and maintains exactly one inbound connection
// to the currently active broadcaster.
type ListenerHandler interface {
	// Resync asks the relay for a fresh state snapshot; if a session is
	// active the handler joins it.
	Resync(ctx context.Context) error
	OnBroadcastStarted(ctx context.Context, broadcasterID domain.PartyID)
	OnSnapshot(ctx context.Context, snapshot domain.StateSnapshotPayload)
	OnOffer(ctx context.Context, senderID domain.PartyID, sdp string) error
	OnICECandidate(ctx context.Context, candidate string) error
	OnBroadcastStopped(ctx context.Context, broadcasterID domain.PartyID)
	Close(ctx context.Context) error
	Status() domain.ListenerStatus
	SubscribeStatus(fn func(domain.ListenerStatus)) func()
}

// PlaybackManager is the long-lived listener-side service that owns the
// audio sink. StopListeningUI only flips UI-facing flags; playback survives
// navigation by design. ForceRestart is the only path that actually stops
// and restarts the underlying media.
type PlaybackManager interface {
	StartListening(ctx context.Context) error
	StopListeningUI()
	ForceRestart(ctx context.Context) error
	ToggleMute()
	SetVolume(v float64)
	GetState() domain.ListenerAudioState
	Subscribe(fn func(domain.ListenerAudioState)) func()
}

// BroadcastAuthorizer is the collaborator boundary to the auth service:
// one fact, resolved once at role-request time.
type BroadcastAuthorizer interface {
	IsAuthorizedBroadcaster(claims domain.IdentityClaims) bool
}
