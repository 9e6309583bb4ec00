package ports

import (
	"context"

	"djlive/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerConnector is the negotiation surface the fan-out and listener state
// machines consume. Every step returns an explicit error so the state
// machines never rely on thrown-and-caught control flow.
type PeerConnector interface {
	AddAudioTrack(track webrtc.TrackLocal) error
	// CreateOffer generates a local offer and sets it as local description.
	CreateOffer(ctx context.Context) (string, error)
	// CreateAnswer sets the remote offer, generates an answer and sets it
	// as local description.
	CreateAnswer(ctx context.Context, remoteOffer string) (string, error)
	// SetRemoteAnswer completes the broadcaster side of negotiation.
	SetRemoteAnswer(ctx context.Context, sdp string) error
	AddICECandidate(candidate string) error
	OnLocalCandidate(fn func(candidate string))
	OnStateChange(fn func(domain.LinkState))
	OnRemoteTrack(fn func(track *webrtc.TrackRemote))
	Close() error
}

// ConnectorFactory creates one connector per peer link.
type ConnectorFactory interface {
	NewConnector(ctx context.Context) (PeerConnector, error)
}

// AudioSink is the playback boundary owned by the playback manager. Gain 0
// silences output without touching the stored volume.
type AudioSink interface {
	Attach(track *webrtc.TrackRemote)
	Clear()
	SetGain(gain float64)
}
