package services

import (
	"context"
	"sync"
	"time"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// peerLink pairs the negotiation bookkeeping with the connector that owns
// the underlying connection.
type peerLink struct {
	state domain.PeerLink
	conn  ports.PeerConnector
}

// fanoutService owns the broadcaster side: one local audio track fanned out
// to N independent peer links. The map is only mutated under s.mu, so a
// check-then-create race on duplicate readiness signals cannot occur.
type fanoutService struct {
	selfID  domain.PartyID
	factory ports.ConnectorFactory
	signal  ports.SignalSender
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	track   webrtc.TrackLocal
	links   map[domain.PartyID]*peerLink
}

func NewFanoutService(
	selfID domain.PartyID,
	factory ports.ConnectorFactory,
	signal ports.SignalSender,
	logger *zap.SugaredLogger,
) ports.FanoutManager {
	return &fanoutService{
		selfID:  selfID,
		factory: factory,
		signal:  signal,
		logger:  logger,
		links:   make(map[domain.PartyID]*peerLink),
	}
}

func (s *fanoutService) Start(ctx context.Context, track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if track == nil {
		return domain.ErrMediaUnavailable
	}

	s.track = track
	s.links = make(map[domain.PartyID]*peerLink)
	s.started = true

	s.logger.Infow("fan-out started", "broadcaster", s.selfID)
	return nil
}

func (s *fanoutService) OnListenerReady(ctx context.Context, listenerID domain.PartyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return domain.ErrNoActiveSession
	}

	// Duplicate readiness signals must not create a second live connection.
	if existing, ok := s.links[listenerID]; ok && existing.state.Live() {
		s.logger.Infow("duplicate listener ready ignored", "listener", listenerID, "link_state", existing.state.State)
		return nil
	}

	return s.createLinkLocked(ctx, listenerID)
}

// createLinkLocked builds a fresh link for listenerID. Caller holds s.mu.
func (s *fanoutService) createLinkLocked(ctx context.Context, listenerID domain.PartyID) error {
	conn, err := s.factory.NewConnector(ctx)
	if err != nil {
		return err
	}

	if err := conn.AddAudioTrack(s.track); err != nil {
		conn.Close()
		return err
	}

	link := &peerLink{
		state: domain.PeerLink{
			ListenerID: listenerID,
			State:      domain.LinkStateNew,
			CreatedAt:  time.Now(),
		},
		conn: conn,
	}
	s.links[listenerID] = link

	conn.OnLocalCandidate(func(candidate string) {
		env := domain.Envelope{
			Type:     domain.MsgICECandidate,
			SenderID: s.selfID,
			TargetID: listenerID,
			Payload:  domain.MustMarshal(domain.CandidatePayload{Candidate: candidate}),
		}
		if err := s.signal.SendTo(context.Background(), listenerID, env); err != nil {
			s.logger.Warnw("failed to relay local candidate", "listener", listenerID, "error", err)
		}
	})

	conn.OnStateChange(func(state domain.LinkState) {
		s.handleStateChange(listenerID, conn, state)
	})

	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		conn.Close()
		delete(s.links, listenerID)
		return err
	}

	link.state.LocalDescriptionSet = true
	link.state.State = domain.LinkStateNegotiating

	s.logger.Infow("offer created for listener", "listener", listenerID)

	return s.signal.SendTo(ctx, listenerID, domain.Envelope{
		Type:     domain.MsgOffer,
		SenderID: s.selfID,
		TargetID: listenerID,
		Payload:  domain.MustMarshal(domain.DescriptionPayload{SDP: offer}),
	})
}

func (s *fanoutService) OnAnswer(ctx context.Context, listenerID domain.PartyID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[listenerID]
	if !ok {
		return domain.ErrStaleMessage
	}

	// Duplicate or out-of-order answers are dropped, never retried.
	if link.state.State != domain.LinkStateNegotiating || link.state.RemoteDescriptionSet {
		s.logger.Infow("stale answer ignored", "listener", listenerID, "link_state", link.state.State)
		return nil
	}

	if err := link.conn.SetRemoteAnswer(ctx, sdp); err != nil {
		return err
	}
	link.state.RemoteDescriptionSet = true

	// Drain buffered candidates in arrival order, exactly once.
	for _, candidate := range link.state.PendingCandidates {
		if err := link.conn.AddICECandidate(candidate); err != nil {
			s.logger.Warnw("failed to apply buffered candidate", "listener", listenerID, "error", err)
		}
	}
	link.state.PendingCandidates = nil

	return nil
}

func (s *fanoutService) OnICECandidate(ctx context.Context, listenerID domain.PartyID, candidate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[listenerID]
	if !ok {
		return domain.ErrStaleMessage
	}

	if !link.state.RemoteDescriptionSet {
		link.state.PendingCandidates = append(link.state.PendingCandidates, candidate)
		return nil
	}

	return link.conn.AddICECandidate(candidate)
}

func (s *fanoutService) handleStateChange(listenerID domain.PartyID, conn ports.PeerConnector, state domain.LinkState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[listenerID]
	if !ok {
		return
	}
	// Connections fire Closed/Failed asynchronously; after a source change
	// or eviction the listener may already own a fresh link. Events from a
	// replaced connection must not touch it.
	if link.conn != conn {
		return
	}

	switch state {
	case domain.LinkStateConnected:
		link.state.State = domain.LinkStateConnected
		s.logger.Infow("listener connected", "listener", listenerID)

	case domain.LinkStateFailed:
		// Evict this link only; siblings are untouched.
		link.conn.Close()
		delete(s.links, listenerID)
		s.logger.Infow("listener link failed, evicted", "listener", listenerID)

	case domain.LinkStateClosed:
		link.state.State = domain.LinkStateClosed
	}
}

func (s *fanoutService) OnSourceChanged(ctx context.Context, track webrtc.TrackLocal) error {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	if track == nil {
		s.mu.Unlock()
		return domain.ErrMediaUnavailable
	}

	// No seamless hot-swap: every live link is closed and renegotiated
	// against the new track.
	var listeners []domain.PartyID
	for id, link := range s.links {
		if link.state.Live() {
			listeners = append(listeners, id)
		}
		link.conn.Close()
	}
	s.links = make(map[domain.PartyID]*peerLink)
	s.track = track
	s.mu.Unlock()

	s.logger.Infow("audio source changed, renegotiating", "listeners", len(listeners))

	for _, id := range listeners {
		if err := s.OnListenerReady(ctx, id); err != nil {
			s.logger.Warnw("failed to recreate link after source change", "listener", id, "error", err)
		}
	}
	return nil
}

func (s *fanoutService) Stop(ctx context.Context) error {
	s.mu.Lock()

	for id, link := range s.links {
		if err := link.conn.Close(); err != nil {
			s.logger.Warnw("error closing link", "listener", id, "error", err)
		}
		link.state.State = domain.LinkStateClosed
	}
	s.links = make(map[domain.PartyID]*peerLink)
	s.started = false
	s.mu.Unlock()

	s.logger.Infow("fan-out stopped", "broadcaster", s.selfID)

	return s.signal.Broadcast(ctx, domain.Envelope{
		Type:     domain.MsgBroadcastStopped,
		SenderID: s.selfID,
		Payload:  domain.MustMarshal(domain.BroadcastStoppedPayload{BroadcasterID: s.selfID}),
	})
}

func (s *fanoutService) ActiveLinks() []domain.PeerLink {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := make([]domain.PeerLink, 0, len(s.links))
	for _, link := range s.links {
		snapshot := link.state
		snapshot.PendingCandidates = append([]string(nil), link.state.PendingCandidates...)
		links = append(links, snapshot)
	}
	return links
}
