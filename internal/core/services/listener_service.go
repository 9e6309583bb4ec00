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

// listenerService is the inbound half of the system: it maintains at most
// one peer link to whichever party currently broadcasts. All negotiation
// state is guarded by mu; pion callbacks re-enter through the same lock.
type listenerService struct {
	selfID  domain.PartyID
	factory ports.ConnectorFactory
	signal  ports.SignalSender
	sink    ports.AudioSink
	logger  *zap.SugaredLogger

	offerWaitTimeout time.Duration
	retryDelay       time.Duration

	mu             sync.Mutex
	status         domain.ListenerStatus
	broadcasterID  domain.PartyID
	conn           ports.PeerConnector
	pendingCands   []string
	remoteDescSet  bool
	offerTimer     *time.Timer
	readyRetried   bool
	nextSubscriber int
	subscribers    map[int]func(domain.ListenerStatus)

	notifyCh chan domain.ListenerStatus
}

func NewListenerService(
	selfID domain.PartyID,
	factory ports.ConnectorFactory,
	signal ports.SignalSender,
	sink ports.AudioSink,
	offerWaitTimeout time.Duration,
	retryDelay time.Duration,
	logger *zap.SugaredLogger,
) ports.ListenerHandler {
	s := &listenerService{
		selfID:           selfID,
		factory:          factory,
		signal:           signal,
		sink:             sink,
		logger:           logger,
		offerWaitTimeout: offerWaitTimeout,
		retryDelay:       retryDelay,
		status:           domain.ListenerStatusIdle,
		subscribers:      make(map[int]func(domain.ListenerStatus)),
		notifyCh:         make(chan domain.ListenerStatus, 16),
	}
	go s.notifyLoop()
	return s
}

// notifyLoop delivers status notifications from a single goroutine so
// subscribers observe transitions in the order they happened.
func (s *listenerService) notifyLoop() {
	for status := range s.notifyCh {
		s.mu.Lock()
		fns := make([]func(domain.ListenerStatus), 0, len(s.subscribers))
		for _, fn := range s.subscribers {
			fns = append(fns, fn)
		}
		s.mu.Unlock()

		for _, fn := range fns {
			fn(status)
		}
	}
}

func (s *listenerService) Resync(ctx context.Context) error {
	return s.signal.SendTo(ctx, "", domain.Envelope{
		Type:     domain.MsgSnapshotRequest,
		SenderID: s.selfID,
	})
}

func (s *listenerService) OnSnapshot(ctx context.Context, snapshot domain.StateSnapshotPayload) {
	if snapshot.Session == nil {
		return
	}
	s.OnBroadcastStarted(ctx, snapshot.Session.BroadcasterID)
}

func (s *listenerService) OnBroadcastStarted(ctx context.Context, broadcasterID domain.PartyID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The error state is sticky; only an explicit restart leaves it.
	if s.status == domain.ListenerStatusError {
		return
	}
	if s.status != domain.ListenerStatusIdle {
		s.logger.Infow("broadcast start ignored, already joining", "status", s.status)
		return
	}

	s.broadcasterID = broadcasterID
	s.readyRetried = false
	s.setStatusLocked(domain.ListenerStatusConnecting)

	s.sendReadyLocked(ctx)
}

// sendReadyLocked announces readiness and arms the offer-wait timer.
// Caller holds s.mu.
func (s *listenerService) sendReadyLocked(ctx context.Context) {
	env := domain.Envelope{
		Type:     domain.MsgListenerReady,
		SenderID: s.selfID,
		TargetID: s.broadcasterID,
		Payload: domain.MustMarshal(domain.ListenerReadyPayload{
			ListenerID:    s.selfID,
			BroadcasterID: s.broadcasterID,
		}),
	}
	if err := s.signal.SendTo(ctx, s.broadcasterID, env); err != nil {
		s.logger.Warnw("failed to send listener ready", "error", err)
	}

	if s.offerTimer != nil {
		s.offerTimer.Stop()
	}
	s.offerTimer = time.AfterFunc(s.offerWaitTimeout, s.onOfferTimeout)
}

// onOfferTimeout fires when no offer arrived in time. One delayed retry is
// allowed; after that the handler parks in the error state.
func (s *listenerService) onOfferTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.ListenerStatusConnecting {
		return
	}

	if !s.readyRetried {
		s.readyRetried = true
		s.logger.Warnw("no offer received, retrying once", "broadcaster", s.broadcasterID)
		s.offerTimer = time.AfterFunc(s.retryDelay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.status != domain.ListenerStatusConnecting {
				return
			}
			s.sendReadyLocked(context.Background())
		})
		return
	}

	s.logger.Errorw("negotiation timed out", "broadcaster", s.broadcasterID)
	s.teardownLocked()
	s.setStatusLocked(domain.ListenerStatusError)
}

func (s *listenerService) OnOffer(ctx context.Context, senderID domain.PartyID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.ListenerStatusConnecting && s.status != domain.ListenerStatusStreaming {
		s.logger.Infow("offer ignored", "status", s.status, "sender", senderID)
		return domain.ErrStaleMessage
	}
	if senderID != s.broadcasterID {
		return domain.ErrStaleMessage
	}
	if s.offerTimer != nil {
		s.offerTimer.Stop()
		s.offerTimer = nil
	}

	// A repeated offer from the current broadcaster replaces the previous
	// connection: source changes recreate every link on the sending side,
	// so the old one is already dead over there.
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warnw("error closing replaced connection", "error", err)
		}
		s.conn = nil
	}
	s.pendingCands = nil
	s.remoteDescSet = false
	if s.status == domain.ListenerStatusStreaming {
		s.setStatusLocked(domain.ListenerStatusConnecting)
	}

	conn, err := s.factory.NewConnector(ctx)
	if err != nil {
		s.teardownLocked()
		s.setStatusLocked(domain.ListenerStatusError)
		return err
	}
	s.conn = conn

	conn.OnRemoteTrack(func(track *webrtc.TrackRemote) {
		s.sink.Attach(track)
	})

	conn.OnLocalCandidate(func(candidate string) {
		env := domain.Envelope{
			Type:     domain.MsgICECandidate,
			SenderID: s.selfID,
			TargetID: senderID,
			Payload:  domain.MustMarshal(domain.CandidatePayload{Candidate: candidate}),
		}
		if err := s.signal.SendTo(context.Background(), senderID, env); err != nil {
			s.logger.Warnw("failed to relay local candidate", "error", err)
		}
	})

	conn.OnStateChange(func(state domain.LinkState) {
		s.handleLinkState(conn, state)
	})

	answer, err := conn.CreateAnswer(ctx, sdp)
	if err != nil {
		s.teardownLocked()
		s.setStatusLocked(domain.ListenerStatusError)
		return err
	}

	// The remote offer is now set; buffered candidates drain in order.
	s.remoteDescSet = true
	for _, candidate := range s.pendingCands {
		if err := conn.AddICECandidate(candidate); err != nil {
			s.logger.Warnw("failed to apply buffered candidate", "error", err)
		}
	}
	s.pendingCands = nil

	return s.signal.SendTo(ctx, senderID, domain.Envelope{
		Type:     domain.MsgAnswer,
		SenderID: s.selfID,
		TargetID: senderID,
		Payload:  domain.MustMarshal(domain.DescriptionPayload{SDP: answer}),
	})
}

func (s *listenerService) OnICECandidate(ctx context.Context, candidate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.ListenerStatusConnecting && s.status != domain.ListenerStatusStreaming {
		return domain.ErrStaleMessage
	}

	if !s.remoteDescSet {
		s.pendingCands = append(s.pendingCands, candidate)
		return nil
	}
	return s.conn.AddICECandidate(candidate)
}

func (s *listenerService) handleLinkState(conn ports.PeerConnector, state domain.LinkState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A replaced connection still fires Closed/Failed while shutting down;
	// only the current connection's events drive the state machine.
	if s.conn != conn {
		return
	}

	switch state {
	case domain.LinkStateConnected:
		if s.status == domain.ListenerStatusConnecting {
			s.setStatusLocked(domain.ListenerStatusStreaming)
			s.logger.Infow("streaming from broadcaster", "broadcaster", s.broadcasterID)
		}
	case domain.LinkStateFailed:
		s.logger.Errorw("listener connection failed", "broadcaster", s.broadcasterID)
		s.teardownLocked()
		s.setStatusLocked(domain.ListenerStatusError)
	}
}

func (s *listenerService) OnBroadcastStopped(ctx context.Context, broadcasterID domain.PartyID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broadcasterID != "" && broadcasterID != s.broadcasterID {
		return
	}

	s.teardownLocked()
	// An errored handler stays errored until a restart is forced.
	if s.status != domain.ListenerStatusError {
		s.setStatusLocked(domain.ListenerStatusIdle)
	}
	s.logger.Infow("broadcast ended", "broadcaster", broadcasterID)
}

func (s *listenerService) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	s.setStatusLocked(domain.ListenerStatusIdle)
	return nil
}

// teardownLocked releases the connection and negotiation state without
// touching status. Caller holds s.mu.
func (s *listenerService) teardownLocked() {
	if s.offerTimer != nil {
		s.offerTimer.Stop()
		s.offerTimer = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warnw("error closing connection", "error", err)
		}
		s.conn = nil
	}
	s.sink.Clear()
	s.pendingCands = nil
	s.remoteDescSet = false
	s.broadcasterID = ""
}

func (s *listenerService) Status() domain.ListenerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *listenerService) SubscribeStatus(fn func(domain.ListenerStatus)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubscriber
	s.nextSubscriber++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// setStatusLocked transitions status and queues the notification for the
// dispatch loop. Caller holds s.mu.
func (s *listenerService) setStatusLocked(status domain.ListenerStatus) {
	if s.status == status {
		return
	}
	s.status = status

	select {
	case s.notifyCh <- status:
	default:
		// The state machine has four states; sixteen queued transitions
		// means no one is draining. Dropping beats blocking under s.mu.
		s.logger.Warnw("status notification dropped", "status", status)
	}
}
