package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// arbitratorService serializes all broadcaster-role mutation through one
// mutex, which keeps the ≤1 active session invariant without any queueing.
type arbitratorService struct {
	sessionRepo ports.SessionRepository
	authorizer  ports.BroadcastAuthorizer
	signal      ports.SignalSender
	logger      *zap.SugaredLogger

	mu    sync.Mutex
	grant *domain.RoleGrant
}

func NewArbitratorService(
	sessionRepo ports.SessionRepository,
	authorizer ports.BroadcastAuthorizer,
	signal ports.SignalSender,
	logger *zap.SugaredLogger,
) ports.SessionArbitrator {
	return &arbitratorService{
		sessionRepo: sessionRepo,
		authorizer:  authorizer,
		signal:      signal,
		logger:      logger,
	}
}

func (s *arbitratorService) RequestRole(ctx context.Context, candidateID domain.PartyID, claims domain.IdentityClaims, label string) (*domain.BroadcastSession, error) {
	// Authorization is resolved once, here, before any state is touched.
	if !s.authorizer.IsAuthorizedBroadcaster(claims) {
		s.logger.Infow("role request denied", "candidate", candidateID, "reason", "unauthorized")
		return nil, domain.ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grant != nil {
		s.logger.Infow("role request denied", "candidate", candidateID, "reason", "already_active", "holder", s.grant.HolderID)
		return nil, domain.ErrAlreadyActive
	}

	now := time.Now()
	session := &domain.BroadcastSession{
		ID:            domain.SessionID(uuid.NewString()),
		BroadcasterID: candidateID,
		StartedAt:     now,
		DisplayLabel:  label,
	}

	if err := s.sessionRepo.Put(ctx, session); err != nil {
		return nil, err
	}
	s.grant = &domain.RoleGrant{HolderID: candidateID, GrantedAt: now}

	s.logger.Infow("broadcaster role granted", "holder", candidateID, "session_id", session.ID)

	if err := s.signal.Broadcast(ctx, domain.Envelope{
		Type:     domain.MsgBroadcastStarted,
		SenderID: candidateID,
		Payload: domain.MustMarshal(domain.BroadcastStartedPayload{
			BroadcasterID: candidateID,
			DisplayLabel:  label,
		}),
	}); err != nil {
		s.logger.Warnw("failed to announce broadcast start", "error", err)
	}

	return session, nil
}

func (s *arbitratorService) ReleaseRole(ctx context.Context, candidateID domain.PartyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grant == nil || s.grant.HolderID != candidateID {
		s.logger.Infow("role release ignored", "candidate", candidateID)
		return domain.ErrNotHolder
	}

	if err := s.sessionRepo.Clear(ctx); err != nil {
		return err
	}
	s.grant = nil

	s.logger.Infow("broadcast session ended", "holder", candidateID)

	if err := s.signal.Broadcast(ctx, domain.Envelope{
		Type:     domain.MsgBroadcastStopped,
		SenderID: candidateID,
		Payload: domain.MustMarshal(domain.BroadcastStoppedPayload{
			BroadcasterID: candidateID,
		}),
	}); err != nil {
		s.logger.Warnw("failed to announce broadcast stop", "error", err)
	}

	return nil
}

func (s *arbitratorService) CurrentState(ctx context.Context) (*domain.BroadcastSession, error) {
	session, err := s.sessionRepo.Get(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSession) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}
