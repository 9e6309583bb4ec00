package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"
	"djlive/internal/core/services"
	"djlive/internal/infrastructure/monitoring"
	"djlive/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// partyConn wraps a websocket connection with a write lock; gorilla
// connections do not allow concurrent writers.
type partyConn struct {
	conn   *websocket.Conn
	claims domain.IdentityClaims

	writeMu sync.Mutex
}

func (p *partyConn) writeJSON(v interface{}) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(v)
}

// Server is the signaling relay: it authenticates parties, routes envelopes
// between them, answers snapshot requests, and feeds role traffic to the
// arbitrator. It carries no negotiation logic of its own.
type Server struct {
	auth    services.AuthService
	backlog ports.BacklogRepository
	metrics *monitoring.Collector

	arbitrator ports.SessionArbitrator

	connections map[domain.PartyID]*partyConn
	readyAt     map[domain.PartyID]time.Time
	mu          sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	msgRate  rate.Limit
	msgBurst int

	backlogLimit int

	logger *zap.SugaredLogger
}

var _ ports.SignalSender = (*Server)(nil)

func NewServer(
	auth services.AuthService,
	backlog ports.BacklogRepository,
	metrics *monitoring.Collector,
	backlogLimit int,
	msgRate rate.Limit,
	msgBurst int,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		auth:         auth,
		backlog:      backlog,
		metrics:      metrics,
		connections:  make(map[domain.PartyID]*partyConn),
		readyAt:      make(map[domain.PartyID]time.Time),
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		msgRate:      msgRate,
		msgBurst:     msgBurst,
		backlogLimit: backlogLimit,
		logger:       logger,
	}
}

// SetArbitrator breaks the construction cycle: the arbitrator broadcasts
// through this server, the server feeds role traffic to the arbitrator.
func (s *Server) SetArbitrator(arb ports.SessionArbitrator) {
	s.arbitrator = arb
}

func (s *Server) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

func (s *Server) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		s.logger.Warnw("websocket auth failed", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	partyID := claims.PartyID

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	pc := &partyConn{conn: conn, claims: claims.Identity()}

	s.mu.Lock()
	existing, isReconnect := s.connections[partyID]
	if isReconnect && existing != nil {
		existing.conn.Close()
		s.logger.Infow("closing old connection for reconnecting party", "party_id", partyID)
	}
	s.connections[partyID] = pc
	connected := len(s.connections)
	s.mu.Unlock()

	s.metrics.SetConnectedParties(connected)
	s.logger.Infow("party connected", "party_id", partyID, "reconnect", isReconnect)

	// A fresh connection gets the current world state immediately so it can
	// join a broadcast already in progress.
	if err := s.sendSnapshot(r.Context(), partyID); err != nil {
		s.logger.Warnw("failed to push initial snapshot", "party_id", partyID, "error", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(s.msgRate, s.msgBurst)

	messageChan := make(chan domain.Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var env domain.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- env
		}
	}()

	for {
		select {
		case env := <-messageChan:
			if !limiter.Allow() {
				s.logger.Warnw("message rate limit exceeded", "party_id", partyID)
				s.sendError(pc, "rate_limited", "too many messages")
				continue
			}
			if err := s.handleMessage(context.Background(), partyID, env); err != nil {
				s.metrics.RecordSignalError()
				s.logger.Infow("error handling message", "party_id", partyID, "type", env.Type, "error", err)
				s.sendError(pc, "bad_message", err.Error())
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "party_id", partyID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "party_id", partyID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	superseded := true
	if current, ok := s.connections[partyID]; ok && current == pc {
		delete(s.connections, partyID)
		delete(s.readyAt, partyID)
		superseded = false
	}
	connected = len(s.connections)
	s.mu.Unlock()

	s.metrics.SetConnectedParties(connected)

	// A vanished broadcaster ends the session; the release broadcast tells
	// everyone else. A superseded connection must not release state the
	// party's newer connection now owns.
	if !superseded {
		if err := s.arbitrator.ReleaseRole(context.Background(), partyID); err != nil && !errors.Is(err, domain.ErrNotHolder) {
			s.logger.Warnw("error releasing role on disconnect", "party_id", partyID, "error", err)
		} else if err == nil {
			s.metrics.SetSessionActive(false)
		}
	}

	s.logger.Infow("party disconnected", "party_id", partyID, "superseded", superseded)
}

func (s *Server) handleMessage(ctx context.Context, partyID domain.PartyID, env domain.Envelope) error {
	if env.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if env.SenderID != "" && env.SenderID != partyID {
		return fmt.Errorf("sender_id mismatch: expected %s, got %s", partyID, env.SenderID)
	}
	env.SenderID = partyID

	ctx, span := tracing.TraceSignalMessage(ctx, env.Type, string(partyID))
	defer span.End()

	s.metrics.RecordSignalMessage(env.Type)

	switch env.Type {
	case domain.MsgRoleRequest:
		return s.handleRoleRequest(ctx, partyID, env)
	case domain.MsgRoleRelease, domain.MsgBroadcastStopped:
		return s.handleRoleRelease(ctx, partyID)
	case domain.MsgSnapshotRequest:
		return s.sendSnapshot(ctx, partyID)
	case domain.MsgChat:
		return s.handleChat(ctx, partyID, env)
	case domain.MsgListenerReady:
		s.mu.Lock()
		s.readyAt[partyID] = time.Now()
		s.mu.Unlock()
		return s.route(ctx, partyID, env)
	case domain.MsgAnswer:
		s.mu.Lock()
		if started, ok := s.readyAt[partyID]; ok {
			s.metrics.ObserveNegotiation(time.Since(started).Seconds())
			delete(s.readyAt, partyID)
		}
		s.mu.Unlock()
		return s.route(ctx, partyID, env)
	case domain.MsgOffer, domain.MsgICECandidate:
		return s.route(ctx, partyID, env)
	default:
		return fmt.Errorf("unknown message type: %s", env.Type)
	}
}

func (s *Server) handleRoleRequest(ctx context.Context, partyID domain.PartyID, env domain.Envelope) error {
	var payload domain.RoleRequestPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("invalid role_request payload: %w", err)
		}
	}

	s.mu.RLock()
	pc, ok := s.connections[partyID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrPartyNotConnected
	}

	session, err := s.arbitrator.RequestRole(ctx, partyID, pc.claims, payload.DisplayLabel)
	if err != nil {
		s.metrics.RecordRoleDenial()
		reason := "denied"
		switch {
		case errors.Is(err, domain.ErrAlreadyActive):
			reason = "already_active"
		case errors.Is(err, domain.ErrUnauthorized):
			reason = "unauthorized"
		}
		return pc.writeJSON(domain.Envelope{
			Type:     domain.MsgRoleDenied,
			TargetID: partyID,
			Payload:  domain.MustMarshal(domain.RoleDeniedPayload{Reason: reason}),
		})
	}

	s.metrics.SetSessionActive(true)
	return pc.writeJSON(domain.Envelope{
		Type:     domain.MsgRoleGranted,
		TargetID: partyID,
		Payload:  domain.MustMarshal(session),
	})
}

func (s *Server) handleRoleRelease(ctx context.Context, partyID domain.PartyID) error {
	err := s.arbitrator.ReleaseRole(ctx, partyID)
	if errors.Is(err, domain.ErrNotHolder) {
		// Not an error worth bouncing back; stale releases are routine.
		s.logger.Infow("release from non-holder ignored", "party_id", partyID)
		return nil
	}
	if err == nil {
		s.metrics.SetSessionActive(false)
	}
	return err
}

func (s *Server) handleChat(ctx context.Context, partyID domain.PartyID, env domain.Envelope) error {
	stored := domain.MustMarshal(env)
	if err := s.backlog.Append(ctx, stored); err != nil {
		s.logger.Warnw("failed to store chat message", "error", err)
	}
	return s.Broadcast(ctx, env)
}

// sendSnapshot pushes the current session state, listener count, and recent
// chat to one party.
func (s *Server) sendSnapshot(ctx context.Context, partyID domain.PartyID) error {
	session, err := s.arbitrator.CurrentState(ctx)
	if err != nil {
		return err
	}

	chat, err := s.backlog.Recent(ctx, s.backlogLimit)
	if err != nil {
		s.logger.Warnw("failed to load chat backlog", "error", err)
		chat = nil
	}

	count := s.listenerCount(session)
	s.metrics.SetListenersConnected(count)

	return s.SendTo(ctx, partyID, domain.Envelope{
		Type:     domain.MsgStateSnapshot,
		TargetID: partyID,
		Payload: domain.MustMarshal(domain.StateSnapshotPayload{
			Session:       session,
			ListenerCount: count,
			ChatBacklog:   chat,
		}),
	})
}

// listenerCount counts connected parties other than the active broadcaster.
func (s *Server) listenerCount(session *domain.BroadcastSession) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := len(s.connections)
	if session != nil {
		if _, ok := s.connections[session.BroadcasterID]; ok {
			count--
		}
	}
	return count
}

// route forwards an addressed envelope to its target party.
func (s *Server) route(ctx context.Context, fromID domain.PartyID, env domain.Envelope) error {
	if env.TargetID == "" {
		return fmt.Errorf("target_id is required for %s", env.Type)
	}

	s.logger.Debugw("routing envelope", "type", env.Type, "from", fromID, "to", env.TargetID)
	return s.SendTo(ctx, env.TargetID, env)
}

// SendTo implements ports.SignalSender for in-process services sharing the
// relay.
func (s *Server) SendTo(ctx context.Context, target domain.PartyID, env domain.Envelope) error {
	s.mu.RLock()
	pc, ok := s.connections[target]
	s.mu.RUnlock()

	if !ok {
		return domain.ErrPartyNotConnected
	}
	return pc.writeJSON(env)
}

// Broadcast sends an envelope to every connected party.
func (s *Server) Broadcast(ctx context.Context, env domain.Envelope) error {
	s.mu.RLock()
	conns := make([]*partyConn, 0, len(s.connections))
	for _, pc := range s.connections {
		conns = append(conns, pc)
	}
	s.mu.RUnlock()

	var failed int
	for _, pc := range conns {
		if err := pc.writeJSON(env); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("broadcast completed with %d errors", failed)
	}
	return nil
}

func (s *Server) sendError(pc *partyConn, code, message string) {
	pc.writeJSON(domain.Envelope{
		Type:    domain.MsgError,
		Payload: domain.MustMarshal(domain.ErrorPayload{Code: code, Message: message}),
	})
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connectionCount := len(s.connections)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) ConnectedParties() []domain.PartyID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parties := make([]domain.PartyID, 0, len(s.connections))
	for partyID := range s.connections {
		parties = append(parties, partyID)
	}
	return parties
}

func (s *Server) IsConnected(partyID domain.PartyID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.connections[partyID]
	return ok
}

// ListenerCount reports how many parties are connected besides the current
// broadcaster. Exposed for the HTTP surface.
func (s *Server) ListenerCount(ctx context.Context) (int, error) {
	session, err := s.arbitrator.CurrentState(ctx)
	if err != nil {
		return 0, err
	}
	return s.listenerCount(session), nil
}
