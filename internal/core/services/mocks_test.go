package services

import (
	"context"
	"sync"

	"djlive/internal/core/domain"
	"djlive/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/mock"
)

type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Put(ctx context.Context, session *domain.BroadcastSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context) (*domain.BroadcastSession, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BroadcastSession), args.Error(1)
}

func (m *MockSessionRepository) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) IsAuthorizedBroadcaster(claims domain.IdentityClaims) bool {
	args := m.Called(claims)
	return args.Bool(0)
}

// MockSignalSender records every envelope it is asked to deliver.
type MockSignalSender struct {
	mock.Mock

	mu        sync.Mutex
	sent      []domain.Envelope
	broadcast []domain.Envelope
}

func (m *MockSignalSender) SendTo(ctx context.Context, target domain.PartyID, env domain.Envelope) error {
	args := m.Called(ctx, target, env)
	m.mu.Lock()
	m.sent = append(m.sent, env)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockSignalSender) Broadcast(ctx context.Context, env domain.Envelope) error {
	args := m.Called(ctx, env)
	m.mu.Lock()
	m.broadcast = append(m.broadcast, env)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockSignalSender) Sent() []domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockSignalSender) SentOfType(msgType string) []domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Envelope
	for _, env := range m.sent {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (m *MockSignalSender) Broadcasted() []domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Envelope, len(m.broadcast))
	copy(out, m.broadcast)
	return out
}

// MockConnector captures registered callbacks so tests can drive state and
// candidate events.
type MockConnector struct {
	mock.Mock

	mu               sync.Mutex
	onLocalCandidate func(string)
	onStateChange    func(domain.LinkState)
	onRemoteTrack    func(*webrtc.TrackRemote)
	addedCandidates  []string
}

func (m *MockConnector) AddAudioTrack(track webrtc.TrackLocal) error {
	args := m.Called(track)
	return args.Error(0)
}

func (m *MockConnector) CreateOffer(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockConnector) CreateAnswer(ctx context.Context, remoteOffer string) (string, error) {
	args := m.Called(ctx, remoteOffer)
	return args.String(0), args.Error(1)
}

func (m *MockConnector) SetRemoteAnswer(ctx context.Context, sdp string) error {
	args := m.Called(ctx, sdp)
	return args.Error(0)
}

func (m *MockConnector) AddICECandidate(candidate string) error {
	args := m.Called(candidate)
	m.mu.Lock()
	m.addedCandidates = append(m.addedCandidates, candidate)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockConnector) OnLocalCandidate(fn func(string)) {
	m.mu.Lock()
	m.onLocalCandidate = fn
	m.mu.Unlock()
}

func (m *MockConnector) OnStateChange(fn func(domain.LinkState)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

func (m *MockConnector) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	m.mu.Lock()
	m.onRemoteTrack = fn
	m.mu.Unlock()
}

func (m *MockConnector) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockConnector) FireStateChange(state domain.LinkState) {
	m.mu.Lock()
	fn := m.onStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (m *MockConnector) AddedCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.addedCandidates))
	copy(out, m.addedCandidates)
	return out
}

// MockConnectorFactory hands out connectors in order.
type MockConnectorFactory struct {
	mu         sync.Mutex
	connectors []*MockConnector
	next       int
	err        error
}

func (m *MockConnectorFactory) Queue(conns ...*MockConnector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors = append(m.connectors, conns...)
}

func (m *MockConnectorFactory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockConnectorFactory) NewConnector(ctx context.Context) (ports.PeerConnector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.next >= len(m.connectors) {
		panic("MockConnectorFactory: no connector queued")
	}
	conn := m.connectors[m.next]
	m.next++
	return conn, nil
}

// MockSink records gain changes.
type MockSink struct {
	mu       sync.Mutex
	gains    []float64
	attached int
	cleared  int
}

func (m *MockSink) Attach(track *webrtc.TrackRemote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached++
}

func (m *MockSink) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
}

func (m *MockSink) SetGain(gain float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gains = append(m.gains, gain)
}

func (m *MockSink) LastGain() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.gains) == 0 {
		return -1
	}
	return m.gains[len(m.gains)-1]
}

func (m *MockSink) ClearedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleared
}

// MockListenerHandler backs playback manager tests.
type MockListenerHandler struct {
	mock.Mock

	mu     sync.Mutex
	status domain.ListenerStatus
	subs   []func(domain.ListenerStatus)
}

func (m *MockListenerHandler) Resync(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockListenerHandler) OnBroadcastStarted(ctx context.Context, broadcasterID domain.PartyID) {
	m.Called(ctx, broadcasterID)
}

func (m *MockListenerHandler) OnSnapshot(ctx context.Context, snapshot domain.StateSnapshotPayload) {
	m.Called(ctx, snapshot)
}

func (m *MockListenerHandler) OnOffer(ctx context.Context, senderID domain.PartyID, sdp string) error {
	args := m.Called(ctx, senderID, sdp)
	return args.Error(0)
}

func (m *MockListenerHandler) OnICECandidate(ctx context.Context, candidate string) error {
	args := m.Called(ctx, candidate)
	return args.Error(0)
}

func (m *MockListenerHandler) OnBroadcastStopped(ctx context.Context, broadcasterID domain.PartyID) {
	m.Called(ctx, broadcasterID)
}

func (m *MockListenerHandler) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockListenerHandler) Status() domain.ListenerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == "" {
		return domain.ListenerStatusIdle
	}
	return m.status
}

func (m *MockListenerHandler) SetStatus(status domain.ListenerStatus) {
	m.mu.Lock()
	m.status = status
	subs := make([]func(domain.ListenerStatus), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(status)
	}
}

func (m *MockListenerHandler) SubscribeStatus(fn func(domain.ListenerStatus)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
	return func() {}
}
