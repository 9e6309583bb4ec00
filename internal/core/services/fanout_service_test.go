package services

import (
	"context"
	"testing"

	"djlive/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func newTestTrack(t *testing.T) webrtc.TrackLocal {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"test-audio",
	)
	assert.NoError(t, err)
	return track
}

func newReadyConnector() *MockConnector {
	conn := new(MockConnector)
	conn.On("AddAudioTrack", mock.Anything).Return(nil)
	conn.On("CreateOffer", mock.Anything).Return("v=0 offer", nil)
	conn.On("SetRemoteAnswer", mock.Anything, mock.Anything).Return(nil)
	conn.On("AddICECandidate", mock.Anything).Return(nil)
	conn.On("Close").Return(nil)
	return conn
}

func newFanoutForTest(t *testing.T) (*MockConnectorFactory, *MockSignalSender, *fanoutService) {
	factory := new(MockConnectorFactory)
	signal := new(MockSignalSender)
	signal.On("SendTo", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	signal.On("Broadcast", mock.Anything, mock.Anything).Return(nil)
	fanout := NewFanoutService("dj-1", factory, signal, zap.NewNop().Sugar()).(*fanoutService)
	return factory, signal, fanout
}

func TestOnListenerReady_SendsOffer(t *testing.T) {
	factory, signal, fanout := newFanoutForTest(t)
	conn := newReadyConnector()
	factory.Queue(conn)

	assert.NoError(t, fanout.Start(context.Background(), newTestTrack(t)))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-1"))

	offers := signal.SentOfType(domain.MsgOffer)
	assert.Len(t, offers, 1)
	assert.Equal(t, domain.PartyID("listener-1"), offers[0].TargetID)

	links := fanout.ActiveLinks()
	assert.Len(t, links, 1)
	assert.Equal(t, domain.LinkStateNegotiating, links[0].State)
}

func TestOnListenerReady_DuplicateIsIdempotent(t *testing.T) {
	factory, signal, fanout := newFanoutForTest(t)
	factory.Queue(newReadyConnector())

	assert.NoError(t, fanout.Start(context.Background(), newTestTrack(t)))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-1"))
	// Second readiness signal for a live link must not build a second
	// connection; the factory would panic if asked for one.
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-1"))

	assert.Len(t, signal.SentOfType(domain.MsgOffer), 1)
	assert.Len(t, fanout.ActiveLinks(), 1)
}

func TestOnListenerReady_BeforeStart(t *testing.T) {
	_, _, fanout := newFanoutForTest(t)

	err := fanout.OnListenerReady(context.Background(), "listener-1")
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestOnAnswer_DrainsBufferedCandidatesInOrder(t *testing.T) {
	factory, _, fanout := newFanoutForTest(t)
	conn := newReadyConnector()
	factory.Queue(conn)

	assert.NoError(t, fanout.Start(context.Background(), newTestTrack(t)))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-1"))

	// Candidates arriving before the answer are buffered, not applied.
	assert.NoError(t, fanout.OnICECandidate(context.Background(), "listener-1", "cand-1"))
	assert.NoError(t, fanout.OnICECandidate(context.Background(), "listener-1", "cand-2"))
	assert.Empty(t, conn.AddedCandidates())

	assert.NoError(t, fanout.OnAnswer(context.Background(), "listener-1", "v=0 answer"))
	assert.Equal(t, []string{"cand-1", "cand-2"}, conn.AddedCandidates())

	// After the remote description is set, candidates apply directly.
	assert.NoError(t, fanout.OnICECandidate(context.Background(), "listener-1", "cand-3"))
	assert.Equal(t, []string{"cand-1", "cand-2", "cand-3"}, conn.AddedCandidates())
}

func TestOnAnswer_DuplicateIsIgnored(t *testing.T) {
	factory, _, fanout := newFanoutForTest(t)
	conn := newReadyConnector()
	factory.Queue(conn)

	assert.NoError(t, fanout.Start(context.Background(), newTestTrack(t)))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-1"))

	assert.NoError(t, fanout.OnAnswer(context.Background(), "listener-1", "v=0 answer"))
	assert.NoError(t, fanout.OnAnswer(context.Background(), "listener-1", "v=0 other answer"))

	conn.AssertNumberOfCalls(t, "SetRemoteAnswer", 1)
}

func TestOnAnswer_UnknownListener(t *testing.T) {
	_, _, fanout := newFanoutForTest(t)

	assert.NoError(t, fanout.Start(context.Background(), newTestTrack(t)))
	err := fanout.OnAnswer(context.Background(), "ghost", "v=0 answer")
	assert.ErrorIs(t, err, domain.ErrStaleMessage)
}

func TestLinkFailure_EvictsOnlyThatLink(t *testing.T) {
	factory, _, fanout := newFanoutForTest(t)
	conn1 := newReadyConnector()
	conn2 := newReadyConnector()
	factory.Queue(conn1, conn2)

	assert.NoError(t, fanout.Start(context.Background(), newTestTrack(t)))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-1"))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-2"))

	conn1.FireStateChange(domain.LinkStateFailed)

	links := fanout.ActiveLinks()
	assert.Len(t, links, 1)
	assert.Equal(t, domain.PartyID("listener-2"), links[0].ListenerID)
	conn1.AssertCalled(t, "Close")
	conn2.AssertNotCalled(t, "Close")
}

func TestStop_ClosesAllLinksAndAnnounces(t *testing.T) {
	factory, signal, fanout := newFanoutForTest(t)
	conn1 := newReadyConnector()
	conn2 := newReadyConnector()
	factory.Queue(conn1, conn2)

	assert.NoError(t, fanout.Start(context.Background(), newTestTrack(t)))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-1"))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-2"))

	assert.NoError(t, fanout.Stop(context.Background()))

	conn1.AssertCalled(t, "Close")
	conn2.AssertCalled(t, "Close")
	assert.Empty(t, fanout.ActiveLinks())

	broadcasts := signal.Broadcasted()
	assert.Len(t, broadcasts, 1)
	assert.Equal(t, domain.MsgBroadcastStopped, broadcasts[0].Type)

	// Further readiness signals are refused after stop.
	err := fanout.OnListenerReady(context.Background(), "listener-3")
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestOnSourceChanged_StaleConnectorEventsIgnored(t *testing.T) {
	factory, _, fanout := newFanoutForTest(t)
	oldConn := newReadyConnector()
	newConn := newReadyConnector()
	factory.Queue(oldConn, newConn)

	assert.NoError(t, fanout.Start(context.Background(), newTestTrack(t)))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-1"))
	assert.NoError(t, fanout.OnSourceChanged(context.Background(), newTestTrack(t)))

	// The replaced connection reports Closed while shutting down; the fresh
	// link must keep negotiating.
	oldConn.FireStateChange(domain.LinkStateClosed)

	links := fanout.ActiveLinks()
	assert.Len(t, links, 1)
	assert.Equal(t, domain.LinkStateNegotiating, links[0].State)

	// The listener's answer still lands on the new connection.
	assert.NoError(t, fanout.OnAnswer(context.Background(), "listener-1", "v=0 answer"))
	newConn.AssertCalled(t, "SetRemoteAnswer", mock.Anything, "v=0 answer")
	oldConn.AssertNotCalled(t, "SetRemoteAnswer", mock.Anything, mock.Anything)

	// Nor does a late failure from the old connection evict the new link.
	oldConn.FireStateChange(domain.LinkStateFailed)
	assert.Len(t, fanout.ActiveLinks(), 1)
}

func TestOnSourceChanged_RenegotiatesLiveListeners(t *testing.T) {
	factory, signal, fanout := newFanoutForTest(t)
	oldConn := newReadyConnector()
	newConn := newReadyConnector()
	factory.Queue(oldConn, newConn)

	assert.NoError(t, fanout.Start(context.Background(), newTestTrack(t)))
	assert.NoError(t, fanout.OnListenerReady(context.Background(), "listener-1"))

	assert.NoError(t, fanout.OnSourceChanged(context.Background(), newTestTrack(t)))

	oldConn.AssertCalled(t, "Close")
	assert.Len(t, signal.SentOfType(domain.MsgOffer), 2)

	links := fanout.ActiveLinks()
	assert.Len(t, links, 1)
	assert.Equal(t, domain.LinkStateNegotiating, links[0].State)
}
