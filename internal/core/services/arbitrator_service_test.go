package services

import (
	"context"
	"testing"

	"djlive/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func newArbitratorForTest(t *testing.T) (*MockSessionRepository, *MockAuthorizer, *MockSignalSender, *arbitratorService) {
	repo := new(MockSessionRepository)
	auth := new(MockAuthorizer)
	signal := new(MockSignalSender)
	arb := NewArbitratorService(repo, auth, signal, zap.NewNop().Sugar()).(*arbitratorService)
	return repo, auth, signal, arb
}

func broadcasterClaims(id domain.PartyID) domain.IdentityClaims {
	return domain.IdentityClaims{
		PartyID:      id,
		Username:     string(id),
		Capabilities: []string{domain.CapabilityBroadcast},
	}
}

func TestRequestRole_GrantsFirstCandidate(t *testing.T) {
	repo, auth, signal, arb := newArbitratorForTest(t)

	auth.On("IsAuthorizedBroadcaster", mock.Anything).Return(true)
	repo.On("Put", mock.Anything, mock.Anything).Return(nil)
	signal.On("Broadcast", mock.Anything, mock.Anything).Return(nil)

	session, err := arb.RequestRole(context.Background(), "dj-1", broadcasterClaims("dj-1"), "Friday Night")

	assert.NoError(t, err)
	assert.NotNil(t, session)
	assert.Equal(t, domain.PartyID("dj-1"), session.BroadcasterID)
	assert.Equal(t, "Friday Night", session.DisplayLabel)
	assert.NotEmpty(t, session.ID)

	broadcasts := signal.Broadcasted()
	assert.Len(t, broadcasts, 1)
	assert.Equal(t, domain.MsgBroadcastStarted, broadcasts[0].Type)
}

func TestRequestRole_DeniesWhileSessionActive(t *testing.T) {
	repo, auth, signal, arb := newArbitratorForTest(t)

	auth.On("IsAuthorizedBroadcaster", mock.Anything).Return(true)
	repo.On("Put", mock.Anything, mock.Anything).Return(nil)
	signal.On("Broadcast", mock.Anything, mock.Anything).Return(nil)

	_, err := arb.RequestRole(context.Background(), "dj-1", broadcasterClaims("dj-1"), "")
	assert.NoError(t, err)

	session, err := arb.RequestRole(context.Background(), "dj-2", broadcasterClaims("dj-2"), "")
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)
	assert.Nil(t, session)

	// Only the first grant persisted anything.
	repo.AssertNumberOfCalls(t, "Put", 1)
}

func TestRequestRole_UnauthorizedHasNoSideEffects(t *testing.T) {
	repo, auth, signal, arb := newArbitratorForTest(t)

	auth.On("IsAuthorizedBroadcaster", mock.Anything).Return(false)

	session, err := arb.RequestRole(context.Background(), "rando", domain.IdentityClaims{PartyID: "rando"}, "")

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Nil(t, session)
	repo.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	signal.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
}

func TestReleaseRole_OnlyHolderCanRelease(t *testing.T) {
	repo, auth, signal, arb := newArbitratorForTest(t)

	auth.On("IsAuthorizedBroadcaster", mock.Anything).Return(true)
	repo.On("Put", mock.Anything, mock.Anything).Return(nil)
	repo.On("Clear", mock.Anything).Return(nil)
	signal.On("Broadcast", mock.Anything, mock.Anything).Return(nil)

	_, err := arb.RequestRole(context.Background(), "dj-1", broadcasterClaims("dj-1"), "")
	assert.NoError(t, err)

	err = arb.ReleaseRole(context.Background(), "dj-2")
	assert.ErrorIs(t, err, domain.ErrNotHolder)
	repo.AssertNotCalled(t, "Clear", mock.Anything)

	err = arb.ReleaseRole(context.Background(), "dj-1")
	assert.NoError(t, err)
	repo.AssertNumberOfCalls(t, "Clear", 1)

	broadcasts := signal.Broadcasted()
	assert.Len(t, broadcasts, 2)
	assert.Equal(t, domain.MsgBroadcastStopped, broadcasts[1].Type)
}

func TestReleaseRole_FreesSlotForNextCandidate(t *testing.T) {
	repo, auth, signal, arb := newArbitratorForTest(t)

	auth.On("IsAuthorizedBroadcaster", mock.Anything).Return(true)
	repo.On("Put", mock.Anything, mock.Anything).Return(nil)
	repo.On("Clear", mock.Anything).Return(nil)
	signal.On("Broadcast", mock.Anything, mock.Anything).Return(nil)

	_, err := arb.RequestRole(context.Background(), "dj-1", broadcasterClaims("dj-1"), "")
	assert.NoError(t, err)
	assert.NoError(t, arb.ReleaseRole(context.Background(), "dj-1"))

	session, err := arb.RequestRole(context.Background(), "dj-2", broadcasterClaims("dj-2"), "")
	assert.NoError(t, err)
	assert.Equal(t, domain.PartyID("dj-2"), session.BroadcasterID)
}

func TestCurrentState_NoSessionIsNotAnError(t *testing.T) {
	repo, _, _, arb := newArbitratorForTest(t)

	repo.On("Get", mock.Anything).Return(nil, domain.ErrNoActiveSession)

	session, err := arb.CurrentState(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, session)
}
