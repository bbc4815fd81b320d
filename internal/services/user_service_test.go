package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ripple-chat/internal/domain"
	"ripple-chat/internal/presence"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/events"
)

func newUserServiceForTest() (*UserService, *MockUserRepository, *presence.Tracker, *fakeSink) {
	users := new(MockUserRepository)
	sink := newFakeSink()
	tracker := presence.NewTracker(nil, users, nil)
	svc := NewUserService(users, tracker, sink)
	return svc, users, tracker, sink
}

func TestSetStatusBroadcasts(t *testing.T) {
	svc, users, _, sink := newUserServiceForTest()

	userID := uuid.New()
	users.On("UpdateStatus", mock.Anything, userID, domain.UserOffline, mock.Anything).Return(nil)

	err := svc.SetStatus(context.Background(), userID, domain.UserOffline)
	require.NoError(t, err)

	got := sink.byType(events.EventUserOffline)
	require.Len(t, got, 1)
	assert.True(t, got[0].Broadcast)
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _, _ := newUserServiceForTest()

	err := svc.SetStatus(context.Background(), uuid.New(), domain.UserStatus("away"))
	assert.ErrorIs(t, err, ripple_errors.ErrInvalidPayload)
}

func TestOnlineUsersResolvesRecords(t *testing.T) {
	svc, users, tracker, _ := newUserServiceForTest()

	userID := uuid.New()
	users.On("UpdateStatus", mock.Anything, userID, domain.UserOnline, mock.Anything).Return(nil)
	tracker.Connect(context.Background(), userID)

	users.On("GetByIDs", mock.Anything, []uuid.UUID{userID}).
		Return([]domain.User{{ID: userID, Name: "Avery"}}, nil)

	online, err := svc.OnlineUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "Avery", online[0].Name)
}

func TestOnlineUsersEmptyWithoutConnections(t *testing.T) {
	svc, users, _, _ := newUserServiceForTest()

	online, err := svc.OnlineUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, online)
	users.AssertNotCalled(t, "GetByIDs", mock.Anything, mock.Anything)
}

func TestSearchRequiresQuery(t *testing.T) {
	svc, _, _, _ := newUserServiceForTest()

	_, err := svc.Search(context.Background(), "", 10)
	assert.ErrorIs(t, err, ripple_errors.ErrInvalidPayload)
}
