package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ripple-chat/internal/domain"
	"ripple-chat/pkg/events"
)

// MockUserRepository is a mock implementation of repository.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.User), args.Error(1)
}

func (m *MockUserRepository) SearchUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.User), args.Error(1)
}

func (m *MockUserRepository) UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.UserStatus, lastActive time.Time) error {
	args := m.Called(ctx, userID, status, lastActive)
	return args.Error(0)
}

// MockConversationRepository is a mock implementation of repository.ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Conversation, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) Update(ctx context.Context, c domain.Conversation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockConversationRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	args := m.Called(ctx, id, fields)
	return args.Error(0)
}

func (m *MockConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockConversationRepository) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) GetPrivateBetween(ctx context.Context, userID1, userID2 uuid.UUID) (domain.Conversation, error) {
	args := m.Called(ctx, userID1, userID2)
	return args.Get(0).(domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockConversationRepository) AddParticipant(ctx context.Context, p *domain.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *MockConversationRepository) SetLastMessage(ctx context.Context, conversationID uuid.UUID, messageID *uuid.UUID, at time.Time) error {
	args := m.Called(ctx, conversationID, messageID, at)
	return args.Error(0)
}

func (m *MockConversationRepository) SetUnreadCount(ctx context.Context, conversationID uuid.UUID, count int) error {
	args := m.Called(ctx, conversationID, count)
	return args.Error(0)
}

func (m *MockConversationRepository) SetParticipantUnreadCount(ctx context.Context, conversationID uuid.UUID, counts map[string]int) error {
	args := m.Called(ctx, conversationID, counts)
	return args.Error(0)
}

// MockMessageRepository is a mock implementation of repository.MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *MockMessageRepository) GetByTempID(ctx context.Context, tempID string, since time.Time) (domain.Message, error) {
	args := m.Called(ctx, tempID, since)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *MockMessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockMessageRepository) GetUnreadMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockMessageRepository) CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepository) CreateReceipts(ctx context.Context, receipts []domain.MessageReceipt) error {
	args := m.Called(ctx, receipts)
	return args.Error(0)
}

func (m *MockMessageRepository) UpdateStatus(ctx context.Context, conversationID uuid.UUID, messageIDs []uuid.UUID, status domain.MessageStatus) ([]uuid.UUID, error) {
	args := m.Called(ctx, conversationID, messageIDs, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockMessageRepository) Recall(ctx context.Context, messageID uuid.UUID, scope domain.RecallScope, clearContent bool, at time.Time) error {
	args := m.Called(ctx, messageID, scope, clearContent, at)
	return args.Error(0)
}

func (m *MockMessageRepository) ReplaceReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) error {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Error(0)
}

func (m *MockMessageRepository) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *MockMessageRepository) GetReactions(ctx context.Context, messageID uuid.UUID) ([]domain.MessageReaction, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.MessageReaction), args.Error(1)
}

func (m *MockMessageRepository) ListAttachments(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Attachment, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Attachment), args.Error(1)
}

// MockFriendshipRepository is a mock implementation of repository.FriendshipRepository
type MockFriendshipRepository struct {
	mock.Mock
}

func (m *MockFriendshipRepository) Create(ctx context.Context, f *domain.Friendship) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockFriendshipRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Friendship, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Friendship), args.Error(1)
}

func (m *MockFriendshipRepository) GetPendingBetween(ctx context.Context, requesterID, recipientID uuid.UUID) (domain.Friendship, error) {
	args := m.Called(ctx, requesterID, recipientID)
	return args.Get(0).(domain.Friendship), args.Error(1)
}

func (m *MockFriendshipRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.FriendshipStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockFriendshipRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockFriendshipRepository) AreFriends(ctx context.Context, userID1, userID2 uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID1, userID2)
	return args.Bool(0), args.Error(1)
}

// MockNotificationRepository is a mock implementation of repository.NotificationRepository
type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockNotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Notification), args.Error(1)
}

func (m *MockNotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// recordedEvent is one captured sink emission.
type recordedEvent struct {
	UserID         *uuid.UUID
	ConversationID *uuid.UUID
	Broadcast      bool
	Event          events.Event
}

// fakeSink records every emission for assertions.
type fakeSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func newFakeSink() *fakeSink {
	return &fakeSink{}
}

func (s *fakeSink) ToUser(_ context.Context, userID uuid.UUID, event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := userID
	s.events = append(s.events, recordedEvent{UserID: &id, Event: event})
}

func (s *fakeSink) ToConversation(_ context.Context, conversationID uuid.UUID, event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := conversationID
	s.events = append(s.events, recordedEvent{ConversationID: &id, Event: event})
}

func (s *fakeSink) ToAll(_ context.Context, event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Broadcast: true, Event: event})
}

func (s *fakeSink) byType(eventType string) []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedEvent
	for _, e := range s.events {
		if e.Event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeSink) toUserByType(userID uuid.UUID, eventType string) []recordedEvent {
	var out []recordedEvent
	for _, e := range s.byType(eventType) {
		if e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// fakeOccupancy is a static ChannelOccupancy.
type fakeOccupancy struct {
	active map[uuid.UUID][]uuid.UUID
}

func newFakeOccupancy() *fakeOccupancy {
	return &fakeOccupancy{active: make(map[uuid.UUID][]uuid.UUID)}
}

func (o *fakeOccupancy) set(conversationID uuid.UUID, userIDs ...uuid.UUID) {
	o.active[conversationID] = userIDs
}

func (o *fakeOccupancy) ActiveUsers(conversationID uuid.UUID) []uuid.UUID {
	return o.active[conversationID]
}
