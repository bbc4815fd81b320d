package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ripple-chat/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]domain.User, error)
	UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.UserStatus, lastActive time.Time) error
}

type ConversationRepository interface {
	Create(ctx context.Context, c *domain.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Conversation, error)
	Update(ctx context.Context, c domain.Conversation) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	Delete(ctx context.Context, id uuid.UUID) error

	GetUserConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	GetPrivateBetween(ctx context.Context, userID1, userID2 uuid.UUID) (domain.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)

	AddParticipant(ctx context.Context, p *domain.Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error

	SetLastMessage(ctx context.Context, conversationID uuid.UUID, messageID *uuid.UUID, at time.Time) error
	SetUnreadCount(ctx context.Context, conversationID uuid.UUID, count int) error
	SetParticipantUnreadCount(ctx context.Context, conversationID uuid.UUID, counts map[string]int) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error)
	GetByTempID(ctx context.Context, tempID string, since time.Time) (domain.Message, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]domain.Message, error)

	GetUnreadMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error)
	CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int64, error)
	CreateReceipts(ctx context.Context, receipts []domain.MessageReceipt) error
	UpdateStatus(ctx context.Context, conversationID uuid.UUID, messageIDs []uuid.UUID, status domain.MessageStatus) ([]uuid.UUID, error)

	Recall(ctx context.Context, messageID uuid.UUID, scope domain.RecallScope, clearContent bool, at time.Time) error

	ReplaceReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) error
	GetReactions(ctx context.Context, messageID uuid.UUID) ([]domain.MessageReaction, error)

	ListAttachments(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Attachment, error)
}

type FriendshipRepository interface {
	Create(ctx context.Context, f *domain.Friendship) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Friendship, error)
	GetPendingBetween(ctx context.Context, requesterID, recipientID uuid.UUID) (domain.Friendship, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.FriendshipStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
	AreFriends(ctx context.Context, userID1, userID2 uuid.UUID) (bool, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}
