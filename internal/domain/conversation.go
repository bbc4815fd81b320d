package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

type FriendRequestStatus string

const (
	FriendRequestNone     FriendRequestStatus = "none"
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestRecalled FriendRequestStatus = "recalled"
)

// Conversation represents the conversations table. UnreadCount is the
// private-conversation scalar; ParticipantUnreadCount is the per-member
// map used for groups. The friendRequest* fields gate private-conversation
// visibility while a friend request is in flight.
type Conversation struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Type          ConversationType `gorm:"type:varchar(20);not null;default:'private'" json:"type"`
	Name          string           `gorm:"size:100" json:"name,omitempty"`
	AvatarGroup   string           `gorm:"size:500" json:"avatarGroup,omitempty"`
	CreatorID     uuid.UUID        `gorm:"type:uuid;not null" json:"creator"`
	LastMessageID *uuid.UUID       `gorm:"type:uuid" json:"-"`

	UnreadCount            int            `gorm:"default:0" json:"unreadCount"`
	ParticipantUnreadCount map[string]int `gorm:"type:jsonb;serializer:json" json:"participantUnreadCount,omitempty"`

	IsFriendshipPending   bool                `gorm:"default:false" json:"isFriendshipPending"`
	FriendRequestStatus   FriendRequestStatus `gorm:"type:varchar(20);default:'none'" json:"friendRequestStatus"`
	FriendRequestSenderID *uuid.UUID          `gorm:"type:uuid" json:"friendRequestSender,omitempty"`
	FriendRequestID       *uuid.UUID          `gorm:"type:uuid" json:"friendRequestId,omitempty"`

	IsHidden  bool `gorm:"default:false" json:"isHidden"`
	IsVisible bool `gorm:"default:false" json:"isVisible"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Relations
	Participants []Participant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
	LastMessage  *Message      `gorm:"foreignKey:LastMessageID" json:"lastMessage,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Participant represents the conversation_participants join table.
// Ordering by joined_at defines participants[0] for creator reassignment.
type Participant struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey" json:"conversationId"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"userId"`
	JoinedAt       time.Time `json:"joinedAt"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Participant) TableName() string {
	return "conversation_participants"
}

func (c Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (c Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// OtherParticipant returns the non-viewer side of a private conversation.
func (c Conversation) OtherParticipant(viewerID uuid.UUID) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID != viewerID {
			return &c.Participants[i]
		}
	}
	return nil
}

func (c Conversation) HasMessage() bool {
	return c.LastMessageID != nil
}

// SortKey is the timestamp conversations are ordered by in list views.
func (c Conversation) SortKey() time.Time {
	if c.LastMessage != nil && !c.LastMessage.CreatedAt.IsZero() {
		return c.LastMessage.CreatedAt
	}
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}
