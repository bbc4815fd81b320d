package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageText       MessageType = "text"
	MessageMultimedia MessageType = "multimedia"
	MessageSystem     MessageType = "system"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

type RecallScope string

const (
	RecallSelf     RecallScope = "self"
	RecallEveryone RecallScope = "everyone"
)

// Message represents the messages table. SenderID is nil for system
// messages. TempID is the client-supplied idempotency token; the unique
// index deduplicates retried sends (NULLs are exempt, so system messages
// don't collide).
type Message struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ConversationID uuid.UUID   `gorm:"type:uuid;not null;index:idx_messages_conversation" json:"conversationId"`
	SenderID       *uuid.UUID  `gorm:"type:uuid" json:"sender,omitempty"`
	Content        string      `gorm:"type:text" json:"content"`
	Type           MessageType `gorm:"type:varchar(20);not null;default:'text'" json:"type"`

	// Status is the conversation-level convenience status, authoritative
	// only for private conversations; groups rely on the receipts ledger.
	Status MessageStatus `gorm:"type:varchar(20);not null;default:'sent'" json:"status"`

	TempID    *string    `gorm:"size:100;uniqueIndex" json:"tempId,omitempty"`
	ReplyToID *uuid.UUID `gorm:"type:uuid" json:"replyTo,omitempty"`

	IsRecalled bool        `gorm:"default:false" json:"isRecalled"`
	RecallType RecallScope `gorm:"type:varchar(20)" json:"recallType,omitempty"`
	RecalledAt *time.Time  `json:"recalledAt,omitempty"`

	PersonalizedContent []PersonalizedEntry `gorm:"type:jsonb;serializer:json" json:"personalizedContent,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Relations
	Sender      *User             `gorm:"foreignKey:SenderID" json:"senderInfo,omitempty"`
	Attachments []Attachment      `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
	ReadBy      []MessageReceipt  `gorm:"foreignKey:MessageID" json:"readBy,omitempty"`
	Reactions   []MessageReaction `gorm:"foreignKey:MessageID" json:"reactions,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

// PersonalizedEntry carries a per-viewer variant of a system message body.
type PersonalizedEntry struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

// RenderFor resolves the content a specific viewer should see. Every read
// path goes through here so personalization and self-recall masking behave
// the same everywhere.
func (m Message) RenderFor(viewerID uuid.UUID) string {
	if m.IsRecalled && m.RecallType == RecallSelf && m.SenderID != nil && *m.SenderID == viewerID {
		return ""
	}
	if m.Type == MessageSystem && len(m.PersonalizedContent) > 0 {
		for _, entry := range m.PersonalizedContent {
			if entry.UserID == viewerID.String() {
				return entry.Content
			}
		}
	}
	return m.Content
}

// IsReadBy reports whether the receipts ledger records a read by userID.
func (m Message) IsReadBy(userID uuid.UUID) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Attachment represents the message_attachments table.
type Attachment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"messageId"`
	FileName  string    `gorm:"size:255" json:"fileName"`
	FileURL   string    `gorm:"size:1000" json:"fileUrl"`
	FileType  string    `gorm:"size:50" json:"fileType"`
	MimeType  string    `gorm:"size:100" json:"mimeType"`
	FileSize  int64     `json:"fileSize"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Attachment) TableName() string {
	return "message_attachments"
}

// MessageReceipt is one entry in a message's readBy ledger.
type MessageReceipt struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey" json:"messageId"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user"`
	ReadAt    time.Time `json:"readAt"`
}

func (MessageReceipt) TableName() string {
	return "message_receipts"
}

// MessageReaction holds at most one reaction per (message, user);
// re-reacting replaces the previous row.
type MessageReaction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_reactions_message_user" json:"messageId"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_reactions_message_user" json:"user"`
	Emoji     string    `gorm:"size:64;not null" json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

func (MessageReaction) TableName() string {
	return "message_reactions"
}
