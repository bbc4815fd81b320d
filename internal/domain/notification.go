package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationFriendRequest   NotificationType = "friend_request"
	NotificationFriendResponse  NotificationType = "friend_response"
	NotificationMessageReceived NotificationType = "message_received"
)

// Notification represents the notifications table. Sender is a
// denormalized snapshot so notification lists render without user joins.
type Notification struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID      uuid.UUID        `gorm:"type:uuid;not null;index:idx_notifications_user" json:"userId"`
	Type        NotificationType `gorm:"type:varchar(40);not null" json:"type"`
	ReferenceID *uuid.UUID       `gorm:"type:uuid" json:"referenceId,omitempty"`
	Content     string           `gorm:"type:text" json:"content"`
	Sender      UserSnapshot     `gorm:"type:jsonb;serializer:json" json:"sender"`
	IsRead      bool             `gorm:"default:false" json:"isRead"`
	CreatedAt   time.Time        `json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}
