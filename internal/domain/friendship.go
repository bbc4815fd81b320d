package domain

import (
	"time"

	"github.com/google/uuid"
)

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
)

// Friendship represents the friendships table. At most one pending row
// exists per ordered (requester, recipient) pair; cancel deletes the row.
type Friendship struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	RequesterID uuid.UUID        `gorm:"type:uuid;not null;index:idx_friendships_pair" json:"requester"`
	RecipientID uuid.UUID        `gorm:"type:uuid;not null;index:idx_friendships_pair" json:"recipient"`
	Status      FriendshipStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	Requester *User `gorm:"foreignKey:RequesterID" json:"requesterInfo,omitempty"`
	Recipient *User `gorm:"foreignKey:RecipientID" json:"recipientInfo,omitempty"`
}

func (Friendship) TableName() string {
	return "friendships"
}
