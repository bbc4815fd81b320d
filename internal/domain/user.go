package domain

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserOnline  UserStatus = "online"
	UserOffline UserStatus = "offline"
)

type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name         string     `gorm:"size:100;not null" json:"name"`
	Email        string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Avatar       string     `gorm:"size:500" json:"avatar"`
	Status       UserStatus `gorm:"type:varchar(20);default:'offline'" json:"status"`
	LastActive   time.Time  `json:"lastActive"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// Snapshot is the denormalized sender copy embedded in notifications.
func (u User) Snapshot() UserSnapshot {
	return UserSnapshot{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

type UserSnapshot struct {
	ID     uuid.UUID `json:"_id"`
	Name   string    `json:"name"`
	Avatar string    `json:"avatar"`
}
