package repository

import (
	"context"
	"errors"
	"time"

	"ripple-chat/internal/domain"
	ripple_errors "ripple-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresFriendshipRepository struct {
	db *gorm.DB
}

func NewFriendshipRepository(db *gorm.DB) FriendshipRepository {
	return &PostgresFriendshipRepository{db: db}
}

func (r *PostgresFriendshipRepository) Create(ctx context.Context, f *domain.Friendship) error {
	res := r.db.WithContext(ctx).Omit("Requester", "Recipient").Create(f)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ripple_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresFriendshipRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Friendship, error) {
	var f domain.Friendship
	err := r.db.WithContext(ctx).
		Preload("Requester").
		Preload("Recipient").
		Where("id = ?", id).
		First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Friendship{}, ripple_errors.ErrNotFound
		}
		return domain.Friendship{}, err
	}
	return f, nil
}

func (r *PostgresFriendshipRepository) GetPendingBetween(ctx context.Context, requesterID, recipientID uuid.UUID) (domain.Friendship, error) {
	var f domain.Friendship
	err := r.db.WithContext(ctx).
		Where("requester_id = ? AND recipient_id = ? AND status = ?",
			requesterID, recipientID, domain.FriendshipPending).
		First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Friendship{}, ripple_errors.ErrNotFound
		}
		return domain.Friendship{}, err
	}
	return f, nil
}

func (r *PostgresFriendshipRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.FriendshipStatus) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Friendship{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ripple_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresFriendshipRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&domain.Friendship{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ripple_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresFriendshipRepository) AreFriends(ctx context.Context, userID1, userID2 uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Friendship{}).
		Where("status = ? AND ((requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?))",
			domain.FriendshipAccepted, userID1, userID2, userID2, userID1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
