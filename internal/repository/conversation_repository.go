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

type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	res := r.db.WithContext(ctx).Create(c)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ripple_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Conversation, error) {
	var c domain.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("conversation_participants.joined_at ASC")
		}).
		Preload("Participants.User").
		Preload("LastMessage").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, ripple_errors.ErrNotFound
		}
		return domain.Conversation{}, err
	}
	return c, nil
}

func (r *PostgresConversationRepository) Update(ctx context.Context, c domain.Conversation) error {
	res := r.db.WithContext(ctx).Omit("Participants", "LastMessage").Save(&c)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ripple_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ripple_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Cascade: participants, messages and their side tables
		var messageIDs []uuid.UUID
		if err := tx.Model(&domain.Message{}).
			Where("conversation_id = ?", id).
			Pluck("id", &messageIDs).Error; err != nil {
			return err
		}
		if len(messageIDs) > 0 {
			if err := tx.Delete(&domain.MessageReceipt{}, "message_id IN ?", messageIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&domain.MessageReaction{}, "message_id IN ?", messageIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&domain.Attachment{}, "message_id IN ?", messageIDs).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&domain.Conversation{}).
			Where("id = ?", id).
			Update("last_message_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&domain.Message{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&domain.Participant{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Conversation{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ripple_errors.ErrNotFound
		}
		return nil
	})
}

func (r *PostgresConversationRepository) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("conversation_participants.joined_at ASC")
		}).
		Preload("Participants.User").
		Preload("LastMessage").
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("conversations.updated_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *PostgresConversationRepository) GetPrivateBetween(ctx context.Context, userID1, userID2 uuid.UUID) (domain.Conversation, error) {
	var c domain.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("conversation_participants.joined_at ASC")
		}).
		Preload("Participants.User").
		Preload("LastMessage").
		Joins("JOIN conversation_participants a ON a.conversation_id = conversations.id AND a.user_id = ?", userID1).
		Joins("JOIN conversation_participants b ON b.conversation_id = conversations.id AND b.user_id = ?", userID2).
		Where("conversations.type = ?", domain.ConversationPrivate).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, ripple_errors.ErrNotFound
		}
		return domain.Conversation{}, err
	}
	return c, nil
}

func (r *PostgresConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PostgresConversationRepository) AddParticipant(ctx context.Context, p *domain.Participant) error {
	res := r.db.WithContext(ctx).Create(p)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ripple_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Delete(&domain.Participant{}, "conversation_id = ? AND user_id = ?", conversationID, userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ripple_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) SetLastMessage(ctx context.Context, conversationID uuid.UUID, messageID *uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"updated_at":      at,
		}).Error
}

func (r *PostgresConversationRepository) SetUnreadCount(ctx context.Context, conversationID uuid.UUID, count int) error {
	return r.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Update("unread_count", count).Error
}

func (r *PostgresConversationRepository) SetParticipantUnreadCount(ctx context.Context, conversationID uuid.UUID, counts map[string]int) error {
	// Struct-based update so the jsonb serializer kicks in.
	return r.db.WithContext(ctx).
		Model(&domain.Conversation{ID: conversationID}).
		Select("participant_unread_count").
		Updates(domain.Conversation{ParticipantUnreadCount: counts}).Error
}
