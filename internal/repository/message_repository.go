package repository

import (
	"context"
	"errors"
	"time"

	"ripple-chat/internal/domain"
	ripple_errors "ripple-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	res := r.db.WithContext(ctx).Omit("Sender", "ReadBy.User").Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ripple_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	var m domain.Message
	err := r.db.WithContext(ctx).
		Preload("Attachments").
		Preload("ReadBy").
		Preload("Reactions").
		Preload("Sender").
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, ripple_errors.ErrNotFound
		}
		return domain.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) GetByTempID(ctx context.Context, tempID string, since time.Time) (domain.Message, error) {
	var m domain.Message
	err := r.db.WithContext(ctx).
		Preload("Attachments").
		Preload("ReadBy").
		Preload("Reactions").
		Where("temp_id = ? AND created_at >= ?", tempID, since).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, ripple_errors.ErrNotFound
		}
		return domain.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	q := r.db.WithContext(ctx).
		Preload("Attachments").
		Preload("ReadBy").
		Preload("Reactions").
		Preload("Sender").
		Where("conversation_id = ?", conversationID)

	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	if limit <= 0 {
		limit = 50
	}

	err := q.Order("created_at DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresMessageRepository) GetUnreadMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error) {
	var messages []domain.Message

	subQuery := r.db.Model(&domain.MessageReceipt{}).
		Select("message_id").
		Where("user_id = ?", userID)

	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND (sender_id IS NULL OR sender_id != ?) AND id NOT IN (?)",
			conversationID, userID, subQuery).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresMessageRepository) CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	subQuery := r.db.Model(&domain.MessageReceipt{}).
		Select("message_id").
		Where("user_id = ?", userID)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ? AND sender_id IS NOT NULL AND sender_id != ? AND id NOT IN (?)",
			conversationID, userID, subQuery).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresMessageRepository) CreateReceipts(ctx context.Context, receipts []domain.MessageReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	// Retried reads are no-ops.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipts).Error
}

func (r *PostgresMessageRepository) UpdateStatus(ctx context.Context, conversationID uuid.UUID, messageIDs []uuid.UUID, status domain.MessageStatus) ([]uuid.UUID, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	// Monotonic: sent -> delivered -> read, never backwards. Scoped to
	// the conversation so callers cannot advance foreign messages.
	allowed := []domain.MessageStatus{domain.StatusSent}
	if status == domain.StatusRead {
		allowed = append(allowed, domain.StatusDelivered)
	}
	var updated []domain.Message
	err := r.db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("id IN ? AND conversation_id = ? AND status IN ?", messageIDs, conversationID, allowed).
		Update("status", status).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(updated))
	for _, m := range updated {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (r *PostgresMessageRepository) Recall(ctx context.Context, messageID uuid.UUID, scope domain.RecallScope, clearContent bool, at time.Time) error {
	fields := map[string]interface{}{
		"is_recalled": true,
		"recall_type": scope,
		"recalled_at": at,
	}
	if clearContent {
		fields["content"] = ""
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", messageID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ripple_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) ReplaceReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.MessageReaction{}, "message_id = ? AND user_id = ?", messageID, userID).Error; err != nil {
			return err
		}
		reaction := domain.MessageReaction{
			ID:        uuid.New(),
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
			CreatedAt: time.Now(),
		}
		return tx.Create(&reaction).Error
	})
}

func (r *PostgresMessageRepository) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Delete(&domain.MessageReaction{}, "message_id = ? AND user_id = ?", messageID, userID).Error
}

func (r *PostgresMessageRepository) GetReactions(ctx context.Context, messageID uuid.UUID) ([]domain.MessageReaction, error) {
	var reactions []domain.MessageReaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

func (r *PostgresMessageRepository) ListAttachments(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Attachment, error) {
	var attachments []domain.Attachment
	if limit <= 0 {
		limit = 100
	}
	err := r.db.WithContext(ctx).
		Joins("JOIN messages ON messages.id = message_attachments.message_id").
		Where("messages.conversation_id = ? AND messages.is_recalled = false", conversationID).
		Order("message_attachments.created_at DESC").
		Limit(limit).
		Find(&attachments).Error
	if err != nil {
		return nil, err
	}
	return attachments, nil
}
