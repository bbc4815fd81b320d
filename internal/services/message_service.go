package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ripple-chat/internal/domain"
	"ripple-chat/internal/repository"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/events"
)

// idempotencyWindow bounds how far back a tempId is honored when a client
// retries a send.
const idempotencyWindow = time.Hour

type MessageService struct {
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	sink          events.Sink
	occupancy     ChannelOccupancy
	locks         *keyedMutex
	logger        *zap.Logger
}

func NewMessageService(
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
	sink events.Sink,
	occupancy ChannelOccupancy,
) *MessageService {
	return &MessageService{
		messages:      messages,
		conversations: conversations,
		sink:          sink,
		occupancy:     occupancy,
		locks:         newKeyedMutex(),
		logger:        zap.L().With(zap.String("component", "message_service")),
	}
}

type AttachmentInput struct {
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

type SendMessageInput struct {
	ConversationID uuid.UUID         `json:"conversationId"`
	Content        string            `json:"content"`
	Attachments    []AttachmentInput `json:"attachments"`
	TempID         string            `json:"tempId"`
	ReplyTo        *uuid.UUID        `json:"replyTo"`
}

type NewMessagePayload struct {
	ConversationID uuid.UUID      `json:"conversationId"`
	Message        domain.Message `json:"message"`
}

type MessageNotificationPayload struct {
	ConversationID uuid.UUID      `json:"conversationId"`
	Message        domain.Message `json:"message"`
	UnreadCount    int            `json:"unreadCount"`
	IsUnread       bool           `json:"isUnread"`
}

type MessagesReadPayload struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	MessageIDs     []uuid.UUID `json:"messageIds"`
	ReaderID       uuid.UUID   `json:"readBy"`
	ReadAt         time.Time   `json:"readAt"`
}

type StatusUpdatedPayload struct {
	ConversationID uuid.UUID            `json:"conversationId"`
	MessageIDs     []uuid.UUID          `json:"messageIds"`
	Status         domain.MessageStatus `json:"status"`
}

type RecallPayload struct {
	ConversationID uuid.UUID          `json:"conversationId"`
	MessageID      uuid.UUID          `json:"messageId"`
	RecallType     domain.RecallScope `json:"recallType"`
	Content        string             `json:"content"`
	SenderID       uuid.UUID          `json:"sender"`
}

type ReactionPayload struct {
	ConversationID uuid.UUID                `json:"conversationId"`
	MessageID      uuid.UUID                `json:"messageId"`
	Reactions      []domain.MessageReaction `json:"reactions"`
}

// Send runs the full send protocol: idempotency check, validation,
// receipt seeding from current channel occupancy, persistence, unread
// recount and fan-out. Retried sends with the same tempId return the
// original message.
func (s *MessageService) Send(ctx context.Context, senderID uuid.UUID, in SendMessageInput) (domain.Message, error) {
	s.locks.Lock(in.ConversationID)
	defer s.locks.Unlock(in.ConversationID)

	if in.TempID != "" {
		existing, err := s.messages.GetByTempID(ctx, in.TempID, time.Now().Add(-idempotencyWindow))
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ripple_errors.ErrNotFound) {
			return domain.Message{}, err
		}
	}

	if in.Content == "" && len(in.Attachments) == 0 {
		return domain.Message{}, ripple_errors.ErrInvalidPayload
	}

	conv, err := s.conversations.GetByID(ctx, in.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if !conv.HasParticipant(senderID) {
		return domain.Message{}, ripple_errors.ErrNotAParticipant
	}

	if in.ReplyTo != nil {
		parent, err := s.messages.GetByID(ctx, *in.ReplyTo)
		if err != nil {
			return domain.Message{}, err
		}
		if parent.ConversationID != conv.ID {
			return domain.Message{}, ripple_errors.ErrInvalidPayload
		}
	}

	now := time.Now()
	msgType := domain.MessageText
	if len(in.Attachments) > 0 {
		msgType = domain.MessageMultimedia
	}

	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       &senderID,
		Content:        in.Content,
		Type:           msgType,
		Status:         domain.StatusSent,
		ReplyToID:      in.ReplyTo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.TempID != "" {
		tempID := in.TempID
		msg.TempID = &tempID
	}
	for _, a := range in.Attachments {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			ID:        uuid.New(),
			MessageID: msg.ID,
			FileName:  a.FileName,
			FileURL:   a.FileURL,
			FileType:  a.FileType,
			MimeType:  a.MimeType,
			FileSize:  a.FileSize,
			CreatedAt: now,
		})
	}

	if err := s.messages.Create(ctx, &msg); err != nil {
		if errors.Is(err, ripple_errors.ErrAlreadyExists) && in.TempID != "" {
			// Lost the race against our own retry.
			return s.messages.GetByTempID(ctx, in.TempID, time.Now().Add(-idempotencyWindow))
		}
		return domain.Message{}, err
	}

	// Participants watching the channel at send time have read it already.
	active := s.activeSet(conv.ID)
	var receipts []domain.MessageReceipt
	for _, p := range conv.Participants {
		if p.UserID == senderID {
			continue
		}
		if _, ok := active[p.UserID]; ok {
			receipts = append(receipts, domain.MessageReceipt{
				MessageID: msg.ID,
				UserID:    p.UserID,
				ReadAt:    now,
			})
		}
	}
	if err := s.messages.CreateReceipts(ctx, receipts); err != nil {
		s.logger.Error("seed receipts failed", zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
	msg.ReadBy = receipts

	if err := s.conversations.SetLastMessage(ctx, conv.ID, &msg.ID, now); err != nil {
		s.logger.Error("set last message failed", zap.String("conversation_id", conv.ID.String()), zap.Error(err))
	}

	unreadByUser := s.recountUnread(ctx, conv, senderID, active)

	s.sink.ToConversation(ctx, conv.ID, events.New(events.EventMessageNew, NewMessagePayload{
		ConversationID: conv.ID,
		Message:        msg,
	}))
	for _, p := range conv.Participants {
		if p.UserID == senderID {
			continue
		}
		_, wasActive := active[p.UserID]
		s.sink.ToUser(ctx, p.UserID, events.New(events.EventMessageNotification, MessageNotificationPayload{
			ConversationID: conv.ID,
			Message:        msg,
			UnreadCount:    unreadByUser[p.UserID],
			IsUnread:       !wasActive,
		}))
	}

	return msg, nil
}

// recountUnread updates the persisted counters after a send. Private
// conversations recount from the receipts ledger instead of incrementing,
// so retries and races drift toward the true value.
func (s *MessageService) recountUnread(ctx context.Context, conv domain.Conversation, senderID uuid.UUID, active map[uuid.UUID]struct{}) map[uuid.UUID]int {
	unread := make(map[uuid.UUID]int, len(conv.Participants))

	if conv.Type == domain.ConversationPrivate {
		for _, p := range conv.Participants {
			if p.UserID == senderID {
				continue
			}
			count, err := s.messages.CountUnread(ctx, conv.ID, p.UserID)
			if err != nil {
				s.logger.Error("count unread failed", zap.String("conversation_id", conv.ID.String()), zap.Error(err))
				continue
			}
			unread[p.UserID] = int(count)
			if err := s.conversations.SetUnreadCount(ctx, conv.ID, int(count)); err != nil {
				s.logger.Error("set unread count failed", zap.String("conversation_id", conv.ID.String()), zap.Error(err))
			}
		}
		return unread
	}

	counts := conv.ParticipantUnreadCount
	if counts == nil {
		counts = make(map[string]int)
	}
	for _, p := range conv.Participants {
		key := p.UserID.String()
		if p.UserID == senderID {
			counts[key] = 0
		} else if _, ok := active[p.UserID]; ok {
			counts[key] = 0
		} else {
			counts[key]++
		}
		unread[p.UserID] = counts[key]
	}
	if err := s.conversations.SetParticipantUnreadCount(ctx, conv.ID, counts); err != nil {
		s.logger.Error("set participant unread failed", zap.String("conversation_id", conv.ID.String()), zap.Error(err))
	}
	return unread
}

func (s *MessageService) activeSet(conversationID uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{})
	if s.occupancy == nil {
		return set
	}
	for _, userID := range s.occupancy.ActiveUsers(conversationID) {
		set[userID] = struct{}{}
	}
	return set
}

// List returns a page of messages with content rendered for the viewer.
func (s *MessageService) List(ctx context.Context, viewerID, conversationID uuid.UUID, before time.Time, limit int) ([]domain.Message, error) {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ripple_errors.ErrNotAParticipant
	}

	messages, err := s.messages.ListByConversation(ctx, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Content = messages[i].RenderFor(viewerID)
	}
	return messages, nil
}

// MarkConversationRead records receipts for everything the reader has not
// read yet, zeroes their unread counter and broadcasts the affected ids.
// Joining a conversation and an explicit message:read both land here.
func (s *MessageService) MarkConversationRead(ctx context.Context, readerID, conversationID uuid.UUID) ([]uuid.UUID, error) {
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(readerID) {
		return nil, ripple_errors.ErrNotAParticipant
	}

	unread, err := s.messages.GetUnreadMessages(ctx, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	if len(unread) == 0 {
		return nil, nil
	}

	now := time.Now()
	receipts := make([]domain.MessageReceipt, 0, len(unread))
	ids := make([]uuid.UUID, 0, len(unread))
	for _, m := range unread {
		receipts = append(receipts, domain.MessageReceipt{
			MessageID: m.ID,
			UserID:    readerID,
			ReadAt:    now,
		})
		ids = append(ids, m.ID)
	}
	if err := s.messages.CreateReceipts(ctx, receipts); err != nil {
		return nil, err
	}

	if conv.Type == domain.ConversationPrivate {
		// The reader's receipt is the defining one in a 1:1.
		if _, err := s.messages.UpdateStatus(ctx, conversationID, ids, domain.StatusRead); err != nil {
			s.logger.Error("update status failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
		}
		count, err := s.messages.CountUnread(ctx, conversationID, readerID)
		if err == nil {
			if err := s.conversations.SetUnreadCount(ctx, conversationID, int(count)); err != nil {
				s.logger.Error("set unread count failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
			}
		}
	} else {
		counts := conv.ParticipantUnreadCount
		if counts == nil {
			counts = make(map[string]int)
		}
		counts[readerID.String()] = 0
		if err := s.conversations.SetParticipantUnreadCount(ctx, conversationID, counts); err != nil {
			s.logger.Error("set participant unread failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
		}
	}

	s.sink.ToConversation(ctx, conversationID, events.New(events.EventMessagesRead, MessagesReadPayload{
		ConversationID: conversationID,
		MessageIDs:     ids,
		ReaderID:       readerID,
		ReadAt:         now,
	}))
	s.sink.ToConversation(ctx, conversationID, events.New(events.EventMessageStatusUpdated, StatusUpdatedPayload{
		ConversationID: conversationID,
		MessageIDs:     ids,
		Status:         domain.StatusRead,
	}))

	return ids, nil
}

// MarkDelivered advances messages to delivered for a recipient ack.
func (s *MessageService) MarkDelivered(ctx context.Context, userID, conversationID uuid.UUID, messageIDs []uuid.UUID) error {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ripple_errors.ErrNotAParticipant
	}
	if len(messageIDs) == 0 {
		return nil
	}

	// The scoped update drops ids outside the conversation, so the
	// broadcast only ever names messages that actually belong to it.
	updated, err := s.messages.UpdateStatus(ctx, conversationID, messageIDs, domain.StatusDelivered)
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return nil
	}

	s.sink.ToConversation(ctx, conversationID, events.New(events.EventMessageStatusUpdated, StatusUpdatedPayload{
		ConversationID: conversationID,
		MessageIDs:     updated,
		Status:         domain.StatusDelivered,
	}))
	return nil
}

// Recall suppresses a message. Scope everyone clears content server-side
// for all viewers; scope self is a client-side substitution for the
// recaller only, so it fans out to the recaller's own connections alone.
func (s *MessageService) Recall(ctx context.Context, userID, messageID uuid.UUID, scope domain.RecallScope) (domain.Message, error) {
	if scope != domain.RecallSelf && scope != domain.RecallEveryone {
		return domain.Message{}, ripple_errors.ErrInvalidPayload
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if msg.SenderID == nil || *msg.SenderID != userID {
		return domain.Message{}, ripple_errors.ErrConflict
	}
	if msg.IsRecalled {
		return domain.Message{}, ripple_errors.ErrConflict
	}

	now := time.Now()
	clearContent := scope == domain.RecallEveryone
	if err := s.messages.Recall(ctx, messageID, scope, clearContent, now); err != nil {
		return domain.Message{}, err
	}

	msg.IsRecalled = true
	msg.RecallType = scope
	msg.RecalledAt = &now
	if clearContent {
		msg.Content = ""
	}

	if err := s.conversations.SetLastMessage(ctx, msg.ConversationID, &msg.ID, now); err != nil {
		s.logger.Error("refresh last message failed", zap.String("conversation_id", msg.ConversationID.String()), zap.Error(err))
	}

	payload := RecallPayload{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		RecallType:     scope,
		Content:        msg.Content,
		SenderID:       userID,
	}
	if scope == domain.RecallEveryone {
		s.sink.ToConversation(ctx, msg.ConversationID, events.New(events.EventMessageRecalled, payload))
	} else {
		s.sink.ToUser(ctx, userID, events.New(events.EventMessageRecalled, payload))
	}

	return msg, nil
}

// React replaces the user's reaction on a message; an empty emoji removes
// it without replacing. The full reaction list is re-broadcast either way.
func (s *MessageService) React(ctx context.Context, userID, messageID uuid.UUID, emoji string) ([]domain.MessageReaction, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	ok, err := s.conversations.IsParticipant(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ripple_errors.ErrNotAParticipant
	}

	if emoji == "" {
		err = s.messages.RemoveReaction(ctx, messageID, userID)
	} else {
		err = s.messages.ReplaceReaction(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return nil, err
	}

	reactions, err := s.messages.GetReactions(ctx, messageID)
	if err != nil {
		return nil, err
	}

	s.sink.ToConversation(ctx, msg.ConversationID, events.New(events.EventMessageReactionUpdated, ReactionPayload{
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		Reactions:      reactions,
	}))

	return reactions, nil
}
