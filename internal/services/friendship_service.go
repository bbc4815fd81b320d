package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ripple-chat/internal/domain"
	"ripple-chat/internal/repository"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/events"
)

// FriendshipService drives the friend-request workflow. Every transition
// also updates the gating fields on the private conversation between the
// two users so the request renders inside the chat itself.
type FriendshipService struct {
	friendships   repository.FriendshipRepository
	conversations repository.ConversationRepository
	notifications repository.NotificationRepository
	users         repository.UserRepository
	sink          events.Sink
	logger        *zap.Logger
}

func NewFriendshipService(
	friendships repository.FriendshipRepository,
	conversations repository.ConversationRepository,
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	sink events.Sink,
) *FriendshipService {
	return &FriendshipService{
		friendships:   friendships,
		conversations: conversations,
		notifications: notifications,
		users:         users,
		sink:          sink,
		logger:        zap.L().With(zap.String("component", "friendship_service")),
	}
}

type FriendRequestPayload struct {
	Friendship   domain.Friendship `json:"friendRequest"`
	Conversation ConversationView  `json:"conversation"`
}

type FriendResponsePayload struct {
	Friendship   domain.Friendship `json:"friendRequest"`
	Conversation ConversationView  `json:"conversation"`
	Accepted     bool              `json:"accepted"`
	Message      string            `json:"message"`
}

type FriendRequestCancelledPayload struct {
	FriendshipID   uuid.UUID `json:"friendRequestId"`
	ConversationID uuid.UUID `json:"conversationId"`
	RequesterID    uuid.UUID `json:"requesterId"`
}

// SendRequest creates a pending friendship from requester to recipient,
// ensures their private conversation exists, and marks it request-pending
// so it surfaces for both sides.
func (s *FriendshipService) SendRequest(ctx context.Context, requesterID, recipientID uuid.UUID) (domain.Friendship, error) {
	if recipientID == uuid.Nil || recipientID == requesterID {
		return domain.Friendship{}, ripple_errors.ErrInvalidPayload
	}
	if _, err := s.users.GetByID(ctx, recipientID); err != nil {
		return domain.Friendship{}, err
	}

	friends, err := s.friendships.AreFriends(ctx, requesterID, recipientID)
	if err != nil {
		return domain.Friendship{}, err
	}
	if friends {
		return domain.Friendship{}, ripple_errors.ErrAlreadyExists
	}
	// A pending request in either direction blocks a new one.
	if _, err := s.friendships.GetPendingBetween(ctx, requesterID, recipientID); err == nil {
		return domain.Friendship{}, ripple_errors.ErrAlreadyExists
	} else if !errors.Is(err, ripple_errors.ErrNotFound) {
		return domain.Friendship{}, err
	}
	if _, err := s.friendships.GetPendingBetween(ctx, recipientID, requesterID); err == nil {
		return domain.Friendship{}, ripple_errors.ErrAlreadyExists
	} else if !errors.Is(err, ripple_errors.ErrNotFound) {
		return domain.Friendship{}, err
	}

	friendship := domain.Friendship{
		ID:          uuid.New(),
		RequesterID: requesterID,
		RecipientID: recipientID,
		Status:      domain.FriendshipPending,
	}
	if err := s.friendships.Create(ctx, &friendship); err != nil {
		return domain.Friendship{}, err
	}

	conv, err := s.ensurePrivateConversation(ctx, requesterID, recipientID)
	if err != nil {
		return domain.Friendship{}, err
	}

	if err := s.conversations.UpdateFields(ctx, conv.ID, map[string]interface{}{
		"is_friendship_pending":    true,
		"friend_request_status":    domain.FriendRequestPending,
		"friend_request_sender_id": requesterID,
		"friend_request_id":        friendship.ID,
		"updated_at":               time.Now(),
	}); err != nil {
		return domain.Friendship{}, err
	}

	requester, err := s.users.GetByID(ctx, requesterID)
	if err != nil {
		return domain.Friendship{}, err
	}

	notification := domain.Notification{
		ID:          uuid.New(),
		UserID:      recipientID,
		Type:        domain.NotificationFriendRequest,
		ReferenceID: &friendship.ID,
		Content:     fmt.Sprintf("%s sent you a friend request", requester.Name),
		Sender:      requester.Snapshot(),
	}
	if err := s.notifications.Create(ctx, &notification); err != nil {
		s.logger.Error("create friend request notification failed",
			zap.String("friendship_id", friendship.ID.String()), zap.Error(err))
	}

	updated, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		updated = conv
	}

	s.sink.ToUser(ctx, recipientID, events.New(events.EventNewFriendRequest, notification))
	s.sink.ToUser(ctx, requesterID, events.New(events.EventFriendRequestSent, FriendRequestPayload{
		Friendship:   friendship,
		Conversation: ProjectForViewer(updated, requesterID, false),
	}))
	for _, userID := range []uuid.UUID{requesterID, recipientID} {
		s.sink.ToUser(ctx, userID, events.New(events.EventConversationUpdated, ProjectForViewer(updated, userID, false)))
	}

	return friendship, nil
}

// Respond accepts or rejects a pending request. Only the recipient may
// respond; acceptance reveals the conversation to both sides.
func (s *FriendshipService) Respond(ctx context.Context, responderID, friendshipID uuid.UUID, accept bool) (domain.Friendship, error) {
	friendship, err := s.friendships.GetByID(ctx, friendshipID)
	if err != nil {
		return domain.Friendship{}, err
	}
	if friendship.RecipientID != responderID {
		return domain.Friendship{}, ripple_errors.ErrForbidden
	}
	if friendship.Status != domain.FriendshipPending {
		return domain.Friendship{}, ripple_errors.ErrConflict
	}

	status := domain.FriendshipRejected
	if accept {
		status = domain.FriendshipAccepted
	}
	if err := s.friendships.UpdateStatus(ctx, friendshipID, status); err != nil {
		return domain.Friendship{}, err
	}
	friendship.Status = status

	conv, err := s.ensurePrivateConversation(ctx, friendship.RequesterID, friendship.RecipientID)
	if err != nil {
		return domain.Friendship{}, err
	}

	fields := map[string]interface{}{
		"is_friendship_pending":    false,
		"friend_request_status":    domain.FriendRequestNone,
		"friend_request_sender_id": nil,
		"friend_request_id":        nil,
		"updated_at":               time.Now(),
	}
	if accept {
		fields["is_visible"] = true
	}
	if err := s.conversations.UpdateFields(ctx, conv.ID, fields); err != nil {
		return domain.Friendship{}, err
	}

	responder, err := s.users.GetByID(ctx, responderID)
	if err != nil {
		return domain.Friendship{}, err
	}

	verb := "declined"
	if accept {
		verb = "accepted"
	}
	notification := domain.Notification{
		ID:          uuid.New(),
		UserID:      friendship.RequesterID,
		Type:        domain.NotificationFriendResponse,
		ReferenceID: &friendship.ID,
		Content:     fmt.Sprintf("%s %s your friend request", responder.Name, verb),
		Sender:      responder.Snapshot(),
	}
	if err := s.notifications.Create(ctx, &notification); err != nil {
		s.logger.Error("create friend response notification failed",
			zap.String("friendship_id", friendship.ID.String()), zap.Error(err))
	}

	updated, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		updated = conv
	}

	s.sink.ToUser(ctx, friendship.RequesterID, events.New(events.EventFriendRequestResponded, FriendResponsePayload{
		Friendship:   friendship,
		Conversation: ProjectForViewer(updated, friendship.RequesterID, accept),
		Accepted:     accept,
		Message:      notification.Content,
	}))
	s.sink.ToUser(ctx, responderID, events.New(events.EventFriendRequestResponded, FriendResponsePayload{
		Friendship:   friendship,
		Conversation: ProjectForViewer(updated, responderID, accept),
		Accepted:     accept,
		Message:      fmt.Sprintf("You %s the friend request", verb),
	}))
	for _, userID := range []uuid.UUID{friendship.RequesterID, friendship.RecipientID} {
		s.sink.ToUser(ctx, userID, events.New(events.EventConversationUpdated, ProjectForViewer(updated, userID, accept)))
	}

	return friendship, nil
}

// Cancel withdraws a pending request. The friendship row is deleted and
// the conversation keeps a recalled marker so the UI can show "request
// withdrawn" instead of silently reverting.
func (s *FriendshipService) Cancel(ctx context.Context, requesterID, friendshipID uuid.UUID) error {
	friendship, err := s.friendships.GetByID(ctx, friendshipID)
	if err != nil {
		return err
	}
	if friendship.RequesterID != requesterID {
		return ripple_errors.ErrForbidden
	}
	if friendship.Status != domain.FriendshipPending {
		return ripple_errors.ErrConflict
	}

	if err := s.friendships.Delete(ctx, friendshipID); err != nil {
		return err
	}

	conv, err := s.conversations.GetPrivateBetween(ctx, friendship.RequesterID, friendship.RecipientID)
	if err != nil {
		if errors.Is(err, ripple_errors.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.conversations.UpdateFields(ctx, conv.ID, map[string]interface{}{
		"is_friendship_pending":    false,
		"friend_request_status":    domain.FriendRequestRecalled,
		"friend_request_sender_id": nil,
		"friend_request_id":        nil,
		"updated_at":               time.Now(),
	}); err != nil {
		return err
	}

	payload := FriendRequestCancelledPayload{
		FriendshipID:   friendshipID,
		ConversationID: conv.ID,
		RequesterID:    requesterID,
	}
	s.sink.ToUser(ctx, friendship.RequesterID, events.New(events.EventFriendRequestCancelled, payload))
	s.sink.ToUser(ctx, friendship.RecipientID, events.New(events.EventFriendRequestCancelled, payload))

	return nil
}

func (s *FriendshipService) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.notifications.ListByUser(ctx, userID, limit)
}

func (s *FriendshipService) MarkNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	updated, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.sink.ToUser(ctx, userID, events.New(events.EventNotificationsMarkRead, map[string]interface{}{
		"updated": updated,
	}))
	return updated, nil
}

func (s *FriendshipService) ensurePrivateConversation(ctx context.Context, userA, userB uuid.UUID) (domain.Conversation, error) {
	conv, err := s.conversations.GetPrivateBetween(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ripple_errors.ErrNotFound) {
		return domain.Conversation{}, err
	}

	now := time.Now()
	conv = domain.Conversation{
		ID:        uuid.New(),
		Type:      domain.ConversationPrivate,
		CreatorID: userA,
		CreatedAt: now,
		UpdatedAt: now,
		Participants: []domain.Participant{
			{ConversationID: uuid.Nil, UserID: userA, JoinedAt: now},
			{ConversationID: uuid.Nil, UserID: userB, JoinedAt: now.Add(time.Millisecond)},
		},
	}
	for i := range conv.Participants {
		conv.Participants[i].ConversationID = conv.ID
	}
	if err := s.conversations.Create(ctx, &conv); err != nil {
		return domain.Conversation{}, err
	}
	created, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		return conv, nil
	}
	return created, nil
}
