package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ripple-chat/internal/domain"
	"ripple-chat/internal/repository"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/events"
)

type ConversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	friendships   repository.FriendshipRepository
	users         repository.UserRepository
	sink          events.Sink
	logger        *zap.Logger
}

func NewConversationService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	friendships repository.FriendshipRepository,
	users repository.UserRepository,
	sink events.Sink,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		friendships:   friendships,
		users:         users,
		sink:          sink,
		logger:        zap.L().With(zap.String("component", "conversation_service")),
	}
}

type CreatePrivateInput struct {
	OtherUserID       uuid.UUID `json:"otherUserId"`
	ShowOnlyToCreator bool      `json:"showOnlyToCreator"`
}

type CreateGroupInput struct {
	Name        string      `json:"name"`
	AvatarGroup string      `json:"avatarGroup"`
	MemberIDs   []uuid.UUID `json:"memberIds"`
}

type UpdateConversationInput struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Name           *string   `json:"name"`
	AvatarGroup    *string   `json:"avatarGroup"`
	IsHidden       *bool     `json:"isHidden"`
}

type GroupEventPayload struct {
	Conversation ConversationView `json:"conversation"`
	LastMessage  *domain.Message  `json:"lastMessage,omitempty"`
}

// CreatePrivate creates (or returns) the 1:1 conversation between the
// creator and another user. With no message and no accepted friendship the
// conversation starts invisible to the recipient; showOnlyToCreator never
// reveals it to the other side.
func (s *ConversationService) CreatePrivate(ctx context.Context, creatorID uuid.UUID, in CreatePrivateInput) (domain.Conversation, error) {
	if in.OtherUserID == uuid.Nil || in.OtherUserID == creatorID {
		return domain.Conversation{}, ripple_errors.ErrInvalidPayload
	}
	if _, err := s.users.GetByID(ctx, in.OtherUserID); err != nil {
		return domain.Conversation{}, err
	}

	// Pair uniqueness: re-creating returns the existing conversation.
	existing, err := s.conversations.GetPrivateBetween(ctx, creatorID, in.OtherUserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ripple_errors.ErrNotFound) {
		return domain.Conversation{}, err
	}

	friends, err := s.friendships.AreFriends(ctx, creatorID, in.OtherUserID)
	if err != nil {
		return domain.Conversation{}, err
	}

	now := time.Now()
	conv := domain.Conversation{
		ID:        uuid.New(),
		Type:      domain.ConversationPrivate,
		CreatorID: creatorID,
		IsVisible: friends && !in.ShowOnlyToCreator,
		CreatedAt: now,
		UpdatedAt: now,
		Participants: []domain.Participant{
			{UserID: creatorID, JoinedAt: now},
			{UserID: in.OtherUserID, JoinedAt: now.Add(time.Millisecond)},
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
		created = conv
	}

	s.sink.ToUser(ctx, creatorID, events.New(events.EventConversationCreated, ProjectForViewer(created, creatorID, friends)))
	if VisibleTo(created, in.OtherUserID, friends) {
		s.sink.ToUser(ctx, in.OtherUserID, events.New(events.EventConversationCreated, ProjectForViewer(created, in.OtherUserID, friends)))
	}

	return created, nil
}

func (s *ConversationService) CreateGroup(ctx context.Context, creatorID uuid.UUID, in CreateGroupInput) (domain.Conversation, error) {
	members := dedupeWith(creatorID, in.MemberIDs)
	if len(members) < 2 {
		return domain.Conversation{}, ripple_errors.ErrInvalidPayload
	}

	now := time.Now()
	conv := domain.Conversation{
		ID:                     uuid.New(),
		Type:                   domain.ConversationGroup,
		Name:                   in.Name,
		AvatarGroup:            in.AvatarGroup,
		CreatorID:              creatorID,
		IsVisible:              true,
		ParticipantUnreadCount: make(map[string]int),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	for i, userID := range members {
		conv.Participants = append(conv.Participants, domain.Participant{
			ConversationID: conv.ID,
			UserID:         userID,
			JoinedAt:       now.Add(time.Duration(i) * time.Millisecond),
		})
		conv.ParticipantUnreadCount[userID.String()] = 0
	}

	if err := s.conversations.Create(ctx, &conv); err != nil {
		return domain.Conversation{}, err
	}

	created, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		created = conv
	}

	for _, userID := range members {
		s.sink.ToUser(ctx, userID, events.New(events.EventConversationCreated, ProjectForViewer(created, userID, false)))
	}

	return created, nil
}

func (s *ConversationService) Update(ctx context.Context, actorID uuid.UUID, in UpdateConversationInput) (domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, in.ConversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conv.HasParticipant(actorID) {
		return domain.Conversation{}, ripple_errors.ErrNotAParticipant
	}

	fields := map[string]interface{}{"updated_at": time.Now()}
	if in.Name != nil && conv.Type == domain.ConversationGroup {
		fields["name"] = *in.Name
	}
	if in.AvatarGroup != nil && conv.Type == domain.ConversationGroup {
		fields["avatar_group"] = *in.AvatarGroup
	}
	if in.IsHidden != nil && conv.CreatorID == actorID {
		fields["is_hidden"] = *in.IsHidden
	}

	if err := s.conversations.UpdateFields(ctx, conv.ID, fields); err != nil {
		return domain.Conversation{}, err
	}

	updated, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		return domain.Conversation{}, err
	}

	for _, p := range updated.Participants {
		s.sink.ToUser(ctx, p.UserID, events.New(events.EventConversationUpdated, ProjectForViewer(updated, p.UserID, false)))
	}

	return updated, nil
}

// ListForViewer applies the visibility rules and returns the viewer's
// conversation list, most recent first.
func (s *ConversationService) ListForViewer(ctx context.Context, viewerID uuid.UUID) ([]ConversationView, error) {
	conversations, err := s.conversations.GetUserConversations(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationView, 0, len(conversations))
	for _, conv := range conversations {
		friends := false
		if conv.Type == domain.ConversationPrivate {
			if other := conv.OtherParticipant(viewerID); other != nil {
				friends, err = s.friendships.AreFriends(ctx, viewerID, other.UserID)
				if err != nil {
					return nil, err
				}
			}
		}
		view := ProjectForViewer(conv, viewerID, friends)
		if !view.IsVisible {
			continue
		}
		views = append(views, view)
	}

	SortViews(views)
	return views, nil
}

// Join verifies channel access for join:conversation. Membership itself
// lives in the rooms registry; this is the participant gate.
func (s *ConversationService) Join(ctx context.Context, userID, conversationID uuid.UUID) (domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return domain.Conversation{}, ripple_errors.ErrNotAParticipant
	}
	return conv, nil
}

// AddMembers adds users to a group and posts one system message whose
// text differs per viewer.
func (s *ConversationService) AddMembers(ctx context.Context, actorID, conversationID uuid.UUID, memberIDs []uuid.UUID) (domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.Type != domain.ConversationGroup {
		return domain.Conversation{}, ripple_errors.ErrConflict
	}
	if !conv.HasParticipant(actorID) {
		return domain.Conversation{}, ripple_errors.ErrNotAParticipant
	}

	var added []uuid.UUID
	for _, userID := range memberIDs {
		if conv.HasParticipant(userID) || containsID(added, userID) {
			continue
		}
		added = append(added, userID)
	}
	if len(added) == 0 {
		return domain.Conversation{}, ripple_errors.ErrInvalidPayload
	}

	addedUsers, err := s.users.GetByIDs(ctx, added)
	if err != nil {
		return domain.Conversation{}, err
	}
	if len(addedUsers) != len(added) {
		return domain.Conversation{}, ripple_errors.ErrNotFound
	}

	now := time.Now()
	for i, userID := range added {
		p := domain.Participant{
			ConversationID: conv.ID,
			UserID:         userID,
			JoinedAt:       now.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.conversations.AddParticipant(ctx, &p); err != nil && !errors.Is(err, ripple_errors.ErrAlreadyExists) {
			return domain.Conversation{}, err
		}
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return domain.Conversation{}, err
	}
	names := userNames(addedUsers)

	personalized := []domain.PersonalizedEntry{
		{UserID: actorID.String(), Content: fmt.Sprintf("You added %s", names)},
	}
	for _, u := range addedUsers {
		personalized = append(personalized, domain.PersonalizedEntry{
			UserID:  u.ID.String(),
			Content: fmt.Sprintf("You were added by %s", actor.Name),
		})
	}

	sysMsg, err := s.postSystemMessage(ctx, conv.ID, fmt.Sprintf("%s added %s", actor.Name, names), personalized)
	if err != nil {
		return domain.Conversation{}, err
	}

	updated, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		return domain.Conversation{}, err
	}

	for _, p := range updated.Participants {
		payload := s.groupPayload(updated, sysMsg, p.UserID)
		if containsID(added, p.UserID) {
			s.sink.ToUser(ctx, p.UserID, events.New(events.EventGroupAdded, payload))
		} else {
			s.sink.ToUser(ctx, p.UserID, events.New(events.EventGroupUpdated, payload))
		}
	}

	return updated, nil
}

// RemoveMember removes a user from a group. Only the creator may remove;
// the removed user gets group:removed instead of further group:updated.
func (s *ConversationService) RemoveMember(ctx context.Context, actorID, conversationID, targetID uuid.UUID) (domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.Type != domain.ConversationGroup {
		return domain.Conversation{}, ripple_errors.ErrConflict
	}
	if conv.CreatorID != actorID {
		return domain.Conversation{}, ripple_errors.ErrForbidden
	}
	if !conv.HasParticipant(targetID) || targetID == actorID {
		return domain.Conversation{}, ripple_errors.ErrInvalidPayload
	}

	if err := s.conversations.RemoveParticipant(ctx, conversationID, targetID); err != nil {
		return domain.Conversation{}, err
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return domain.Conversation{}, err
	}
	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return domain.Conversation{}, err
	}

	personalized := []domain.PersonalizedEntry{
		{UserID: actorID.String(), Content: fmt.Sprintf("You removed %s", target.Name)},
		{UserID: targetID.String(), Content: fmt.Sprintf("You were removed by %s", actor.Name)},
	}

	sysMsg, err := s.postSystemMessage(ctx, conv.ID, fmt.Sprintf("%s removed %s", actor.Name, target.Name), personalized)
	if err != nil {
		return domain.Conversation{}, err
	}

	updated, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		return domain.Conversation{}, err
	}

	s.sink.ToUser(ctx, targetID, events.New(events.EventGroupRemoved, s.groupPayload(updated, sysMsg, targetID)))
	for _, p := range updated.Participants {
		s.sink.ToUser(ctx, p.UserID, events.New(events.EventGroupUpdated, s.groupPayload(updated, sysMsg, p.UserID)))
	}

	return updated, nil
}

// Leave removes the caller from a group. A departing creator hands the
// group to participants[0] before the system message is written, so the
// message never names a stale creator.
func (s *ConversationService) Leave(ctx context.Context, userID, conversationID uuid.UUID) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Type != domain.ConversationGroup {
		return ripple_errors.ErrConflict
	}
	if !conv.HasParticipant(userID) {
		return ripple_errors.ErrNotAParticipant
	}

	if err := s.conversations.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return err
	}

	remaining := make([]domain.Participant, 0, len(conv.Participants)-1)
	for _, p := range conv.Participants {
		if p.UserID != userID {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		if err := s.conversations.Delete(ctx, conversationID); err != nil {
			return err
		}
		s.sink.ToUser(ctx, userID, events.New(events.EventGroupLeft, GroupEventPayload{
			Conversation: ConversationView{Conversation: conv},
		}))
		return nil
	}

	if conv.CreatorID == userID {
		if err := s.conversations.UpdateFields(ctx, conversationID, map[string]interface{}{
			"creator_id": remaining[0].UserID,
		}); err != nil {
			return err
		}
	}

	leaver, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	personalized := []domain.PersonalizedEntry{
		{UserID: userID.String(), Content: "You left the group"},
	}
	sysMsg, err := s.postSystemMessage(ctx, conversationID, fmt.Sprintf("%s left the group", leaver.Name), personalized)
	if err != nil {
		return err
	}

	updated, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	s.sink.ToUser(ctx, userID, events.New(events.EventGroupLeft, s.groupPayload(updated, sysMsg, userID)))
	for _, p := range updated.Participants {
		s.sink.ToUser(ctx, p.UserID, events.New(events.EventGroupUpdated, s.groupPayload(updated, sysMsg, p.UserID)))
	}

	return nil
}

func (s *ConversationService) postSystemMessage(ctx context.Context, conversationID uuid.UUID, content string, personalized []domain.PersonalizedEntry) (domain.Message, error) {
	now := time.Now()
	msg := domain.Message{
		ID:                  uuid.New(),
		ConversationID:      conversationID,
		Content:             content,
		Type:                domain.MessageSystem,
		Status:              domain.StatusSent,
		PersonalizedContent: personalized,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.messages.Create(ctx, &msg); err != nil {
		return domain.Message{}, err
	}
	if err := s.conversations.SetLastMessage(ctx, conversationID, &msg.ID, now); err != nil {
		s.logger.Error("set last message failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
	}
	return msg, nil
}

func (s *ConversationService) groupPayload(conv domain.Conversation, msg domain.Message, viewerID uuid.UUID) GroupEventPayload {
	rendered := msg
	rendered.Content = msg.RenderFor(viewerID)
	return GroupEventPayload{
		Conversation: ProjectForViewer(conv, viewerID, false),
		LastMessage:  &rendered,
	}
}

func dedupeWith(first uuid.UUID, rest []uuid.UUID) []uuid.UUID {
	out := []uuid.UUID{first}
	for _, id := range rest {
		if id == uuid.Nil || containsID(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func userNames(users []domain.User) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	return strings.Join(names, ", ")
}
