package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ripple-chat/internal/domain"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/events"
)

func privateConversation(userA, userB uuid.UUID) domain.Conversation {
	now := time.Now()
	id := uuid.New()
	return domain.Conversation{
		ID:        id,
		Type:      domain.ConversationPrivate,
		CreatorID: userA,
		CreatedAt: now,
		UpdatedAt: now,
		Participants: []domain.Participant{
			{ConversationID: id, UserID: userA, JoinedAt: now},
			{ConversationID: id, UserID: userB, JoinedAt: now.Add(time.Millisecond)},
		},
	}
}

func groupConversation(creator uuid.UUID, others ...uuid.UUID) domain.Conversation {
	now := time.Now()
	id := uuid.New()
	conv := domain.Conversation{
		ID:                     id,
		Type:                   domain.ConversationGroup,
		Name:                   "team",
		CreatorID:              creator,
		IsVisible:              true,
		ParticipantUnreadCount: map[string]int{creator.String(): 0},
		CreatedAt:              now,
		UpdatedAt:              now,
		Participants: []domain.Participant{
			{ConversationID: id, UserID: creator, JoinedAt: now},
		},
	}
	for i, userID := range others {
		conv.Participants = append(conv.Participants, domain.Participant{
			ConversationID: id,
			UserID:         userID,
			JoinedAt:       now.Add(time.Duration(i+1) * time.Millisecond),
		})
		conv.ParticipantUnreadCount[userID.String()] = 0
	}
	return conv
}

func newMessageServiceForTest() (*MessageService, *MockMessageRepository, *MockConversationRepository, *fakeSink, *fakeOccupancy) {
	messages := new(MockMessageRepository)
	conversations := new(MockConversationRepository)
	sink := newFakeSink()
	occupancy := newFakeOccupancy()
	svc := NewMessageService(messages, conversations, sink, occupancy)
	return svc, messages, conversations, sink, occupancy
}

func TestSendReturnsExistingMessageForDuplicateTempID(t *testing.T) {
	svc, messages, _, sink, _ := newMessageServiceForTest()

	existing := domain.Message{ID: uuid.New(), Content: "hello"}
	messages.On("GetByTempID", mock.Anything, "tmp-1", mock.Anything).Return(existing, nil)

	got, err := svc.Send(context.Background(), uuid.New(), SendMessageInput{
		ConversationID: uuid.New(),
		Content:        "hello again",
		TempID:         "tmp-1",
	})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Empty(t, sink.byType(events.EventMessageNew), "duplicate send must not re-broadcast")
	messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSendRejectsEmptyPayload(t *testing.T) {
	svc, _, _, _, _ := newMessageServiceForTest()

	_, err := svc.Send(context.Background(), uuid.New(), SendMessageInput{
		ConversationID: uuid.New(),
	})

	assert.ErrorIs(t, err, ripple_errors.ErrInvalidPayload)
}

func TestSendRejectsNonParticipant(t *testing.T) {
	svc, _, conversations, _, _ := newMessageServiceForTest()

	conv := privateConversation(uuid.New(), uuid.New())
	conversations.On("GetByID", mock.Anything, conv.ID).Return(conv, nil)

	_, err := svc.Send(context.Background(), uuid.New(), SendMessageInput{
		ConversationID: conv.ID,
		Content:        "hi",
	})

	assert.ErrorIs(t, err, ripple_errors.ErrNotAParticipant)
}

func TestSendRejectsReplyFromOtherConversation(t *testing.T) {
	svc, messages, conversations, _, _ := newMessageServiceForTest()

	sender := uuid.New()
	conv := privateConversation(sender, uuid.New())
	parentID := uuid.New()

	conversations.On("GetByID", mock.Anything, conv.ID).Return(conv, nil)
	messages.On("GetByID", mock.Anything, parentID).Return(domain.Message{
		ID:             parentID,
		ConversationID: uuid.New(),
	}, nil)

	_, err := svc.Send(context.Background(), sender, SendMessageInput{
		ConversationID: conv.ID,
		Content:        "reply",
		ReplyTo:        &parentID,
	})

	assert.ErrorIs(t, err, ripple_errors.ErrInvalidPayload)
}

func TestSendSeedsReceiptsForActiveRecipients(t *testing.T) {
	svc, messages, conversations, sink, occupancy := newMessageServiceForTest()

	sender := uuid.New()
	active := uuid.New()
	idle := uuid.New()
	conv := groupConversation(sender, active, idle)
	occupancy.set(conv.ID, sender, active)

	conversations.On("GetByID", mock.Anything, conv.ID).Return(conv, nil)
	messages.On("Create", mock.Anything, mock.Anything).Return(nil)
	messages.On("CreateReceipts", mock.Anything, mock.Anything).Return(nil)
	conversations.On("SetLastMessage", mock.Anything, conv.ID, mock.Anything, mock.Anything).Return(nil)
	conversations.On("SetParticipantUnreadCount", mock.Anything, conv.ID, mock.Anything).Return(nil)

	msg, err := svc.Send(context.Background(), sender, SendMessageInput{
		ConversationID: conv.ID,
		Content:        "hello group",
	})
	require.NoError(t, err)

	// The active recipient is pre-seeded as having read; the sender never
	// receipts their own message.
	require.Len(t, msg.ReadBy, 1)
	assert.Equal(t, active, msg.ReadBy[0].UserID)

	newEvents := sink.byType(events.EventMessageNew)
	require.Len(t, newEvents, 1)
	assert.Equal(t, conv.ID, *newEvents[0].ConversationID)

	// Per-recipient notifications exclude the sender.
	notifications := sink.byType(events.EventMessageNotification)
	require.Len(t, notifications, 2)

	activeNote := sink.toUserByType(active, events.EventMessageNotification)
	require.Len(t, activeNote, 1)
	payload := activeNote[0].Event.Payload.(MessageNotificationPayload)
	assert.False(t, payload.IsUnread)
	assert.Equal(t, 0, payload.UnreadCount)

	idleNote := sink.toUserByType(idle, events.EventMessageNotification)
	require.Len(t, idleNote, 1)
	payload = idleNote[0].Event.Payload.(MessageNotificationPayload)
	assert.True(t, payload.IsUnread)
	assert.Equal(t, 1, payload.UnreadCount)
}

func TestSendGroupCountsAccumulateForIdleMembers(t *testing.T) {
	svc, messages, conversations, _, occupancy := newMessageServiceForTest()

	sender := uuid.New()
	idle := uuid.New()
	conv := groupConversation(sender, idle)
	conv.ParticipantUnreadCount[idle.String()] = 4
	occupancy.set(conv.ID, sender)

	conversations.On("GetByID", mock.Anything, conv.ID).Return(conv, nil)
	messages.On("Create", mock.Anything, mock.Anything).Return(nil)
	messages.On("CreateReceipts", mock.Anything, mock.Anything).Return(nil)
	conversations.On("SetLastMessage", mock.Anything, conv.ID, mock.Anything, mock.Anything).Return(nil)

	var persisted map[string]int
	conversations.On("SetParticipantUnreadCount", mock.Anything, conv.ID, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(map[string]int)
		}).Return(nil)

	_, err := svc.Send(context.Background(), sender, SendMessageInput{
		ConversationID: conv.ID,
		Content:        "fifth unread",
	})
	require.NoError(t, err)

	require.NotNil(t, persisted)
	assert.Equal(t, 0, persisted[sender.String()])
	assert.Equal(t, 5, persisted[idle.String()])
}

func TestSendPrivateRecountsFromReceiptLedger(t *testing.T) {
	svc, messages, conversations, sink, _ := newMessageServiceForTest()

	sender := uuid.New()
	recipient := uuid.New()
	conv := privateConversation(sender, recipient)

	conversations.On("GetByID", mock.Anything, conv.ID).Return(conv, nil)
	messages.On("Create", mock.Anything, mock.Anything).Return(nil)
	messages.On("CreateReceipts", mock.Anything, mock.Anything).Return(nil)
	conversations.On("SetLastMessage", mock.Anything, conv.ID, mock.Anything, mock.Anything).Return(nil)
	messages.On("CountUnread", mock.Anything, conv.ID, recipient).Return(int64(3), nil)
	conversations.On("SetUnreadCount", mock.Anything, conv.ID, 3).Return(nil)

	_, err := svc.Send(context.Background(), sender, SendMessageInput{
		ConversationID: conv.ID,
		Content:        "third",
	})
	require.NoError(t, err)

	conversations.AssertCalled(t, "SetUnreadCount", mock.Anything, conv.ID, 3)

	notes := sink.toUserByType(recipient, events.EventMessageNotification)
	require.Len(t, notes, 1)
	assert.Equal(t, 3, notes[0].Event.Payload.(MessageNotificationPayload).UnreadCount)
}

func TestMarkConversationReadPrivate(t *testing.T) {
	svc, messages, conversations, sink, _ := newMessageServiceForTest()

	sender := uuid.New()
	reader := uuid.New()
	conv := privateConversation(sender, reader)

	unread := []domain.Message{
		{ID: uuid.New(), ConversationID: conv.ID},
		{ID: uuid.New(), ConversationID: conv.ID},
	}

	conversations.On("GetByID", mock.Anything, conv.ID).Return(conv, nil)
	messages.On("GetUnreadMessages", mock.Anything, conv.ID, reader).Return(unread, nil)
	messages.On("CreateReceipts", mock.Anything, mock.Anything).Return(nil)
	messages.On("UpdateStatus", mock.Anything, conv.ID, mock.Anything, domain.StatusRead).
		Return([]uuid.UUID{unread[0].ID, unread[1].ID}, nil)
	messages.On("CountUnread", mock.Anything, conv.ID, reader).Return(int64(0), nil)
	conversations.On("SetUnreadCount", mock.Anything, conv.ID, 0).Return(nil)

	ids, err := svc.MarkConversationRead(context.Background(), reader, conv.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	messages.AssertCalled(t, "UpdateStatus", mock.Anything, conv.ID, mock.Anything, domain.StatusRead)
	conversations.AssertCalled(t, "SetUnreadCount", mock.Anything, conv.ID, 0)

	readEvents := sink.byType(events.EventMessagesRead)
	require.Len(t, readEvents, 1)
	payload := readEvents[0].Event.Payload.(MessagesReadPayload)
	assert.Equal(t, reader, payload.ReaderID)
	assert.Len(t, payload.MessageIDs, 2)

	assert.Len(t, sink.byType(events.EventMessageStatusUpdated), 1)
}

func TestMarkConversationReadGroupZeroesOnlyReader(t *testing.T) {
	svc, messages, conversations, _, _ := newMessageServiceForTest()

	reader := uuid.New()
	other := uuid.New()
	conv := groupConversation(other, reader)
	conv.ParticipantUnreadCount[reader.String()] = 7
	conv.ParticipantUnreadCount[other.String()] = 2

	conversations.On("GetByID", mock.Anything, conv.ID).Return(conv, nil)
	messages.On("GetUnreadMessages", mock.Anything, conv.ID, reader).Return([]domain.Message{
		{ID: uuid.New(), ConversationID: conv.ID},
	}, nil)
	messages.On("CreateReceipts", mock.Anything, mock.Anything).Return(nil)

	var persisted map[string]int
	conversations.On("SetParticipantUnreadCount", mock.Anything, conv.ID, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(map[string]int)
		}).Return(nil)

	_, err := svc.MarkConversationRead(context.Background(), reader, conv.ID)
	require.NoError(t, err)

	require.NotNil(t, persisted)
	assert.Equal(t, 0, persisted[reader.String()])
	assert.Equal(t, 2, persisted[other.String()], "other members' counters stay put")
}

func TestMarkConversationReadNothingUnreadIsNoop(t *testing.T) {
	svc, messages, conversations, sink, _ := newMessageServiceForTest()

	reader := uuid.New()
	conv := privateConversation(reader, uuid.New())

	conversations.On("GetByID", mock.Anything, conv.ID).Return(conv, nil)
	messages.On("GetUnreadMessages", mock.Anything, conv.ID, reader).Return([]domain.Message{}, nil)

	ids, err := svc.MarkConversationRead(context.Background(), reader, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, sink.events)
	messages.AssertNotCalled(t, "CreateReceipts", mock.Anything, mock.Anything)
}

func TestMarkDeliveredBroadcastsOnlyConversationMessages(t *testing.T) {
	svc, messages, conversations, sink, _ := newMessageServiceForTest()

	member := uuid.New()
	convID := uuid.New()
	ownID := uuid.New()
	foreignID := uuid.New()

	conversations.On("IsParticipant", mock.Anything, convID, member).Return(true, nil)
	// The scoped update only advances rows inside the conversation.
	messages.On("UpdateStatus", mock.Anything, convID, []uuid.UUID{ownID, foreignID}, domain.StatusDelivered).
		Return([]uuid.UUID{ownID}, nil)

	err := svc.MarkDelivered(context.Background(), member, convID, []uuid.UUID{ownID, foreignID})
	require.NoError(t, err)

	updates := sink.byType(events.EventMessageStatusUpdated)
	require.Len(t, updates, 1)
	payload := updates[0].Event.Payload.(StatusUpdatedPayload)
	assert.Equal(t, []uuid.UUID{ownID}, payload.MessageIDs, "ids outside the conversation never appear in the broadcast")
}

func TestMarkDeliveredWithOnlyForeignMessagesStaysSilent(t *testing.T) {
	svc, messages, conversations, sink, _ := newMessageServiceForTest()

	member := uuid.New()
	convID := uuid.New()
	foreignID := uuid.New()

	conversations.On("IsParticipant", mock.Anything, convID, member).Return(true, nil)
	messages.On("UpdateStatus", mock.Anything, convID, []uuid.UUID{foreignID}, domain.StatusDelivered).
		Return([]uuid.UUID{}, nil)

	err := svc.MarkDelivered(context.Background(), member, convID, []uuid.UUID{foreignID})
	require.NoError(t, err)

	assert.Empty(t, sink.byType(events.EventMessageStatusUpdated))
}

func TestRecallForEveryoneClearsContentAndBroadcasts(t *testing.T) {
	svc, messages, conversations, sink, _ := newMessageServiceForTest()

	sender := uuid.New()
	conversationID := uuid.New()
	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       &sender,
		Content:        "regrettable",
	}

	messages.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)
	messages.On("Recall", mock.Anything, msg.ID, domain.RecallEveryone, true, mock.Anything).Return(nil)
	conversations.On("SetLastMessage", mock.Anything, conversationID, mock.Anything, mock.Anything).Return(nil)

	got, err := svc.Recall(context.Background(), sender, msg.ID, domain.RecallEveryone)
	require.NoError(t, err)
	assert.True(t, got.IsRecalled)
	assert.Empty(t, got.Content)

	recalled := sink.byType(events.EventMessageRecalled)
	require.Len(t, recalled, 1)
	assert.NotNil(t, recalled[0].ConversationID, "everyone-recall goes to the conversation channel")
}

func TestRecallForSelfOnlyReachesRecaller(t *testing.T) {
	svc, messages, conversations, sink, _ := newMessageServiceForTest()

	sender := uuid.New()
	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       &sender,
		Content:        "still visible to others",
	}

	messages.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)
	messages.On("Recall", mock.Anything, msg.ID, domain.RecallSelf, false, mock.Anything).Return(nil)
	conversations.On("SetLastMessage", mock.Anything, msg.ConversationID, mock.Anything, mock.Anything).Return(nil)

	got, err := svc.Recall(context.Background(), sender, msg.ID, domain.RecallSelf)
	require.NoError(t, err)
	assert.Equal(t, "still visible to others", got.Content)

	recalled := sink.byType(events.EventMessageRecalled)
	require.Len(t, recalled, 1)
	require.NotNil(t, recalled[0].UserID)
	assert.Equal(t, sender, *recalled[0].UserID)
}

func TestRecallByNonSenderFails(t *testing.T) {
	svc, messages, _, _, _ := newMessageServiceForTest()

	sender := uuid.New()
	msg := domain.Message{ID: uuid.New(), ConversationID: uuid.New(), SenderID: &sender}
	messages.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)

	_, err := svc.Recall(context.Background(), uuid.New(), msg.ID, domain.RecallEveryone)
	assert.ErrorIs(t, err, ripple_errors.ErrConflict)
}

func TestRecallTwiceFails(t *testing.T) {
	svc, messages, _, _, _ := newMessageServiceForTest()

	sender := uuid.New()
	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       &sender,
		IsRecalled:     true,
		RecallType:     domain.RecallEveryone,
	}
	messages.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)

	_, err := svc.Recall(context.Background(), sender, msg.ID, domain.RecallEveryone)
	assert.ErrorIs(t, err, ripple_errors.ErrConflict)
}

func TestReactReplacesAndRebroadcastsFullList(t *testing.T) {
	svc, messages, conversations, sink, _ := newMessageServiceForTest()

	userID := uuid.New()
	msg := domain.Message{ID: uuid.New(), ConversationID: uuid.New()}
	reactions := []domain.MessageReaction{
		{MessageID: msg.ID, UserID: userID, Emoji: "🔥"},
	}

	messages.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)
	conversations.On("IsParticipant", mock.Anything, msg.ConversationID, userID).Return(true, nil)
	messages.On("ReplaceReaction", mock.Anything, msg.ID, userID, "🔥").Return(nil)
	messages.On("GetReactions", mock.Anything, msg.ID).Return(reactions, nil)

	got, err := svc.React(context.Background(), userID, msg.ID, "🔥")
	require.NoError(t, err)
	assert.Equal(t, reactions, got)

	updated := sink.byType(events.EventMessageReactionUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, reactions, updated[0].Event.Payload.(ReactionPayload).Reactions)
}

func TestReactWithEmptyEmojiRemoves(t *testing.T) {
	svc, messages, conversations, _, _ := newMessageServiceForTest()

	userID := uuid.New()
	msg := domain.Message{ID: uuid.New(), ConversationID: uuid.New()}

	messages.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)
	conversations.On("IsParticipant", mock.Anything, msg.ConversationID, userID).Return(true, nil)
	messages.On("RemoveReaction", mock.Anything, msg.ID, userID).Return(nil)
	messages.On("GetReactions", mock.Anything, msg.ID).Return([]domain.MessageReaction{}, nil)

	_, err := svc.React(context.Background(), userID, msg.ID, "")
	require.NoError(t, err)

	messages.AssertCalled(t, "RemoveReaction", mock.Anything, msg.ID, userID)
	messages.AssertNotCalled(t, "ReplaceReaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListRendersForViewer(t *testing.T) {
	svc, messages, conversations, _, _ := newMessageServiceForTest()

	viewer := uuid.New()
	conversationID := uuid.New()
	recalled := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       &viewer,
		Content:        "oops",
		IsRecalled:     true,
		RecallType:     domain.RecallSelf,
	}

	conversations.On("IsParticipant", mock.Anything, conversationID, viewer).Return(true, nil)
	messages.On("ListByConversation", mock.Anything, conversationID, mock.Anything, 50).
		Return([]domain.Message{recalled}, nil)

	got, err := svc.List(context.Background(), viewer, conversationID, time.Now(), 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEqual(t, "oops", got[0].Content, "self-recalled content is masked for the recaller")
}
