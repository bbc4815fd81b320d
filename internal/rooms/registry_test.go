package rooms

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	channel := ConversationChannel(uuid.New())
	userID := uuid.New()

	r.Join(channel, "conn-1", userID)
	r.Join(channel, "conn-1", userID)

	assert.Len(t, r.ConnectionsOf(channel), 1)
	assert.Len(t, r.MembersOf(channel), 1)
}

func TestLeaveUnknownChannelIsNoop(t *testing.T) {
	r := NewRegistry()
	channel := ConversationChannel(uuid.New())

	r.Leave(channel, "never-joined")

	assert.Empty(t, r.ConnectionsOf(channel))
}

func TestMembersOfDeduplicatesMultiTabUsers(t *testing.T) {
	r := NewRegistry()
	channel := ConversationChannel(uuid.New())
	userID := uuid.New()

	r.Join(channel, "tab-1", userID)
	r.Join(channel, "tab-2", userID)
	r.Join(channel, "other", uuid.New())

	assert.Len(t, r.ConnectionsOf(channel), 3)
	assert.Len(t, r.MembersOf(channel), 2, "same user on two tabs counts once")
}

func TestDropConnectionLeavesAllChannels(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()
	userChannel := UserChannel(userID)
	convA := ConversationChannel(uuid.New())
	convB := ConversationChannel(uuid.New())

	r.Join(userChannel, "conn-1", userID)
	r.Join(convA, "conn-1", userID)
	r.Join(convB, "conn-1", userID)

	r.DropConnection("conn-1")

	assert.Empty(t, r.ConnectionsOf(userChannel))
	assert.Empty(t, r.ConnectionsOf(convA))
	assert.Empty(t, r.ConnectionsOf(convB))
	assert.Empty(t, r.Channels("conn-1"))
}

func TestChannelsDistinguishesKinds(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()
	conversationID := uuid.New()

	r.Join(UserChannel(userID), "conn-1", userID)
	r.Join(ConversationChannel(conversationID), "conn-1", userID)

	channels := r.Channels("conn-1")
	assert.Len(t, channels, 2)

	assert.True(t, r.IsJoined(ConversationChannel(conversationID), "conn-1"))
	assert.False(t, r.IsJoined(ConversationChannel(uuid.New()), "conn-1"))

	// Same uuid under a different kind is a different channel.
	assert.False(t, r.IsJoined(UserChannel(conversationID), "conn-1"))
}

func TestLeaveOnlyAffectsGivenConnection(t *testing.T) {
	r := NewRegistry()
	channel := ConversationChannel(uuid.New())
	userA := uuid.New()
	userB := uuid.New()

	r.Join(channel, "conn-a", userA)
	r.Join(channel, "conn-b", userB)

	r.Leave(channel, "conn-a")

	assert.Equal(t, []uuid.UUID{userB}, r.MembersOf(channel))
}
