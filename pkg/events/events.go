package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Server-to-client event names. Verb set follows the socket protocol surface,
// normalized to resource:action.
const (
	EventError = "error"

	EventUserOnline        = "user:online"
	EventUserOffline       = "user:offline"
	EventUserTyping        = "user:typing"
	EventUserStoppedTyping = "user:stopped-typing"

	EventConversationCreated = "conversation:created"
	EventConversationUpdated = "conversation:updated"
	EventConversationsList   = "conversations:list"

	EventMessageNew             = "new:message"
	EventMessagesList           = "messages:list"
	EventMessageNotification    = "message:notification"
	EventMessageDelivered       = "message:delivered"
	EventMessageStatusUpdated   = "message:status-updated"
	EventMessagesRead           = "messages:read"
	EventMessageRecalled        = "message:recalled"
	EventMessageReactionUpdated = "message:reaction-updated"

	EventGroupUpdated = "group:updated"
	EventGroupAdded   = "group:added"
	EventGroupRemoved = "group:removed"
	EventGroupLeft    = "group:left"

	EventFriendRequestSent      = "friendRequestSent"
	EventFriendRequestCancelled = "friendRequestCancelled"
	EventFriendRequestResponded = "friendRequestResponded"
	EventNewFriendRequest       = "newFriendRequest"
	EventNotificationsMarkRead  = "notificationsMarkedAsRead"
	EventNotificationsList      = "notifications:list"

	EventFilesAdded = "files:added"
	EventFilesList  = "files:list"

	EventRoomsList   = "roomsList"
	EventOnlineUsers = "online:users"
)

// Event is the wire envelope for every server-to-client emission.
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

func New(eventType string, payload interface{}) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Sink fans events out to connected clients. The websocket hub is the
// in-process implementation; the redis broker bridges other processes.
type Sink interface {
	ToUser(ctx context.Context, userID uuid.UUID, event Event)
	ToConversation(ctx context.Context, conversationID uuid.UUID, event Event)
	ToAll(ctx context.Context, event Event)
}

type Handler func(ctx context.Context, channel string, event Event) error

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, patterns []string, handler Handler) error
}

type Broker interface {
	Publisher
	Subscriber
}

// Channel naming for the redis bridge.
func UserChannelName(userID uuid.UUID) string {
	return "channel:user:" + userID.String()
}

func ConversationChannelName(conversationID uuid.UUID) string {
	return "channel:conversation:" + conversationID.String()
}

const BroadcastChannelName = "channel:broadcast"
