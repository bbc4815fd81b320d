package server

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ripple-chat/internal/domain"
	"ripple-chat/internal/rooms"
	"ripple-chat/internal/services"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Services bundles everything the dispatch table reaches into.
type Services struct {
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Friendships   *services.FriendshipService
	Users         *services.UserService
	Files         *services.FileService
}

// Client is one websocket connection of one user.
type Client struct {
	hub          *Hub
	services     *Services
	conn         *websocket.Conn
	send         chan []byte
	userID       uuid.UUID
	connID       string
	limiter      *MessageRateLimiter
	connectedAt  time.Time
	lastActivity time.Time
	logger       *WebSocketLogger
}

// inbound is the client-to-server envelope: a verb plus its payload.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewClient(hub *Hub, svcs *Services, conn *websocket.Conn, userID uuid.UUID, connID string, logger *WebSocketLogger) *Client {
	now := time.Now()
	return &Client{
		hub:          hub,
		services:     svcs,
		conn:         conn,
		send:         make(chan []byte, 256),
		userID:       userID,
		connID:       connID,
		limiter:      NewMessageRateLimiter(),
		connectedAt:  now,
		lastActivity: now,
		logger:       logger,
	}
}

// enqueue drops the frame when the client's buffer is full instead of
// blocking the hub.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full", c.userID, c.connID)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastActivity = time.Now()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.userID, c.connID, err)
			}
			break
		}

		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		c.lastActivity = time.Now()

		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if time.Since(c.lastActivity) > pongWait*2 {
				c.logger.Info("client idle timeout", c.userID, c.connID)
				return
			}
		}
	}
}

// reply answers on this connection only, bypassing channels.
func (c *Client) reply(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("reply marshal failed", c.userID, c.connID, err)
		return
	}
	c.enqueue(data)
}

func (c *Client) replyError(err error) {
	c.reply(events.New(events.EventError, map[string]string{
		"message": err.Error(),
		"code":    ripple_errors.Code(err),
	}))
}

func (c *Client) handleMessage(message []byte) {
	var msg inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		c.replyError(ripple_errors.ErrInvalidPayload)
		return
	}

	if !c.limiter.Allow(msg.Type) {
		c.logger.Warn("message rate limit exceeded", c.userID, c.connID, zap.String("msg_type", msg.Type))
		c.replyError(ripple_errors.ErrConflict)
		return
	}

	ctx := context.Background()
	var err error

	switch msg.Type {
	case "join:conversation", "joinRoom":
		err = c.handleJoinConversation(ctx, msg.Payload)
	case "leave:conversation":
		err = c.handleLeaveConversation(msg.Payload)
	case "send:message":
		err = c.handleSendMessage(ctx, msg.Payload)
	case "get:messages":
		err = c.handleGetMessages(ctx, msg.Payload)
	case "get:conversations":
		err = c.handleGetConversations(ctx)
	case "create:conversation":
		err = c.handleCreateConversation(ctx, msg.Payload)
	case "create:group-conversation":
		err = c.handleCreateGroup(ctx, msg.Payload)
	case "update:conversation":
		err = c.handleUpdateConversation(ctx, msg.Payload)
	case "mark:conversation-read", "message:read", "message:mark-read":
		err = c.handleMarkConversationRead(ctx, msg.Payload)
	case "message:delivered":
		err = c.handleMarkDelivered(ctx, msg.Payload)
	case "message:recall":
		err = c.handleRecall(ctx, msg.Payload)
	case "message:react":
		err = c.handleReact(ctx, msg.Payload, false)
	case "message:remove-reaction":
		err = c.handleReact(ctx, msg.Payload, true)
	case "group:addMembers":
		err = c.handleGroupAddMembers(ctx, msg.Payload)
	case "group:removeMember":
		err = c.handleGroupRemoveMember(ctx, msg.Payload)
	case "group:leave":
		err = c.handleGroupLeave(ctx, msg.Payload)
	case "sendFriendRequest":
		err = c.handleSendFriendRequest(ctx, msg.Payload)
	case "cancelFriendRequest":
		err = c.handleCancelFriendRequest(ctx, msg.Payload)
	case "respondToFriendRequest":
		err = c.handleRespondToFriendRequest(ctx, msg.Payload)
	case "get:notifications":
		err = c.handleGetNotifications(ctx, msg.Payload)
	case "markNotificationsAsRead":
		_, err = c.services.Friendships.MarkNotificationsRead(ctx, c.userID)
	case "get:files":
		err = c.handleGetFiles(ctx, msg.Payload)
	case "files:presign":
		err = c.handlePresignUpload(ctx, msg.Payload)
	case "typing":
		err = c.handleTyping(ctx, msg.Payload)
	case "typing:start":
		err = c.handleTypingState(ctx, msg.Payload, true)
	case "typing:stop":
		err = c.handleTypingState(ctx, msg.Payload, false)
	case "user:status-update":
		err = c.handleStatusUpdate(ctx, msg.Payload)
	case "get:online-users":
		err = c.handleGetOnlineUsers(ctx)
	case "getRooms":
		c.handleGetRooms()
	default:
		c.logger.Warn("unknown message type", c.userID, c.connID, zap.String("msg_type", msg.Type))
		err = ripple_errors.ErrInvalidPayload
	}

	if err != nil {
		c.replyError(err)
	}
}

type conversationRef struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

func (c *Client) handleJoinConversation(ctx context.Context, payload json.RawMessage) error {
	var ref conversationRef
	if err := json.Unmarshal(payload, &ref); err != nil || ref.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	if _, err := c.services.Conversations.Join(ctx, c.userID, ref.ConversationID); err != nil {
		return err
	}
	// Channel membership is normally seeded at connect time; joining here
	// covers conversations the user entered after connecting. Viewing is
	// what makes them an active reader.
	c.hub.rooms.Join(rooms.ConversationChannel(ref.ConversationID), c.connID, c.userID)
	c.hub.MarkViewing(ref.ConversationID, c.connID, c.userID)
	return nil
}

func (c *Client) handleLeaveConversation(payload json.RawMessage) error {
	var ref conversationRef
	if err := json.Unmarshal(payload, &ref); err != nil || ref.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	// The user closed the conversation but still participates in it, so
	// the delivery channel stays joined and only viewing is cleared.
	c.hub.ClearViewing(ref.ConversationID, c.connID)
	return nil
}

func (c *Client) handleSendMessage(ctx context.Context, payload json.RawMessage) error {
	var in services.SendMessageInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return ripple_errors.ErrInvalidPayload
	}
	msg, err := c.services.Messages.Send(ctx, c.userID, in)
	if err != nil {
		return err
	}
	if len(msg.Attachments) > 0 {
		c.services.Files.AnnounceFiles(ctx, msg.ConversationID, msg.Attachments)
	}
	return nil
}

func (c *Client) handleGetMessages(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		ConversationID uuid.UUID  `json:"conversationId"`
		Before         *time.Time `json:"before"`
		Limit          int        `json:"limit"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	before := time.Now()
	if in.Before != nil {
		before = *in.Before
	}
	messages, err := c.services.Messages.List(ctx, c.userID, in.ConversationID, before, in.Limit)
	if err != nil {
		return err
	}
	c.reply(events.New(events.EventMessagesList, map[string]interface{}{
		"conversationId": in.ConversationID,
		"messages":       messages,
	}))
	return nil
}

func (c *Client) handleGetConversations(ctx context.Context) error {
	views, err := c.services.Conversations.ListForViewer(ctx, c.userID)
	if err != nil {
		return err
	}
	c.reply(events.New(events.EventConversationsList, views))
	return nil
}

func (c *Client) handleCreateConversation(ctx context.Context, payload json.RawMessage) error {
	var in services.CreatePrivateInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Conversations.CreatePrivate(ctx, c.userID, in)
	return err
}

func (c *Client) handleCreateGroup(ctx context.Context, payload json.RawMessage) error {
	var in services.CreateGroupInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Conversations.CreateGroup(ctx, c.userID, in)
	return err
}

func (c *Client) handleUpdateConversation(ctx context.Context, payload json.RawMessage) error {
	var in services.UpdateConversationInput
	if err := json.Unmarshal(payload, &in); err != nil || in.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Conversations.Update(ctx, c.userID, in)
	return err
}

func (c *Client) handleMarkConversationRead(ctx context.Context, payload json.RawMessage) error {
	var ref conversationRef
	if err := json.Unmarshal(payload, &ref); err != nil || ref.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Messages.MarkConversationRead(ctx, c.userID, ref.ConversationID)
	return err
}

func (c *Client) handleMarkDelivered(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		ConversationID uuid.UUID   `json:"conversationId"`
		MessageIDs     []uuid.UUID `json:"messageIds"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	return c.services.Messages.MarkDelivered(ctx, c.userID, in.ConversationID, in.MessageIDs)
}

func (c *Client) handleRecall(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		MessageID uuid.UUID          `json:"messageId"`
		Scope     domain.RecallScope `json:"scope"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.MessageID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Messages.Recall(ctx, c.userID, in.MessageID, in.Scope)
	return err
}

func (c *Client) handleReact(ctx context.Context, payload json.RawMessage, remove bool) error {
	var in struct {
		MessageID uuid.UUID `json:"messageId"`
		Emoji     string    `json:"emoji"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.MessageID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	if remove {
		in.Emoji = ""
	} else if in.Emoji == "" {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Messages.React(ctx, c.userID, in.MessageID, in.Emoji)
	return err
}

func (c *Client) handleGroupAddMembers(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		ConversationID uuid.UUID   `json:"conversationId"`
		MemberIDs      []uuid.UUID `json:"memberIds"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Conversations.AddMembers(ctx, c.userID, in.ConversationID, in.MemberIDs)
	return err
}

func (c *Client) handleGroupRemoveMember(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		ConversationID uuid.UUID `json:"conversationId"`
		UserID         uuid.UUID `json:"userId"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.ConversationID == uuid.Nil || in.UserID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Conversations.RemoveMember(ctx, c.userID, in.ConversationID, in.UserID)
	return err
}

func (c *Client) handleGroupLeave(ctx context.Context, payload json.RawMessage) error {
	var ref conversationRef
	if err := json.Unmarshal(payload, &ref); err != nil || ref.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	if err := c.services.Conversations.Leave(ctx, c.userID, ref.ConversationID); err != nil {
		return err
	}
	c.hub.rooms.Leave(rooms.ConversationChannel(ref.ConversationID), c.connID)
	c.hub.ClearViewing(ref.ConversationID, c.connID)
	return nil
}

func (c *Client) handleSendFriendRequest(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		RecipientID uuid.UUID `json:"recipientId"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.RecipientID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Friendships.SendRequest(ctx, c.userID, in.RecipientID)
	return err
}

func (c *Client) handleCancelFriendRequest(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		FriendRequestID uuid.UUID `json:"friendRequestId"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.FriendRequestID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	return c.services.Friendships.Cancel(ctx, c.userID, in.FriendRequestID)
}

func (c *Client) handleRespondToFriendRequest(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		FriendRequestID uuid.UUID `json:"friendRequestId"`
		Accept          bool      `json:"accept"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.FriendRequestID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	_, err := c.services.Friendships.Respond(ctx, c.userID, in.FriendRequestID, in.Accept)
	return err
}

func (c *Client) handleGetNotifications(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		Limit int `json:"limit"`
	}
	if len(payload) > 0 {
		json.Unmarshal(payload, &in)
	}
	notifications, err := c.services.Friendships.ListNotifications(ctx, c.userID, in.Limit)
	if err != nil {
		return err
	}
	c.reply(events.New(events.EventNotificationsList, notifications))
	return nil
}

func (c *Client) handleGetFiles(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		ConversationID uuid.UUID `json:"conversationId"`
		Limit          int       `json:"limit"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	files, err := c.services.Files.List(ctx, c.userID, in.ConversationID, in.Limit)
	if err != nil {
		return err
	}
	c.reply(events.New(events.EventFilesList, files))
	return nil
}

func (c *Client) handlePresignUpload(ctx context.Context, payload json.RawMessage) error {
	var in services.PresignUploadInput
	if err := json.Unmarshal(payload, &in); err != nil || in.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	result, err := c.services.Files.PresignUpload(ctx, c.userID, in)
	if err != nil {
		return err
	}
	c.reply(events.New("files:presigned", result))
	return nil
}

func (c *Client) handleTyping(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		ConversationID uuid.UUID `json:"conversationId"`
		IsTyping       bool      `json:"isTyping"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	return c.broadcastTyping(ctx, in.ConversationID, in.IsTyping)
}

func (c *Client) handleTypingState(ctx context.Context, payload json.RawMessage, isTyping bool) error {
	var in struct {
		ConversationID uuid.UUID `json:"conversationId"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.ConversationID == uuid.Nil {
		return ripple_errors.ErrInvalidPayload
	}
	return c.broadcastTyping(ctx, in.ConversationID, isTyping)
}

func (c *Client) broadcastTyping(ctx context.Context, conversationID uuid.UUID, isTyping bool) error {
	if !c.hub.rooms.IsJoined(rooms.ConversationChannel(conversationID), c.connID) {
		return ripple_errors.ErrNotAParticipant
	}
	eventType := events.EventUserStoppedTyping
	if isTyping {
		eventType = events.EventUserTyping
	}
	c.hub.ToConversation(ctx, conversationID, events.New(eventType, map[string]interface{}{
		"conversationId": conversationID,
		"userId":         c.userID,
	}))
	return nil
}

func (c *Client) handleStatusUpdate(ctx context.Context, payload json.RawMessage) error {
	var in struct {
		Status domain.UserStatus `json:"status"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return ripple_errors.ErrInvalidPayload
	}
	return c.services.Users.SetStatus(ctx, c.userID, in.Status)
}

func (c *Client) handleGetOnlineUsers(ctx context.Context) error {
	users, err := c.services.Users.OnlineUsers(ctx)
	if err != nil {
		return err
	}
	c.reply(events.New(events.EventOnlineUsers, users))
	return nil
}

func (c *Client) handleGetRooms() {
	channels := c.hub.rooms.Channels(c.connID)
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch.Kind == rooms.KindConversation {
			ids = append(ids, ch.ID.String())
		}
	}
	c.reply(events.New(events.EventRoomsList, ids))
}

// MessageRateLimiter budgets inbound frames per verb class per minute.
type MessageRateLimiter struct {
	messageTokens int
	typingTokens  int
	queryTokens   int
	lastRefill    time.Time
	mu            sync.Mutex
}

const (
	maxMessagesPerMinute = 120
	maxTypingPerMinute   = 60
	maxQueriesPerMinute  = 240
)

func NewMessageRateLimiter() *MessageRateLimiter {
	return &MessageRateLimiter{
		messageTokens: maxMessagesPerMinute,
		typingTokens:  maxTypingPerMinute,
		queryTokens:   maxQueriesPerMinute,
		lastRefill:    time.Now(),
	}
}

func (rl *MessageRateLimiter) Allow(msgType string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.messageTokens = maxMessagesPerMinute
		rl.typingTokens = maxTypingPerMinute
		rl.queryTokens = maxQueriesPerMinute
		rl.lastRefill = now
	}

	switch msgType {
	case "send:message", "message:recall", "message:react", "message:remove-reaction":
		if rl.messageTokens > 0 {
			rl.messageTokens--
			return true
		}
	case "typing", "typing:start", "typing:stop", "user:status-update":
		if rl.typingTokens > 0 {
			rl.typingTokens--
			return true
		}
	default:
		if rl.queryTokens > 0 {
			rl.queryTokens--
			return true
		}
	}
	return false
}
