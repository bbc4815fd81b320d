package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ripple-chat/internal/domain"
	"ripple-chat/internal/presence"
	"ripple-chat/internal/rooms"
	"ripple-chat/pkg/events"
)

// MembershipSource lists the conversations a user participates in. The
// conversation repository satisfies it; the hub uses it to seed channel
// membership when a connection authenticates.
type MembershipSource interface {
	GetUserConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
}

// Hub owns the live websocket connections. It implements events.Sink for
// the service layer and services.ChannelOccupancy for receipt seeding.
// With a broker attached, every emission goes through redis and comes
// back via the subscription, so other processes see the same stream.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client

	rooms       *rooms.Registry
	viewers     *rooms.Registry
	memberships MembershipSource
	broker      events.Broker
	tracker     *presence.Tracker
	rateLimiter *ConnectionRateLimiter
	wsLogger    *WebSocketLogger

	mu       sync.RWMutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewHub(registry *rooms.Registry, broker events.Broker, memberships MembershipSource) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		register:    make(chan *Client, 256),
		unregister:  make(chan *Client, 256),
		rooms:       registry,
		viewers:     rooms.NewRegistry(),
		memberships: memberships,
		broker:      broker,
		rateLimiter: NewConnectionRateLimiter(),
		wsLogger:    NewWebSocketLogger(),
		stopChan:    make(chan struct{}),
	}
}

// SetTracker breaks the construction cycle: the tracker broadcasts
// through the hub, the hub reports connections to the tracker.
func (h *Hub) SetTracker(t *presence.Tracker) {
	h.tracker = t
}

func (h *Hub) Run(ctx context.Context) {
	if h.broker != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			patterns := []string{"channel:user:*", "channel:conversation:*", events.BroadcastChannelName}
			if err := h.broker.Subscribe(ctx, patterns, h.handleBrokerEvent); err != nil {
				h.wsLogger.Error("broker subscription ended", uuid.Nil, "", err)
			}
		}()
	}

	for {
		select {
		case client := <-h.register:
			h.handleRegister(ctx, client)
		case client := <-h.unregister:
			h.handleUnregister(ctx, client)
		case <-h.stopChan:
			h.wg.Wait()
			return
		}
	}
}

func (h *Hub) handleRegister(ctx context.Context, client *Client) {
	if !h.rateLimiter.AllowConnection(client.userID) {
		h.wsLogger.Warn("connection rate limit exceeded", client.userID, client.connID)
		client.conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[client.connID] = client
	h.mu.Unlock()

	h.seedChannels(ctx, client)

	if h.tracker != nil {
		h.tracker.Connect(ctx, client.userID)
	}

	h.wsLogger.Info("client connected", client.userID, client.connID)

	go client.writePump()
	go client.readPump()
}

// seedChannels joins a freshly authenticated connection to its user
// channel and one channel per conversation the user participates in, so
// conversation-scoped events reach every online participant immediately.
// Conversations the user enters after connecting are joined through
// join:conversation.
func (h *Hub) seedChannels(ctx context.Context, client *Client) {
	h.rooms.Join(rooms.UserChannel(client.userID), client.connID, client.userID)

	if h.memberships == nil {
		return
	}
	convs, err := h.memberships.GetUserConversations(ctx, client.userID)
	if err != nil {
		h.wsLogger.Error("seed conversation channels failed", client.userID, client.connID, err)
		return
	}
	for _, conv := range convs {
		h.rooms.Join(rooms.ConversationChannel(conv.ID), client.connID, client.userID)
	}
}

func (h *Hub) handleUnregister(ctx context.Context, client *Client) {
	h.mu.Lock()
	registered := false
	if _, ok := h.clients[client.connID]; ok {
		delete(h.clients, client.connID)
		registered = true
	}
	h.mu.Unlock()
	if !registered {
		return
	}

	h.rooms.DropConnection(client.connID)
	h.viewers.DropConnection(client.connID)
	close(client.send)
	client.conn.Close()

	if h.tracker != nil {
		h.tracker.Disconnect(ctx, client.userID)
	}

	h.wsLogger.Info("client disconnected", client.userID, client.connID)
}

// ToUser implements events.Sink.
func (h *Hub) ToUser(ctx context.Context, userID uuid.UUID, event events.Event) {
	h.dispatch(ctx, events.UserChannelName(userID), event)
}

// ToConversation implements events.Sink.
func (h *Hub) ToConversation(ctx context.Context, conversationID uuid.UUID, event events.Event) {
	h.dispatch(ctx, events.ConversationChannelName(conversationID), event)
}

// ToAll implements events.Sink.
func (h *Hub) ToAll(ctx context.Context, event events.Event) {
	h.dispatch(ctx, events.BroadcastChannelName, event)
}

func (h *Hub) dispatch(ctx context.Context, channel string, event events.Event) {
	if h.broker != nil {
		if err := h.broker.Publish(ctx, channel, event); err == nil {
			return
		}
		h.wsLogger.Warn("broker publish failed, delivering locally", uuid.Nil, "")
	}
	h.deliverLocal(channel, event)
}

func (h *Hub) handleBrokerEvent(_ context.Context, channel string, event events.Event) error {
	h.deliverLocal(channel, event)
	return nil
}

func (h *Hub) deliverLocal(channel string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.wsLogger.Error("event marshal failed", uuid.Nil, "", err)
		return
	}

	switch {
	case channel == events.BroadcastChannelName:
		h.mu.RLock()
		for _, client := range h.clients {
			client.enqueue(data)
		}
		h.mu.RUnlock()
	case strings.HasPrefix(channel, "channel:user:"):
		userID, err := uuid.Parse(strings.TrimPrefix(channel, "channel:user:"))
		if err != nil {
			return
		}
		h.deliverToChannel(rooms.UserChannel(userID), data)
	case strings.HasPrefix(channel, "channel:conversation:"):
		conversationID, err := uuid.Parse(strings.TrimPrefix(channel, "channel:conversation:"))
		if err != nil {
			return
		}
		h.deliverToChannel(rooms.ConversationChannel(conversationID), data)
	}
}

func (h *Hub) deliverToChannel(channel rooms.ChannelID, data []byte) {
	connIDs := h.rooms.ConnectionsOf(channel)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, connID := range connIDs {
		if client, ok := h.clients[connID]; ok {
			client.enqueue(data)
		}
	}
}

// MarkViewing records that a connection has the conversation open.
// Viewing is tracked apart from channel membership: every online
// participant receives conversation events, but only viewers count as
// active readers for receipt seeding.
func (h *Hub) MarkViewing(conversationID uuid.UUID, connID string, userID uuid.UUID) {
	h.viewers.Join(rooms.ConversationChannel(conversationID), connID, userID)
}

// ClearViewing records that a connection closed the conversation.
func (h *Hub) ClearViewing(conversationID uuid.UUID, connID string) {
	h.viewers.Leave(rooms.ConversationChannel(conversationID), connID)
}

// ActiveUsers implements services.ChannelOccupancy: the distinct users
// currently holding the conversation open.
func (h *Hub) ActiveUsers(conversationID uuid.UUID) []uuid.UUID {
	return h.viewers.MembersOf(rooms.ConversationChannel(conversationID))
}

// Stop closes every connection and waits for the broker loop.
func (h *Hub) Stop() {
	close(h.stopChan)

	h.mu.Lock()
	defer h.mu.Unlock()
	for connID, client := range h.clients {
		h.rooms.DropConnection(connID)
		h.viewers.DropConnection(connID)
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[string]*Client)
}

// ConnectionRateLimiter bounds connection attempts per user per minute.
type ConnectionRateLimiter struct {
	attempts map[uuid.UUID][]time.Time
	mu       sync.Mutex
}

const (
	maxConnectionsPerMinute = 10
	attemptRetention        = 10 * time.Minute
)

func NewConnectionRateLimiter() *ConnectionRateLimiter {
	rl := &ConnectionRateLimiter{attempts: make(map[uuid.UUID][]time.Time)}
	go rl.cleanupLoop()
	return rl
}

func (rl *ConnectionRateLimiter) AllowConnection(userID uuid.UUID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-time.Minute)

	valid := rl.attempts[userID][:0]
	for _, t := range rl.attempts[userID] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	if len(valid) >= maxConnectionsPerMinute {
		rl.attempts[userID] = valid
		return false
	}
	rl.attempts[userID] = append(valid, now)
	return true
}

func (rl *ConnectionRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-attemptRetention)
		for userID, times := range rl.attempts {
			valid := times[:0]
			for _, t := range times {
				if t.After(cutoff) {
					valid = append(valid, t)
				}
			}
			if len(valid) == 0 {
				delete(rl.attempts, userID)
			} else {
				rl.attempts[userID] = valid
			}
		}
		rl.mu.Unlock()
	}
}
