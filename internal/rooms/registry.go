package rooms

import (
	"sync"

	"github.com/google/uuid"
)

type ChannelKind int

const (
	KindUser ChannelKind = iota
	KindConversation
)

// ChannelID identifies a logical broadcast group: either a user's private
// channel or a conversation channel.
type ChannelID struct {
	Kind ChannelKind
	ID   uuid.UUID
}

func UserChannel(userID uuid.UUID) ChannelID {
	return ChannelID{Kind: KindUser, ID: userID}
}

func ConversationChannel(conversationID uuid.UUID) ChannelID {
	return ChannelID{Kind: KindConversation, ID: conversationID}
}

type member struct {
	connID string
	userID uuid.UUID
}

// Registry tracks which connections are joined to which channels. Join and
// Leave are idempotent; lookups are indexed both ways so MembersOf and
// DropConnection avoid scanning all live connections.
type Registry struct {
	mu       sync.RWMutex
	channels map[ChannelID]map[string]uuid.UUID // channel -> connID -> userID
	byConn   map[string]map[ChannelID]struct{}  // connID -> joined channels
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[ChannelID]map[string]uuid.UUID),
		byConn:   make(map[string]map[ChannelID]struct{}),
	}
}

func (r *Registry) Join(channel ChannelID, connID string, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channels[channel] == nil {
		r.channels[channel] = make(map[string]uuid.UUID)
	}
	r.channels[channel][connID] = userID

	if r.byConn[connID] == nil {
		r.byConn[connID] = make(map[ChannelID]struct{})
	}
	r.byConn[connID][channel] = struct{}{}
}

func (r *Registry) Leave(channel ChannelID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(channel, connID)
}

func (r *Registry) leaveLocked(channel ChannelID, connID string) {
	if members, ok := r.channels[channel]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// DropConnection removes a connection from every channel it joined.
func (r *Registry) DropConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channel := range r.byConn[connID] {
		r.leaveLocked(channel, connID)
	}
	delete(r.byConn, connID)
}

// ConnectionsOf returns the connection ids joined to a channel.
func (r *Registry) ConnectionsOf(channel ChannelID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]string, 0, len(r.channels[channel]))
	for connID := range r.channels[channel] {
		conns = append(conns, connID)
	}
	return conns
}

// MembersOf returns the distinct user ids with at least one connection in
// the channel.
func (r *Registry) MembersOf(channel ChannelID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	users := make([]uuid.UUID, 0, len(r.channels[channel]))
	for _, userID := range r.channels[channel] {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		users = append(users, userID)
	}
	return users
}

// IsJoined reports whether the connection currently belongs to the channel.
func (r *Registry) IsJoined(channel ChannelID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.channels[channel][connID]
	return ok
}

// Channels returns the channels a connection is joined to.
func (r *Registry) Channels(connID string) []ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]ChannelID, 0, len(r.byConn[connID]))
	for channel := range r.byConn[connID] {
		channels = append(channels, channel)
	}
	return channels
}
