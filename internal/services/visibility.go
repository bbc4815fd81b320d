package services

import (
	"sort"

	"github.com/google/uuid"

	"ripple-chat/internal/domain"
)

// ConversationView is the per-viewer projection returned by conversation
// list queries. UnreadCount carries the viewer's own counter regardless of
// conversation type.
type ConversationView struct {
	domain.Conversation
	UnreadCount      int          `json:"unreadCount"`
	OtherParticipant *domain.User `json:"otherParticipant,omitempty"`
	IsVisible        bool         `json:"isVisible"`
}

// VisibleTo decides whether a conversation appears in a viewer's list.
// friends reports whether an accepted friendship exists between the two
// sides of a private conversation (ignored for groups).
//
// Rules, in order:
//  1. Groups are visible to all current participants.
//  2. The creator sees their own conversations unless explicitly hidden.
//  3. A pending friend request keeps the conversation visible to both
//     parties so the request UI can render.
//  4. A private conversation reveals itself to the non-creator once any
//     message lands in it, a friendship is accepted, or the persisted
//     isVisible flag is set.
//  5. Otherwise the non-creator does not see it; showOnlyToCreator never
//     reveals it to the other participant.
func VisibleTo(c domain.Conversation, viewerID uuid.UUID, friends bool) bool {
	if !c.HasParticipant(viewerID) {
		return false
	}
	if c.Type == domain.ConversationGroup {
		return true
	}
	if c.CreatorID == viewerID {
		return !c.IsHidden
	}
	if c.FriendRequestStatus == domain.FriendRequestPending {
		return true
	}
	return c.HasMessage() || friends || c.IsVisible
}

// ProjectForViewer attaches the per-viewer fields to a conversation.
func ProjectForViewer(c domain.Conversation, viewerID uuid.UUID, friends bool) ConversationView {
	view := ConversationView{
		Conversation: c,
		IsVisible:    VisibleTo(c, viewerID, friends),
	}

	if c.Type == domain.ConversationPrivate {
		if other := c.OtherParticipant(viewerID); other != nil {
			u := other.User
			view.OtherParticipant = &u
		}
		view.UnreadCount = c.UnreadCount
	} else {
		view.UnreadCount = c.ParticipantUnreadCount[viewerID.String()]
	}

	if c.LastMessage != nil {
		rendered := *c.LastMessage
		rendered.Content = rendered.RenderFor(viewerID)
		view.LastMessage = &rendered
	}

	return view
}

// SortViews orders conversation views most-recent-first by
// lastMessage.createdAt, falling back to updatedAt then createdAt.
func SortViews(views []ConversationView) {
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].SortKey().After(views[j].SortKey())
	})
}
