package model

import (
	"time"

	"github.com/google/uuid"
)

// ConversationKind distinguishes direct from group conversations.
type ConversationKind int16

const (
	KindDirect ConversationKind = 1
	KindGroup  ConversationKind = 2
)

// MessageRecord is a persisted chat message as returned to callers.
type MessageRecord struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageOffset  int64     `json:"message_offset"`
	Sender         uuid.UUID `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecentConversation is one row of the recent-conversations listing,
// hydrated with peer info: the other user for direct conversations, the
// group for group conversations.
type RecentConversation struct {
	ConversationID uuid.UUID        `json:"conversation_id"`
	Kind           ConversationKind `json:"kind"`
	LastMsgOff     int64            `json:"last_msg_off"`
	LastMsgAt      time.Time        `json:"last_msg_at"`
	PeerID         uuid.UUID        `json:"peer_id"`
	PeerName       string           `json:"peer_name"`
}

// FriendEntry is one row of the friend listing.
type FriendEntry struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Since    time.Time `json:"since"`
}

// GroupEntry is one row of the group listing.
type GroupEntry struct {
	GroupID        uuid.UUID `json:"group_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	ConversationID uuid.UUID `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemberEntry is one row of the group member listing.
type MemberEntry struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}
