package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outbox event types. They select the outbound frame carried in the payload.
const (
	EventChatMessageNew = "chat.message.new"
	EventFriendshipNew  = "friendship.new"
	EventGroupNew       = "group.new"
	EventGroupMemberNew = "group.member.new"
)

// Frame tags exchanged with clients over the duplex connection.
const (
	// Inbound.
	TagChatMessageSend = "chatmessagesend"

	// Outbound.
	TagChatMessageAck = "chatmessageack"
	TagChatMessageNew = "chatmessagenew"
	TagFriendshipNew  = "friendshipnew"
	TagGroupNew       = "groupnew"
	TagGroupMemberNew = "groupmembernew"
)

// Frame is the envelope of every JSON text frame on the client connection.
type Frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// EncodeFrame wraps content under the given tag.
func EncodeFrame(tag string, content any) ([]byte, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode %s content: %w", tag, err)
	}
	data, err := json.Marshal(Frame{Type: tag, Content: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", tag, err)
	}
	return data, nil
}

// DecodeFrame parses the outer envelope of an inbound text frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// ChatMessageSend is the content of an inbound chatmessagesend frame.
type ChatMessageSend struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Content        string    `json:"content"`
}

// ChatMessageAck is the content of a chatmessageack frame, sent on the
// control channel after a successful send.
type ChatMessageAck struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	MessageOffset  int64     `json:"message_offset"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatMessageNew is the content of a chatmessagenew frame fanned out to the
// other members of the conversation.
type ChatMessageNew struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	MessageOffset  int64     `json:"message_offset"`
	Content        string    `json:"content"`
	Sender         uuid.UUID `json:"sender"`
	Username       string    `json:"username"`
	CreatedAt      time.Time `json:"created_at"`
}

// FriendshipNew tells the non-initiator about a new friendship.
type FriendshipNew struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Other          uuid.UUID `json:"other"`
	Username       string    `json:"username"`
}

// GroupNew tells an invited user about the group they just joined.
type GroupNew struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	GroupID        uuid.UUID `json:"group_id"`
	GroupName      string    `json:"group_name"`
}

// GroupMemberNew tells existing members about a newly added member.
type GroupMemberNew struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	GroupID        uuid.UUID `json:"group_id"`
	MemberID       uuid.UUID `json:"member_id"`
	Username       string    `json:"username"`
}

// BrokerEnvelope is the payload published on the chat events topic. Body is
// an outbound frame, forwarded to each receiver's mailbox verbatim.
type BrokerEnvelope struct {
	Receivers []uuid.UUID     `json:"receivers"`
	Body      json.RawMessage `json:"body"`
}
