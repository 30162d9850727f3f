package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chat-backend/internal/model"
)

// Conversation is a row of the conversations table. LastMsgAt is nil until
// the first message lands.
type Conversation struct {
	ID         uuid.UUID
	Kind       model.ConversationKind
	LastMsgOff int64
	LastMsgAt  *time.Time
}

const insertConversation = `
INSERT INTO conversations (id, kind, last_msg_off)
VALUES ($1, $2, 0)
`

// InsertConversation creates a conversation shell.
func (q *Queries) InsertConversation(ctx context.Context, id uuid.UUID, kind model.ConversationKind) error {
	_, err := q.db.Exec(ctx, insertConversation, id, int16(kind))
	return err
}

const insertConversationCounter = `
INSERT INTO conversation_counters (conversation_id, next_offset)
VALUES ($1, 0)
`

// InsertConversationCounter seeds the offset counter at zero.
func (q *Queries) InsertConversationCounter(ctx context.Context, conversationID uuid.UUID) error {
	_, err := q.db.Exec(ctx, insertConversationCounter, conversationID)
	return err
}

const nextMessageOffset = `
INSERT INTO conversation_counters (conversation_id, next_offset)
VALUES ($1, 1)
ON CONFLICT (conversation_id)
DO UPDATE SET next_offset = conversation_counters.next_offset + 1
RETURNING next_offset
`

// NextMessageOffset atomically increments the conversation counter and
// returns the new value. The upsert serializes on the counter row, so
// concurrent senders receive distinct consecutive offsets.
func (q *Queries) NextMessageOffset(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var off int64
	err := q.db.QueryRow(ctx, nextMessageOffset, conversationID).Scan(&off)
	return off, err
}

const insertConversationMember = `
INSERT INTO conversation_members (conversation_id, user_id, joined_at, last_read_off)
VALUES ($1, $2, now(), 0)
ON CONFLICT (conversation_id, user_id) DO NOTHING
`

// InsertConversationMember adds a member; re-adding is a no-op.
func (q *Queries) InsertConversationMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := q.db.Exec(ctx, insertConversationMember, conversationID, userID)
	return err
}

const isConversationMember = `
SELECT EXISTS (
  SELECT 1 FROM conversation_members WHERE conversation_id = $1 AND user_id = $2
)
`

// IsConversationMember reports membership.
func (q *Queries) IsConversationMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, isConversationMember, conversationID, userID).Scan(&ok)
	return ok, err
}

const listReceivers = `
SELECT user_id FROM conversation_members
WHERE conversation_id = $1 AND user_id <> $2
`

// ListReceivers returns conversation members excluding the given user.
func (q *Queries) ListReceivers(ctx context.Context, conversationID, excluding uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listReceivers, conversationID, excluding)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receivers []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		receivers = append(receivers, id)
	}
	return receivers, rows.Err()
}

const advanceConversation = `
UPDATE conversations
SET last_msg_off = GREATEST(last_msg_off, $2),
    last_msg_at  = GREATEST(COALESCE(last_msg_at, 'epoch'::timestamptz), $3)
WHERE id = $1
`

// AdvanceConversation moves the last-message pointers forward. GREATEST
// keeps the update monotonic under concurrent commits.
func (q *Queries) AdvanceConversation(ctx context.Context, conversationID uuid.UUID, offset int64, at time.Time) error {
	_, err := q.db.Exec(ctx, advanceConversation, conversationID, offset, at)
	return err
}

// ListRecentParams pages a user's active conversations by
// (last_msg_at DESC, conversation_id DESC). Conversations with no activity
// never appear.
type ListRecentParams struct {
	UserID uuid.UUID
	Limit  int32
	After  *model.TimeCursor
}

const listRecent = `
SELECT c.id, c.kind, c.last_msg_off, c.last_msg_at,
  CASE WHEN c.kind = 1
       THEN CASE WHEN dp.user_min = $1 THEN dp.user_max ELSE dp.user_min END
       ELSE g.id END AS peer_id,
  CASE WHEN c.kind = 1 THEN pu.username ELSE g.name END AS peer_name
FROM conversations c
JOIN conversation_members m ON m.conversation_id = c.id AND m.user_id = $1
LEFT JOIN direct_pairs dp ON dp.conversation_id = c.id
LEFT JOIN groups g ON g.conversation_id = c.id
LEFT JOIN users pu ON pu.id = CASE WHEN dp.user_min = $1 THEN dp.user_max ELSE dp.user_min END
WHERE c.last_msg_at IS NOT NULL
ORDER BY c.last_msg_at DESC, c.id DESC
LIMIT $2
`

const listRecentAfter = `
SELECT c.id, c.kind, c.last_msg_off, c.last_msg_at,
  CASE WHEN c.kind = 1
       THEN CASE WHEN dp.user_min = $1 THEN dp.user_max ELSE dp.user_min END
       ELSE g.id END AS peer_id,
  CASE WHEN c.kind = 1 THEN pu.username ELSE g.name END AS peer_name
FROM conversations c
JOIN conversation_members m ON m.conversation_id = c.id AND m.user_id = $1
LEFT JOIN direct_pairs dp ON dp.conversation_id = c.id
LEFT JOIN groups g ON g.conversation_id = c.id
LEFT JOIN users pu ON pu.id = CASE WHEN dp.user_min = $1 THEN dp.user_max ELSE dp.user_min END
WHERE c.last_msg_at IS NOT NULL AND (c.last_msg_at, c.id) < ($3, $4)
ORDER BY c.last_msg_at DESC, c.id DESC
LIMIT $2
`

// ListRecent returns one page of the user's conversations with activity,
// hydrated with peer info.
func (q *Queries) ListRecent(ctx context.Context, arg ListRecentParams) ([]model.RecentConversation, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if arg.After != nil {
		rows, err = q.db.Query(ctx, listRecentAfter, arg.UserID, arg.Limit, arg.After.At, arg.After.ID)
	} else {
		rows, err = q.db.Query(ctx, listRecent, arg.UserID, arg.Limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.RecentConversation, 0, arg.Limit)
	for rows.Next() {
		var (
			rc   model.RecentConversation
			kind int16
		)
		if err := rows.Scan(&rc.ConversationID, &kind, &rc.LastMsgOff, &rc.LastMsgAt, &rc.PeerID, &rc.PeerName); err != nil {
			return nil, err
		}
		rc.Kind = model.ConversationKind(kind)
		out = append(out, rc)
	}
	return out, rows.Err()
}
