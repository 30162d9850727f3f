package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chat-backend/internal/model"
)

// InsertMessageParams carries a new message row. The offset must come from
// NextMessageOffset within the same transaction.
type InsertMessageParams struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	MessageOffset  int64
	SenderID       uuid.UUID
	Content        string
	CreatedAt      time.Time
}

const insertMessage = `
INSERT INTO messages (id, conversation_id, message_offset, sender_id, content, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, conversation_id, message_offset, sender_id, content, created_at
`

// InsertMessage appends a message.
func (q *Queries) InsertMessage(ctx context.Context, arg InsertMessageParams) (model.MessageRecord, error) {
	var m model.MessageRecord
	err := q.db.QueryRow(ctx, insertMessage,
		arg.ID, arg.ConversationID, arg.MessageOffset, arg.SenderID, arg.Content, arg.CreatedAt).
		Scan(&m.MessageID, &m.ConversationID, &m.MessageOffset, &m.Sender, &m.Content, &m.CreatedAt)
	return m, err
}

const getMessageByID = `
SELECT id, conversation_id, message_offset, sender_id, content, created_at
FROM messages WHERE id = $1
`

// GetMessageByID fetches a message by its caller-supplied id. Used for
// duplicate detection before an offset is allocated.
func (q *Queries) GetMessageByID(ctx context.Context, id uuid.UUID) (model.MessageRecord, error) {
	var m model.MessageRecord
	err := q.db.QueryRow(ctx, getMessageByID, id).
		Scan(&m.MessageID, &m.ConversationID, &m.MessageOffset, &m.Sender, &m.Content, &m.CreatedAt)
	return m, notFound(err)
}

// ListMessagesParams pages history newest-first below an optional offset.
type ListMessagesParams struct {
	ConversationID uuid.UUID
	Limit          int32
	Before         *int64
}

const listMessages = `
SELECT id, conversation_id, message_offset, sender_id, content, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY message_offset DESC
LIMIT $2
`

const listMessagesBefore = `
SELECT id, conversation_id, message_offset, sender_id, content, created_at
FROM messages
WHERE conversation_id = $1 AND message_offset < $3
ORDER BY message_offset DESC
LIMIT $2
`

// ListMessages returns up to Limit messages newest-first. Callers reverse
// the page for the oldest-to-newest contract.
func (q *Queries) ListMessages(ctx context.Context, arg ListMessagesParams) ([]model.MessageRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if arg.Before != nil {
		rows, err = q.db.Query(ctx, listMessagesBefore, arg.ConversationID, arg.Limit, *arg.Before)
	} else {
		rows, err = q.db.Query(ctx, listMessages, arg.ConversationID, arg.Limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.MessageRecord, 0, arg.Limit)
	for rows.Next() {
		var m model.MessageRecord
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.MessageOffset, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
