package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chat-backend/internal/model"
)

// InsertFriendshipParams identifies the ordered pair and its initiator.
// UserMin must sort below UserMax; the unique key on the pair is the
// idempotency token for friendship creation.
type InsertFriendshipParams struct {
	UserMin     uuid.UUID
	UserMax     uuid.UUID
	RequestedBy uuid.UUID
}

const insertFriendship = `
INSERT INTO friendships (user_min, user_max, status, requested_by, created_at)
VALUES ($1, $2, 'accepted', $3, now())
`

// InsertFriendship claims the friendship row. Callers race on the unique
// key; losers see a unique violation and must read the existing pair.
func (q *Queries) InsertFriendship(ctx context.Context, arg InsertFriendshipParams) error {
	_, err := q.db.Exec(ctx, insertFriendship, arg.UserMin, arg.UserMax, arg.RequestedBy)
	return err
}

const insertDirectPair = `
INSERT INTO direct_pairs (user_min, user_max, conversation_id)
VALUES ($1, $2, $3)
`

// InsertDirectPair maps the friendship pair to its direct conversation.
func (q *Queries) InsertDirectPair(ctx context.Context, userMin, userMax, conversationID uuid.UUID) error {
	_, err := q.db.Exec(ctx, insertDirectPair, userMin, userMax, conversationID)
	return err
}

const getDirectPair = `
SELECT conversation_id FROM direct_pairs WHERE user_min = $1 AND user_max = $2
`

// GetDirectPair resolves the conversation of an existing friendship pair.
func (q *Queries) GetDirectPair(ctx context.Context, userMin, userMax uuid.UUID) (uuid.UUID, error) {
	var conversationID uuid.UUID
	err := q.db.QueryRow(ctx, getDirectPair, userMin, userMax).Scan(&conversationID)
	return conversationID, notFound(err)
}

// ListFriendsParams pages a user's friends by (created_at DESC, other DESC).
type ListFriendsParams struct {
	UserID uuid.UUID
	Limit  int32
	Before *model.TimeCursor
}

const listFriends = `
SELECT other, u.username, f.created_at
FROM (
  SELECT CASE WHEN user_min = $1 THEN user_max ELSE user_min END AS other, created_at
  FROM friendships
  WHERE user_min = $1 OR user_max = $1
) f
JOIN users u ON u.id = f.other
ORDER BY f.created_at DESC, other DESC
LIMIT $2
`

const listFriendsBefore = `
SELECT other, u.username, f.created_at
FROM (
  SELECT CASE WHEN user_min = $1 THEN user_max ELSE user_min END AS other, created_at
  FROM friendships
  WHERE user_min = $1 OR user_max = $1
) f
JOIN users u ON u.id = f.other
WHERE (f.created_at, other) < ($3, $4)
ORDER BY f.created_at DESC, other DESC
LIMIT $2
`

// ListFriends returns one page of the user's friends.
func (q *Queries) ListFriends(ctx context.Context, arg ListFriendsParams) ([]model.FriendEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if arg.Before != nil {
		rows, err = q.db.Query(ctx, listFriendsBefore, arg.UserID, arg.Limit, arg.Before.At, arg.Before.ID)
	} else {
		rows, err = q.db.Query(ctx, listFriends, arg.UserID, arg.Limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.FriendEntry, 0, arg.Limit)
	for rows.Next() {
		var (
			e     model.FriendEntry
			since time.Time
		)
		if err := rows.Scan(&e.UserID, &e.Username, &since); err != nil {
			return nil, err
		}
		e.Since = since
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
