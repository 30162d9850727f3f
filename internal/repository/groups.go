package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chat-backend/internal/model"
)

// Group is a row of the groups table.
type Group struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	Name           string
	Description    string
	ConversationID uuid.UUID
	CreatedAt      time.Time
}

// Group creation claim states.
const (
	ClaimPending   = "pending"
	ClaimSucceeded = "succeeded"
	ClaimFailed    = "failed"
)

// GroupClaim is the idempotency record for group creation, unique on
// (owner_id, idempotency_key).
type GroupClaim struct {
	OwnerID         uuid.UUID
	IdempotencyKey  string
	ProposedGroupID uuid.UUID
	Status          string
	ConversationID  *uuid.UUID
}

// InsertGroupParams carries a new group row.
type InsertGroupParams struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	Name           string
	Description    string
	ConversationID uuid.UUID
}

const insertGroup = `
INSERT INTO groups (id, owner_id, name, description, conversation_id, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING id, owner_id, name, description, conversation_id, created_at
`

// InsertGroup creates the group row inside the winner's transaction.
func (q *Queries) InsertGroup(ctx context.Context, arg InsertGroupParams) (Group, error) {
	var g Group
	err := q.db.QueryRow(ctx, insertGroup, arg.ID, arg.OwnerID, arg.Name, arg.Description, arg.ConversationID).
		Scan(&g.ID, &g.OwnerID, &g.Name, &g.Description, &g.ConversationID, &g.CreatedAt)
	return g, err
}

const getGroup = `
SELECT id, owner_id, name, description, conversation_id, created_at
FROM groups WHERE id = $1
`

// GetGroup looks a group up by id.
func (q *Queries) GetGroup(ctx context.Context, id uuid.UUID) (Group, error) {
	var g Group
	err := q.db.QueryRow(ctx, getGroup, id).
		Scan(&g.ID, &g.OwnerID, &g.Name, &g.Description, &g.ConversationID, &g.CreatedAt)
	return g, notFound(err)
}

const insertGroupClaim = `
INSERT INTO group_creation_claims (owner_id, idempotency_key, proposed_group_id, status)
VALUES ($1, $2, $3, 'pending')
`

// InsertGroupClaim races on (owner_id, idempotency_key). The winner goes on
// to create the group; losers read the claim back.
func (q *Queries) InsertGroupClaim(ctx context.Context, ownerID uuid.UUID, key string, proposedGroupID uuid.UUID) error {
	_, err := q.db.Exec(ctx, insertGroupClaim, ownerID, key, proposedGroupID)
	return err
}

const getGroupClaim = `
SELECT owner_id, idempotency_key, proposed_group_id, status, conversation_id
FROM group_creation_claims
WHERE owner_id = $1 AND idempotency_key = $2
`

// GetGroupClaim reads the claim record for a loser of the insert race.
func (q *Queries) GetGroupClaim(ctx context.Context, ownerID uuid.UUID, key string) (GroupClaim, error) {
	var c GroupClaim
	err := q.db.QueryRow(ctx, getGroupClaim, ownerID, key).
		Scan(&c.OwnerID, &c.IdempotencyKey, &c.ProposedGroupID, &c.Status, &c.ConversationID)
	return c, notFound(err)
}

const markGroupClaimSucceeded = `
UPDATE group_creation_claims
SET status = 'succeeded', conversation_id = $3
WHERE owner_id = $1 AND idempotency_key = $2
`

// MarkGroupClaimSucceeded caches the result on the claim. Best-effort; the
// group row stays the source of truth.
func (q *Queries) MarkGroupClaimSucceeded(ctx context.Context, ownerID uuid.UUID, key string, conversationID uuid.UUID) error {
	_, err := q.db.Exec(ctx, markGroupClaimSucceeded, ownerID, key, conversationID)
	return err
}

const markGroupClaimFailed = `
UPDATE group_creation_claims
SET status = 'failed'
WHERE owner_id = $1 AND idempotency_key = $2
`

// MarkGroupClaimFailed marks a claim terminally failed.
func (q *Queries) MarkGroupClaimFailed(ctx context.Context, ownerID uuid.UUID, key string) error {
	_, err := q.db.Exec(ctx, markGroupClaimFailed, ownerID, key)
	return err
}

// ListGroupsParams pages a user's groups by (created_at DESC, id DESC).
type ListGroupsParams struct {
	UserID uuid.UUID
	Limit  int32
	Before *model.TimeCursor
}

const listGroupsForUser = `
SELECT g.id, g.name, g.description, g.conversation_id, g.created_at
FROM groups g
JOIN conversation_members m ON m.conversation_id = g.conversation_id AND m.user_id = $1
ORDER BY g.created_at DESC, g.id DESC
LIMIT $2
`

const listGroupsForUserBefore = `
SELECT g.id, g.name, g.description, g.conversation_id, g.created_at
FROM groups g
JOIN conversation_members m ON m.conversation_id = g.conversation_id AND m.user_id = $1
WHERE (g.created_at, g.id) < ($3, $4)
ORDER BY g.created_at DESC, g.id DESC
LIMIT $2
`

// ListGroupsForUser returns one page of the groups the user belongs to.
func (q *Queries) ListGroupsForUser(ctx context.Context, arg ListGroupsParams) ([]model.GroupEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if arg.Before != nil {
		rows, err = q.db.Query(ctx, listGroupsForUserBefore, arg.UserID, arg.Limit, arg.Before.At, arg.Before.ID)
	} else {
		rows, err = q.db.Query(ctx, listGroupsForUser, arg.UserID, arg.Limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.GroupEntry, 0, arg.Limit)
	for rows.Next() {
		var e model.GroupEntry
		if err := rows.Scan(&e.GroupID, &e.Name, &e.Description, &e.ConversationID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListMembersParams pages a conversation's members by (joined_at DESC, user_id DESC).
type ListMembersParams struct {
	ConversationID uuid.UUID
	Limit          int32
	Before         *model.TimeCursor
}

const listMembers = `
SELECT m.user_id, u.username, m.joined_at
FROM conversation_members m
JOIN users u ON u.id = m.user_id
WHERE m.conversation_id = $1
ORDER BY m.joined_at DESC, m.user_id DESC
LIMIT $2
`

const listMembersBefore = `
SELECT m.user_id, u.username, m.joined_at
FROM conversation_members m
JOIN users u ON u.id = m.user_id
WHERE m.conversation_id = $1 AND (m.joined_at, m.user_id) < ($3, $4)
ORDER BY m.joined_at DESC, m.user_id DESC
LIMIT $2
`

// ListMembers returns one page of a conversation's members with usernames.
func (q *Queries) ListMembers(ctx context.Context, arg ListMembersParams) ([]model.MemberEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if arg.Before != nil {
		rows, err = q.db.Query(ctx, listMembersBefore, arg.ConversationID, arg.Limit, arg.Before.At, arg.Before.ID)
	} else {
		rows, err = q.db.Query(ctx, listMembers, arg.ConversationID, arg.Limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.MemberEntry, 0, arg.Limit)
	for rows.Next() {
		var e model.MemberEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.JoinedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
