package repository

import (
	"context"

	"github.com/google/uuid"
)

// Role and permission names. Roles are scoped to one conversation.
const (
	RoleOwner  = "owner"
	RoleMember = "member"

	PermMessageSend  = "message.send"
	PermMemberInvite = "member.invite"
)

const ensureRole = `
INSERT INTO conversation_roles (id, conversation_id, name)
VALUES ($1, $2, $3)
ON CONFLICT (conversation_id, name) DO NOTHING
`

const ensureRolePermission = `
INSERT INTO role_permissions (role_id, perm_key, effect)
SELECT r.id, $3, 'allow'
FROM conversation_roles r
WHERE r.conversation_id = $1 AND r.name = $2
ON CONFLICT (role_id, perm_key) DO NOTHING
`

// EnsureConversationRoles creates the two default roles for a conversation
// with their permission grants. Safe to call more than once.
func (q *Queries) EnsureConversationRoles(ctx context.Context, conversationID uuid.UUID) error {
	type grant struct {
		role string
		perm string
	}
	roles := []string{RoleOwner, RoleMember}
	grants := []grant{
		{RoleOwner, PermMessageSend},
		{RoleOwner, PermMemberInvite},
		{RoleMember, PermMessageSend},
	}

	for _, name := range roles {
		if _, err := q.db.Exec(ctx, ensureRole, uuid.New(), conversationID, name); err != nil {
			return err
		}
	}
	for _, g := range grants {
		if _, err := q.db.Exec(ctx, ensureRolePermission, conversationID, g.role, g.perm); err != nil {
			return err
		}
	}
	return nil
}

const assignMemberRole = `
INSERT INTO conversation_member_roles (conversation_id, user_id, role_id)
SELECT $1, $2, r.id
FROM conversation_roles r
WHERE r.conversation_id = $1 AND r.name = $3
ON CONFLICT (conversation_id, user_id)
DO UPDATE SET role_id = EXCLUDED.role_id
`

// AssignMemberRole sets the user's role on the conversation by role name.
func (q *Queries) AssignMemberRole(ctx context.Context, conversationID, userID uuid.UUID, roleName string) error {
	_, err := q.db.Exec(ctx, assignMemberRole, conversationID, userID, roleName)
	return err
}

const getMemberRole = `
SELECT r.name
FROM conversation_member_roles mr
JOIN conversation_roles r ON r.id = mr.role_id
WHERE mr.conversation_id = $1 AND mr.user_id = $2
`

// GetMemberRole returns the user's role name on the conversation.
func (q *Queries) GetMemberRole(ctx context.Context, conversationID, userID uuid.UUID) (string, error) {
	var name string
	err := q.db.QueryRow(ctx, getMemberRole, conversationID, userID).Scan(&name)
	return name, notFound(err)
}
