package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-backend/internal/model"
	"chat-backend/internal/repository"
)

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505"}
}

func newTestRelationshipService(committed, rolledBack *bool) *RelationshipService {
	s := &RelationshipService{
		logger:  zap.NewNop(),
		newIDFn: uuid.New,
	}
	s.beginTxFn = stubTx(committed, rolledBack)
	s.insertConversationFn = func(context.Context, *repository.Queries, uuid.UUID, model.ConversationKind) error {
		return nil
	}
	s.insertCounterFn = func(context.Context, *repository.Queries, uuid.UUID) error { return nil }
	s.insertMemberFn = func(context.Context, *repository.Queries, uuid.UUID, uuid.UUID) error { return nil }
	s.insertFriendshipFn = func(context.Context, *repository.Queries, repository.InsertFriendshipParams) error {
		return nil
	}
	s.insertDirectPairFn = func(context.Context, *repository.Queries, uuid.UUID, uuid.UUID, uuid.UUID) error {
		return nil
	}
	s.insertGroupFn = func(_ context.Context, _ *repository.Queries, arg repository.InsertGroupParams) (repository.Group, error) {
		return repository.Group{
			ID:             arg.ID,
			OwnerID:        arg.OwnerID,
			Name:           arg.Name,
			Description:    arg.Description,
			ConversationID: arg.ConversationID,
		}, nil
	}
	s.ensureRolesFn = func(context.Context, *repository.Queries, uuid.UUID) error { return nil }
	s.assignRoleFn = func(context.Context, *repository.Queries, uuid.UUID, uuid.UUID, string) error {
		return nil
	}
	s.listMembersFn = func(context.Context, *repository.Queries, repository.ListMembersParams) ([]model.MemberEntry, error) {
		return nil, nil
	}
	s.insertOutboxFn = func(context.Context, *repository.Queries, repository.InsertOutboxParams) error {
		return nil
	}
	s.getUserFn = func(_ context.Context, _ *repository.Queries, id uuid.UUID) (repository.User, error) {
		return repository.User{ID: id, Username: "alice", IsActive: true}, nil
	}
	s.getDirectPairFn = func(context.Context, uuid.UUID, uuid.UUID) (uuid.UUID, error) {
		return uuid.Nil, repository.ErrNotFound
	}
	s.insertGroupClaimFn = func(context.Context, uuid.UUID, string, uuid.UUID) error { return nil }
	s.getGroupClaimFn = func(context.Context, uuid.UUID, string) (repository.GroupClaim, error) {
		return repository.GroupClaim{}, repository.ErrNotFound
	}
	s.markClaimDoneFn = func(context.Context, uuid.UUID, string, uuid.UUID) error { return nil }
	s.markClaimFailedFn = func(context.Context, uuid.UUID, string) error { return nil }
	s.getGroupFn = func(context.Context, uuid.UUID) (repository.Group, error) {
		return repository.Group{}, repository.ErrNotFound
	}
	s.getMemberRoleFn = func(context.Context, uuid.UUID, uuid.UUID) (string, error) {
		return "", repository.ErrNotFound
	}
	s.isMemberFn = func(context.Context, uuid.UUID, uuid.UUID) (bool, error) { return true, nil }
	s.listFriendsFn = func(context.Context, repository.ListFriendsParams) ([]model.FriendEntry, error) {
		return nil, nil
	}
	s.listGroupsFn = func(context.Context, repository.ListGroupsParams) ([]model.GroupEntry, error) {
		return nil, nil
	}
	return s
}

func TestAddFriend_Self(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	me := uuid.New()
	_, err := s.AddFriend(context.Background(), me, me)
	assert.ErrorIs(t, err, ErrSelfFriendship)
}

func TestAddFriend_Winner(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	me := uuid.New()
	other := uuid.New()

	var friendship repository.InsertFriendshipParams
	s.insertFriendshipFn = func(_ context.Context, _ *repository.Queries, arg repository.InsertFriendshipParams) error {
		friendship = arg
		return nil
	}
	var outbox repository.InsertOutboxParams
	s.insertOutboxFn = func(_ context.Context, _ *repository.Queries, arg repository.InsertOutboxParams) error {
		outbox = arg
		return nil
	}

	conversationID, err := s.AddFriend(context.Background(), me, other)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, conversationID)
	assert.True(t, committed)

	// The claim is stored in canonical (min, max) order.
	wantMin, wantMax := orderPair(me, other)
	assert.Equal(t, wantMin, friendship.UserMin)
	assert.Equal(t, wantMax, friendship.UserMax)
	assert.Equal(t, me, friendship.RequestedBy)

	assert.Equal(t, model.EventFriendshipNew, outbox.EventType)
	assert.Equal(t, []uuid.UUID{other}, outbox.Receivers)
	assert.Nil(t, outbox.PartitionKey)

	frame, err := model.DecodeFrame(outbox.Payload)
	require.NoError(t, err)
	assert.Equal(t, model.TagFriendshipNew, frame.Type)
}

func TestAddFriend_LoserReadsExistingPair(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	existing := uuid.New()
	s.insertFriendshipFn = func(context.Context, *repository.Queries, repository.InsertFriendshipParams) error {
		return uniqueViolation()
	}
	s.getDirectPairFn = func(context.Context, uuid.UUID, uuid.UUID) (uuid.UUID, error) {
		return existing, nil
	}

	conversationID, err := s.AddFriend(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, existing, conversationID)
	assert.False(t, committed)
	assert.True(t, rolledBack)
}

func TestAddFriend_LoserWithoutPair(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	s.insertFriendshipFn = func(context.Context, *repository.Queries, repository.InsertFriendshipParams) error {
		return uniqueViolation()
	}

	_, err := s.AddFriend(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrInconsistentClaim)
}

func TestCreateGroup_Validation(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	_, err := s.CreateGroup(context.Background(), uuid.New(), "", "", "key")
	assert.ErrorIs(t, err, ErrEmptyGroupName)

	_, err = s.CreateGroup(context.Background(), uuid.New(), "team", "", "")
	assert.ErrorIs(t, err, ErrEmptyIdempotencyKey)
}

func TestCreateGroup_Winner(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	owner := uuid.New()

	var assignedRoles []string
	s.assignRoleFn = func(_ context.Context, _ *repository.Queries, _ uuid.UUID, _ uuid.UUID, role string) error {
		assignedRoles = append(assignedRoles, role)
		return nil
	}
	var markedDone bool
	s.markClaimDoneFn = func(context.Context, uuid.UUID, string, uuid.UUID) error {
		markedDone = true
		return nil
	}

	result, err := s.CreateGroup(context.Background(), owner, "team", "the team", "key-1")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.GroupID)
	assert.NotEqual(t, uuid.Nil, result.ConversationID)
	assert.True(t, committed)
	assert.True(t, markedDone)
	assert.Equal(t, []string{repository.RoleOwner}, assignedRoles)
}

func TestCreateGroup_TxFailureMarksClaimFailed(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	s.insertGroupFn = func(context.Context, *repository.Queries, repository.InsertGroupParams) (repository.Group, error) {
		return repository.Group{}, assert.AnError
	}
	var markedFailed bool
	s.markClaimFailedFn = func(context.Context, uuid.UUID, string) error {
		markedFailed = true
		return nil
	}

	_, err := s.CreateGroup(context.Background(), uuid.New(), "team", "", "key-1")
	require.Error(t, err)
	assert.True(t, markedFailed)
	assert.False(t, committed)
}

func TestCreateGroup_LoserSucceededClaim(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	groupID := uuid.New()
	conversationID := uuid.New()

	s.insertGroupClaimFn = func(context.Context, uuid.UUID, string, uuid.UUID) error {
		return uniqueViolation()
	}
	s.getGroupClaimFn = func(context.Context, uuid.UUID, string) (repository.GroupClaim, error) {
		return repository.GroupClaim{
			ProposedGroupID: groupID,
			Status:          repository.ClaimSucceeded,
			ConversationID:  &conversationID,
		}, nil
	}

	result, err := s.CreateGroup(context.Background(), uuid.New(), "team", "", "key-1")
	require.NoError(t, err)
	assert.Equal(t, groupID, result.GroupID)
	assert.Equal(t, conversationID, result.ConversationID)
	assert.False(t, committed)
}

func TestCreateGroup_LoserFailedClaim(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	s.insertGroupClaimFn = func(context.Context, uuid.UUID, string, uuid.UUID) error {
		return uniqueViolation()
	}
	s.getGroupClaimFn = func(context.Context, uuid.UUID, string) (repository.GroupClaim, error) {
		return repository.GroupClaim{Status: repository.ClaimFailed}, nil
	}

	_, err := s.CreateGroup(context.Background(), uuid.New(), "team", "", "key-1")
	assert.ErrorIs(t, err, ErrGroupClaimFailed)
}

func TestCreateGroup_LoserPendingRepairsFromGroupRow(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	groupID := uuid.New()
	conversationID := uuid.New()

	s.insertGroupClaimFn = func(context.Context, uuid.UUID, string, uuid.UUID) error {
		return uniqueViolation()
	}
	s.getGroupClaimFn = func(context.Context, uuid.UUID, string) (repository.GroupClaim, error) {
		return repository.GroupClaim{ProposedGroupID: groupID, Status: repository.ClaimPending}, nil
	}
	s.getGroupFn = func(_ context.Context, id uuid.UUID) (repository.Group, error) {
		require.Equal(t, groupID, id)
		return repository.Group{ID: groupID, ConversationID: conversationID}, nil
	}
	var repaired bool
	s.markClaimDoneFn = func(context.Context, uuid.UUID, string, uuid.UUID) error {
		repaired = true
		return nil
	}

	result, err := s.CreateGroup(context.Background(), uuid.New(), "team", "", "key-1")
	require.NoError(t, err)
	assert.Equal(t, groupID, result.GroupID)
	assert.Equal(t, conversationID, result.ConversationID)
	assert.True(t, repaired)
}

func TestCreateGroup_LoserPendingWithoutGroupRow(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	s.insertGroupClaimFn = func(context.Context, uuid.UUID, string, uuid.UUID) error {
		return uniqueViolation()
	}
	s.getGroupClaimFn = func(context.Context, uuid.UUID, string) (repository.GroupClaim, error) {
		return repository.GroupClaim{ProposedGroupID: uuid.New(), Status: repository.ClaimPending}, nil
	}

	_, err := s.CreateGroup(context.Background(), uuid.New(), "team", "", "key-1")
	assert.ErrorIs(t, err, ErrInconsistentClaim)
}

func TestInviteToGroup_GroupNotFound(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	err := s.InviteToGroup(context.Background(), uuid.New(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestInviteToGroup_NotOwner(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	s.getGroupFn = func(context.Context, uuid.UUID) (repository.Group, error) {
		return repository.Group{ID: uuid.New(), ConversationID: uuid.New()}, nil
	}
	s.getMemberRoleFn = func(context.Context, uuid.UUID, uuid.UUID) (string, error) {
		return repository.RoleMember, nil
	}

	err := s.InviteToGroup(context.Background(), uuid.New(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestInviteToGroup_EnqueuesBothEvents(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	groupID := uuid.New()
	conversationID := uuid.New()
	host := uuid.New()
	guest := uuid.New()
	bystander := uuid.New()

	s.getGroupFn = func(context.Context, uuid.UUID) (repository.Group, error) {
		return repository.Group{ID: groupID, Name: "team", ConversationID: conversationID}, nil
	}
	s.getMemberRoleFn = func(context.Context, uuid.UUID, uuid.UUID) (string, error) {
		return repository.RoleOwner, nil
	}
	s.listMembersFn = func(context.Context, *repository.Queries, repository.ListMembersParams) ([]model.MemberEntry, error) {
		return []model.MemberEntry{
			{UserID: host},
			{UserID: bystander},
			{UserID: guest},
		}, nil
	}

	var events []repository.InsertOutboxParams
	s.insertOutboxFn = func(_ context.Context, _ *repository.Queries, arg repository.InsertOutboxParams) error {
		events = append(events, arg)
		return nil
	}

	err := s.InviteToGroup(context.Background(), groupID, host, guest)
	require.NoError(t, err)
	assert.True(t, committed)
	require.Len(t, events, 2)

	assert.Equal(t, model.EventGroupNew, events[0].EventType)
	assert.Equal(t, []uuid.UUID{guest}, events[0].Receivers)
	require.NotNil(t, events[0].PartitionKey)
	assert.Equal(t, conversationID, *events[0].PartitionKey)

	assert.Equal(t, model.EventGroupMemberNew, events[1].EventType)
	assert.Equal(t, []uuid.UUID{bystander, guest}, events[1].Receivers)
	require.NotNil(t, events[1].PartitionKey)
	assert.Equal(t, conversationID, *events[1].PartitionKey)
}

func TestListGroupMembers_NotMember(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	s.getGroupFn = func(context.Context, uuid.UUID) (repository.Group, error) {
		return repository.Group{ID: uuid.New(), ConversationID: uuid.New()}, nil
	}
	s.isMemberFn = func(context.Context, uuid.UUID, uuid.UUID) (bool, error) { return false, nil }

	_, err := s.ListGroupMembers(context.Background(), uuid.New(), uuid.New(), 10, "")
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestListFriends_InvalidCursor(t *testing.T) {
	var committed, rolledBack bool
	s := newTestRelationshipService(&committed, &rolledBack)

	_, err := s.ListFriends(context.Background(), uuid.New(), 10, "not-a-cursor")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}
