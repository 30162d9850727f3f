package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"chat-backend/internal/model"
	"chat-backend/internal/repository"
)

// inviteFanoutLimit bounds the member page loaded for invite fan-out.
const inviteFanoutLimit = 256

// GroupResult identifies a created (or previously created) group.
type GroupResult struct {
	GroupID        uuid.UUID
	ConversationID uuid.UUID
}

// RelationshipService creates friendships and groups idempotently, manages
// per-conversation roles, and enqueues the corresponding fan-out events.
type RelationshipService struct {
	queries *repository.Queries
	logger  *zap.Logger

	// Injectable functions for testing.
	beginTxFn            func(ctx context.Context) (txQueries, error)
	insertConversationFn func(ctx context.Context, qtx *repository.Queries, id uuid.UUID, kind model.ConversationKind) error
	insertCounterFn      func(ctx context.Context, qtx *repository.Queries, conversationID uuid.UUID) error
	insertMemberFn       func(ctx context.Context, qtx *repository.Queries, conversationID, userID uuid.UUID) error
	insertFriendshipFn   func(ctx context.Context, qtx *repository.Queries, arg repository.InsertFriendshipParams) error
	insertDirectPairFn   func(ctx context.Context, qtx *repository.Queries, userMin, userMax, conversationID uuid.UUID) error
	insertGroupFn        func(ctx context.Context, qtx *repository.Queries, arg repository.InsertGroupParams) (repository.Group, error)
	ensureRolesFn        func(ctx context.Context, qtx *repository.Queries, conversationID uuid.UUID) error
	assignRoleFn         func(ctx context.Context, qtx *repository.Queries, conversationID, userID uuid.UUID, roleName string) error
	listMembersFn        func(ctx context.Context, qtx *repository.Queries, arg repository.ListMembersParams) ([]model.MemberEntry, error)
	insertOutboxFn       func(ctx context.Context, qtx *repository.Queries, arg repository.InsertOutboxParams) error
	getUserFn            func(ctx context.Context, qtx *repository.Queries, id uuid.UUID) (repository.User, error)

	getDirectPairFn    func(ctx context.Context, userMin, userMax uuid.UUID) (uuid.UUID, error)
	insertGroupClaimFn func(ctx context.Context, ownerID uuid.UUID, key string, proposedGroupID uuid.UUID) error
	getGroupClaimFn    func(ctx context.Context, ownerID uuid.UUID, key string) (repository.GroupClaim, error)
	markClaimDoneFn    func(ctx context.Context, ownerID uuid.UUID, key string, conversationID uuid.UUID) error
	markClaimFailedFn  func(ctx context.Context, ownerID uuid.UUID, key string) error
	getGroupFn         func(ctx context.Context, id uuid.UUID) (repository.Group, error)
	getMemberRoleFn    func(ctx context.Context, conversationID, userID uuid.UUID) (string, error)
	isMemberFn         func(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	listFriendsFn      func(ctx context.Context, arg repository.ListFriendsParams) ([]model.FriendEntry, error)
	listGroupsFn       func(ctx context.Context, arg repository.ListGroupsParams) ([]model.GroupEntry, error)
	newIDFn            func() uuid.UUID
}

// NewRelationshipService creates a RelationshipService over the shared pool.
func NewRelationshipService(db *pgxpool.Pool, logger *zap.Logger) *RelationshipService {
	s := &RelationshipService{
		queries: repository.New(db),
		logger:  logger,
		newIDFn: uuid.New,
	}
	s.beginTxFn = poolBeginner(db)
	s.insertConversationFn = func(ctx context.Context, qtx *repository.Queries, id uuid.UUID, kind model.ConversationKind) error {
		return qtx.InsertConversation(ctx, id, kind)
	}
	s.insertCounterFn = func(ctx context.Context, qtx *repository.Queries, c uuid.UUID) error {
		return qtx.InsertConversationCounter(ctx, c)
	}
	s.insertMemberFn = func(ctx context.Context, qtx *repository.Queries, c, u uuid.UUID) error {
		return qtx.InsertConversationMember(ctx, c, u)
	}
	s.insertFriendshipFn = func(ctx context.Context, qtx *repository.Queries, arg repository.InsertFriendshipParams) error {
		return qtx.InsertFriendship(ctx, arg)
	}
	s.insertDirectPairFn = func(ctx context.Context, qtx *repository.Queries, a, b, c uuid.UUID) error {
		return qtx.InsertDirectPair(ctx, a, b, c)
	}
	s.insertGroupFn = func(ctx context.Context, qtx *repository.Queries, arg repository.InsertGroupParams) (repository.Group, error) {
		return qtx.InsertGroup(ctx, arg)
	}
	s.ensureRolesFn = func(ctx context.Context, qtx *repository.Queries, c uuid.UUID) error {
		return qtx.EnsureConversationRoles(ctx, c)
	}
	s.assignRoleFn = func(ctx context.Context, qtx *repository.Queries, c, u uuid.UUID, role string) error {
		return qtx.AssignMemberRole(ctx, c, u, role)
	}
	s.listMembersFn = func(ctx context.Context, qtx *repository.Queries, arg repository.ListMembersParams) ([]model.MemberEntry, error) {
		return qtx.ListMembers(ctx, arg)
	}
	s.insertOutboxFn = func(ctx context.Context, qtx *repository.Queries, arg repository.InsertOutboxParams) error {
		return qtx.InsertOutbox(ctx, arg)
	}
	s.getUserFn = func(ctx context.Context, qtx *repository.Queries, id uuid.UUID) (repository.User, error) {
		return qtx.GetUserByID(ctx, id)
	}
	s.getDirectPairFn = func(ctx context.Context, a, b uuid.UUID) (uuid.UUID, error) {
		return s.queries.GetDirectPair(ctx, a, b)
	}
	s.insertGroupClaimFn = func(ctx context.Context, owner uuid.UUID, key string, proposed uuid.UUID) error {
		return s.queries.InsertGroupClaim(ctx, owner, key, proposed)
	}
	s.getGroupClaimFn = func(ctx context.Context, owner uuid.UUID, key string) (repository.GroupClaim, error) {
		return s.queries.GetGroupClaim(ctx, owner, key)
	}
	s.markClaimDoneFn = func(ctx context.Context, owner uuid.UUID, key string, c uuid.UUID) error {
		return s.queries.MarkGroupClaimSucceeded(ctx, owner, key, c)
	}
	s.markClaimFailedFn = func(ctx context.Context, owner uuid.UUID, key string) error {
		return s.queries.MarkGroupClaimFailed(ctx, owner, key)
	}
	s.getGroupFn = func(ctx context.Context, id uuid.UUID) (repository.Group, error) {
		return s.queries.GetGroup(ctx, id)
	}
	s.getMemberRoleFn = func(ctx context.Context, c, u uuid.UUID) (string, error) {
		return s.queries.GetMemberRole(ctx, c, u)
	}
	s.isMemberFn = func(ctx context.Context, c, u uuid.UUID) (bool, error) {
		return s.queries.IsConversationMember(ctx, c, u)
	}
	s.listFriendsFn = func(ctx context.Context, arg repository.ListFriendsParams) ([]model.FriendEntry, error) {
		return s.queries.ListFriends(ctx, arg)
	}
	s.listGroupsFn = func(ctx context.Context, arg repository.ListGroupsParams) ([]model.GroupEntry, error) {
		return s.queries.ListGroupsForUser(ctx, arg)
	}
	return s
}

// orderPair returns the pair in (min, max) order by UUID bytes.
func orderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) < 0 {
		return a, b
	}
	return b, a
}

// AddFriend creates the friendship between me and other, or returns the
// existing direct conversation. The friendship row is the idempotency
// token: the insert winner writes all state in one transaction, losers
// only read the direct pair back.
func (s *RelationshipService) AddFriend(ctx context.Context, me, other uuid.UUID) (uuid.UUID, error) {
	if me == other {
		return uuid.Nil, ErrSelfFriendship
	}
	userMin, userMax := orderPair(me, other)

	conversationID := s.newIDFn()
	tx, err := s.beginTxFn(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	// Lock order: conversation rows before the friendship claim.
	if err := s.insertConversationFn(ctx, tx.qtx, conversationID, model.KindDirect); err != nil {
		return uuid.Nil, fmt.Errorf("create conversation: %w", err)
	}
	if err := s.insertCounterFn(ctx, tx.qtx, conversationID); err != nil {
		return uuid.Nil, fmt.Errorf("create counter: %w", err)
	}
	if err := s.insertMemberFn(ctx, tx.qtx, conversationID, me); err != nil {
		return uuid.Nil, fmt.Errorf("add member: %w", err)
	}
	if err := s.insertMemberFn(ctx, tx.qtx, conversationID, other); err != nil {
		return uuid.Nil, fmt.Errorf("add member: %w", err)
	}

	err = s.insertFriendshipFn(ctx, tx.qtx, repository.InsertFriendshipParams{
		UserMin:     userMin,
		UserMax:     userMax,
		RequestedBy: me,
	})
	if err != nil {
		if !repository.IsUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("claim friendship: %w", err)
		}
		// Lost the race: drop our writes and read the winner's result.
		s.rollback(ctx, tx)
		existing, err := s.getDirectPairFn(ctx, userMin, userMax)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return uuid.Nil, ErrInconsistentClaim
			}
			return uuid.Nil, fmt.Errorf("read direct pair: %w", err)
		}
		s.logger.Info("friendship already exists",
			zap.String("conversation_id", existing.String()),
		)
		return existing, nil
	}

	if err := s.insertDirectPairFn(ctx, tx.qtx, userMin, userMax, conversationID); err != nil {
		return uuid.Nil, fmt.Errorf("create direct pair: %w", err)
	}

	initiator, err := s.getUserFn(ctx, tx.qtx, me)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load initiator: %w", err)
	}
	payload, err := model.EncodeFrame(model.TagFriendshipNew, model.FriendshipNew{
		ConversationID: conversationID,
		Other:          me,
		Username:       initiator.Username,
	})
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.insertOutboxFn(ctx, tx.qtx, repository.InsertOutboxParams{
		ID:        s.newIDFn(),
		EventType: model.EventFriendshipNew,
		Receivers: []uuid.UUID{other},
		Payload:   payload,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue outbox event: %w", err)
	}

	if err := tx.commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("friendship created",
		zap.String("conversation_id", conversationID.String()),
		zap.String("requested_by", me.String()),
	)
	return conversationID, nil
}

// CreateGroup creates a group under an (owner, idempotency_key) claim. The
// claim winner creates all state; losers read the cached result or repair
// it from the group row.
func (s *RelationshipService) CreateGroup(ctx context.Context, owner uuid.UUID, name, description, idempotencyKey string) (GroupResult, error) {
	if name == "" {
		return GroupResult{}, ErrEmptyGroupName
	}
	if idempotencyKey == "" {
		return GroupResult{}, ErrEmptyIdempotencyKey
	}

	candidate := s.newIDFn()
	if err := s.insertGroupClaimFn(ctx, owner, idempotencyKey, candidate); err != nil {
		if !repository.IsUniqueViolation(err) {
			return GroupResult{}, fmt.Errorf("claim group creation: %w", err)
		}
		return s.resolveExistingClaim(ctx, owner, idempotencyKey)
	}

	result, err := s.createGroupTx(ctx, owner, name, description, candidate)
	if err != nil {
		if markErr := s.markClaimFailedFn(ctx, owner, idempotencyKey); markErr != nil {
			s.logger.Warn("failed to mark group claim failed", zap.Error(markErr))
		}
		return GroupResult{}, err
	}

	// Best-effort cache; the group row is the source of truth.
	if err := s.markClaimDoneFn(ctx, owner, idempotencyKey, result.ConversationID); err != nil {
		s.logger.Warn("failed to mark group claim succeeded", zap.Error(err))
	}

	s.logger.Info("group created",
		zap.String("group_id", result.GroupID.String()),
		zap.String("conversation_id", result.ConversationID.String()),
	)
	return result, nil
}

func (s *RelationshipService) createGroupTx(ctx context.Context, owner uuid.UUID, name, description string, groupID uuid.UUID) (GroupResult, error) {
	conversationID := s.newIDFn()
	tx, err := s.beginTxFn(ctx)
	if err != nil {
		return GroupResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	// Lock order: conversation, then group, then roles.
	if err := s.insertConversationFn(ctx, tx.qtx, conversationID, model.KindGroup); err != nil {
		return GroupResult{}, fmt.Errorf("create conversation: %w", err)
	}
	if err := s.insertCounterFn(ctx, tx.qtx, conversationID); err != nil {
		return GroupResult{}, fmt.Errorf("create counter: %w", err)
	}
	if _, err := s.insertGroupFn(ctx, tx.qtx, repository.InsertGroupParams{
		ID:             groupID,
		OwnerID:        owner,
		Name:           name,
		Description:    description,
		ConversationID: conversationID,
	}); err != nil {
		return GroupResult{}, fmt.Errorf("create group: %w", err)
	}
	if err := s.insertMemberFn(ctx, tx.qtx, conversationID, owner); err != nil {
		return GroupResult{}, fmt.Errorf("add owner member: %w", err)
	}
	if err := s.ensureRolesFn(ctx, tx.qtx, conversationID); err != nil {
		return GroupResult{}, fmt.Errorf("ensure roles: %w", err)
	}
	if err := s.assignRoleFn(ctx, tx.qtx, conversationID, owner, repository.RoleOwner); err != nil {
		return GroupResult{}, fmt.Errorf("assign owner role: %w", err)
	}

	if err := tx.commit(ctx); err != nil {
		return GroupResult{}, fmt.Errorf("commit: %w", err)
	}
	return GroupResult{GroupID: groupID, ConversationID: conversationID}, nil
}

func (s *RelationshipService) resolveExistingClaim(ctx context.Context, owner uuid.UUID, key string) (GroupResult, error) {
	claim, err := s.getGroupClaimFn(ctx, owner, key)
	if err != nil {
		return GroupResult{}, fmt.Errorf("read group claim: %w", err)
	}

	switch {
	case claim.Status == repository.ClaimFailed:
		return GroupResult{}, ErrGroupClaimFailed
	case claim.Status == repository.ClaimSucceeded && claim.ConversationID != nil:
		return GroupResult{GroupID: claim.ProposedGroupID, ConversationID: *claim.ConversationID}, nil
	}

	// Pending, or succeeded without the cached conversation: fall back to
	// the group row.
	group, err := s.getGroupFn(ctx, claim.ProposedGroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return GroupResult{}, ErrInconsistentClaim
		}
		return GroupResult{}, fmt.Errorf("read group: %w", err)
	}
	if err := s.markClaimDoneFn(ctx, owner, key, group.ConversationID); err != nil {
		s.logger.Warn("failed to repair group claim", zap.Error(err))
	}
	return GroupResult{GroupID: group.ID, ConversationID: group.ConversationID}, nil
}

// InviteToGroup adds guest to the group. Only the owner may invite. Two
// events are enqueued: groupnew for the guest and groupmembernew for the
// members excluding the host.
func (s *RelationshipService) InviteToGroup(ctx context.Context, groupID, host, guest uuid.UUID) error {
	group, err := s.getGroupFn(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrGroupNotFound
		}
		return fmt.Errorf("read group: %w", err)
	}

	role, err := s.getMemberRoleFn(ctx, group.ConversationID, host)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotOwner
		}
		return fmt.Errorf("read host role: %w", err)
	}
	if role != repository.RoleOwner {
		return ErrNotOwner
	}

	tx, err := s.beginTxFn(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := s.insertMemberFn(ctx, tx.qtx, group.ConversationID, guest); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if err := s.assignRoleFn(ctx, tx.qtx, group.ConversationID, guest, repository.RoleMember); err != nil {
		return fmt.Errorf("assign member role: %w", err)
	}

	guestUser, err := s.getUserFn(ctx, tx.qtx, guest)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load guest: %w", err)
	}

	members, err := s.listMembersFn(ctx, tx.qtx, repository.ListMembersParams{
		ConversationID: group.ConversationID,
		Limit:          inviteFanoutLimit,
	})
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	receivers := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if m.UserID != host {
			receivers = append(receivers, m.UserID)
		}
	}

	groupNew, err := model.EncodeFrame(model.TagGroupNew, model.GroupNew{
		ConversationID: group.ConversationID,
		GroupID:        group.ID,
		GroupName:      group.Name,
	})
	if err != nil {
		return err
	}
	memberNew, err := model.EncodeFrame(model.TagGroupMemberNew, model.GroupMemberNew{
		ConversationID: group.ConversationID,
		GroupID:        group.ID,
		MemberID:       guest,
		Username:       guestUser.Username,
	})
	if err != nil {
		return err
	}

	conversationID := group.ConversationID
	if err := s.insertOutboxFn(ctx, tx.qtx, repository.InsertOutboxParams{
		ID:           s.newIDFn(),
		EventType:    model.EventGroupNew,
		PartitionKey: &conversationID,
		Receivers:    []uuid.UUID{guest},
		Payload:      groupNew,
	}); err != nil {
		return fmt.Errorf("enqueue group.new: %w", err)
	}
	if err := s.insertOutboxFn(ctx, tx.qtx, repository.InsertOutboxParams{
		ID:           s.newIDFn(),
		EventType:    model.EventGroupMemberNew,
		PartitionKey: &conversationID,
		Receivers:    receivers,
		Payload:      memberNew,
	}); err != nil {
		return fmt.Errorf("enqueue group.member.new: %w", err)
	}

	if err := tx.commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("member invited",
		zap.String("group_id", group.ID.String()),
		zap.String("member_id", guest.String()),
	)
	return nil
}

// ListFriends returns one page of the user's friends below the optional
// cursor string.
func (s *RelationshipService) ListFriends(ctx context.Context, userID uuid.UUID, pageSize int32, cursor string) ([]model.FriendEntry, error) {
	if pageSize <= 0 {
		return []model.FriendEntry{}, nil
	}
	before, err := parseOptionalCursor(cursor)
	if err != nil {
		return nil, err
	}
	out, err := s.listFriendsFn(ctx, repository.ListFriendsParams{
		UserID: userID,
		Limit:  pageSize,
		Before: before,
	})
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return out, nil
}

// ListGroups returns one page of the user's groups below the optional
// cursor string.
func (s *RelationshipService) ListGroups(ctx context.Context, userID uuid.UUID, pageSize int32, cursor string) ([]model.GroupEntry, error) {
	if pageSize <= 0 {
		return []model.GroupEntry{}, nil
	}
	before, err := parseOptionalCursor(cursor)
	if err != nil {
		return nil, err
	}
	out, err := s.listGroupsFn(ctx, repository.ListGroupsParams{
		UserID: userID,
		Limit:  pageSize,
		Before: before,
	})
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return out, nil
}

// ListGroupMembers returns one page of the group's members. The requester
// must be a member.
func (s *RelationshipService) ListGroupMembers(ctx context.Context, requester, groupID uuid.UUID, pageSize int32, cursor string) ([]model.MemberEntry, error) {
	if pageSize <= 0 {
		return []model.MemberEntry{}, nil
	}
	before, err := parseOptionalCursor(cursor)
	if err != nil {
		return nil, err
	}

	group, err := s.getGroupFn(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("read group: %w", err)
	}
	ok, err := s.isMemberFn(ctx, group.ConversationID, requester)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, ErrNotMember
	}

	out, err := s.listMembersFn(ctx, s.queries, repository.ListMembersParams{
		ConversationID: group.ConversationID,
		Limit:          pageSize,
		Before:         before,
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}

func parseOptionalCursor(cursor string) (*model.TimeCursor, error) {
	if cursor == "" {
		return nil, nil
	}
	c, err := model.ParseTimeCursor(cursor)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *RelationshipService) rollback(ctx context.Context, tx txQueries) {
	if err := tx.rollback(ctx); err != nil {
		s.logger.Debug("rollback", zap.Error(err))
	}
}
