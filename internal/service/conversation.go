package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"chat-backend/internal/model"
	"chat-backend/internal/repository"
)

// MaxContentLen bounds a single message's content.
const MaxContentLen = 4096

// ConversationService appends messages with per-conversation offsets and
// serves history and recent-conversation listings.
type ConversationService struct {
	queries *repository.Queries
	logger  *zap.Logger

	// Injectable functions for testing.
	beginTxFn       func(ctx context.Context) (txQueries, error)
	isMemberFn      func(ctx context.Context, qtx *repository.Queries, conversationID, userID uuid.UUID) (bool, error)
	getMessageFn    func(ctx context.Context, qtx *repository.Queries, messageID uuid.UUID) (model.MessageRecord, error)
	nextOffsetFn    func(ctx context.Context, qtx *repository.Queries, conversationID uuid.UUID) (int64, error)
	insertMessageFn func(ctx context.Context, qtx *repository.Queries, arg repository.InsertMessageParams) (model.MessageRecord, error)
	advanceFn       func(ctx context.Context, qtx *repository.Queries, conversationID uuid.UUID, offset int64, at time.Time) error
	listReceiversFn func(ctx context.Context, qtx *repository.Queries, conversationID, excluding uuid.UUID) ([]uuid.UUID, error)
	getUserFn       func(ctx context.Context, qtx *repository.Queries, id uuid.UUID) (repository.User, error)
	insertOutboxFn  func(ctx context.Context, qtx *repository.Queries, arg repository.InsertOutboxParams) error
	listMessagesFn  func(ctx context.Context, qtx *repository.Queries, arg repository.ListMessagesParams) ([]model.MessageRecord, error)
	listRecentFn    func(ctx context.Context, arg repository.ListRecentParams) ([]model.RecentConversation, error)
	nowFn           func() time.Time
	newIDFn         func() uuid.UUID
}

// NewConversationService creates a ConversationService over the shared pool.
func NewConversationService(db *pgxpool.Pool, logger *zap.Logger) *ConversationService {
	s := &ConversationService{
		queries: repository.New(db),
		logger:  logger,
		nowFn:   time.Now,
		newIDFn: uuid.New,
	}
	s.beginTxFn = poolBeginner(db)
	s.isMemberFn = func(ctx context.Context, qtx *repository.Queries, c, u uuid.UUID) (bool, error) {
		return qtx.IsConversationMember(ctx, c, u)
	}
	s.getMessageFn = func(ctx context.Context, qtx *repository.Queries, id uuid.UUID) (model.MessageRecord, error) {
		return qtx.GetMessageByID(ctx, id)
	}
	s.nextOffsetFn = func(ctx context.Context, qtx *repository.Queries, c uuid.UUID) (int64, error) {
		return qtx.NextMessageOffset(ctx, c)
	}
	s.insertMessageFn = func(ctx context.Context, qtx *repository.Queries, arg repository.InsertMessageParams) (model.MessageRecord, error) {
		return qtx.InsertMessage(ctx, arg)
	}
	s.advanceFn = func(ctx context.Context, qtx *repository.Queries, c uuid.UUID, off int64, at time.Time) error {
		return qtx.AdvanceConversation(ctx, c, off, at)
	}
	s.listReceiversFn = func(ctx context.Context, qtx *repository.Queries, c, excluding uuid.UUID) ([]uuid.UUID, error) {
		return qtx.ListReceivers(ctx, c, excluding)
	}
	s.getUserFn = func(ctx context.Context, qtx *repository.Queries, id uuid.UUID) (repository.User, error) {
		return qtx.GetUserByID(ctx, id)
	}
	s.insertOutboxFn = func(ctx context.Context, qtx *repository.Queries, arg repository.InsertOutboxParams) error {
		return qtx.InsertOutbox(ctx, arg)
	}
	s.listMessagesFn = func(ctx context.Context, qtx *repository.Queries, arg repository.ListMessagesParams) ([]model.MessageRecord, error) {
		return qtx.ListMessages(ctx, arg)
	}
	s.listRecentFn = func(ctx context.Context, arg repository.ListRecentParams) ([]model.RecentConversation, error) {
		return s.queries.ListRecent(ctx, arg)
	}
	return s
}

// SendMessage appends a message to the conversation. The offset assignment,
// message insert, pointer advance, and outbox enqueue commit atomically.
// A replayed message_id returns the existing record without consuming an
// offset or enqueueing a second event.
func (s *ConversationService) SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string, messageID uuid.UUID) (model.MessageRecord, error) {
	if content == "" {
		return model.MessageRecord{}, ErrEmptyContent
	}
	if len(content) > MaxContentLen {
		return model.MessageRecord{}, ErrContentTooLong
	}

	tx, err := s.beginTxFn(ctx)
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	ok, err := s.isMemberFn(ctx, tx.qtx, conversationID, senderID)
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return model.MessageRecord{}, ErrNotMember
	}

	// Duplicate detection precedes offset allocation so a replay never
	// burns an offset.
	existing, err := s.getMessageFn(ctx, tx.qtx, messageID)
	switch {
	case err == nil:
		s.logger.Info("duplicate message_id, returning existing record",
			zap.String("message_id", messageID.String()),
			zap.String("conversation_id", conversationID.String()),
		)
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return model.MessageRecord{}, fmt.Errorf("duplicate check: %w", err)
	}

	offset, err := s.nextOffsetFn(ctx, tx.qtx, conversationID)
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("assign offset: %w", err)
	}

	record, err := s.insertMessageFn(ctx, tx.qtx, repository.InsertMessageParams{
		ID:             messageID,
		ConversationID: conversationID,
		MessageOffset:  offset,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      s.nowFn().UTC(),
	})
	if err != nil {
		// A concurrent sender with the same message_id can pass the
		// duplicate check before the winner commits, then lose the insert
		// race on the primary key. Roll back, which undoes the counter
		// increment, and read the winner's row back.
		if repository.IsUniqueViolation(err) {
			s.rollback(ctx, tx)
			existing, lookupErr := s.getMessageFn(ctx, s.queries, messageID)
			if lookupErr != nil {
				return model.MessageRecord{}, fmt.Errorf("concurrent duplicate lookup: %w", lookupErr)
			}
			s.logger.Info("duplicate message_id, returning existing record",
				zap.String("message_id", messageID.String()),
				zap.String("conversation_id", conversationID.String()),
			)
			return existing, nil
		}
		return model.MessageRecord{}, fmt.Errorf("insert message: %w", err)
	}

	if err := s.advanceFn(ctx, tx.qtx, conversationID, offset, record.CreatedAt); err != nil {
		return model.MessageRecord{}, fmt.Errorf("advance conversation: %w", err)
	}

	receivers, err := s.listReceiversFn(ctx, tx.qtx, conversationID, senderID)
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("list receivers: %w", err)
	}

	sender, err := s.getUserFn(ctx, tx.qtx, senderID)
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("load sender: %w", err)
	}

	payload, err := model.EncodeFrame(model.TagChatMessageNew, model.ChatMessageNew{
		ConversationID: record.ConversationID,
		MessageID:      record.MessageID,
		MessageOffset:  record.MessageOffset,
		Content:        record.Content,
		Sender:         record.Sender,
		Username:       sender.Username,
		CreatedAt:      record.CreatedAt,
	})
	if err != nil {
		return model.MessageRecord{}, err
	}

	if err := s.insertOutboxFn(ctx, tx.qtx, repository.InsertOutboxParams{
		ID:           s.newIDFn(),
		EventType:    model.EventChatMessageNew,
		PartitionKey: &conversationID,
		Receivers:    receivers,
		Payload:      payload,
	}); err != nil {
		return model.MessageRecord{}, fmt.Errorf("enqueue outbox event: %w", err)
	}

	if err := tx.commit(ctx); err != nil {
		return model.MessageRecord{}, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("message sent",
		zap.String("message_id", record.MessageID.String()),
		zap.String("conversation_id", record.ConversationID.String()),
		zap.Int64("message_offset", record.MessageOffset),
	)
	return record, nil
}

// GetHistory returns one page of messages below the optional before offset,
// oldest-to-newest within the page.
func (s *ConversationService) GetHistory(ctx context.Context, userID, conversationID uuid.UUID, pageSize int32, before *int64) ([]model.MessageRecord, error) {
	if pageSize <= 0 {
		return []model.MessageRecord{}, nil
	}

	tx, err := s.beginTxFn(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	ok, err := s.isMemberFn(ctx, tx.qtx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, ErrNotMember
	}

	page, err := s.listMessagesFn(ctx, tx.qtx, repository.ListMessagesParams{
		ConversationID: conversationID,
		Limit:          pageSize,
		Before:         before,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	if err := tx.commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	// The query reads newest-first; the page contract is oldest-to-newest.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

// RecentConversations lists the user's conversations with activity, newest
// first, strictly after the optional cursor.
func (s *ConversationService) RecentConversations(ctx context.Context, userID uuid.UUID, pageSize int32, after *model.TimeCursor) ([]model.RecentConversation, error) {
	if pageSize <= 0 {
		return []model.RecentConversation{}, nil
	}
	out, err := s.listRecentFn(ctx, repository.ListRecentParams{
		UserID: userID,
		Limit:  pageSize,
		After:  after,
	})
	if err != nil {
		return nil, fmt.Errorf("list recent conversations: %w", err)
	}
	return out, nil
}

func (s *ConversationService) rollback(ctx context.Context, tx txQueries) {
	if err := tx.rollback(ctx); err != nil {
		s.logger.Debug("rollback", zap.Error(err))
	}
}
