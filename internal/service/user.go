package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"chat-backend/internal/repository"
)

// UserService resolves usernames to user ids.
type UserService struct {
	logger *zap.Logger

	getUserByUsernameFn func(ctx context.Context, username string) (repository.User, error)
}

// NewUserService creates a UserService over the shared pool.
func NewUserService(db *pgxpool.Pool, logger *zap.Logger) *UserService {
	queries := repository.New(db)
	return &UserService{
		logger: logger,
		getUserByUsernameFn: func(ctx context.Context, username string) (repository.User, error) {
			return queries.GetUserByUsername(ctx, username)
		},
	}
}

// Resolve maps an active user's username to its id.
func (s *UserService) Resolve(ctx context.Context, username string) (uuid.UUID, error) {
	user, err := s.getUserByUsernameFn(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return uuid.Nil, ErrUserNotFound
	}
	return user.ID, nil
}
