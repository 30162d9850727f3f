package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"chat-backend/internal/auth"
	"chat-backend/internal/repository"
)

// MinCredentialLen is the minimum length of both username and password.
const MinCredentialLen = 6

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// TokenCodec issues and verifies the access/refresh token pair.
type TokenCodec interface {
	IssuePair(userID uuid.UUID) (auth.TokenPair, error)
	VerifyAccess(token string) (uuid.UUID, error)
	VerifyRefresh(token string) (userID uuid.UUID, jti string, err error)
}

// RefreshStore keeps the active refresh jti per user.
type RefreshStore interface {
	Save(ctx context.Context, userID uuid.UUID, jti string) error
	CheckAndConsume(ctx context.Context, userID uuid.UUID, jti string) (bool, error)
}

// AuthService implements signup, login, token verification, and refresh
// rotation.
type AuthService struct {
	hasher PasswordHasher
	codec  TokenCodec
	store  RefreshStore
	logger *zap.Logger

	// Injectable functions for testing.
	beginTxFn          func(ctx context.Context) (txQueries, error)
	createUserFn       func(ctx context.Context, qtx *repository.Queries, id uuid.UUID, username string) (repository.User, error)
	createCredentialFn func(ctx context.Context, qtx *repository.Queries, userID uuid.UUID, username, passwordHash string) error
	getCredentialFn    func(ctx context.Context, username string) (repository.Credential, error)
	getUserFn          func(ctx context.Context, id uuid.UUID) (repository.User, error)
	newIDFn            func() uuid.UUID
}

// NewAuthService creates an AuthService over the shared pool.
func NewAuthService(db *pgxpool.Pool, hasher PasswordHasher, codec TokenCodec, store RefreshStore, logger *zap.Logger) *AuthService {
	queries := repository.New(db)
	s := &AuthService{
		hasher:  hasher,
		codec:   codec,
		store:   store,
		logger:  logger,
		newIDFn: uuid.New,
	}
	s.beginTxFn = poolBeginner(db)
	s.createUserFn = func(ctx context.Context, qtx *repository.Queries, id uuid.UUID, username string) (repository.User, error) {
		return qtx.CreateUser(ctx, id, username)
	}
	s.createCredentialFn = func(ctx context.Context, qtx *repository.Queries, userID uuid.UUID, username, hash string) error {
		return qtx.CreateCredential(ctx, userID, username, hash)
	}
	s.getCredentialFn = func(ctx context.Context, username string) (repository.Credential, error) {
		return queries.GetCredentialByUsername(ctx, username)
	}
	s.getUserFn = func(ctx context.Context, id uuid.UUID) (repository.User, error) {
		return queries.GetUserByID(ctx, id)
	}
	return s
}

// Signup creates the user and its credential in one transaction.
func (s *AuthService) Signup(ctx context.Context, username, password string) (uuid.UUID, error) {
	if len(username) < MinCredentialLen {
		return uuid.Nil, ErrUsernameTooShort
	}
	if len(password) < MinCredentialLen {
		return uuid.Nil, ErrPasswordTooShort
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.beginTxFn(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	user, err := s.createUserFn(ctx, tx.qtx, s.newIDFn(), username)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return uuid.Nil, ErrUserExists
		}
		return uuid.Nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.createCredentialFn(ctx, tx.qtx, user.ID, username, hash); err != nil {
		if repository.IsUniqueViolation(err) {
			return uuid.Nil, ErrUserExists
		}
		return uuid.Nil, fmt.Errorf("create credential: %w", err)
	}

	if err := tx.commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("user signed up", zap.String("user_id", user.ID.String()))
	return user.ID, nil
}

// Login verifies the credential and issues a token pair, storing the
// refresh jti server-side.
func (s *AuthService) Login(ctx context.Context, username, password string) (auth.TokenPair, error) {
	cred, err := s.getCredentialFn(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return auth.TokenPair{}, ErrInvalidCredentials
		}
		return auth.TokenPair{}, fmt.Errorf("load credential: %w", err)
	}
	if !cred.IsActive {
		return auth.TokenPair{}, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, cred.PasswordHash)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return auth.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.codec.IssuePair(cred.UserID)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.store.Save(ctx, cred.UserID, pair.JTI); err != nil {
		return auth.TokenPair{}, fmt.Errorf("store refresh jti: %w", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", cred.UserID.String()))
	return pair, nil
}

// VerifyAccess validates an access token and checks the user still exists
// and is active.
func (s *AuthService) VerifyAccess(ctx context.Context, token string) (uuid.UUID, error) {
	userID, err := s.codec.VerifyAccess(token)
	if err != nil {
		return uuid.Nil, err
	}
	user, err := s.getUserFn(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, auth.ErrTokenInvalid
		}
		return uuid.Nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return uuid.Nil, auth.ErrTokenInvalid
	}
	return userID, nil
}

// Refresh rotates a token pair. The presented jti must match the stored
// one; the match consumes it, so a refresh token works exactly once.
func (s *AuthService) Refresh(ctx context.Context, token string) (auth.TokenPair, error) {
	userID, jti, err := s.codec.VerifyRefresh(token)
	if err != nil {
		return auth.TokenPair{}, err
	}

	ok, err := s.store.CheckAndConsume(ctx, userID, jti)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("consume refresh jti: %w", err)
	}
	if !ok {
		return auth.TokenPair{}, auth.ErrTokenInvalid
	}

	pair, err := s.codec.IssuePair(userID)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.store.Save(ctx, userID, pair.JTI); err != nil {
		return auth.TokenPair{}, fmt.Errorf("store refresh jti: %w", err)
	}

	s.logger.Info("tokens refreshed", zap.String("user_id", userID.String()))
	return pair, nil
}

func (s *AuthService) rollback(ctx context.Context, tx txQueries) {
	if err := tx.rollback(ctx); err != nil {
		s.logger.Debug("rollback", zap.Error(err))
	}
}
