package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-backend/internal/auth"
	"chat-backend/internal/repository"
)

type stubHasher struct {
	verifyOK bool
}

func (h stubHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (h stubHasher) Verify(string, string) (bool, error) {
	return h.verifyOK, nil
}

type stubCodec struct {
	pair       auth.TokenPair
	accessID   uuid.UUID
	accessErr  error
	refreshID  uuid.UUID
	refreshJTI string
	refreshErr error
	issued     int
}

func (c *stubCodec) IssuePair(uuid.UUID) (auth.TokenPair, error) {
	c.issued++
	return c.pair, nil
}

func (c *stubCodec) VerifyAccess(string) (uuid.UUID, error) {
	return c.accessID, c.accessErr
}

func (c *stubCodec) VerifyRefresh(string) (uuid.UUID, string, error) {
	return c.refreshID, c.refreshJTI, c.refreshErr
}

type stubRefreshStore struct {
	saved   []string
	consume bool
}

func (s *stubRefreshStore) Save(_ context.Context, _ uuid.UUID, jti string) error {
	s.saved = append(s.saved, jti)
	return nil
}

func (s *stubRefreshStore) CheckAndConsume(context.Context, uuid.UUID, string) (bool, error) {
	return s.consume, nil
}

func newTestAuthService(committed, rolledBack *bool, codec *stubCodec, store *stubRefreshStore, verifyOK bool) *AuthService {
	s := &AuthService{
		hasher:  stubHasher{verifyOK: verifyOK},
		codec:   codec,
		store:   store,
		logger:  zap.NewNop(),
		newIDFn: uuid.New,
	}
	s.beginTxFn = stubTx(committed, rolledBack)
	s.createUserFn = func(_ context.Context, _ *repository.Queries, id uuid.UUID, username string) (repository.User, error) {
		return repository.User{ID: id, Username: username, IsActive: true}, nil
	}
	s.createCredentialFn = func(context.Context, *repository.Queries, uuid.UUID, string, string) error {
		return nil
	}
	s.getCredentialFn = func(context.Context, string) (repository.Credential, error) {
		return repository.Credential{}, repository.ErrNotFound
	}
	s.getUserFn = func(_ context.Context, id uuid.UUID) (repository.User, error) {
		return repository.User{ID: id, IsActive: true}, nil
	}
	return s
}

func TestSignup_Validation(t *testing.T) {
	var committed, rolledBack bool
	s := newTestAuthService(&committed, &rolledBack, &stubCodec{}, &stubRefreshStore{}, true)

	_, err := s.Signup(context.Background(), "bob", "password1")
	assert.ErrorIs(t, err, ErrUsernameTooShort)

	_, err = s.Signup(context.Background(), "bob-the-builder", "pw")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestSignup_Success(t *testing.T) {
	var committed, rolledBack bool
	s := newTestAuthService(&committed, &rolledBack, &stubCodec{}, &stubRefreshStore{}, true)

	var storedHash string
	s.createCredentialFn = func(_ context.Context, _ *repository.Queries, _ uuid.UUID, _ string, hash string) error {
		storedHash = hash
		return nil
	}

	userID, err := s.Signup(context.Background(), "alice-01", "password1")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, userID)
	assert.True(t, committed)
	assert.Equal(t, "hashed:password1", storedHash)
}

func TestSignup_DuplicateUsername(t *testing.T) {
	var committed, rolledBack bool
	s := newTestAuthService(&committed, &rolledBack, &stubCodec{}, &stubRefreshStore{}, true)

	s.createUserFn = func(context.Context, *repository.Queries, uuid.UUID, string) (repository.User, error) {
		return repository.User{}, uniqueViolation()
	}

	_, err := s.Signup(context.Background(), "alice-01", "password1")
	assert.ErrorIs(t, err, ErrUserExists)
	assert.False(t, committed)
}

func TestLogin_UnknownUser(t *testing.T) {
	var committed, rolledBack bool
	s := newTestAuthService(&committed, &rolledBack, &stubCodec{}, &stubRefreshStore{}, true)

	_, err := s.Login(context.Background(), "nobody", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_WrongPassword(t *testing.T) {
	var committed, rolledBack bool
	s := newTestAuthService(&committed, &rolledBack, &stubCodec{}, &stubRefreshStore{}, false)

	s.getCredentialFn = func(context.Context, string) (repository.Credential, error) {
		return repository.Credential{UserID: uuid.New(), PasswordHash: "x", IsActive: true}, nil
	}

	_, err := s.Login(context.Background(), "alice-01", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_InactiveUser(t *testing.T) {
	var committed, rolledBack bool
	s := newTestAuthService(&committed, &rolledBack, &stubCodec{}, &stubRefreshStore{}, true)

	s.getCredentialFn = func(context.Context, string) (repository.Credential, error) {
		return repository.Credential{UserID: uuid.New(), PasswordHash: "x", IsActive: false}, nil
	}

	_, err := s.Login(context.Background(), "alice-01", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_StoresRefreshJTI(t *testing.T) {
	var committed, rolledBack bool
	codec := &stubCodec{pair: auth.TokenPair{Access: "a", Refresh: "r", JTI: "jti-1"}}
	store := &stubRefreshStore{}
	s := newTestAuthService(&committed, &rolledBack, codec, store, true)

	s.getCredentialFn = func(context.Context, string) (repository.Credential, error) {
		return repository.Credential{UserID: uuid.New(), PasswordHash: "x", IsActive: true}, nil
	}

	pair, err := s.Login(context.Background(), "alice-01", "password1")
	require.NoError(t, err)
	assert.Equal(t, "a", pair.Access)
	assert.Equal(t, []string{"jti-1"}, store.saved)
}

func TestVerifyAccess(t *testing.T) {
	var committed, rolledBack bool
	userID := uuid.New()
	codec := &stubCodec{accessID: userID}
	s := newTestAuthService(&committed, &rolledBack, codec, &stubRefreshStore{}, true)

	got, err := s.VerifyAccess(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	// A valid token for a deleted user is rejected.
	s.getUserFn = func(context.Context, uuid.UUID) (repository.User, error) {
		return repository.User{}, repository.ErrNotFound
	}
	_, err = s.VerifyAccess(context.Background(), "token")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestRefresh_RotatesOnce(t *testing.T) {
	var committed, rolledBack bool
	userID := uuid.New()
	codec := &stubCodec{
		pair:       auth.TokenPair{Access: "a2", Refresh: "r2", JTI: "jti-2"},
		refreshID:  userID,
		refreshJTI: "jti-1",
	}
	store := &stubRefreshStore{consume: true}
	s := newTestAuthService(&committed, &rolledBack, codec, store, true)

	pair, err := s.Refresh(context.Background(), "refresh-token")
	require.NoError(t, err)
	assert.Equal(t, "r2", pair.Refresh)
	assert.Equal(t, []string{"jti-2"}, store.saved)

	// A consumed jti no longer refreshes.
	store.consume = false
	_, err = s.Refresh(context.Background(), "refresh-token")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestRefresh_InvalidToken(t *testing.T) {
	var committed, rolledBack bool
	codec := &stubCodec{refreshErr: auth.ErrTokenInvalid}
	s := newTestAuthService(&committed, &rolledBack, codec, &stubRefreshStore{}, true)

	_, err := s.Refresh(context.Background(), "bad")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}
