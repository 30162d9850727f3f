package service

import (
	"errors"

	"chat-backend/internal/model"
)

// Typed errors returned by the services. Infrastructure causes are wrapped
// with %w; callers branch with errors.Is.
var (
	// Validation.
	ErrEmptyContent        = errors.New("message content cannot be empty")
	ErrContentTooLong      = errors.New("message content too long")
	ErrEmptyGroupName      = errors.New("group name cannot be empty")
	ErrEmptyIdempotencyKey = errors.New("idempotency_key cannot be empty")
	ErrUsernameTooShort    = errors.New("username too short")
	ErrPasswordTooShort    = errors.New("password too short")
	ErrSelfFriendship      = errors.New("cannot add yourself as a friend")

	// Authorization.
	ErrNotMember = errors.New("not a member of the conversation")
	ErrNotOwner  = errors.New("not the owner of the group")

	// Idempotency.
	ErrGroupClaimFailed  = errors.New("group creation already failed under this idempotency key")
	ErrInconsistentClaim = errors.New("inconsistent idempotency state")

	// State.
	ErrGroupNotFound      = errors.New("group not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ErrInvalidCursor aliases the model sentinel so callers can match on
// either package.
var ErrInvalidCursor = model.ErrInvalidCursor
