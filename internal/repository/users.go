package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a row of the users table.
type User struct {
	ID        uuid.UUID
	Username  string
	IsActive  bool
	CreatedAt time.Time
}

// Credential is a row of the credentials table, created together with its user.
type Credential struct {
	UserID       uuid.UUID
	Username     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

const createUser = `
INSERT INTO users (id, username, is_active, created_at)
VALUES ($1, $2, TRUE, now())
RETURNING id, username, is_active, created_at
`

// CreateUser inserts a user. A duplicate username is a unique violation.
func (q *Queries) CreateUser(ctx context.Context, id uuid.UUID, username string) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, createUser, id, username).
		Scan(&u.ID, &u.Username, &u.IsActive, &u.CreatedAt)
	return u, err
}

const createCredential = `
INSERT INTO credentials (user_id, username, password_hash, is_active, created_at)
VALUES ($1, $2, $3, TRUE, now())
`

// CreateCredential inserts the credential record sibling to a user.
func (q *Queries) CreateCredential(ctx context.Context, userID uuid.UUID, username, passwordHash string) error {
	_, err := q.db.Exec(ctx, createCredential, userID, username, passwordHash)
	return err
}

const getUserByID = `
SELECT id, username, is_active, created_at FROM users WHERE id = $1
`

// GetUserByID looks a user up by id.
func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, getUserByID, id).
		Scan(&u.ID, &u.Username, &u.IsActive, &u.CreatedAt)
	return u, notFound(err)
}

const getUserByUsername = `
SELECT id, username, is_active, created_at FROM users WHERE username = $1
`

// GetUserByUsername looks a user up by username.
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, getUserByUsername, username).
		Scan(&u.ID, &u.Username, &u.IsActive, &u.CreatedAt)
	return u, notFound(err)
}

const getCredentialByUsername = `
SELECT user_id, username, password_hash, is_active, created_at
FROM credentials WHERE username = $1
`

// GetCredentialByUsername fetches the credential record for login.
func (q *Queries) GetCredentialByUsername(ctx context.Context, username string) (Credential, error) {
	var c Credential
	err := q.db.QueryRow(ctx, getCredentialByUsername, username).
		Scan(&c.UserID, &c.Username, &c.PasswordHash, &c.IsActive, &c.CreatedAt)
	return c, notFound(err)
}
