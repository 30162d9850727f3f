// Package auth issues and verifies the HS256 token pair and hashes
// passwords. The access and refresh tokens of one login share a jti; the
// refresh jti is stored server-side and consumed on rotation.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Token kinds carried in the token_type claim.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 14 * 24 * time.Hour
)

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	Access  string
	Refresh string
	JTI     string
}

type claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
}

// Codec signs and verifies token pairs with a shared HS256 key.
type Codec struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewCodec creates a Codec. Zero TTLs fall back to the defaults; negative
// TTLs are kept and issue already-expired tokens.
func NewCodec(key []byte, accessTTL, refreshTTL time.Duration) *Codec {
	if accessTTL == 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL == 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &Codec{key: key, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// RefreshTTL returns the refresh token lifetime, which also bounds the
// server-side jti record.
func (c *Codec) RefreshTTL() time.Duration {
	return c.refreshTTL
}

// IssuePair issues an access and refresh token sharing a fresh jti.
func (c *Codec) IssuePair(userID uuid.UUID) (TokenPair, error) {
	jti := uuid.NewString()
	now := time.Now()

	access, err := c.sign(userID, jti, tokenTypeAccess, now, c.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := c.sign(userID, jti, tokenTypeRefresh, now, c.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh, JTI: jti}, nil
}

func (c *Codec) sign(userID uuid.UUID, jti, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
	})
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// VerifyAccess validates an access token and returns the user id.
func (c *Codec) VerifyAccess(token string) (uuid.UUID, error) {
	userID, _, err := c.verify(token, tokenTypeAccess)
	return userID, err
}

// VerifyRefresh validates a refresh token and returns the user id and jti.
func (c *Codec) VerifyRefresh(token string) (uuid.UUID, string, error) {
	return c.verify(token, tokenTypeRefresh)
}

func (c *Codec) verify(token, wantType string) (uuid.UUID, string, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(token, &cl, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, "", ErrTokenExpired
		}
		return uuid.Nil, "", ErrTokenInvalid
	}
	if cl.TokenType != wantType {
		return uuid.Nil, "", ErrTokenInvalid
	}
	userID, err := uuid.Parse(cl.Subject)
	if err != nil || cl.ID == "" {
		return uuid.Nil, "", ErrTokenInvalid
	}
	return userID, cl.ID, nil
}
