package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuePair(t *testing.T) {
	codec := NewCodec([]byte("test-signing-key"), time.Minute, time.Hour)
	userID := uuid.New()

	pair, err := codec.IssuePair(userID)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Access)
	assert.NotEmpty(t, pair.Refresh)
	assert.NotEmpty(t, pair.JTI)
	assert.NotEqual(t, pair.Access, pair.Refresh)

	got, err := codec.VerifyAccess(pair.Access)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	gotUser, jti, err := codec.VerifyRefresh(pair.Refresh)
	require.NoError(t, err)
	assert.Equal(t, userID, gotUser)
	assert.Equal(t, pair.JTI, jti)
}

func TestVerifyAccess_RejectsRefreshToken(t *testing.T) {
	codec := NewCodec([]byte("test-signing-key"), time.Minute, time.Hour)
	pair, err := codec.IssuePair(uuid.New())
	require.NoError(t, err)

	_, err = codec.VerifyAccess(pair.Refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, _, err = codec.VerifyRefresh(pair.Access)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_WrongKey(t *testing.T) {
	codec := NewCodec([]byte("key-one"), time.Minute, time.Hour)
	other := NewCodec([]byte("key-two"), time.Minute, time.Hour)

	pair, err := codec.IssuePair(uuid.New())
	require.NoError(t, err)

	_, err = other.VerifyAccess(pair.Access)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_Expired(t *testing.T) {
	codec := NewCodec([]byte("test-signing-key"), -time.Minute, -time.Minute)

	pair, err := codec.IssuePair(uuid.New())
	require.NoError(t, err)

	_, err = codec.VerifyAccess(pair.Access)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, _, err = codec.VerifyRefresh(pair.Refresh)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestNewCodec_TTLDefaults(t *testing.T) {
	codec := NewCodec([]byte("test-signing-key"), 0, 0)
	assert.Equal(t, DefaultRefreshTTL, codec.RefreshTTL())
	assert.Equal(t, DefaultAccessTTL, codec.accessTTL)

	// Negative TTLs are kept so tests can mint expired tokens.
	codec = NewCodec([]byte("test-signing-key"), -time.Minute, -time.Minute)
	assert.Equal(t, -time.Minute, codec.RefreshTTL())
}

func TestVerify_Garbage(t *testing.T) {
	codec := NewCodec([]byte("test-signing-key"), time.Minute, time.Hour)

	_, err := codec.VerifyAccess("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestIssuePair_FreshJTIPerPair(t *testing.T) {
	codec := NewCodec([]byte("test-signing-key"), time.Minute, time.Hour)
	userID := uuid.New()

	first, err := codec.IssuePair(userID)
	require.NoError(t, err)
	second, err := codec.IssuePair(userID)
	require.NoError(t, err)

	assert.NotEqual(t, first.JTI, second.JTI)
}
