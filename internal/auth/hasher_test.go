package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hasher := NewArgon2Hasher()

	encoded, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	ok, err := hasher.Verify("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHash_UniqueSalt(t *testing.T) {
	hasher := NewArgon2Hasher()

	first, err := hasher.Hash("password1")
	require.NoError(t, err)
	second, err := hasher.Hash("password1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestVerify_MalformedEncoding(t *testing.T) {
	hasher := NewArgon2Hasher()

	for _, encoded := range []string{
		"",
		"plain-hash",
		"$argon2id$v=19$m=65536,t=1,p=4$only-one-part",
		"$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
	} {
		_, err := hasher.Verify("password1", encoded)
		assert.Error(t, err, "encoded %q", encoded)
	}
}
