package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeCursorRoundTrip(t *testing.T) {
	cursor := TimeCursor{
		At: time.Date(2025, 6, 1, 12, 30, 45, 123456789, time.UTC),
		ID: uuid.New(),
	}

	parsed, err := ParseTimeCursor(cursor.String())
	require.NoError(t, err)
	assert.True(t, parsed.At.Equal(cursor.At))
	assert.Equal(t, cursor.ID, parsed.ID)
}

func TestParseTimeCursor_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no separator", "2025-06-01T12:00:00Z"},
		{"bad timestamp", "yesterday~" + uuid.NewString()},
		{"bad uuid", "2025-06-01T12:00:00Z~not-a-uuid"},
		{"extra separator", "2025-06-01T12:00:00Z~" + uuid.NewString() + "~tail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTimeCursor(tt.input)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestParseOffsetCursor(t *testing.T) {
	offset, err := ParseOffsetCursor("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), offset)

	for _, input := range []string{"", "0", "-1", "abc", "1.5"} {
		_, err := ParseOffsetCursor(input)
		assert.ErrorIs(t, err, ErrInvalidCursor, "input %q", input)
	}
}
