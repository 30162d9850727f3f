package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCursor is returned when an external cursor string cannot be parsed.
var ErrInvalidCursor = errors.New("invalid cursor")

const timeCursorLayout = time.RFC3339Nano

// TimeCursor is a pagination position in a listing ordered by
// (timestamp DESC, id DESC). Its external form is "<RFC3339>~<UUID>".
type TimeCursor struct {
	At time.Time
	ID uuid.UUID
}

// ParseTimeCursor parses the external cursor form "<RFC3339>~<UUID>".
func ParseTimeCursor(s string) (TimeCursor, error) {
	rawAt, rawID, ok := strings.Cut(s, "~")
	if !ok {
		return TimeCursor{}, fmt.Errorf("%w: missing separator in %q", ErrInvalidCursor, s)
	}

	at, err := time.Parse(timeCursorLayout, rawAt)
	if err != nil {
		return TimeCursor{}, fmt.Errorf("%w: bad timestamp in %q", ErrInvalidCursor, s)
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return TimeCursor{}, fmt.Errorf("%w: bad id in %q", ErrInvalidCursor, s)
	}

	return TimeCursor{At: at, ID: id}, nil
}

// String renders the cursor in its external form.
func (c TimeCursor) String() string {
	return c.At.UTC().Format(timeCursorLayout) + "~" + c.ID.String()
}

// ParseOffsetCursor parses a message-history cursor: a decimal message offset.
func ParseOffsetCursor(s string) (int64, error) {
	off, err := strconv.ParseInt(s, 10, 64)
	if err != nil || off < 1 {
		return 0, fmt.Errorf("%w: bad offset %q", ErrInvalidCursor, s)
	}
	return off, nil
}
