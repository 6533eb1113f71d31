package store

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/a2aregistry/registry/types"
)

// Cursor is the opaque pagination key: the (updated_at, id) tuple of the
// last row on the previous page. Pages are sorted descending by
// UpdatedAt, tie-broken by ID, so a cursor unambiguously identifies where
// the next page continues.
type Cursor struct {
	UpdatedAt time.Time `json:"u"`
	ID        string    `json:"i"`
}

// Encode renders the cursor as an opaque, URL-safe token.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by Cursor.Encode. An empty string
// decodes to the zero Cursor (first page). Any other malformed input is
// an ErrInvalidCursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, types.NewError(types.ErrInvalidCursor, "cursor is not valid base64").WithCause(err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, types.NewError(types.ErrInvalidCursor, "cursor does not decode to a valid page key").WithCause(err)
	}
	return c, nil
}

// ClampLimit enforces the [1, 100] page-size bound, defaulting to 20.
func ClampLimit(requested int) int {
	switch {
	case requested <= 0:
		return 20
	case requested > 100:
		return 100
	default:
		return requested
	}
}

// Page is a single page of agent records plus the cursor to fetch the next
// one. NextCursor is empty when there is no further page.
type Page struct {
	Records    []AgentRecord
	NextCursor string
}
