// Package pagination implements newest-first keyset paging over
// (timestamp, id) pairs with opaque, URL-safe cursors.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var errBadCursor = errors.New("malformed cursor")

// Params is the ?limit=&cursor= pair accepted by list endpoints.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor points at the first row of the next page.
type Cursor struct {
	At time.Time `json:"t"`
	ID uuid.UUID `json:"i"`
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer fetches one extra row so Trim can tell whether a next page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Encode renders the cursor as base64url JSON, safe in a query string.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(Cursor{At: c.At.UTC(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor returns nil for a blank value (first page).
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadCursor, err)
	}
	if c.At.IsZero() || c.ID == uuid.Nil {
		return nil, errBadCursor
	}
	return &c, nil
}

// Trim cuts rows fetched with LimitWithBuffer down to the page size and
// returns the cursor of the first row left out, or "" on the last page.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, string) {
	size := NormalizeLimit(limit)
	if len(rows) <= size {
		return rows, ""
	}
	return rows[:size], cursorOf(rows[size]).Encode()
}

// Keyset is a gorm scope ordering by atColumn then idColumn, both
// descending, starting at c (inclusive) and fetching limit rows. Column
// names come from code, never from the request.
func Keyset(c *Cursor, atColumn, idColumn string, limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if c != nil {
			db = db.Where(
				fmt.Sprintf("(%[1]s < ?) OR (%[1]s = ? AND %[2]s <= ?)", atColumn, idColumn),
				c.At, c.At, c.ID,
			)
		}
		return db.
			Order(atColumn + " DESC").
			Order(idColumn + " DESC").
			Limit(limit)
	}
}
