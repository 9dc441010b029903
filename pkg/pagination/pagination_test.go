package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNormalizeLimit(t *testing.T) {
	for in, want := range map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, 1000: MaxLimit} {
		assert.Equal(t, want, NormalizeLimit(in), "limit %d", in)
	}
	assert.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	in := Cursor{At: time.Date(2026, 1, 2, 3, 4, 5, 6, time.FixedZone("VET", -4*3600)), ID: uuid.New()}
	encoded := in.Encode()
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")
	assert.NotContains(t, encoded, "=")

	out, err := ParseCursor(encoded)
	require.NoError(t, err)
	assert.True(t, out.At.Equal(in.At))
	assert.Equal(t, in.ID, out.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	c, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, c)

	for _, bad := range []string{
		"not-base64!",
		base64.RawURLEncoding.EncodeToString([]byte(`[1,2]`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{}`)),
	} {
		_, err := ParseCursor(bad)
		assert.ErrorIs(t, err, errBadCursor, bad)
	}
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]Cursor, 4)
	for i := range rows {
		rows[i] = Cursor{At: base.Add(time.Duration(i) * time.Minute), ID: uuid.New()}
	}
	identity := func(c Cursor) Cursor { return c }

	page, next := Trim(rows, 3, identity)
	assert.Len(t, page, 3)
	cursor, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, rows[3].ID, cursor.ID)

	page, next = Trim(rows[:2], 3, identity)
	assert.Len(t, page, 2)
	assert.Empty(t, next)
}

type event struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time
}

func TestKeysetWalksNewestFirst(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&event{}))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&event{ID: uuid.New(), CreatedAt: base.Add(time.Duration(i) * time.Hour)}).Error)
	}

	var seen []time.Time
	var cursor *Cursor
	for pages := 0; pages < 5; pages++ {
		var rows []event
		require.NoError(t, db.Scopes(Keyset(cursor, "created_at", "id", LimitWithBuffer(2))).Find(&rows).Error)
		page, next := Trim(rows, 2, func(e event) Cursor { return Cursor{At: e.CreatedAt, ID: e.ID} })
		for _, e := range page {
			seen = append(seen, e.CreatedAt)
		}
		if next == "" {
			break
		}
		cursor, err = ParseCursor(next)
		require.NoError(t, err)
	}

	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i].Before(seen[i-1]), "row %d out of order", i)
	}
}
