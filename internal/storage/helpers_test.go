package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testClock is a settable time source.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time           { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestDB opens a fresh database in a temp dir with a pinned clock.
func newTestDB(t *testing.T) (*DB, *testClock) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	db.SetClock(clock.now)
	return db, clock
}

func mustUser(t *testing.T, db *DB, username, role string) *User {
	t.Helper()
	u := &User{
		Username:     username,
		Email:        username + "@example.com",
		DisplayName:  username,
		Role:         role,
		PasswordHash: "x",
	}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func mustPost(t *testing.T, db *DB, author *User, slug, status string, tags ...string) *Post {
	t.Helper()
	p := &Post{
		AuthorID:       author.ID,
		Title:          "Title " + slug,
		Slug:           slug,
		Content:        "body of " + slug,
		ContentHTML:    "<p>body of " + slug + "</p>",
		Tags:           tags,
		Status:         status,
		ReadingMinutes: 1,
	}
	if status == PostPublished {
		now := db.Now()
		p.PublishedAt = &now
	}
	require.NoError(t, db.CreatePost(context.Background(), p))
	return p
}
