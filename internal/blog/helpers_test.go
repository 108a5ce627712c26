package blog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/renderinc/quillhub/internal/storage"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time           { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeIndex records index calls.
type fakeIndex struct {
	mu      sync.Mutex
	indexed map[string]string // id -> title
}

func (f *fakeIndex) IndexPost(p *storage.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[p.ID] = p.Title
	return nil
}

func (f *fakeIndex) DeletePost(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, id)
	return nil
}

func (f *fakeIndex) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indexed[id]
	return ok
}

type fixture struct {
	svc   *Service
	db    *storage.DB
	clock *testClock
	index *fakeIndex

	admin  *storage.User
	author *storage.User
	other  *storage.User // a second author
	reader *storage.User
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "blog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	db.SetClock(clock.now)

	idx := &fakeIndex{indexed: map[string]string{}}
	f := &fixture{
		svc:   NewService(db, idx, zaptest.NewLogger(t), opts),
		db:    db,
		clock: clock,
		index: idx,
	}
	f.admin = f.user(t, "root", storage.RoleAdmin)
	f.author = f.user(t, "ada", storage.RoleAuthor)
	f.other = f.user(t, "bob", storage.RoleAuthor)
	f.reader = f.user(t, "rita", storage.RoleReader)
	return f
}

func (f *fixture) user(t *testing.T, name, role string) *storage.User {
	t.Helper()
	u := &storage.User{Username: name, Email: name + "@example.com", DisplayName: name, Role: role, PasswordHash: "x"}
	require.NoError(t, f.db.CreateUser(context.Background(), u))
	return u
}

// published creates and publishes a post by author.
func (f *fixture) published(t *testing.T, author *storage.User, title string) *storage.Post {
	t.Helper()
	ctx := context.Background()
	body := "Some **markdown** body."
	p, err := f.svc.CreatePost(ctx, author, PostInput{Title: &title, Content: &body})
	require.NoError(t, err)
	p, err = f.svc.PublishPost(ctx, author, p.ID, nil)
	require.NoError(t, err)
	return p
}

func ptr[T any](v T) *T { return &v }
