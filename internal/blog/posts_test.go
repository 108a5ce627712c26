package blog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/storage"
)

func TestCreatePost(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.CreatePost(ctx, f.reader, PostInput{Title: ptr("Nope")})
	assert.ErrorIs(t, err, accounts.ErrForbidden)

	_, err = f.svc.CreatePost(ctx, f.author, PostInput{Title: ptr("   ")})
	assert.ErrorIs(t, err, accounts.ErrInvalid)

	p1, err := f.svc.CreatePost(ctx, f.author, PostInput{
		Title:   ptr("Hello, World"),
		Content: ptr("A **bold** start."),
		Tags:    &[]string{"Go", " go ", "web"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello-world", p1.Slug)
	assert.Equal(t, storage.PostDraft, p1.Status)
	assert.Contains(t, p1.ContentHTML, "<strong>bold</strong>")
	assert.Equal(t, "A bold start.", p1.Excerpt)
	assert.Equal(t, 1, p1.ReadingMinutes)
	assert.Equal(t, []string{"go", "web"}, p1.Tags)

	p2, err := f.svc.CreatePost(ctx, f.other, PostInput{Title: ptr("Hello World!")})
	require.NoError(t, err)
	assert.Equal(t, "hello-world-2", p2.Slug)
}

func TestGetPost_DraftVisibility(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	p, err := f.svc.CreatePost(ctx, f.author, PostInput{Title: ptr("Draft")})
	require.NoError(t, err)

	for _, viewer := range []*storage.User{nil, f.reader, f.other} {
		_, err := f.svc.GetPost(ctx, p.ID, viewer)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
	for _, viewer := range []*storage.User{f.author, f.admin} {
		_, err := f.svc.GetPost(ctx, p.ID, viewer)
		assert.NoError(t, err)
	}
}

func TestUpdatePost_RevisionsAndRestore(t *testing.T) {
	f := newFixture(t, Options{MaxRevisions: 10})
	ctx := context.Background()

	p, err := f.svc.CreatePost(ctx, f.author, PostInput{Title: ptr("First"), Content: ptr("one")})
	require.NoError(t, err)

	_, err = f.svc.UpdatePost(ctx, f.other, p.ID, PostInput{Content: ptr("hijack")})
	assert.ErrorIs(t, err, accounts.ErrForbidden)

	f.clock.advance(time.Minute)
	_, err = f.svc.UpdatePost(ctx, f.author, p.ID, PostInput{Content: ptr("two")})
	require.NoError(t, err)

	revs, err := f.svc.Revisions(ctx, f.author, p.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, "one", revs[0].Content)

	f.clock.advance(time.Minute)
	restored, err := f.svc.RestoreRevision(ctx, f.author, p.ID, revs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "one", restored.Content)
	assert.Contains(t, restored.ContentHTML, "one")

	revs, err = f.svc.Revisions(ctx, f.author, p.ID)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, "two", revs[0].Content, "restoring keeps the replaced body")

	other, err := f.svc.CreatePost(ctx, f.author, PostInput{Title: ptr("Other")})
	require.NoError(t, err)
	_, err = f.svc.RestoreRevision(ctx, f.author, other.ID, revs[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdatePost_SlugChangeStaysUnique(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.CreatePost(ctx, f.author, PostInput{Title: ptr("Taken")})
	require.NoError(t, err)
	p, err := f.svc.CreatePost(ctx, f.author, PostInput{Title: ptr("Mine")})
	require.NoError(t, err)

	p, err = f.svc.UpdatePost(ctx, f.author, p.ID, PostInput{Slug: ptr("Taken")})
	require.NoError(t, err)
	assert.Equal(t, "taken-2", p.Slug)

	// Re-saving with its own slug does not bump the suffix.
	p, err = f.svc.UpdatePost(ctx, f.author, p.ID, PostInput{Slug: ptr("taken-2")})
	require.NoError(t, err)
	assert.Equal(t, "taken-2", p.Slug)
}

func TestUpdatePost_HonoursLock(t *testing.T) {
	f := newFixture(t, Options{LockTTL: 15 * time.Minute})
	ctx := context.Background()

	p, err := f.svc.CreatePost(ctx, f.author, PostInput{Title: ptr("Locked")})
	require.NoError(t, err)

	_, err = f.svc.LockPost(ctx, f.author, p.ID)
	require.NoError(t, err)

	// The lock holder can keep editing.
	_, err = f.svc.UpdatePost(ctx, f.author, p.ID, PostInput{Content: ptr("mine")})
	require.NoError(t, err)

	_, err = f.svc.UpdatePost(ctx, f.admin, p.ID, PostInput{Content: ptr("admin edit")})
	assert.ErrorIs(t, err, ErrLocked)
	_, err = f.svc.LockPost(ctx, f.admin, p.ID)
	assert.ErrorIs(t, err, ErrLocked)

	f.clock.advance(16 * time.Minute)
	_, err = f.svc.UpdatePost(ctx, f.admin, p.ID, PostInput{Content: ptr("admin edit")})
	assert.NoError(t, err, "stale locks are ignored")

	_, err = f.svc.LockPost(ctx, f.admin, p.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.UnlockPost(ctx, f.admin, p.ID))
	_, err = f.svc.UpdatePost(ctx, f.author, p.ID, PostInput{Content: ptr("back to me")})
	assert.NoError(t, err)
}

func TestPublishAndSchedule(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	p, err := f.svc.CreatePost(ctx, f.author, PostInput{Title: ptr("Later")})
	require.NoError(t, err)

	at := f.clock.t.Add(time.Hour)
	p, err = f.svc.PublishPost(ctx, f.author, p.ID, &at)
	require.NoError(t, err)
	assert.Equal(t, storage.PostScheduled, p.Status)
	assert.False(t, f.index.has(p.ID))

	n, err := f.svc.PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.advance(2 * time.Hour)
	n, err = f.svc.PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetPost(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, storage.PostPublished, got.Status)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, got.PublishedAt.Equal(at))
	assert.True(t, f.index.has(p.ID))

	require.NoError(t, f.svc.ArchivePost(ctx, f.author, p.ID))
	assert.False(t, f.index.has(p.ID))
	_, err = f.svc.GetPost(ctx, p.ID, f.reader)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordView_SkipsAuthor(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	p := f.published(t, f.author, "Viewed")

	views, counted, err := f.svc.RecordView(ctx, p.ID, f.author)
	require.NoError(t, err)
	assert.False(t, counted)
	assert.Equal(t, int64(0), views)

	views, counted, err = f.svc.RecordView(ctx, p.ID, f.reader)
	require.NoError(t, err)
	assert.True(t, counted)
	assert.Equal(t, int64(1), views)

	views, _, err = f.svc.RecordView(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), views)

	draft, err := f.svc.CreatePost(ctx, f.author, PostInput{Title: ptr("Hidden")})
	require.NoError(t, err)
	_, _, err = f.svc.RecordView(ctx, draft.ID, f.reader)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListPosts(t *testing.T) {
	f := newFixture(t, Options{PageSize: 2})
	ctx := context.Background()

	cat, err := f.svc.CreateCategory(ctx, f.admin, CategoryInput{Name: ptr("Go Lang")})
	require.NoError(t, err)
	assert.Equal(t, "go-lang", cat.Slug)

	a := f.published(t, f.author, "A")
	f.clock.advance(time.Minute)
	b := f.published(t, f.other, "B")
	f.clock.advance(time.Minute)
	c := f.published(t, f.author, "C")

	_, err = f.svc.UpdatePost(ctx, f.author, a.ID, PostInput{CategoryID: &cat.ID, Tags: &[]string{"go"}})
	require.NoError(t, err)

	page, err := f.svc.ListPosts(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Posts, 2)
	assert.Equal(t, c.ID, page.Posts[0].ID)
	assert.Equal(t, b.ID, page.Posts[1].ID)

	page, err = f.svc.ListPosts(ctx, ListQuery{Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, a.ID, page.Posts[0].ID)

	page, err = f.svc.ListPosts(ctx, ListQuery{Category: "go-lang"})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, a.ID, page.Posts[0].ID)

	page, err = f.svc.ListPosts(ctx, ListQuery{Tag: "GO"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = f.svc.ListPosts(ctx, ListQuery{Author: "bob"})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, b.ID, page.Posts[0].ID)

	page, err = f.svc.ListPosts(ctx, ListQuery{Category: "missing"})
	require.NoError(t, err)
	assert.Empty(t, page.Posts)

	_, err = f.svc.ListPosts(ctx, ListQuery{Sort: "random"})
	assert.ErrorIs(t, err, accounts.ErrInvalid)

	cats, err := f.svc.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, 1, cats[0].PostCount)
}

func TestLikesBookmarksAndFeed(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	p := f.published(t, f.author, "Social")
	f.published(t, f.other, "Unfollowed")

	n, err := f.svc.LikePost(ctx, f.reader, p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = f.svc.LikePost(ctx, nil, p.ID, true)
	assert.ErrorIs(t, err, accounts.ErrUnauthorized)

	require.NoError(t, f.svc.BookmarkPost(ctx, f.reader, p.ID, true))
	marks, err := f.svc.Bookmarks(ctx, f.reader, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, marks.Total)

	e, err := f.svc.PostEngagement(ctx, p.ID, f.reader)
	require.NoError(t, err)
	assert.Equal(t, &Engagement{Likes: 1, Liked: true, Bookmarked: true}, e)

	require.NoError(t, f.db.SetFollow(ctx, f.reader.ID, f.author.ID, true))
	feed, err := f.svc.Feed(ctx, f.reader, 1, 10)
	require.NoError(t, err)
	require.Len(t, feed.Posts, 1)
	assert.Equal(t, p.ID, feed.Posts[0].ID)
}
