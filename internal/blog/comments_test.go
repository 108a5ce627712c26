package blog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/storage"
	"github.com/renderinc/quillhub/internal/undo"
)

func TestComments_ThreadingAndApproval(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	p := f.published(t, f.author, "Discuss")

	pending, err := f.svc.AddComment(ctx, f.reader, p.ID, CommentInput{Body: "<b>hi</b> there"})
	require.NoError(t, err)
	assert.Equal(t, storage.CommentPending, pending.Status)
	assert.Equal(t, "hi there", pending.Body, "markup is stripped")

	root, err := f.svc.AddComment(ctx, f.author, p.ID, CommentInput{Body: "Author note"})
	require.NoError(t, err)
	assert.Equal(t, storage.CommentApproved, root.Status)

	reply, err := f.svc.AddComment(ctx, f.admin, p.ID, CommentInput{Body: "Admin reply", ParentID: &root.ID})
	require.NoError(t, err)

	tree, err := f.svc.Comments(ctx, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, root.ID, tree[0].ID)
	require.Len(t, tree[0].Replies, 1)
	assert.Equal(t, reply.ID, tree[0].Replies[0].ID)

	_, err = f.svc.AddComment(ctx, f.reader, p.ID, CommentInput{Body: "<script></script>"})
	assert.ErrorIs(t, err, accounts.ErrInvalid)

	other := f.published(t, f.author, "Elsewhere")
	_, err = f.svc.AddComment(ctx, f.reader, other.ID, CommentInput{Body: "wrong thread", ParentID: &root.ID})
	assert.ErrorIs(t, err, accounts.ErrInvalid)
}

func TestComments_AutoApprove(t *testing.T) {
	f := newFixture(t, Options{AutoApprove: true})
	p := f.published(t, f.author, "Open")

	c, err := f.svc.AddComment(context.Background(), f.reader, p.ID, CommentInput{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, storage.CommentApproved, c.Status)
}

func TestComments_DeleteAndLike(t *testing.T) {
	f := newFixture(t, Options{AutoApprove: true})
	ctx := context.Background()
	p := f.published(t, f.author, "Likes")

	c, err := f.svc.AddComment(ctx, f.reader, p.ID, CommentInput{Body: "nice"})
	require.NoError(t, err)

	n, err := f.svc.LikeComment(ctx, f.author, c.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, f.svc.DeleteComment(ctx, f.other, c.ID), accounts.ErrForbidden)
	require.NoError(t, f.svc.DeleteComment(ctx, f.reader, c.ID))
	assert.ErrorIs(t, f.svc.DeleteComment(ctx, f.admin, c.ID), storage.ErrNotFound)
}

func TestModerateComment_UndoRedo(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	p := f.published(t, f.author, "Moderated")

	c, err := f.svc.AddComment(ctx, f.reader, p.ID, CommentInput{Body: "buy pills"})
	require.NoError(t, err)

	_, err = f.svc.ModerationQueue(ctx, f.author, "", 1, 10)
	assert.ErrorIs(t, err, accounts.ErrForbidden)

	queue, err := f.svc.ModerationQueue(ctx, f.admin, "", 1, 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	history := undo.NewManager(5)
	action, err := f.svc.ModerateComment(ctx, f.admin, c.ID, storage.CommentSpam)
	require.NoError(t, err)
	history.Push(action)

	status := func() string {
		got, err := f.db.GetComment(ctx, c.ID)
		require.NoError(t, err)
		return got.Status
	}
	assert.Equal(t, storage.CommentSpam, status())

	_, err = history.Undo()
	require.NoError(t, err)
	assert.Equal(t, storage.CommentPending, status())

	_, err = history.Redo()
	require.NoError(t, err)
	assert.Equal(t, storage.CommentSpam, status())

	_, err = f.svc.ModerateComment(ctx, f.admin, c.ID, "deleted")
	assert.ErrorIs(t, err, accounts.ErrInvalid)
}

func TestModerateComment_UndoSkipsDeletedComments(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	p := f.published(t, f.author, "Cleanup")

	c1, err := f.svc.AddComment(ctx, f.reader, p.ID, CommentInput{Body: "first"})
	require.NoError(t, err)
	c2, err := f.svc.AddComment(ctx, f.reader, p.ID, CommentInput{Body: "second"})
	require.NoError(t, err)

	history := undo.NewManager(5)
	for _, id := range []string{c1.ID, c2.ID} {
		action, err := f.svc.ModerateComment(ctx, f.admin, id, storage.CommentSpam)
		require.NoError(t, err)
		history.Push(action)
	}
	require.NoError(t, f.svc.DeleteComment(ctx, f.admin, c2.ID))

	_, err = history.Undo()
	require.NoError(t, err)
	got, err := f.db.GetComment(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.CommentPending, got.Status)
	assert.Equal(t, 0, history.Len())

	_, err = history.Undo()
	assert.ErrorIs(t, err, undo.ErrNothingToUndo)
}

func TestCategories_Validation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.CreateCategory(ctx, f.author, CategoryInput{Name: ptr("Nope")})
	assert.ErrorIs(t, err, accounts.ErrForbidden)

	parent, err := f.svc.CreateCategory(ctx, f.admin, CategoryInput{Name: ptr("Tech")})
	require.NoError(t, err)
	child, err := f.svc.CreateCategory(ctx, f.admin, CategoryInput{Name: ptr("Go"), ParentID: &parent.ID})
	require.NoError(t, err)

	_, err = f.svc.CreateCategory(ctx, f.admin, CategoryInput{Name: ptr("Generics"), ParentID: &child.ID})
	assert.ErrorIs(t, err, accounts.ErrInvalid, "only one level of nesting")

	_, err = f.svc.CreateCategory(ctx, f.admin, CategoryInput{Name: ptr("tech")})
	assert.ErrorIs(t, err, storage.ErrConflict)

	updated, err := f.svc.UpdateCategory(ctx, f.admin, child.ID, CategoryInput{Description: ptr("Gophers")})
	require.NoError(t, err)
	assert.Equal(t, "Gophers", updated.Description)

	require.NoError(t, f.svc.DeleteCategory(ctx, f.admin, child.ID))
	cats, err := f.svc.Categories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}
