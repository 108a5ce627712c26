package blog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/content"
	"github.com/renderinc/quillhub/internal/storage"
	"github.com/renderinc/quillhub/internal/undo"
)

const maxCommentLength = 5000

// CommentInput is a new comment or reply.
type CommentInput struct {
	Body     string  `json:"body"`
	ParentID *string `json:"parent_id"`
}

// Comments returns the approved comments of a published post as a tree:
// top-level comments oldest first, each with its replies.
func (s *Service) Comments(ctx context.Context, postID string, viewer *storage.User) ([]*storage.Comment, error) {
	if _, err := s.GetPost(ctx, postID, viewer); err != nil {
		return nil, err
	}
	flat, err := s.db.ListComments(ctx, postID, storage.CommentApproved)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return thread(flat), nil
}

// thread nests replies under their parents. Replies whose parent is not in
// flat are hidden along with it.
func thread(flat []*storage.Comment) []*storage.Comment {
	byID := make(map[string]*storage.Comment, len(flat))
	for _, c := range flat {
		c.Replies = nil
		byID[c.ID] = c
	}
	roots := []*storage.Comment{}
	for _, c := range flat {
		if c.ParentID == nil {
			roots = append(roots, c)
			continue
		}
		if parent, ok := byID[*c.ParentID]; ok {
			parent.Replies = append(parent.Replies, c)
		}
	}
	return roots
}

// AddComment posts a comment on a published post. Comments start pending
// unless auto-approval is on or the commenter is an admin or the post's author.
func (s *Service) AddComment(ctx context.Context, u *storage.User, postID string, in CommentInput) (*storage.Comment, error) {
	if u == nil {
		return nil, accounts.ErrUnauthorized
	}
	p, err := s.db.GetPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	if p.Status != storage.PostPublished {
		return nil, fmt.Errorf("get post: %w", storage.ErrNotFound)
	}

	body := content.SanitizeComment(in.Body)
	if body == "" {
		return nil, fmt.Errorf("%w: comment is empty", accounts.ErrInvalid)
	}
	if len([]rune(body)) > maxCommentLength {
		return nil, fmt.Errorf("%w: comment exceeds %d characters", accounts.ErrInvalid, maxCommentLength)
	}

	c := &storage.Comment{PostID: postID, AuthorID: u.ID, Body: body, Status: storage.CommentPending}
	if in.ParentID != nil && *in.ParentID != "" {
		parent, err := s.db.GetComment(ctx, *in.ParentID)
		if isNotFound(err) || (err == nil && parent.PostID != postID) {
			return nil, fmt.Errorf("%w: unknown parent comment", accounts.ErrInvalid)
		}
		if err != nil {
			return nil, fmt.Errorf("get comment: %w", err)
		}
		id := parent.ID
		c.ParentID = &id
	}
	if s.opts.AutoApprove || accounts.IsAdmin(u) || u.ID == p.AuthorID {
		c.Status = storage.CommentApproved
	}

	if err := s.db.CreateComment(ctx, c); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	c.AuthorName = u.DisplayName
	s.logger.Debug("comment added",
		zap.String("comment_id", c.ID),
		zap.String("post_id", postID),
		zap.String("status", c.Status),
	)
	return c, nil
}

// DeleteComment removes a comment and its replies. Authors may delete their
// own comments; admins any.
func (s *Service) DeleteComment(ctx context.Context, u *storage.User, id string) error {
	if u == nil {
		return accounts.ErrUnauthorized
	}
	c, err := s.db.GetComment(ctx, id)
	if err != nil {
		return fmt.Errorf("get comment: %w", err)
	}
	if c.AuthorID != u.ID && !accounts.IsAdmin(u) {
		return accounts.ErrForbidden
	}
	if err := s.db.DeleteComment(ctx, id); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// LikeComment likes (on) or unlikes an approved comment and returns its like count.
func (s *Service) LikeComment(ctx context.Context, u *storage.User, id string, on bool) (int, error) {
	if u == nil {
		return 0, accounts.ErrUnauthorized
	}
	c, err := s.db.GetComment(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("get comment: %w", err)
	}
	if c.Status != storage.CommentApproved {
		return 0, fmt.Errorf("get comment: %w", storage.ErrNotFound)
	}
	if err := s.db.SetCommentLike(ctx, id, u.ID, on); err != nil {
		return 0, fmt.Errorf("set comment like: %w", err)
	}
	c, err = s.db.GetComment(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("get comment: %w", err)
	}
	return c.Likes, nil
}

// ModerationQueue lists comments with the given status, oldest first. Admin only.
func (s *Service) ModerationQueue(ctx context.Context, u *storage.User, status string, page, limit int) ([]*storage.Comment, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	if status == "" {
		status = storage.CommentPending
	}
	if !validCommentStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", accounts.ErrInvalid, status)
	}
	page, limit = s.normalize(page, limit)
	comments, err := s.db.ListCommentsByStatus(ctx, status, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	if comments == nil {
		comments = []*storage.Comment{}
	}
	return comments, nil
}

// ModerateComment sets a comment's status and returns an undo action that
// restores the previous status. Admin only.
func (s *Service) ModerateComment(ctx context.Context, u *storage.User, id, status string) (undo.Action, error) {
	if !accounts.IsAdmin(u) {
		return undo.Action{}, accounts.ErrForbidden
	}
	if !validCommentStatus(status) {
		return undo.Action{}, fmt.Errorf("%w: unknown status %q", accounts.ErrInvalid, status)
	}
	c, err := s.db.GetComment(ctx, id)
	if err != nil {
		return undo.Action{}, fmt.Errorf("get comment: %w", err)
	}
	prev := c.Status

	set := func(to string) func() error {
		return func() error {
			// Undo and redo run in later requests, outside ctx's lifetime.
			err := s.db.SetCommentStatus(context.Background(), id, to)
			if isNotFound(err) {
				return fmt.Errorf("comment %s: %w", id, undo.ErrStale)
			}
			if err != nil {
				return fmt.Errorf("set comment status: %w", err)
			}
			return nil
		}
	}
	action := undo.Action{
		Label: fmt.Sprintf("comment %s: %s -> %s", id, prev, status),
		Do:    set(status),
		Undo:  set(prev),
	}
	if err := s.db.SetCommentStatus(ctx, id, status); err != nil {
		return undo.Action{}, fmt.Errorf("set comment status: %w", err)
	}
	s.logger.Info("comment moderated",
		zap.String("comment_id", id),
		zap.String("from", prev),
		zap.String("to", status),
		zap.String("admin", u.Username),
	)
	return action, nil
}

func validCommentStatus(status string) bool {
	switch status {
	case storage.CommentPending, storage.CommentApproved, storage.CommentSpam, storage.CommentRejected:
		return true
	}
	return false
}
