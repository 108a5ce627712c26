package storage

import (
	"context"
	"fmt"
)

const commentSelect = `
	SELECT c.id, c.post_id, c.author_id, c.parent_id, c.body, c.status, c.created_at, c.updated_at,
	       u.display_name,
	       (SELECT COUNT(*) FROM comment_likes l WHERE l.comment_id = c.id)
	FROM comments c JOIN users u ON u.id = c.author_id`

func scanComment(s scanner) (*Comment, error) {
	c := &Comment{}
	err := s.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.ParentID, &c.Body, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.AuthorName, &c.Likes)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateComment inserts a comment.
func (d *DB) CreateComment(ctx context.Context, c *Comment) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Status == "" {
		c.Status = CommentPending
	}
	now := d.Now()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := d.db.ExecContext(ctx, `
	INSERT INTO comments (id, post_id, author_id, parent_id, body, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PostID, c.AuthorID, nullString(c.ParentID), c.Body, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert comment: %w", mapError(err))
	}
	return nil
}

// GetComment retrieves a comment by ID
func (d *DB) GetComment(ctx context.Context, id string) (*Comment, error) {
	c, err := scanComment(d.db.QueryRowContext(ctx, commentSelect+` WHERE c.id = ?`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// ListComments returns a post's comments with the given status, oldest first.
// An empty status returns all comments.
func (d *DB) ListComments(ctx context.Context, postID, status string) ([]*Comment, error) {
	query := commentSelect + ` WHERE c.post_id = ?`
	args := []any{postID}
	if status != "" {
		query += ` AND c.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY c.created_at, c.id`
	return d.queryComments(ctx, query, args...)
}

// ListCommentsByStatus returns comments across all posts, newest first, for moderation.
func (d *DB) ListCommentsByStatus(ctx context.Context, status string, limit, offset int) ([]*Comment, error) {
	if limit <= 0 {
		limit = -1
	}
	return d.queryComments(ctx, commentSelect+`
	WHERE c.status = ?
	ORDER BY c.created_at DESC, c.id DESC
	LIMIT ? OFFSET ?`, status, limit, offset)
}

func (d *DB) queryComments(ctx context.Context, query string, args ...any) ([]*Comment, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// SetCommentStatus changes a comment's moderation status.
func (d *DB) SetCommentStatus(ctx context.Context, id, status string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE comments SET status = ?, updated_at = ? WHERE id = ?`, status, d.Now(), id)
	if err != nil {
		return fmt.Errorf("set comment status: %w", mapError(err))
	}
	return affected(res)
}

// DeleteComment removes a comment and, through the foreign key, its replies.
func (d *DB) DeleteComment(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return affected(res)
}

// SetCommentLike likes (on) or unlikes a comment.
func (d *DB) SetCommentLike(ctx context.Context, commentID, userID string, on bool) error {
	return d.toggleRow(ctx, "comment_likes", "comment_id", "user_id", commentID, userID, on)
}

// CountCommentsByStatus returns the number of comments per status.
func (d *DB) CountCommentsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM comments GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{
		CommentPending:  0,
		CommentApproved: 0,
		CommentSpam:     0,
		CommentRejected: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
