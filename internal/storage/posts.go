package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrLocked is returned when another editor holds a fresh lock on a post.
var ErrLocked = errors.New("post is locked by another editor")

const postSelect = `
	SELECT p.id, p.author_id, p.category_id, p.title, p.slug, p.content, p.content_html,
	       p.excerpt, p.tags, p.cover_image, p.status, p.views, p.reading_minutes,
	       p.published_at, p.scheduled_at, p.locked_by, p.locked_at, p.created_at, p.updated_at,
	       u.display_name, u.username
	FROM posts p JOIN users u ON u.id = p.author_id`

func scanPost(s scanner) (*Post, error) {
	p := &Post{}
	var tags string
	err := s.Scan(
		&p.ID, &p.AuthorID, &p.CategoryID, &p.Title, &p.Slug, &p.Content, &p.ContentHTML,
		&p.Excerpt, &tags, &p.CoverImage, &p.Status, &p.Views, &p.ReadingMinutes,
		&p.PublishedAt, &p.ScheduledAt, &p.LockedBy, &p.LockedAt, &p.CreatedAt, &p.UpdatedAt,
		&p.AuthorName, &p.AuthorUsername,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", p.ID, err)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

// CreatePost inserts a post. A taken slug yields ErrConflict.
func (d *DB) CreatePost(ctx context.Context, p *Post) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.Status == "" {
		p.Status = PostDraft
	}
	now := d.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	tags, err := encodeTags(p.Tags)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
	INSERT INTO posts (
		id, author_id, category_id, title, slug, content, content_html, excerpt, tags,
		cover_image, status, views, reading_minutes, published_at, scheduled_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AuthorID, nullString(p.CategoryID), p.Title, p.Slug, p.Content, p.ContentHTML, p.Excerpt, tags,
		p.CoverImage, p.Status, p.Views, p.ReadingMinutes, p.PublishedAt, p.ScheduledAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", mapError(err))
	}
	return nil
}

// GetPost retrieves a post by ID
func (d *DB) GetPost(ctx context.Context, id string) (*Post, error) {
	p, err := scanPost(d.db.QueryRowContext(ctx, postSelect+` WHERE p.id = ?`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// GetPostBySlug retrieves a post by slug
func (d *DB) GetPostBySlug(ctx context.Context, slug string) (*Post, error) {
	p, err := scanPost(d.db.QueryRowContext(ctx, postSelect+` WHERE p.slug = ?`, slug))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// PostSlugExists reports whether slug is used by a post other than excludeID.
func (d *DB) PostSlugExists(ctx context.Context, slug, excludeID string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE slug = ? AND id <> ?`, slug, excludeID).Scan(&n)
	return n > 0, err
}

// UpdatePost writes the editable fields of p. The previous title and content
// are stored as a revision by editorID in the same transaction, and only the
// newest keepRevisions revisions are retained (0 keeps all).
func (d *DB) UpdatePost(ctx context.Context, p *Post, editorID string, keepRevisions int) error {
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return err
	}
	now := d.Now()

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var prevTitle, prevContent string
		err := tx.QueryRowContext(ctx, `SELECT title, content FROM posts WHERE id = ?`, p.ID).Scan(&prevTitle, &prevContent)
		if err != nil {
			return mapError(err)
		}

		if prevTitle != p.Title || prevContent != p.Content {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO post_revisions (id, post_id, editor_id, title, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
				NewID(), p.ID, editorID, prevTitle, prevContent, now,
			); err != nil {
				return fmt.Errorf("insert revision: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
		UPDATE posts SET
			category_id = ?, title = ?, slug = ?, content = ?, content_html = ?, excerpt = ?,
			tags = ?, cover_image = ?, reading_minutes = ?, updated_at = ?
		WHERE id = ?`,
			nullString(p.CategoryID), p.Title, p.Slug, p.Content, p.ContentHTML, p.Excerpt,
			tags, p.CoverImage, p.ReadingMinutes, now, p.ID,
		); err != nil {
			return fmt.Errorf("update post: %w", mapError(err))
		}

		if keepRevisions > 0 {
			if _, err := tx.ExecContext(ctx, `
			DELETE FROM post_revisions
			WHERE post_id = ? AND id NOT IN (
				SELECT id FROM post_revisions WHERE post_id = ?
				ORDER BY created_at DESC, id DESC LIMIT ?
			)`, p.ID, p.ID, keepRevisions); err != nil {
				return fmt.Errorf("prune revisions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.UpdatedAt = now
	return nil
}

// SetPostStatus changes a post's status along with its publish and schedule times.
func (d *DB) SetPostStatus(ctx context.Context, id, status string, publishedAt, scheduledAt *time.Time) error {
	res, err := d.db.ExecContext(ctx, `
	UPDATE posts SET status = ?, published_at = ?, scheduled_at = ?, updated_at = ? WHERE id = ?`,
		status, publishedAt, scheduledAt, d.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set post status: %w", mapError(err))
	}
	return affected(res)
}

// DuePostIDs returns scheduled posts whose publish time is at or before now.
func (d *DB) DuePostIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT id FROM posts
	WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
	ORDER BY scheduled_at`, PostScheduled, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PostFilter narrows ListPosts and CountPosts. Zero values do not filter.
type PostFilter struct {
	Status     string
	AuthorID   string
	CategoryID string
	Tag        string
	// FollowedBy restricts to authors followed by this user.
	FollowedBy string
	// Sort is "recent" (default), "views" or "updated".
	Sort   string
	Limit  int
	Offset int
}

func (f PostFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "p.status = ?")
		args = append(args, f.Status)
	}
	if f.AuthorID != "" {
		conds = append(conds, "p.author_id = ?")
		args = append(args, f.AuthorID)
	}
	if f.CategoryID != "" {
		conds = append(conds, "p.category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(p.tags) WHERE json_each.value = ?)")
		args = append(args, f.Tag)
	}
	if f.FollowedBy != "" {
		conds = append(conds, "p.author_id IN (SELECT followee_id FROM follows WHERE follower_id = ?)")
		args = append(args, f.FollowedBy)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListPosts returns posts matching f.
func (d *DB) ListPosts(ctx context.Context, f PostFilter) ([]*Post, error) {
	where, args := f.where()

	order := " ORDER BY COALESCE(p.published_at, p.created_at) DESC, p.id DESC"
	switch f.Sort {
	case "views":
		order = " ORDER BY p.views DESC, p.id DESC"
	case "updated":
		order = " ORDER BY p.updated_at DESC, p.id DESC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query := postSelect + where + order + " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CountPosts counts posts matching f, ignoring Limit, Offset and Sort.
func (d *DB) CountPosts(ctx context.Context, f PostFilter) (int, error) {
	where, args := f.where()
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts p`+where, args...).Scan(&n)
	return n, err
}

// IncrementViews adds one view to a post and returns the new total.
func (d *DB) IncrementViews(ctx context.Context, id string) (int64, error) {
	var views int64
	err := d.db.QueryRowContext(ctx, `UPDATE posts SET views = views + 1 WHERE id = ? RETURNING views`, id).Scan(&views)
	if err != nil {
		return 0, mapError(err)
	}
	return views, nil
}

// AcquireLock marks a post as being edited by userID. A lock held by someone
// else is honoured until it is older than ttl; re-acquiring refreshes it.
func (d *DB) AcquireLock(ctx context.Context, postID, userID string, ttl time.Duration) (*time.Time, error) {
	now := d.Now()
	res, err := d.db.ExecContext(ctx, `
	UPDATE posts SET locked_by = ?, locked_at = ?
	WHERE id = ? AND (locked_by IS NULL OR locked_by = ? OR locked_at IS NULL OR locked_at <= ?)`,
		userID, now, postID, userID, now.Add(-ttl),
	)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if err := affected(res); err != nil {
		if _, getErr := d.GetPost(ctx, postID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrLocked
	}
	return &now, nil
}

// ReleaseLock clears a post's lock if userID holds it, or unconditionally when force is set.
func (d *DB) ReleaseLock(ctx context.Context, postID, userID string, force bool) error {
	query := `UPDATE posts SET locked_by = NULL, locked_at = NULL WHERE id = ? AND locked_by = ?`
	args := []any{postID, userID}
	if force {
		query = `UPDATE posts SET locked_by = NULL, locked_at = NULL WHERE id = ?`
		args = args[:1]
	}
	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

// ListRevisions returns revisions of a post, newest first.
func (d *DB) ListRevisions(ctx context.Context, postID string) ([]*PostRevision, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT id, post_id, editor_id, title, content, created_at
	FROM post_revisions WHERE post_id = ?
	ORDER BY created_at DESC, id DESC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revs []*PostRevision
	for rows.Next() {
		r := &PostRevision{}
		if err := rows.Scan(&r.ID, &r.PostID, &r.EditorID, &r.Title, &r.Content, &r.CreatedAt); err != nil {
			return nil, err
		}
		revs = append(revs, r)
	}
	return revs, rows.Err()
}

// GetRevision retrieves a revision by ID
func (d *DB) GetRevision(ctx context.Context, id string) (*PostRevision, error) {
	r := &PostRevision{}
	err := d.db.QueryRowContext(ctx, `
	SELECT id, post_id, editor_id, title, content, created_at
	FROM post_revisions WHERE id = ?`, id).
		Scan(&r.ID, &r.PostID, &r.EditorID, &r.Title, &r.Content, &r.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return r, nil
}
