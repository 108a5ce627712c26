package storage

import (
	"context"
	"fmt"
)

// toggleRow inserts or deletes a row in a two-key join table. Inserting an
// existing row and deleting a missing one are no-ops.
func (d *DB) toggleRow(ctx context.Context, table, colA, colB, a, b string, on bool) error {
	var err error
	if on {
		_, err = d.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+table+` (`+colA+`, `+colB+`, created_at) VALUES (?, ?, ?)`,
			a, b, d.Now())
	} else {
		_, err = d.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+colA+` = ? AND `+colB+` = ?`, a, b)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", table, mapError(err))
	}
	return nil
}

func (d *DB) countWhere(ctx context.Context, table, column, value string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE `+column+` = ?`, value).Scan(&n)
	return n, err
}

func (d *DB) rowExists(ctx context.Context, table, colA, colB, a, b string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE `+colA+` = ? AND `+colB+` = ?`, a, b).Scan(&n)
	return n > 0, err
}

// SetPostLike likes (on) or unlikes a post for userID.
func (d *DB) SetPostLike(ctx context.Context, postID, userID string, on bool) error {
	return d.toggleRow(ctx, "post_likes", "post_id", "user_id", postID, userID, on)
}

// PostLikes counts likes on a post.
func (d *DB) PostLikes(ctx context.Context, postID string) (int, error) {
	return d.countWhere(ctx, "post_likes", "post_id", postID)
}

// HasLikedPost reports whether userID likes postID.
func (d *DB) HasLikedPost(ctx context.Context, postID, userID string) (bool, error) {
	return d.rowExists(ctx, "post_likes", "post_id", "user_id", postID, userID)
}

// SetBookmark adds (on) or removes a bookmark.
func (d *DB) SetBookmark(ctx context.Context, userID, postID string, on bool) error {
	return d.toggleRow(ctx, "bookmarks", "user_id", "post_id", userID, postID, on)
}

// HasBookmarked reports whether userID bookmarked postID.
func (d *DB) HasBookmarked(ctx context.Context, userID, postID string) (bool, error) {
	return d.rowExists(ctx, "bookmarks", "user_id", "post_id", userID, postID)
}

// ListBookmarks returns posts bookmarked by userID, most recently bookmarked first.
func (d *DB) ListBookmarks(ctx context.Context, userID string, limit, offset int) ([]*Post, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, postSelect+`
	JOIN bookmarks b ON b.post_id = p.id
	WHERE b.user_id = ? AND p.status = ?
	ORDER BY b.created_at DESC
	LIMIT ? OFFSET ?`, userID, PostPublished, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
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

// CountBookmarks counts userID's bookmarks of published posts.
func (d *DB) CountBookmarks(ctx context.Context, userID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM bookmarks b JOIN posts p ON p.id = b.post_id
	WHERE b.user_id = ? AND p.status = ?`, userID, PostPublished).Scan(&n)
	return n, err
}

// SetFollow makes followerID follow (on) or unfollow followeeID.
func (d *DB) SetFollow(ctx context.Context, followerID, followeeID string, on bool) error {
	return d.toggleRow(ctx, "follows", "follower_id", "followee_id", followerID, followeeID, on)
}

// IsFollowing reports whether followerID follows followeeID.
func (d *DB) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	return d.rowExists(ctx, "follows", "follower_id", "followee_id", followerID, followeeID)
}

// FollowerCount counts users following userID.
func (d *DB) FollowerCount(ctx context.Context, userID string) (int, error) {
	return d.countWhere(ctx, "follows", "followee_id", userID)
}

// FollowingCount counts users userID follows.
func (d *DB) FollowingCount(ctx context.Context, userID string) (int, error) {
	return d.countWhere(ctx, "follows", "follower_id", userID)
}

// ListFollowers returns users following userID.
func (d *DB) ListFollowers(ctx context.Context, userID string) ([]*User, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT u.id, u.username, u.email, u.display_name, u.bio, u.avatar_url, u.role, u.password_hash, u.created_at, u.updated_at
	FROM follows f JOIN users u ON u.id = f.follower_id
	WHERE f.followee_id = ?
	ORDER BY f.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
