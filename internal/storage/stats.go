package storage

import (
	"context"
	"time"
)

// PostCounts returns the number of posts per status.
func (d *DB) PostCounts(ctx context.Context, authorID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM posts`
	var args []any
	if authorID != "" {
		query += ` WHERE author_id = ?`
		args = append(args, authorID)
	}
	query += ` GROUP BY status`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{PostDraft: 0, PostScheduled: 0, PostPublished: 0, PostArchived: 0}
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

// TotalViews sums post views, for one author when authorID is set.
func (d *DB) TotalViews(ctx context.Context, authorID string) (int64, error) {
	query := `SELECT COALESCE(SUM(views), 0) FROM posts`
	var args []any
	if authorID != "" {
		query += ` WHERE author_id = ?`
		args = append(args, authorID)
	}
	var n int64
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// TotalLikes counts likes received on an author's posts, or on all posts.
func (d *DB) TotalLikes(ctx context.Context, authorID string) (int, error) {
	query := `SELECT COUNT(*) FROM post_likes l JOIN posts p ON p.id = l.post_id`
	var args []any
	if authorID != "" {
		query += ` WHERE p.author_id = ?`
		args = append(args, authorID)
	}
	var n int
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// UserCounts returns the number of users per role.
func (d *DB) UserCounts(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{RoleReader: 0, RoleAuthor: 0, RoleAdmin: 0}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

// CountNewUsers counts signups since t.
func (d *DB) CountNewUsers(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= ?`, since.UTC()).Scan(&n)
	return n, err
}

// TotalClicks sums affiliate clicks across products.
func (d *DB) TotalClicks(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(clicks), 0) FROM products`).Scan(&n)
	return n, err
}

// TopProducts returns the most clicked products.
func (d *DB) TopProducts(ctx context.Context, limit int) ([]*Product, error) {
	rows, err := d.db.QueryContext(ctx, productSelect+` ORDER BY p.clicks DESC, p.name LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
