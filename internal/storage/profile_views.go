package storage

import (
	"context"
	"fmt"
	"time"
)

// RecordProfileView stores a visit to profileID. viewerID may be empty for
// anonymous visitors.
func (d *DB) RecordProfileView(ctx context.Context, profileID, viewerID string) error {
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO profile_views (id, profile_id, viewer_id, viewed_at) VALUES (?, ?, ?, ?)`,
		NewID(), profileID, nullString(&viewerID), d.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert profile view: %w", mapError(err))
	}
	return nil
}

// ListProfileViews returns the latest views of a profile.
func (d *DB) ListProfileViews(ctx context.Context, profileID string, limit int) ([]*ProfileView, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `
	SELECT v.id, v.profile_id, v.viewer_id, v.viewed_at, COALESCE(u.display_name, '')
	FROM profile_views v LEFT JOIN users u ON u.id = v.viewer_id
	WHERE v.profile_id = ?
	ORDER BY v.viewed_at DESC, v.id DESC
	LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []*ProfileView
	for rows.Next() {
		v := &ProfileView{}
		if err := rows.Scan(&v.ID, &v.ProfileID, &v.ViewerID, &v.ViewedAt, &v.ViewerName); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// CountProfileViews counts views of a profile since the given time.
func (d *DB) CountProfileViews(ctx context.Context, profileID string, since time.Time) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM profile_views WHERE profile_id = ? AND viewed_at >= ?`,
		profileID, since.UTC()).Scan(&n)
	return n, err
}
