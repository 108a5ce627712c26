package storage

import (
	"context"
	"fmt"
	"time"
)

const userColumns = `id, username, email, display_name, bio, avatar_url, role, password_hash, created_at, updated_at`

func scanUser(s scanner) (*User, error) {
	u := &User{}
	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.Bio, &u.AvatarURL,
		&u.Role, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts u, assigning ID and timestamps when unset. A duplicate
// username or email yields ErrConflict.
func (d *DB) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.Role == "" {
		u.Role = RoleReader
	}
	now := d.Now()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := d.db.ExecContext(ctx, `
	INSERT INTO users (`+userColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.DisplayName, u.Bio, u.AvatarURL, u.Role, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", mapError(err))
	}
	return nil
}

// GetUser retrieves a user by ID
func (d *DB) GetUser(ctx context.Context, id string) (*User, error) {
	return d.getUserBy(ctx, "id", id)
}

// GetUserByUsername retrieves a user by username
func (d *DB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return d.getUserBy(ctx, "username", username)
}

// GetUserByEmail retrieves a user by email
func (d *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return d.getUserBy(ctx, "email", email)
}

func (d *DB) getUserBy(ctx context.Context, column, value string) (*User, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// UsernameExists reports whether username is taken.
func (d *DB) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n)
	return n > 0, err
}

// UpdateProfile updates the editable profile fields of a user.
func (d *DB) UpdateProfile(ctx context.Context, u *User) error {
	u.UpdatedAt = d.Now()
	res, err := d.db.ExecContext(ctx, `
	UPDATE users SET display_name = ?, bio = ?, avatar_url = ?, updated_at = ?
	WHERE id = ?`,
		u.DisplayName, u.Bio, u.AvatarURL, u.UpdatedAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", mapError(err))
	}
	return affected(res)
}

// SetUserRole changes a user's role.
func (d *DB) SetUserRole(ctx context.Context, id, role string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, role, d.Now(), id)
	if err != nil {
		return fmt.Errorf("set role: %w", mapError(err))
	}
	return affected(res)
}

// ListUsers returns users newest first.
func (d *DB) ListUsers(ctx context.Context, limit, offset int) ([]*User, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT `+userColumns+` FROM users
	ORDER BY created_at DESC
	LIMIT ? OFFSET ?`, limit, offset)
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

// CreateSession stores a new session for userID valid for ttl.
func (d *DB) CreateSession(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	now := d.Now()
	s := &Session{
		Token:     NewToken(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		s.Token, s.UserID, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", mapError(err))
	}
	return s, nil
}

// SessionUser returns the user owning an unexpired session token.
func (d *DB) SessionUser(ctx context.Context, token string) (*User, error) {
	row := d.db.QueryRowContext(ctx, `
	SELECT u.id, u.username, u.email, u.display_name, u.bio, u.avatar_url, u.role, u.password_hash, u.created_at, u.updated_at
	FROM sessions s JOIN users u ON u.id = s.user_id
	WHERE s.token = ? AND s.expires_at > ?`, token, d.Now())
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// DeleteSession removes a session token.
func (d *DB) DeleteSession(ctx context.Context, token string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// DeleteExpiredSessions removes sessions past their expiry and returns the count.
func (d *DB) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, d.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
