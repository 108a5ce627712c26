package storage

import (
	"context"
	"fmt"
)

const categoryColumns = `c.id, c.name, c.slug, c.description, c.parent_id, c.created_at, c.updated_at`

func scanCategory(s scanner, withCount bool) (*Category, error) {
	c := &Category{}
	dest := []any{&c.ID, &c.Name, &c.Slug, &c.Description, &c.ParentID, &c.CreatedAt, &c.UpdatedAt}
	if withCount {
		dest = append(dest, &c.PostCount)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCategory inserts a category. A taken slug yields ErrConflict.
func (d *DB) CreateCategory(ctx context.Context, c *Category) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	now := d.Now()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := d.db.ExecContext(ctx, `
	INSERT INTO categories (id, name, slug, description, parent_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Slug, c.Description, nullString(c.ParentID), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert category: %w", mapError(err))
	}
	return nil
}

// GetCategory retrieves a category by ID
func (d *DB) GetCategory(ctx context.Context, id string) (*Category, error) {
	c, err := scanCategory(d.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories c WHERE c.id = ?`, id), false)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// GetCategoryBySlug retrieves a category by slug
func (d *DB) GetCategoryBySlug(ctx context.Context, slug string) (*Category, error) {
	c, err := scanCategory(d.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories c WHERE c.slug = ?`, slug), false)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// UpdateCategory writes name, slug, description and parent.
func (d *DB) UpdateCategory(ctx context.Context, c *Category) error {
	c.UpdatedAt = d.Now()
	res, err := d.db.ExecContext(ctx, `
	UPDATE categories SET name = ?, slug = ?, description = ?, parent_id = ?, updated_at = ?
	WHERE id = ?`,
		c.Name, c.Slug, c.Description, nullString(c.ParentID), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update category: %w", mapError(err))
	}
	return affected(res)
}

// DeleteCategory removes a category. Its posts become uncategorised.
func (d *DB) DeleteCategory(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return affected(res)
}

// ListCategories returns all categories by name with their published post counts.
func (d *DB) ListCategories(ctx context.Context) ([]*Category, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT `+categoryColumns+`,
	       (SELECT COUNT(*) FROM posts p WHERE p.category_id = c.id AND p.status = ?)
	FROM categories c
	ORDER BY c.name`, PostPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []*Category
	for rows.Next() {
		c, err := scanCategory(rows, true)
		if err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}
