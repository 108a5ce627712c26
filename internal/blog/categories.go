package blog

import (
	"context"
	"fmt"
	"strings"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/content"
	"github.com/renderinc/quillhub/internal/storage"
)

// CategoryInput carries category fields. Nil fields are left unchanged on update.
type CategoryInput struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	ParentID    *string `json:"parent_id"`
}

// Categories returns all categories with published post counts.
func (s *Service) Categories(ctx context.Context) ([]*storage.Category, error) {
	v, err := s.cache.GetOrLoad("categories", s.opts.CacheTTL, func() (any, error) {
		cats, err := s.db.ListCategories(ctx)
		if err != nil {
			return nil, err
		}
		if cats == nil {
			cats = []*storage.Category{}
		}
		return cats, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return v.([]*storage.Category), nil
}

// CreateCategory adds a category. Admin only.
func (s *Service) CreateCategory(ctx context.Context, u *storage.User, in CategoryInput) (*storage.Category, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	c := &storage.Category{}
	if err := s.applyCategory(ctx, c, in); err != nil {
		return nil, err
	}
	if err := s.db.CreateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	s.invalidate("categories")
	return c, nil
}

// UpdateCategory edits a category. Admin only.
func (s *Service) UpdateCategory(ctx context.Context, u *storage.User, id string, in CategoryInput) (*storage.Category, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	c, err := s.db.GetCategory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if err := s.applyCategory(ctx, c, in); err != nil {
		return nil, err
	}
	if err := s.db.UpdateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("update category: %w", err)
	}
	s.invalidate("categories", "posts:")
	return c, nil
}

// DeleteCategory removes a category; its posts become uncategorised. Admin only.
func (s *Service) DeleteCategory(ctx context.Context, u *storage.User, id string) error {
	if !accounts.IsAdmin(u) {
		return accounts.ErrForbidden
	}
	if err := s.db.DeleteCategory(ctx, id); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.invalidate("categories", "posts:")
	return nil
}

func (s *Service) applyCategory(ctx context.Context, c *storage.Category, in CategoryInput) error {
	if in.Name != nil {
		c.Name = strings.TrimSpace(*in.Name)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", accounts.ErrInvalid)
	}
	if in.Slug != nil {
		c.Slug = content.Slugify(*in.Slug)
	}
	if c.Slug == "" {
		c.Slug = content.Slugify(c.Name)
	}
	if c.Slug == "" {
		return fmt.Errorf("%w: slug must contain letters or digits", accounts.ErrInvalid)
	}
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.ParentID != nil {
		if *in.ParentID == "" {
			c.ParentID = nil
		} else {
			if *in.ParentID == c.ID {
				return fmt.Errorf("%w: category cannot be its own parent", accounts.ErrInvalid)
			}
			parent, err := s.db.GetCategory(ctx, *in.ParentID)
			if isNotFound(err) {
				return fmt.Errorf("%w: unknown parent category", accounts.ErrInvalid)
			}
			if err != nil {
				return fmt.Errorf("get category: %w", err)
			}
			// Categories nest one level deep.
			if parent.ParentID != nil {
				return fmt.Errorf("%w: parent category is itself nested", accounts.ErrInvalid)
			}
			id := parent.ID
			c.ParentID = &id
		}
	}
	return nil
}
