package storage

import (
	"context"
	"fmt"
)

// CreateBrand inserts a brand. A taken slug yields ErrConflict.
func (d *DB) CreateBrand(ctx context.Context, b *Brand) error {
	if b.ID == "" {
		b.ID = NewID()
	}
	b.CreatedAt = d.Now()
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO brands (id, name, slug, website, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Slug, b.Website, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert brand: %w", mapError(err))
	}
	return nil
}

// GetBrand retrieves a brand by ID
func (d *DB) GetBrand(ctx context.Context, id string) (*Brand, error) {
	b := &Brand{}
	err := d.db.QueryRowContext(ctx, `SELECT id, name, slug, website, created_at FROM brands WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &b.Slug, &b.Website, &b.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

// ListBrands returns all brands by name.
func (d *DB) ListBrands(ctx context.Context) ([]*Brand, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, slug, website, created_at FROM brands ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brands []*Brand
	for rows.Next() {
		b := &Brand{}
		if err := rows.Scan(&b.ID, &b.Name, &b.Slug, &b.Website, &b.CreatedAt); err != nil {
			return nil, err
		}
		brands = append(brands, b)
	}
	return brands, rows.Err()
}

const productSelect = `
	SELECT p.id, p.brand_id, p.name, p.slug, p.description, p.price_cents, p.currency, p.image_url,
	       p.affiliate_url, p.clicks, p.active, p.created_at, p.updated_at, COALESCE(b.name, '')
	FROM products p LEFT JOIN brands b ON b.id = p.brand_id`

func scanProduct(s scanner) (*Product, error) {
	p := &Product{}
	err := s.Scan(&p.ID, &p.BrandID, &p.Name, &p.Slug, &p.Description, &p.PriceCents, &p.Currency,
		&p.ImageURL, &p.AffiliateURL, &p.Clicks, &p.Active, &p.CreatedAt, &p.UpdatedAt, &p.BrandName)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateProduct inserts a product. A taken slug yields ErrConflict.
func (d *DB) CreateProduct(ctx context.Context, p *Product) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	now := d.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO products (
		id, brand_id, name, slug, description, price_cents, currency, image_url,
		affiliate_url, clicks, active, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullString(p.BrandID), p.Name, p.Slug, p.Description, p.PriceCents, p.Currency, p.ImageURL,
		p.AffiliateURL, p.Clicks, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", mapError(err))
	}
	return nil
}

// UpdateProduct writes all editable product fields.
func (d *DB) UpdateProduct(ctx context.Context, p *Product) error {
	p.UpdatedAt = d.Now()
	res, err := d.db.ExecContext(ctx, `
	UPDATE products SET brand_id = ?, name = ?, slug = ?, description = ?, price_cents = ?, currency = ?,
		image_url = ?, affiliate_url = ?, active = ?, updated_at = ?
	WHERE id = ?`,
		nullString(p.BrandID), p.Name, p.Slug, p.Description, p.PriceCents, p.Currency,
		p.ImageURL, p.AffiliateURL, p.Active, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", mapError(err))
	}
	return affected(res)
}

// GetProduct retrieves a product by ID
func (d *DB) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, err := scanProduct(d.db.QueryRowContext(ctx, productSelect+` WHERE p.id = ?`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// GetProductBySlug retrieves a product by slug
func (d *DB) GetProductBySlug(ctx context.Context, slug string) (*Product, error) {
	p, err := scanProduct(d.db.QueryRowContext(ctx, productSelect+` WHERE p.slug = ?`, slug))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// ListProducts returns products by name. brandID filters by brand when set.
func (d *DB) ListProducts(ctx context.Context, brandID string, activeOnly bool) ([]*Product, error) {
	query := productSelect + ` WHERE 1 = 1`
	var args []any
	if brandID != "" {
		query += ` AND p.brand_id = ?`
		args = append(args, brandID)
	}
	if activeOnly {
		query += ` AND p.active = 1`
	}
	query += ` ORDER BY p.name`

	rows, err := d.db.QueryContext(ctx, query, args...)
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

// IncrementClicks counts one affiliate click and returns the product's target URL.
func (d *DB) IncrementClicks(ctx context.Context, slug string) (string, error) {
	var url string
	err := d.db.QueryRowContext(ctx, `
	UPDATE products SET clicks = clicks + 1
	WHERE slug = ? AND active = 1
	RETURNING affiliate_url`, slug).Scan(&url)
	if err != nil {
		return "", mapError(err)
	}
	return url, nil
}
