// Package shop is the affiliate store: brands, product listings and click
// tracked redirects to merchant sites.
package shop

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/content"
	"github.com/renderinc/quillhub/internal/storage"
)

// Service implements store operations.
type Service struct {
	db     *storage.DB
	logger *zap.Logger
}

// NewService creates a store service.
func NewService(db *storage.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// BrandInput is a new brand.
type BrandInput struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Website string `json:"website"`
}

// Brands lists all brands.
func (s *Service) Brands(ctx context.Context) ([]*storage.Brand, error) {
	brands, err := s.db.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	if brands == nil {
		brands = []*storage.Brand{}
	}
	return brands, nil
}

// CreateBrand adds a brand. Admin only.
func (s *Service) CreateBrand(ctx context.Context, u *storage.User, in BrandInput) (*storage.Brand, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	b := &storage.Brand{Name: strings.TrimSpace(in.Name), Website: strings.TrimSpace(in.Website)}
	if b.Name == "" {
		return nil, fmt.Errorf("%w: name is required", accounts.ErrInvalid)
	}
	b.Slug = content.Slugify(in.Slug)
	if b.Slug == "" {
		b.Slug = content.Slugify(b.Name)
	}
	if b.Website != "" {
		if err := checkURL(b.Website); err != nil {
			return nil, err
		}
	}
	if err := s.db.CreateBrand(ctx, b); err != nil {
		return nil, fmt.Errorf("create brand: %w", err)
	}
	return b, nil
}

// ProductInput carries product fields. Nil fields are left unchanged on update.
type ProductInput struct {
	BrandID      *string `json:"brand_id"`
	Name         *string `json:"name"`
	Slug         *string `json:"slug"`
	Description  *string `json:"description"`
	PriceCents   *int64  `json:"price_cents"`
	Currency     *string `json:"currency"`
	ImageURL     *string `json:"image_url"`
	AffiliateURL *string `json:"affiliate_url"`
	Active       *bool   `json:"active"`
}

// Products lists products, optionally for one brand ID. Inactive products
// are included only when all is set.
func (s *Service) Products(ctx context.Context, brandID string, all bool) ([]*storage.Product, error) {
	products, err := s.db.ListProducts(ctx, brandID, !all)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if products == nil {
		products = []*storage.Product{}
	}
	return products, nil
}

// Product returns an active product by slug. Admins also see inactive ones.
func (s *Service) Product(ctx context.Context, slug string, viewer *storage.User) (*storage.Product, error) {
	p, err := s.db.GetProductBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if !p.Active && !accounts.IsAdmin(viewer) {
		return nil, fmt.Errorf("get product: %w", storage.ErrNotFound)
	}
	return p, nil
}

// CreateProduct adds a product. Admin only.
func (s *Service) CreateProduct(ctx context.Context, u *storage.User, in ProductInput) (*storage.Product, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	p := &storage.Product{Currency: "USD", Active: true}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	if err := s.db.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

// UpdateProduct edits a product by ID. Admin only.
func (s *Service) UpdateProduct(ctx context.Context, u *storage.User, id string, in ProductInput) (*storage.Product, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	p, err := s.db.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	if err := s.db.UpdateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return p, nil
}

func (s *Service) apply(ctx context.Context, p *storage.Product, in ProductInput) error {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", accounts.ErrInvalid)
	}
	if in.Slug != nil {
		p.Slug = content.Slugify(*in.Slug)
	}
	if p.Slug == "" {
		p.Slug = content.Slugify(p.Name)
	}
	if p.Slug == "" {
		return fmt.Errorf("%w: slug must contain letters or digits", accounts.ErrInvalid)
	}
	if in.BrandID != nil {
		if *in.BrandID == "" {
			p.BrandID = nil
		} else {
			b, err := s.db.GetBrand(ctx, *in.BrandID)
			if err != nil {
				return fmt.Errorf("%w: unknown brand", accounts.ErrInvalid)
			}
			p.BrandID = &b.ID
			p.BrandName = b.Name
		}
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.PriceCents != nil {
		if *in.PriceCents < 0 {
			return fmt.Errorf("%w: price cannot be negative", accounts.ErrInvalid)
		}
		p.PriceCents = *in.PriceCents
	}
	if in.Currency != nil {
		cur := strings.ToUpper(strings.TrimSpace(*in.Currency))
		if len(cur) != 3 {
			return fmt.Errorf("%w: currency must be a 3-letter code", accounts.ErrInvalid)
		}
		p.Currency = cur
	}
	if in.ImageURL != nil {
		p.ImageURL = strings.TrimSpace(*in.ImageURL)
	}
	if in.AffiliateURL != nil {
		p.AffiliateURL = strings.TrimSpace(*in.AffiliateURL)
	}
	if err := checkURL(p.AffiliateURL); err != nil {
		return err
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
	return nil
}

// Click counts one affiliate click on an active product and returns the
// merchant URL to redirect to.
func (s *Service) Click(ctx context.Context, slug string) (string, error) {
	target, err := s.db.IncrementClicks(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("count click: %w", err)
	}
	s.logger.Debug("affiliate click", zap.String("slug", slug))
	return target, nil
}

// checkURL accepts absolute http and https URLs only.
func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) URL", accounts.ErrInvalid, raw)
	}
	return nil
}
