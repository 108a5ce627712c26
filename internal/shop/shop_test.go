package shop

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/storage"
)

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, zaptest.NewLogger(t))
}

var (
	admin  = &storage.User{ID: "admin", Role: storage.RoleAdmin}
	reader = &storage.User{ID: "reader", Role: storage.RoleReader}
)

func TestProducts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBrand(ctx, reader, BrandInput{Name: "Acme"})
	assert.ErrorIs(t, err, accounts.ErrForbidden)

	brand, err := svc.CreateBrand(ctx, admin, BrandInput{Name: "Acme Tools", Website: "https://acme.test"})
	require.NoError(t, err)
	assert.Equal(t, "acme-tools", brand.Slug)

	_, err = svc.CreateProduct(ctx, admin, ProductInput{Name: ptr("Anvil"), AffiliateURL: ptr("javascript:alert(1)")})
	assert.ErrorIs(t, err, accounts.ErrInvalid)
	_, err = svc.CreateProduct(ctx, admin, ProductInput{Name: ptr("Anvil"), AffiliateURL: ptr("https://acme.test/a"), PriceCents: ptr(int64(-1))})
	assert.ErrorIs(t, err, accounts.ErrInvalid)

	p, err := svc.CreateProduct(ctx, admin, ProductInput{
		BrandID:      &brand.ID,
		Name:         ptr("Heavy Anvil"),
		PriceCents:   ptr(int64(4999)),
		Currency:     ptr("eur"),
		AffiliateURL: ptr("https://acme.test/anvil?ref=quillhub"),
	})
	require.NoError(t, err)
	assert.Equal(t, "heavy-anvil", p.Slug)
	assert.Equal(t, "EUR", p.Currency)
	assert.True(t, p.Active)

	target, err := svc.Click(ctx, "heavy-anvil")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/anvil?ref=quillhub", target)

	got, err := svc.Product(ctx, "heavy-anvil", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Clicks)
	assert.Equal(t, "Acme Tools", got.BrandName)

	_, err = svc.UpdateProduct(ctx, admin, p.ID, ProductInput{Active: ptr(false)})
	require.NoError(t, err)

	_, err = svc.Product(ctx, "heavy-anvil", reader)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.Product(ctx, "heavy-anvil", admin)
	assert.NoError(t, err)

	_, err = svc.Click(ctx, "heavy-anvil")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	public, err := svc.Products(ctx, "", false)
	require.NoError(t, err)
	assert.Empty(t, public)
	all, err := svc.Products(ctx, brand.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
