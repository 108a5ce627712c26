package seo

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/quillhub/internal/storage"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func testSite() Site {
	return NewSite("Quillhub", "https://quill.test/", "Notes from the garden")
}

func testPost() *storage.Post {
	published := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &storage.Post{
		ID:             "p1",
		Title:          "Growing Tomatoes",
		Slug:           "growing-tomatoes",
		Excerpt:        "A short guide.",
		ContentHTML:    "<p>A short guide.</p>",
		Tags:           []string{"garden", "summer"},
		Status:         storage.PostPublished,
		ReadingMinutes: 3,
		PublishedAt:    &published,
		UpdatedAt:      time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
		AuthorName:     "Ada Lovelace",
		AuthorUsername: "ada",
	}
}

func TestSitemap(t *testing.T) {
	site := testSite()
	out, err := site.Sitemap(
		[]*storage.Post{testPost()},
		[]*storage.Category{{Name: "Gardening", Slug: "gardening"}},
	)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "sitemap", out)
}

func TestPostLD(t *testing.T) {
	site := testSite()
	out, err := site.PostLD(testPost(), &storage.Category{Name: "Gardening"})
	require.NoError(t, err)
	newGoldie(t).Assert(t, "post_ld", append(out, '\n'))
}

func TestPostLD_Draft(t *testing.T) {
	p := testPost()
	p.PublishedAt = nil
	p.ReadingMinutes = 0
	p.Tags = nil

	out, err := testSite().PostLD(p, nil)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "datePublished")
	assert.NotContains(t, string(out), "articleSection")
	assert.NotContains(t, string(out), "keywords")
	assert.NotContains(t, string(out), "timeRequired")
}

func TestProductLD(t *testing.T) {
	p := &storage.Product{
		Name:        "Trowel",
		Slug:        "trowel",
		Description: "Stainless steel.",
		PriceCents:  1999,
		Currency:    "USD",
		BrandName:   "Acme",
	}
	out, err := testSite().ProductLD(p)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "product_ld", append(out, '\n'))
}

func TestRobots(t *testing.T) {
	newGoldie(t).Assert(t, "robots", []byte(testSite().Robots()))
}

func TestFeed(t *testing.T) {
	site := testSite()
	older := testPost()
	older.Title = "Older"
	older.Slug = "older"
	earlier := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	older.PublishedAt = &earlier

	feed := site.Feed([]*storage.Post{testPost(), older})

	var links []string
	for _, item := range feed.Items {
		links = append(links, item.Link.Href)
	}
	want := []string{
		"https://quill.test/posts/growing-tomatoes",
		"https://quill.test/posts/older",
	}
	if diff := cmp.Diff(want, links); diff != "" {
		t.Errorf("feed links (-want +got):\n%s", diff)
	}
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), feed.Created)

	rss, err := site.RSS([]*storage.Post{testPost()})
	require.NoError(t, err)
	assert.Contains(t, rss, "<title>Growing Tomatoes</title>")
	assert.Contains(t, rss, "https://quill.test/posts/growing-tomatoes")

	atom, err := site.Atom([]*storage.Post{testPost()})
	require.NoError(t, err)
	assert.Contains(t, atom, "http://www.w3.org/2005/Atom")
	assert.Contains(t, atom, "Growing Tomatoes")
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{1999, "19.99"},
		{120000, "1200.00"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPrice(tt.cents), "cents=%d", tt.cents)
	}
}
