package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/blog"
	"github.com/renderinc/quillhub/internal/newsletter"
	"github.com/renderinc/quillhub/internal/ratelimit"
	"github.com/renderinc/quillhub/internal/search"
	"github.com/renderinc/quillhub/internal/seo"
	"github.com/renderinc/quillhub/internal/shop"
	"github.com/renderinc/quillhub/internal/stats"
	"github.com/renderinc/quillhub/internal/storage"
	"github.com/renderinc/quillhub/internal/undo"
)

type testEnv struct {
	t       *testing.T
	db      *storage.DB
	svc     Services
	handler http.Handler
	tokens  map[string]string // session token by username
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := storage.Open(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx, err := search.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	site := seo.NewSite("Quillhub", "https://quill.test", "Notes")
	svc := Services{
		Accounts:   accounts.NewService(db, logger, time.Hour, 5),
		Blog:       blog.NewService(db, idx, logger, blog.Options{}),
		Newsletter: newsletter.NewService(db, logger, site.BaseURL),
		Shop:       shop.NewService(db, logger),
		Stats:      stats.NewService(db, time.Minute),
		Search:     idx,
	}
	srv, err := NewServer(db, svc, Options{Site: site, Limiter: limiter, UndoDepth: 5}, logger)
	require.NoError(t, err)

	e := &testEnv{t: t, db: db, svc: svc, handler: srv.Handler(), tokens: map[string]string{}}
	e.user("root", storage.RoleAdmin)
	e.user("ada", storage.RoleAuthor)
	e.user("rita", storage.RoleReader)
	return e
}

func (e *testEnv) user(name, role string) *storage.User {
	e.t.Helper()
	ctx := context.Background()
	in := accounts.RegisterInput{
		Email:       name + "@example.com",
		Password:    "password123",
		DisplayName: name,
		Username:    name,
	}
	u, err := e.svc.Accounts.CreateUser(ctx, in, role)
	require.NoError(e.t, err)
	_, sess, err := e.svc.Accounts.Login(ctx, name, "password123")
	require.NoError(e.t, err)
	e.tokens[name] = sess.Token
	return u
}

// do sends a request as the named user; an empty name is anonymous.
func (e *testEnv) do(method, path, as string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		var buf bytes.Buffer
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
		r = &buf
	}
	req := httptest.NewRequest(method, path, r)
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[as])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// publishPost creates and publishes a post as ada.
func (e *testEnv) publishPost(title, content string) *storage.Post {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/posts", "ada", map[string]any{"title": title, "content": content})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeAs[storage.Post](e.t, rec)

	rec = e.do(http.MethodPost, "/api/posts/"+p.ID+"/publish", "ada", nil)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	published := decodeAs[storage.Post](e.t, rec)
	return &published
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	e.publishPost("Hello", "First post.")

	rec := e.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeAs[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["posts_published"])
	assert.EqualValues(t, 1, body["posts_indexed"])
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":        "sam@example.com",
		"password":     "password123",
		"display_name": "Sam Writer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decodeAs[sessionResponse](t, rec)
	assert.Equal(t, "sam-writer", session.User.Username)
	assert.NotEmpty(t, session.Token)
	e.tokens["sam-writer"] = session.Token

	rec = e.do(http.MethodGet, "/api/me", "sam-writer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sam-writer", decodeAs[storage.User](t, rec).Username)

	rec = e.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "sam@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"login": "sam@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/api/auth/logout", "sam-writer", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(http.MethodGet, "/api/me", "sam-writer", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeAs[errorResponse](t, rec).Error)
}

func TestSessionCookie(t *testing.T) {
	e := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: e.tokens["rita"]})
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rita", decodeAs[storage.User](t, rec).Username)
}

func TestPostsAPI(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodPost, "/api/posts", "rita", map[string]any{"title": "Nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/api/posts", "ada", map[string]any{"title": "Growing Zucchini", "content": "Plant *early*."})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decodeAs[storage.Post](t, rec)
	assert.Equal(t, "growing-zucchini", draft.Slug)
	assert.Equal(t, storage.PostDraft, draft.Status)

	// Drafts are hidden from everyone but the owner and admins.
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/posts/"+draft.ID, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/posts/growing-zucchini", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/posts/"+draft.ID, "root", nil).Code)

	rec = e.do(http.MethodPut, "/api/posts/"+draft.ID, "ada", map[string]any{"content": "Plant *early* and water often."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodGet, "/api/posts/"+draft.ID+"/revisions", "ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	revs := decodeAs[struct {
		Revisions []*storage.PostRevision `json:"revisions"`
	}](t, rec).Revisions
	require.Len(t, revs, 1)
	assert.Equal(t, "Plant *early*.", revs[0].Content)

	rec = e.do(http.MethodPost, "/api/posts/"+draft.ID+"/publish", "ada", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, storage.PostPublished, decodeAs[storage.Post](t, rec).Status)

	rec = e.do(http.MethodGet, "/api/posts?author=ada", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeAs[blog.Page](t, rec)
	assert.Equal(t, 1, page.Total)

	rec = e.do(http.MethodGet, "/api/posts?sort=sideways", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/api/search?q=zucchini", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeAs[search.Results](t, rec)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "growing-zucchini", res.Hits[0].Slug)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/search", "", nil).Code)

	rec = e.do(http.MethodDelete, "/api/posts/"+draft.ID, "ada", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(http.MethodGet, "/api/search?q=zucchini", "", nil)
	assert.Empty(t, decodeAs[search.Results](t, rec).Hits)
}

func TestPublishSchedule(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodPost, "/api/posts", "ada", map[string]any{"title": "Later"})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeAs[storage.Post](t, rec)

	at := time.Now().Add(48 * time.Hour).UTC()
	rec = e.do(http.MethodPost, "/api/posts/"+p.ID+"/publish", "ada", map[string]any{"publish_at": at})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	scheduled := decodeAs[storage.Post](t, rec)
	assert.Equal(t, storage.PostScheduled, scheduled.Status)
	require.NotNil(t, scheduled.ScheduledAt)
}

func TestUpdatePost_Locked(t *testing.T) {
	e := newTestEnv(t, nil)
	p := e.publishPost("Locked", "Body.")

	rec := e.do(http.MethodPost, "/api/posts/"+p.ID+"/lock", "root", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodPut, "/api/posts/"+p.ID, "ada", map[string]any{"title": "Edited"})
	assert.Equal(t, http.StatusLocked, rec.Code)

	rec = e.do(http.MethodDelete, "/api/posts/"+p.ID+"/lock", "root", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(http.MethodPut, "/api/posts/"+p.ID, "ada", map[string]any{"title": "Edited"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordView(t *testing.T) {
	e := newTestEnv(t, nil)
	p := e.publishPost("Viewed", "Body.")

	type viewResponse struct {
		Views   int64 `json:"views"`
		Counted bool  `json:"counted"`
	}

	rec := e.do(http.MethodPost, "/api/posts/"+p.ID+"/view", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, viewResponse{Views: 1, Counted: true}, decodeAs[viewResponse](t, rec))

	rec = e.do(http.MethodPost, "/api/posts/"+p.ID+"/view", "ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, viewResponse{Views: 1, Counted: false}, decodeAs[viewResponse](t, rec))

	rec = e.do(http.MethodPost, "/api/posts/"+p.ID+"/view", "rita", nil)
	assert.Equal(t, viewResponse{Views: 2, Counted: true}, decodeAs[viewResponse](t, rec))
}

func TestLikesBookmarksFollows(t *testing.T) {
	e := newTestEnv(t, nil)
	p := e.publishPost("Liked", "Body.")

	rec := e.do(http.MethodPost, "/api/posts/"+p.ID+"/like", "rita", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeAs[map[string]any](t, rec)["likes"])

	rec = e.do(http.MethodPost, "/api/posts/"+p.ID+"/bookmark", "rita", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodGet, "/api/posts/"+p.ID+"/engagement", "rita", nil)
	assert.Equal(t, blog.Engagement{Likes: 1, Liked: true, Bookmarked: true}, decodeAs[blog.Engagement](t, rec))

	rec = e.do(http.MethodGet, "/api/me/bookmarks", "rita", nil)
	assert.Equal(t, 1, decodeAs[blog.Page](t, rec).Total)

	rec = e.do(http.MethodPost, "/api/users/ada/follow", "rita", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeAs[map[string]any](t, rec)["followers"])

	rec = e.do(http.MethodGet, "/api/me/feed", "rita", nil)
	assert.Equal(t, 1, decodeAs[blog.Page](t, rec).Total)

	rec = e.do(http.MethodPost, "/api/users/ada/follow", "ada", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/api/users/ada", "rita", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeAs[accounts.Profile](t, rec)
	assert.True(t, profile.IsFollowing)
	assert.Empty(t, profile.User.Email)

	rec = e.do(http.MethodGet, "/api/me/profile-views", "ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decodeAs[struct {
		Views []*storage.ProfileView `json:"views"`
	}](t, rec).Views
	assert.Len(t, views, 1)
}

func TestCommentModerationUndo(t *testing.T) {
	e := newTestEnv(t, nil)
	p := e.publishPost("Discuss", "Body.")

	rec := e.do(http.MethodPost, "/api/posts/"+p.ID+"/comments", "rita", map[string]any{"body": "Nice <script>x</script>post"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decodeAs[storage.Comment](t, rec)
	assert.Equal(t, storage.CommentPending, c.Status)
	assert.NotContains(t, c.Body, "<script>")

	visible := func() int {
		rec := e.do(http.MethodGet, "/api/posts/"+p.ID+"/comments", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		return len(decodeAs[struct {
			Comments []*storage.Comment `json:"comments"`
		}](t, rec).Comments)
	}
	assert.Equal(t, 0, visible())

	rec = e.do(http.MethodPost, "/api/admin/comments/"+c.ID+"/status", "rita", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/api/admin/comments/"+c.ID+"/status", "root", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, visible())

	rec = e.do(http.MethodPost, "/api/admin/undo", "root", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0, visible())

	rec = e.do(http.MethodPost, "/api/admin/redo", "root", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, visible())

	rec = e.do(http.MethodPost, "/api/admin/redo", "root", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, undo.ErrNothingToRedo.Error(), decodeAs[errorResponse](t, rec).Error)
}

func TestCategoriesAPI(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodPost, "/api/categories", "ada", map[string]string{"name": "Garden"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/api/categories", "root", map[string]string{"name": "Garden"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cat := decodeAs[storage.Category](t, rec)

	rec = e.do(http.MethodPost, "/api/categories", "root", map[string]string{"name": "Garden"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(http.MethodGet, "/category/garden", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Garden</h1>")

	rec = e.do(http.MethodDelete, "/api/categories/"+cat.ID, "root", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/category/garden", "", nil).Code)
}

func TestNewsletter(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	rec := e.do(http.MethodPost, "/api/newsletter/subscribe", "", map[string]string{"email": "Fan@Example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodPost, "/api/newsletter/subscribe", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sub, err := e.db.GetSubscriberByEmail(ctx, "fan@example.com")
	require.NoError(t, err)

	rec = e.do(http.MethodGet, "/newsletter/unsubscribe?token="+sub.Token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You have been unsubscribed")

	rec = e.do(http.MethodGet, "/newsletter/unsubscribe?token="+sub.Token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already unsubscribed")

	rec = e.do(http.MethodPost, "/api/newsletter/unsubscribe", "", map[string]string{"token": sub.Token})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, newsletter.ErrAlreadyUnsubscribed.Error(), decodeAs[errorResponse](t, rec).Error)

	rec = e.do(http.MethodGet, "/newsletter/unsubscribe?token=bogus", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaigns(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodPost, "/api/admin/campaigns", "ada", map[string]string{"subject": "Hi", "body": "Hello"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/api/admin/campaigns", "root", map[string]string{"subject": "Hi", "body": "Hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decodeAs[storage.Campaign](t, rec)

	rec = e.do(http.MethodPost, "/api/admin/campaigns/"+c.ID+"/send", "root", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, storage.CampaignSending, decodeAs[storage.Campaign](t, rec).Status)

	rec = e.do(http.MethodPost, "/api/admin/campaigns/"+c.ID+"/send", "root", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(http.MethodGet, "/api/admin/stats", "rita", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(http.MethodGet, "/api/admin/stats", "root", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStoreAndAffiliateRedirect(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodPost, "/api/brands", "root", map[string]string{"name": "Acme", "website": "https://acme.test"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	brand := decodeAs[storage.Brand](t, rec)

	rec = e.do(http.MethodPost, "/api/products", "root", map[string]any{
		"brand_id":      brand.ID,
		"name":          "Trowel",
		"price_cents":   1999,
		"affiliate_url": "https://acme.test/trowel?ref=quill",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for i := 0; i < 2; i++ {
		rec = e.do(http.MethodGet, "/go/trowel", "", nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://acme.test/trowel?ref=quill", rec.Header().Get("Location"))
	}

	rec = e.do(http.MethodGet, "/api/products/trowel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeAs[storage.Product](t, rec).Clicks)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/go/missing", "", nil).Code)

	rec = e.do(http.MethodGet, "/store", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Trowel")
	assert.Contains(t, rec.Body.String(), "19.99 USD")
	assert.Contains(t, rec.Body.String(), `"@type": "Product"`)
}

func TestPagesAndSEO(t *testing.T) {
	e := newTestEnv(t, nil)
	e.publishPost("Growing Zucchini", "Plant **early**.")

	rec := e.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/posts/growing-zucchini"`)

	rec = e.do(http.MethodGet, "/posts/growing-zucchini", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Growing Zucchini</h1>")
	assert.Contains(t, body, "<strong>early</strong>")
	assert.Contains(t, body, `<script type="application/ld+json">`)
	assert.Contains(t, body, `"@type": "BlogPosting"`)
	assert.Contains(t, body, `<link rel="canonical" href="https://quill.test/posts/growing-zucchini">`)

	rec = e.do(http.MethodGet, "/authors/ada", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Posts by ada")

	rec = e.do(http.MethodGet, "/sitemap.xml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, rec.Body.String(), "<loc>https://quill.test/posts/growing-zucchini</loc>")

	rec = e.do(http.MethodGet, "/feed.xml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Growing Zucchini")

	rec = e.do(http.MethodGet, "/atom.xml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Growing Zucchini")

	rec = e.do(http.MethodGet, "/robots.txt", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sitemap: https://quill.test/sitemap.xml")

	rec = e.do(http.MethodGet, "/static/style.css", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, ratelimit.New(1, 2))

	for i := 0; i < 2; i++ {
		rec := e.do(http.MethodPost, "/api/newsletter/subscribe", "", map[string]string{"email": fmt.Sprintf("r%d@example.com", i)})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := e.do(http.MethodPost, "/api/newsletter/subscribe", "", map[string]string{"email": "r3@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/posts", "", nil).Code)
}

func TestRateLimit_UnsubscribeAndSpoofedForwardedFor(t *testing.T) {
	e := newTestEnv(t, ratelimit.New(1, 2))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/newsletter/unsubscribe",
			strings.NewReader(fmt.Sprintf(`{"email":"nobody%d@example.com"}`, i)))
		// A client that is not a trusted proxy cannot pick its own bucket.
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		e.handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.NotEqual(t, http.StatusTooManyRequests, codes[0])
	assert.NotEqual(t, http.StatusTooManyRequests, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get post: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("insert: %w", storage.ErrConflict), http.StatusConflict},
		{accounts.ErrUnauthorized, http.StatusUnauthorized},
		{accounts.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: title is required", accounts.ErrInvalid), http.StatusBadRequest},
		{blog.ErrLocked, http.StatusLocked},
		{newsletter.ErrAlreadyUnsubscribed, http.StatusConflict},
		{accounts.ErrUsernameExhausted, http.StatusConflict},
		{search.ErrEmptyQuery, http.StatusBadRequest},
		{undo.ErrNothingToUndo, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
