// Package web serves the JSON API, the server-rendered pages and the SEO
// endpoints.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/blog"
	"github.com/renderinc/quillhub/internal/logging"
	"github.com/renderinc/quillhub/internal/newsletter"
	"github.com/renderinc/quillhub/internal/ratelimit"
	"github.com/renderinc/quillhub/internal/search"
	"github.com/renderinc/quillhub/internal/seo"
	"github.com/renderinc/quillhub/internal/shop"
	"github.com/renderinc/quillhub/internal/stats"
	"github.com/renderinc/quillhub/internal/storage"
	"github.com/renderinc/quillhub/internal/undo"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// SessionCookie is the cookie carrying the session token for browser clients.
const SessionCookie = "session"

// Services bundles the domain services the server routes to.
type Services struct {
	Accounts   *accounts.Service
	Blog       *blog.Service
	Newsletter *newsletter.Service
	Shop       *shop.Service
	Stats      *stats.Service
	Search     *search.Index
}

// Options tunes the server.
type Options struct {
	Site seo.Site
	// Limiter throttles mutating endpoints per client. Nil disables limiting.
	Limiter   *ratelimit.Limiter
	// Proxies whose X-Forwarded-For is used to key the limiter.
	Proxies   ratelimit.Proxies
	UndoDepth int
}

type Server struct {
	db        *storage.DB
	svc       Services
	site      seo.Site
	limiter   *ratelimit.Limiter
	proxies   ratelimit.Proxies
	logger    *zap.Logger
	templates *template.Template

	undoDepth int
	mu        sync.Mutex
	history   map[string]*undo.Manager // per admin user ID
}

func NewServer(db *storage.DB, svc Services, opts Options, logger *zap.Logger) (*Server, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if opts.UndoDepth <= 0 {
		opts.UndoDepth = 20
	}

	return &Server{
		db:        db,
		svc:       svc,
		site:      opts.Site,
		limiter:   opts.Limiter,
		proxies:   opts.Proxies,
		logger:    logger,
		templates: tmpl,
		undoDepth: opts.UndoDepth,
		history:   make(map[string]*undo.Manager),
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.FileServer(http.FS(staticFS)))

	// Pages
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /posts/{slug}", s.handlePostPage)
	mux.HandleFunc("GET /category/{slug}", s.handleCategoryPage)
	mux.HandleFunc("GET /authors/{username}", s.handleAuthorPage)
	mux.HandleFunc("GET /store", s.handleStorePage)
	mux.HandleFunc("GET /newsletter/unsubscribe", s.handleUnsubscribePage)
	mux.HandleFunc("GET /go/{slug}", s.handleAffiliateRedirect)

	// SEO
	mux.HandleFunc("GET /sitemap.xml", s.handleSitemap)
	mux.HandleFunc("GET /feed.xml", s.handleRSS)
	mux.HandleFunc("GET /atom.xml", s.handleAtom)
	mux.HandleFunc("GET /robots.txt", s.handleRobots)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Auth and accounts
	mux.Handle("POST /api/auth/register", s.limit(s.handleRegister))
	mux.Handle("POST /api/auth/login", s.limit(s.handleLogin))
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/me", s.handleMe)
	mux.HandleFunc("PUT /api/me", s.handleUpdateMe)
	mux.HandleFunc("GET /api/me/bookmarks", s.handleBookmarks)
	mux.HandleFunc("GET /api/me/feed", s.handleFeed)
	mux.HandleFunc("GET /api/me/profile-views", s.handleProfileViews)
	mux.HandleFunc("GET /api/me/posts", s.handleMyPosts)
	mux.HandleFunc("GET /api/users/{username}", s.handleProfile)
	mux.HandleFunc("GET /api/users/{username}/stats", s.handleAuthorStats)
	mux.HandleFunc("GET /api/users/{username}/followers", s.handleFollowers)
	mux.HandleFunc("POST /api/users/{username}/follow", s.handleFollow(true))
	mux.HandleFunc("DELETE /api/users/{username}/follow", s.handleFollow(false))

	// Posts
	mux.HandleFunc("GET /api/posts", s.handleListPosts)
	mux.HandleFunc("POST /api/posts", s.handleCreatePost)
	mux.HandleFunc("GET /api/posts/{id}", s.handleGetPost)
	mux.HandleFunc("PUT /api/posts/{id}", s.handleUpdatePost)
	mux.HandleFunc("DELETE /api/posts/{id}", s.handleArchivePost)
	mux.HandleFunc("POST /api/posts/{id}/publish", s.handlePublishPost)
	mux.HandleFunc("POST /api/posts/{id}/lock", s.handleLockPost)
	mux.HandleFunc("DELETE /api/posts/{id}/lock", s.handleUnlockPost)
	mux.HandleFunc("GET /api/posts/{id}/revisions", s.handleRevisions)
	mux.HandleFunc("POST /api/posts/{id}/revisions/{rev}/restore", s.handleRestoreRevision)
	mux.Handle("POST /api/posts/{id}/view", s.limit(s.handleRecordView))
	mux.HandleFunc("GET /api/posts/{id}/engagement", s.handleEngagement)
	mux.HandleFunc("POST /api/posts/{id}/like", s.handleLikePost(true))
	mux.HandleFunc("DELETE /api/posts/{id}/like", s.handleLikePost(false))
	mux.HandleFunc("POST /api/posts/{id}/bookmark", s.handleBookmarkPost(true))
	mux.HandleFunc("DELETE /api/posts/{id}/bookmark", s.handleBookmarkPost(false))

	// Comments
	mux.HandleFunc("GET /api/posts/{id}/comments", s.handleComments)
	mux.Handle("POST /api/posts/{id}/comments", s.limit(s.handleAddComment))
	mux.HandleFunc("DELETE /api/comments/{id}", s.handleDeleteComment)
	mux.HandleFunc("POST /api/comments/{id}/like", s.handleLikeComment(true))
	mux.HandleFunc("DELETE /api/comments/{id}/like", s.handleLikeComment(false))

	// Categories
	mux.HandleFunc("GET /api/categories", s.handleCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("PUT /api/categories/{id}", s.handleUpdateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)

	// Search
	mux.HandleFunc("GET /api/search", s.handleSearch)

	// Newsletter
	mux.Handle("POST /api/newsletter/subscribe", s.limit(s.handleSubscribe))
	mux.Handle("POST /api/newsletter/unsubscribe", s.limit(s.handleUnsubscribe))

	// Store
	mux.HandleFunc("GET /api/brands", s.handleBrands)
	mux.HandleFunc("POST /api/brands", s.handleCreateBrand)
	mux.HandleFunc("GET /api/products", s.handleProducts)
	mux.HandleFunc("POST /api/products", s.handleCreateProduct)
	mux.HandleFunc("GET /api/products/{slug}", s.handleProduct)
	mux.HandleFunc("PUT /api/products/{id}", s.handleUpdateProduct)

	// Admin
	mux.HandleFunc("GET /api/admin/stats", s.handleDashboard)
	mux.HandleFunc("GET /api/admin/comments", s.handleModerationQueue)
	mux.HandleFunc("POST /api/admin/comments/{id}/status", s.handleModerateComment)
	mux.HandleFunc("POST /api/admin/undo", s.handleUndo)
	mux.HandleFunc("POST /api/admin/redo", s.handleRedo)
	mux.HandleFunc("GET /api/admin/campaigns", s.handleCampaigns)
	mux.HandleFunc("POST /api/admin/campaigns", s.handleCreateCampaign)
	mux.HandleFunc("POST /api/admin/campaigns/{id}/send", s.handleSendCampaign)
	mux.HandleFunc("GET /api/admin/subscribers", s.handleSubscribers)
	mux.HandleFunc("PUT /api/admin/users/{username}/role", s.handleSetRole)

	return logging.Middleware(s.logger, s.authenticate(mux))
}

type userKey struct{}

// authenticate resolves the session token from the Authorization header or
// the session cookie. Requests with a missing or stale token proceed
// anonymously; handlers that need a user reject them.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		u, err := s.svc.Accounts.Authenticate(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	})
}

func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// currentUser returns the authenticated user or nil.
func currentUser(r *http.Request) *storage.User {
	u, _ := r.Context().Value(userKey{}).(*storage.User)
	return u
}

// limit applies the per-client rate limiter to h.
func (s *Server) limit(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(s.proxies.ClientKey(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		h(w, r)
	})
}

// undoManager returns the moderation history of admin u.
func (s *Server) undoManager(u *storage.User) *undo.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.history[u.ID]
	if !ok {
		m = undo.NewManager(s.undoDepth)
		s.history[u.ID] = m
	}
	return m
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	published, _ := s.db.CountPosts(r.Context(), storage.PostFilter{Status: storage.PostPublished})
	indexed, _ := s.svc.Search.Count()

	writeJSON(w, code, map[string]any{
		"status":          status,
		"posts_published": published,
		"posts_indexed":   indexed,
	})
}
