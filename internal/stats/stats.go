// Package stats aggregates dashboard and author statistics. Each report runs
// its queries concurrently and is cached for a short TTL.
package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/cache"
	"github.com/renderinc/quillhub/internal/storage"
)

// Dashboard is the admin overview.
type Dashboard struct {
	Posts       map[string]int     `json:"posts"`
	Users       map[string]int     `json:"users"`
	Comments    map[string]int     `json:"comments"`
	Views       int64              `json:"views"`
	Likes       int                `json:"likes"`
	Subscribers int                `json:"subscribers"`
	NewUsers    int                `json:"new_users_7d"`
	Clicks      int64              `json:"affiliate_clicks"`
	TopPosts    []*storage.Post    `json:"top_posts"`
	TopProducts []*storage.Product `json:"top_products"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Author is the public statistics of one author.
type Author struct {
	Username     string         `json:"username"`
	Posts        map[string]int `json:"posts"`
	Views        int64          `json:"views"`
	Likes        int            `json:"likes"`
	Followers    int            `json:"followers"`
	Following    int            `json:"following"`
	ProfileViews int            `json:"profile_views_30d"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Service computes statistics.
type Service struct {
	db    *storage.DB
	cache *cache.Cache[any]
	ttl   time.Duration
}

// NewService creates a stats service caching reports for ttl.
func NewService(db *storage.DB, ttl time.Duration) *Service {
	return &Service{db: db, cache: cache.New[any](ttl), ttl: ttl}
}

// Cache exposes the report cache so the server can sweep it.
func (s *Service) Cache() *cache.Cache[any] {
	return s.cache
}

// Invalidate drops every cached report.
func (s *Service) Invalidate() {
	s.cache.DeletePrefix("")
}

// Dashboard returns the admin overview. Admin only.
func (s *Service) Dashboard(ctx context.Context, u *storage.User) (*Dashboard, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	v, err := s.cache.GetOrLoad("dashboard", s.ttl, func() (any, error) {
		return s.dashboard(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Dashboard), nil
}

func (s *Service) dashboard(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{GeneratedAt: s.db.Now()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		d.Posts, err = s.db.PostCounts(ctx, "")
		return wrap("post counts", err)
	})
	g.Go(func() (err error) {
		d.Users, err = s.db.UserCounts(ctx)
		return wrap("user counts", err)
	})
	g.Go(func() (err error) {
		d.Comments, err = s.db.CountCommentsByStatus(ctx)
		return wrap("comment counts", err)
	})
	g.Go(func() (err error) {
		d.Views, err = s.db.TotalViews(ctx, "")
		return wrap("total views", err)
	})
	g.Go(func() (err error) {
		d.Likes, err = s.db.TotalLikes(ctx, "")
		return wrap("total likes", err)
	})
	g.Go(func() (err error) {
		d.Subscribers, err = s.db.CountSubscribers(ctx, storage.Subscribed)
		return wrap("subscribers", err)
	})
	g.Go(func() (err error) {
		d.NewUsers, err = s.db.CountNewUsers(ctx, d.GeneratedAt.Add(-7*24*time.Hour))
		return wrap("new users", err)
	})
	g.Go(func() (err error) {
		d.Clicks, err = s.db.TotalClicks(ctx)
		return wrap("total clicks", err)
	})
	g.Go(func() (err error) {
		d.TopPosts, err = s.db.ListPosts(ctx, storage.PostFilter{Status: storage.PostPublished, Sort: "views", Limit: 5})
		return wrap("top posts", err)
	})
	g.Go(func() (err error) {
		d.TopProducts, err = s.db.TopProducts(ctx, 5)
		return wrap("top products", err)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

// Author returns statistics for the author with the given username.
func (s *Service) Author(ctx context.Context, username string) (*Author, error) {
	username = strings.ToLower(username)
	v, err := s.cache.GetOrLoad("author:"+username, s.ttl, func() (any, error) {
		u, err := s.db.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		return s.author(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Author), nil
}

func (s *Service) author(ctx context.Context, u *storage.User) (*Author, error) {
	a := &Author{Username: u.Username, GeneratedAt: s.db.Now()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		a.Posts, err = s.db.PostCounts(ctx, u.ID)
		return wrap("post counts", err)
	})
	g.Go(func() (err error) {
		a.Views, err = s.db.TotalViews(ctx, u.ID)
		return wrap("views", err)
	})
	g.Go(func() (err error) {
		a.Likes, err = s.db.TotalLikes(ctx, u.ID)
		return wrap("likes", err)
	})
	g.Go(func() (err error) {
		a.Followers, err = s.db.FollowerCount(ctx, u.ID)
		return wrap("followers", err)
	})
	g.Go(func() (err error) {
		a.Following, err = s.db.FollowingCount(ctx, u.ID)
		return wrap("following", err)
	})
	g.Go(func() (err error) {
		a.ProfileViews, err = s.db.CountProfileViews(ctx, u.ID, a.GeneratedAt.Add(-30*24*time.Hour))
		return wrap("profile views", err)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Only published counts are public.
	a.Posts = map[string]int{storage.PostPublished: a.Posts[storage.PostPublished]}
	return a, nil
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
