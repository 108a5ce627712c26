package blog

import (
	"context"
	"fmt"
	"strings"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/storage"
)

// MaxPageSize caps the limit a client may request.
const MaxPageSize = 50

// ListQuery selects published posts.
type ListQuery struct {
	Category string // category slug
	Author   string // author username
	Tag      string
	Sort     string // recent, views or updated
	Page     int    // 1-based
	Limit    int
}

// Page is one page of posts.
type Page struct {
	Posts []*storage.Post `json:"posts"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Pages int             `json:"pages"`
}

func (s *Service) normalize(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.opts.PageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

func newPage(posts []*storage.Post, total, page, limit int) *Page {
	if posts == nil {
		posts = []*storage.Post{}
	}
	return &Page{
		Posts: posts,
		Total: total,
		Page:  page,
		Limit: limit,
		Pages: (total + limit - 1) / limit,
	}
}

// ListPosts returns a page of published posts. Results are cached until the
// next write.
func (s *Service) ListPosts(ctx context.Context, q ListQuery) (*Page, error) {
	q.Page, q.Limit = s.normalize(q.Page, q.Limit)
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
	switch q.Sort {
	case "", "recent", "views", "updated":
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", accounts.ErrInvalid, q.Sort)
	}

	key := fmt.Sprintf("posts:%s|%s|%s|%s|%d|%d", q.Category, q.Author, q.Tag, q.Sort, q.Page, q.Limit)
	v, err := s.cache.GetOrLoad(key, s.opts.CacheTTL, func() (any, error) {
		return s.loadPage(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil
}

func (s *Service) loadPage(ctx context.Context, q ListQuery) (*Page, error) {
	f := storage.PostFilter{
		Status: storage.PostPublished,
		Tag:    q.Tag,
		Sort:   q.Sort,
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	}
	if q.Category != "" {
		c, err := s.db.GetCategoryBySlug(ctx, q.Category)
		if isNotFound(err) {
			return newPage(nil, 0, q.Page, q.Limit), nil
		}
		if err != nil {
			return nil, fmt.Errorf("get category: %w", err)
		}
		f.CategoryID = c.ID
	}
	if q.Author != "" {
		u, err := s.db.GetUserByUsername(ctx, strings.ToLower(q.Author))
		if isNotFound(err) {
			return newPage(nil, 0, q.Page, q.Limit), nil
		}
		if err != nil {
			return nil, fmt.Errorf("get author: %w", err)
		}
		f.AuthorID = u.ID
	}

	posts, err := s.db.ListPosts(ctx, f)
	if err != nil {
		return nil, err
	}
	total, err := s.db.CountPosts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	return newPage(posts, total, q.Page, q.Limit), nil
}

// AuthorPosts lists every post by author regardless of status, for the
// author's own dashboard.
func (s *Service) AuthorPosts(ctx context.Context, author *storage.User, status string, page, limit int) (*Page, error) {
	if author == nil {
		return nil, accounts.ErrUnauthorized
	}
	page, limit = s.normalize(page, limit)
	f := storage.PostFilter{AuthorID: author.ID, Status: status, Sort: "updated", Limit: limit, Offset: (page - 1) * limit}
	posts, err := s.db.ListPosts(ctx, f)
	if err != nil {
		return nil, err
	}
	total, err := s.db.CountPosts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	return newPage(posts, total, page, limit), nil
}

// Feed returns recent published posts from authors u follows.
func (s *Service) Feed(ctx context.Context, u *storage.User, page, limit int) (*Page, error) {
	if u == nil {
		return nil, accounts.ErrUnauthorized
	}
	page, limit = s.normalize(page, limit)
	f := storage.PostFilter{Status: storage.PostPublished, FollowedBy: u.ID, Limit: limit, Offset: (page - 1) * limit}
	posts, err := s.db.ListPosts(ctx, f)
	if err != nil {
		return nil, err
	}
	total, err := s.db.CountPosts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	return newPage(posts, total, page, limit), nil
}

// Bookmarks returns posts u bookmarked. Unpublished posts are omitted.
func (s *Service) Bookmarks(ctx context.Context, u *storage.User, page, limit int) (*Page, error) {
	if u == nil {
		return nil, accounts.ErrUnauthorized
	}
	page, limit = s.normalize(page, limit)
	posts, err := s.db.ListBookmarks(ctx, u.ID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	total, err := s.db.CountBookmarks(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("count bookmarks: %w", err)
	}
	return newPage(posts, total, page, limit), nil
}

// Published returns up to limit published posts, newest first (all when
// limit is 0). It backs the sitemap, feeds and reindexing.
func (s *Service) Published(ctx context.Context, limit int) ([]*storage.Post, error) {
	return s.db.ListPosts(ctx, storage.PostFilter{Status: storage.PostPublished, Limit: limit})
}
