// Package blog implements the editorial side of quillhub: posts, revisions,
// edit locks, categories, comments and moderation.
package blog

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/cache"
	"github.com/renderinc/quillhub/internal/storage"
)

// ErrLocked is returned when another editor holds a post's lock.
var ErrLocked = storage.ErrLocked

// Indexer receives published posts for full-text search.
type Indexer interface {
	IndexPost(p *storage.Post) error
	DeletePost(id string) error
}

// Options tunes editorial behaviour.
type Options struct {
	LockTTL      time.Duration
	MaxRevisions int
	AutoApprove  bool
	PageSize     int
	CacheTTL     time.Duration
}

// Service implements blog operations.
type Service struct {
	db     *storage.DB
	index  Indexer
	logger *zap.Logger
	opts   Options
	cache  *cache.Cache[any]
}

// NewService creates a blog service. index may be nil when search is disabled.
func NewService(db *storage.DB, index Indexer, logger *zap.Logger, opts Options) *Service {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Minute
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Service{
		db:     db,
		index:  index,
		logger: logger,
		opts:   opts,
		cache:  cache.New[any](opts.CacheTTL),
	}
}

// Cache exposes the service cache so the server can sweep it.
func (s *Service) Cache() *cache.Cache[any] {
	return s.cache
}

// reindex pushes p to the search index, or removes it when it is no longer
// public. Index failures are logged; storage stays the source of truth and
// `quillhub reindex` repairs drift.
func (s *Service) reindex(p *storage.Post) {
	if s.index == nil {
		return
	}
	var err error
	if p.Status == storage.PostPublished {
		err = s.index.IndexPost(p)
	} else {
		err = s.index.DeletePost(p.ID)
	}
	if err != nil {
		s.logger.Warn("search index update failed", zap.String("post_id", p.ID), zap.Error(err))
	}
}

// invalidate drops cached listings after a write.
func (s *Service) invalidate(prefixes ...string) {
	for _, p := range prefixes {
		s.cache.DeletePrefix(p)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
