package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/blog"
	"github.com/renderinc/quillhub/internal/config"
	"github.com/renderinc/quillhub/internal/jobs"
	"github.com/renderinc/quillhub/internal/mailer"
	"github.com/renderinc/quillhub/internal/newsletter"
	"github.com/renderinc/quillhub/internal/search"
	"github.com/renderinc/quillhub/internal/shop"
	"github.com/renderinc/quillhub/internal/stats"
	"github.com/renderinc/quillhub/internal/storage"
	"github.com/renderinc/quillhub/internal/web"
)

// app holds the opened stores and the services built on them.
type app struct {
	db  *storage.DB
	idx *search.Index
	svc web.Services
}

// openApp opens storage and builds the services. withIndex opens the search
// index too; commands that never touch search skip it so they can run next to
// a server that holds the index lock.
func openApp(cfg *config.Config, logger *zap.Logger, withIndex bool) (*app, error) {
	if cfg.Storage.DataDir != "" {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	var (
		idx     *search.Index
		indexer blog.Indexer
	)
	if withIndex {
		idx, err = search.Open(cfg.IndexPath(), cfg.IndexLockTimeout())
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open search index: %w", err)
		}
		indexer = idx
	}

	blogSvc := blog.NewService(db, indexer, logger.Named("blog"), blog.Options{
		LockTTL:      cfg.LockTTL(),
		MaxRevisions: cfg.Content.MaxRevisions,
		AutoApprove:  cfg.Content.AutoApprove,
		PageSize:     cfg.Content.PageSize,
		CacheTTL:     cfg.CacheTTL(),
	})

	return &app{
		db:  db,
		idx: idx,
		svc: web.Services{
			Accounts:   accounts.NewService(db, logger.Named("accounts"), cfg.SessionTTL(), cfg.Content.UsernameRetries),
			Blog:       blogSvc,
			Newsletter: newsletter.NewService(db, logger.Named("newsletter"), cfg.BaseURL),
			Shop:       shop.NewService(db, logger.Named("shop")),
			Stats:      stats.NewService(db, cfg.StatsTTL()),
			Search:     idx,
		},
	}, nil
}

// worker builds the background job runner.
func (a *app) worker(cfg *config.Config, logger *zap.Logger) (*jobs.Worker, error) {
	m, err := mailer.New(cfg.Mailer.Provider, cfg.Mailer.Endpoint, cfg.Mailer.Token, cfg.Mailer.From, cfg.MailerTimeout(), logger.Named("mailer"))
	if err != nil {
		return nil, err
	}
	return jobs.NewWorker(a.svc.Blog, a.svc.Newsletter, a.svc.Accounts, m, logger.Named("jobs"), cfg.Jobs.Concurrency), nil
}

func (a *app) Close() {
	if a.idx != nil {
		a.idx.Close()
	}
	a.db.Close()
}
