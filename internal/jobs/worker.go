// Package jobs runs quillhub's background work: publishing scheduled posts,
// delivering newsletter campaigns and purging expired sessions.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/mailer"
	"github.com/renderinc/quillhub/internal/storage"
)

// Publisher publishes scheduled posts that are due.
type Publisher interface {
	PublishDue(ctx context.Context) (int, error)
}

// Campaigns is the newsletter side of delivery.
type Campaigns interface {
	Sending(ctx context.Context) ([]*storage.Campaign, error)
	Recipients(ctx context.Context, c *storage.Campaign) ([]*storage.Subscriber, error)
	Compose(c *storage.Campaign, sub *storage.Subscriber) (mailer.Message, error)
	RecordDelivery(ctx context.Context, c *storage.Campaign, sub *storage.Subscriber, sendErr error) error
	Finish(ctx context.Context, c *storage.Campaign) (*storage.Campaign, error)
}

// SessionPurger removes expired sessions.
type SessionPurger interface {
	PurgeSessions(ctx context.Context) (int64, error)
}

// Worker handles background jobs
type Worker struct {
	posts       Publisher
	campaigns   Campaigns
	sessions    SessionPurger
	mailer      mailer.Mailer
	logger      *zap.Logger
	concurrency int
}

// NewWorker creates a new background worker. concurrency bounds parallel
// sends per campaign.
func NewWorker(posts Publisher, campaigns Campaigns, sessions SessionPurger, m mailer.Mailer, logger *zap.Logger, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Worker{
		posts:       posts,
		campaigns:   campaigns,
		sessions:    sessions,
		mailer:      m,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Stats holds the results of one pass
type Stats struct {
	PostsPublished int
	Campaigns      int
	Sent           int
	Failed         int
	SessionsPurged int64
	Errors         int
	Duration       time.Duration
}

// RunOnce performs one pass over every job. A failing job is logged and
// counted; the others still run.
func (w *Worker) RunOnce(ctx context.Context) (*Stats, error) {
	startTime := time.Now()
	stats := &Stats{}

	// 1. Scheduled posts
	n, err := w.posts.PublishDue(ctx)
	stats.PostsPublished = n
	if err != nil {
		w.logger.Error("publish scheduled posts", zap.Error(err))
		stats.Errors++
	}

	// 2. Campaigns queued for delivery
	campaigns, err := w.campaigns.Sending(ctx)
	if err != nil {
		w.logger.Error("list sending campaigns", zap.Error(err))
		stats.Errors++
	}
	for _, c := range campaigns {
		if ctx.Err() != nil {
			break
		}
		d, err := w.Deliver(ctx, c)
		if d != nil {
			stats.Sent += d.Sent
			stats.Failed += d.Failed
		}
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("deliver campaign", zap.String("campaign_id", c.ID), zap.Error(err))
				stats.Errors++
			}
			continue
		}
		stats.Campaigns++
	}

	// 3. Expired sessions
	purged, err := w.sessions.PurgeSessions(ctx)
	stats.SessionsPurged = purged
	if err != nil {
		w.logger.Error("purge sessions", zap.Error(err))
		stats.Errors++
	}

	stats.Duration = time.Since(startTime)
	if stats.PostsPublished > 0 || stats.Campaigns > 0 || stats.SessionsPurged > 0 || stats.Errors > 0 {
		w.logger.Info("jobs pass complete",
			zap.Int("published", stats.PostsPublished),
			zap.Int("campaigns", stats.Campaigns),
			zap.Int("sent", stats.Sent),
			zap.Int("failed", stats.Failed),
			zap.Int64("sessions_purged", stats.SessionsPurged),
			zap.Int("errors", stats.Errors),
			zap.Duration("duration", stats.Duration),
		)
	}
	return stats, ctx.Err()
}

// Run calls RunOnce every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("jobs pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Delivery holds the results of sending one campaign. Sent and Failed
// count this run; the totals include earlier, interrupted runs.
type Delivery struct {
	Status      string
	Sent        int
	Failed      int
	TotalSent   int
	TotalFailed int
}

// Deliver sends campaign c to every subscriber it has not reached yet with a
// pool of goroutines, recording each outcome as it happens. A send that fails
// is counted and does not stop the run. When ctx is cancelled the campaign
// stays in sending and the next run picks up the remaining subscribers.
func (w *Worker) Deliver(ctx context.Context, c *storage.Campaign) (*Delivery, error) {
	recipients, err := w.campaigns.Recipients(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	w.logger.Info("delivering campaign",
		zap.String("campaign_id", c.ID),
		zap.Int("recipients", len(recipients)),
	)

	subChan := make(chan *storage.Subscriber, len(recipients))
	for _, sub := range recipients {
		subChan <- sub
	}
	close(subChan)

	// Outcomes of sends already handed to the mailer are recorded even after
	// ctx is cancelled.
	recordCtx := context.WithoutCancel(ctx)

	d := &Delivery{}
	var wg sync.WaitGroup
	var mu sync.Mutex

	for range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range subChan {
				if ctx.Err() != nil {
					return
				}
				err := w.send(ctx, c, sub)
				if err != nil && ctx.Err() != nil {
					// Interrupted, not failed: left for the next run.
					return
				}
				if recErr := w.campaigns.RecordDelivery(recordCtx, c, sub, err); recErr != nil {
					w.logger.Error("record delivery",
						zap.String("campaign_id", c.ID),
						zap.String("subscriber_id", sub.ID),
						zap.Error(recErr),
					)
				}
				mu.Lock()
				if err != nil {
					d.Failed++
				} else {
					d.Sent++
				}
				mu.Unlock()
				if err != nil {
					w.logger.Warn("send failed",
						zap.String("campaign_id", c.ID),
						zap.String("subscriber_id", sub.ID),
						zap.Error(err),
					)
				}
			}
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		w.logger.Info("campaign delivery interrupted",
			zap.String("campaign_id", c.ID),
			zap.Int("sent", d.Sent),
			zap.Int("failed", d.Failed),
		)
		return d, err
	}

	finished, err := w.campaigns.Finish(ctx, c)
	if err != nil {
		return nil, err
	}
	d.Status = finished.Status
	d.TotalSent, d.TotalFailed = finished.SentCount, finished.FailedCount
	return d, nil
}

// send delivers one message
func (w *Worker) send(ctx context.Context, c *storage.Campaign, sub *storage.Subscriber) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := w.campaigns.Compose(c, sub)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	return w.mailer.Send(ctx, msg)
}
