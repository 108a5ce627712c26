// Package newsletter manages subscribers and campaigns. Delivery itself runs
// in the background worker (see internal/jobs).
package newsletter

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/content"
	"github.com/renderinc/quillhub/internal/mailer"
	"github.com/renderinc/quillhub/internal/storage"
)

// ErrAlreadyUnsubscribed is returned when unsubscribing an address that is
// not subscribed.
var ErrAlreadyUnsubscribed = errors.New("already unsubscribed")

// Service implements newsletter operations.
type Service struct {
	db      *storage.DB
	logger  *zap.Logger
	baseURL string
}

// NewService creates a newsletter service. baseURL prefixes unsubscribe links.
func NewService(db *storage.DB, logger *zap.Logger, baseURL string) *Service {
	return &Service{db: db, logger: logger, baseURL: strings.TrimRight(baseURL, "/")}
}

// Subscribe adds email to the list. Unsubscribed addresses are resubscribed;
// already subscribed addresses are returned unchanged.
func (s *Service) Subscribe(ctx context.Context, email string) (*storage.Subscriber, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return nil, fmt.Errorf("%w: email address is not valid", accounts.ErrInvalid)
	}
	email = strings.ToLower(addr.Address)

	sub, err := s.db.GetSubscriberByEmail(ctx, email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sub, err = s.db.CreateSubscriber(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("create subscriber: %w", err)
		}
		s.logger.Info("newsletter subscribe", zap.String("subscriber_id", sub.ID))
		return sub, nil
	case err != nil:
		return nil, fmt.Errorf("get subscriber: %w", err)
	}

	if sub.Status == storage.Unsubscribed {
		if err := s.db.SetSubscriberStatus(ctx, sub.ID, storage.Subscribed); err != nil {
			return nil, fmt.Errorf("resubscribe: %w", err)
		}
		sub.Status, sub.UnsubscribedAt = storage.Subscribed, nil
		s.logger.Info("newsletter resubscribe", zap.String("subscriber_id", sub.ID))
	}
	return sub, nil
}

// Unsubscribe removes the subscriber identified by token or, failing that,
// by email. Unsubscribing twice returns ErrAlreadyUnsubscribed.
func (s *Service) Unsubscribe(ctx context.Context, token, email string) error {
	var (
		sub *storage.Subscriber
		err error
	)
	switch {
	case token != "":
		sub, err = s.db.GetSubscriberByToken(ctx, token)
	case email != "":
		sub, err = s.db.GetSubscriberByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	default:
		return fmt.Errorf("%w: token or email is required", accounts.ErrInvalid)
	}
	if err != nil {
		return fmt.Errorf("get subscriber: %w", err)
	}
	// The conditional update settles concurrent unsubscribes: only one wins.
	err = s.db.Unsubscribe(ctx, sub.ID)
	if errors.Is(err, storage.ErrConflict) {
		return ErrAlreadyUnsubscribed
	}
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	s.logger.Info("newsletter unsubscribe", zap.String("subscriber_id", sub.ID))
	return nil
}

// Subscribers lists subscribers by status. Admin only.
func (s *Service) Subscribers(ctx context.Context, u *storage.User, status string) ([]*storage.Subscriber, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	if status == "" {
		status = storage.Subscribed
	}
	return s.db.ListSubscribers(ctx, status)
}

// Recipients returns the subscribed addresses campaign c has not reached yet.
// Addresses with a recorded outcome, sent or failed, are not tried again.
func (s *Service) Recipients(ctx context.Context, c *storage.Campaign) ([]*storage.Subscriber, error) {
	return s.db.PendingRecipients(ctx, c.ID)
}

// RecordDelivery stores the outcome of sending c to sub. sendErr is the
// delivery error, nil on success.
func (s *Service) RecordDelivery(ctx context.Context, c *storage.Campaign, sub *storage.Subscriber, sendErr error) error {
	status := storage.DeliverySent
	if sendErr != nil {
		status = storage.DeliveryFailed
	}
	return s.db.RecordDelivery(ctx, c.ID, sub.ID, status)
}

// CampaignInput is a new campaign.
type CampaignInput struct {
	Subject string `json:"subject"`
	Body    string `json:"body"` // Markdown
}

// CreateCampaign stores a draft campaign. Admin only.
func (s *Service) CreateCampaign(ctx context.Context, u *storage.User, in CampaignInput) (*storage.Campaign, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	c := &storage.Campaign{
		Subject:   strings.TrimSpace(in.Subject),
		Body:      in.Body,
		CreatedBy: u.ID,
	}
	if c.Subject == "" || strings.TrimSpace(c.Body) == "" {
		return nil, fmt.Errorf("%w: subject and body are required", accounts.ErrInvalid)
	}
	if err := s.db.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

// Campaigns lists campaigns, optionally by status. Admin only.
func (s *Service) Campaigns(ctx context.Context, u *storage.User, status string) ([]*storage.Campaign, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	return s.db.ListCampaigns(ctx, status)
}

// QueueCampaign moves a draft campaign to sending; the worker delivers it.
// Only drafts can be queued: anything else yields ErrConflict.
func (s *Service) QueueCampaign(ctx context.Context, u *storage.User, id string) (*storage.Campaign, error) {
	if !accounts.IsAdmin(u) {
		return nil, accounts.ErrForbidden
	}
	if err := s.db.TransitionCampaign(ctx, id, storage.CampaignDraft, storage.CampaignSending); err != nil {
		return nil, fmt.Errorf("queue campaign: %w", err)
	}
	s.logger.Info("campaign queued", zap.String("campaign_id", id), zap.String("admin", u.Username))
	return s.db.GetCampaign(ctx, id)
}

// Sending returns campaigns waiting for delivery.
func (s *Service) Sending(ctx context.Context) ([]*storage.Campaign, error) {
	return s.db.ListCampaigns(ctx, storage.CampaignSending)
}

// Finish closes campaign c using the outcomes recorded across every delivery
// run. The campaign is failed when nothing was delivered to a non-empty list.
func (s *Service) Finish(ctx context.Context, c *storage.Campaign) (*storage.Campaign, error) {
	sent, failed, err := s.db.DeliveryCounts(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("finish campaign: %w", err)
	}
	status := storage.CampaignSent
	if sent == 0 && failed > 0 {
		status = storage.CampaignFailed
	}
	if err := s.db.FinishCampaign(ctx, c.ID, status, sent, failed, s.db.Now()); err != nil {
		return nil, fmt.Errorf("finish campaign: %w", err)
	}
	return s.db.GetCampaign(ctx, c.ID)
}

// UnsubscribeURL is the one-click unsubscribe link for sub.
func (s *Service) UnsubscribeURL(sub *storage.Subscriber) string {
	return s.baseURL + "/newsletter/unsubscribe?token=" + url.QueryEscape(sub.Token)
}

// Compose renders campaign c for one subscriber, appending the unsubscribe link.
func (s *Service) Compose(c *storage.Campaign, sub *storage.Subscriber) (mailer.Message, error) {
	r, err := content.Render(c.Body)
	if err != nil {
		return mailer.Message{}, err
	}
	link := s.UnsubscribeURL(sub)
	return mailer.Message{
		To:      sub.Email,
		Subject: c.Subject,
		Text:    c.Body + "\n\n--\nUnsubscribe: " + link + "\n",
		HTML:    r.HTML + `<hr><p><a href="` + html.EscapeString(link) + `">Unsubscribe</a></p>`,
	}, nil
}
