package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const subscriberColumns = `id, email, token, status, subscribed_at, unsubscribed_at`

func scanSubscriber(s scanner) (*Subscriber, error) {
	sub := &Subscriber{}
	if err := s.Scan(&sub.ID, &sub.Email, &sub.Token, &sub.Status, &sub.SubscribedAt, &sub.UnsubscribedAt); err != nil {
		return nil, err
	}
	return sub, nil
}

// CreateSubscriber inserts a subscribed address. A known email yields ErrConflict.
func (d *DB) CreateSubscriber(ctx context.Context, email string) (*Subscriber, error) {
	sub := &Subscriber{
		ID:           NewID(),
		Email:        email,
		Token:        NewToken(),
		Status:       Subscribed,
		SubscribedAt: d.Now(),
	}
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO newsletter_subscribers (`+subscriberColumns+`) VALUES (?, ?, ?, ?, ?, NULL)`,
		sub.ID, sub.Email, sub.Token, sub.Status, sub.SubscribedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscriber: %w", mapError(err))
	}
	return sub, nil
}

// GetSubscriberByEmail retrieves a subscriber by email
func (d *DB) GetSubscriberByEmail(ctx context.Context, email string) (*Subscriber, error) {
	sub, err := scanSubscriber(d.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM newsletter_subscribers WHERE email = ?`, email))
	if err != nil {
		return nil, mapError(err)
	}
	return sub, nil
}

// GetSubscriberByToken retrieves a subscriber by unsubscribe token
func (d *DB) GetSubscriberByToken(ctx context.Context, token string) (*Subscriber, error) {
	sub, err := scanSubscriber(d.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM newsletter_subscribers WHERE token = ?`, token))
	if err != nil {
		return nil, mapError(err)
	}
	return sub, nil
}

// Unsubscribe marks a subscribed address unsubscribed. It fails with
// ErrConflict when the address is already unsubscribed.
func (d *DB) Unsubscribe(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `
	UPDATE newsletter_subscribers SET status = ?, unsubscribed_at = ?
	WHERE id = ? AND status = ?`, Unsubscribed, d.Now(), id, Subscribed)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if err := affected(res); errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: subscriber is not subscribed", ErrConflict)
	} else if err != nil {
		return err
	}
	return nil
}

// SetSubscriberStatus switches a subscriber between subscribed and unsubscribed.
func (d *DB) SetSubscriberStatus(ctx context.Context, id, status string) error {
	now := d.Now()
	var query string
	var args []any
	if status == Unsubscribed {
		query = `UPDATE newsletter_subscribers SET status = ?, unsubscribed_at = ? WHERE id = ?`
		args = []any{status, now, id}
	} else {
		query = `UPDATE newsletter_subscribers SET status = ?, subscribed_at = ?, unsubscribed_at = NULL WHERE id = ?`
		args = []any{status, now, id}
	}
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set subscriber status: %w", mapError(err))
	}
	return affected(res)
}

// ListSubscribers returns subscribers with the given status ordered by signup.
func (d *DB) ListSubscribers(ctx context.Context, status string) ([]*Subscriber, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT `+subscriberColumns+` FROM newsletter_subscribers
	WHERE status = ? ORDER BY subscribed_at, id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CountSubscribers counts subscribers with the given status.
func (d *DB) CountSubscribers(ctx context.Context, status string) (int, error) {
	return d.countWhere(ctx, "newsletter_subscribers", "status", status)
}

const campaignColumns = `id, subject, body, status, sent_count, failed_count, created_by, created_at, sent_at`

func scanCampaign(s scanner) (*Campaign, error) {
	c := &Campaign{}
	err := s.Scan(&c.ID, &c.Subject, &c.Body, &c.Status, &c.SentCount, &c.FailedCount,
		&c.CreatedBy, &c.CreatedAt, &c.SentAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCampaign inserts a draft campaign.
func (d *DB) CreateCampaign(ctx context.Context, c *Campaign) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	c.Status = CampaignDraft
	c.CreatedAt = d.Now()
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO newsletter_campaigns (`+campaignColumns+`) VALUES (?, ?, ?, ?, 0, 0, ?, ?, NULL)`,
		c.ID, c.Subject, c.Body, c.Status, c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", mapError(err))
	}
	return nil
}

// GetCampaign retrieves a campaign by ID
func (d *DB) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	c, err := scanCampaign(d.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM newsletter_campaigns WHERE id = ?`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// ListCampaigns returns campaigns newest first, optionally filtered by status.
func (d *DB) ListCampaigns(ctx context.Context, status string) ([]*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM newsletter_campaigns`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// TransitionCampaign moves a campaign from one status to another. It fails
// with ErrConflict when the campaign is not in the expected status.
func (d *DB) TransitionCampaign(ctx context.Context, id, from, to string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE newsletter_campaigns SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	if err := affected(res); err != nil {
		if _, getErr := d.GetCampaign(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: campaign is not %s", ErrConflict, from)
	}
	return nil
}

// FinishCampaign records delivery results and the final status.
func (d *DB) FinishCampaign(ctx context.Context, id, status string, sent, failed int, sentAt time.Time) error {
	res, err := d.db.ExecContext(ctx, `
	UPDATE newsletter_campaigns SET status = ?, sent_count = ?, failed_count = ?, sent_at = ? WHERE id = ?`,
		status, sent, failed, sentAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish campaign: %w", err)
	}
	return affected(res)
}

// PendingRecipients returns subscribed addresses that have no recorded
// delivery for the campaign.
func (d *DB) PendingRecipients(ctx context.Context, campaignID string) ([]*Subscriber, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT `+subscriberColumns+` FROM newsletter_subscribers s
	WHERE s.status = ? AND NOT EXISTS (
		SELECT 1 FROM campaign_deliveries cd
		WHERE cd.campaign_id = ? AND cd.subscriber_id = s.id
	)
	ORDER BY s.subscribed_at, s.id`, Subscribed, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// RecordDelivery stores the outcome of sending a campaign to one subscriber.
// A second record for the same pair yields ErrConflict.
func (d *DB) RecordDelivery(ctx context.Context, campaignID, subscriberID, status string) error {
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO campaign_deliveries (campaign_id, subscriber_id, status, attempted_at)
	VALUES (?, ?, ?, ?)`, campaignID, subscriberID, status, d.Now())
	if err != nil {
		return fmt.Errorf("record delivery: %w", mapError(err))
	}
	return nil
}

// DeliveryCounts totals the recorded outcomes of a campaign.
func (d *DB) DeliveryCounts(ctx context.Context, campaignID string) (sent, failed int, err error) {
	err = d.db.QueryRowContext(ctx, `
	SELECT COALESCE(SUM(status = ?), 0), COALESCE(SUM(status = ?), 0)
	FROM campaign_deliveries WHERE campaign_id = ?`,
		DeliverySent, DeliveryFailed, campaignID,
	).Scan(&sent, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("count deliveries: %w", err)
	}
	return sent, failed, nil
}
