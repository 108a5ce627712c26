package storage

import "time"

// Roles a user can hold.
const (
	RoleReader = "reader"
	RoleAuthor = "author"
	RoleAdmin  = "admin"
)

// Post statuses.
const (
	PostDraft     = "draft"
	PostScheduled = "scheduled"
	PostPublished = "published"
	PostArchived  = "archived"
)

// Comment statuses.
const (
	CommentPending  = "pending"
	CommentApproved = "approved"
	CommentSpam     = "spam"
	CommentRejected = "rejected"
)

// Newsletter subscriber statuses.
const (
	Subscribed   = "subscribed"
	Unsubscribed = "unsubscribed"
)

// Campaign statuses.
const (
	CampaignDraft   = "draft"
	CampaignSending = "sending"
	CampaignSent    = "sent"
	CampaignFailed  = "failed"
)

// Per-recipient delivery outcomes.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// User is an account: reader, author or admin.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name"`
	Bio          string    `json:"bio"`
	AvatarURL    string    `json:"avatar_url"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is a bearer token bound to a user.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Category groups posts. Categories may nest one level under a parent.
type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	ParentID    *string   `json:"parent_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Computed by ListCategories.
	PostCount int `json:"post_count"`
}

// Post is an article. Content is markdown; ContentHTML and Excerpt are
// derived from it on every write.
type Post struct {
	ID             string     `json:"id"`
	AuthorID       string     `json:"author_id"`
	CategoryID     *string    `json:"category_id"`
	Title          string     `json:"title"`
	Slug           string     `json:"slug"`
	Content        string     `json:"content"` // Markdown
	ContentHTML    string     `json:"content_html"`
	Excerpt        string     `json:"excerpt"`
	Tags           []string   `json:"tags"`
	CoverImage     string     `json:"cover_image"`
	Status         string     `json:"status"`
	Views          int64      `json:"views"`
	ReadingMinutes int        `json:"reading_minutes"`
	PublishedAt    *time.Time `json:"published_at"`
	ScheduledAt    *time.Time `json:"scheduled_at"`
	LockedBy       *string    `json:"locked_by,omitempty"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Joined from users on read.
	AuthorName     string `json:"author_name"`
	AuthorUsername string `json:"author_username"`
}

// PostRevision is a snapshot of a post's title and body before an edit.
type PostRevision struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	EditorID  string    `json:"editor_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment on a post. ParentID is set for replies.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	ParentID  *string   `json:"parent_id"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Computed on read.
	AuthorName string     `json:"author_name"`
	Likes      int        `json:"likes"`
	Replies    []*Comment `json:"replies,omitempty"`
}

// ProfileView records one visit to a user's profile. ViewerID is nil for
// anonymous visitors.
type ProfileView struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	ViewerID  *string   `json:"viewer_id"`
	ViewedAt  time.Time `json:"viewed_at"`

	ViewerName string `json:"viewer_name,omitempty"`
}

// Subscriber is a newsletter address.
type Subscriber struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Token          string     `json:"-"`
	Status         string     `json:"status"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at"`
}

// Campaign is one newsletter mailing.
type Campaign struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	SentCount   int        `json:"sent_count"`
	FailedCount int        `json:"failed_count"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at"`
}

// Brand owns products in the store.
type Brand struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Website   string    `json:"website"`
	CreatedAt time.Time `json:"created_at"`
}

// Product is an affiliate listing. Visitors are redirected to AffiliateURL
// and each redirect counts a click.
type Product struct {
	ID           string    `json:"id"`
	BrandID      *string   `json:"brand_id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	PriceCents   int64     `json:"price_cents"`
	Currency     string    `json:"currency"`
	ImageURL     string    `json:"image_url"`
	AffiliateURL string    `json:"affiliate_url"`
	Clicks       int64     `json:"clicks"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	BrandName string `json:"brand_name,omitempty"`
}
