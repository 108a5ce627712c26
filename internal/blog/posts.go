package blog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/content"
	"github.com/renderinc/quillhub/internal/storage"
)

const (
	maxTitleLength = 200
	maxTags        = 10
	// maxSlugAttempts bounds the -2, -3... suffix search for a free slug.
	maxSlugAttempts = 100
)

// PostInput carries post fields from the API. Nil fields are left unchanged
// on update.
type PostInput struct {
	Title      *string   `json:"title"`
	Slug       *string   `json:"slug"`
	Content    *string   `json:"content"`
	CategoryID *string   `json:"category_id"`
	Tags       *[]string `json:"tags"`
	CoverImage *string   `json:"cover_image"`
}

// CreatePost stores a new draft by author.
func (s *Service) CreatePost(ctx context.Context, author *storage.User, in PostInput) (*storage.Post, error) {
	if author == nil {
		return nil, accounts.ErrUnauthorized
	}
	if !accounts.CanWrite(author) {
		return nil, accounts.ErrForbidden
	}

	p := &storage.Post{AuthorID: author.ID, Status: storage.PostDraft, Tags: []string{}}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	if p.Title == "" {
		return nil, fmt.Errorf("%w: title is required", accounts.ErrInvalid)
	}

	base := p.Slug
	if base == "" {
		base = content.Slugify(p.Title)
	}
	slug, err := s.uniqueSlug(ctx, base, "")
	if err != nil {
		return nil, err
	}
	p.Slug = slug

	if err := s.db.CreatePost(ctx, p); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	p.AuthorName, p.AuthorUsername = author.DisplayName, author.Username
	s.logger.Info("post created", zap.String("post_id", p.ID), zap.String("slug", p.Slug))
	return p, nil
}

// apply copies the set fields of in onto p and re-renders derived content.
func (s *Service) apply(ctx context.Context, p *storage.Post, in PostInput) error {
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return fmt.Errorf("%w: title is required", accounts.ErrInvalid)
		}
		if len([]rune(title)) > maxTitleLength {
			return fmt.Errorf("%w: title exceeds %d characters", accounts.ErrInvalid, maxTitleLength)
		}
		p.Title = title
	}
	if in.Slug != nil {
		p.Slug = content.Slugify(*in.Slug)
	}
	if in.Content != nil {
		p.Content = *in.Content
	}
	if in.CategoryID != nil {
		if *in.CategoryID == "" {
			p.CategoryID = nil
		} else {
			if _, err := s.db.GetCategory(ctx, *in.CategoryID); err != nil {
				if isNotFound(err) {
					return fmt.Errorf("%w: unknown category", accounts.ErrInvalid)
				}
				return fmt.Errorf("get category: %w", err)
			}
			id := *in.CategoryID
			p.CategoryID = &id
		}
	}
	if in.Tags != nil {
		tags := normalizeTags(*in.Tags)
		if len(tags) > maxTags {
			return fmt.Errorf("%w: at most %d tags", accounts.ErrInvalid, maxTags)
		}
		p.Tags = tags
	}
	if in.CoverImage != nil {
		p.CoverImage = strings.TrimSpace(*in.CoverImage)
	}

	r, err := content.Render(p.Content)
	if err != nil {
		return err
	}
	p.ContentHTML = r.HTML
	p.Excerpt = r.Excerpt
	p.ReadingMinutes = r.ReadingMinutes
	return nil
}

// uniqueSlug returns base, or base with the first free numeric suffix.
func (s *Service) uniqueSlug(ctx context.Context, base, excludeID string) (string, error) {
	if base == "" {
		base = "post"
	}
	for n := 1; n <= maxSlugAttempts; n++ {
		candidate := content.WithSuffix(base, n)
		taken, err := s.db.PostSlugExists(ctx, candidate, excludeID)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("slug %q: %w", base, storage.ErrConflict)
}

// normalizeTags lower-cases, trims and de-duplicates tags, keeping order.
func normalizeTags(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// canEdit reports whether u may modify p.
func canEdit(u *storage.User, p *storage.Post) bool {
	return accounts.IsAdmin(u) || (accounts.CanWrite(u) && u.ID == p.AuthorID)
}

// visible reports whether viewer may read p.
func visible(viewer *storage.User, p *storage.Post) bool {
	return p.Status == storage.PostPublished || canEdit(viewer, p)
}

// GetPost returns a post by ID. Unpublished posts are only visible to their
// author and admins; others get ErrNotFound.
func (s *Service) GetPost(ctx context.Context, id string, viewer *storage.User) (*storage.Post, error) {
	p, err := s.db.GetPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	if !visible(viewer, p) {
		return nil, fmt.Errorf("get post: %w", storage.ErrNotFound)
	}
	return p, nil
}

// GetPostBySlug is GetPost keyed by slug.
func (s *Service) GetPostBySlug(ctx context.Context, slug string, viewer *storage.User) (*storage.Post, error) {
	p, err := s.db.GetPostBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	if !visible(viewer, p) {
		return nil, fmt.Errorf("get post: %w", storage.ErrNotFound)
	}
	return p, nil
}

// editable loads a post for modification by editor.
func (s *Service) editable(ctx context.Context, editor *storage.User, id string) (*storage.Post, error) {
	if editor == nil {
		return nil, accounts.ErrUnauthorized
	}
	p, err := s.db.GetPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	if !canEdit(editor, p) {
		return nil, accounts.ErrForbidden
	}
	return p, nil
}

// lockedByOther reports whether someone other than userID holds a live lock on p.
func (s *Service) lockedByOther(p *storage.Post, userID string) bool {
	if p.LockedBy == nil || *p.LockedBy == userID || p.LockedAt == nil {
		return false
	}
	return s.db.Now().Sub(*p.LockedAt) < s.opts.LockTTL
}

// UpdatePost edits a post. The previous title and body are kept as a revision.
// A live lock held by another editor rejects the update with ErrLocked.
func (s *Service) UpdatePost(ctx context.Context, editor *storage.User, id string, in PostInput) (*storage.Post, error) {
	p, err := s.editable(ctx, editor, id)
	if err != nil {
		return nil, err
	}
	if s.lockedByOther(p, editor.ID) {
		return nil, ErrLocked
	}

	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	if in.Slug != nil {
		slug, err := s.uniqueSlug(ctx, p.Slug, p.ID)
		if err != nil {
			return nil, err
		}
		p.Slug = slug
	}

	if err := s.db.UpdatePost(ctx, p, editor.ID, s.opts.MaxRevisions); err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	s.reindex(p)
	s.invalidate("posts:", "categories")
	return p, nil
}

// PublishPost publishes a post now, or schedules it when at is in the future.
func (s *Service) PublishPost(ctx context.Context, editor *storage.User, id string, at *time.Time) (*storage.Post, error) {
	p, err := s.editable(ctx, editor, id)
	if err != nil {
		return nil, err
	}

	now := s.db.Now()
	if at != nil && at.After(now) {
		when := at.UTC()
		if err := s.db.SetPostStatus(ctx, p.ID, storage.PostScheduled, p.PublishedAt, &when); err != nil {
			return nil, fmt.Errorf("schedule post: %w", err)
		}
		p.Status, p.ScheduledAt = storage.PostScheduled, &when
		s.logger.Info("post scheduled", zap.String("post_id", p.ID), zap.Time("at", when))
	} else {
		if err := s.publish(ctx, p, now); err != nil {
			return nil, err
		}
	}
	s.reindex(p)
	s.invalidate("posts:", "categories")
	return p, nil
}

// publish marks p published, keeping the first publication time on republish.
func (s *Service) publish(ctx context.Context, p *storage.Post, now time.Time) error {
	published := now
	if p.PublishedAt != nil {
		published = *p.PublishedAt
	}
	if err := s.db.SetPostStatus(ctx, p.ID, storage.PostPublished, &published, nil); err != nil {
		return fmt.Errorf("publish post: %w", err)
	}
	p.Status, p.PublishedAt, p.ScheduledAt = storage.PostPublished, &published, nil
	s.logger.Info("post published", zap.String("post_id", p.ID), zap.String("slug", p.Slug))
	return nil
}

// PublishDue publishes scheduled posts whose time has come and returns how
// many were published.
func (s *Service) PublishDue(ctx context.Context) (int, error) {
	now := s.db.Now()
	ids, err := s.db.DuePostIDs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due posts: %w", err)
	}
	published := 0
	for _, id := range ids {
		p, err := s.db.GetPost(ctx, id)
		if err != nil {
			return published, fmt.Errorf("get post: %w", err)
		}
		when := now
		if p.ScheduledAt != nil {
			when = *p.ScheduledAt
		}
		if err := s.publish(ctx, p, when); err != nil {
			return published, err
		}
		s.reindex(p)
		published++
	}
	if published > 0 {
		s.invalidate("posts:", "categories")
	}
	return published, nil
}

// ArchivePost hides a post from readers.
func (s *Service) ArchivePost(ctx context.Context, editor *storage.User, id string) error {
	p, err := s.editable(ctx, editor, id)
	if err != nil {
		return err
	}
	if s.lockedByOther(p, editor.ID) && !accounts.IsAdmin(editor) {
		return ErrLocked
	}
	if err := s.db.SetPostStatus(ctx, p.ID, storage.PostArchived, p.PublishedAt, nil); err != nil {
		return fmt.Errorf("archive post: %w", err)
	}
	p.Status = storage.PostArchived
	s.reindex(p)
	s.invalidate("posts:", "categories")
	return nil
}

// LockPost takes or refreshes the edit lock for editor.
func (s *Service) LockPost(ctx context.Context, editor *storage.User, id string) (*time.Time, error) {
	if _, err := s.editable(ctx, editor, id); err != nil {
		return nil, err
	}
	at, err := s.db.AcquireLock(ctx, id, editor.ID, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock post: %w", err)
	}
	return at, nil
}

// UnlockPost releases editor's lock. Admins may break anyone's lock.
func (s *Service) UnlockPost(ctx context.Context, editor *storage.User, id string) error {
	if _, err := s.editable(ctx, editor, id); err != nil {
		return err
	}
	return s.db.ReleaseLock(ctx, id, editor.ID, accounts.IsAdmin(editor))
}

// Revisions lists a post's revisions, newest first.
func (s *Service) Revisions(ctx context.Context, editor *storage.User, id string) ([]*storage.PostRevision, error) {
	if _, err := s.editable(ctx, editor, id); err != nil {
		return nil, err
	}
	return s.db.ListRevisions(ctx, id)
}

// RestoreRevision reinstates a revision's title and body. The content being
// replaced becomes a new revision, so a restore can itself be reverted.
func (s *Service) RestoreRevision(ctx context.Context, editor *storage.User, postID, revisionID string) (*storage.Post, error) {
	rev, err := s.db.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}
	if rev.PostID != postID {
		return nil, fmt.Errorf("get revision: %w", storage.ErrNotFound)
	}
	return s.UpdatePost(ctx, editor, postID, PostInput{Title: &rev.Title, Content: &rev.Content})
}

// RecordView counts one view of a published post unless viewer is its
// author. It returns the resulting view count and whether this view counted.
func (s *Service) RecordView(ctx context.Context, id string, viewer *storage.User) (int64, bool, error) {
	p, err := s.db.GetPost(ctx, id)
	if err != nil {
		return 0, false, fmt.Errorf("get post: %w", err)
	}
	if p.Status != storage.PostPublished {
		return 0, false, fmt.Errorf("get post: %w", storage.ErrNotFound)
	}
	if viewer != nil && viewer.ID == p.AuthorID {
		return p.Views, false, nil
	}
	views, err := s.db.IncrementViews(ctx, id)
	if err != nil {
		return 0, false, fmt.Errorf("increment views: %w", err)
	}
	return views, true, nil
}

// LikePost likes (on) or unlikes a published post and returns its like count.
func (s *Service) LikePost(ctx context.Context, u *storage.User, id string, on bool) (int, error) {
	if u == nil {
		return 0, accounts.ErrUnauthorized
	}
	if _, err := s.GetPost(ctx, id, u); err != nil {
		return 0, err
	}
	if err := s.db.SetPostLike(ctx, id, u.ID, on); err != nil {
		return 0, fmt.Errorf("set like: %w", err)
	}
	return s.db.PostLikes(ctx, id)
}

// BookmarkPost adds (on) or removes a bookmark.
func (s *Service) BookmarkPost(ctx context.Context, u *storage.User, id string, on bool) error {
	if u == nil {
		return accounts.ErrUnauthorized
	}
	if _, err := s.GetPost(ctx, id, u); err != nil {
		return err
	}
	if err := s.db.SetBookmark(ctx, u.ID, id, on); err != nil {
		return fmt.Errorf("set bookmark: %w", err)
	}
	return nil
}

// Engagement is the viewer-specific state of a post.
type Engagement struct {
	Likes      int  `json:"likes"`
	Liked      bool `json:"liked"`
	Bookmarked bool `json:"bookmarked"`
}

// PostEngagement returns like counts and, for a signed-in viewer, their own state.
func (s *Service) PostEngagement(ctx context.Context, id string, viewer *storage.User) (*Engagement, error) {
	e := &Engagement{}
	var err error
	if e.Likes, err = s.db.PostLikes(ctx, id); err != nil {
		return nil, fmt.Errorf("count likes: %w", err)
	}
	if viewer == nil {
		return e, nil
	}
	if e.Liked, err = s.db.HasLikedPost(ctx, id, viewer.ID); err != nil {
		return nil, fmt.Errorf("check like: %w", err)
	}
	if e.Bookmarked, err = s.db.HasBookmarked(ctx, viewer.ID, id); err != nil {
		return nil, fmt.Errorf("check bookmark: %w", err)
	}
	return e, nil
}
