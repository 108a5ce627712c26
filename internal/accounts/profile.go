package accounts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/storage"
)

// Profile is the public view of a user.
type Profile struct {
	User        *storage.User `json:"user"`
	Followers   int           `json:"followers"`
	Following   int           `json:"following"`
	Posts       int           `json:"posts"`
	IsFollowing bool          `json:"is_following"`
}

// Profile loads username's public profile and records a view by viewer.
// viewer may be nil for anonymous visitors; users viewing their own profile
// are not recorded.
func (s *Service) Profile(ctx context.Context, username string, viewer *storage.User) (*Profile, error) {
	u, err := s.db.GetUserByUsername(ctx, strings.ToLower(username))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	p := &Profile{User: publicUser(u)}
	if p.Followers, err = s.db.FollowerCount(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("count followers: %w", err)
	}
	if p.Following, err = s.db.FollowingCount(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("count following: %w", err)
	}
	if p.Posts, err = s.db.CountPosts(ctx, storage.PostFilter{AuthorID: u.ID, Status: storage.PostPublished}); err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}

	viewerID := ""
	if viewer != nil {
		viewerID = viewer.ID
		if p.IsFollowing, err = s.db.IsFollowing(ctx, viewer.ID, u.ID); err != nil {
			return nil, fmt.Errorf("check follow: %w", err)
		}
	}
	if viewerID != u.ID {
		// A failed view record does not fail the page.
		if err := s.db.RecordProfileView(ctx, u.ID, viewerID); err != nil {
			s.logger.Warn("record profile view failed", zap.String("profile_id", u.ID), zap.Error(err))
		}
	}
	return p, nil
}

// ProfileInput holds editable profile fields. Nil fields are left unchanged.
type ProfileInput struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
}

// UpdateProfile edits u's own profile.
func (s *Service) UpdateProfile(ctx context.Context, u *storage.User, in ProfileInput) (*storage.User, error) {
	if u == nil {
		return nil, ErrUnauthorized
	}
	updated := *u
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return nil, fmt.Errorf("%w: display name is required", ErrInvalid)
		}
		updated.DisplayName = name
	}
	if in.Bio != nil {
		updated.Bio = strings.TrimSpace(*in.Bio)
	}
	if in.AvatarURL != nil {
		updated.AvatarURL = strings.TrimSpace(*in.AvatarURL)
	}
	if err := s.db.UpdateProfile(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &updated, nil
}

// Follow makes follower follow (on) or unfollow username.
func (s *Service) Follow(ctx context.Context, follower *storage.User, username string, on bool) (int, error) {
	if follower == nil {
		return 0, ErrUnauthorized
	}
	target, err := s.db.GetUserByUsername(ctx, strings.ToLower(username))
	if err != nil {
		return 0, fmt.Errorf("get user: %w", err)
	}
	if target.ID == follower.ID {
		return 0, fmt.Errorf("%w: cannot follow yourself", ErrInvalid)
	}
	if err := s.db.SetFollow(ctx, follower.ID, target.ID, on); err != nil {
		return 0, fmt.Errorf("set follow: %w", err)
	}
	return s.db.FollowerCount(ctx, target.ID)
}

// Followers lists users following username.
func (s *Service) Followers(ctx context.Context, username string) ([]*storage.User, error) {
	u, err := s.db.GetUserByUsername(ctx, strings.ToLower(username))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	users, err := s.db.ListFollowers(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	for i, f := range users {
		users[i] = publicUser(f)
	}
	return users, nil
}

// ProfileViews returns recent visits to u's profile.
func (s *Service) ProfileViews(ctx context.Context, u *storage.User, limit int) ([]*storage.ProfileView, error) {
	if u == nil {
		return nil, ErrUnauthorized
	}
	return s.db.ListProfileViews(ctx, u.ID, limit)
}

// publicUser strips private fields.
func publicUser(u *storage.User) *storage.User {
	c := *u
	c.Email = ""
	c.PasswordHash = ""
	return &c
}
