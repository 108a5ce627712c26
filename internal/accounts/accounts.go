// Package accounts handles registration, sessions, profiles and the social
// graph between users.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/renderinc/quillhub/internal/content"
	"github.com/renderinc/quillhub/internal/storage"
)

var (
	// ErrUnauthorized is returned when credentials or a session are missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller lacks the role or ownership for an action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid wraps input validation failures.
	ErrInvalid = errors.New("invalid input")
	// ErrUsernameExhausted is returned when no free username was found within the retry budget.
	ErrUsernameExhausted = errors.New("could not allocate a unique username")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// hashCost is the bcrypt cost. Tests lower it.
var hashCost = bcrypt.DefaultCost

// Service implements account operations on top of storage.
type Service struct {
	db         *storage.DB
	logger     *zap.Logger
	sessionTTL time.Duration
	retries    int
}

// NewService creates an account service. retries bounds the username
// generation loop.
func NewService(db *storage.DB, logger *zap.Logger, sessionTTL time.Duration, retries int) *Service {
	if retries <= 0 {
		retries = 1
	}
	return &Service{db: db, logger: logger, sessionTTL: sessionTTL, retries: retries}
}

// RegisterInput is the signup form.
type RegisterInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	// Username is optional; it is derived from the display name or email when empty.
	Username string `json:"username"`
}

// Register creates a reader account and opens a session for it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*storage.User, *storage.Session, error) {
	u, err := s.CreateUser(ctx, in, storage.RoleReader)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.db.CreateSession(ctx, u.ID, s.sessionTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u, sess, nil
}

// CreateUser validates in and inserts a user with the given role.
func (s *Service) CreateUser(ctx context.Context, in RegisterInput, role string) (*storage.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalid, MinPasswordLength)
	}
	switch role {
	case storage.RoleReader, storage.RoleAuthor, storage.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}

	if _, err := s.db.GetUserByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("email %s: %w", email, storage.ErrConflict)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = strings.SplitN(email, "@", 2)[0]
	}

	u := &storage.User{
		Email:        email,
		DisplayName:  display,
		Role:         role,
		PasswordHash: string(hash),
	}

	// An explicit username is taken as-is; a derived one is retried with suffixes.
	if in.Username != "" {
		name := normalizeUsername(in.Username)
		if name == "" {
			return nil, fmt.Errorf("%w: username must contain letters or digits", ErrInvalid)
		}
		u.Username = name
		if err := s.db.CreateUser(ctx, u); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return u, nil
	}

	base := normalizeUsername(display)
	if base == "" {
		base = normalizeUsername(strings.SplitN(email, "@", 2)[0])
	}
	if base == "" {
		base = "user"
	}
	if err := s.insertWithUniqueUsername(ctx, u, base); err != nil {
		return nil, err
	}
	return u, nil
}

// insertWithUniqueUsername tries base, base-2, base-3... until an insert
// succeeds or the retry budget is spent.
func (s *Service) insertWithUniqueUsername(ctx context.Context, u *storage.User, base string) error {
	for attempt := 1; attempt <= s.retries; attempt++ {
		u.ID = ""
		u.Username = content.WithSuffix(base, attempt)
		err := s.db.CreateUser(ctx, u)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("create user: %w", err)
		}
		// The email may have been claimed concurrently; retrying will not help.
		if _, lookupErr := s.db.GetUserByEmail(ctx, u.Email); lookupErr == nil {
			return fmt.Errorf("email %s: %w", u.Email, storage.ErrConflict)
		}
		s.logger.Debug("username taken, retrying",
			zap.String("username", u.Username),
			zap.Int("attempt", attempt),
		)
	}
	return fmt.Errorf("%w after %d attempts", ErrUsernameExhausted, s.retries)
}

// Login verifies credentials. identifier is an email or username.
func (s *Service) Login(ctx context.Context, identifier, password string) (*storage.User, *storage.Session, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	var (
		u   *storage.User
		err error
	)
	if strings.Contains(identifier, "@") {
		u, err = s.db.GetUserByEmail(ctx, identifier)
	} else {
		u, err = s.db.GetUserByUsername(ctx, identifier)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrUnauthorized
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrUnauthorized
	}

	sess, err := s.db.CreateSession(ctx, u.ID, s.sessionTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return u, sess, nil
}

// Logout ends a session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.db.DeleteSession(ctx, token)
}

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*storage.User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	u, err := s.db.SessionUser(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return u, nil
}

// PurgeSessions deletes expired sessions.
func (s *Service) PurgeSessions(ctx context.Context) (int64, error) {
	return s.db.DeleteExpiredSessions(ctx)
}

// SetRole changes a user's role. Only admins may do this.
func (s *Service) SetRole(ctx context.Context, actor *storage.User, username, role string) (*storage.User, error) {
	if !IsAdmin(actor) {
		return nil, ErrForbidden
	}
	switch role {
	case storage.RoleReader, storage.RoleAuthor, storage.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}
	u, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := s.db.SetUserRole(ctx, u.ID, role); err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	u.Role = role
	return u, nil
}

// CanWrite reports whether u may author posts.
func CanWrite(u *storage.User) bool {
	return u != nil && (u.Role == storage.RoleAuthor || u.Role == storage.RoleAdmin)
}

// IsAdmin reports whether u is an administrator.
func IsAdmin(u *storage.User) bool {
	return u != nil && u.Role == storage.RoleAdmin
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", fmt.Errorf("%w: email address is not valid", ErrInvalid)
	}
	return strings.ToLower(addr.Address), nil
}

// normalizeUsername reduces s to lower-case letters, digits and hyphens.
func normalizeUsername(s string) string {
	name := content.Slugify(s)
	if len(name) > 30 {
		name = strings.TrimRight(name[:30], "-")
	}
	return name
}
