package web

import (
	"net/http"
	"time"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/storage"
)

type sessionResponse struct {
	User      *storage.User `json:"user"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

func (s *Server) startSession(w http.ResponseWriter, u *storage.User, sess *storage.Session, status int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, sessionResponse{
		User:      u,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in accounts.RegisterInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, sess, err := s.svc.Accounts.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.startSession(w, u, sess, http.StatusCreated)
}

type loginRequest struct {
	// Login is an email address or username.
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, sess, err := s.svc.Accounts.Login(r.Context(), in.Login, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.startSession(w, u, sess, http.StatusOK)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := s.svc.Accounts.Logout(r.Context(), token); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in accounts.ProfileInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.svc.Accounts.UpdateProfile(r.Context(), u, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	page, err := s.svc.Blog.Bookmarks(r.Context(), u, intParam(r, "page"), intParam(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	page, err := s.svc.Blog.Feed(r.Context(), u, intParam(r, "page"), intParam(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleProfileViews(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	views, err := s.svc.Accounts.ProfileViews(r.Context(), u, intParam(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"views": views})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Accounts.Profile(r.Context(), r.PathValue("username"), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAuthorStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats.Author(r.Context(), r.PathValue("username"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.Accounts.Followers(r.Context(), r.PathValue("username"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"followers": users})
}

func (s *Server) handleFollow(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		n, err := s.svc.Accounts.Follow(r.Context(), u, r.PathValue("username"), on)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		// Follower counts appear in cached author stats.
		s.svc.Stats.Invalidate()
		writeJSON(w, http.StatusOK, map[string]any{"following": on, "followers": n})
	}
}

type roleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in roleRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.svc.Accounts.SetRole(r.Context(), u, r.PathValue("username"), in.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
