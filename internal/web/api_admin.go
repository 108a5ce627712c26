package web

import (
	"net/http"

	"github.com/renderinc/quillhub/internal/accounts"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	d, err := s.svc.Stats.Dashboard(r.Context(), u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleModerationQueue(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	comments, err := s.svc.Blog.ModerationQueue(r.Context(), u, r.URL.Query().Get("status"), intParam(r, "page"), intParam(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

type moderateRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleModerateComment(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in moderateRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	action, err := s.svc.Blog.ModerateComment(r.Context(), u, r.PathValue("id"), in.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.undoManager(u).Push(action)
	s.svc.Stats.Invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "status": in.Status, "action": action.Label})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.replay(w, r, true)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.replay(w, r, false)
}

// replay undoes or redoes the caller's last moderation action.
func (s *Server) replay(w http.ResponseWriter, r *http.Request, back bool) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if !accounts.IsAdmin(u) {
		s.writeError(w, r, accounts.ErrForbidden)
		return
	}
	m := s.undoManager(u)

	var (
		label string
		err   error
	)
	if back {
		label, err = m.Undo()
	} else {
		label, err = m.Redo()
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Stats.Invalidate()
	writeJSON(w, http.StatusOK, map[string]any{
		"action":   label,
		"can_undo": m.CanUndo(),
		"can_redo": m.CanRedo(),
	})
}
