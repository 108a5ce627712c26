package web

import (
	"net/http"
	"time"

	"github.com/renderinc/quillhub/internal/blog"
)

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.svc.Blog.ListPosts(r.Context(), blog.ListQuery{
		Category: q.Get("category"),
		Author:   q.Get("author"),
		Tag:      q.Get("tag"),
		Sort:     q.Get("sort"),
		Page:     intParam(r, "page"),
		Limit:    intParam(r, "limit"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleMyPosts(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	page, err := s.svc.Blog.AuthorPosts(r.Context(), u, r.URL.Query().Get("status"), intParam(r, "page"), intParam(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in blog.PostInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Blog.CreatePost(r.Context(), u, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Blog.GetPost(r.Context(), r.PathValue("id"), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in blog.PostInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Blog.UpdatePost(r.Context(), u, r.PathValue("id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Stats.Invalidate()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleArchivePost(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.svc.Blog.ArchivePost(r.Context(), u, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Stats.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

type publishRequest struct {
	// PublishAt schedules the post when in the future.
	PublishAt *time.Time `json:"publish_at"`
}

func (s *Server) handlePublishPost(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in publishRequest
	if r.ContentLength != 0 {
		if err := decode(r, &in); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	p, err := s.svc.Blog.PublishPost(r.Context(), u, r.PathValue("id"), in.PublishAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Stats.Invalidate()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleLockPost(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	at, err := s.svc.Blog.LockPost(r.Context(), u, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locked_by": u.ID, "locked_at": at})
}

func (s *Server) handleUnlockPost(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.svc.Blog.UnlockPost(r.Context(), u, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	revs, err := s.svc.Blog.Revisions(r.Context(), u, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revs})
}

func (s *Server) handleRestoreRevision(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	p, err := s.svc.Blog.RestoreRevision(r.Context(), u, r.PathValue("id"), r.PathValue("rev"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRecordView(w http.ResponseWriter, r *http.Request) {
	views, counted, err := s.svc.Blog.RecordView(r.Context(), r.PathValue("id"), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"views": views, "counted": counted})
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.Blog.PostEngagement(r.Context(), r.PathValue("id"), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleLikePost(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		n, err := s.svc.Blog.LikePost(r.Context(), u, r.PathValue("id"), on)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"liked": on, "likes": n})
	}
}

func (s *Server) handleBookmarkPost(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		if err := s.svc.Blog.BookmarkPost(r.Context(), u, r.PathValue("id"), on); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookmarked": on})
	}
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.svc.Blog.Comments(r.Context(), r.PathValue("id"), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in blog.CommentInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.svc.Blog.AddComment(r.Context(), u, r.PathValue("id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.svc.Blog.DeleteComment(r.Context(), u, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLikeComment(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		n, err := s.svc.Blog.LikeComment(r.Context(), u, r.PathValue("id"), on)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"liked": on, "likes": n})
	}
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.svc.Blog.Categories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in blog.CategoryInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.svc.Blog.CreateCategory(r.Context(), u, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in blog.CategoryInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.svc.Blog.UpdateCategory(r.Context(), u, r.PathValue("id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.svc.Blog.DeleteCategory(r.Context(), u, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit")
	if limit == 0 || limit > 100 {
		limit = 20
	}
	offset := intParam(r, "offset")

	res, err := s.svc.Search.Search(r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
