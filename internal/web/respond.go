package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/newsletter"
	"github.com/renderinc/quillhub/internal/search"
	"github.com/renderinc/quillhub/internal/storage"
	"github.com/renderinc/quillhub/internal/undo"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, accounts.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, accounts.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, newsletter.ErrAlreadyUnsubscribed),
		errors.Is(err, accounts.ErrUsernameExhausted),
		errors.Is(err, undo.ErrNothingToUndo),
		errors.Is(err, undo.ErrNothingToRedo):
		return http.StatusConflict
	case errors.Is(err, accounts.ErrInvalid),
		errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrBadQuery):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError reports err as {"error": ...}. Internal errors are logged and
// their detail withheld.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", accounts.ErrInvalid)
		}
		return fmt.Errorf("%w: decode body: %v", accounts.ErrInvalid, err)
	}
	return nil
}

// intParam reads a positive integer query parameter, returning 0 when it is
// absent or malformed.
func intParam(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// requireUser returns the caller or writes 401.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (*storage.User, bool) {
	u := currentUser(r)
	if u == nil {
		s.writeError(w, r, accounts.ErrUnauthorized)
		return nil, false
	}
	return u, true
}
