package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	markup2pdf "github.com/alnah/go-markup2pdf"
	"github.com/alnah/go-markup2pdf/internal/hints"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Stack   string `json:"stack,omitempty"` // development mode only
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps conversion errors onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, markup2pdf.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, markup2pdf.ErrInvalidContent), errors.Is(err, markup2pdf.ErrElementNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, markup2pdf.ErrEngineLaunch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// hintFor returns an operator hint for failures that have one.
func hintFor(err error, selector string) string {
	switch {
	case errors.Is(err, markup2pdf.ErrBrowserConnect):
		return hints.ForBrowserConnect()
	case errors.Is(err, markup2pdf.ErrLegacyUnavailable):
		return hints.ForLegacyUnavailable()
	case errors.Is(err, markup2pdf.ErrElementNotFound):
		return hints.ForElementNotFound(selector)
	case errors.Is(err, markup2pdf.ErrIOFailure):
		return hints.ForOutputDirectory()
	case errors.Is(err, context.DeadlineExceeded):
		return hints.ForTimeout()
	}
	return ""
}

// writeError logs err and writes the JSON error body. Development mode adds
// the hint text under "stack".
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, selector string) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.Error(err),
		zap.Int("status", status),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("conversion failed", fields...)
	} else {
		s.logger.Info("conversion rejected", fields...)
	}

	resp := errorResponse{Error: err.Error()}
	if s.cfg.IsDevelopment() {
		resp.Stack = err.Error() + hintFor(err, selector)
	}
	writeJSON(w, status, resp)
}
