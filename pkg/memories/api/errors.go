package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/simple-memories/pkg/memories"
)

// ErrorBody is the JSON error envelope. Result is set when a finish committed
// its blob but failed to create the requested memory.
type ErrorBody struct {
	Error  ErrorDetail            `json:"error"`
	Result *memories.FinishResult `json:"result,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	switch memories.ErrorClass(err) {
	case "none":
		return http.StatusOK
	case "not_found":
		return http.StatusNotFound
	case "integrity":
		return http.StatusUnprocessableEntity
	case "too_large":
		return http.StatusRequestEntityTooLarge
	case "expired", "conflict":
		return http.StatusConflict
	case "invalid":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.writeErrorBody(w, r, msg, err, nil)
}

func (h *Handler) writeErrorBody(w http.ResponseWriter, r *http.Request, msg string, err error, result *memories.FinishResult) {
	status := StatusFor(err)
	code := memories.ErrorClass(err)
	if status == http.StatusRequestEntityTooLarge {
		code = "too_large"
	}
	attrs := []any{"method", r.Method, "path", r.URL.Path, "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg, attrs...)
	} else {
		h.logger.WarnContext(r.Context(), msg, attrs...)
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = "An internal server error occurred"
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorBody{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: middleware.GetReqID(r.Context()),
		},
		Result: result,
	})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.WarnContext(r.Context(), msg, "method", r.Method, "path", r.URL.Path, "error", err)
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorBody{Error: ErrorDetail{
		Code:      "invalid",
		Message:   msg + ": " + err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
