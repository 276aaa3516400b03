package web

// errors.go provides unified error responses for the API.
//
// Every handler error goes through respondError: the technical error is
// logged with the request id, and the client gets the coded user message
// from core.MapError.

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/payrecon/internal/core"
	"github.com/JonMunkholm/payrecon/internal/logging"
	"github.com/JonMunkholm/payrecon/internal/query"
	"github.com/JonMunkholm/payrecon/internal/schema"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
	Code   string `json:"code"`
}

// respondError logs err and writes its user message. A zero status is
// derived from the error with statusFor.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)
	if status == 0 {
		status = statusFor(err, msg.Code)
	}

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeError(w, status, msg)
}

// writeError writes msg as an ErrorResponse.
func writeError(w http.ResponseWriter, status int, msg core.UserMessage) {
	writeJSON(w, status, ErrorResponse{
		Error:  msg.Message,
		Action: msg.Action,
		Code:   msg.Code,
	})
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error, code string) int {
	switch {
	case errors.Is(err, core.ErrRunNotFound), errors.Is(err, schema.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRunInProgress), errors.Is(err, schema.ErrNoRegistry):
		return http.StatusConflict
	case errors.Is(err, core.ErrNoDatabase):
		return http.StatusServiceUnavailable
	case errors.Is(err, query.ErrInvalidDateFilter), errors.Is(err, query.ErrInvalidTable):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "SQL"):
		// request options the generator rejected
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
