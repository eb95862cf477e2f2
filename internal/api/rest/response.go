package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	derrors "github.com/grcworks/sod-analyzer/internal/domain/errors"
)

// ResponseMeta carries per-response metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ResponseEnvelope wraps every successful JSON response.
type ResponseEnvelope struct {
	Data interface{}  `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ErrorBody is the error payload shape.
type ErrorBody struct {
	Type    string                 `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps error payloads.
type ErrorResponse struct {
	Error ErrorBody    `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, r, status, ResponseEnvelope{
		Data: data,
		Meta: responseMeta(r),
	})
}

// writeError maps application errors to their HTTP status. Anything that is
// not an AppError becomes an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := derrors.GetStatusCode(err)

	body := ErrorBody{
		Type:    string(derrors.ErrorTypeInternal),
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred",
	}
	if appErr, ok := asAppError(err); ok {
		body = ErrorBody{
			Type:    string(appErr.Type),
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}
	}

	if status >= 500 {
		slog.ErrorContext(r.Context(), "request failed",
			"error", err,
			"path", r.URL.Path,
		)
	}

	writeJSON(w, r, status, ErrorResponse{
		Error: body,
		Meta:  responseMeta(r),
	})
}

func responseMeta(r *http.Request) ResponseMeta {
	return ResponseMeta{
		RequestID: requestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	}
}

func asAppError(err error) (*derrors.AppError, bool) {
	var appErr *derrors.AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
