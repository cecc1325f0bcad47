// Package httputil holds the JSON envelope helpers shared by HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "bav/pkg/domain-errors"
)

// Preparable is implemented by request bodies that normalize and validate
// themselves after decoding.
type Preparable interface {
	Normalize()
	Validate() error
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into the public error envelope. Only the status
// class is exposed; the description is omitted for server errors.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.HTTPStatus(code)

	body := map[string]string{
		"error": dErrors.StatusClass(code),
	}
	if status < http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) && de.Message != "" {
			body["error_description"] = de.Message
		}
	}
	WriteJSON(w, status, body)
}

// DecodeAndPrepare decodes a JSON body into T, normalizes and validates it.
// On failure it writes the error response and returns false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Preparable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	if r.Body == nil || r.ContentLength == 0 {
		logger.WarnContext(ctx, "missing request body",
			"request_id", requestID,
			"message_code", "INVALID_REQUEST_PAYLOAD",
		)
		WriteError(w, dErrors.New(dErrors.CodeValidation, "Invalid request: missing body"))
		return nil, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"message_code", "INVALID_REQUEST_PAYLOAD",
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeValidation, "Invalid request body"))
		return nil, false
	}

	p := PT(&req)
	p.Normalize()
	if err := p.Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request payload",
			"request_id", requestID,
			"message_code", "INVALID_REQUEST_PAYLOAD",
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return &req, true
}
