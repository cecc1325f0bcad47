// Package auth guards routes that act on an existing verification session.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	dErrors "bav/pkg/domain-errors"
	"bav/pkg/platform/httputil"
	"bav/pkg/requestcontext"
)

// SessionHeader carries the verification session id.
const SessionHeader = "x-govuk-signin-session-id"

// RequireSessionHeader rejects requests whose session header is missing or not
// a UUID, and stores the id on the request context.
func RequireSessionHeader(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sessionID := r.Header.Get(SessionHeader)
			if _, err := uuid.Parse(sessionID); err != nil || sessionID == "" {
				logger.WarnContext(ctx, "missing or invalid session id header",
					"request_id", requestcontext.RequestID(ctx),
					"message_code", "INVALID_SESSION_ID",
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "Missing header: session id must be a valid UUID"))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithSessionID(ctx, sessionID)))
		})
	}
}
