// Package admin gates operator and trusted-client routes behind shared tokens.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "bav/pkg/domain-errors"
	"bav/pkg/platform/httputil"
	"bav/pkg/requestcontext"
)

const (
	// TokenHeader carries the operator token.
	TokenHeader = "X-Admin-Token"
	// ClientTokenHeader carries the token of the upstream client that starts sessions.
	ClientTokenHeader = "X-Client-Token"
)

// RequireAdminToken rejects requests without the expected token. An empty
// expected token rejects everything.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return requireToken(TokenHeader, expectedToken, "admin token required", logger)
}

// RequireClientToken rejects requests that do not carry the upstream client's
// token. An empty expected token rejects everything.
func RequireClientToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return requireToken(ClientTokenHeader, expectedToken, "client token required", logger)
}

func requireToken(header, expectedToken, message string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(header)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "token mismatch",
					"header", header,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, message))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
