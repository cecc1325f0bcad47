package testutil

import (
	"net/http"
	"time"

	"bav/pkg/requestcontext"
)

// SessionHeader is the header the verify endpoint reads the session id from.
const SessionHeader = "x-govuk-signin-session-id"

// WithSessionHeader sets the session id header the way the front end does.
func WithSessionHeader(req *http.Request, sessionID string) *http.Request {
	req.Header.Set(SessionHeader, sessionID)
	return req
}

// WithRequestTime pins the request clock, as the requesttime middleware would.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithClientMetadata sets IP and User-Agent on the context, as the metadata middleware would.
func WithClientMetadata(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}
