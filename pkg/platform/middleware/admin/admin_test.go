package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	cases := []struct {
		name     string
		expected string
		sent     string
		status   int
	}{
		{"matching token", "s3cret", "s3cret", http.StatusOK},
		{"wrong token", "s3cret", "guess", http.StatusUnauthorized},
		{"missing token", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured token rejects all", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/audit/x", nil)
			if tc.sent != "" {
				req.Header.Set(TokenHeader, tc.sent)
			}
			rec := httptest.NewRecorder()
			RequireAdminToken(tc.expected, logger)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRequireClientToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) })

	t.Run("matching client token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/session", nil)
		req.Header.Set(ClientTokenHeader, "client-secret")
		rec := httptest.NewRecorder()
		RequireClientToken("client-secret", logger)(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("admin header is not accepted in place of the client token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/session", nil)
		req.Header.Set(TokenHeader, "client-secret")
		rec := httptest.NewRecorder()
		RequireClientToken("client-secret", logger)(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unconfigured token rejects all", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/session", nil)
		rec := httptest.NewRecorder()
		RequireClientToken("", logger)(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
