// Package handler exposes the bank account verification HTTP API.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"bav/internal/bav/models"
	dErrors "bav/pkg/domain-errors"
	audit "bav/pkg/platform/audit"
	"bav/pkg/platform/httputil"
	"bav/pkg/platform/middleware/admin"
	"bav/pkg/platform/middleware/auth"
	"bav/pkg/requestcontext"
)

// VerificationService runs one account verification.
type VerificationService interface {
	ProcessVerification(ctx context.Context, sessionID, accountNumber, sortCode string) (models.CopCheckResult, error)
}

// SessionService starts sessions and records auth state transitions.
type SessionService interface {
	Start(ctx context.Context, claims models.SharedClaims, clientID, clientSessionID string) (*models.Session, error)
	UpdateAuthState(ctx context.Context, sessionID string, state models.AuthSessionState) error
}

// HealthChecker is any dependency that can report readiness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// AuditReader reads back recorded audit events for a session.
type AuditReader interface {
	List(ctx context.Context, sessionID string) ([]audit.Event, error)
}

// Handler handles the verification, session and health endpoints.
type Handler struct {
	logger      *slog.Logger
	verifier    VerificationService
	sessions    SessionService
	checks      map[string]HealthChecker
	audit       AuditReader
	adminToken  string
	clientToken string
}

type Option func(*Handler)

// WithHealthCheck adds a named dependency to GET /healthz.
func WithHealthCheck(name string, checker HealthChecker) Option {
	return func(h *Handler) {
		if checker != nil {
			h.checks[name] = checker
		}
	}
}

// WithAuditReader enables GET /admin/audit/{sessionID} behind the admin token.
func WithAuditReader(reader AuditReader, adminToken string) Option {
	return func(h *Handler) {
		h.audit = reader
		h.adminToken = adminToken
	}
}

// WithSessionRoutes enables the session routes for callers presenting
// clientToken. Without a token the routes are not registered.
func WithSessionRoutes(clientToken string) Option {
	return func(h *Handler) {
		h.clientToken = clientToken
	}
}

// New creates a new Handler.
func New(verifier VerificationService, sessions SessionService, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:   logger,
		verifier: verifier,
		sessions: sessions,
		checks:   make(map[string]HealthChecker),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.With(auth.RequireSessionHeader(h.logger)).Post("/verify-account", h.handleVerifyAccount)
	if h.clientToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireClientToken(h.clientToken, h.logger))
			r.Post("/session", h.handleStartSession)
			r.Put("/session/{sessionID}/auth-state", h.handleUpdateAuthState)
		})
	}
	r.Get("/healthz", h.handleHealth)
	if h.audit != nil && h.adminToken != "" {
		r.With(admin.RequireAdminToken(h.adminToken, h.logger)).Get("/admin/audit/{sessionID}", h.handleListAudit)
	}
}

func (h *Handler) handleVerifyAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sessionID := requestcontext.SessionID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyAccountRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if _, err := h.verifier.ProcessVerification(ctx, sessionID, req.AccountNumber, req.SortCode); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Success"})
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[StartSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.sessions.Start(ctx, req.SharedClaims, req.ClientID, req.GovukSigninJourneyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, StartSessionResponse{
		SessionID:   session.SessionID,
		State:       session.State,
		RedirectURI: session.RedirectURI,
	})
}

func (h *Handler) handleUpdateAuthState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	req, ok := httputil.DecodeAndPrepare[AuthStateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.sessions.UpdateAuthState(ctx, sessionID, req.State); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name].Health(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	httputil.WriteJSON(w, status, map[string]any{
		"status": http.StatusText(status),
		"checks": results,
	})
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	events, err := h.audit.List(ctx, sessionID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events",
			"error", err,
			"session_id", sessionID,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
