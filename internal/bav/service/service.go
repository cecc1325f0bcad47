// Package service runs a bank account verification for one session: it loads
// the session and person records, records the submitted account, calls HMRC,
// classifies the answer and persists the outcome.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"bav/internal/bav/metrics"
	"bav/internal/bav/models"
	"bav/internal/hmrc"
	dErrors "bav/pkg/domain-errors"
	audit "bav/pkg/platform/audit"
	"bav/pkg/platform/middleware/device"
	"bav/pkg/platform/sentinel"
	"bav/pkg/requestcontext"
)

// Store is the subset of the session store verification needs.
type Store interface {
	GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error)
	GetPersonIdentityByID(ctx context.Context, sessionID string) (*models.PersonIdentity, error)
	UpdateAccountDetails(ctx context.Context, sessionID, accountNumber, sortCode string) error
	SaveCopCheckResult(ctx context.Context, sessionID string, result models.CopCheckResult) error
}

// Verifier calls the Confirmation-of-Payee endpoint. Retries on server errors
// happen inside the verifier.
type Verifier interface {
	Verify(ctx context.Context, req hmrc.VerifyRequest, token string) (*hmrc.VerifyResponse, error)
}

// TokenSource supplies bearer tokens for the verifier.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(ctx context.Context, token string) error
}

// AuditPublisher emits audit events. Failures never fail a verification.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is safe for concurrent use; it holds no per-request state.
type Service struct {
	store    Store
	verifier Verifier
	tokens   TokenSource
	auditor  AuditPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, verifier Verifier, tokens TokenSource, auditor AuditPublisher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	if auditor == nil {
		return nil, errors.New("audit publisher is required")
	}
	s := &Service{
		store:    store,
		verifier: verifier,
		tokens:   tokens,
		auditor:  auditor,
		logger:   slog.Default(),
		tracer:   otel.Tracer("bav/internal/bav/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ProcessVerification verifies the submitted account against the person
// bound to sessionID and records the result on the session.
//
// The account details are written before HMRC is called so the last submitted
// account stays visible even if the call or the outcome write fails. No step
// is retried here; HMRC retries live in the verifier.
func (s *Service) ProcessVerification(ctx context.Context, sessionID, accountNumber, sortCode string) (models.CopCheckResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "bav.ProcessVerification")
	defer span.End()
	ctx = requestcontext.WithSessionID(ctx, sessionID)

	result, err := s.process(ctx, sessionID, accountNumber, sortCode)
	s.metrics.ObserveVerifyLatency(time.Since(start))
	if err != nil {
		code := dErrors.CodeOf(err)
		s.metrics.IncrementFailure(string(code))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		return "", err
	}
	s.metrics.IncrementOutcome(string(result))
	span.SetAttributes(attribute.String("bav.cop_check_result", string(result)))
	return result, nil
}

func (s *Service) process(ctx context.Context, sessionID, accountNumber, sortCode string) (models.CopCheckResult, error) {
	if err := ValidateAccount(sessionID, accountNumber, sortCode); err != nil {
		s.logError(ctx, "invalid verification input", err, "INVALID_REQUEST_PAYLOAD")
		return "", err
	}

	person, session, err := s.loadRecords(ctx, sessionID)
	if err != nil {
		return "", err
	}
	ctx = requestcontext.WithClientSessionID(ctx, session.ClientSessionID)

	paddedAccountNumber := models.PadAccountNumber(accountNumber)
	if err := s.store.UpdateAccountDetails(ctx, sessionID, paddedAccountNumber, sortCode); err != nil {
		wrapped := dErrors.Wrap(err, dErrors.CodePersistence, "failed to record account details")
		s.logError(ctx, "failed to update person identity with account details", wrapped, "FAILED_UPDATING_PERSON_IDENTITY")
		return "", wrapped
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		wrapped := tokenError(err)
		s.logError(ctx, "failed to obtain HMRC token", wrapped, "FAILED_GENERATING_HMRC_TOKEN")
		return "", wrapped
	}

	s.emit(ctx, audit.EventCopRequestSent, session, audit.Extensions{})

	resp, err := s.verifier.Verify(ctx, hmrc.VerifyRequest{
		AccountNumber: paddedAccountNumber,
		SortCode:      sortCode,
		Name:          person.FullName(),
	}, token)
	if err != nil {
		if hmrc.GetCategory(err) == hmrc.CategoryAuthentication {
			if invErr := s.tokens.Invalidate(ctx, token); invErr != nil {
				s.logger.WarnContext(ctx, "failed to invalidate HMRC token", "error", invErr)
			}
		}
		wrapped := dErrors.Wrap(err, dErrors.CodeVerificationUnavailable, "Error sending COP verify request to HMRC")
		s.logError(ctx, "account verification failed", wrapped, "FAILED_VERIFYING_ACCOUNT")
		return "", wrapped
	}

	result := Classify(resp)
	s.logger.DebugContext(ctx, "classified cop check result", s.attrs(ctx, "cop_check_result", string(result))...)

	if err := s.store.SaveCopCheckResult(ctx, sessionID, result); err != nil {
		wrapped := dErrors.Wrap(err, dErrors.CodePersistence, "failed to record verification result")
		s.logError(ctx, "failed to save cop check result", wrapped, "FAILED_UPDATING_SESSION")
		return "", wrapped
	}

	s.emit(ctx, audit.EventCopResponseReceived, session, audit.Extensions{
		CopCheckResult: string(result),
		AttemptNum:     session.AttemptCount + 1,
	})

	s.logger.InfoContext(ctx, "account verification complete", s.attrs(ctx, "cop_check_result", string(result))...)
	return result, nil
}

// loadRecords fetches the person and session concurrently. Both must succeed
// before anything is written.
func (s *Service) loadRecords(ctx context.Context, sessionID string) (*models.PersonIdentity, *models.Session, error) {
	var (
		g          errgroup.Group
		person     *models.PersonIdentity
		session    *models.Session
		personErr  error
		sessionErr error
	)
	g.Go(func() error {
		person, personErr = s.store.GetPersonIdentityByID(ctx, sessionID)
		return nil
	})
	g.Go(func() error {
		session, sessionErr = s.store.GetSessionByID(ctx, sessionID)
		return nil
	})
	_ = g.Wait()

	// person is checked first so a missing pair reports the person
	if personErr != nil {
		err := readError(personErr, "No person found with the session id")
		s.logError(ctx, "no person found for session id", err, notFoundCode(personErr, "PERSON_NOT_FOUND"))
		return nil, nil, err
	}
	if sessionErr != nil {
		err := readError(sessionErr, "No session found with the session id")
		s.logError(ctx, "no session found for session id", err, notFoundCode(sessionErr, "SESSION_NOT_FOUND"))
		return nil, nil, err
	}
	return person, session, nil
}

func readError(err error, notFoundMessage string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, notFoundMessage)
	}
	return dErrors.Wrap(err, dErrors.CodePersistence, "failed to load session records")
}

func notFoundCode(err error, code string) string {
	if errors.Is(err, sentinel.ErrExpired) {
		return "EXPIRED_SESSION"
	}
	return code
}

func tokenError(err error) error {
	if hmrc.GetCategory(err) == hmrc.CategoryExhausted {
		return dErrors.Wrap(err, dErrors.CodeRetriesExhausted, "Cannot generate HMRC token after retries")
	}
	return dErrors.Wrap(err, dErrors.CodeExternalTerminal, "Error generating HMRC token")
}

// emit sends an audit event and swallows any failure.
func (s *Service) emit(ctx context.Context, name audit.EventName, session *models.Session, ext audit.Extensions) {
	event := audit.Event{
		Name:      name,
		Timestamp: requestcontext.Now(ctx),
		User: audit.User{
			SessionID:            session.SessionID,
			GovukSigninJourneyID: session.ClientSessionID,
			IPAddress:            requestcontext.ClientIP(ctx),
		},
		Device:     device.Describe(requestcontext.UserAgent(ctx)),
		Extensions: ext,
		RequestID:  requestcontext.RequestID(ctx),
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.metrics.IncrementAuditDropped(string(name))
		s.logger.WarnContext(ctx, "failed to write event to TxMA",
			s.attrs(ctx, "error", err, "event_name", string(name), "message_code", "FAILED_TO_WRITE_TXMA")...)
	}
}

func (s *Service) logError(ctx context.Context, msg string, err error, messageCode string) {
	kind := string(dErrors.CodeOf(err))
	if cat := hmrc.GetCategory(err); cat != hmrc.CategoryInternal {
		kind = string(cat)
	}
	s.logger.ErrorContext(ctx, msg, s.attrs(ctx,
		"error", err,
		"error_kind", kind,
		"message_code", messageCode,
	)...)
}

// attrs prefixes the request correlation fields.
func (s *Service) attrs(ctx context.Context, kv ...any) []any {
	out := []any{
		"session_id", requestcontext.SessionID(ctx),
		"request_id", requestcontext.RequestID(ctx),
	}
	if journeyID := requestcontext.ClientSessionID(ctx); journeyID != "" {
		out = append(out, "govuk_signin_journey_id", journeyID)
	}
	return append(out, kv...)
}
