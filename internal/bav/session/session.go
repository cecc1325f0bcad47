// Package session starts verification sessions from shared claims and tracks
// their auth state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bav/internal/bav/metrics"
	"bav/internal/bav/models"
	dErrors "bav/pkg/domain-errors"
	"bav/pkg/platform/sentinel"
	"bav/pkg/requestcontext"
)

// maxIDAttempts caps session id generation. A uuid collision is vanishingly
// rare, so reaching the cap means the store is misbehaving.
const maxIDAttempts = 3

// Store is the subset of the session store the session service needs.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	SavePersonIdentity(ctx context.Context, person *models.PersonIdentity) error
	UpdateSessionAuthState(ctx context.Context, sessionID string, state models.AuthSessionState) error
}

// TxRunner runs fn against a store bound to one transaction. Returning an
// error rolls the transaction back.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

type Service struct {
	store   Store
	tx      TxRunner
	ttl     time.Duration
	newID   func() string
	logger  *slog.Logger
	metrics *metrics.Metrics
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

// WithTx makes session creation atomic: the session and person are written
// in one transaction per id attempt.
func WithTx(tx TxRunner) Option {
	return func(s *Service) { s.tx = tx }
}

// WithIDGenerator replaces uuid generation, e.g. to force collisions in tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(store Store, ttl time.Duration, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	s := &Service{
		store:  store,
		ttl:    ttl,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start creates a session and its person identity. Both records share the
// same expiry.
func (s *Service) Start(ctx context.Context, claims models.SharedClaims, clientID, clientSessionID string) (*models.Session, error) {
	if clientID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "Missing client_id")
	}
	if len(claims.Name) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "Missing name in shared claims")
	}

	now := requestcontext.Now(ctx)
	session := &models.Session{
		ClientID:            clientID,
		ClientSessionID:     clientSessionID,
		RedirectURI:         claims.RedirectURI,
		State:               claims.State,
		Subject:             claims.Subject,
		PersistentSessionID: claims.PersistentSessionID,
		ClientIPAddress:     requestcontext.ClientIP(ctx),
		AuthSessionState:    models.AuthSessionCreated,
		CreatedDate:         now.Unix(),
		ExpiryDate:          now.Add(s.ttl).Unix(),
	}

	if err := s.create(ctx, session, claims); err != nil {
		return nil, err
	}

	s.metrics.IncrementSessionsStarted()
	s.logger.InfoContext(ctx, "session created",
		"session_id", session.SessionID,
		"govuk_signin_journey_id", clientSessionID,
	)
	return session, nil
}

// create assigns a fresh id and writes the session and person, retrying on
// id collision up to maxIDAttempts.
func (s *Service) create(ctx context.Context, session *models.Session, claims models.SharedClaims) error {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		session.SessionID = s.newID()
		err := s.runInTx(ctx, func(st Store) error {
			if err := st.CreateSession(ctx, session); err != nil {
				return err
			}
			return st.SavePersonIdentity(ctx, &models.PersonIdentity{
				SessionID:   session.SessionID,
				Name:        claims.Name,
				BirthDate:   claims.BirthDate,
				CreatedDate: session.CreatedDate,
				ExpiryDate:  session.ExpiryDate,
			})
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			s.logger.ErrorContext(ctx, "failed to create session",
				"error", err,
				"session_id", session.SessionID,
				"error_kind", string(dErrors.CodePersistence),
				"message_code", "FAILED_CREATING_SESSION",
			)
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to create session")
		}
		s.logger.WarnContext(ctx, "session id collision", "attempt", attempt)
	}
	s.logger.ErrorContext(ctx, "session id generation exhausted",
		"attempts", maxIDAttempts,
		"error_kind", string(dErrors.CodeInternal),
		"message_code", "TOO_MANY_RETRIES",
	)
	return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("could not generate a unique session id after %d attempts", maxIDAttempts))
}

func (s *Service) runInTx(ctx context.Context, fn func(Store) error) error {
	if s.tx == nil {
		return fn(s.store)
	}
	return s.tx.RunInTx(ctx, fn)
}

// UpdateAuthState records an auth session transition.
func (s *Service) UpdateAuthState(ctx context.Context, sessionID string, state models.AuthSessionState) error {
	if !state.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "Invalid auth session state")
	}
	if err := s.store.UpdateSessionAuthState(ctx, sessionID, state); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "No session found with the session id")
		}
		s.logger.ErrorContext(ctx, "failed to update auth session state",
			"error", err,
			"session_id", sessionID,
			"error_kind", string(dErrors.CodePersistence),
			"message_code", "FAILED_UPDATING_SESSION",
		)
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to update session")
	}
	return nil
}
