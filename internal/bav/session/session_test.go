package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bav/internal/bav/models"
	"bav/internal/bav/store"
	dErrors "bav/pkg/domain-errors"
	"bav/pkg/platform/sentinel"
	"bav/pkg/requestcontext"
)

// =============================================================================
// Session Service Test Suite
// =============================================================================
// Justification for unit tests: id generation is a bounded retry loop whose
// cap is only reachable with a forced-collision generator.

type SessionSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *Service
	ctx     context.Context
	now     time.Time
	logger  *slog.Logger
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := New(s.store, 2*time.Hour, WithLogger(s.logger))
	s.Require().NoError(err)
	s.service = svc
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithClientMetadata(s.ctx, "51.149.8.131", "test-agent")
}

func claims() models.SharedClaims {
	return models.SharedClaims{
		Subject:             "urn:fdc:gov.uk:2022:abc",
		State:               "state-1",
		RedirectURI:         "https://client.example/callback",
		PersistentSessionID: "persistent-1",
		Name: []models.Name{{NameParts: []models.NamePart{
			{Type: "GivenName", Value: "Jane"},
			{Type: "FamilyName", Value: "Doe"},
		}}},
		BirthDate: []models.BirthDate{{Value: "1990-01-01"}},
	}
}

// sequenceIDs returns the given ids in order and then repeats the last one.
func sequenceIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[min(i, len(ids)-1)]
		i++
		return id
	}
}

// failingStore fails chosen operations and delegates the rest.
type failingStore struct {
	*store.InMemoryStore
	createErr error
	personErr error
}

func (f *failingStore) CreateSession(ctx context.Context, session *models.Session) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.InMemoryStore.CreateSession(ctx, session)
}

func (f *failingStore) SavePersonIdentity(ctx context.Context, person *models.PersonIdentity) error {
	if f.personErr != nil {
		return f.personErr
	}
	return f.InMemoryStore.SavePersonIdentity(ctx, person)
}

func (s *SessionSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, time.Hour)
		s.ErrorContains(err, "store is required")
	})

	s.Run("non-positive ttl returns error", func() {
		_, err := New(s.store, 0)
		s.ErrorContains(err, "ttl must be positive")
	})
}

func (s *SessionSuite) TestStart() {
	s.Run("creates session and person with shared expiry", func() {
		session, err := s.service.Start(s.ctx, claims(), "ipv-core", "journey-1")
		s.Require().NoError(err)
		s.NotEmpty(session.SessionID)
		s.Equal(models.AuthSessionCreated, session.AuthSessionState)
		s.Equal(0, session.AttemptCount)
		s.Equal(s.now.Unix(), session.CreatedDate)
		s.Equal(s.now.Add(2*time.Hour).Unix(), session.ExpiryDate)
		s.Equal("51.149.8.131", session.ClientIPAddress)
		s.Equal("journey-1", session.ClientSessionID)
		s.Equal("urn:fdc:gov.uk:2022:abc", session.Subject)

		stored, err := s.store.GetSessionByID(s.ctx, session.SessionID)
		s.Require().NoError(err)
		s.Equal(*session, *stored)

		person, err := s.store.GetPersonIdentityByID(s.ctx, session.SessionID)
		s.Require().NoError(err)
		s.Equal("Jane Doe", person.FullName())
		s.Equal(session.ExpiryDate, person.ExpiryDate)
		s.Equal("1990-01-01", person.BirthDate[0].Value)
	})

	s.Run("missing client id is a validation error", func() {
		_, err := s.service.Start(s.ctx, claims(), "", "journey-1")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("claims without a name are a validation error", func() {
		c := claims()
		c.Name = nil
		_, err := s.service.Start(s.ctx, c, "ipv-core", "journey-1")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *SessionSuite) TestStartIDCollisions() {
	s.Run("retries after a collision", func() {
		existing := &models.Session{SessionID: "taken", ExpiryDate: s.now.Add(time.Hour).Unix()}
		s.Require().NoError(s.store.CreateSession(s.ctx, existing))

		svc, err := New(s.store, time.Hour, WithLogger(s.logger), WithIDGenerator(sequenceIDs("taken", "fresh")))
		s.Require().NoError(err)

		session, err := svc.Start(s.ctx, claims(), "ipv-core", "journey-1")
		s.Require().NoError(err)
		s.Equal("fresh", session.SessionID)
	})

	s.Run("fails once the attempt cap is reached", func() {
		st := store.NewInMemory()
		existing := &models.Session{SessionID: "taken", ExpiryDate: s.now.Add(time.Hour).Unix()}
		s.Require().NoError(st.CreateSession(s.ctx, existing))

		calls := 0
		svc, err := New(st, time.Hour, WithLogger(s.logger), WithIDGenerator(func() string {
			calls++
			return "taken"
		}))
		s.Require().NoError(err)

		_, err = svc.Start(s.ctx, claims(), "ipv-core", "journey-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.Equal(maxIDAttempts, calls)

		_, err = st.GetPersonIdentityByID(s.ctx, "taken")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *SessionSuite) TestStartStoreFailures() {
	s.Run("session write failure", func() {
		fs := &failingStore{InMemoryStore: store.NewInMemory(), createErr: errors.New("connection reset")}
		svc, err := New(fs, time.Hour, WithLogger(s.logger))
		s.Require().NoError(err)

		_, err = svc.Start(s.ctx, claims(), "ipv-core", "journey-1")
		s.True(dErrors.HasCode(err, dErrors.CodePersistence))
	})

	s.Run("person write failure", func() {
		fs := &failingStore{InMemoryStore: store.NewInMemory(), personErr: errors.New("connection reset")}
		svc, err := New(fs, time.Hour, WithLogger(s.logger))
		s.Require().NoError(err)

		_, err = svc.Start(s.ctx, claims(), "ipv-core", "journey-1")
		s.True(dErrors.HasCode(err, dErrors.CodePersistence))
	})
}

func (s *SessionSuite) TestUpdateAuthState() {
	s.Run("persists a valid transition", func() {
		session, err := s.service.Start(s.ctx, claims(), "ipv-core", "journey-1")
		s.Require().NoError(err)

		s.Require().NoError(s.service.UpdateAuthState(s.ctx, session.SessionID, models.AuthAuthCodeIssued))

		stored, err := s.store.GetSessionByID(s.ctx, session.SessionID)
		s.Require().NoError(err)
		s.Equal(models.AuthAuthCodeIssued, stored.AuthSessionState)
	})

	s.Run("rejects an unknown state", func() {
		err := s.service.UpdateAuthState(s.ctx, "any", models.AuthSessionState("BOGUS"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown session is not found", func() {
		err := s.service.UpdateAuthState(s.ctx, fmt.Sprintf("missing-%d", s.now.Unix()), models.AuthAccessTokenIssued)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// recordingTx runs each function against the wrapped store and counts runs.
type recordingTx struct {
	store Store
	runs  int
}

func (r *recordingTx) RunInTx(_ context.Context, fn func(Store) error) error {
	r.runs++
	return fn(r.store)
}

func (s *SessionSuite) TestStartWithTx() {
	s.Run("one transaction per id attempt", func() {
		st := store.NewInMemory()
		existing := &models.Session{SessionID: "taken", ExpiryDate: s.now.Add(time.Hour).Unix()}
		s.Require().NoError(st.CreateSession(s.ctx, existing))

		tx := &recordingTx{store: st}
		svc, err := New(st, time.Hour,
			WithLogger(s.logger),
			WithTx(tx),
			WithIDGenerator(sequenceIDs("taken", "fresh")),
		)
		s.Require().NoError(err)

		session, err := svc.Start(s.ctx, claims(), "ipv-core", "journey-1")
		s.Require().NoError(err)
		s.Equal("fresh", session.SessionID)
		s.Equal(2, tx.runs)

		person, err := st.GetPersonIdentityByID(s.ctx, "fresh")
		s.Require().NoError(err)
		s.Equal(session.ExpiryDate, person.ExpiryDate)
	})
}
