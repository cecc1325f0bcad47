package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bav/internal/bav/models"
	"bav/pkg/platform/sentinel"
	"bav/pkg/requestcontext"
)

type sessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error)
	SavePersonIdentity(ctx context.Context, person *models.PersonIdentity) error
	GetPersonIdentityByID(ctx context.Context, sessionID string) (*models.PersonIdentity, error)
	UpdateAccountDetails(ctx context.Context, sessionID, accountNumber, sortCode string) error
	SaveCopCheckResult(ctx context.Context, sessionID string, result models.CopCheckResult) error
	UpdateSessionAuthState(ctx context.Context, sessionID string, state models.AuthSessionState) error
	Health(ctx context.Context) error
}

// storeContract holds behaviour every backend must share. Backend suites embed
// it and assign store in their setup.
type storeContract struct {
	suite.Suite
	store sessionStore
	now   time.Time
}

func (s *storeContract) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *storeContract) seed(expiry int64) (*models.Session, *models.PersonIdentity) {
	id := uuid.NewString()
	session := &models.Session{
		SessionID:        id,
		ClientID:         "ipv-core",
		ClientSessionID:  "journey-" + id,
		AuthSessionState: models.AuthSessionCreated,
		CreatedDate:      s.now.Unix(),
		ExpiryDate:       expiry,
	}
	person := &models.PersonIdentity{
		SessionID: id,
		Name: []models.Name{{NameParts: []models.NamePart{
			{Type: "GivenName", Value: "Jane"},
			{Type: "FamilyName", Value: "Doe"},
		}}},
		BirthDate:   []models.BirthDate{{Value: "1980-01-01"}},
		CreatedDate: s.now.Unix(),
		ExpiryDate:  expiry,
	}
	s.Require().NoError(s.store.CreateSession(s.ctx(), session))
	s.Require().NoError(s.store.SavePersonIdentity(s.ctx(), person))
	return session, person
}

// =============================================================================
// Reads
// =============================================================================

func (s *storeContract) TestReads() {
	s.Run("returns stored session and person", func() {
		session, person := s.seed(s.now.Add(time.Hour).Unix())

		gotSession, err := s.store.GetSessionByID(s.ctx(), session.SessionID)
		s.Require().NoError(err)
		s.Equal(session.ClientSessionID, gotSession.ClientSessionID)
		s.Equal(models.AuthSessionCreated, gotSession.AuthSessionState)
		s.Empty(gotSession.CopCheckResult)

		gotPerson, err := s.store.GetPersonIdentityByID(s.ctx(), person.SessionID)
		s.Require().NoError(err)
		s.Equal("Jane Doe", gotPerson.FullName())
		s.Equal(person.BirthDate, gotPerson.BirthDate)
	})

	s.Run("missing records are not found", func() {
		_, err := s.store.GetSessionByID(s.ctx(), uuid.NewString())
		s.ErrorIs(err, sentinel.ErrNotFound)

		_, err = s.store.GetPersonIdentityByID(s.ctx(), uuid.NewString())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("expiry equal to now is treated as absent", func() {
		session, person := s.seed(s.now.Unix())

		_, err := s.store.GetSessionByID(s.ctx(), session.SessionID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.ErrorIs(err, sentinel.ErrExpired)

		_, err = s.store.GetPersonIdentityByID(s.ctx(), person.SessionID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.ErrorIs(err, sentinel.ErrExpired)
	})

	s.Run("expiry one second after now is readable", func() {
		session, _ := s.seed(s.now.Unix() + 1)

		_, err := s.store.GetSessionByID(s.ctx(), session.SessionID)
		s.NoError(err)
	})
}

// =============================================================================
// Writes
// =============================================================================

func (s *storeContract) TestWrites() {
	s.Run("duplicate session id conflicts", func() {
		session, _ := s.seed(s.now.Add(time.Hour).Unix())
		err := s.store.CreateSession(s.ctx(), session)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("account details overwrite previous attempt", func() {
		_, person := s.seed(s.now.Add(time.Hour).Unix())

		s.Require().NoError(s.store.UpdateAccountDetails(s.ctx(), person.SessionID, "00000001", "111111"))
		s.Require().NoError(s.store.UpdateAccountDetails(s.ctx(), person.SessionID, "01234567", "123456"))

		got, err := s.store.GetPersonIdentityByID(s.ctx(), person.SessionID)
		s.Require().NoError(err)
		s.Equal("01234567", got.AccountNumber)
		s.Equal("123456", got.SortCode)
	})

	s.Run("cop check result overwrites and counts attempts", func() {
		session, _ := s.seed(s.now.Add(time.Hour).Unix())

		s.Require().NoError(s.store.SaveCopCheckResult(s.ctx(), session.SessionID, models.CopNoMatch))
		s.Require().NoError(s.store.SaveCopCheckResult(s.ctx(), session.SessionID, models.CopFullMatch))

		got, err := s.store.GetSessionByID(s.ctx(), session.SessionID)
		s.Require().NoError(err)
		s.Equal(models.CopFullMatch, got.CopCheckResult)
		s.Equal(2, got.AttemptCount)
	})

	s.Run("auth state transition", func() {
		session, _ := s.seed(s.now.Add(time.Hour).Unix())

		s.Require().NoError(s.store.UpdateSessionAuthState(s.ctx(), session.SessionID, models.AuthAuthCodeIssued))

		got, err := s.store.GetSessionByID(s.ctx(), session.SessionID)
		s.Require().NoError(err)
		s.Equal(models.AuthAuthCodeIssued, got.AuthSessionState)
	})

	s.Run("updates on missing records are not found", func() {
		missing := uuid.NewString()
		s.ErrorIs(s.store.UpdateAccountDetails(s.ctx(), missing, "01234567", "123456"), sentinel.ErrNotFound)
		s.ErrorIs(s.store.SaveCopCheckResult(s.ctx(), missing, models.CopNoMatch), sentinel.ErrNotFound)
		s.ErrorIs(s.store.UpdateSessionAuthState(s.ctx(), missing, models.AuthCRISessionAborted), sentinel.ErrNotFound)
	})

	s.Run("health", func() {
		s.NoError(s.store.Health(s.ctx()))
	})
}
