package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bav/internal/bav/models"
)

type InMemoryStoreSuite struct {
	storeContract
	mem *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.mem = NewInMemory()
	s.store = s.mem
}

func (s *InMemoryStoreSuite) TestReturnedRecordsAreCopies() {
	_, person := s.seed(s.now.Add(time.Hour).Unix())

	got, err := s.mem.GetPersonIdentityByID(s.ctx(), person.SessionID)
	s.Require().NoError(err)
	got.Name[0].NameParts[0].Value = "Mutated"
	got.AccountNumber = "99999999"

	again, err := s.mem.GetPersonIdentityByID(s.ctx(), person.SessionID)
	s.Require().NoError(err)
	s.Equal("Jane Doe", again.FullName())
	s.Empty(again.AccountNumber)
}

func (s *InMemoryStoreSuite) TestFallsBackToWallClock() {
	session := &models.Session{SessionID: "wall-clock", ExpiryDate: time.Now().Add(time.Hour).Unix()}
	s.Require().NoError(s.mem.CreateSession(context.Background(), session))

	_, err := s.mem.GetSessionByID(context.Background(), "wall-clock")
	s.NoError(err)
}
