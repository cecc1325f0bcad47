package store

import (
	"context"
	"fmt"
	"sync"

	"bav/internal/bav/models"
	"bav/pkg/platform/sentinel"
	"bav/pkg/requestcontext"
)

// InMemoryStore is a process-local store used by tests and single-instance dev runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	persons  map[string]models.PersonIdentity
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.Session),
		persons:  make(map[string]models.PersonIdentity),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.SessionID]; ok {
		return fmt.Errorf("session %s: %w", session.SessionID, sentinel.ErrConflict)
	}
	s.sessions[session.SessionID] = *session
	return nil
}

func (s *InMemoryStore) GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, errNotFound(kindSession, sessionID)
	}
	if models.IsExpired(session.ExpiryDate, requestcontext.Now(ctx)) {
		return nil, errExpired(kindSession, sessionID)
	}
	return &session, nil
}

func (s *InMemoryStore) SavePersonIdentity(_ context.Context, person *models.PersonIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons[person.SessionID] = clonePerson(*person)
	return nil
}

func (s *InMemoryStore) GetPersonIdentityByID(ctx context.Context, sessionID string) (*models.PersonIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	person, ok := s.persons[sessionID]
	if !ok {
		return nil, errNotFound(kindPerson, sessionID)
	}
	if models.IsExpired(person.ExpiryDate, requestcontext.Now(ctx)) {
		return nil, errExpired(kindPerson, sessionID)
	}
	out := clonePerson(person)
	return &out, nil
}

func (s *InMemoryStore) UpdateAccountDetails(_ context.Context, sessionID, accountNumber, sortCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	person, ok := s.persons[sessionID]
	if !ok {
		return errNotFound(kindPerson, sessionID)
	}
	person.AccountNumber = accountNumber
	person.SortCode = sortCode
	s.persons[sessionID] = person
	return nil
}

func (s *InMemoryStore) SaveCopCheckResult(_ context.Context, sessionID string, result models.CopCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return errNotFound(kindSession, sessionID)
	}
	session.CopCheckResult = result
	session.AttemptCount++
	s.sessions[sessionID] = session
	return nil
}

func (s *InMemoryStore) UpdateSessionAuthState(_ context.Context, sessionID string, state models.AuthSessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return errNotFound(kindSession, sessionID)
	}
	session.AuthSessionState = state
	s.sessions[sessionID] = session
	return nil
}

func (s *InMemoryStore) Health(context.Context) error { return nil }

func clonePerson(p models.PersonIdentity) models.PersonIdentity {
	names := make([]models.Name, len(p.Name))
	for i, n := range p.Name {
		names[i] = models.Name{NameParts: append([]models.NamePart(nil), n.NameParts...)}
	}
	p.Name = names
	p.BirthDate = append([]models.BirthDate(nil), p.BirthDate...)
	return p
}
