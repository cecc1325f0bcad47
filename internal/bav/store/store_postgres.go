package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"bav/internal/bav/models"
	"bav/pkg/platform/sentinel"
	"bav/pkg/requestcontext"
)

const pqUniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists sessions and person identities in PostgreSQL.
// Name and birth date groups are stored as JSONB.
type PostgresStore struct {
	db   querier
	pool *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, pool: db}
}

// NewPostgresTx scopes a store to an open transaction. The caller commits.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{db: tx}
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (
			session_id, client_id, client_session_id, redirect_uri, state, subject,
			persistent_session_id, client_ip_address, auth_session_state, cop_check_result,
			attempt_count, created_date, expiry_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.ClientID, session.ClientSessionID, session.RedirectURI,
		session.State, session.Subject, session.PersistentSessionID, session.ClientIPAddress,
		string(session.AuthSessionState), nullString(string(session.CopCheckResult)),
		session.AttemptCount, session.CreatedDate, session.ExpiryDate,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("session %s: %w", session.SessionID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `
		SELECT session_id, client_id, client_session_id, redirect_uri, state, subject,
			persistent_session_id, client_ip_address, auth_session_state, cop_check_result,
			attempt_count, created_date, expiry_date
		FROM sessions WHERE session_id = $1
	`
	var (
		session   models.Session
		authState string
		copResult sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID, &session.ClientID, &session.ClientSessionID, &session.RedirectURI,
		&session.State, &session.Subject, &session.PersistentSessionID, &session.ClientIPAddress,
		&authState, &copResult, &session.AttemptCount, &session.CreatedDate, &session.ExpiryDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound(kindSession, sessionID)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if models.IsExpired(session.ExpiryDate, requestcontext.Now(ctx)) {
		return nil, errExpired(kindSession, sessionID)
	}
	session.AuthSessionState = models.AuthSessionState(authState)
	session.CopCheckResult = models.CopCheckResult(copResult.String)
	return &session, nil
}

func (s *PostgresStore) SavePersonIdentity(ctx context.Context, person *models.PersonIdentity) error {
	names, err := json.Marshal(person.Name)
	if err != nil {
		return fmt.Errorf("marshal name: %w", err)
	}
	birthDates, err := json.Marshal(person.BirthDate)
	if err != nil {
		return fmt.Errorf("marshal birth date: %w", err)
	}
	query := `
		INSERT INTO person_identities (session_id, name, birth_date, account_number, sort_code, created_date, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			name = EXCLUDED.name,
			birth_date = EXCLUDED.birth_date,
			account_number = EXCLUDED.account_number,
			sort_code = EXCLUDED.sort_code,
			created_date = EXCLUDED.created_date,
			expiry_date = EXCLUDED.expiry_date
	`
	_, err = s.db.ExecContext(ctx, query,
		person.SessionID, names, birthDates,
		nullString(person.AccountNumber), nullString(person.SortCode),
		person.CreatedDate, person.ExpiryDate,
	)
	if err != nil {
		return fmt.Errorf("save person identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPersonIdentityByID(ctx context.Context, sessionID string) (*models.PersonIdentity, error) {
	query := `
		SELECT session_id, name, birth_date, account_number, sort_code, created_date, expiry_date
		FROM person_identities WHERE session_id = $1
	`
	var (
		person        models.PersonIdentity
		names         []byte
		birthDates    []byte
		accountNumber sql.NullString
		sortCode      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&person.SessionID, &names, &birthDates, &accountNumber, &sortCode,
		&person.CreatedDate, &person.ExpiryDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound(kindPerson, sessionID)
		}
		return nil, fmt.Errorf("get person identity: %w", err)
	}
	if models.IsExpired(person.ExpiryDate, requestcontext.Now(ctx)) {
		return nil, errExpired(kindPerson, sessionID)
	}
	if err := json.Unmarshal(names, &person.Name); err != nil {
		return nil, fmt.Errorf("unmarshal name: %w", err)
	}
	if err := json.Unmarshal(birthDates, &person.BirthDate); err != nil {
		return nil, fmt.Errorf("unmarshal birth date: %w", err)
	}
	person.AccountNumber = accountNumber.String
	person.SortCode = sortCode.String
	return &person, nil
}

func (s *PostgresStore) UpdateAccountDetails(ctx context.Context, sessionID, accountNumber, sortCode string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE person_identities SET account_number = $2, sort_code = $3 WHERE session_id = $1`,
		sessionID, accountNumber, sortCode,
	)
	if err != nil {
		return fmt.Errorf("update account details: %w", err)
	}
	return requireRow(res, kindPerson, sessionID)
}

func (s *PostgresStore) SaveCopCheckResult(ctx context.Context, sessionID string, result models.CopCheckResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET cop_check_result = $2, attempt_count = attempt_count + 1 WHERE session_id = $1`,
		sessionID, string(result),
	)
	if err != nil {
		return fmt.Errorf("save cop check result: %w", err)
	}
	return requireRow(res, kindSession, sessionID)
}

func (s *PostgresStore) UpdateSessionAuthState(ctx context.Context, sessionID string, state models.AuthSessionState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET auth_session_state = $2 WHERE session_id = $1`,
		sessionID, string(state),
	)
	if err != nil {
		return fmt.Errorf("update auth session state: %w", err)
	}
	return requireRow(res, kindSession, sessionID)
}

func (s *PostgresStore) Health(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.PingContext(ctx)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errNotFound(kind, id)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
