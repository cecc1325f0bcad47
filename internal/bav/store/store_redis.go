package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bav/internal/bav/models"
	"bav/pkg/platform/sentinel"
	"bav/pkg/requestcontext"
)

// Field names match the JSON attribute names of the records.
const (
	fieldSessionID           = "sessionId"
	fieldClientID            = "clientId"
	fieldClientSessionID     = "clientSessionId"
	fieldRedirectURI         = "redirectUri"
	fieldState               = "state"
	fieldSubject             = "subject"
	fieldPersistentSessionID = "persistentSessionId"
	fieldClientIPAddress     = "clientIpAddress"
	fieldAuthSessionState    = "authSessionState"
	fieldCopCheckResult      = "copCheckResult"
	fieldAttemptCount        = "attemptCount"
	fieldCreatedDate         = "createdDate"
	fieldExpiryDate          = "expiryDate"
	fieldName                = "name"
	fieldBirthDate           = "birthDate"
	fieldAccountNumber       = "accountNumber"
	fieldSortCode            = "sortCode"
)

// createIfAbsent writes the hash only when the key does not exist and sets its expiry.
// ARGV[1] is the unix expiry; the rest are field/value pairs.
var createIfAbsent = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('EXPIREAT', KEYS[1], ARGV[1])
return 1
`)

// updateIfPresent sets fields on an existing hash without resurrecting a missing one.
var updateIfPresent = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// saveResult sets the outcome and bumps the attempt counter atomically.
var saveResult = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'copCheckResult', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'attemptCount', 1)
return 1
`)

// RedisStore keeps each record in a hash whose key expires at the record's
// expiry date. Reads also check expiry against the request clock so the
// exclusive boundary holds regardless of key eviction timing.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "bav"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + ":session:" + id }
func (s *RedisStore) personKey(id string) string  { return s.prefix + ":person:" + id }

func (s *RedisStore) CreateSession(ctx context.Context, session *models.Session) error {
	args := []any{
		session.ExpiryDate,
		fieldSessionID, session.SessionID,
		fieldClientID, session.ClientID,
		fieldClientSessionID, session.ClientSessionID,
		fieldRedirectURI, session.RedirectURI,
		fieldState, session.State,
		fieldSubject, session.Subject,
		fieldPersistentSessionID, session.PersistentSessionID,
		fieldClientIPAddress, session.ClientIPAddress,
		fieldAuthSessionState, string(session.AuthSessionState),
		fieldCopCheckResult, string(session.CopCheckResult),
		fieldAttemptCount, session.AttemptCount,
		fieldCreatedDate, session.CreatedDate,
		fieldExpiryDate, session.ExpiryDate,
	}
	created, err := createIfAbsent.Run(ctx, s.client, []string{s.sessionKey(session.SessionID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("session %s: %w", session.SessionID, sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisStore) GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, errNotFound(kindSession, sessionID)
	}
	session := models.Session{
		SessionID:           fields[fieldSessionID],
		ClientID:            fields[fieldClientID],
		ClientSessionID:     fields[fieldClientSessionID],
		RedirectURI:         fields[fieldRedirectURI],
		State:               fields[fieldState],
		Subject:             fields[fieldSubject],
		PersistentSessionID: fields[fieldPersistentSessionID],
		ClientIPAddress:     fields[fieldClientIPAddress],
		AuthSessionState:    models.AuthSessionState(fields[fieldAuthSessionState]),
		CopCheckResult:      models.CopCheckResult(fields[fieldCopCheckResult]),
	}
	if session.AttemptCount, err = atoi(fields, fieldAttemptCount); err != nil {
		return nil, err
	}
	if session.CreatedDate, err = parseInt64(fields, fieldCreatedDate); err != nil {
		return nil, err
	}
	if session.ExpiryDate, err = parseInt64(fields, fieldExpiryDate); err != nil {
		return nil, err
	}
	if models.IsExpired(session.ExpiryDate, requestcontext.Now(ctx)) {
		return nil, errExpired(kindSession, sessionID)
	}
	return &session, nil
}

func (s *RedisStore) SavePersonIdentity(ctx context.Context, person *models.PersonIdentity) error {
	names, err := json.Marshal(person.Name)
	if err != nil {
		return fmt.Errorf("marshal name: %w", err)
	}
	birthDates, err := json.Marshal(person.BirthDate)
	if err != nil {
		return fmt.Errorf("marshal birth date: %w", err)
	}
	key := s.personKey(person.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldSessionID, person.SessionID,
			fieldName, string(names),
			fieldBirthDate, string(birthDates),
			fieldAccountNumber, person.AccountNumber,
			fieldSortCode, person.SortCode,
			fieldCreatedDate, person.CreatedDate,
			fieldExpiryDate, person.ExpiryDate,
		)
		pipe.ExpireAt(ctx, key, time.Unix(person.ExpiryDate, 0))
		return nil
	})
	if err != nil {
		return fmt.Errorf("save person identity: %w", err)
	}
	return nil
}

func (s *RedisStore) GetPersonIdentityByID(ctx context.Context, sessionID string) (*models.PersonIdentity, error) {
	fields, err := s.client.HGetAll(ctx, s.personKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get person identity: %w", err)
	}
	if len(fields) == 0 {
		return nil, errNotFound(kindPerson, sessionID)
	}
	person := models.PersonIdentity{
		SessionID:     fields[fieldSessionID],
		AccountNumber: fields[fieldAccountNumber],
		SortCode:      fields[fieldSortCode],
	}
	if person.CreatedDate, err = parseInt64(fields, fieldCreatedDate); err != nil {
		return nil, err
	}
	if person.ExpiryDate, err = parseInt64(fields, fieldExpiryDate); err != nil {
		return nil, err
	}
	if models.IsExpired(person.ExpiryDate, requestcontext.Now(ctx)) {
		return nil, errExpired(kindPerson, sessionID)
	}
	if err := json.Unmarshal([]byte(fields[fieldName]), &person.Name); err != nil {
		return nil, fmt.Errorf("unmarshal name: %w", err)
	}
	if err := json.Unmarshal([]byte(fields[fieldBirthDate]), &person.BirthDate); err != nil {
		return nil, fmt.Errorf("unmarshal birth date: %w", err)
	}
	return &person, nil
}

func (s *RedisStore) UpdateAccountDetails(ctx context.Context, sessionID, accountNumber, sortCode string) error {
	ok, err := updateIfPresent.Run(ctx, s.client, []string{s.personKey(sessionID)},
		fieldAccountNumber, accountNumber,
		fieldSortCode, sortCode,
	).Int()
	if err != nil {
		return fmt.Errorf("update account details: %w", err)
	}
	if ok == 0 {
		return errNotFound(kindPerson, sessionID)
	}
	return nil
}

func (s *RedisStore) SaveCopCheckResult(ctx context.Context, sessionID string, result models.CopCheckResult) error {
	ok, err := saveResult.Run(ctx, s.client, []string{s.sessionKey(sessionID)}, string(result)).Int()
	if err != nil {
		return fmt.Errorf("save cop check result: %w", err)
	}
	if ok == 0 {
		return errNotFound(kindSession, sessionID)
	}
	return nil
}

func (s *RedisStore) UpdateSessionAuthState(ctx context.Context, sessionID string, state models.AuthSessionState) error {
	ok, err := updateIfPresent.Run(ctx, s.client, []string{s.sessionKey(sessionID)},
		fieldAuthSessionState, string(state),
	).Int()
	if err != nil {
		return fmt.Errorf("update auth session state: %w", err)
	}
	if ok == 0 {
		return errNotFound(kindSession, sessionID)
	}
	return nil
}

func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func atoi(fields map[string]string, key string) (int, error) {
	v, ok := fields[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func parseInt64(fields map[string]string, key string) (int64, error) {
	v, ok := fields[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
