package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	audit "bav/pkg/platform/audit"
)

// Store keeps audit events in the audit_events table. It is the durable sink
// for deployments without a Kafka broker.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts an event. Re-appending the same event id is a no-op.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	device, err := json.Marshal(event.Device)
	if err != nil {
		return fmt.Errorf("marshal device: %w", err)
	}
	extensions, err := json.Marshal(event.Extensions)
	if err != nil {
		return fmt.Errorf("marshal extensions: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			event_id, event_name, event_timestamp, component_id, session_id,
			govuk_signin_journey_id, ip_address, device, extensions, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Name),
		event.Timestamp,
		event.ComponentID,
		event.User.SessionID,
		event.User.GovukSigninJourneyID,
		event.User.IPAddress,
		device,
		extensions,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySession returns a session's events in the order they were appended.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]audit.Event, error) {
	query := `
		SELECT event_id, event_name, event_timestamp, component_id, session_id,
			   govuk_signin_journey_id, ip_address, device, extensions, request_id
		FROM audit_events
		WHERE session_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the N most recent events, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT event_id, event_name, event_timestamp, component_id, session_id,
			   govuk_signin_journey_id, ip_address, device, extensions, request_id
		FROM audit_events
		ORDER BY seq DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event      audit.Event
			name       string
			device     []byte
			extensions []byte
		)
		err := rows.Scan(
			&event.ID,
			&name,
			&event.Timestamp,
			&event.ComponentID,
			&event.User.SessionID,
			&event.User.GovukSigninJourneyID,
			&event.User.IPAddress,
			&device,
			&extensions,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Name = audit.EventName(name)
		if err := json.Unmarshal(device, &event.Device); err != nil {
			return nil, fmt.Errorf("unmarshal device: %w", err)
		}
		if err := json.Unmarshal(extensions, &event.Extensions); err != nil {
			return nil, fmt.Errorf("unmarshal extensions: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
