package audit

import (
	"context"
	"time"

	"bav/pkg/platform/middleware/device"
)

// EventName identifies an audit event on the TxMA stream.
type EventName string

const (
	// EventCopRequestSent is emitted immediately before the verifier is called.
	EventCopRequestSent EventName = "BAV_COP_REQUEST_SENT"
	// EventCopResponseReceived is emitted once the match outcome is persisted.
	EventCopResponseReceived EventName = "BAV_COP_RESPONSE_RECEIVED"
)

// ComponentID is stamped on every event this service emits.
const ComponentID = "https://bav.account.gov.uk"

// User carries the subject fields of an event. IP and journey id are only
// known once the request metadata and session have been loaded.
type User struct {
	SessionID            string `json:"session_id"`
	GovukSigninJourneyID string `json:"govuk_signin_journey_id,omitempty"`
	IPAddress            string `json:"ip_address,omitempty"`
}

// Extensions holds the verification-specific payload.
type Extensions struct {
	CopCheckResult string `json:"copCheckResult,omitempty"`
	AttemptNum     int    `json:"attemptNum,omitempty"`
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID          string      `json:"event_id"`
	Name        EventName   `json:"event_name"`
	Timestamp   time.Time   `json:"timestamp"`
	ComponentID string      `json:"component_id"`
	User        User        `json:"user"`
	Device      device.Info `json:"device"`
	Extensions  Extensions  `json:"extensions"`
	RequestID   string      `json:"request_id,omitempty"`
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListBySession(ctx context.Context, sessionID string) ([]Event, error)
}
