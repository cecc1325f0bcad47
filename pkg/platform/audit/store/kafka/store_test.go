package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	audit "bav/pkg/platform/audit"
	"bav/pkg/platform/circuit"
	"bav/pkg/platform/middleware/device"
)

type recordingProducer struct {
	keys   [][]byte
	values [][]byte
	err    error
}

func (p *recordingProducer) Produce(_ context.Context, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

// stalledProducer never completes a produce on its own, like a client whose
// brokers are unreachable.
type stalledProducer struct {
	calls int
}

func (p *stalledProducer) Produce(ctx context.Context, _, _ []byte) error {
	p.calls++
	<-ctx.Done()
	return ctx.Err()
}

type StoreSuite struct {
	suite.Suite
	producer *recordingProducer
	store    *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.producer = &recordingProducer{}
	s.store = New(s.producer, circuit.New("txma", circuit.WithFailureThreshold(2)), nil, nil)
}

func (s *StoreSuite) event() audit.Event {
	return audit.Event{
		ID:          "evt-1",
		Name:        audit.EventCopResponseReceived,
		Timestamp:   time.Unix(1700000000, 250_000_000),
		ComponentID: audit.ComponentID,
		User:        audit.User{SessionID: "s1", GovukSigninJourneyID: "journey-1", IPAddress: "203.0.113.9"},
		Extensions:  audit.Extensions{CopCheckResult: "FULL_MATCH", AttemptNum: 1},
	}
}

// =============================================================================
// Append
// =============================================================================

func (s *StoreSuite) TestAppend() {
	s.Run("produces keyed by session id", func() {
		s.SetupTest()
		s.Require().NoError(s.store.Append(context.Background(), s.event()))
		s.Require().Len(s.producer.keys, 1)
		s.Equal("s1", string(s.producer.keys[0]))
	})

	s.Run("breaker opens after repeated failures and drops events", func() {
		s.SetupTest()
		s.producer.err = errors.New("broker unavailable")

		s.Error(s.store.Append(context.Background(), s.event()))
		s.Error(s.store.Append(context.Background(), s.event()))

		err := s.store.Append(context.Background(), s.event())
		s.ErrorIs(err, ErrCircuitOpen)
	})

	s.Run("produce bounded by the caller deadline counts as a failure", func() {
		producer := &stalledProducer{}
		store := New(producer, circuit.New("txma", circuit.WithFailureThreshold(1)), nil, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := store.Append(ctx, s.event())
		s.ErrorIs(err, context.DeadlineExceeded)

		err = store.Append(context.Background(), s.event())
		s.ErrorIs(err, ErrCircuitOpen)
		s.Equal(1, producer.calls)
	})

	s.Run("marshal failure while half open leaves the trial call available", func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		breaker := circuit.New("txma",
			circuit.WithFailureThreshold(1),
			circuit.WithCooldown(time.Second),
			circuit.WithClock(func() time.Time { return now }),
		)
		producer := &recordingProducer{err: errors.New("broker unavailable")}
		store := New(producer, breaker, nil, nil)

		s.Error(store.Append(context.Background(), s.event()))
		s.Require().True(breaker.IsOpen())

		now = now.Add(2 * time.Second)
		producer.err = nil
		store.marshal = func(audit.Event) ([]byte, error) { return nil, errors.New("unsupported value") }
		err := store.Append(context.Background(), s.event())
		s.Require().Error(err)
		s.NotErrorIs(err, ErrCircuitOpen)

		store.marshal = Marshal
		s.Require().NoError(store.Append(context.Background(), s.event()))
		s.Equal(circuit.StateClosed, breaker.State())
		s.Len(producer.keys, 1)
	})
}

// =============================================================================
// Wire format
// =============================================================================

func TestMarshal(t *testing.T) {
	t.Run("renders txma envelope", func(t *testing.T) {
		event := audit.Event{
			Name:        audit.EventCopResponseReceived,
			Timestamp:   time.Unix(1700000000, 250_000_000),
			ComponentID: audit.ComponentID,
			User:        audit.User{SessionID: "s1", GovukSigninJourneyID: "journey-1"},
			Extensions:  audit.Extensions{CopCheckResult: "PARTIAL_MATCH", AttemptNum: 2},
			Device:      device.Info{Browser: "Firefox 120.0"},
		}

		raw, err := Marshal(event)
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "BAV_COP_RESPONSE_RECEIVED", got["event_name"])
		assert.EqualValues(t, 1700000000, got["timestamp"])
		assert.EqualValues(t, 1700000000250, got["event_timestamp_ms"])

		user := got["user"].(map[string]any)
		assert.Equal(t, "s1", user["session_id"])
		assert.Equal(t, "journey-1", user["govuk_signin_journey_id"])

		ext := got["extensions"].(map[string]any)
		assert.Equal(t, "PARTIAL_MATCH", ext["copCheckResult"])
		assert.EqualValues(t, 2, ext["attemptNum"])

		restricted := got["restricted"].(map[string]any)
		assert.Contains(t, restricted, "device_information")
	})

	t.Run("omits empty sections", func(t *testing.T) {
		raw, err := Marshal(audit.Event{Name: audit.EventCopRequestSent, User: audit.User{SessionID: "s1"}})
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.NotContains(t, got, "extensions")
		assert.NotContains(t, got, "restricted")
	})
}
