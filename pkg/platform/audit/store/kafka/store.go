// Package kafka forwards audit events to the TxMA topic. Events are dropped
// while the circuit breaker is open so a broker outage does not add latency
// to every verification.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	audit "bav/pkg/platform/audit"
	"bav/pkg/platform/circuit"
	"bav/pkg/platform/middleware/device"
)

// ErrCircuitOpen is returned when an event is dropped by the breaker.
var ErrCircuitOpen = errors.New("audit sink circuit open")

// Producer publishes a keyed record. Satisfied by the platform Kafka producer.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

type Store struct {
	producer Producer
	breaker  *circuit.Breaker
	metrics  *Metrics
	logger   *slog.Logger
	marshal  func(audit.Event) ([]byte, error)
}

func New(producer Producer, breaker *circuit.Breaker, metrics *Metrics, logger *slog.Logger) *Store {
	if breaker == nil {
		breaker = circuit.New("txma")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{producer: producer, breaker: breaker, metrics: metrics, logger: logger, marshal: Marshal}
}

// Append serialises the event and produces it, keyed by session id so a
// session's events stay ordered within a partition. Only the produce call
// counts towards the breaker.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := s.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	if !s.breaker.Allow() {
		s.metrics.IncCircuitBreakerDropped()
		return ErrCircuitOpen
	}

	if err := s.producer.Produce(ctx, []byte(event.User.SessionID), payload); err != nil {
		s.metrics.IncPersistFailures()
		if s.breaker.RecordFailure() {
			s.logger.Warn("audit sink circuit opened", "breaker", s.breaker.Name(), "error", err)
		}
		s.metrics.SetCircuitBreakerState(s.breaker.IsOpen())
		return fmt.Errorf("produce audit event: %w", err)
	}

	s.breaker.RecordSuccess()
	s.metrics.SetCircuitBreakerState(false)
	s.metrics.IncPublished(string(event.Name))
	return nil
}

type wireEvent struct {
	EventID          string            `json:"event_id,omitempty"`
	EventName        string            `json:"event_name"`
	Timestamp        int64             `json:"timestamp"`
	EventTimestampMs int64             `json:"event_timestamp_ms"`
	ComponentID      string            `json:"component_id"`
	User             audit.User        `json:"user"`
	Extensions       *audit.Extensions `json:"extensions,omitempty"`
	Restricted       *wireRestricted   `json:"restricted,omitempty"`
}

type wireRestricted struct {
	DeviceInformation device.Info `json:"device_information"`
}

// Marshal renders an event in the TxMA envelope.
func Marshal(event audit.Event) ([]byte, error) {
	w := wireEvent{
		EventID:          event.ID,
		EventName:        string(event.Name),
		Timestamp:        event.Timestamp.Unix(),
		EventTimestampMs: event.Timestamp.UnixMilli(),
		ComponentID:      event.ComponentID,
		User:             event.User,
	}
	if event.Extensions != (audit.Extensions{}) {
		ext := event.Extensions
		w.Extensions = &ext
	}
	if event.Device != (device.Info{}) {
		w.Restricted = &wireRestricted{DeviceInformation: event.Device}
	}
	return json.Marshal(w)
}
