// Package publisher emits audit events to a Store, either inline or through a
// bounded buffer drained by a background goroutine.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "bav/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer has no room.
// The event is dropped.
var ErrBufferFull = errors.New("audit buffer full")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

// Publisher fans audit events into a Store.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time

	appendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	buffer chan audit.Event
	done   chan struct{}

	drainCtx    context.Context
	cancelDrain context.CancelFunc
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with the given capacity.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

// WithAppendTimeout bounds each background store write. Zero leaves writes
// bounded only by Close.
func WithAppendTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.appendTimeout = d
		}
	}
}

// WithLogger sets the logger used for background persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.done = make(chan struct{})
		p.drainCtx, p.cancelDrain = context.WithCancel(context.Background())
		go p.drain()
	}
	return p
}

// Emit stamps the event and hands it to the store. In async mode the store
// write happens later and its error is only logged.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ComponentID == "" {
		event.ComponentID = audit.ComponentID
	}

	if p.buffer == nil {
		if err := p.store.Append(ctx, event); err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

// List reads events back when the underlying store supports it.
func (p *Publisher) List(ctx context.Context, sessionID string) ([]audit.Event, error) {
	lister, ok := p.store.(audit.Lister)
	if !ok {
		return nil, errors.New("audit store does not support listing")
	}
	return lister.ListBySession(ctx, sessionID)
}

// Close stops accepting events and, in async mode, waits for the buffer to
// drain. If ctx ends first, in-flight and queued writes are cancelled and
// ctx's error is returned.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if p.buffer != nil {
			close(p.buffer)
		}
	}
	p.mu.Unlock()

	if p.done == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.cancelDrain()
		return fmt.Errorf("drain audit buffer: %w", ctx.Err())
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	defer p.cancelDrain()
	for event := range p.buffer {
		p.write(event)
	}
}

// write persists one buffered event. The request that produced it may
// already be gone, so the context derives from the publisher, not the request.
func (p *Publisher) write(event audit.Event) {
	ctx := p.drainCtx
	if p.appendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.appendTimeout)
		defer cancel()
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Error("failed to persist audit event",
			"error", err,
			"message_code", "FAILED_TO_WRITE_TXMA",
			"event_name", event.Name,
			"session_id", event.User.SessionID,
		)
	}
}
