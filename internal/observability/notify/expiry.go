// Package notify broadcasts process-wide session notifications to decoupled listeners.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionExpired is emitted when a credential is rejected mid-session.
type SessionExpired struct {
	At time.Time
}

// ExpiryListener receives session expiry notifications.
type ExpiryListener interface {
	SessionExpired(ctx context.Context, evt SessionExpired)
}

// ExpiryListenerFunc adapts a function to the ExpiryListener interface (useful for tests).
type ExpiryListenerFunc func(ctx context.Context, evt SessionExpired)

// SessionExpired implements the ExpiryListener interface.
func (f ExpiryListenerFunc) SessionExpired(ctx context.Context, evt SessionExpired) {
	if f == nil {
		return
	}
	f(ctx, evt)
}

// ExpiryBroadcaster fans a single expiry event out to every subscribed listener.
// It is safe for concurrent use.
type ExpiryBroadcaster struct {
	mu        sync.RWMutex
	listeners map[string]ExpiryListener
	logger    *slog.Logger
}

// NewExpiryBroadcaster creates a broadcaster with no listeners.
func NewExpiryBroadcaster(logger *slog.Logger) *ExpiryBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryBroadcaster{
		listeners: make(map[string]ExpiryListener),
		logger:    logger,
	}
}

// Subscription is the handle returned by Subscribe. Cancel detaches the listener.
type Subscription struct {
	id   string
	b    *ExpiryBroadcaster
	once sync.Once
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Cancel removes the listener. Calling it more than once is a no-op.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.listeners, s.id)
		s.b.mu.Unlock()
	})
}

// Subscribe registers l and returns a cancellable handle.
func (b *ExpiryBroadcaster) Subscribe(l ExpiryListener) *Subscription {
	id := uuid.NewString()
	b.mu.Lock()
	b.listeners[id] = l
	b.mu.Unlock()
	return &Subscription{id: id, b: b}
}

// Publish delivers evt to every listener registered at call time, synchronously and once each.
// A panicking listener is logged and does not prevent delivery to the others.
func (b *ExpiryBroadcaster) Publish(ctx context.Context, evt SessionExpired) {
	if b == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]ExpiryListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		targets = append(targets, l)
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.deliver(ctx, l, evt)
	}
}

func (b *ExpiryBroadcaster) deliver(ctx context.Context, l ExpiryListener, evt SessionExpired) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "session expiry listener panicked", slog.Any("panic", r))
		}
	}()
	l.SessionExpired(ctx, evt)
}

// SubscriberCount returns the number of active listeners.
func (b *ExpiryBroadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
