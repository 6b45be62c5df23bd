package session

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/waygate/internal/backend"
	"github.com/bnema/waygate/internal/logger"
	"github.com/bnema/waygate/internal/protocol"
)

// DispatchResult is the soft outcome of NotifyEvent when no error
// occurred: the event either reached the backend or was shed by the rate
// limiter.
type DispatchResult uint8

const (
	Dispatched DispatchResult = iota
	RateLimited
)

func (r DispatchResult) String() string {
	if r == RateLimited {
		return "rate-limited"
	}
	return "dispatched"
}

// NotifyEvent runs one input event through the pipeline: session lookup,
// state check, device authorization, bounds validation, rate limiting,
// then ordered dispatch to the backend.
//
// A rate-limited event is not an error: it is dropped, never queued, and
// reported as a soft outcome so floods shed load instead of failing the
// session. A fatal backend error closes the session before returning.
func (m *Manager) NotifyEvent(handle string, event *protocol.InputEvent) (DispatchResult, error) {
	s, err := m.lookup(handle)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		// Raced with Close; indistinguishable from an unknown handle.
		s.mu.Unlock()
		return 0, ErrInvalidSession
	case StateActive:
	default:
		state := s.state
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: NotifyEvent in state %s", ErrInvalidState, state)
	}
	authorized := s.authorized
	bucket := s.bucket
	s.mu.Unlock()

	required, ok := event.RequiredDevice()
	if !ok {
		return 0, fmt.Errorf("%w: event has no single variant", ErrInvalidEventData)
	}
	if !authorized.Has(required) {
		return 0, fmt.Errorf("%w: %s event needs %s, session authorizes %s",
			ErrUnauthorizedDevice, event.Kind(), required, authorized)
	}
	if err := protocol.ValidateEvent(event); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEventData, err)
	}

	// One token per event, every event type included; motion floods get
	// no bypass.
	if bucket == nil || !bucket.Allow() {
		return RateLimited, nil
	}

	// dispatchMu preserves per-session event order through the backend.
	// The backend call itself is timeout-bounded, so holding it here
	// cannot wedge the session indefinitely.
	s.dispatchMu.Lock()
	err = m.callBackend(func(ctx context.Context) error {
		return m.backend.Inject(ctx, event)
	})
	s.dispatchMu.Unlock()

	if err != nil {
		if backend.IsFatal(err) {
			logger.Errorf("backend fatal during inject handle=%s: %v", handle, err)
			_ = m.Close(handle)
			return 0, err
		}
		return 0, fmt.Errorf("inject %s: %w", event.Kind(), err)
	}

	now := m.opts.Clock()
	s.mu.Lock()
	s.touch(now)
	s.mu.Unlock()

	m.logActivity(handle, event, now)
	return Dispatched, nil
}

// logActivity records input dispatches at debug level, summarized every
// couple of seconds so motion bursts don't flood the log.
func (m *Manager) logActivity(handle string, event *protocol.InputEvent, now time.Time) {
	m.activityMu.Lock()
	defer m.activityMu.Unlock()

	m.activityCount++
	if now.Sub(m.lastActivityLog) < 2*time.Second && m.activityCount < 50 {
		return
	}
	logger.Debugf("input activity handle=%s last=%s events=%d", handle, event.Kind(), m.activityCount)
	m.lastActivityLog = now
	m.activityCount = 0
}
