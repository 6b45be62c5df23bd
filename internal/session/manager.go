package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/waygate/internal/backend"
	"github.com/bnema/waygate/internal/capability"
	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/config"
	"github.com/bnema/waygate/internal/logger"
	"github.com/bnema/waygate/internal/protocol"
	"github.com/bnema/waygate/internal/ratelimit"
)

// Options bounds the manager's resource use and pipeline behavior.
type Options struct {
	MaxSessions      int
	MaxEventsPerSec  int
	BurstLimit       int
	BackendTimeout   time.Duration
	MinDmabufVersion uint32

	// Clock overrides time for tests; nil means time.Now.
	Clock ratelimit.Clock
}

// OptionsFromConfig derives manager options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxSessions:      cfg.Session.MaxSessions,
		MaxEventsPerSec:  cfg.Session.MaxEventsPerSec,
		BurstLimit:       cfg.Session.BurstLimit,
		BackendTimeout:   time.Duration(cfg.Session.BackendTimeoutMs) * time.Millisecond,
		MinDmabufVersion: cfg.Capture.MinDmabufVersion,
	}
}

// StartInfo is what Start reports back: the realized mode, the capture
// tier behind it, and why the session fell short of Full, if it did.
type StartInfo struct {
	Mode           Mode
	Tier           capture.Tier
	DegradedReason string
}

// Manager owns the session table and runs every lifecycle transition.
// Operations on different sessions proceed in parallel; operations on one
// session are serialized by its own lock. The backend may be shared by
// all sessions and handles its own internal serialization.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	backend backend.Backend
	prober  capability.Prober
	opts    Options

	// Input activity logging is throttled so motion floods don't drown
	// the log.
	activityMu      sync.Mutex
	lastActivityLog time.Time
	activityCount   int
}

// NewManager creates a manager dispatching to the given backend, probing
// capture capabilities through prober at each Start.
func NewManager(b backend.Backend, prober capability.Prober, opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = config.DefaultConfig.Session.MaxSessions
	}
	if opts.MaxEventsPerSec <= 0 {
		opts.MaxEventsPerSec = config.DefaultConfig.Session.MaxEventsPerSec
	}
	if opts.BurstLimit <= 0 {
		opts.BurstLimit = config.DefaultConfig.Session.BurstLimit
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = time.Duration(config.DefaultConfig.Session.BackendTimeoutMs) * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{
		sessions: make(map[string]*Session),
		backend:  b,
		prober:   prober,
		opts:     opts,
	}
}

// Backend returns the backend the manager dispatches to.
func (m *Manager) Backend() backend.Backend { return m.backend }

// Count returns the number of live (non-closed) sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CreateSession allocates a fresh session in state Created with no
// authorized devices. Fails only on resource exhaustion.
func (m *Manager) CreateSession(appID string) (string, error) {
	handle, err := newHandle()
	if err != nil {
		return "", fmt.Errorf("failed to allocate session handle: %w", err)
	}

	now := m.opts.Clock()
	s := &Session{
		handle:       handle,
		appID:        appID,
		state:        StateCreated,
		bucket:       ratelimit.NewBucket(m.opts.BurstLimit, m.opts.MaxEventsPerSec, m.opts.Clock),
		createdAt:    now,
		lastActiveAt: now,
	}

	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: limit of %d reached", ErrTooManySessions, m.opts.MaxSessions)
	}
	m.sessions[handle] = s
	m.mu.Unlock()

	logger.Infof("session created handle=%s app=%s", handle, appID)
	return handle, nil
}

// SelectDevices records the authorized device set as the intersection of
// the request with what the backend supports, and returns that effective
// set. Valid only in state Created.
func (m *Manager) SelectDevices(handle string, requested protocol.DeviceSet) (protocol.DeviceSet, error) {
	if requested.Empty() {
		return 0, fmt.Errorf("%w: requested set is empty", ErrInvalidDeviceSet)
	}
	if requested&^protocol.AllDevices != 0 {
		return 0, fmt.Errorf("%w: unknown device bits %#x", ErrInvalidDeviceSet, uint8(requested))
	}

	s, err := m.lookup(handle)
	if err != nil {
		return 0, err
	}

	// Capability query happens outside the session lock; the supported
	// set is a stable property of the attached backend.
	supported := m.backend.SupportedDevices()
	effective := requested.Intersect(supported)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return 0, fmt.Errorf("%w: SelectDevices in state %s", ErrInvalidState, s.state)
	}
	s.authorized = effective
	s.state = StateDevicesSelected
	s.touch(m.opts.Clock())

	logger.Infof("session devices selected handle=%s requested=%s effective=%s",
		handle, requested, effective)
	return effective, nil
}

// Start resolves the session's effective mode from the capture tier and
// the backend's input capability, acquires the capture path when one
// exists, and activates the session. Degradation is reported through
// StartInfo, never as an error: every host configuration yields an Active
// session in some mode.
func (m *Manager) Start(handle string) (StartInfo, error) {
	s, err := m.lookup(handle)
	if err != nil {
		return StartInfo{}, err
	}

	s.mu.Lock()
	if s.state != StateDevicesSelected {
		state := s.state
		s.mu.Unlock()
		return StartInfo{}, fmt.Errorf("%w: Start in state %s", ErrInvalidState, state)
	}
	authorized := s.authorized
	s.mu.Unlock()

	// Tier selection is re-evaluated per Start; a backend reconnect with
	// different capabilities must be picked up, not a stale snapshot.
	caps := m.prober.Probe()
	tier := capture.SelectTier(caps, m.opts.MinDmabufVersion)

	var (
		captureHandle backend.CaptureHandle
		hasCapture    bool
		reason        string
	)
	if tier.Available() {
		err := m.callBackend(func(ctx context.Context) error {
			var err error
			captureHandle, err = m.backend.BeginCapture(ctx, tier)
			return err
		})
		if err != nil {
			// A capture gap degrades the mode, it never fails Start.
			logger.Warnf("capture acquisition failed handle=%s tier=%s: %v", handle, tier, err)
			reason = fmt.Sprintf("capture acquisition failed: %v", err)
			tier = capture.TierUnavailable
		} else {
			hasCapture = true
		}
	} else {
		reason = "no capture path on this host"
	}

	inputAvailable := m.backend.InputDeliveryAvailable()
	mode := resolveMode(hasCapture, inputAvailable, authorized)
	if mode != ModeFull && reason == "" {
		switch {
		case !inputAvailable:
			reason = "no synthetic input channel"
		case authorized.Empty():
			reason = "no authorized devices"
		}
	}
	if mode == ModeFull {
		reason = ""
	}

	s.mu.Lock()
	if s.state != StateDevicesSelected {
		// Closed (or otherwise moved) while we were talking to the
		// backend; release what we grabbed and report the handle gone.
		s.mu.Unlock()
		if hasCapture {
			go m.releaseCapture(captureHandle)
		}
		return StartInfo{}, ErrInvalidSession
	}
	s.state = StateActive
	s.mode = mode
	s.tier = tier
	s.degradedReason = reason
	s.captureHandle = captureHandle
	s.hasCapture = hasCapture
	s.touch(m.opts.Clock())
	s.mu.Unlock()

	logger.Infof("session started handle=%s mode=%s tier=%s reason=%q",
		handle, mode, tier, reason)
	return StartInfo{Mode: mode, Tier: tier, DegradedReason: reason}, nil
}

// resolveMode reconciles capture and input availability into the
// session's effective mode.
func resolveMode(captureOK, inputOK bool, authorized protocol.DeviceSet) Mode {
	inputUsable := inputOK && !authorized.Empty()
	switch {
	case captureOK && inputUsable:
		return ModeFull
	case captureOK:
		return ModeViewOnly
	case inputUsable:
		return ModeInputOnly
	default:
		return ModeNone
	}
}

// Close tears the session down. Valid from any state and idempotent:
// closing a handle that is already closed or was never issued is a
// successful no-op. The handle is
// invalid the moment Close returns; backend teardown finishes
// asynchronously and its failures are logged, not surfaced.
func (m *Manager) Close(handle string) error {
	m.mu.Lock()
	s, ok := m.sessions[handle]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, handle)
	m.mu.Unlock()

	s.mu.Lock()
	s.state = StateClosed
	s.bucket = nil
	captureHandle := s.captureHandle
	hasCapture := s.hasCapture
	s.hasCapture = false
	s.mu.Unlock()

	if hasCapture {
		go m.releaseCapture(captureHandle)
	}

	logger.Infof("session closed handle=%s app=%s", handle, s.appID)
	return nil
}

// CloseAll closes every live session; used at daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	handles := make([]string, 0, len(m.sessions))
	for h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		_ = m.Close(h)
	}
}

func (m *Manager) releaseCapture(handle backend.CaptureHandle) {
	if err := m.backend.EndCapture(handle); err != nil {
		logger.Warnf("capture release failed handle=%d: %v", handle, err)
	}
}

// lookup resolves a handle. Unknown and closed handles take the same path
// and return the same error, so callers cannot enumerate sessions.
func (m *Manager) lookup(handle string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[handle]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidSession
	}
	return s, nil
}

// callBackend runs a backend call bounded by the configured timeout. On
// timeout the call is abandoned and classified retryable; it is never
// left pending from the caller's point of view.
func (m *Manager) callBackend(f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.BackendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: backend call exceeded %s", backend.ErrUnavailable, m.opts.BackendTimeout)
	}
}

// newHandle mints an unforgeable session handle: 128 bits from the
// system CSPRNG.
func newHandle() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return "wg-" + hex.EncodeToString(raw[:]), nil
}
