// Package session implements the portal core: the session lifecycle state
// machine, per-session authorization, and the rate-limited input pipeline
// in front of the backend.
package session

import (
	"sync"
	"time"

	"github.com/bnema/waygate/internal/backend"
	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/protocol"
	"github.com/bnema/waygate/internal/ratelimit"
)

// State is a session's lifecycle position. Transitions happen only in
// declaration order and Closed is terminal.
type State uint8

const (
	StateCreated State = iota
	StateDevicesSelected
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDevicesSelected:
		return "devices-selected"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Mode is the capability level a session actually realized at Start,
// after reconciling requested devices against host and backend
// capabilities. Immutable for the life of the session.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeInputOnly
	ModeViewOnly
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeViewOnly:
		return "view-only"
	case ModeInputOnly:
		return "input-only"
	case ModeNone:
		return "none"
	default:
		return "none"
	}
}

// Session is one negotiated remote-control grant. All mutation goes
// through the Manager; mu serializes state while dispatchMu preserves
// event order through the backend without blocking state queries.
type Session struct {
	mu sync.Mutex

	handle     string
	appID      string
	state      State
	authorized protocol.DeviceSet

	mode           Mode
	tier           capture.Tier
	degradedReason string

	captureHandle backend.CaptureHandle
	hasCapture    bool

	bucket *ratelimit.Bucket

	createdAt    time.Time
	lastActiveAt time.Time

	// dispatchMu serializes Inject calls so events within one session
	// reach the backend in the order received.
	dispatchMu sync.Mutex
}

// Handle returns the session's opaque handle.
func (s *Session) Handle() string { return s.handle }

// AppID returns the requesting application identity. Audit metadata only.
func (s *Session) AppID() string { return s.appID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AuthorizedDevices returns the effective authorized device set.
func (s *Session) AuthorizedDevices() protocol.DeviceSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized
}

// EffectiveMode returns the mode resolved at Start (ModeNone before).
func (s *Session) EffectiveMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// CaptureTier returns the tier selected at Start.
func (s *Session) CaptureTier() capture.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActiveAt returns the time of the last accepted operation.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

func (s *Session) touch(now time.Time) {
	s.lastActiveAt = now
}
