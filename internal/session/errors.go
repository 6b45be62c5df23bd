package session

import (
	"errors"

	"github.com/bnema/waygate/internal/backend"
)

// Portal error taxonomy. Validation and authorization failures are
// returned synchronously and never retried internally; backend failures
// are classified retryable (backend.ErrUnavailable) or fatal
// (backend.FatalError), and a fatal failure forces the session closed.
var (
	// ErrInvalidSession covers unknown and closed handles alike, so a
	// caller probing handles cannot distinguish a session that once
	// existed from one that never did.
	ErrInvalidSession = errors.New("invalid session")

	ErrInvalidState       = errors.New("operation not valid in current session state")
	ErrInvalidDeviceSet   = errors.New("invalid device set")
	ErrUnauthorizedDevice = errors.New("device class not authorized for this session")
	ErrInvalidEventData   = errors.New("malformed event data")
	ErrTooManySessions    = errors.New("too many sessions")
)

// ErrorCode maps an error to its wire taxonomy name, or "" for nil.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSession):
		return "invalid-session"
	case errors.Is(err, ErrInvalidState):
		return "invalid-state"
	case errors.Is(err, ErrInvalidDeviceSet):
		return "invalid-device-set"
	case errors.Is(err, ErrUnauthorizedDevice):
		return "unauthorized-device"
	case errors.Is(err, ErrInvalidEventData):
		return "invalid-event-data"
	case errors.Is(err, ErrTooManySessions):
		return "too-many-sessions"
	case backend.IsFatal(err):
		return "backend-fatal"
	case errors.Is(err, backend.ErrUnavailable):
		return "backend-unavailable"
	default:
		return "internal"
	}
}
