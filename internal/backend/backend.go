// Package backend defines the pluggable compositor-integration surface.
// The core treats every backend uniformly: all behavior differences must
// be expressed through the capability values a backend reports, never by
// inspecting its concrete type.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/waygate/internal/capability"
	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/logger"
	"github.com/bnema/waygate/internal/protocol"
)

// ErrUnavailable marks a transient backend failure (connection lost,
// resource busy). Callers may retry with backoff at their discretion.
var ErrUnavailable = errors.New("backend unavailable")

// FatalError marks an unrecoverable backend failure. The session owning
// the call must be closed.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "backend fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatalf builds a FatalError from a format string.
func Fatalf(format string, args ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries an unrecoverable backend failure.
// Anything else coming out of a backend is treated as retryable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// CaptureHandle identifies one acquired capture path on a backend. Valid
// until EndCapture.
type CaptureHandle uint64

// Backend is the capability-queryable integration point that performs
// input injection and capture acquisition against a concrete compositor
// or runtime.
type Backend interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// SupportedDevices returns the device classes this backend can
	// inject. Queried at SelectDevices time to narrow the requested set.
	SupportedDevices() protocol.DeviceSet

	// InputDeliveryAvailable reports whether synthetic input can be
	// injected right now. May be false transiently even when
	// SupportedDevices is non-empty.
	InputDeliveryAvailable() bool

	// Inject delivers one validated event. Errors are either retryable
	// (ErrUnavailable or anything unclassified) or *FatalError.
	Inject(ctx context.Context, event *protocol.InputEvent) error

	// BeginCapture acquires the capture path for the given tier. The
	// core never inspects pixel data; it only holds the handle.
	BeginCapture(ctx context.Context, tier capture.Tier) (CaptureHandle, error)

	// EndCapture releases a previously acquired capture path.
	EndCapture(handle CaptureHandle) error

	// Close releases all backend resources.
	Close() error
}

// CreateBackend picks the best backend for the probed host: the local
// uinput-based backend when a synthetic-input channel exists, otherwise
// the null backend so sessions still start (degraded) on hosts that can
// do nothing.
func CreateBackend(caps capability.HostCapabilities) Backend {
	if caps.SyntheticInput {
		if b, err := NewLocal(); err == nil {
			logger.Info("using local uinput backend for input injection")
			return b
		} else {
			logger.Warnf("uinput backend unavailable, falling back to null backend: %v", err)
		}
	}
	logger.Info("using null backend (no input delivery on this host)")
	return NewNull()
}
