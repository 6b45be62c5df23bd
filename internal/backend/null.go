package backend

import (
	"context"
	"fmt"

	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/protocol"
)

// Null is the backend for hosts with no usable integration: it supports
// no devices, delivers nothing, and acquires nothing. Sessions against it
// still run their full lifecycle, ending up in mode None.
type Null struct{}

func NewNull() *Null { return &Null{} }

func (*Null) Name() string { return "null" }

func (*Null) SupportedDevices() protocol.DeviceSet { return 0 }

func (*Null) InputDeliveryAvailable() bool { return false }

func (*Null) Inject(ctx context.Context, event *protocol.InputEvent) error {
	return fmt.Errorf("%w: null backend delivers no input", ErrUnavailable)
}

func (*Null) BeginCapture(ctx context.Context, tier capture.Tier) (CaptureHandle, error) {
	return 0, fmt.Errorf("%w: null backend has no capture path", ErrUnavailable)
}

func (*Null) EndCapture(handle CaptureHandle) error { return nil }

func (*Null) Close() error { return nil }
