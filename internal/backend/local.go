package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ThomasT75/uinput"
	"golang.org/x/sys/unix"

	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/logger"
	"github.com/bnema/waygate/internal/protocol"
)

// Linux button codes the virtual mouse can deliver.
const (
	btnLeft   = 0x110
	btnRight  = 0x111
	btnMiddle = 0x112
)

// absAxisMax is the axis range of the virtual absolute-pointer device,
// matching protocol.MaxAbsCoordinate so absolute events map 1:1.
const absAxisMax = 65535

// Local injects input through uinput virtual devices and acquires capture
// resources directly from the host. It serves hosts where no compositor-
// native integration is attached: a virtual mouse and keyboard cover the
// pointer and keyboard classes, and an absolute-axis touchpad device
// carries absolute pointer positioning.
//
// Touchscreen slots need multitouch protocol support that uinput's
// single-contact devices cannot express, so the touchscreen class is not
// advertised.
type Local struct {
	mu       sync.Mutex
	mouse    uinput.Mouse
	keyboard uinput.Keyboard
	absPtr   uinput.TouchPad
	closed   bool

	captureMu   sync.Mutex
	nextCapture CaptureHandle
	captures    map[CaptureHandle]int // handle -> fd
}

// NewLocal creates the virtual devices. Fails when /dev/uinput cannot be
// opened; the absolute-pointer device is optional and its absence only
// degrades absolute positioning.
func NewLocal() (*Local, error) {
	mouse, err := uinput.CreateMouse("/dev/uinput", []byte("Waygate Virtual Mouse"))
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual mouse: %w", err)
	}

	keyboard, err := uinput.CreateKeyboard("/dev/uinput", []byte("Waygate Virtual Keyboard"))
	if err != nil {
		_ = mouse.Close()
		return nil, fmt.Errorf("failed to create virtual keyboard: %w", err)
	}

	absPtr, err := uinput.CreateTouchPad("/dev/uinput", []byte("Waygate Absolute Pointer"),
		0, absAxisMax, 0, absAxisMax)
	if err != nil {
		logger.Warnf("absolute pointer device unavailable: %v", err)
		absPtr = nil
	}

	return &Local{
		mouse:    mouse,
		keyboard: keyboard,
		absPtr:   absPtr,
		captures: make(map[CaptureHandle]int),
	}, nil
}

func (l *Local) Name() string { return "local-uinput" }

func (l *Local) SupportedDevices() protocol.DeviceSet {
	return protocol.DeviceSet(0).
		With(protocol.DevicePointer).
		With(protocol.DeviceKeyboard)
}

func (l *Local) InputDeliveryAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

// Inject delivers one event to the matching virtual device. The caller
// has already validated and authorized the event.
func (l *Local) Inject(ctx context.Context, event *protocol.InputEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Fatalf("backend closed")
	}

	switch {
	case event.PointerMotion != nil:
		m := event.PointerMotion
		return l.mouse.Move(int32(m.DX), int32(m.DY))

	case event.PointerMotionAbsolute != nil:
		if l.absPtr == nil {
			return fmt.Errorf("%w: no absolute pointer device", ErrUnavailable)
		}
		m := event.PointerMotionAbsolute
		return l.absPtr.MoveTo(int32(m.X), int32(m.Y))

	case event.PointerButton != nil:
		return l.injectButton(event.PointerButton)

	case event.PointerAxis != nil:
		a := event.PointerAxis
		if a.DX != 0 {
			if err := l.mouse.Wheel(true, int32(a.DX)); err != nil {
				return err
			}
		}
		if a.DY != 0 {
			return l.mouse.Wheel(false, int32(a.DY))
		}
		return nil

	case event.KeyboardKeycode != nil:
		k := event.KeyboardKeycode
		if k.Pressed {
			return l.keyboard.KeyDown(int(k.Code))
		}
		return l.keyboard.KeyUp(int(k.Code))

	case event.KeyboardKeysym != nil:
		// Keysym resolution needs the active layout, which only a
		// compositor-native backend knows.
		return fmt.Errorf("%w: keysym injection requires a compositor backend", ErrUnavailable)

	default:
		return fmt.Errorf("unsupported event %s", event.Kind())
	}
}

func (l *Local) injectButton(b *protocol.PointerButton) error {
	switch b.Code {
	case btnLeft:
		if b.Pressed {
			return l.mouse.LeftPress()
		}
		return l.mouse.LeftRelease()
	case btnRight:
		if b.Pressed {
			return l.mouse.RightPress()
		}
		return l.mouse.RightRelease()
	case btnMiddle:
		if b.Pressed {
			return l.mouse.MiddlePress()
		}
		return l.mouse.MiddleRelease()
	default:
		return fmt.Errorf("%w: button code %#x not mapped", ErrUnavailable, b.Code)
	}
}

// BeginCapture acquires the resource behind the requested tier: an open
// DRM render node for zero-copy, a sealed memfd staging buffer for the
// shared-memory path, or the raw framebuffer device for the CPU fallback.
// Failures are retryable; a capture gap degrades the session, it never
// kills it.
func (l *Local) BeginCapture(ctx context.Context, tier capture.Tier) (CaptureHandle, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	fd, err := l.acquireCaptureFD(tier)
	if err != nil {
		return 0, err
	}

	l.captureMu.Lock()
	defer l.captureMu.Unlock()
	l.nextCapture++
	handle := l.nextCapture
	l.captures[handle] = fd
	logger.Debugf("capture path acquired tier=%s handle=%d", tier, handle)
	return handle, nil
}

func (l *Local) acquireCaptureFD(tier capture.Tier) (int, error) {
	switch tier {
	case capture.TierGPUZeroCopy:
		nodes, _ := filepath.Glob("/dev/dri/renderD*")
		for _, node := range nodes {
			fd, err := unix.Open(node, unix.O_RDWR|unix.O_CLOEXEC, 0)
			if err == nil {
				return fd, nil
			}
		}
		return 0, fmt.Errorf("%w: no openable render node", ErrUnavailable)

	case capture.TierSharedMemory:
		fd, err := unix.MemfdCreate("waygate-capture", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
		if err != nil {
			return 0, fmt.Errorf("%w: memfd: %v", ErrUnavailable, err)
		}
		return fd, nil

	case capture.TierCPUFallback:
		fd, err := unix.Open("/dev/fb0", unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			return 0, fmt.Errorf("%w: framebuffer: %v", ErrUnavailable, err)
		}
		return fd, nil

	default:
		return 0, fmt.Errorf("%w: no capture path on this host", ErrUnavailable)
	}
}

func (l *Local) EndCapture(handle CaptureHandle) error {
	l.captureMu.Lock()
	defer l.captureMu.Unlock()

	fd, ok := l.captures[handle]
	if !ok {
		return fmt.Errorf("unknown capture handle %d", handle)
	}
	delete(l.captures, handle)
	return unix.Close(fd)
}

// Close tears down the virtual devices and any leaked capture handles.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	var err error
	if e := l.mouse.Close(); e != nil {
		err = e
	}
	if e := l.keyboard.Close(); e != nil && err == nil {
		err = e
	}
	if l.absPtr != nil {
		if e := l.absPtr.Close(); e != nil && err == nil {
			err = e
		}
	}

	l.captureMu.Lock()
	for handle, fd := range l.captures {
		_ = unix.Close(fd)
		delete(l.captures, handle)
	}
	l.captureMu.Unlock()

	return err
}
