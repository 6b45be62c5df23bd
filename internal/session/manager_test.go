package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/waygate/internal/backend"
	"github.com/bnema/waygate/internal/capability"
	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/protocol"
)

// fakeClock drives session and bucket time deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeBackend is a scriptable Backend recording every call.
type fakeBackend struct {
	mu             sync.Mutex
	supported      protocol.DeviceSet
	inputAvailable bool
	captureErr     error
	injectErr      error

	injected    []string
	nextCapture backend.CaptureHandle
	active      map[backend.CaptureHandle]capture.Tier
	ended       []backend.CaptureHandle
}

func newFakeBackend(supported protocol.DeviceSet, inputAvailable bool) *fakeBackend {
	return &fakeBackend{
		supported:      supported,
		inputAvailable: inputAvailable,
		active:         make(map[backend.CaptureHandle]capture.Tier),
	}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) SupportedDevices() protocol.DeviceSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supported
}

func (f *fakeBackend) InputDeliveryAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputAvailable
}

func (f *fakeBackend) Inject(_ context.Context, event *protocol.InputEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injectErr != nil {
		return f.injectErr
	}
	f.injected = append(f.injected, event.Kind())
	return nil
}

func (f *fakeBackend) BeginCapture(_ context.Context, tier capture.Tier) (backend.CaptureHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return 0, f.captureErr
	}
	f.nextCapture++
	f.active[f.nextCapture] = tier
	return f.nextCapture, nil
}

func (f *fakeBackend) EndCapture(handle backend.CaptureHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, handle)
	f.ended = append(f.ended, handle)
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) injectedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.injected)
}

func (f *fakeBackend) endedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ended)
}

func (f *fakeBackend) setInjectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injectErr = err
}

func newTestManager(t *testing.T, b backend.Backend, caps capability.HostCapabilities) (*Manager, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	m := NewManager(b, capability.Static{Caps: caps}, Options{
		MaxSessions:      4,
		MaxEventsPerSec:  1000,
		BurstLimit:       100,
		BackendTimeout:   time.Second,
		MinDmabufVersion: 3,
		Clock:            clk.Now,
	})
	return m, clk
}

func pointerEvent() *protocol.InputEvent {
	return &protocol.InputEvent{PointerMotion: &protocol.PointerMotion{DX: 1, DY: 1}}
}

func keyboardEvent() *protocol.InputEvent {
	return &protocol.InputEvent{KeyboardKeycode: &protocol.KeyboardKeycode{Code: 30, Pressed: true}}
}

func TestSessionLifecycle(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{
		Dmabuf: true, DmabufVersion: 4, Shm: true, SyntheticInput: true,
	})

	handle, err := m.CreateSession("org.example.viewer")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(handle, "wg-"))
	assert.Equal(t, 1, m.Count())

	effective, err := m.SelectDevices(handle, protocol.DeviceSet(protocol.DevicePointer|protocol.DeviceKeyboard))
	require.NoError(t, err)
	assert.Equal(t, protocol.DeviceSet(protocol.DevicePointer|protocol.DeviceKeyboard), effective)

	info, err := m.Start(handle)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, info.Mode)
	assert.Equal(t, capture.TierGPUZeroCopy, info.Tier)
	assert.Empty(t, info.DegradedReason)

	result, err := m.NotifyEvent(handle, pointerEvent())
	require.NoError(t, err)
	assert.Equal(t, Dispatched, result)
	assert.Equal(t, 1, fb.injectedCount())

	require.NoError(t, m.Close(handle))
	assert.Equal(t, 0, m.Count())

	// Capture release happens asynchronously after Close returns.
	assert.Eventually(t, func() bool { return fb.endedCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestSessionHandlesAreUnique(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{})

	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		h, err := m.CreateSession("app")
		require.NoError(t, err)
		require.False(t, seen[h])
		seen[h] = true
	}
}

func TestCreateSessionLimit(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{})

	handles := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		h, err := m.CreateSession("app")
		require.NoError(t, err)
		handles = append(handles, h)
	}

	_, err := m.CreateSession("app")
	require.ErrorIs(t, err, ErrTooManySessions)

	// Closing one frees a slot.
	require.NoError(t, m.Close(handles[0]))
	_, err = m.CreateSession("app")
	require.NoError(t, err)
}

func TestSelectDevicesValidation(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{})

	handle, err := m.CreateSession("app")
	require.NoError(t, err)

	_, err = m.SelectDevices(handle, 0)
	assert.ErrorIs(t, err, ErrInvalidDeviceSet)

	_, err = m.SelectDevices(handle, protocol.DeviceSet(0x80))
	assert.ErrorIs(t, err, ErrInvalidDeviceSet)

	// A rejected request leaves the state machine where it was.
	_, err = m.SelectDevices(handle, protocol.DeviceSet(protocol.DevicePointer))
	assert.NoError(t, err)
}

func TestSelectDevicesIntersectsBackendSupport(t *testing.T) {
	fb := newFakeBackend(protocol.DeviceSet(protocol.DevicePointer|protocol.DeviceKeyboard), true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{})

	handle, err := m.CreateSession("app")
	require.NoError(t, err)

	effective, err := m.SelectDevices(handle, protocol.AllDevices)
	require.NoError(t, err)
	assert.Equal(t, protocol.DeviceSet(protocol.DevicePointer|protocol.DeviceKeyboard), effective)
	assert.False(t, effective.Has(protocol.DeviceTouchscreen))
}

func TestStateMachineRejectsOutOfOrderOps(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{SyntheticInput: true})

	handle, err := m.CreateSession("app")
	require.NoError(t, err)

	// Start before SelectDevices.
	_, err = m.Start(handle)
	assert.ErrorIs(t, err, ErrInvalidState)

	// NotifyEvent before Active.
	_, err = m.NotifyEvent(handle, pointerEvent())
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = m.SelectDevices(handle, protocol.DeviceSet(protocol.DevicePointer))
	require.NoError(t, err)

	// SelectDevices twice.
	_, err = m.SelectDevices(handle, protocol.DeviceSet(protocol.DevicePointer))
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = m.Start(handle)
	require.NoError(t, err)

	// Start twice.
	_, err = m.Start(handle)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUnknownAndClosedHandlesAreIndistinguishable(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{})

	handle, err := m.CreateSession("app")
	require.NoError(t, err)
	require.NoError(t, m.Close(handle))

	_, closedErr := m.NotifyEvent(handle, pointerEvent())
	_, unknownErr := m.NotifyEvent("wg-00000000000000000000000000000000", pointerEvent())

	assert.ErrorIs(t, closedErr, ErrInvalidSession)
	assert.ErrorIs(t, unknownErr, ErrInvalidSession)
	assert.Equal(t, unknownErr.Error(), closedErr.Error())
}

func TestCloseIsIdempotent(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{})

	handle, err := m.CreateSession("app")
	require.NoError(t, err)

	assert.NoError(t, m.Close(handle))
	assert.NoError(t, m.Close(handle))
	assert.NoError(t, m.Close("wg-never-issued"))
}

func TestStartModeResolution(t *testing.T) {
	tests := []struct {
		name           string
		caps           capability.HostCapabilities
		inputAvailable bool
		devices        protocol.DeviceSet
		wantMode       Mode
		wantTier       capture.Tier
		wantReason     string
	}{
		{
			name:           "full on capable host",
			caps:           capability.HostCapabilities{Dmabuf: true, DmabufVersion: 4, Shm: true, SyntheticInput: true},
			inputAvailable: true,
			devices:        protocol.DeviceSet(protocol.DevicePointer),
			wantMode:       ModeFull,
			wantTier:       capture.TierGPUZeroCopy,
		},
		{
			name:           "view-only when input delivery is missing",
			caps:           capability.HostCapabilities{Shm: true},
			inputAvailable: false,
			devices:        protocol.DeviceSet(protocol.DevicePointer),
			wantMode:       ModeViewOnly,
			wantTier:       capture.TierSharedMemory,
			wantReason:     "no synthetic input channel",
		},
		{
			name:           "input-only when no capture path exists",
			caps:           capability.HostCapabilities{SyntheticInput: true},
			inputAvailable: true,
			devices:        protocol.DeviceSet(protocol.DevicePointer),
			wantMode:       ModeInputOnly,
			wantTier:       capture.TierUnavailable,
			wantReason:     "no capture path on this host",
		},
		{
			name:           "none when host can do nothing",
			caps:           capability.HostCapabilities{},
			inputAvailable: false,
			devices:        protocol.DeviceSet(protocol.DevicePointer),
			wantMode:       ModeNone,
			wantTier:       capture.TierUnavailable,
			wantReason:     "no capture path on this host",
		},
		{
			name:           "old dmabuf degrades tier but not mode",
			caps:           capability.HostCapabilities{Dmabuf: true, DmabufVersion: 2, Shm: true, SyntheticInput: true},
			inputAvailable: true,
			devices:        protocol.DeviceSet(protocol.DevicePointer),
			wantMode:       ModeFull,
			wantTier:       capture.TierSharedMemory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend(protocol.AllDevices, tt.inputAvailable)
			m, _ := newTestManager(t, fb, tt.caps)

			handle, err := m.CreateSession("app")
			require.NoError(t, err)
			_, err = m.SelectDevices(handle, tt.devices)
			require.NoError(t, err)

			info, err := m.Start(handle)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, info.Mode)
			assert.Equal(t, tt.wantTier, info.Tier)
			if tt.wantReason == "" {
				assert.Empty(t, info.DegradedReason)
			} else {
				assert.Contains(t, info.DegradedReason, tt.wantReason)
			}
		})
	}
}

func TestStartDegradesWhenCaptureAcquisitionFails(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	fb.captureErr = fmt.Errorf("compositor rejected the request: %w", backend.ErrUnavailable)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{Shm: true, SyntheticInput: true})

	handle, err := m.CreateSession("app")
	require.NoError(t, err)
	_, err = m.SelectDevices(handle, protocol.DeviceSet(protocol.DevicePointer))
	require.NoError(t, err)

	// Acquisition failure degrades the session, it never fails Start.
	info, err := m.Start(handle)
	require.NoError(t, err)
	assert.Equal(t, ModeInputOnly, info.Mode)
	assert.Equal(t, capture.TierUnavailable, info.Tier)
	assert.Contains(t, info.DegradedReason, "capture acquisition failed")
}

func TestCloseReleasesCapture(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{Shm: true, SyntheticInput: true})

	handle, err := m.CreateSession("app")
	require.NoError(t, err)
	_, err = m.SelectDevices(handle, protocol.DeviceSet(protocol.DevicePointer))
	require.NoError(t, err)
	_, err = m.Start(handle)
	require.NoError(t, err)

	require.NoError(t, m.Close(handle))
	assert.Eventually(t, func() bool { return fb.endedCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestCloseAll(t *testing.T) {
	fb := newFakeBackend(protocol.AllDevices, true)
	m, _ := newTestManager(t, fb, capability.HostCapabilities{})

	for i := 0; i < 3; i++ {
		_, err := m.CreateSession("app")
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Count())

	m.CloseAll()
	assert.Equal(t, 0, m.Count())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidSession, "invalid-session"},
		{fmt.Errorf("wrapped: %w", ErrInvalidState), "invalid-state"},
		{ErrInvalidDeviceSet, "invalid-device-set"},
		{ErrUnauthorizedDevice, "unauthorized-device"},
		{ErrInvalidEventData, "invalid-event-data"},
		{ErrTooManySessions, "too-many-sessions"},
		{backend.Fatalf("device gone"), "backend-fatal"},
		{fmt.Errorf("inject: %w", backend.ErrUnavailable), "backend-unavailable"},
		{fmt.Errorf("something else"), "internal"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err))
	}
}
