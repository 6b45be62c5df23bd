package protocol

import (
	"errors"
	"fmt"
	"math"
)

// Bounds applied by ValidateEvent. Absolute coordinates use the same
// 16-bit range as uinput absolute axes and wl_fixed surface coordinates;
// relative deltas beyond a full traversal of that range in one event are
// garbage from any real device.
const (
	MaxAbsCoordinate = 65535.0
	MaxRelativeDelta = 65535.0
	MaxAxisDelta     = 4096.0
)

var errNoVariant = errors.New("input event has no variant set")

// PointerMotion is a relative pointer movement in motion units.
type PointerMotion struct {
	DX float64 `cbor:"1,keyasint"`
	DY float64 `cbor:"2,keyasint"`
}

// PointerMotionAbsolute positions the pointer on a capture stream in
// absolute stream-local coordinates.
type PointerMotionAbsolute struct {
	Stream uint32  `cbor:"1,keyasint"`
	X      float64 `cbor:"2,keyasint"`
	Y      float64 `cbor:"3,keyasint"`
}

// PointerButton is a button press or release, code in linux input-event-codes.
type PointerButton struct {
	Code    uint32 `cbor:"1,keyasint"`
	Pressed bool   `cbor:"2,keyasint"`
}

// PointerAxis is a relative scroll motion.
type PointerAxis struct {
	DX float64 `cbor:"1,keyasint"`
	DY float64 `cbor:"2,keyasint"`
}

// KeyboardKeycode is a key press or release by hardware keycode.
type KeyboardKeycode struct {
	Code    uint32 `cbor:"1,keyasint"`
	Pressed bool   `cbor:"2,keyasint"`
}

// KeyboardKeysym is a key press or release by symbolic key.
type KeyboardKeysym struct {
	Sym     uint32 `cbor:"1,keyasint"`
	Pressed bool   `cbor:"2,keyasint"`
}

// TouchDown starts a touch point in absolute stream-local coordinates.
type TouchDown struct {
	Slot uint32  `cbor:"1,keyasint"`
	X    float64 `cbor:"2,keyasint"`
	Y    float64 `cbor:"3,keyasint"`
}

// TouchMotion moves an active touch point.
type TouchMotion struct {
	Slot uint32  `cbor:"1,keyasint"`
	X    float64 `cbor:"2,keyasint"`
	Y    float64 `cbor:"3,keyasint"`
}

// TouchUp ends a touch point.
type TouchUp struct {
	Slot uint32 `cbor:"1,keyasint"`
}

// InputEvent is a tagged union over all notifiable input events. Exactly
// one variant field must be non-nil; the zero value is malformed.
type InputEvent struct {
	PointerMotion         *PointerMotion         `cbor:"1,keyasint,omitempty"`
	PointerMotionAbsolute *PointerMotionAbsolute `cbor:"2,keyasint,omitempty"`
	PointerButton         *PointerButton         `cbor:"3,keyasint,omitempty"`
	PointerAxis           *PointerAxis           `cbor:"4,keyasint,omitempty"`
	KeyboardKeycode       *KeyboardKeycode       `cbor:"5,keyasint,omitempty"`
	KeyboardKeysym        *KeyboardKeysym        `cbor:"6,keyasint,omitempty"`
	TouchDown             *TouchDown             `cbor:"7,keyasint,omitempty"`
	TouchMotion           *TouchMotion           `cbor:"8,keyasint,omitempty"`
	TouchUp               *TouchUp               `cbor:"9,keyasint,omitempty"`
}

// Kind returns a short name for the set variant, for logging.
func (e *InputEvent) Kind() string {
	switch {
	case e.PointerMotion != nil:
		return "pointer-motion"
	case e.PointerMotionAbsolute != nil:
		return "pointer-motion-absolute"
	case e.PointerButton != nil:
		return "pointer-button"
	case e.PointerAxis != nil:
		return "pointer-axis"
	case e.KeyboardKeycode != nil:
		return "keyboard-keycode"
	case e.KeyboardKeysym != nil:
		return "keyboard-keysym"
	case e.TouchDown != nil:
		return "touch-down"
	case e.TouchMotion != nil:
		return "touch-motion"
	case e.TouchUp != nil:
		return "touch-up"
	default:
		return "empty"
	}
}

// RequiredDevice returns the device class a session must be authorized
// for before this event may be dispatched. ok is false when no variant
// (or more than one) is set.
func (e *InputEvent) RequiredDevice() (DeviceClass, bool) {
	var (
		class DeviceClass
		count int
	)
	if e.PointerMotion != nil || e.PointerMotionAbsolute != nil ||
		e.PointerButton != nil || e.PointerAxis != nil {
		class = DevicePointer
		count += countSet(e.PointerMotion != nil, e.PointerMotionAbsolute != nil,
			e.PointerButton != nil, e.PointerAxis != nil)
	}
	if e.KeyboardKeycode != nil || e.KeyboardKeysym != nil {
		class = DeviceKeyboard
		count += countSet(e.KeyboardKeycode != nil, e.KeyboardKeysym != nil)
	}
	if e.TouchDown != nil || e.TouchMotion != nil || e.TouchUp != nil {
		class = DeviceTouchscreen
		count += countSet(e.TouchDown != nil, e.TouchMotion != nil, e.TouchUp != nil)
	}
	if count != 1 {
		return 0, false
	}
	return class, true
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// ValidateEvent checks the numeric payload of an event: exactly one
// variant set, all floats finite, absolute coordinates within
// [0, MaxAbsCoordinate], deltas within the documented magnitude bounds.
func ValidateEvent(e *InputEvent) error {
	if e == nil {
		return errNoVariant
	}
	if _, ok := e.RequiredDevice(); !ok {
		return errNoVariant
	}

	switch {
	case e.PointerMotion != nil:
		return validateDelta("pointer motion", e.PointerMotion.DX, e.PointerMotion.DY, MaxRelativeDelta)
	case e.PointerMotionAbsolute != nil:
		return validateAbsolute("pointer position", e.PointerMotionAbsolute.X, e.PointerMotionAbsolute.Y)
	case e.PointerAxis != nil:
		return validateDelta("axis", e.PointerAxis.DX, e.PointerAxis.DY, MaxAxisDelta)
	case e.TouchDown != nil:
		return validateAbsolute("touch down", e.TouchDown.X, e.TouchDown.Y)
	case e.TouchMotion != nil:
		return validateAbsolute("touch motion", e.TouchMotion.X, e.TouchMotion.Y)
	default:
		// Button, keycode, keysym and touch-up payloads are integral;
		// any code/sym/slot value is representable and left to the
		// backend to interpret.
		return nil
	}
}

func validateDelta(what string, dx, dy, limit float64) error {
	if !isFinite(dx) || !isFinite(dy) {
		return fmt.Errorf("%s delta is not finite", what)
	}
	if math.Abs(dx) > limit || math.Abs(dy) > limit {
		return fmt.Errorf("%s delta (%g, %g) exceeds ±%g", what, dx, dy, limit)
	}
	return nil
}

func validateAbsolute(what string, x, y float64) error {
	if !isFinite(x) || !isFinite(y) {
		return fmt.Errorf("%s coordinate is not finite", what)
	}
	if x < 0 || x > MaxAbsCoordinate || y < 0 || y > MaxAbsCoordinate {
		return fmt.Errorf("%s coordinate (%g, %g) outside [0, %g]", what, x, y, MaxAbsCoordinate)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
