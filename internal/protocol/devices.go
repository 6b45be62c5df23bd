package protocol

import "strings"

// DeviceClass identifies one class of input device a session can be
// authorized for. Values are single bits so they compose into a DeviceSet.
type DeviceClass uint8

const (
	DeviceKeyboard DeviceClass = 1 << iota
	DevicePointer
	DeviceTouchscreen
)

// String returns the lowercase name of the device class.
func (c DeviceClass) String() string {
	switch c {
	case DeviceKeyboard:
		return "keyboard"
	case DevicePointer:
		return "pointer"
	case DeviceTouchscreen:
		return "touchscreen"
	default:
		return "unknown"
	}
}

// DeviceSet is a bitmask of device classes.
type DeviceSet uint8

// AllDevices is the full set of device classes the portal knows about.
const AllDevices = DeviceSet(DeviceKeyboard | DevicePointer | DeviceTouchscreen)

// Has reports whether the set contains the given class.
func (s DeviceSet) Has(c DeviceClass) bool {
	return s&DeviceSet(c) != 0
}

// With returns the set with the given class added.
func (s DeviceSet) With(c DeviceClass) DeviceSet {
	return s | DeviceSet(c)
}

// Intersect returns the classes present in both sets.
func (s DeviceSet) Intersect(other DeviceSet) DeviceSet {
	return s & other
}

// Empty reports whether the set contains no classes.
func (s DeviceSet) Empty() bool {
	return s == 0
}

// Classes returns the individual classes in the set, in declaration order.
func (s DeviceSet) Classes() []DeviceClass {
	var out []DeviceClass
	for _, c := range []DeviceClass{DeviceKeyboard, DevicePointer, DeviceTouchscreen} {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// String returns a "+"-joined list of class names, or "none".
func (s DeviceSet) String() string {
	classes := s.Classes()
	if len(classes) == 0 {
		return "none"
	}
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = c.String()
	}
	return strings.Join(names, "+")
}
