// Package capture decides which screen-capture strategy a session should
// request. Selection is a pure function of a capability snapshot; actually
// acquiring the chosen path is the backend's job.
package capture

import "github.com/bnema/waygate/internal/capability"

// Tier ranks capture strategies by preference. Higher is better.
type Tier uint8

const (
	TierUnavailable Tier = iota
	TierCPUFallback
	TierSharedMemory
	TierGPUZeroCopy
)

// String returns the wire/log name of the tier.
func (t Tier) String() string {
	switch t {
	case TierGPUZeroCopy:
		return "gpu-zero-copy"
	case TierSharedMemory:
		return "shared-memory"
	case TierCPUFallback:
		return "cpu-fallback"
	case TierUnavailable:
		return "unavailable"
	default:
		return "unavailable"
	}
}

// Available reports whether the tier can produce pixels at all.
func (t Tier) Available() bool {
	return t != TierUnavailable
}

// SelectTier picks the best capture tier the host supports: GPU zero-copy
// when the dmabuf protocol is present at or above minDmabufVersion, else
// the shared-memory path, else a raw framebuffer read, else no capture.
// Total over all inputs; callers re-evaluate per Start so a reconnected
// backend with different capabilities is picked up, and a lost capability
// can only degrade the result, never improve it.
func SelectTier(caps capability.HostCapabilities, minDmabufVersion uint32) Tier {
	switch {
	case caps.Dmabuf && caps.DmabufVersion >= minDmabufVersion:
		return TierGPUZeroCopy
	case caps.Shm:
		return TierSharedMemory
	case caps.Framebuffer:
		return TierCPUFallback
	default:
		return TierUnavailable
	}
}
