package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bnema/waygate/internal/capability"
)

func TestSelectTier(t *testing.T) {
	tests := []struct {
		name             string
		caps             capability.HostCapabilities
		minDmabufVersion uint32
		want             Tier
	}{
		{
			name: "full host picks gpu zero-copy",
			caps: capability.HostCapabilities{
				Dmabuf: true, DmabufVersion: 4,
				Shm: true, Framebuffer: true,
			},
			minDmabufVersion: 3,
			want:             TierGPUZeroCopy,
		},
		{
			name: "dmabuf version exactly at minimum",
			caps: capability.HostCapabilities{
				Dmabuf: true, DmabufVersion: 3, Shm: true,
			},
			minDmabufVersion: 3,
			want:             TierGPUZeroCopy,
		},
		{
			name: "dmabuf version below minimum falls to shm",
			caps: capability.HostCapabilities{
				Dmabuf: true, DmabufVersion: 2, Shm: true,
			},
			minDmabufVersion: 3,
			want:             TierSharedMemory,
		},
		{
			name: "dmabuf absent but shm present",
			caps: capability.HostCapabilities{
				Shm: true, Framebuffer: true,
			},
			minDmabufVersion: 3,
			want:             TierSharedMemory,
		},
		{
			name:             "framebuffer only",
			caps:             capability.HostCapabilities{Framebuffer: true},
			minDmabufVersion: 3,
			want:             TierCPUFallback,
		},
		{
			name:             "nothing available",
			caps:             capability.HostCapabilities{SyntheticInput: true},
			minDmabufVersion: 3,
			want:             TierUnavailable,
		},
		{
			name: "stale dmabuf version without fallback",
			caps: capability.HostCapabilities{
				Dmabuf: true, DmabufVersion: 1,
			},
			minDmabufVersion: 4,
			want:             TierUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectTier(tt.caps, tt.minDmabufVersion)
			assert.Equal(t, tt.want, got)
			// Selection is a pure function: same snapshot, same answer.
			assert.Equal(t, got, SelectTier(tt.caps, tt.minDmabufVersion))
		})
	}
}

// Removing a capability from a snapshot must never improve the selected
// tier. Walk every subset of a full host and check each one-bit removal.
func TestSelectTierMonotonic(t *testing.T) {
	const minVersion = 3

	build := func(bits int) capability.HostCapabilities {
		return capability.HostCapabilities{
			Dmabuf:        bits&1 != 0,
			DmabufVersion: 4,
			Shm:           bits&2 != 0,
			Framebuffer:   bits&4 != 0,
		}
	}

	for bits := 0; bits < 8; bits++ {
		full := SelectTier(build(bits), minVersion)
		for drop := 0; drop < 3; drop++ {
			if bits&(1<<drop) == 0 {
				continue
			}
			reduced := SelectTier(build(bits&^(1<<drop)), minVersion)
			assert.LessOrEqual(t, reduced, full,
				"dropping capability bit %d from set %03b improved the tier", drop, bits)
		}
	}
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "gpu-zero-copy", TierGPUZeroCopy.String())
	assert.Equal(t, "shared-memory", TierSharedMemory.String())
	assert.Equal(t, "cpu-fallback", TierCPUFallback.String())
	assert.Equal(t, "unavailable", TierUnavailable.String())
	assert.Equal(t, "unavailable", Tier(99).String())
}

func TestTierAvailable(t *testing.T) {
	assert.True(t, TierGPUZeroCopy.Available())
	assert.True(t, TierSharedMemory.Available())
	assert.True(t, TierCPUFallback.Available())
	assert.False(t, TierUnavailable.Available())
}
