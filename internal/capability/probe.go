// Package capability inspects the host for the resources a remote-control
// session can be built from. A probe produces an immutable
// HostCapabilities snapshot; re-probing is always an explicit call so a
// capability change (e.g. GPU passthrough attached after boot) is an
// observable event, never ambient mutation.
package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/bnema/waygate/internal/logger"
)

// HostCapabilities is a read-only snapshot of what the host can do.
// Safe to share across sessions without locking.
type HostCapabilities struct {
	// Dmabuf reports whether GPU zero-copy buffer sharing is available,
	// at DmabufVersion of the linux-dmabuf protocol.
	Dmabuf        bool
	DmabufVersion uint32

	// Shm reports whether a shared-memory capture path is available.
	Shm bool

	// Framebuffer reports whether a raw framebuffer read is possible.
	Framebuffer bool

	// SyntheticInput reports whether a synthetic-input delivery channel
	// (uinput) can be opened.
	SyntheticInput bool
}

// String summarizes the snapshot for logs and the probe command.
func (c HostCapabilities) String() string {
	return fmt.Sprintf("dmabuf=%v(v%d) shm=%v framebuffer=%v input=%v",
		c.Dmabuf, c.DmabufVersion, c.Shm, c.Framebuffer, c.SyntheticInput)
}

// Prober produces HostCapabilities snapshots.
type Prober interface {
	Probe() HostCapabilities
}

// Static is a Prober that always returns a fixed snapshot. Used in tests
// and by the probe command's what-if flags.
type Static struct {
	Caps HostCapabilities
}

func (s Static) Probe() HostCapabilities { return s.Caps }

// assumedDmabufVersion is reported when a render node is present but no
// compositor-specific version override is available. Compositor-native
// backends refine this through their own registry round-trip; every
// current wlroots and Mutter release advertises at least version 4.
const assumedDmabufVersion = 4

// System probes the live host. Each call re-inspects the system.
type System struct{}

// Probe inspects the host: DRM render nodes for GPU buffer sharing, the
// Wayland socket for the shared-memory path, /dev/fb0 for the raw
// framebuffer fallback, and /dev/uinput for synthetic input. Never fails;
// a capability that cannot be confirmed is reported absent.
func (System) Probe() HostCapabilities {
	caps := HostCapabilities{}

	wayland := waylandSocketPresent()

	if wayland && renderNodePresent() {
		caps.Dmabuf = true
		caps.DmabufVersion = dmabufVersion()
	}

	// wl_shm is mandatory for conforming compositors, so a live Wayland
	// socket implies the shared-memory path.
	caps.Shm = wayland

	caps.Framebuffer = unix.Access("/dev/fb0", unix.R_OK) == nil
	caps.SyntheticInput = unix.Access("/dev/uinput", unix.W_OK) == nil

	logger.Debugf("host probe: %s", caps)
	return caps
}

func waylandSocketPresent() bool {
	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		return false
	}
	if filepath.IsAbs(display) {
		return socketExists(display)
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return false
	}
	return socketExists(filepath.Join(runtimeDir, display))
}

func socketExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

// renderNodePresent reports whether any DRM render node can be opened.
// Openability, not mere presence: a node that exists but is inaccessible
// (container without device passthrough) gives no zero-copy path.
func renderNodePresent() bool {
	nodes, err := filepath.Glob("/dev/dri/renderD*")
	if err != nil || len(nodes) == 0 {
		return false
	}
	for _, node := range nodes {
		fd, err := unix.Open(node, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			continue
		}
		_ = unix.Close(fd)
		return true
	}
	return false
}

// dmabufVersion returns the linux-dmabuf protocol version to report.
// WAYGATE_DMABUF_VERSION overrides for constrained compositors.
func dmabufVersion() uint32 {
	if env := os.Getenv("WAYGATE_DMABUF_VERSION"); env != "" {
		if v, err := strconv.ParseUint(env, 10, 32); err == nil {
			return uint32(v)
		}
		logger.Warnf("ignoring malformed WAYGATE_DMABUF_VERSION=%q", env)
	}
	return assumedDmabufVersion
}
