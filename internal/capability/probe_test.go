package capability

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProber(t *testing.T) {
	caps := HostCapabilities{Dmabuf: true, DmabufVersion: 5, Shm: true}
	p := Static{Caps: caps}

	assert.Equal(t, caps, p.Probe())
	assert.Equal(t, caps, p.Probe())
}

func TestHostCapabilitiesString(t *testing.T) {
	caps := HostCapabilities{Dmabuf: true, DmabufVersion: 4, Shm: true, SyntheticInput: true}
	s := caps.String()
	assert.Contains(t, s, "dmabuf=true(v4)")
	assert.Contains(t, s, "shm=true")
	assert.Contains(t, s, "input=true")
}

func TestWaylandSocketPresent(t *testing.T) {
	t.Run("no display variable", func(t *testing.T) {
		t.Setenv("WAYLAND_DISPLAY", "")
		assert.False(t, waylandSocketPresent())
	})

	t.Run("display set but no runtime dir", func(t *testing.T) {
		t.Setenv("WAYLAND_DISPLAY", "wayland-1")
		t.Setenv("XDG_RUNTIME_DIR", "")
		assert.False(t, waylandSocketPresent())
	})

	t.Run("display names a missing socket", func(t *testing.T) {
		t.Setenv("WAYLAND_DISPLAY", "wayland-1")
		t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
		assert.False(t, waylandSocketPresent())
	})

	t.Run("display names a live socket", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "wayland-1")
		l, err := net.Listen("unix", path)
		require.NoError(t, err)
		defer l.Close()

		t.Setenv("WAYLAND_DISPLAY", "wayland-1")
		t.Setenv("XDG_RUNTIME_DIR", dir)
		assert.True(t, waylandSocketPresent())
	})

	t.Run("absolute display path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "compositor.sock")
		l, err := net.Listen("unix", path)
		require.NoError(t, err)
		defer l.Close()

		t.Setenv("WAYLAND_DISPLAY", path)
		t.Setenv("XDG_RUNTIME_DIR", "")
		assert.True(t, waylandSocketPresent())
	})

	t.Run("regular file is not a socket", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "wayland-1")
		require.NoError(t, os.WriteFile(path, nil, 0644))

		t.Setenv("WAYLAND_DISPLAY", "wayland-1")
		t.Setenv("XDG_RUNTIME_DIR", dir)
		assert.False(t, waylandSocketPresent())
	})
}

func TestDmabufVersionOverride(t *testing.T) {
	t.Run("default without override", func(t *testing.T) {
		t.Setenv("WAYGATE_DMABUF_VERSION", "")
		assert.Equal(t, uint32(assumedDmabufVersion), dmabufVersion())
	})

	t.Run("valid override", func(t *testing.T) {
		t.Setenv("WAYGATE_DMABUF_VERSION", "5")
		assert.Equal(t, uint32(5), dmabufVersion())
	})

	t.Run("malformed override falls back", func(t *testing.T) {
		t.Setenv("WAYGATE_DMABUF_VERSION", "banana")
		assert.Equal(t, uint32(assumedDmabufVersion), dmabufVersion())
	})
}
