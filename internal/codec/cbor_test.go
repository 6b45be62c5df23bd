package codec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/waygate/internal/protocol"
)

func TestMarshalDeterministic(t *testing.T) {
	req := &protocol.Request{
		Type: protocol.RequestNotifyEvent,
		NotifyEvent: &protocol.NotifyEventParams{
			Handle: "wg-abc",
			Event: protocol.InputEvent{
				PointerMotion: &protocol.PointerMotion{DX: 3.5, DY: -1.25},
			},
		},
	}

	first, err := Marshal(req)
	require.NoError(t, err)
	second, err := Marshal(req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	out := &protocol.Request{
		Type:          protocol.RequestSelectDevices,
		SelectDevices: &protocol.SelectDevicesParams{Handle: "wg-1", Devices: protocol.AllDevices},
	}
	require.NoError(t, WriteFrame(&buf, out))

	var in protocol.Request
	require.NoError(t, ReadFrame(&buf, &in))
	assert.Equal(t, protocol.RequestSelectDevices, in.Type)
	require.NotNil(t, in.SelectDevices)
	assert.Equal(t, "wg-1", in.SelectDevices.Handle)
	assert.Equal(t, protocol.AllDevices, in.SelectDevices.Devices)
}

func TestFrameEventRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	out := protocol.InputEvent{
		PointerMotionAbsolute: &protocol.PointerMotionAbsolute{Stream: 2, X: 100.5, Y: 200.25},
	}
	require.NoError(t, WriteFrame(&buf, &out))

	var in protocol.InputEvent
	require.NoError(t, ReadFrame(&buf, &in))
	require.NotNil(t, in.PointerMotionAbsolute)
	assert.Equal(t, uint32(2), in.PointerMotionAbsolute.Stream)
	assert.Equal(t, 100.5, in.PointerMotionAbsolute.X)
	assert.Equal(t, 200.25, in.PointerMotionAbsolute.Y)

	// omitempty: only the set variant travels.
	assert.Nil(t, in.PointerMotion)
	assert.Nil(t, in.KeyboardKeycode)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], MaxFrameSize+1)
	buf.Write(lengthBuf[:])

	var v protocol.Request
	err := ReadFrame(&buf, &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 64)
	buf.Write(lengthBuf[:])
	buf.Write([]byte{0x01, 0x02})

	var v protocol.Request
	assert.Error(t, ReadFrame(&buf, &v))
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	// A map with an extra unknown integer key must still decode.
	raw, err := Marshal(map[int]any{1: 42.0, 99: "future"})
	require.NoError(t, err)

	var pm protocol.PointerMotion
	require.NoError(t, Unmarshal(raw, &pm))
	assert.Equal(t, 42.0, pm.DX)
}
