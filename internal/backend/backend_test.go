package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/waygate/internal/capability"
	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/protocol"
)

func TestErrorClassification(t *testing.T) {
	fatal := Fatalf("uinput device vanished: %v", errors.New("EPIPE"))
	assert.True(t, IsFatal(fatal))
	assert.Contains(t, fatal.Error(), "backend fatal")

	wrapped := fmt.Errorf("inject: %w", fatal)
	assert.True(t, IsFatal(wrapped))

	assert.False(t, IsFatal(ErrUnavailable))
	assert.False(t, IsFatal(fmt.Errorf("inject: %w", ErrUnavailable)))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestFatalErrorUnwrap(t *testing.T) {
	inner := errors.New("device gone")
	fatal := &FatalError{Err: inner}
	assert.ErrorIs(t, fatal, inner)
}

func TestNullBackend(t *testing.T) {
	n := NewNull()

	assert.Equal(t, "null", n.Name())
	assert.True(t, n.SupportedDevices().Empty())
	assert.False(t, n.InputDeliveryAvailable())

	err := n.Inject(context.Background(), &protocol.InputEvent{
		PointerMotion: &protocol.PointerMotion{DX: 1},
	})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, IsFatal(err))

	_, err = n.BeginCapture(context.Background(), capture.TierSharedMemory)
	require.ErrorIs(t, err, ErrUnavailable)

	assert.NoError(t, n.EndCapture(0))
	assert.NoError(t, n.Close())
}

func TestCreateBackendWithoutSyntheticInput(t *testing.T) {
	b := CreateBackend(capability.HostCapabilities{})
	assert.Equal(t, "null", b.Name())
}
