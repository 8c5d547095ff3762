package central

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{
			name:   "darwin powered off state",
			err:    errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			target: ErrBluetoothOff,
		},
		{
			name:   "darwin unauthorized state",
			err:    errors.New("central manager has invalid state: have=3 want=5: is Bluetooth turned on?"),
			target: ErrUnauthorized,
		},
		{
			name:   "linux missing adapter",
			err:    errors.New("can't init hci: no devices available: (hci0: can't down device: no such device)"),
			target: ErrUnsupported,
		},
		{
			name:   "linux permission",
			err:    errors.New("can't init hci: operation not permitted"),
			target: ErrUnauthorized,
		},
		{
			name:   "already connected",
			err:    errors.New("device already connected"),
			target: ErrAlreadyConnected,
		},
		{
			name:   "disconnected",
			err:    errors.New("peripheral disconnected"),
			target: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.target)
			assert.Contains(t, got.Error(), tt.err.Error())
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})

	t.Run("unknown errors pass through", func(t *testing.T) {
		err := errors.New("something else")
		assert.Same(t, err, NormalizeError(err))
	})
}

func TestStateFromError(t *testing.T) {
	assert.Equal(t, StatePoweredOff, StateFromError(errors.New("bluetooth is turned off")))
	assert.Equal(t, StateUnsupported, StateFromError(fmt.Errorf("init: %w", ErrUnsupported)))
	assert.Equal(t, StateUnknown, StateFromError(errors.New("boom")))
}

func TestStateError(t *testing.T) {
	assert.Equal(t, "bluetooth poweredOff", ErrBluetoothOff.Error())
	assert.Equal(t, "bluetooth unauthorized: denied", (&StateError{State: StateUnauthorized, Msg: "denied"}).Error())
	assert.True(t, errors.Is(&StateError{State: StateUnsupported, Msg: "x"}, ErrUnsupported))
	assert.False(t, errors.Is(ErrUnsupported, ErrBluetoothOff))
}

func TestPowerState(t *testing.T) {
	assert.True(t, StateUnknown.Transient())
	assert.True(t, StateResetting.Transient())
	assert.False(t, StatePoweredOn.Transient())
	assert.Equal(t, "poweredOn", StatePoweredOn.String())
	assert.Equal(t, "unknown", PowerState(42).String())
}

func TestPeripheralDisplayName(t *testing.T) {
	assert.Equal(t, "RoboticArm", Peripheral{Address: "aa", Name: "RoboticArm"}.DisplayName())
	assert.Equal(t, "aa", Peripheral{Address: "aa"}.DisplayName())
}
