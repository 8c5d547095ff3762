package central

import (
	"errors"
	"fmt"
	"strings"
)

// StateError reports that the central cannot be used in its current power state
type StateError struct {
	State PowerState
	Msg   string
}

// Error implements the error interface
func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return "bluetooth " + e.State.String()
	}
	return fmt.Sprintf("bluetooth %s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare StateError values by State
func (e *StateError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for power states
var (
	ErrBluetoothOff = &StateError{State: StatePoweredOff}
	ErrUnauthorized = &StateError{State: StateUnauthorized}
	ErrUnsupported  = &StateError{State: StateUnsupported}
)

// Connection errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrTimeout          = errors.New("timeout")
	ErrNotFound         = errors.New("not found")
)

// NormalizeError maps known go-ble error strings to the sentinels above.
// The original error is wrapped to keep its context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "have=4"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "have=3"),
		containsIgnoreCase(msg, "unauthorized"),
		containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case containsIgnoreCase(msg, "have=2"),
		containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "unsupported"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// StateFromError returns the power state implied by a start-up error.
// Unrecognised errors map to StateUnknown.
func StateFromError(err error) PowerState {
	var serr *StateError
	if errors.As(NormalizeError(err), &serr) {
		return serr.State
	}
	return StateUnknown
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
