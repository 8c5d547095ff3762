package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/armctl/internal/arm"
	"github.com/srg/armctl/internal/central"
	"github.com/srg/armctl/internal/manager"
)

// Command-level errors
var (
	// ErrArmNotFound indicates no peripheral with the configured name was discovered in time.
	ErrArmNotFound = errors.New("arm not found")

	// ErrConnectionLost indicates the arm disconnected while a command was running.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns known errors into a short message. Unknown errors
// are returned as they are.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var stateErr *central.StateError
	switch {
	case errors.As(err, &stateErr):
		switch stateErr.State {
		case central.StatePoweredOff:
			return "Bluetooth is turned off. Turn it on and try again."
		case central.StateUnauthorized:
			return "Bluetooth access is not authorized for this program. Grant Bluetooth permission (macOS: System Settings > Privacy & Security > Bluetooth; Linux: run with CAP_NET_ADMIN)."
		case central.StateUnsupported:
			return "Bluetooth LE is not supported on this machine."
		}
	case errors.Is(err, ErrArmNotFound):
		return fmt.Sprintf("%v. Make sure the arm is powered on and advertising.", err)
	case errors.Is(err, ErrConnectionLost), errors.Is(err, central.ErrNotConnected), errors.Is(err, arm.ErrNoLink):
		return "The arm is not connected."
	case errors.Is(err, manager.ErrNoDevice):
		return "No arm has been discovered yet."
	case errors.Is(err, central.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("Timed out: %v", err)
	}
	return err.Error()
}
