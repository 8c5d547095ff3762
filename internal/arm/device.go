// Package arm holds the robotic-arm side of the connection: the command
// model and its wire form, the device-protocol object the connection
// manager forwards to, and the movement tracker the finish poller checks.
package arm

import (
	"errors"

	"github.com/srg/armctl/internal/central"
)

var (
	ErrEmptyCommand   = errors.New("empty command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoLink         = errors.New("arm is not connected")
)

// Device is the device-protocol object for one discovered arm. A new
// Device is built for every discovery and never reused across reconnects.
type Device interface {
	// Peripheral returns the peripheral the device was built for.
	Peripheral() central.Peripheral
	// DidConnect is called once the connection is up.
	DidConnect(link central.Link)
	// DidDisconnect is called when the connection ends; err is nil for a requested disconnect.
	DidDisconnect(err error)
	// Control dispatches one command.
	Control(cmd Command) error
	// CheckFinish asks the arm whether the current movement is done.
	CheckFinish()
}

// Factory builds the device object for a discovered peripheral.
type Factory func(p central.Peripheral) Device
