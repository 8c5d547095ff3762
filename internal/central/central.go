// Package central describes the BLE central capability the connection
// manager drives: scanning, connecting, disconnecting and the event stream
// reporting power-state changes, discoveries and connection lifecycle.
//
// Concrete stacks live in sub-packages (see internal/central/goble). The
// manager only ever sees this package's types, so it can be exercised
// without Bluetooth hardware.
package central

import (
	"context"
	"time"
)

// PowerState mirrors the power/authorization state reported by the BLE stack.
type PowerState int

const (
	StateUnknown      PowerState = iota // not known yet, wait for the next update
	StateResetting                      // connection to the system service was lost, update imminent
	StateUnsupported                    // platform has no BLE support
	StateUnauthorized                   // process is not allowed to use Bluetooth
	StatePoweredOff                     // adapter is switched off
	StatePoweredOn                      // adapter is on and usable
)

// String returns the string representation of the PowerState
func (s PowerState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "poweredOff"
	case StatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// Transient reports whether the state is expected to be followed by another update.
func (s PowerState) Transient() bool {
	return s == StateUnknown || s == StateResetting
}

// Peripheral identifies an advertising device. It is a value copy of what the
// stack reported; the stack keeps ownership of the underlying handle.
type Peripheral struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	RSSI        int    `json:"rssi"`
	Connectable bool   `json:"connectable"`
}

// DisplayName returns the advertised name, falling back to the address.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.Address
	}
	return p.Name
}

// Link is a live GATT connection to a peripheral.
type Link interface {
	Peripheral() Peripheral
	Read(service, characteristic string, timeout time.Duration) ([]byte, error)
	Write(service, characteristic string, data []byte, withResponse bool, timeout time.Duration) error
}

// Event is one notification from the central. The concrete types are
// StateChanged, Discovered, Connected, ConnectFailed and Disconnected.
type Event interface {
	isEvent()
}

// StateChanged reports a new power state.
type StateChanged struct {
	State PowerState
	Err   error // cause reported by the stack, if any
}

// Discovered reports one advertisement.
type Discovered struct {
	Peripheral Peripheral
}

// Connected reports a successful connection.
type Connected struct {
	Peripheral Peripheral
	Link       Link
}

// ConnectFailed reports that a connect request did not succeed.
type ConnectFailed struct {
	Peripheral Peripheral
	Err        error
}

// Disconnected reports the end of a connection. Err is nil for a requested disconnect.
type Disconnected struct {
	Peripheral Peripheral
	Err        error
}

func (StateChanged) isEvent()  {}
func (Discovered) isEvent()    {}
func (Connected) isEvent()     {}
func (ConnectFailed) isEvent() {}
func (Disconnected) isEvent()  {}

// Handler receives central events. It may be called from any goroutine and
// must not block for long.
type Handler func(Event)

// Central is the BLE central capability.
//
// None of the request methods fail synchronously: outcomes are reported
// through the Handler passed to Start.
type Central interface {
	// Start brings the stack up and reports the initial power state to handler.
	Start(ctx context.Context, handler Handler) error
	// Scan starts scanning for all advertisers. Calling Scan while scanning is a no-op.
	Scan(allowDuplicates bool)
	// StopScan stops an active scan. Idempotent.
	StopScan()
	// IsScanning reports whether a scan is active.
	IsScanning() bool
	// Connect requests a connection to p.
	Connect(p Peripheral)
	// Disconnect requests the connection to p to be dropped.
	Disconnect(p Peripheral)
	// Close stops scanning, drops all connections and releases the stack.
	Close() error
}
