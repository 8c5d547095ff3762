package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DefaultDeviceName is the HCI device name used when none is configured.
const DefaultDeviceName = "armctl"

func newDevice(name string) (ble.Device, error) {
	if name == "" {
		name = DefaultDeviceName
	}
	return linux.NewDeviceWithName(name)
}
