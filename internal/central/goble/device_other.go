//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/armctl/internal/central"
)

func newDevice(string) (ble.Device, error) {
	return nil, central.ErrUnsupported
}
