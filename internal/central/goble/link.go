package goble

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/armctl/internal/central"
)

// link implements central.Link over a connected ble.Client.
type link struct {
	peripheral   central.Peripheral
	client       ble.Client
	profile      *ble.Profile
	disconnected <-chan struct{} // nil when the client cannot report drops
	requested    atomic.Bool

	// go-ble clients are not safe for concurrent ATT requests
	ioMu sync.Mutex
}

var _ central.Link = (*link)(nil)

func newLink(p central.Peripheral, client ble.Client, profile *ble.Profile) *link {
	l := &link{
		peripheral: p,
		client:     client,
		profile:    profile,
	}
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		l.disconnected = dc.Disconnected()
	}
	return l
}

func (l *link) Peripheral() central.Peripheral {
	return l.peripheral
}

// Read reads a characteristic value. UUIDs may be short ("ffe1") or full form.
func (l *link) Read(service, characteristic string, timeout time.Duration) ([]byte, error) {
	char, err := l.find(service, characteristic)
	if err != nil {
		return nil, err
	}

	return withTimeout(timeout, func() ([]byte, error) {
		l.ioMu.Lock()
		defer l.ioMu.Unlock()
		data, err := l.client.ReadCharacteristic(char)
		return data, central.NormalizeError(err)
	})
}

// Write writes data to a characteristic, with or without an ATT response.
func (l *link) Write(service, characteristic string, data []byte, withResponse bool, timeout time.Duration) error {
	char, err := l.find(service, characteristic)
	if err != nil {
		return err
	}

	_, err = withTimeout(timeout, func() (struct{}, error) {
		l.ioMu.Lock()
		defer l.ioMu.Unlock()
		return struct{}{}, central.NormalizeError(l.client.WriteCharacteristic(char, data, !withResponse))
	})
	return err
}

func (l *link) find(service, characteristic string) (*ble.Characteristic, error) {
	svcUUID, err := ble.Parse(service)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", service, err)
	}
	charUUID, err := ble.Parse(characteristic)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", characteristic, err)
	}

	if l.profile == nil {
		return nil, fmt.Errorf("%w: service %q", central.ErrNotFound, service)
	}
	for _, svc := range l.profile.Services {
		if !svc.UUID.Equal(svcUUID) {
			continue
		}
		for _, char := range svc.Characteristics {
			if char.UUID.Equal(charUUID) {
				return char, nil
			}
		}
		return nil, fmt.Errorf("%w: characteristic %q in service %q", central.ErrNotFound, characteristic, service)
	}
	return nil, fmt.Errorf("%w: service %q", central.ErrNotFound, service)
}

// withTimeout runs fn and gives up after timeout; the call itself cannot be
// interrupted, so it finishes in the background.
func withTimeout[T any](timeout time.Duration, fn func() (T, error)) (T, error) {
	if timeout <= 0 {
		return fn()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		var zero T
		return zero, fmt.Errorf("%w after %s", central.ErrTimeout, timeout)
	}
}
