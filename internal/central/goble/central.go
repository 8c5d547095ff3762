// Package goble implements central.Central on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/armctl/internal/central"
	"github.com/srg/armctl/internal/groutine"
)

// DefaultConnectTimeout bounds one dial plus profile discovery.
const DefaultConnectTimeout = 30 * time.Second

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(name string) (ble.Device, error) {
	return newDevice(name)
}

// Options configures the adapter.
type Options struct {
	DeviceName     string        // HCI device name on Linux, ignored elsewhere
	ConnectTimeout time.Duration // 0 = DefaultConnectTimeout
}

// Central is the go-ble backed central.Central.
type Central struct {
	opts   Options
	logger *logrus.Logger

	mu         sync.Mutex
	dev        ble.Device
	handler    central.Handler
	ctx        context.Context
	scanCancel context.CancelFunc
	scanID     uint64
	scanning   atomic.Bool

	links   *hashmap.Map[string, *link]
	pending *hashmap.Map[string, context.CancelFunc]
}

var _ central.Central = (*Central)(nil)

// New creates an adapter. The BLE stack is only touched by Start.
func New(opts Options, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	return &Central{
		opts:    opts,
		logger:  logger,
		ctx:     context.Background(),
		links:   hashmap.New[string, *link](),
		pending: hashmap.New[string, context.CancelFunc](),
	}
}

// Start creates the platform device and reports the resulting power state:
// poweredOn on success, otherwise the state implied by the stack's error.
func (c *Central) Start(ctx context.Context, handler central.Handler) error {
	if handler == nil {
		return errors.New("nil event handler")
	}

	c.mu.Lock()
	if c.handler != nil {
		c.mu.Unlock()
		return errors.New("central already started")
	}
	c.handler = handler
	c.ctx = ctx
	c.mu.Unlock()

	c.logger.WithField("device", c.opts.DeviceName).Debug("Creating BLE device...")
	dev, err := DeviceFactory(c.opts.DeviceName)
	if err != nil {
		normalized := central.NormalizeError(err)
		state := central.StateFromError(normalized)
		if state == central.StateUnknown {
			state = central.StateUnsupported
		}
		c.logger.WithFields(logrus.Fields{
			"state": state,
			"error": err,
		}).Error("Failed to create BLE device")
		handler(central.StateChanged{State: state, Err: normalized})
		return nil
	}

	c.mu.Lock()
	c.dev = dev
	c.mu.Unlock()

	handler(central.StateChanged{State: central.StatePoweredOn})
	return nil
}

func (c *Central) emit(ev central.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (c *Central) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Central) device() ble.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev
}

// Scan starts an unfiltered scan in the background.
func (c *Central) Scan(allowDuplicates bool) {
	c.mu.Lock()
	dev := c.dev
	if dev == nil || c.scanCancel != nil {
		c.mu.Unlock()
		return
	}
	scanCtx, cancel := context.WithCancel(c.ctx)
	c.scanCancel = cancel
	c.scanID++
	id := c.scanID
	c.scanning.Store(true)
	c.mu.Unlock()

	c.logger.WithField("allow_duplicates", allowDuplicates).Info("Starting BLE scan...")

	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, allowDuplicates, func(adv ble.Advertisement) {
			c.emit(central.Discovered{Peripheral: toPeripheral(adv)})
		})

		c.mu.Lock()
		if c.scanID == id {
			// still the current scan: it ended on its own or via StopScan
			if c.scanCancel != nil {
				c.scanCancel()
				c.scanCancel = nil
			}
			c.scanning.Store(false)
		}
		c.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			normalized := central.NormalizeError(err)
			c.logger.WithField("error", err).Warn("BLE scan failed")
			if state := central.StateFromError(normalized); state != central.StateUnknown {
				c.emit(central.StateChanged{State: state, Err: normalized})
			}
			return
		}
		c.logger.Debug("BLE scan stopped")
	})
}

// StopScan cancels the running scan, if any.
func (c *Central) StopScan() {
	c.mu.Lock()
	cancel := c.scanCancel
	c.scanCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.scanning.Store(false)
}

func (c *Central) IsScanning() bool {
	return c.scanning.Load()
}

// Connect dials p in the background and reports Connected or ConnectFailed.
func (c *Central) Connect(p central.Peripheral) {
	dev := c.device()
	if dev == nil {
		c.emit(central.ConnectFailed{Peripheral: p, Err: central.ErrBluetoothOff})
		return
	}
	if _, ok := c.links.Get(p.Address); ok {
		c.emit(central.ConnectFailed{Peripheral: p, Err: central.ErrAlreadyConnected})
		return
	}

	connCtx, cancel := context.WithTimeout(c.baseContext(), c.opts.ConnectTimeout)
	if _, loaded := c.pending.GetOrInsert(p.Address, cancel); loaded {
		cancel()
		c.logger.WithField("address", p.Address).Debug("Connection already in progress")
		return
	}

	groutine.Go(connCtx, "ble-connect", func(ctx context.Context) {
		defer func() {
			c.pending.Del(p.Address)
			cancel()
		}()

		l, err := c.dial(ctx, dev, p)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": p.Address,
				"error":   err,
			}).Warn("Failed to connect to BLE device")
			c.emit(central.ConnectFailed{Peripheral: p, Err: err})
			return
		}

		c.links.Set(p.Address, l)
		c.logger.WithFields(logrus.Fields{
			"address":  p.Address,
			"services": len(l.profile.Services),
		}).Info("BLE device connected successfully")

		if l.disconnected != nil {
			c.watch(l)
		}
		c.emit(central.Connected{Peripheral: p, Link: l})
	})
}

func (c *Central) dial(ctx context.Context, dev ble.Device, p central.Peripheral) (*link, error) {
	c.logger.WithField("address", p.Address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(p.Address))
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: connecting to %s", central.ErrTimeout, p.Address)
		}
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", p.Address, central.NormalizeError(err))
	}

	c.logger.WithField("address", p.Address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", central.NormalizeError(err))
	}

	return newLink(p, client, profile), nil
}

// watch reports Disconnected once the client drops. Clients without a
// Disconnected channel are reported by Disconnect instead.
func (c *Central) watch(l *link) {
	groutine.Go(c.baseContext(), "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-l.disconnected:
		case <-ctx.Done():
			return
		}
		c.links.Del(l.peripheral.Address)

		var err error
		if !l.requested.Load() {
			err = central.ErrNotConnected
			c.logger.WithField("address", l.peripheral.Address).Warn("BLE device reported disconnection")
		}
		c.emit(central.Disconnected{Peripheral: l.peripheral, Err: err})
	})
}

// Disconnect cancels a pending dial or drops the connection to p.
func (c *Central) Disconnect(p central.Peripheral) {
	if cancel, ok := c.pending.Get(p.Address); ok {
		cancel()
	}

	l, ok := c.links.Get(p.Address)
	if !ok {
		return
	}
	l.requested.Store(true)

	groutine.Go(c.baseContext(), "ble-disconnect", func(context.Context) {
		err := l.client.CancelConnection()
		if err != nil {
			c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		}
		if l.disconnected == nil {
			c.links.Del(p.Address)
			c.emit(central.Disconnected{Peripheral: p, Err: central.NormalizeError(err)})
		}
	})
}

// Close stops scanning, drops every connection and stops the device.
func (c *Central) Close() error {
	c.StopScan()
	c.scanning.Store(false)

	c.pending.Range(func(_ string, cancel context.CancelFunc) bool {
		cancel()
		return true
	})

	var errs []error
	c.links.Range(func(addr string, l *link) bool {
		l.requested.Store(true)
		if err := l.client.CancelConnection(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", addr, err))
		}
		c.links.Del(addr)
		return true
	})

	c.mu.Lock()
	dev := c.dev
	c.dev = nil
	c.mu.Unlock()

	if dev != nil {
		if err := dev.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop device: %w", err))
		}
	}
	return errors.Join(errs...)
}

func toPeripheral(adv ble.Advertisement) central.Peripheral {
	p := central.Peripheral{
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
	}
	if addr := adv.Addr(); addr != nil {
		p.Address = addr.String()
	}
	return p
}
