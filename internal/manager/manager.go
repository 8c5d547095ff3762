// Package manager implements the connection manager: it owns one BLE
// central, serialises scan/connect/disconnect requests, reacts to power
// state changes and forwards discovery and connection events to the arm's
// device object.
//
// All state the manager mutates (the tracked peripheral and device object)
// is owned by a single loop goroutine. Public methods only enqueue work for
// that loop, so they never block on the BLE stack and never fail
// synchronously.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/armctl/internal/arm"
	"github.com/srg/armctl/internal/central"
	"github.com/srg/armctl/internal/ringchan"
)

const (
	// DefaultTargetName is the advertised name of the robotic arm.
	DefaultTargetName = "RoboticArm"

	// DefaultPollInterval is the delay between two finish checks.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultMailboxSize bounds queued requests.
	DefaultMailboxSize = 64

	// DefaultDiscoveryBuffer bounds queued advertisements; the oldest is dropped when full.
	DefaultDiscoveryBuffer = 128
)

var (
	ErrAlreadyRunning = errors.New("connection manager already running")
	ErrStopped        = errors.New("connection manager stopped")
	ErrNoDevice       = errors.New("no arm discovered")
)

// Options configures a Manager.
type Options struct {
	// TargetName is the advertised name that triggers a connection. An empty
	// name never matches, which leaves the manager in scan-only mode.
	TargetName string
	// AllowDuplicates reports every advertisement instead of one per device.
	AllowDuplicates bool
	// ReplaceOnAnyDiscovery rebuilds the device object for every discovered
	// peripheral, not only for the target.
	ReplaceOnAnyDiscovery bool
	// PollInterval is the finish poller's delay.
	PollInterval time.Duration
	// MailboxSize and DiscoveryBuffer size the loop's queues.
	MailboxSize     int
	DiscoveryBuffer int
}

// DefaultOptions returns the options matching the arm's firmware defaults.
func DefaultOptions() Options {
	return Options{
		TargetName:      DefaultTargetName,
		AllowDuplicates: true,
		PollInterval:    DefaultPollInterval,
		MailboxSize:     DefaultMailboxSize,
		DiscoveryBuffer: DefaultDiscoveryBuffer,
	}
}

// Observer receives every central event after the manager handled it. It
// runs on the manager loop: it must not block and must not call Manager
// methods that wait for the loop (Target, Device, Do).
type Observer func(central.Event)

// Manager is the connection manager. Create it with New and drive it with Run.
type Manager struct {
	central   central.Central
	newDevice arm.Factory
	tracker   arm.Tracker
	opts      Options
	logger    *logrus.Logger

	mailbox  chan func()
	adverts  *ringchan.RingChannel[central.Peripheral]
	events   *eventQueue
	stopped  chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	ready    atomic.Bool

	obsMu     sync.RWMutex
	observers map[int]Observer
	obsNext   int

	pollMu sync.Mutex
	poll   *Poll

	// owned by the loop goroutine
	target *central.Peripheral
	device arm.Device
}

// New creates a Manager. newDevice builds the device object on discovery;
// tracker reports whether a movement is in progress for the finish poller.
func New(c central.Central, newDevice arm.Factory, tracker arm.Tracker, logger *logrus.Logger, opts Options) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaults.MailboxSize
	}
	if opts.DiscoveryBuffer <= 0 {
		opts.DiscoveryBuffer = defaults.DiscoveryBuffer
	}

	return &Manager{
		central:   c,
		newDevice: newDevice,
		tracker:   tracker,
		opts:      opts,
		logger:    logger,
		mailbox:   make(chan func(), opts.MailboxSize),
		adverts:   ringchan.New[central.Peripheral](opts.DiscoveryBuffer),
		events:    newEventQueue(),
		stopped:   make(chan struct{}),
		observers: make(map[int]Observer),
	}
}

// Run starts the central and processes requests and events until ctx is
// done. It closes the central on return. A Manager runs at most once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.markStopped()

	if err := m.central.Start(ctx, m.handleEvent); err != nil {
		return fmt.Errorf("failed to start bluetooth central: %w", err)
	}

	m.logger.WithField("target", m.opts.TargetName).Info("Connection manager started")

	m.loop(ctx)
	m.markStopped()

	m.stopPoll()
	m.ready.Store(false)

	if err := m.central.Close(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to close bluetooth central")
		return fmt.Errorf("failed to close bluetooth central: %w", err)
	}

	m.logger.Info("Connection manager stopped")
	return nil
}

func (m *Manager) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-m.adverts.C():
			m.handleDiscovered(p)
		case <-m.events.ready():
			m.drainDiscoveries()
			m.drainEvents()
		case op := <-m.mailbox:
			// events reported before this op was queued are handled first
			m.drainDiscoveries()
			m.drainEvents()
			op()
		}
	}
}

func (m *Manager) drainEvents() {
	for _, ev := range m.events.take() {
		m.dispatch(ev)
	}
}

func (m *Manager) drainDiscoveries() {
	for {
		select {
		case p := <-m.adverts.C():
			m.handleDiscovered(p)
		default:
			return
		}
	}
}

// Done is closed once the manager stopped processing requests.
func (m *Manager) Done() <-chan struct{} {
	return m.stopped
}

func (m *Manager) markStopped() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

// IsScanning reports whether the central is scanning.
func (m *Manager) IsScanning() bool {
	return m.central.IsScanning()
}

// IsReady reports whether the central reported poweredOn and has not left it since.
func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

// StartScan asks the central to scan for all advertisers.
func (m *Manager) StartScan() {
	m.enqueue(m.startScan)
}

// StopScan asks the central to stop scanning.
func (m *Manager) StopScan() {
	m.enqueue(m.stopScan)
}

// Connect schedules a connection request to p. The outcome is reported as
// a Connected or ConnectFailed event.
func (m *Manager) Connect(p central.Peripheral) {
	m.enqueue(func() { m.connect(p) })
}

// Disconnect schedules a disconnection request to p.
func (m *Manager) Disconnect(p central.Peripheral) {
	m.enqueue(func() {
		m.logger.WithField("address", p.Address).Debug("Disconnect request")
		m.central.Disconnect(p)
	})
}

// Control forwards one command to the current device object. It is
// dropped silently when no device has been discovered.
func (m *Manager) Control(kind arm.Kind, x, y, z, angle float32, pump bool) {
	m.Send(arm.Command{Kind: kind, X: x, Y: y, Z: z, Angle: angle, Pump: pump})
}

// Send is Control taking a prepared command.
func (m *Manager) Send(cmd arm.Command) {
	m.enqueue(func() {
		if err := m.control(cmd); err != nil && !errors.Is(err, ErrNoDevice) {
			m.logger.WithFields(logrus.Fields{
				"command": cmd.Kind,
				"error":   err,
			}).Warn("Arm rejected command")
		}
	})
}

// Do forwards cmd like Send and waits for the device's answer.
func (m *Manager) Do(ctx context.Context, cmd arm.Command) error {
	reply := make(chan error, 1)
	if !m.enqueue(func() { reply <- m.control(cmd) }) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
}

// Target returns the tracked arm peripheral. It waits for the loop.
func (m *Manager) Target() (central.Peripheral, bool) {
	reply := make(chan *central.Peripheral, 1)
	ok := m.enqueue(func() {
		if m.target == nil {
			reply <- nil
			return
		}
		p := *m.target
		reply <- &p
	})
	if !ok {
		return central.Peripheral{}, false
	}
	select {
	case p := <-reply:
		if p == nil {
			return central.Peripheral{}, false
		}
		return *p, true
	case <-m.stopped:
		return central.Peripheral{}, false
	}
}

// Device returns the current device object, nil if none. It waits for the loop.
func (m *Manager) Device() arm.Device {
	reply := make(chan arm.Device, 1)
	if !m.enqueue(func() { reply <- m.device }) {
		return nil
	}
	select {
	case d := <-reply:
		return d
	case <-m.stopped:
		return nil
	}
}

// Observe registers fn and returns a function removing it.
func (m *Manager) Observe(fn Observer) func() {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	id := m.obsNext
	m.obsNext++
	m.observers[id] = fn
	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		delete(m.observers, id)
	}
}

// enqueue hands op to the loop. It returns false once the manager stopped.
func (m *Manager) enqueue(op func()) bool {
	select {
	case <-m.stopped:
		return false
	default:
	}
	select {
	case m.mailbox <- op:
		return true
	case <-m.stopped:
		return false
	}
}

// handleEvent is the central's Handler. It never blocks: discoveries go
// through the bounded ring, everything else through the unbounded event
// queue. Both are drained by the loop.
func (m *Manager) handleEvent(ev central.Event) {
	if d, ok := ev.(central.Discovered); ok {
		if m.adverts.ForceSend(d.Peripheral) {
			m.logger.WithField("dropped_total", m.adverts.Overwritten()).Debug("Discovery queue full, dropped oldest advertisement")
		}
		return
	}
	select {
	case <-m.stopped:
		return
	default:
	}
	m.events.push(ev)
}

func (m *Manager) dispatch(ev central.Event) {
	switch e := ev.(type) {
	case central.StateChanged:
		m.handleState(e)
	case central.Connected:
		m.logger.WithField("address", e.Peripheral.Address).Debug("Peripheral connected")
		if m.device != nil {
			m.device.DidConnect(e.Link)
		}
	case central.Disconnected:
		m.logger.WithFields(logrus.Fields{
			"address": e.Peripheral.Address,
			"error":   e.Err,
		}).Debug("Peripheral disconnected")
		if m.device != nil {
			m.device.DidDisconnect(e.Err)
		}
	case central.ConnectFailed:
		m.logger.WithFields(logrus.Fields{
			"address": e.Peripheral.Address,
			"error":   e.Err,
		}).Debug("Connection attempt failed")
	}
	m.notify(ev)
}

func (m *Manager) handleState(e central.StateChanged) {
	log := m.logger.WithField("state", e.State)
	if e.Err != nil {
		log = log.WithField("error", e.Err)
	}

	switch {
	case e.State.Transient():
		log.Debug("Bluetooth state transient, waiting for next update")
	case e.State == central.StatePoweredOn:
		m.ready.Store(true)
		log.Info("Bluetooth powered on")
		m.startScan()
	default:
		m.ready.Store(false)
		switch e.State {
		case central.StateUnauthorized:
			log.Warn("Central unauthorized")
		case central.StatePoweredOff:
			log.Warn("Bluetooth powered off")
		case central.StateUnsupported:
			log.Warn("Bluetooth unsupported")
		}
	}
}

func (m *Manager) handleDiscovered(p central.Peripheral) {
	matched := m.opts.TargetName != "" && p.Name == m.opts.TargetName
	if matched {
		m.logger.WithFields(logrus.Fields{
			"address": p.Address,
			"rssi":    p.RSSI,
		}).Info("Discovered robotic arm")
		target := p
		m.target = &target
		m.connect(p)
		m.stopScan()
	}

	if (matched || m.opts.ReplaceOnAnyDiscovery) && m.newDevice != nil {
		m.device = m.newDevice(p)
	}

	m.notify(central.Discovered{Peripheral: p})
}

func (m *Manager) control(cmd arm.Command) error {
	if m.device == nil {
		m.logger.WithField("command", cmd.Kind).Debug("No arm device, command dropped")
		return ErrNoDevice
	}
	m.logger.Info(cmd.String())
	return m.device.Control(cmd)
}

func (m *Manager) startScan() {
	m.logger.WithField("allow_duplicates", m.opts.AllowDuplicates).Debug("Start scan request")
	m.central.Scan(m.opts.AllowDuplicates)
}

func (m *Manager) stopScan() {
	m.logger.Debug("Stop scan request")
	m.central.StopScan()
}

func (m *Manager) connect(p central.Peripheral) {
	m.logger.WithField("address", p.Address).Debug("Start conn request")
	m.central.Connect(p)
}

func (m *Manager) notify(ev central.Event) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, fn := range m.observers {
		fn(ev)
	}
}
