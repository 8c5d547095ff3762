package arm

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/armctl/internal/central"
)

// Profile names the GATT service and characteristics the arm firmware exposes.
type Profile struct {
	Service        string
	Command        string // write: encoded Command lines
	Status         string // read: first byte 0 when idle
	IOTimeout      time.Duration
	WriteResponses bool
}

// DefaultProfile is the HM-10 style UART profile used by the arm's BLE module.
func DefaultProfile() Profile {
	return Profile{
		Service:   "ffe0",
		Command:   "ffe1",
		Status:    "ffe2",
		IOTimeout: 5 * time.Second,
	}
}

// GATTArm is the Device implementation talking to the arm over GATT.
type GATTArm struct {
	peripheral central.Peripheral
	profile    Profile
	motion     *Motion
	logger     *logrus.Logger

	mu   sync.Mutex
	link central.Link
}

// NewGATTArm creates the device object for p. Movements are reported on motion.
func NewGATTArm(p central.Peripheral, profile Profile, motion *Motion, logger *logrus.Logger) *GATTArm {
	if logger == nil {
		logger = logrus.New()
	}
	if profile.IOTimeout <= 0 {
		profile.IOTimeout = DefaultProfile().IOTimeout
	}
	return &GATTArm{
		peripheral: p,
		profile:    profile,
		motion:     motion,
		logger:     logger,
	}
}

// NewGATTFactory returns a Factory building GATTArm devices that share motion.
func NewGATTFactory(profile Profile, motion *Motion, logger *logrus.Logger) Factory {
	return func(p central.Peripheral) Device {
		return NewGATTArm(p, profile, motion, logger)
	}
}

func (a *GATTArm) Peripheral() central.Peripheral {
	return a.peripheral
}

func (a *GATTArm) DidConnect(link central.Link) {
	a.mu.Lock()
	a.link = link
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"address": a.peripheral.Address,
		"name":    a.peripheral.Name,
	}).Info("Robotic arm connected")
}

func (a *GATTArm) DidDisconnect(err error) {
	a.mu.Lock()
	a.link = nil
	a.mu.Unlock()

	fields := logrus.Fields{"address": a.peripheral.Address}
	if err != nil {
		fields["error"] = err
		a.logger.WithFields(fields).Warn("Robotic arm disconnected unexpectedly")
	} else {
		a.logger.WithFields(fields).Info("Robotic arm disconnected")
	}

	if a.motion != nil {
		cause := central.ErrNotConnected
		if err != nil {
			cause = fmt.Errorf("%w: %v", central.ErrNotConnected, err)
		}
		a.motion.Abort(cause)
	}
}

// Connected reports whether a link is up.
func (a *GATTArm) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.link != nil
}

// Control writes cmd to the command characteristic. Motion commands mark a
// movement as started; the arm firmware serialises overlapping commands.
func (a *GATTArm) Control(cmd Command) error {
	link := a.currentLink()
	if link == nil {
		return ErrNoLink
	}

	if err := link.Write(a.profile.Service, a.profile.Command, cmd.Encode(), a.profile.WriteResponses, a.profile.IOTimeout); err != nil {
		return fmt.Errorf("failed to send %s command: %w", cmd.Kind, err)
	}

	if a.motion != nil {
		switch {
		case cmd.Kind.Motion():
			a.motion.Begin()
		case cmd.Kind == KindStop:
			a.motion.Complete()
		}
	}
	return nil
}

// CheckFinish reads the status characteristic and completes the movement
// when the arm reports idle.
func (a *GATTArm) CheckFinish() {
	link := a.currentLink()
	if link == nil {
		a.logger.Debug("Finish check skipped: arm not connected")
		return
	}

	status, err := link.Read(a.profile.Service, a.profile.Status, a.profile.IOTimeout)
	if err != nil {
		a.logger.WithField("error", err).Warn("Failed to read arm status")
		return
	}

	if len(status) > 0 && status[0] == 0 {
		a.logger.Debug("Arm reports movement finished")
		if a.motion != nil {
			a.motion.Complete()
		}
	}
}

func (a *GATTArm) currentLink() central.Link {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.link
}
