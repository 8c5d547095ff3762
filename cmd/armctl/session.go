package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/armctl/internal/arm"
	"github.com/srg/armctl/internal/central"
	"github.com/srg/armctl/internal/central/goble"
	"github.com/srg/armctl/internal/groutine"
	"github.com/srg/armctl/internal/manager"
	"github.com/srg/armctl/pkg/config"
)

// newCentral creates the BLE central (can be overridden in tests)
var newCentral = func(cfg *config.Config, logger *logrus.Logger) central.Central {
	return goble.New(goble.Options{
		DeviceName:     cfg.Adapter,
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger)
}

// session wires the central, the arm device and the connection manager for
// one command invocation.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	motion  *arm.Motion
	manager *manager.Manager

	cancel  context.CancelFunc
	runDone chan struct{}
	runErr  error // valid once runDone is closed
}

// newSession builds a session for cfg.Arm. A scanOnly session never connects.
func newSession(cfg *config.Config, logger *logrus.Logger, scanOnly bool) *session {
	motion := arm.NewMotion()
	profile := arm.Profile{
		Service:        cfg.Arm.Service,
		Command:        cfg.Arm.CommandChar,
		Status:         cfg.Arm.StatusChar,
		IOTimeout:      cfg.Arm.IOTimeout,
		WriteResponses: cfg.Arm.WriteResponses,
	}

	opts := manager.Options{
		TargetName:            cfg.Arm.Name,
		AllowDuplicates:       cfg.Arm.AllowDuplicates,
		ReplaceOnAnyDiscovery: cfg.Arm.ReplaceOnAnyDiscovery,
		PollInterval:          cfg.Arm.PollInterval,
		DiscoveryBuffer:       cfg.Arm.DiscoveryBuffer,
	}
	if scanOnly {
		opts.TargetName = ""
		opts.ReplaceOnAnyDiscovery = false
	}

	return &session{
		cfg:     cfg,
		logger:  logger,
		motion:  motion,
		manager: manager.New(newCentral(cfg, logger), arm.NewGATTFactory(profile, motion, logger), motion, logger, opts),
	}
}

// start runs the manager in the background until stop or ctx is done.
func (s *session) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.runDone = make(chan struct{})
	groutine.Go(ctx, "manager-loop", func(ctx context.Context) {
		defer close(s.runDone)
		s.runErr = s.manager.Run(ctx)
	})
}

// stop ends the manager and returns its error, if any.
func (s *session) stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.runDone:
		return s.runErr
	case <-time.After(5 * time.Second):
		return errors.New("timed out waiting for the connection manager to stop")
	}
}

// events subscribes to manager events through a buffered channel. The
// returned function unsubscribes. Events are dropped when the buffer is full.
func (s *session) events(size int) (<-chan central.Event, func()) {
	ch := make(chan central.Event, size)
	unsubscribe := s.manager.Observe(func(ev central.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch, unsubscribe
}

// waitConnected blocks until the arm is connected. It fails fast when
// Bluetooth is not usable or the connection attempt fails.
func (s *session) waitConnected(ctx context.Context, events <-chan central.Event) (central.Peripheral, error) {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return central.Peripheral{}, fmt.Errorf("%w: no %q connected within the timeout", ErrArmNotFound, s.cfg.Arm.Name)
			}
			return central.Peripheral{}, ctx.Err()
		case <-s.runDone:
			err := s.runErr
			if err == nil {
				err = manager.ErrStopped
			}
			return central.Peripheral{}, err
		case ev := <-events:
			switch e := ev.(type) {
			case central.StateChanged:
				if e.State.Transient() || e.State == central.StatePoweredOn {
					continue
				}
				if e.Err != nil {
					return central.Peripheral{}, e.Err
				}
				return central.Peripheral{}, &central.StateError{State: e.State}
			case central.Discovered:
				if e.Peripheral.Name == s.cfg.Arm.Name {
					s.logger.WithField("address", e.Peripheral.Address).Debug("Arm discovered, connecting...")
				}
			case central.Connected:
				return e.Peripheral, nil
			case central.ConnectFailed:
				return central.Peripheral{}, fmt.Errorf("failed to connect to %s: %w", e.Peripheral.DisplayName(), e.Err)
			case central.Disconnected:
				return central.Peripheral{}, fmt.Errorf("%w: %s", ErrConnectionLost, e.Peripheral.DisplayName())
			}
		}
	}
}

// connect starts the manager and waits for the arm within cfg.ConnectTimeout.
func (s *session) connect(ctx context.Context) (central.Peripheral, error) {
	events, unsubscribe := s.events(256)
	defer unsubscribe()

	s.start(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	p, err := s.waitConnected(waitCtx, events)
	if err != nil {
		return central.Peripheral{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"name":    p.Name,
		"address": p.Address,
	}).Info("Connected to arm")
	return p, nil
}

// IsReady implements script.Arm.
func (s *session) IsReady() bool {
	return s.manager.IsReady()
}

// Do implements script.Arm.
func (s *session) Do(ctx context.Context, cmd arm.Command) error {
	return s.manager.Do(ctx, cmd)
}

// WaitIdle runs the finish poller until the current movement completes.
func (s *session) WaitIdle(ctx context.Context) error {
	if !s.motion.MovementInProgress() {
		return nil
	}
	poll := s.manager.CheckFinish()
	err := s.motion.Wait(ctx)
	if err != nil {
		poll.Stop()
	}
	return err
}

// withInterrupt returns a context cancelled on Ctrl+C or SIGTERM.
func withInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
