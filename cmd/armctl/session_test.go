package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/armctl/internal/arm"
	"github.com/srg/armctl/internal/central"
	"github.com/srg/armctl/internal/central/centraltest"
	"github.com/srg/armctl/pkg/config"
	"github.com/stretchr/testify/suite"
)

var testArm = central.Peripheral{Address: "AA:BB:CC:DD:EE:FF", Name: "RoboticArm", RSSI: -48, Connectable: true}

type SessionTestSuite struct {
	suite.Suite
	fake     *centraltest.Central
	cfg      *config.Config
	logger   *logrus.Logger
	restore  func(*config.Config, *logrus.Logger) central.Central
	sessions []*session
}

func (s *SessionTestSuite) SetupTest() {
	s.fake = centraltest.New()
	s.restore = newCentral
	newCentral = func(*config.Config, *logrus.Logger) central.Central { return s.fake }

	s.cfg = config.DefaultConfig()
	s.cfg.ConnectTimeout = 2 * time.Second
	s.cfg.Arm.PollInterval = 5 * time.Millisecond

	s.logger = logrus.New()
	s.logger.SetOutput(io.Discard)
	s.sessions = nil
}

func (s *SessionTestSuite) TearDownTest() {
	for _, sess := range s.sessions {
		s.NoError(sess.stop())
	}
	newCentral = s.restore
}

func (s *SessionTestSuite) newSession(scanOnly bool) *session {
	sess := newSession(s.cfg, s.logger, scanOnly)
	s.sessions = append(s.sessions, sess)
	return sess
}

// connectAsync runs connect and plays the arm's side once scanning started.
func (s *SessionTestSuite) connectAsync(sess *session, link *centraltest.Link) (central.Peripheral, error) {
	type result struct {
		p   central.Peripheral
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := sess.connect(context.Background())
		done <- result{p, err}
	}()

	s.Require().Eventually(func() bool { return s.fake.Count("scan") > 0 }, time.Second, time.Millisecond)
	s.fake.Emit(central.Discovered{Peripheral: testArm})
	s.Require().Eventually(func() bool { return s.fake.Count("connect") > 0 }, time.Second, time.Millisecond)
	s.fake.Emit(central.Connected{Peripheral: testArm, Link: link})

	r := <-done
	return r.p, r.err
}

func (s *SessionTestSuite) TestConnectSendAndWait() {
	sess := s.newSession(false)
	link := centraltest.NewLink(testArm)
	link.SetValue("ffe2", []byte{1})

	p, err := s.connectAsync(sess, link)
	s.Require().NoError(err)
	s.Equal(testArm.Address, p.Address)
	s.True(sess.IsReady())

	ctx := context.Background()
	s.Require().NoError(sess.Do(ctx, arm.Command{Kind: arm.KindMoveTo, X: 120, Z: 80}))
	s.Require().Len(link.Writes(), 1)
	s.Equal("moveTo 120.0 0.0 80.0 0.0 0\n", string(link.Writes()[0]))

	time.AfterFunc(20*time.Millisecond, func() { link.SetValue("ffe2", []byte{0}) })

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Require().NoError(sess.WaitIdle(waitCtx))
}

func (s *SessionTestSuite) TestWaitIdleWithoutMovement() {
	sess := s.newSession(false)
	s.NoError(sess.WaitIdle(context.Background()))
}

func (s *SessionTestSuite) TestPoweredOffFailsFast() {
	s.fake.InitialState = central.StatePoweredOff
	sess := s.newSession(false)

	_, err := sess.connect(context.Background())

	var stateErr *central.StateError
	s.Require().ErrorAs(err, &stateErr)
	s.Equal(central.StatePoweredOff, stateErr.State)
	s.Contains(FormatUserError(err), "turned off")
}

func (s *SessionTestSuite) TestArmNotFound() {
	s.cfg.ConnectTimeout = 30 * time.Millisecond
	sess := s.newSession(false)

	_, err := sess.connect(context.Background())

	s.Require().ErrorIs(err, ErrArmNotFound)
	s.Contains(err.Error(), "RoboticArm")
}

func (s *SessionTestSuite) TestConnectFailedIsReported() {
	sess := s.newSession(false)

	done := make(chan error, 1)
	go func() {
		_, err := sess.connect(context.Background())
		done <- err
	}()

	s.Require().Eventually(func() bool { return s.fake.Count("scan") > 0 }, time.Second, time.Millisecond)
	s.fake.Emit(central.Discovered{Peripheral: testArm})
	s.Require().Eventually(func() bool { return s.fake.Count("connect") > 0 }, time.Second, time.Millisecond)
	s.fake.Emit(central.ConnectFailed{Peripheral: testArm, Err: central.ErrTimeout})

	err := <-done
	s.Require().ErrorIs(err, central.ErrTimeout)
	s.Contains(err.Error(), "RoboticArm")
}

func (s *SessionTestSuite) TestScanOnlyNeverConnects() {
	sess := s.newSession(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		entries, err := collectDiscoveries(ctx, sess, 200*time.Millisecond)
		done <- result{entries.Len(), err}
	}()

	s.Require().Eventually(func() bool { return s.fake.Count("scan") > 0 }, time.Second, time.Millisecond)
	s.fake.Emit(central.Discovered{Peripheral: testArm})
	s.fake.Emit(central.Discovered{Peripheral: central.Peripheral{Address: "11:22:33:44:55:66", Name: "Other"}})
	s.fake.Emit(central.Discovered{Peripheral: testArm})

	r := <-done
	s.Require().NoError(r.err)
	s.Equal(2, r.n)
	s.Zero(s.fake.Count("connect"))
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
