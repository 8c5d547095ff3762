package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/armctl/internal/arm"
	"github.com/srg/armctl/internal/groutine"
)

// Poll is the handle of a running finish-check loop.
type Poll struct {
	interval time.Duration
	tracker  arm.Tracker
	check    func()
	logger   *logrus.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	rounds   atomic.Int64
}

// CheckFinish starts the finish poller: every PollInterval, while the
// tracker reports a movement in progress, the device object is asked to
// check completion on the manager loop. The poller ends for good once the
// tracker clears, Stop is called or the manager stops.
//
// Only one poller runs per manager; calling CheckFinish while one is
// running returns its handle.
func (m *Manager) CheckFinish() *Poll {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	if m.poll != nil && !m.poll.Finished() {
		return m.poll
	}

	p := &Poll{
		interval: m.opts.PollInterval,
		tracker:  m.tracker,
		check: func() {
			m.enqueue(func() {
				if m.device != nil {
					m.device.CheckFinish()
				}
			})
		},
		logger: m.logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.poll = p

	groutine.Go(context.Background(), "finish-poll", func(context.Context) {
		p.run(m.stopped)
	})
	return p
}

func (m *Manager) stopPoll() {
	m.pollMu.Lock()
	p := m.poll
	m.pollMu.Unlock()
	if p != nil {
		p.Stop()
		<-p.Done()
	}
}

func (p *Poll) run(managerStopped <-chan struct{}) {
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			p.logger.Debug("Finish poll cancelled")
			return
		case <-managerStopped:
			return
		case <-timer.C:
		}

		if p.tracker == nil || !p.tracker.MovementInProgress() {
			p.logger.WithField("rounds", p.rounds.Load()).Debug("Movement finished, finish poll done")
			return
		}

		p.rounds.Add(1)
		p.check()
		timer.Reset(p.interval)
	}
}

// Stop cancels the poller. Safe to call more than once.
func (p *Poll) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed when the poller has ended.
func (p *Poll) Done() <-chan struct{} {
	return p.done
}

// Finished reports whether the poller has ended.
func (p *Poll) Finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Rounds returns how many completion checks were requested so far.
func (p *Poll) Rounds() int64 {
	return p.rounds.Load()
}
