package arm

import (
	"context"
	"sync"
)

// Tracker tells the finish poller whether a movement is still running.
type Tracker interface {
	MovementInProgress() bool
}

// Motion tracks the arm's current movement. It is safe for concurrent use.
type Motion struct {
	mu  sync.Mutex
	cur *movement // nil when idle
}

// movement is one Begin..Complete/Abort span. err is written before done is
// closed and never changes afterwards.
type movement struct {
	done chan struct{}
	err  error
}

func (mv *movement) wait(ctx context.Context) error {
	select {
	case <-mv.done:
		return mv.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewMotion returns an idle tracker.
func NewMotion() *Motion {
	return &Motion{}
}

// MovementInProgress implements Tracker.
func (m *Motion) MovementInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// Begin marks a movement as started. Beginning while a movement runs keeps
// the current one; waiters are released once, by Complete or Abort.
func (m *Motion) Begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		return
	}
	m.cur = &movement{done: make(chan struct{})}
}

// Complete marks the current movement as finished.
func (m *Motion) Complete() {
	m.finish(nil)
}

// Abort ends the current movement with err, e.g. when the link drops.
func (m *Motion) Abort(err error) {
	m.finish(err)
}

func (m *Motion) finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return
	}
	m.cur.err = err
	close(m.cur.done)
	m.cur = nil
}

// Wait blocks until the current movement finishes or ctx is done and returns
// that movement's outcome, even if another movement began since. It returns
// immediately when no movement is running.
func (m *Motion) Wait(ctx context.Context) error {
	m.mu.Lock()
	mv := m.cur
	m.mu.Unlock()
	if mv == nil {
		return nil
	}
	return mv.wait(ctx)
}
