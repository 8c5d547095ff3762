// Package centraltest provides a recording Central for tests. Requests are
// recorded in call order; events are injected with Emit.
package centraltest

import (
	"context"
	"sync"
	"time"

	"github.com/srg/armctl/internal/central"
)

// Call is one recorded request.
type Call struct {
	Op         string // "scan", "stopScan", "connect", "disconnect"
	Peripheral central.Peripheral
}

// Central is a fake central.Central.
type Central struct {
	// InitialState is reported on Start. Zero value reports StateUnknown.
	InitialState central.PowerState
	// StartErr is returned from Start when set.
	StartErr error
	// OnConnect runs inside Connect after the request is recorded, on the
	// caller's goroutine, e.g. to report an outcome synchronously.
	OnConnect func(p central.Peripheral)

	mu       sync.Mutex
	handler  central.Handler
	scanning bool
	calls    []Call
	closed   bool
}

// New returns a fake central that reports poweredOn on Start.
func New() *Central {
	return &Central{InitialState: central.StatePoweredOn}
}

func (c *Central) Start(_ context.Context, handler central.Handler) error {
	if c.StartErr != nil {
		return c.StartErr
	}
	c.mu.Lock()
	c.handler = handler
	state := c.InitialState
	c.mu.Unlock()

	handler(central.StateChanged{State: state})
	return nil
}

func (c *Central) Scan(bool) {
	c.record(Call{Op: "scan"})
	c.mu.Lock()
	c.scanning = true
	c.mu.Unlock()
}

func (c *Central) StopScan() {
	c.record(Call{Op: "stopScan"})
	c.mu.Lock()
	c.scanning = false
	c.mu.Unlock()
}

func (c *Central) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

func (c *Central) Connect(p central.Peripheral) {
	c.record(Call{Op: "connect", Peripheral: p})
	if c.OnConnect != nil {
		c.OnConnect(p)
	}
}

func (c *Central) Disconnect(p central.Peripheral) {
	c.record(Call{Op: "disconnect", Peripheral: p})
}

func (c *Central) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.scanning = false
	return nil
}

// Closed reports whether Close was called.
func (c *Central) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Emit delivers ev to the handler registered by Start.
func (c *Central) Emit(ev central.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Started reports whether Start registered a handler.
func (c *Central) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// Calls returns a copy of the recorded requests.
func (c *Central) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Ops returns the recorded request names in order.
func (c *Central) Ops() []string {
	calls := c.Calls()
	ops := make([]string, len(calls))
	for i, call := range calls {
		ops[i] = call.Op
	}
	return ops
}

// Count returns how many times op was requested.
func (c *Central) Count(op string) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Op == op {
			n++
		}
	}
	return n
}

func (c *Central) record(call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// Link is a fake central.Link serving reads from a per-characteristic value
// table and recording writes.
type Link struct {
	P central.Peripheral

	mu     sync.Mutex
	values map[string][]byte
	writes [][]byte
	err    error
}

// NewLink returns a link for p.
func NewLink(p central.Peripheral) *Link {
	return &Link{P: p, values: make(map[string][]byte)}
}

func (l *Link) Peripheral() central.Peripheral { return l.P }

// SetValue sets what Read returns for characteristic.
func (l *Link) SetValue(characteristic string, v []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[characteristic] = v
}

// SetError makes every Read and Write fail with err.
func (l *Link) SetError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *Link) Read(_ string, characteristic string, _ time.Duration) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	v, ok := l.values[characteristic]
	if !ok {
		return nil, central.ErrNotFound
	}
	return v, nil
}

func (l *Link) Write(_ string, _ string, data []byte, _ bool, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.writes = append(l.writes, append([]byte(nil), data...))
	return nil
}

// Writes returns the payloads written so far.
func (l *Link) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes...)
}
