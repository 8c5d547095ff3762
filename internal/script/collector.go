package script

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxCollectorSize caps the collector ring to guard against misconfiguration.
const MaxCollectorSize uint32 = 1024 * 1024

// Collector keeps the most recent output records of a script run. Records
// are pulled from an engine's Output channel on a background goroutine;
// when the ring is full the oldest records are overwritten.
type Collector struct {
	buffer mpmc.RichOverlappedRingBuffer[OutputRecord]
	done   chan struct{}
	once   sync.Once

	processed   atomic.Int64
	overwritten atomic.Int64
	err         atomic.Value // error
}

// NewCollector starts collecting from records until the channel is closed.
func NewCollector(records <-chan OutputRecord, size uint32) (*Collector, error) {
	if records == nil {
		return nil, errors.New("output channel cannot be nil")
	}
	if size == 0 {
		return nil, errors.New("buffer size must be > 0")
	}
	if size > MaxCollectorSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", size, MaxCollectorSize)
	}

	c := &Collector{
		buffer: mpmc.NewOverlappedRingBuffer[OutputRecord](size),
		done:   make(chan struct{}),
	}
	go c.run(records)
	return c, nil
}

func (c *Collector) run(records <-chan OutputRecord) {
	defer close(c.done)
	for rec := range records {
		overwrites, err := c.buffer.EnqueueM(rec)
		if err != nil {
			c.err.Store(fmt.Errorf("unexpected buffer enqueue error: %w", err))
			return
		}
		c.overwritten.Add(int64(overwrites))
		c.processed.Add(1)
	}
}

// Wait blocks until the output channel is closed, i.e. the engine was closed.
func (c *Collector) Wait() error {
	<-c.done
	if err, ok := c.err.Load().(error); ok {
		return err
	}
	return nil
}

// Records drains the collected records in arrival order. Call it after Wait.
func (c *Collector) Records() ([]OutputRecord, error) {
	var out []OutputRecord
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("buffer dequeue error: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Text drains the collected records as newline-terminated lines.
func (c *Collector) Text() (string, error) {
	records, err := c.Records()
	var b strings.Builder
	for _, rec := range records {
		b.WriteString(rec.Content)
		b.WriteByte('\n')
	}
	return b.String(), err
}

// Processed returns how many records were collected.
func (c *Collector) Processed() int64 {
	return c.processed.Load()
}

// Overwritten returns how many records were lost to overflow.
func (c *Collector) Overwritten() int64 {
	return c.overwritten.Load()
}
