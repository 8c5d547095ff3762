// Package ptyio exposes a pseudo-terminal whose slave side can be opened by
// any serial-terminal program. Bytes written by the program are assembled
// into lines and handed to a callback; replies are queued in a ring buffer
// and written back asynchronously.
//
//	p, err := ptyio.Open(ptyio.Options{
//	    Logger: logger,
//	    OnLine: func(line string) { ... },
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	fmt.Println("connect to", p.TTYName())
//
// Both loops wait in poll(2) with PollTimeout so Close is noticed within that
// bound.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/armctl/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultWriteCap    = 4096
	DefaultMaxLine     = 1024
	DefaultPollTimeout = 50 * time.Millisecond
)

// LineHandler receives one line without its terminator. It runs on the read
// loop goroutine; a slow handler delays further input.
type LineHandler func(line string)

// Options configures Open. Zero values use the defaults above.
type Options struct {
	WriteCap    int           // reply ring buffer size in bytes
	MaxLine     int           // longer lines are discarded
	PollTimeout time.Duration // upper bound on Close latency
	Logger      *logrus.Logger
	OnLine      LineHandler
	OnError     func(err error) // called once if a loop dies on an unexpected error
}

// Stats are runtime counters.
type Stats struct {
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
	DroppedWriteCount uint64
	LinesTotal        uint64
	OverlongLines     uint64
	WriteQueueLen     int
}

// Pty is the master side of an open pseudo-terminal pair.
type Pty struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	fd          int
	ttyName     string
	pollTimeout int // ms
	onLine      LineHandler
	onError     func(error)
	errOnce     sync.Once

	writeBuf    *ringbuffer.RingBuffer
	writeNotify chan struct{}
	lines       *LineSplitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	readBytes    atomic.Uint64
	writeBytes   atomic.Uint64
	droppedWrite atomic.Uint64
	lineCount    atomic.Uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Open creates the pair, puts the slave in raw mode and starts the loops.
func Open(opts Options) (*Pty, error) {
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultWriteCap
	}
	if opts.MaxLine <= 0 {
		opts.MaxLine = DefaultMaxLine
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}
	closeBoth := func() {
		_ = master.Close()
		_ = slave.Close()
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		closeBoth()
		return nil, fmt.Errorf("failed to set PTY(tty) %s to raw mode: %w", slave.Name(), err)
	}

	// Fd() switches the file to blocking mode, so take it once and flip it back
	fd := int(master.Fd())
	if err := syscall.SetNonblock(fd, true); err != nil {
		closeBoth()
		return nil, fmt.Errorf("failed to set PTY(ptyx) %s to nonblocking mode: %w", slave.Name(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pty{
		logger:      opts.Logger,
		master:      master,
		slave:       slave,
		fd:          fd,
		ttyName:     slave.Name(),
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		onLine:      opts.OnLine,
		onError:     opts.OnError,
		writeBuf:    ringbuffer.New(opts.WriteCap),
		writeNotify: make(chan struct{}, 1),
		lines:       NewLineSplitter(opts.MaxLine),
		ctx:         ctx,
		cancel:      cancel,
	}
	if p.pollTimeout == 0 {
		p.pollTimeout = 1
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-read-loop", func(context.Context) {
		defer p.wg.Done()
		p.readLoop()
	})
	groutine.Go(ctx, "pty-write-loop", func(context.Context) {
		defer p.wg.Done()
		p.writeLoop()
	})

	p.logger.WithField("tty", p.ttyName).Info("PTY bridge opened")
	return p, nil
}

// TTYName returns the slave device path, e.g. /dev/pts/5.
func (p *Pty) TTYName() string {
	return p.ttyName
}

// Write queues data for the slave. It never blocks; when the buffer is full
// the excess is dropped and n < len(data).
func (p *Pty) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		p.droppedWrite.Add(uint64(len(data) - n))
		p.logger.WithFields(logrus.Fields{
			"dropped": len(data) - n,
			"queued":  n,
		}).Warn("PTY write buffer overflow")
	}

	select {
	case p.writeNotify <- struct{}{}:
	default:
	}
	return n, nil
}

// WriteLine queues s followed by CRLF.
func (p *Pty) WriteLine(s string) error {
	line := s + "\r\n"
	n, err := p.Write([]byte(line))
	if err != nil {
		return err
	}
	if n < len(line) {
		return fmt.Errorf("reply truncated: queued %d of %d bytes", n, len(line))
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Pty) Stats() Stats {
	return Stats{
		ReadBytesTotal:    p.readBytes.Load(),
		WriteBytesTotal:   p.writeBytes.Load(),
		DroppedWriteCount: p.droppedWrite.Load(),
		LinesTotal:        p.lineCount.Load(),
		OverlongLines:     p.lines.Overlong(),
		WriteQueueLen:     p.writeBuf.Length(),
	}
}

// Close stops both loops and closes the pair.
func (p *Pty) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY(ptyx): %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY(tty): %w", err))
	}
	p.logger.WithField("tty", p.ttyName).Debug("PTY bridge closed")
	return errors.Join(errs...)
}

func (p *Pty) fail(err error) {
	p.logger.WithError(err).Warn("PTY loop exiting on error")
	if p.onError != nil {
		p.errOnce.Do(func() { p.onError(err) })
	}
}

func (p *Pty) readLoop() {
	pollFd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for {
		if p.ctx.Err() != nil {
			return
		}

		nReady, err := unix.Poll(pollFd, p.pollTimeout)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.fail(fmt.Errorf("readLoop poll: %w", err))
			return
		}
		if nReady == 0 {
			continue
		}

		n, err := unix.Read(p.fd, buf)
		if n > 0 {
			p.readBytes.Add(uint64(n))
			p.lines.Feed(buf[:n], p.deliver)
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EIO):
				// no process has the slave open; keep waiting for one
				time.Sleep(time.Duration(p.pollTimeout) * time.Millisecond)
				continue
			default:
				p.fail(fmt.Errorf("readLoop read: %w", err))
				return
			}
		}
	}
}

func (p *Pty) deliver(line string) {
	p.lineCount.Add(1)
	if p.onLine == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("LineHandler panicked: %v", r)
		}
	}()
	p.onLine(line)
}

func (p *Pty) writeLoop() {
	pollFd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.writeNotify:
		}

		for {
			n, err := p.writeBuf.TryRead(buf)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}

			offset := 0
			for offset < n {
				if p.ctx.Err() != nil {
					return
				}
				written, err := unix.Write(p.fd, buf[offset:n])
				if written > 0 {
					offset += written
					p.writeBytes.Add(uint64(written))
				}
				if err == nil {
					continue
				}
				switch {
				case errors.Is(err, syscall.EINTR):
				case errors.Is(err, syscall.EAGAIN):
					if _, pollErr := unix.Poll(pollFd, p.pollTimeout); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
						p.logger.Warnf("writeLoop poll error: %v", pollErr)
					}
				default:
					p.fail(fmt.Errorf("writeLoop write: %w", err))
					return
				}
			}
		}
	}
}
