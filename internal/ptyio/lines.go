package ptyio

import (
	"bytes"
	"sync/atomic"
)

// LineSplitter assembles a byte stream into lines. Lines end at '\n' or
// '\r' (so "\r\n" from terminals yields one line), blank lines are skipped
// and lines longer than max bytes are discarded whole.
//
// Feed is not safe for concurrent use; Overlong is.
type LineSplitter struct {
	buf      []byte
	max      int
	skipping bool
	overlong atomic.Uint64
}

// NewLineSplitter returns a splitter that keeps at most max bytes per line.
func NewLineSplitter(max int) *LineSplitter {
	if max <= 0 {
		max = DefaultMaxLine
	}
	return &LineSplitter{max: max}
}

// Feed consumes data and calls emit for every complete line.
func (s *LineSplitter) Feed(data []byte, emit func(line string)) {
	for len(data) > 0 {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			s.append(data)
			return
		}
		s.append(data[:i])
		data = data[i+1:]

		if s.skipping {
			s.skipping = false
		} else if line := string(bytes.TrimSpace(s.buf)); line != "" {
			emit(line)
		}
		s.buf = s.buf[:0]
	}
}

func (s *LineSplitter) append(data []byte) {
	if s.skipping {
		return
	}
	if len(s.buf)+len(data) > s.max {
		s.skipping = true
		s.buf = s.buf[:0]
		s.overlong.Add(1)
		return
	}
	s.buf = append(s.buf, data...)
}

// Pending returns the bytes of the unterminated line collected so far.
func (s *LineSplitter) Pending() int {
	return len(s.buf)
}

// Overlong returns how many lines were discarded for exceeding the limit.
func (s *LineSplitter) Overlong() uint64 {
	return s.overlong.Load()
}
