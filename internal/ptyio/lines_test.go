package ptyio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(s *LineSplitter, chunks ...string) []string {
	var lines []string
	for _, c := range chunks {
		s.Feed([]byte(c), func(line string) { lines = append(lines, line) })
	}
	return lines
}

func TestLineSplitter(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    []string
		pending int
	}{
		{
			name:   "single line",
			chunks: []string{"home\n"},
			want:   []string{"home"},
		},
		{
			name:   "crlf terminated",
			chunks: []string{"move 1 2 3\r\n"},
			want:   []string{"move 1 2 3"},
		},
		{
			name:   "bare carriage return",
			chunks: []string{"stop\r"},
			want:   []string{"stop"},
		},
		{
			name:   "split across chunks",
			chunks: []string{"mo", "veTo 10", " 20 30\n"},
			want:   []string{"moveTo 10 20 30"},
		},
		{
			name:   "several lines in one chunk",
			chunks: []string{"home\nstop\npump 0 0 0 0 1\n"},
			want:   []string{"home", "stop", "pump 0 0 0 0 1"},
		},
		{
			name:   "blank lines skipped",
			chunks: []string{"\n\r\n  \nhome\n"},
			want:   []string{"home"},
		},
		{
			name:    "unterminated tail stays pending",
			chunks:  []string{"home\nsto"},
			want:    []string{"home"},
			pending: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewLineSplitter(64)
			assert.Equal(t, tt.want, collect(s, tt.chunks...))
			assert.Equal(t, tt.pending, s.Pending())
		})
	}
}

func TestLineSplitterDiscardsOverlong(t *testing.T) {
	s := NewLineSplitter(8)

	lines := collect(s, strings.Repeat("x", 5), strings.Repeat("y", 5), "zz\nhome\n")

	assert.Equal(t, []string{"home"}, lines)
	assert.Equal(t, uint64(1), s.Overlong())
}
