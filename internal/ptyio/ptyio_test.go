package ptyio

import (
	"bufio"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPty(t *testing.T, onLine LineHandler) *Pty {
	t.Helper()
	p, err := Open(Options{OnLine: onLine, PollTimeout: 10 * time.Millisecond})
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPtyDeliversLines(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	p := openTestPty(t, func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	require.NotEmpty(t, p.TTYName())

	tty, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer tty.Close()

	_, err = tty.WriteString("home\r\nmove 1 2 3 0 1\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"home", "move 1 2 3 0 1"}, lines)
	mu.Unlock()
	assert.Equal(t, uint64(2), p.Stats().LinesTotal)
}

func TestPtyWriteLineReachesSlave(t *testing.T) {
	p := openTestPty(t, nil)

	tty, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer tty.Close()

	require.NoError(t, p.WriteLine("ok"))

	got := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(tty).ReadString('\n')
		got <- line
	}()

	select {
	case line := <-got:
		assert.Equal(t, "ok\r\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("reply did not reach the slave")
	}
	assert.Eventually(t, func() bool { return p.Stats().WriteBytesTotal == 4 }, time.Second, 10*time.Millisecond)
}

func TestPtyClose(t *testing.T) {
	p := openTestPty(t, nil)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
