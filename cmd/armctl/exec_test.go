package main

import (
	"context"
	"strings"
	"testing"

	"github.com/srg/armctl/internal/arm"
	"github.com/srg/armctl/internal/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockArm struct {
	mock.Mock
}

func (m *mockArm) IsReady() bool {
	return m.Called().Bool(0)
}

func (m *mockArm) Do(_ context.Context, cmd arm.Command) error {
	return m.Called(cmd).Error(0)
}

func (m *mockArm) WaitIdle(_ context.Context) error {
	return m.Called().Error(0)
}

func TestLineExecutor(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		setup func(m *mockArm)
		reply string
		quit  bool
	}{
		{name: "blank", line: "   ", reply: ""},
		{name: "quit", line: "quit", reply: "bye", quit: true},
		{name: "exit upper case", line: "EXIT", reply: "bye", quit: true},
		{
			name:  "command",
			line:  "moveTo 120 0 80",
			setup: func(m *mockArm) { m.On("Do", arm.Command{Kind: arm.KindMoveTo, X: 120, Z: 80}).Return(nil) },
			reply: "ok",
		},
		{
			name:  "command with pump",
			line:  "pump 0 0 0 0 on",
			setup: func(m *mockArm) { m.On("Do", arm.Command{Kind: arm.KindPump, Pump: true}).Return(nil) },
			reply: "ok",
		},
		{name: "unknown command", line: "dance", reply: "error: unknown command"},
		{name: "bad number", line: "move x", reply: "error: invalid number"},
		{
			name:  "no device",
			line:  "home",
			setup: func(m *mockArm) { m.On("Do", arm.Command{Kind: arm.KindHome}).Return(manager.ErrNoDevice) },
			reply: "error: No arm has been discovered yet.",
		},
		{
			name:  "wait",
			line:  "wait",
			setup: func(m *mockArm) { m.On("WaitIdle").Return(nil) },
			reply: "ok",
		},
		{
			name:  "status",
			line:  "status",
			setup: func(m *mockArm) { m.On("IsReady").Return(false) },
			reply: "not ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(mockArm)
			if tt.setup != nil {
				tt.setup(m)
			}
			e := &lineExecutor{arm: m, waitTimeout: defaultWaitTimeout}

			reply, quit := e.exec(context.Background(), tt.line)

			if tt.reply == "" {
				assert.Empty(t, reply)
			} else {
				assert.True(t, strings.HasPrefix(reply, tt.reply), "reply %q", reply)
			}
			assert.Equal(t, tt.quit, quit)
			m.AssertExpectations(t)
		})
	}
}

func TestLineExecutorHelp(t *testing.T) {
	e := &lineExecutor{arm: new(mockArm)}
	reply, quit := e.exec(context.Background(), "help")
	require.False(t, quit)
	assert.Contains(t, reply, "moveTo")
	assert.Contains(t, reply, "quit")
}

func TestShellLoop(t *testing.T) {
	m := new(mockArm)
	m.On("Do", arm.Command{Kind: arm.KindHome}).Return(nil).Once()
	m.On("IsReady").Return(true).Once()
	e := &lineExecutor{arm: m}

	in := strings.NewReader("home\n\nstatus\nquit\nstop\n")
	var out strings.Builder

	require.NoError(t, shellLoop(context.Background(), e, in, &out))

	assert.Equal(t, "ok\nready\nbye\n", out.String())
	m.AssertExpectations(t)
	m.AssertNotCalled(t, "Do", arm.Command{Kind: arm.KindStop})
}
