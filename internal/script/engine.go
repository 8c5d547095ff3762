// Package script runs Lua programs that drive the arm.
//
// Scripts see a global "arm" table:
//
//	arm.ready()                             -- true once Bluetooth is usable
//	arm.control(kind [, x, y, z, angle [, pump]])
//	                                        -- true, or false plus a message
//	arm.wait([timeout_seconds])             -- waits for the movement to finish
//	arm.sleep(seconds)
//
// print output is captured and delivered through Output.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/armctl/internal/arm"
	"github.com/srg/armctl/internal/ringchan"
)

// DefaultOutputBuffer is the number of output records kept before the oldest are dropped.
const DefaultOutputBuffer = 256

// ErrInterrupted is raised inside the script once its context is done.
var ErrInterrupted = errors.New("script interrupted")

// Arm is what scripts can drive.
type Arm interface {
	IsReady() bool
	Do(ctx context.Context, cmd arm.Command) error
	WaitIdle(ctx context.Context) error
}

// OutputRecord is one line produced by a script.
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// Error describes a failed script.
type Error struct {
	Source  string
	Line    int
	Message string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("lua error (%s, line %d): %s", e.Source, e.Line, e.Message)
	}
	return fmt.Sprintf("lua error (%s): %s", e.Source, e.Message)
}

// Engine owns one Lua state. Run calls are serialized.
type Engine struct {
	arm    Arm
	logger *logrus.Logger
	output *ringchan.RingChannel[OutputRecord]

	mu    sync.Mutex
	state *lua.State
	ctx   context.Context // of the running script
}

// New creates an engine bound to a.
func New(a Arm, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		arm:    a,
		logger: logger,
		output: ringchan.New[OutputRecord](DefaultOutputBuffer),
		ctx:    context.Background(),
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrint()
	e.registerArm()
	return e
}

// Output returns the captured script output.
func (e *Engine) Output() <-chan OutputRecord {
	return e.output.C()
}

// RunFile runs the script at path.
func (e *Engine) RunFile(ctx context.Context, path string, args map[string]string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.Run(ctx, string(code), path, args)
}

// Run executes code. args are exposed to the script as the global table arg.
func (e *Engine) Run(ctx context.Context, code, name string, args map[string]string) error {
	if strings.TrimSpace(code) == "" {
		return &Error{Source: name, Message: "empty script"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errors.New("script engine closed")
	}
	e.ctx = ctx
	defer func() { e.ctx = context.Background() }()

	L := e.state
	L.NewTable()
	for k, v := range args {
		L.PushString(k)
		L.PushString(v)
		L.SetTable(-3)
	}
	L.SetGlobal("arg")

	e.logger.WithField("script", name).Debug("Running Lua script")
	if err := L.DoString(code); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
		serr := parseError(name, err.Error())
		e.output.ForceSend(OutputRecord{
			Content:   serr.Error(),
			Timestamp: time.Now(),
			Source:    "stderr",
		})
		return serr
	}
	return nil
}

// Close releases the Lua state and closes Output. Further calls are no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return
	}
	e.state.Close()
	e.state = nil
	e.output.Close()
}

func (e *Engine) registerPrint() {
	e.state.Register("print", func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case L.IsNumber(i):
				parts = append(parts, fmt.Sprintf("%v", L.ToNumber(i)))
			case L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				L.GetGlobal("tostring")
				L.PushValue(i)
				L.Call(1, 1)
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}
		e.output.ForceSend(OutputRecord{
			Content:   strings.Join(parts, "\t"),
			Timestamp: time.Now(),
			Source:    "stdout",
		})
		return 0
	})
}

func (e *Engine) registerArm() {
	L := e.state
	L.NewTable()

	e.pushFunction(L, "ready", func(L *lua.State) int {
		L.PushBoolean(e.arm.IsReady())
		return 1
	})

	e.pushFunction(L, "control", func(L *lua.State) int {
		cmd, err := commandArgs(L)
		if err != nil {
			L.RaiseError(err.Error())
			return 0
		}
		e.checkInterrupted(L)
		e.logger.WithField("command", cmd.Kind).Debug("Script sends command")
		return pushResult(L, e.arm.Do(e.ctx, cmd))
	})

	e.pushFunction(L, "wait", func(L *lua.State) int {
		ctx := e.ctx
		if L.GetTop() >= 1 && L.IsNumber(1) && L.ToNumber(1) > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, seconds(L.ToNumber(1)))
			defer cancel()
		}
		e.checkInterrupted(L)
		return pushResult(L, e.arm.WaitIdle(ctx))
	})

	e.pushFunction(L, "sleep", func(L *lua.State) int {
		d := seconds(L.CheckNumber(1))
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-e.ctx.Done():
		}
		e.checkInterrupted(L)
		return 0
	})

	L.SetGlobal("arm")
}

func (e *Engine) pushFunction(L *lua.State, name string, fn lua.LuaGoFunction) {
	L.PushString(name)
	L.PushGoFunction(fn)
	L.SetTable(-3)
}

func (e *Engine) checkInterrupted(L *lua.State) {
	if e.ctx.Err() != nil {
		L.RaiseError(ErrInterrupted.Error())
	}
}

// commandArgs reads (kind [, x, y, z, angle [, pump]]) from the stack.
func commandArgs(L *lua.State) (arm.Command, error) {
	kind, err := arm.ParseKind(L.CheckString(1))
	if err != nil {
		return arm.Command{}, err
	}
	cmd := arm.Command{Kind: kind}

	coords := []*float32{&cmd.X, &cmd.Y, &cmd.Z, &cmd.Angle}
	for i, dst := range coords {
		idx := i + 2
		if L.GetTop() < idx || L.IsNil(idx) {
			break
		}
		if !L.IsNumber(idx) {
			return arm.Command{}, fmt.Errorf("bad argument #%d to control (number expected)", idx)
		}
		*dst = float32(L.ToNumber(idx))
	}
	if L.GetTop() >= 6 {
		if L.IsNumber(6) {
			cmd.Pump = L.ToNumber(6) != 0
		} else {
			cmd.Pump = L.ToBoolean(6)
		}
	}
	return cmd, nil
}

func pushResult(L *lua.State, err error) int {
	if err != nil {
		L.PushBoolean(false)
		L.PushString(err.Error())
		return 2
	}
	L.PushBoolean(true)
	return 1
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// parseError splits the "chunk:line: message" form Lua uses. Chunk names
// of inline code look like [string "..."] and may contain colons.
func parseError(source, msg string) *Error {
	serr := &Error{Source: source, Message: msg}
	rest := msg
	if i := strings.Index(msg, "]:"); i >= 0 {
		rest = msg[i+2:]
	} else if i := strings.Index(msg, ":"); i >= 0 {
		rest = msg[i+1:]
	} else {
		return serr
	}

	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return serr
	}
	var line int
	if n, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &line); err == nil && n == 1 {
		serr.Line = line
		serr.Message = strings.TrimSpace(parts[1])
	}
	return serr
}
