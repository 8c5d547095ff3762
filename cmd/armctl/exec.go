package main

import (
	"context"
	"strings"
	"time"

	"github.com/srg/armctl/internal/arm"
	"github.com/srg/armctl/internal/script"
)

// defaultWaitTimeout bounds the "wait" line command.
const defaultWaitTimeout = time.Minute

// lineExecutor runs one interactive line against the arm and returns the
// reply. Besides command lines it understands "wait", "status", "help" and
// "quit"/"exit".
type lineExecutor struct {
	arm         script.Arm
	waitTimeout time.Duration
}

const lineHelp = `commands:
  home | stop
  move <x> <y> <z> [angle] [pump]
  moveTo <x> <y> <z> [angle] [pump]
  rotate 0 0 0 <angle>
  pump 0 0 0 0 <0|1>
  wait      wait for the current movement
  status    show whether bluetooth is ready
  quit`

// exec returns the reply for line and whether the session should end.
func (e *lineExecutor) exec(ctx context.Context, line string) (reply string, quit bool) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return "", false
	case "quit", "exit":
		return "bye", true
	case "help", "?":
		return lineHelp, false
	case "status":
		if e.arm.IsReady() {
			return "ready", false
		}
		return "not ready", false
	case "wait":
		waitCtx := ctx
		if e.waitTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, e.waitTimeout)
			defer cancel()
		}
		if err := e.arm.WaitIdle(waitCtx); err != nil {
			return "error: " + FormatUserError(err), false
		}
		return "ok", false
	}

	cmd, err := arm.ParseCommand(line)
	if err != nil {
		return "error: " + err.Error(), false
	}
	if err := e.arm.Do(ctx, cmd); err != nil {
		return "error: " + FormatUserError(err), false
	}
	return "ok", false
}
