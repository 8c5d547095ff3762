package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/armctl/internal/ptyio"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Expose the arm as a serial-style PTY",
	Long: `Connects to the arm and opens a pseudo-terminal. Any serial terminal
(screen, minicom, picocom) or program can open the printed device and send
one command per line; every line is answered with "ok" or "error: ...".

The bridge runs until interrupted with Ctrl+C.`,
	Example: `  armctl bridge
  screen /dev/pts/5`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context())
	defer cancel()

	s := newSession(cfg, logger, false)
	defer func() {
		if err := s.stop(); err != nil {
			logger.WithError(err).Debug("Connection manager stopped with error")
		}
	}()

	p, err := s.connect(ctx)
	if err != nil {
		return err
	}

	exec := &lineExecutor{arm: s, waitTimeout: defaultWaitTimeout}
	// lines can arrive before Open returns
	var current atomic.Pointer[ptyio.Pty]
	tty, err := ptyio.Open(ptyio.Options{
		Logger: logger,
		OnLine: func(line string) {
			reply, _ := exec.exec(ctx, line)
			pt := current.Load()
			if reply == "" || reply == "bye" || pt == nil {
				return
			}
			if err := pt.WriteLine(reply); err != nil {
				logger.WithError(err).Warn("Failed to queue reply")
			}
		},
		OnError: func(error) { cancel() },
	})
	if err != nil {
		return err
	}
	current.Store(tty)
	defer tty.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bridging %s (%s)\n", p.DisplayName(), p.Address)
	fmt.Fprintf(out, "PTY: %s\n", tty.TTYName())
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	var runErr error
	select {
	case <-ctx.Done():
	case <-s.runDone:
		runErr = s.runErr
	}

	stats := tty.Stats()
	logger.WithFields(logrus.Fields{
		"lines":   stats.LinesTotal,
		"read":    stats.ReadBytesTotal,
		"written": stats.WriteBytesTotal,
		"dropped": stats.DroppedWriteCount,
	}).Info("Bridge stopped")

	if runErr != nil {
		return runErr
	}
	return context.Cause(ctx)
}
