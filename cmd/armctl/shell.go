package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive command shell for the arm",
	Long: `Connects to the arm and reads commands line by line, e.g.

  arm> moveTo 120 0 80
  ok
  arm> wait
  ok

Type "help" for the command list and "quit" to leave. When stdin is not a
terminal, commands are read from it without a prompt.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

const shellPrompt = "arm> "

func runShell(cmd *cobra.Command, _ []string) error {
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
	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s (%s). Type \"help\" for commands.\n", p.DisplayName(), p.Address)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return shellLoop(ctx, exec, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to put terminal in raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(screen, shellPrompt)
	return terminalLoop(ctx, exec, t)
}

// terminalLoop reads lines with history and editing until quit, EOF or ctx is done.
func terminalLoop(ctx context.Context, exec *lineExecutor, t *term.Terminal) error {
	for ctx.Err() == nil {
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		reply, quit := exec.exec(ctx, line)
		if reply != "" {
			fmt.Fprintln(t, reply)
		}
		if quit {
			return nil
		}
	}
	return nil
}

// shellLoop reads plain lines from r and writes replies to w.
func shellLoop(ctx context.Context, exec *lineExecutor, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reply, quit := exec.exec(ctx, scanner.Text())
		if reply != "" {
			fmt.Fprintln(w, reply)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}
