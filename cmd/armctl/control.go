package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/armctl/internal/arm"
)

// controlCmd represents the control command
var controlCmd = &cobra.Command{
	Use:   "control <home|move|moveTo|rotate|pump|stop> [x] [y] [z] [angle]",
	Short: "Send one command to the arm",
	Long: `Connects to the arm, sends a single command and exits.

Missing coordinates default to 0. With --wait the command returns only
after the movement has finished.`,
	Example: `  armctl control home --wait
  armctl control moveTo 120 0 80 --wait
  armctl control pump --pump
  armctl control rotate 0 0 0 90`,
	Args: cobra.RangeArgs(1, 5),
	RunE: runControl,
}

var (
	controlPump    bool
	controlWait    bool
	controlTimeout time.Duration
)

func init() {
	controlCmd.Flags().BoolVar(&controlPump, "pump", false, "Switch the suction pump on")
	controlCmd.Flags().BoolVarP(&controlWait, "wait", "w", false, "Wait for the movement to finish")
	controlCmd.Flags().DurationVarP(&controlTimeout, "timeout", "t", time.Minute, "Maximum time to wait for the movement")
}

// parseControlArgs builds a command from positional arguments and the pump flag.
func parseControlArgs(args []string, pump bool) (arm.Command, error) {
	cmd, err := arm.ParseCommand(strings.Join(args, " "))
	if err != nil {
		return arm.Command{}, err
	}
	cmd.Pump = pump
	return cmd, nil
}

func runControl(cmd *cobra.Command, args []string) error {
	command, err := parseControlArgs(args, controlPump)
	if err != nil {
		return err
	}

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

	if _, err := s.connect(ctx); err != nil {
		return err
	}

	if err := s.Do(ctx, command); err != nil {
		return err
	}
	logger.WithField("command", command.String()).Info("Command sent")

	if controlWait && command.Kind.Motion() {
		waitCtx, waitCancel := context.WithTimeout(ctx, controlTimeout)
		defer waitCancel()
		if err := s.WaitIdle(waitCtx); err != nil {
			return fmt.Errorf("movement did not finish: %w", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
