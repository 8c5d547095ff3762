package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"github.com/srg/armctl"
	"github.com/srg/armctl/internal/groutine"
	"github.com/srg/armctl/internal/script"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [script.lua]",
	Short: "Run a Lua script against the arm",
	Long: `Connects to the arm and runs a Lua script. The script sees an "arm"
table with ready(), control(kind, x, y, z, angle, pump), wait(timeout) and
sleep(seconds); values passed with --arg appear in the global "arg" table.

With --demo the built-in demo script runs instead of a file: it homes the
arm, traces a square and returns home.`,
	Example: `  armctl run pick.lua --arg x=120 --arg y=40
  -- pick.lua
  arm.control("moveTo", tonumber(arg.x), tonumber(arg.y), 20, 0, true)
  arm.wait(30)
  arm.control("home")`,
	Args: func(cmd *cobra.Command, args []string) error {
		if scriptDemo {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runScript,
}

var (
	scriptArgs map[string]string
	scriptJSON bool
	scriptDemo bool
)

// transcriptSize is how many output records --json keeps.
const transcriptSize = 4096

func init() {
	runCmd.Flags().StringToStringVarP(&scriptArgs, "arg", "a", nil, "Script argument as key=value (repeatable)")
	runCmd.Flags().BoolVar(&scriptJSON, "json", false, "Print the script output as a JSON array once the script ends")
	runCmd.Flags().BoolVar(&scriptDemo, "demo", false, "Run the built-in demo script")
}

func runScript(cmd *cobra.Command, args []string) error {
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

	execute := func(engine *script.Engine) error {
		if scriptDemo {
			return engine.Run(ctx, armctl.DemoScript, "demo.lua", scriptArgs)
		}
		return engine.RunFile(ctx, args[0], scriptArgs)
	}

	engine := script.New(s, logger)

	if scriptJSON {
		collector, err := script.NewCollector(engine.Output(), transcriptSize)
		if err != nil {
			engine.Close()
			return err
		}
		runErr := execute(engine)
		engine.Close()
		if err := writeTranscript(cmd.OutOrStdout(), collector); err != nil {
			return err
		}
		return runErr
	}

	drained := drainOutput(ctx, engine.Output(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	runErr := execute(engine)
	engine.Close()
	drained.Wait()
	return runErr
}

// writeTranscript waits for the collector and prints its records as JSON.
func writeTranscript(w io.Writer, collector *script.Collector) error {
	if err := collector.Wait(); err != nil {
		return err
	}
	records, err := collector.Records()
	if err != nil {
		return err
	}
	if records == nil {
		records = []script.OutputRecord{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

// drainOutput copies script output to stdout/stderr until the channel is closed.
func drainOutput(ctx context.Context, records <-chan script.OutputRecord, stdout, stderr io.Writer) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	groutine.Go(ctx, "script-output", func(context.Context) {
		defer wg.Done()
		for rec := range records {
			w := stdout
			if rec.Source == "stderr" {
				w = stderr
			}
			fmt.Fprintln(w, rec.Content)
		}
	})
	return &wg
}
