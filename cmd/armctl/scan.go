package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/armctl/internal/central"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Devices are listed in the order they were first seen; the arm is
highlighted. The scan never connects.`,
	RunE: runScan,
}

var (
	scanTimeout time.Duration
	scanFormat  string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 0, "Scan duration (default from config, 10s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json; default from config)")
}

// scanEntry is one discovered device.
type scanEntry struct {
	central.Peripheral
	Seen     int       `json:"seen"`
	LastSeen time.Time `json:"last_seen"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if scanFormat != "" {
		cfg.OutputFormat = scanFormat
	}
	if cfg.OutputFormat != "table" && cfg.OutputFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", cfg.OutputFormat)
	}
	if scanTimeout > 0 {
		cfg.ScanTimeout = scanTimeout
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context())
	defer cancel()

	s := newSession(cfg, logger, true)
	entries, err := collectDiscoveries(ctx, s, cfg.ScanTimeout)
	if stopErr := s.stop(); stopErr != nil {
		logger.WithError(stopErr).Warn("Failed to stop scan cleanly")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.OutputFormat == "json" {
		return writeScanJSON(out, entries)
	}
	return writeScanTable(out, entries, cfg.Arm.Name)
}

// collectDiscoveries runs the session in scan-only mode for d and returns
// the devices in first-seen order.
func collectDiscoveries(ctx context.Context, s *session, d time.Duration) (*orderedmap.OrderedMap[string, *scanEntry], error) {
	entries := orderedmap.New[string, *scanEntry]()

	events, unsubscribe := s.events(1024)
	defer unsubscribe()
	s.start(ctx)

	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-timeout:
			return entries, nil
		case <-ctx.Done():
			return entries, ctx.Err()
		case <-s.runDone:
			if s.runErr != nil {
				return entries, s.runErr
			}
			return entries, nil
		case ev := <-events:
			switch e := ev.(type) {
			case central.StateChanged:
				if !e.State.Transient() && e.State != central.StatePoweredOn {
					if e.Err != nil {
						return entries, e.Err
					}
					return entries, &central.StateError{State: e.State}
				}
			case central.Discovered:
				addDiscovery(entries, e.Peripheral, time.Now())
			}
		}
	}
}

// addDiscovery records p. The first sighting fixes the position; later
// ones refresh name, RSSI and last-seen time.
func addDiscovery(entries *orderedmap.OrderedMap[string, *scanEntry], p central.Peripheral, now time.Time) {
	if e, ok := entries.Get(p.Address); ok {
		if p.Name != "" {
			e.Name = p.Name
		}
		e.RSSI = p.RSSI
		e.Connectable = p.Connectable
		e.Seen++
		e.LastSeen = now
		return
	}
	entries.Set(p.Address, &scanEntry{Peripheral: p, Seen: 1, LastSeen: now})
}

func writeScanTable(w io.Writer, entries *orderedmap.OrderedMap[string, *scanEntry], armName string) error {
	if entries.Len() == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	highlight := color.New(color.FgGreen, color.Bold).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSEEN")

	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		e := pair.Value
		name := e.Name
		if name == "" {
			name = "(unknown)"
		}
		if r := []rune(name); len(r) > 20 {
			name = string(r[:17]) + "..."
		}
		if e.Name != "" && e.Name == armName {
			name = highlight(name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%d\n", name, e.Address, e.RSSI, e.Seen)
	}
	return tw.Flush()
}

func writeScanJSON(w io.Writer, entries *orderedmap.OrderedMap[string, *scanEntry]) error {
	list := make([]*scanEntry, 0, entries.Len())
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(list)
}
