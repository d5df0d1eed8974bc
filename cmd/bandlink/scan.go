package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bandlink/internal/pipeline"
	"github.com/srg/bandlink/internal/sensor"
	"github.com/srg/bandlink/internal/transport/goble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for bands",
	Long: `Scan for nearby bands and display their names, addresses and
signal strength.

Advertisements are filtered by the configured device-name prefix; use
--all to list every BLE device in range.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
	scanVerbose  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Ignore the device-name prefix filter")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

// loadSensorConfig resolves the --config flag into a hardware config.
func loadSensorConfig(cmd *cobra.Command) (*sensor.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return sensor.DefaultConfig(), nil
	}
	return sensor.LoadConfig(path)
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q: use table or json", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cfg, err := loadSensorConfig(cmd)
	if err != nil {
		return err
	}
	if scanAll {
		cfg.DeviceNamePrefix = ""
	}

	p := pipeline.New(cfg, nil, nil, logger)
	d := pipeline.NewDispatcher(p, 0, logger)
	transport := goble.New(cfg, d, 0, logger)
	p.SetTransport(transport)

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	// The dispatcher runs on its own context so the final snapshot can
	// still be taken after an interrupt.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go d.Run(runCtx)
	defer d.Close()

	if err := transport.Open(); err != nil {
		return err
	}
	if err := transport.StartScan(); err != nil {
		return err
	}

	progress := NewProgressPrinter("Scanning...", scanDuration)
	progress.Start()
	select {
	case <-ctx.Done():
	case <-time.After(scanDuration):
	}
	progress.Stop()
	_ = transport.StopScan()

	// Snapshot on the consumer context so trailing discoveries queued
	// before the stop are included
	snap := make(chan []pipeline.DiscoveredDevice, 1)
	d.Do(func(p *pipeline.Pipeline) { snap <- p.Discovered() })
	var devices []pipeline.DiscoveredDevice
	select {
	case devices = <-snap:
	case <-time.After(time.Second):
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].RSSI > devices[j].RSSI })

	if scanFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}
	return printDeviceTable(devices)
}

func printDeviceTable(devices []pipeline.DiscoveredDevice) error {
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}
	bold := color.New(color.Bold)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	bold.Fprintln(w, "NAME\tADDRESS\tRSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", name, d.ID, d.RSSI)
	}
	return w.Flush()
}
