package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bandlink/internal/link"
	"github.com/srg/bandlink/internal/pipeline"
	"github.com/srg/bandlink/internal/recorder"
	"github.com/srg/bandlink/internal/sensor"
	"github.com/srg/bandlink/internal/transport/goble"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream <device-address>",
	Short: "Connect to a band and stream readings",
	Long: `Connects to a band, enables the selected sensors and streams decoded
readings until interrupted.

Batching:
  --collect regroups a sensor's stream into batches, either by duration
  or by sample count. Without a collect spec a sensor streams
  latest-value only.

Examples:
  # Stream EEG and battery, print every reading
  bandlink stream AA:BB:CC:DD:EE:FF --sensors eeg,battery

  # Batch EEG per second and PPG per 50 samples
  bandlink stream AA:BB:CC:DD:EE:FF --collect eeg=1s,ppg=50n

  # Record all sensors to CSV while streaming
  bandlink stream AA:BB:CC:DD:EE:FF --sensors eeg,ppg,accelerometer \
    --collect eeg=1s,ppg=1s,accelerometer=1s --record ./sessions`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

var (
	streamSensors   string
	streamCollect   string
	streamRecordDir string
	streamTimeout   time.Duration
	streamReconnect bool
	streamVerbose   bool
)

func init() {
	streamCmd.Flags().StringVar(&streamSensors, "sensors", "eeg,ppg,accelerometer,battery", "Sensors to monitor, comma-separated")
	streamCmd.Flags().StringVar(&streamCollect, "collect", "", "Batch specs, comma-separated (eeg=1s duration, ppg=50n sample count)")
	streamCmd.Flags().StringVar(&streamRecordDir, "record", "", "Record selected sensors to CSV files under this directory")
	streamCmd.Flags().DurationVar(&streamTimeout, "timeout", 30*time.Second, "Discovery and connection timeout")
	streamCmd.Flags().BoolVar(&streamReconnect, "auto-reconnect", true, "Reconnect automatically after unexpected link loss")
	streamCmd.Flags().BoolVar(&streamVerbose, "verbose", false, "Enable debug logging")
}

// parseSensorList parses the --sensors value.
func parseSensorList(csv string) ([]sensor.Type, error) {
	var out []sensor.Type
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t := sensor.Type(strings.ToLower(part))
		if !t.Valid() {
			return nil, fmt.Errorf("unknown sensor %q: use eeg, ppg, accelerometer or battery", part)
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sensors selected")
	}
	return out, nil
}

// parseCollectSpec parses one --collect entry. "eeg=1s" batches by
// duration; "ppg=50n" batches by sample count.
func parseCollectSpec(spec string) (sensor.Type, pipeline.CollectionConfig, error) {
	name, value, found := strings.Cut(spec, "=")
	if !found {
		return "", pipeline.CollectionConfig{}, fmt.Errorf("invalid collect spec %q: expected sensor=value", spec)
	}
	t := sensor.Type(strings.ToLower(strings.TrimSpace(name)))
	if !t.Valid() {
		return "", pipeline.CollectionConfig{}, fmt.Errorf("unknown sensor %q in collect spec", name)
	}
	value = strings.TrimSpace(value)

	if strings.HasSuffix(value, "n") {
		n, err := strconv.Atoi(strings.TrimSuffix(value, "n"))
		if err != nil || n <= 0 {
			return "", pipeline.CollectionConfig{}, fmt.Errorf("invalid sample count %q in collect spec", value)
		}
		return t, pipeline.CollectionConfig{Mode: pipeline.CollectBySampleCount, Samples: n}, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return "", pipeline.CollectionConfig{}, fmt.Errorf("invalid interval %q in collect spec", value)
	}
	return t, pipeline.CollectionConfig{Mode: pipeline.CollectByInterval, Interval: d}, nil
}

func runStream(cmd *cobra.Command, args []string) error {
	address := args[0]

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cfg, err := loadSensorConfig(cmd)
	if err != nil {
		return err
	}

	selected, err := parseSensorList(streamSensors)
	if err != nil {
		return err
	}
	collect := make(map[sensor.Type]pipeline.CollectionConfig)
	if streamCollect != "" {
		for _, spec := range strings.Split(streamCollect, ",") {
			t, cc, err := parseCollectSpec(strings.TrimSpace(spec))
			if err != nil {
				return err
			}
			collect[t] = cc
		}
	}

	p := pipeline.New(cfg, nil, nil, logger)
	d := pipeline.NewDispatcher(p, 0, logger)
	transport := goble.New(cfg, d, streamTimeout, logger)
	p.SetTransport(transport)

	var rec *recorder.CSVRecorder
	if streamRecordDir != "" {
		rec = recorder.NewCSV(streamRecordDir, logger)
		p.SetRecorder(rec)
	}

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	// The dispatcher runs on its own context so it outlives the
	// interrupt: shutdown still needs the consumer goroutine to run the
	// final commands. Once the pipeline is wired, every command goes
	// through d.Do; nothing below touches the core directly.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go d.Run(runCtx)
	defer d.Close()

	connected := make(chan struct{}, 1)
	setup := make(chan error, 1)
	d.Do(func(p *pipeline.Pipeline) {
		p.RegisterStateObserver(func(s link.Status) {
			printState(s)
			if s.State == link.StateConnected {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		})
		p.RegisterBatchObserver(printBatch)
		p.SelectSensors(selected...)
		p.EnableAutoReconnect(streamReconnect)
		for t, cc := range collect {
			if err := p.SetCollection(t, &cc); err != nil {
				setup <- err
				return
			}
		}
		p.SetMonitoring(true)
		setup <- nil
	})
	if err := <-setup; err != nil {
		return err
	}

	// Open enqueues the transport-availability event; the connect is
	// enqueued after it, so the machine always sees the transport come
	// up before the connect intent.
	if err := transport.Open(); err != nil {
		return err
	}
	d.Do(func(p *pipeline.Pipeline) { p.ConnectTo(address) })

	select {
	case <-connected:
	case <-time.After(streamTimeout):
		return link.ErrDeviceNotFound
	case <-ctx.Done():
		return ctx.Err()
	}

	if rec != nil {
		dir, err := rec.Start(selected, time.Now())
		if err != nil {
			d.RecordingFailed(err)
			return err
		}
		fmt.Printf("Recording to %s\n", dir)
		d.RecordingStarted(time.Now())
	}

	// Without batching, show the latest reading per sensor once a
	// second; snapshots are taken on the consumer context.
	if streamCollect == "" {
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					d.Do(func(p *pipeline.Pipeline) {
						for _, r := range p.Latest() {
							printReading(r)
						}
					})
				}
			}
		}()
	}

	<-ctx.Done()

	// Teardown on the consumer context: the recorder may only be
	// stopped once no Record call can be in flight.
	done := make(chan []string, 1)
	d.Do(func(p *pipeline.Pipeline) {
		p.SetMonitoring(false)
		var files []string
		if rec != nil {
			var err error
			files, err = rec.Stop()
			if err != nil {
				p.RecordingFailed(err)
			} else if p.IsRecording() {
				p.RecordingStopped(time.Now(), files)
			}
		}
		p.DisconnectDevice()
		done <- files
	})
	select {
	case files := <-done:
		for _, f := range files {
			fmt.Printf("Wrote %s\n", f)
		}
	case <-time.After(5 * time.Second):
		logger.Warn("Teardown did not complete in time")
	}
	return nil
}

var (
	stateColor = color.New(color.FgCyan)
	batchColor = color.New(color.FgGreen)
)

func printState(s link.Status) {
	switch s.State {
	case link.StateFailed:
		color.New(color.FgRed).Printf("link: %s (%v)\n", s.State, s.Err)
	case link.StateConnected, link.StateReconnecting:
		stateColor.Printf("link: %s %s\n", s.State, s.DeviceID)
	default:
		stateColor.Printf("link: %s\n", s.State)
	}
}

// accelGravity separates gravity from motion in the displayed
// accelerometer stream. Only touched from the dispatcher's consumer
// goroutine.
var accelGravity = sensor.NewGravityFilter(sensor.DefaultGravityAlpha)

func printReading(r sensor.Reading) {
	switch v := r.(type) {
	case sensor.EEGReading:
		fmt.Printf("eeg  t=%.4f ch1=%.2fµV ch2=%.2fµV lead_off=%v\n", v.Timestamp, v.Channel1uV, v.Channel2uV, v.LeadOff)
	case sensor.PPGReading:
		fmt.Printf("ppg  t=%.4f red=%d ir=%d\n", v.Timestamp, v.Red, v.Infrared)
	case sensor.AccelReading:
		_, motion := accelGravity.Update(v)
		fmt.Printf("acc  t=%.4f x=%d y=%d z=%d motion=(%.1f %.1f %.1f)\n",
			v.Timestamp, v.X, v.Y, v.Z, motion.X, motion.Y, motion.Z)
	case sensor.BatteryReading:
		fmt.Printf("bat  t=%.4f level=%d%%\n", v.Timestamp, v.Level)
	}
}

func printBatch(t sensor.Type, readings []sensor.Reading) {
	if len(readings) == 0 {
		return
	}
	first, last := readings[0].Time(), readings[len(readings)-1].Time()
	batchColor.Printf("%s: %d samples  %.4fs..%.4fs\n", t, len(readings), first, last)
}
