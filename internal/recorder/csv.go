// Package recorder writes selected sensor readings to per-sensor CSV
// files. It is a collaborator of the pipeline, not part of the core:
// failures surface through the recording acknowledgements and never
// stop the connection or batching.
package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bandlink/internal/sensor"
)

// csvHeaders per sensor stream.
var csvHeaders = map[sensor.Type][]string{
	sensor.EEG:           {"timestamp", "channel1_uv", "channel2_uv", "channel1_raw", "channel2_raw", "lead_off"},
	sensor.PPG:           {"timestamp", "red", "infrared"},
	sensor.Accelerometer: {"timestamp", "x", "y", "z"},
	sensor.Battery:       {"timestamp", "level_percent"},
}

type sensorFile struct {
	path string
	f    *os.File
	w    *csv.Writer
}

// CSVRecorder writes one CSV file per recorded sensor into a
// timestamped session directory. The file table preserves creation
// order so the reported file list is deterministic.
type CSVRecorder struct {
	baseDir string
	logger  *logrus.Logger

	files  *orderedmap.OrderedMap[sensor.Type, *sensorFile]
	active bool
}

// NewCSV creates a recorder rooted at baseDir. Each Start creates a
// fresh session directory underneath it.
func NewCSV(baseDir string, logger *logrus.Logger) *CSVRecorder {
	if logger == nil {
		logger = logrus.New()
	}
	return &CSVRecorder{baseDir: baseDir, logger: logger}
}

// Start opens a session for the given sensors. Returns the session
// directory path.
func (r *CSVRecorder) Start(types []sensor.Type, at time.Time) (string, error) {
	if r.active {
		return "", fmt.Errorf("recording session already active")
	}
	dir := filepath.Join(r.baseDir, at.Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	r.files = orderedmap.New[sensor.Type, *sensorFile]()
	for _, t := range types {
		header, ok := csvHeaders[t]
		if !ok {
			continue
		}
		path := filepath.Join(dir, string(t)+".csv")
		f, err := os.Create(path)
		if err != nil {
			r.closeAll()
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			f.Close()
			r.closeAll()
			return "", fmt.Errorf("failed to write header for %s: %w", t, err)
		}
		r.files.Set(t, &sensorFile{path: path, f: f, w: w})
	}
	r.active = true
	r.logger.WithFields(logrus.Fields{
		"dir":     dir,
		"sensors": len(types),
	}).Info("Recording session opened")
	return dir, nil
}

// Record appends one reading to the sensor's file.
func (r *CSVRecorder) Record(t sensor.Type, rd sensor.Reading) error {
	if !r.active {
		return fmt.Errorf("no active recording session")
	}
	sf, ok := r.files.Get(t)
	if !ok {
		// Sensor was not part of the session (battery arrives even
		// when not selected); ignore silently.
		return nil
	}
	row := formatRow(rd)
	if row == nil {
		return fmt.Errorf("no CSV mapping for reading of type %s", t)
	}
	if err := sf.w.Write(row); err != nil {
		return fmt.Errorf("failed to append %s row: %w", t, err)
	}
	return nil
}

// Stop flushes and closes every file and returns their paths in
// creation order.
func (r *CSVRecorder) Stop() ([]string, error) {
	if !r.active {
		return nil, fmt.Errorf("no active recording session")
	}
	r.active = false

	var paths []string
	var firstErr error
	for pair := r.files.Oldest(); pair != nil; pair = pair.Next() {
		sf := pair.Value
		sf.w.Flush()
		if err := sf.w.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to flush %s: %w", sf.path, err)
		}
		if err := sf.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", sf.path, err)
		}
		paths = append(paths, sf.path)
	}
	r.files = nil
	return paths, firstErr
}

func (r *CSVRecorder) closeAll() {
	if r.files == nil {
		return
	}
	for pair := r.files.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.f.Close()
	}
	r.files = nil
}

func formatRow(rd sensor.Reading) []string {
	ts := strconv.FormatFloat(rd.Time(), 'f', -1, 64)
	switch v := rd.(type) {
	case sensor.EEGReading:
		return []string{
			ts,
			strconv.FormatFloat(v.Channel1uV, 'f', -1, 64),
			strconv.FormatFloat(v.Channel2uV, 'f', -1, 64),
			strconv.FormatInt(int64(v.Channel1Raw), 10),
			strconv.FormatInt(int64(v.Channel2Raw), 10),
			strconv.FormatBool(v.LeadOff),
		}
	case sensor.PPGReading:
		return []string{
			ts,
			strconv.FormatInt(int64(v.Red), 10),
			strconv.FormatInt(int64(v.Infrared), 10),
		}
	case sensor.AccelReading:
		return []string{
			ts,
			strconv.FormatInt(int64(v.X), 10),
			strconv.FormatInt(int64(v.Y), 10),
			strconv.FormatInt(int64(v.Z), 10),
		}
	case sensor.BatteryReading:
		return []string{ts, strconv.FormatUint(uint64(v.Level), 10)}
	}
	return nil
}
