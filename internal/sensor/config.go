package sensor

import (
	"fmt"
	"os"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config carries the hardware constants that parameterize packet
// decoding. It is constructed once and treated as immutable afterwards;
// all numeric decode formulas take their factors from here so a
// different hardware revision only needs a different config file.
//
// Defaults describe the LXB-4 revision of the band.
type Config struct {
	// DeviceNamePrefix filters advertisements during scanning.
	DeviceNamePrefix string `yaml:"device_name_prefix" default:"LXB"`
	// AutoReconnect is the initial auto-reconnect policy.
	AutoReconnect bool `yaml:"auto_reconnect" default:"true"`

	// Sample rates in Hz. Successive samples within one packet are
	// spaced 1/rate seconds apart.
	EEGSampleRate   float64 `yaml:"eeg_sample_rate" default:"250"`
	PPGSampleRate   float64 `yaml:"ppg_sample_rate" default:"50"`
	AccelSampleRate float64 `yaml:"accelerometer_sample_rate" default:"25"`

	// The 4-byte packet header is an on-device counter; base timestamp
	// in seconds is counter / TimestampDivisor / MillisPerSecond.
	TimestampDivisor float64 `yaml:"timestamp_divisor" default:"32.768"`
	MillisPerSecond  float64 `yaml:"millis_per_second" default:"1000"`

	// Wire sizes in bytes.
	HeaderSize      int `yaml:"header_size" default:"4"`
	EEGSampleSize   int `yaml:"eeg_sample_size" default:"7"`
	PPGSampleSize   int `yaml:"ppg_sample_size" default:"6"`
	AccelSampleSize int `yaml:"accelerometer_sample_size" default:"6"`

	// EEG analog front-end constants. Raw ADC counts convert to
	// microvolts as raw * Vref / gain / resolution * multiplier.
	EEGVoltageReference    float64 `yaml:"eeg_voltage_reference" default:"4.033"`
	EEGGain                float64 `yaml:"eeg_gain" default:"12.0"`
	EEGADCResolution       float64 `yaml:"eeg_adc_resolution" default:"8388607"`
	EEGMicrovoltMultiplier float64 `yaml:"eeg_microvolt_multiplier" default:"1000000"`

	// Plausibility bounds. A decoded value outside these drops the
	// whole payload with an invalid-sample-bounds parse error.
	EEGValidRangeuV float64 `yaml:"eeg_valid_range_uv" default:"200000"`
	PPGMaxValue     int32   `yaml:"ppg_max_value" default:"4194303"`
}

// DefaultConfig returns the LXB-4 configuration.
func DefaultConfig() *Config {
	c := new(Config)
	defaults.SetDefaults(c)
	return c
}

// LoadConfig reads a yaml config file on top of the defaults, so a file
// only needs to mention the constants that differ from LXB-4.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse sensor config %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sensor config %q: %w", path, err)
	}
	return c, nil
}

// Validate rejects configs that would make decode formulas degenerate.
func (c *Config) Validate() error {
	if c.EEGSampleRate <= 0 || c.PPGSampleRate <= 0 || c.AccelSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.TimestampDivisor <= 0 || c.MillisPerSecond <= 0 {
		return fmt.Errorf("timestamp factors must be positive")
	}
	if c.HeaderSize <= 0 || c.EEGSampleSize <= 0 || c.PPGSampleSize <= 0 || c.AccelSampleSize <= 0 {
		return fmt.Errorf("wire sizes must be positive")
	}
	if c.EEGGain == 0 || c.EEGADCResolution == 0 {
		return fmt.Errorf("EEG gain and ADC resolution must be nonzero")
	}
	return nil
}

// SampleRate returns the nominal rate for a timestamped stream, or 0
// for battery which carries no on-device timestamps.
func (c *Config) SampleRate(t Type) float64 {
	switch t {
	case EEG:
		return c.EEGSampleRate
	case PPG:
		return c.PPGSampleRate
	case Accelerometer:
		return c.AccelSampleRate
	}
	return 0
}

// SampleSize returns the per-sample wire size in bytes. Battery packets
// are a single byte with no header.
func (c *Config) SampleSize(t Type) int {
	switch t {
	case EEG:
		return c.EEGSampleSize
	case PPG:
		return c.PPGSampleSize
	case Accelerometer:
		return c.AccelSampleSize
	case Battery:
		return 1
	}
	return 0
}
