package sensor_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bandlink/internal/sensor"
)

func TestDefaultConfig(t *testing.T) {
	// GOAL: Verify the built-in defaults describe the LXB-4 hardware
	//
	// TEST SCENARIO: Construct defaults → check the decode constants

	cfg := sensor.DefaultConfig()

	assert.Equal(t, "LXB", cfg.DeviceNamePrefix)
	assert.True(t, cfg.AutoReconnect)
	assert.Equal(t, 250.0, cfg.EEGSampleRate)
	assert.Equal(t, 50.0, cfg.PPGSampleRate)
	assert.Equal(t, 25.0, cfg.AccelSampleRate)
	assert.Equal(t, 32.768, cfg.TimestampDivisor)
	assert.Equal(t, 4, cfg.HeaderSize)
	assert.Equal(t, 7, cfg.EEGSampleSize)
	assert.Equal(t, 6, cfg.PPGSampleSize)
	assert.Equal(t, 6, cfg.AccelSampleSize)
	assert.Equal(t, 4.033, cfg.EEGVoltageReference)
	assert.Equal(t, 12.0, cfg.EEGGain)
	assert.Equal(t, 8388607.0, cfg.EEGADCResolution)
	assert.Equal(t, 1000000.0, cfg.EEGMicrovoltMultiplier)
	assert.Equal(t, int32(4194303), cfg.PPGMaxValue)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	// GOAL: Verify yaml files overlay the defaults instead of replacing them
	//
	// TEST SCENARIO: Write a partial yaml → load → named keys change, the rest stay default

	t.Run("partial overlay", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "band.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"device_name_prefix: NXB\neeg_sample_rate: 500\n"), 0o644))

		cfg, err := sensor.LoadConfig(path)

		require.NoError(t, err)
		assert.Equal(t, "NXB", cfg.DeviceNamePrefix)
		assert.Equal(t, 500.0, cfg.EEGSampleRate)
		assert.Equal(t, 50.0, cfg.PPGSampleRate, "unnamed keys MUST keep their defaults")
		assert.Equal(t, 4.033, cfg.EEGVoltageReference)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := sensor.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "band.yaml")
		require.NoError(t, os.WriteFile(path, []byte("eeg_sample_rate: [oops\n"), 0o644))

		_, err := sensor.LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("degenerate values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "band.yaml")
		require.NoError(t, os.WriteFile(path, []byte("eeg_sample_rate: -1\n"), 0o644))

		_, err := sensor.LoadConfig(path)
		assert.Error(t, err, "validation MUST reject non-positive sample rates")
	})
}

func TestSampleAccessors(t *testing.T) {
	// GOAL: Verify per-sensor rate and wire-size lookups
	//
	// TEST SCENARIO: Query each sensor type → expected constant

	cfg := sensor.DefaultConfig()

	assert.Equal(t, 250.0, cfg.SampleRate(sensor.EEG))
	assert.Equal(t, 0.0, cfg.SampleRate(sensor.Battery), "battery has no nominal rate")
	assert.Equal(t, 7, cfg.SampleSize(sensor.EEG))
	assert.Equal(t, 6, cfg.SampleSize(sensor.PPG))
	assert.Equal(t, 6, cfg.SampleSize(sensor.Accelerometer))
	assert.Equal(t, 1, cfg.SampleSize(sensor.Battery))
}

func TestTypeValidity(t *testing.T) {
	// GOAL: Verify the sensor type enumeration
	//
	// TEST SCENARIO: Known and unknown names → Valid()

	for _, typ := range sensor.Types() {
		assert.True(t, typ.Valid(), "%s MUST be valid", typ)
	}
	assert.False(t, sensor.Type("thermometer").Valid())
	assert.Len(t, sensor.Types(), 4)
}
