// Package sensor defines the band's telemetry streams: the sensor type
// enumeration, the decoded reading variants, the hardware configuration
// that parameterizes decoding, and the GATT characteristic table.
package sensor

// Type identifies one of the band's telemetry streams.
type Type string

const (
	EEG           Type = "eeg"
	PPG           Type = "ppg"
	Accelerometer Type = "accelerometer"
	Battery       Type = "battery"
)

// Types returns every stream in display order.
func Types() []Type {
	return []Type{EEG, PPG, Accelerometer, Battery}
}

// Valid reports whether t names a known stream.
func (t Type) Valid() bool {
	switch t {
	case EEG, PPG, Accelerometer, Battery:
		return true
	}
	return false
}

// Reading is implemented by every decoded sample variant.
//
// Time returns the sample's acquisition timestamp in seconds. For EEG,
// PPG and accelerometer samples it is reconstructed from the on-device
// counter embedded in the packet header; for battery it is the
// wall-clock receipt time, since the device does not timestamp battery
// packets.
type Reading interface {
	SensorType() Type
	Time() float64
}

// EEGReading is a single two-channel EEG sample in physical units.
type EEGReading struct {
	Channel1uV  float64
	Channel2uV  float64
	Channel1Raw int32
	Channel2Raw int32
	LeadOff     bool
	Timestamp   float64
}

func (r EEGReading) SensorType() Type { return EEG }
func (r EEGReading) Time() float64    { return r.Timestamp }

// PPGReading is a single photoplethysmography sample (raw LED counts).
type PPGReading struct {
	Red       int32
	Infrared  int32
	Timestamp float64
}

func (r PPGReading) SensorType() Type { return PPG }
func (r PPGReading) Time() float64    { return r.Timestamp }

// AccelReading is a single three-axis accelerometer sample.
type AccelReading struct {
	X, Y, Z   int16
	Timestamp float64
}

func (r AccelReading) SensorType() Type { return Accelerometer }
func (r AccelReading) Time() float64    { return r.Timestamp }

// BatteryReading is the battery charge level in percent.
type BatteryReading struct {
	Level     uint8
	Timestamp float64
}

func (r BatteryReading) SensorType() Type { return Battery }
func (r BatteryReading) Time() float64    { return r.Timestamp }
