// Package parser decodes the band's raw characteristic payloads into
// typed readings. Decoding is a deterministic pure function of the
// payload bytes and the sensor configuration; the only ambient input is
// the receipt clock used to stamp battery packets, which carry no
// on-device timestamp.
package parser

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/srg/bandlink/internal/sensor"
)

// Parser decodes raw payloads for one hardware configuration.
type Parser struct {
	cfg *sensor.Config

	// Now stamps battery readings with receipt time. Overridable in
	// tests.
	Now func() time.Time
}

// New creates a parser for the given hardware configuration.
func New(cfg *sensor.Config) *Parser {
	return &Parser{cfg: cfg, Now: time.Now}
}

// Parse decodes one characteristic payload into the ordered readings it
// carries. If the payload carries fewer whole samples than the nominal
// packet size implies, only the whole samples present are decoded and a
// trailing partial sample is ignored; Parse never reads past the buffer
// end.
func (p *Parser) Parse(t sensor.Type, data []byte) ([]sensor.Reading, error) {
	switch t {
	case sensor.EEG:
		return p.parseEEG(data)
	case sensor.PPG:
		return p.parsePPG(data)
	case sensor.Accelerometer:
		return p.parseAccel(data)
	case sensor.Battery:
		return p.parseBattery(data)
	default:
		return nil, fmt.Errorf("unknown sensor type %q", t)
	}
}

// baseTimestamp reconstructs the packet's base timestamp in seconds
// from the little-endian counter header.
func (p *Parser) baseTimestamp(data []byte) float64 {
	counter := binary.LittleEndian.Uint32(data[:4])
	return float64(counter) / p.cfg.TimestampDivisor / p.cfg.MillisPerSecond
}

// wholeSamples validates the minimum payload length and returns the
// number of whole samples present after the header.
func (p *Parser) wholeSamples(t sensor.Type, data []byte) (int, error) {
	sampleSize := p.cfg.SampleSize(t)
	need := p.cfg.HeaderSize + sampleSize
	if len(data) < need {
		return 0, tooShort(t, len(data), need)
	}
	return (len(data) - p.cfg.HeaderSize) / sampleSize, nil
}

// parseEEG decodes 7-byte EEG samples: one lead-off flag byte followed
// by two 24-bit big-endian two's-complement channel values.
func (p *Parser) parseEEG(data []byte) ([]sensor.Reading, error) {
	n, err := p.wholeSamples(sensor.EEG, data)
	if err != nil {
		return nil, err
	}
	base := p.baseTimestamp(data)

	readings := make([]sensor.Reading, 0, n)
	for i := 0; i < n; i++ {
		off := p.cfg.HeaderSize + i*p.cfg.EEGSampleSize
		leadOff := data[off] != 0
		raw1 := int24BE(data[off+1 : off+4])
		raw2 := int24BE(data[off+4 : off+7])
		ch1 := p.microvolts(raw1)
		ch2 := p.microvolts(raw2)
		if math.Abs(ch1) > p.cfg.EEGValidRangeuV || math.Abs(ch2) > p.cfg.EEGValidRangeuV {
			return nil, outOfBounds(sensor.EEG,
				fmt.Sprintf("sample %d outside ±%gµV", i, p.cfg.EEGValidRangeuV))
		}
		readings = append(readings, sensor.EEGReading{
			Channel1uV:  ch1,
			Channel2uV:  ch2,
			Channel1Raw: raw1,
			Channel2Raw: raw2,
			LeadOff:     leadOff,
			Timestamp:   base + float64(i)/p.cfg.EEGSampleRate,
		})
	}
	return readings, nil
}

// parsePPG decodes 6-byte PPG samples: two unsigned 24-bit big-endian
// LED counts (red, infrared), no sign extension.
func (p *Parser) parsePPG(data []byte) ([]sensor.Reading, error) {
	n, err := p.wholeSamples(sensor.PPG, data)
	if err != nil {
		return nil, err
	}
	base := p.baseTimestamp(data)

	readings := make([]sensor.Reading, 0, n)
	for i := 0; i < n; i++ {
		off := p.cfg.HeaderSize + i*p.cfg.PPGSampleSize
		red := uint24BE(data[off : off+3])
		infrared := uint24BE(data[off+3 : off+6])
		if red > p.cfg.PPGMaxValue || infrared > p.cfg.PPGMaxValue {
			return nil, outOfBounds(sensor.PPG,
				fmt.Sprintf("sample %d above max %d", i, p.cfg.PPGMaxValue))
		}
		readings = append(readings, sensor.PPGReading{
			Red:       red,
			Infrared:  infrared,
			Timestamp: base + float64(i)/p.cfg.PPGSampleRate,
		})
	}
	return readings, nil
}

// parseAccel decodes 6-byte accelerometer samples. The firmware packs
// each axis into a 2-byte slot but only the first byte of each slot
// carries data: a single unsigned byte per axis, widened without sign
// extension. This looks like a reduced-precision hardware mode; confirm
// against the hardware sheet before widening to full 16-bit values,
// since widening changes every recorded value.
func (p *Parser) parseAccel(data []byte) ([]sensor.Reading, error) {
	n, err := p.wholeSamples(sensor.Accelerometer, data)
	if err != nil {
		return nil, err
	}
	base := p.baseTimestamp(data)

	readings := make([]sensor.Reading, 0, n)
	for i := 0; i < n; i++ {
		off := p.cfg.HeaderSize + i*p.cfg.AccelSampleSize
		readings = append(readings, sensor.AccelReading{
			X:         int16(data[off]),
			Y:         int16(data[off+2]),
			Z:         int16(data[off+4]),
			Timestamp: base + float64(i)/p.cfg.AccelSampleRate,
		})
	}
	return readings, nil
}

// parseBattery decodes the single-byte battery level packet. No header,
// no counter: the reading is stamped with wall-clock receipt time.
func (p *Parser) parseBattery(data []byte) ([]sensor.Reading, error) {
	if len(data) < 1 {
		return nil, tooShort(sensor.Battery, len(data), 1)
	}
	level := data[0]
	if level > 100 {
		return nil, outOfBounds(sensor.Battery, fmt.Sprintf("level %d above 100%%", level))
	}
	ts := float64(p.Now().UnixNano()) / float64(time.Second)
	return []sensor.Reading{sensor.BatteryReading{Level: level, Timestamp: ts}}, nil
}

// uint24BE decodes an unsigned 24-bit big-endian value.
func uint24BE(b []byte) int32 {
	return int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
}

// int24BE decodes a 24-bit big-endian two's-complement value,
// sign-extending from bit 23.
func int24BE(b []byte) int32 {
	v := uint24BE(b)
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

// microvolts converts a raw EEG ADC count to microvolts.
func (p *Parser) microvolts(raw int32) float64 {
	return float64(raw) * p.cfg.EEGVoltageReference / p.cfg.EEGGain /
		p.cfg.EEGADCResolution * p.cfg.EEGMicrovoltMultiplier
}
