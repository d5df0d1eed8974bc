package parser

import (
	"fmt"

	"github.com/srg/bandlink/internal/sensor"
)

// Kind classifies a decode failure.
type Kind string

const (
	PacketTooShort      Kind = "packet_too_short"
	InvalidSampleBounds Kind = "invalid_sample_bounds"
)

// ParseError is a typed decode failure. Parse errors are local and
// non-fatal: the owning payload is dropped and the stream continues.
type ParseError struct {
	Kind   Kind
	Sensor sensor.Type
	Msg    string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Sensor, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Sensor, e.Kind, e.Msg)
}

// Is allows errors.Is to compare ParseError values by Kind
func (e *ParseError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for decode failure kinds
var (
	ErrPacketTooShort      = &ParseError{Kind: PacketTooShort}
	ErrInvalidSampleBounds = &ParseError{Kind: InvalidSampleBounds}
)

func tooShort(t sensor.Type, got, need int) *ParseError {
	return &ParseError{
		Kind:   PacketTooShort,
		Sensor: t,
		Msg:    fmt.Sprintf("%d bytes, need at least %d", got, need),
	}
}

func outOfBounds(t sensor.Type, msg string) *ParseError {
	return &ParseError{Kind: InvalidSampleBounds, Sensor: t, Msg: msg}
}
