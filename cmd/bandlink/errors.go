package main

import (
	"errors"

	"github.com/srg/bandlink/internal/link"
)

// FormatUserError maps internal error values to actionable messages for
// terminal output.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, link.ErrBluetoothUnavailable):
		return "Bluetooth is unavailable - enable Bluetooth and retry"
	case errors.Is(err, link.ErrDeviceNotFound):
		return "device not found - check that the band is powered on and in range"
	case errors.Is(err, link.ErrConnectionFailed):
		return "connection failed: " + err.Error()
	default:
		return err.Error()
	}
}
