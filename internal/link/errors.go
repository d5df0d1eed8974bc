package link

import "fmt"

// FailureKind classifies a connection-level failure.
type FailureKind string

const (
	BluetoothUnavailable FailureKind = "bluetooth_unavailable"
	DeviceNotFound       FailureKind = "device_not_found"
	ConnectionFailed     FailureKind = "connection_failed"
)

// LinkError represents any connection-related failure.
type LinkError struct {
	Kind FailureKind
	Msg  string
}

// Error implements the error interface
func (e *LinkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare LinkError values by Kind
func (e *LinkError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*LinkError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for failure kinds
var (
	ErrBluetoothUnavailable = &LinkError{Kind: BluetoothUnavailable}
	ErrDeviceNotFound       = &LinkError{Kind: DeviceNotFound}
	ErrConnectionFailed     = &LinkError{Kind: ConnectionFailed}
)

// connectionFailed wraps a transport error into the taxonomy.
func connectionFailed(err error) *LinkError {
	if err == nil {
		return &LinkError{Kind: ConnectionFailed}
	}
	return &LinkError{Kind: ConnectionFailed, Msg: err.Error()}
}
