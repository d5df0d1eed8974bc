// Package link owns the connection lifecycle: a single-threaded state
// machine that applies transport events and user intents, and decides
// when to re-issue connect requests for auto-reconnect.
//
// The machine never blocks and never panics on unexpected input:
// transitions are total functions of (current state, event), and
// undefined combinations are no-ops. All methods must be invoked from
// the same serialized context as the rest of the core.
package link

import (
	"github.com/sirupsen/logrus"
)

// State names the mutually exclusive link states. Exactly one is active
// at a time.
type State string

const (
	StateDisconnected State = "disconnected"
	StateScanning     State = "scanning"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Status is an immutable snapshot of the machine. DeviceID is set for
// Connecting, Connected and Reconnecting; Err is set for Failed.
type Status struct {
	State    State
	DeviceID string
	Err      error
}

// Commander issues the transport requests the machine decides on. The
// concrete transport implements it; tests use a fake.
type Commander interface {
	StartScan() error
	StopScan() error
	Connect(id string) error
	Disconnect(id string) error
}

// Machine is the connection state machine. It owns the current link
// state exclusively; everything else reads snapshots via Status().
type Machine struct {
	status         Status
	autoReconnect  bool
	lastDevice     string
	userDisconnect bool // latch: set before issuing a manual disconnect, cleared when the disconnect event is observed
	transportReady bool

	commander Commander
	logger    *logrus.Logger
	onChange  func(Status)
}

// NewMachine creates a machine in the Disconnected state. onChange, if
// non-nil, is invoked after every state transition with the new status.
func NewMachine(commander Commander, autoReconnect bool, logger *logrus.Logger, onChange func(Status)) *Machine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Machine{
		status:        Status{State: StateDisconnected},
		autoReconnect: autoReconnect,
		commander:     commander,
		logger:        logger,
		onChange:      onChange,
	}
}

// Status returns the current snapshot.
func (m *Machine) Status() Status { return m.status }

// AutoReconnect reports the current auto-reconnect policy.
func (m *Machine) AutoReconnect() bool { return m.autoReconnect }

// LastDevice returns the identifier of the last device a connect was
// requested for, or "" if none.
func (m *Machine) LastDevice() string { return m.lastDevice }

func (m *Machine) transition(next Status) {
	m.logger.WithFields(logrus.Fields{
		"from":   m.status.State,
		"to":     next.State,
		"device": next.DeviceID,
	}).Debug("Link state transition")
	m.status = next
	if m.onChange != nil {
		m.onChange(next)
	}
}

// StartScan moves Disconnected (or Failed, for a retry) to Scanning, or
// to Failed when the transport is unavailable.
func (m *Machine) StartScan() {
	switch m.status.State {
	case StateDisconnected, StateFailed:
	default:
		return
	}
	if !m.transportReady {
		m.transition(Status{State: StateFailed, Err: ErrBluetoothUnavailable})
		return
	}
	if err := m.commander.StartScan(); err != nil {
		m.transition(Status{State: StateFailed, Err: connectionFailed(err)})
		return
	}
	m.transition(Status{State: StateScanning})
}

// StopScan ends an active scan without connecting.
func (m *Machine) StopScan() {
	if m.status.State != StateScanning {
		return
	}
	if err := m.commander.StopScan(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to stop scan")
	}
	m.transition(Status{State: StateDisconnected})
}

// RequestConnect applies the user's connect intent to a discovered
// device. Only valid while Scanning.
func (m *Machine) RequestConnect(id string) {
	if m.status.State != StateScanning {
		return
	}
	if err := m.commander.StopScan(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to stop scan before connect")
	}
	m.lastDevice = id
	m.transition(Status{State: StateConnecting, DeviceID: id})
	if err := m.commander.Connect(id); err != nil {
		m.transition(Status{State: StateFailed, Err: connectionFailed(err)})
	}
}

// RequestDisconnect applies the user's disconnect intent. The latch is
// set before the transport call so the resulting disconnect event is
// recognized as expected.
func (m *Machine) RequestDisconnect() {
	switch m.status.State {
	case StateConnected, StateConnecting, StateReconnecting:
	default:
		return
	}
	id := m.status.DeviceID
	m.userDisconnect = true
	if err := m.commander.Disconnect(id); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device": id,
			"error":  err,
		}).Warn("Transport disconnect failed")
	}
	m.transition(Status{State: StateDisconnected})
}

// HandleConnected applies a transport connect success. A successful
// connect ends any pending manual-disconnect episode: transports are
// not required to deliver a disconnect event for a manual cancel, so
// the latch must not survive into the new connection.
func (m *Machine) HandleConnected(id string) {
	switch m.status.State {
	case StateConnecting, StateReconnecting:
		if m.status.DeviceID != "" && m.status.DeviceID != id {
			return
		}
		m.userDisconnect = false
		m.transition(Status{State: StateConnected, DeviceID: id})
	}
}

// HandleConnectFailed applies a transport connect failure.
func (m *Machine) HandleConnectFailed(id string, err error) {
	switch m.status.State {
	case StateConnecting, StateReconnecting:
		if m.status.DeviceID != "" && m.status.DeviceID != id {
			return
		}
		m.transition(Status{State: StateFailed, Err: connectionFailed(err)})
	}
}

// HandleDisconnected applies a transport disconnect event. Whether the
// disconnect was expected is not inferable from the event alone, so the
// user-disconnect latch decides: an unexpected disconnect with
// auto-reconnect enabled immediately re-issues a connect to the same
// device; with auto-reconnect disabled it settles in Disconnected.
func (m *Machine) HandleDisconnected(id string, err error) {
	if m.userDisconnect {
		m.userDisconnect = false
		if m.status.State != StateDisconnected {
			m.transition(Status{State: StateDisconnected})
		}
		return
	}
	if m.status.State != StateConnected {
		return
	}
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"device": id,
			"error":  err,
		}).Warn("Unexpected disconnect")
	}
	if m.autoReconnect && m.lastDevice != "" {
		m.transition(Status{State: StateReconnecting, DeviceID: m.lastDevice})
		if cerr := m.commander.Connect(m.lastDevice); cerr != nil {
			m.transition(Status{State: StateFailed, Err: connectionFailed(cerr)})
		}
		return
	}
	m.transition(Status{State: StateDisconnected})
}

// SetAutoReconnect toggles the reconnect policy. Turning it off while a
// reconnect is pending cancels the in-flight attempt; turning it on
// while disconnected with a remembered device immediately attempts
// reconnection if the transport is ready.
func (m *Machine) SetAutoReconnect(enabled bool) {
	m.autoReconnect = enabled
	if !enabled && m.status.State == StateReconnecting {
		if err := m.commander.Disconnect(m.status.DeviceID); err != nil {
			m.logger.WithField("error", err).Warn("Failed to cancel pending reconnect")
		}
		m.transition(Status{State: StateDisconnected})
		return
	}
	if enabled && m.status.State == StateDisconnected && m.lastDevice != "" && m.transportReady {
		m.transition(Status{State: StateReconnecting, DeviceID: m.lastDevice})
		if err := m.commander.Connect(m.lastDevice); err != nil {
			m.transition(Status{State: StateFailed, Err: connectionFailed(err)})
		}
	}
}

// SetTransportAvailable applies transport power/authorization changes.
// Loss of the transport fails any in-progress operation from any state;
// recovery returns the machine to Disconnected so it can be driven
// again.
func (m *Machine) SetTransportAvailable(available bool) {
	m.transportReady = available
	if !available {
		if m.status.State == StateFailed && m.status.Err == ErrBluetoothUnavailable {
			return
		}
		m.transition(Status{State: StateFailed, Err: ErrBluetoothUnavailable})
		return
	}
	if m.status.State == StateFailed && m.status.Err == ErrBluetoothUnavailable {
		m.transition(Status{State: StateDisconnected})
	}
}
