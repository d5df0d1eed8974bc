package pipeline

import (
	"time"

	"github.com/srg/bandlink/internal/sensor"
)

// Transport is the outbound half of the BLE collaborator: the commands
// the core issues. It embeds link.Commander's surface plus notification
// arming; the core never touches GATT primitives beyond this.
type Transport interface {
	StartScan() error
	StopScan() error
	Connect(id string) error
	Disconnect(id string) error
	SetNotify(characteristic string, enabled bool) error
}

// Events is the inbound half of the transport collaborator. The
// embedding application must invoke these from one serialized context;
// the Dispatcher provides that context for transports that deliver
// callbacks from their own goroutines.
type Events interface {
	DeviceDiscovered(id, name string, rssi int)
	Connected(id string)
	ConnectFailed(id string, err error)
	Disconnected(id string, err error)
	CharacteristicValue(characteristic string, data []byte)
	TransportState(available bool)
}

// Recorder consumes individual readings while a recording session is
// active. A Record failure is surfaced through the recording-failed
// path and never stops the connection or batching.
type Recorder interface {
	Record(t sensor.Type, r sensor.Reading) error
}

// RecordingFiles is the file list reported when a session stops.
type RecordingFiles []string

// Acks are the recorder acknowledgements the pipeline consumes to track
// the recording flag.
type Acks interface {
	RecordingStarted(at time.Time)
	RecordingStopped(at time.Time, files RecordingFiles)
	RecordingFailed(err error)
}
