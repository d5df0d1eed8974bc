package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDispatchCapacity bounds the event queue. Telemetry payloads
// arrive at notification rate; the queue must absorb bursts between
// consumer ticks without growing unbounded.
const DefaultDispatchCapacity = 256

// Dispatcher marshals transport callbacks and recorder acknowledgements
// onto the pipeline's single consumer context. Transport adapters call
// the Events/Acks methods from any goroutine; exactly one goroutine
// runs Run, which replays the events in arrival order against the
// pipeline.
//
// Dispatcher is the only concurrency primitive around the core: the
// pipeline itself stays single-threaded and testable without any
// scheduler.
type Dispatcher struct {
	p      *Pipeline
	queue  *RingChannel[func()]
	logger *logrus.Logger
}

// NewDispatcher creates a dispatcher for the given pipeline.
func NewDispatcher(p *Pipeline, capacity int, logger *logrus.Logger) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultDispatchCapacity
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		p:      p,
		queue:  NewRingChannel[func()](capacity),
		logger: logger,
	}
}

// Run consumes queued events until ctx is cancelled or Close is called.
// It must be the only goroutine invoking pipeline methods.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue.C():
			if !ok {
				return
			}
			ev()
		}
	}
}

// Close stops the dispatcher after the queue drains.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

// Overwritten reports how many events were discarded under backpressure.
func (d *Dispatcher) Overwritten() uint64 {
	return d.queue.Overwritten()
}

// Do enqueues fn onto the consumer context. Consumers use it to read
// consistent pipeline snapshots (latest readings, status) without
// racing the event stream.
func (d *Dispatcher) Do(fn func(p *Pipeline)) {
	d.queue.Send(func() { fn(d.p) })
}

// ----------------------------
// Events (transport side)
// ----------------------------

func (d *Dispatcher) DeviceDiscovered(id, name string, rssi int) {
	d.queue.Send(func() { d.p.HandleDeviceDiscovered(id, name, rssi) })
}

func (d *Dispatcher) Connected(id string) {
	d.queue.Send(func() { d.p.HandleConnected(id) })
}

func (d *Dispatcher) ConnectFailed(id string, err error) {
	d.queue.Send(func() { d.p.HandleConnectFailed(id, err) })
}

func (d *Dispatcher) Disconnected(id string, err error) {
	d.queue.Send(func() { d.p.HandleDisconnected(id, err) })
}

// CharacteristicValue copies data before enqueueing: BLE libraries
// reuse notification buffers, so the bytes are only valid during the
// callback.
func (d *Dispatcher) CharacteristicValue(characteristic string, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	d.queue.Send(func() { d.p.HandleCharacteristicValue(characteristic, buf) })
}

func (d *Dispatcher) TransportState(available bool) {
	d.queue.Send(func() { d.p.HandleTransportState(available) })
}

// ----------------------------
// Acks (recorder side)
// ----------------------------

func (d *Dispatcher) RecordingStarted(at time.Time) {
	d.queue.Send(func() { d.p.RecordingStarted(at) })
}

func (d *Dispatcher) RecordingStopped(at time.Time, files RecordingFiles) {
	d.queue.Send(func() { d.p.RecordingStopped(at, files) })
}

func (d *Dispatcher) RecordingFailed(err error) {
	d.queue.Send(func() { d.p.RecordingFailed(err) })
}

// Compile-time interface checks
var (
	_ Events = (*Dispatcher)(nil)
	_ Acks   = (*Dispatcher)(nil)
)
