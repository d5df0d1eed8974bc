// Package pipeline orchestrates the core: it applies transport events
// to the connection state machine, decodes characteristic payloads,
// maintains the latest-reading cache, regroups readings into batches,
// and forwards readings to the recorder.
//
// The pipeline is fully single-threaded: all handler and command
// methods must be invoked from one serialized context. The Dispatcher
// provides that context for transports that deliver callbacks from
// their own goroutines; tests call the handlers directly.
package pipeline

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bandlink/internal/batch"
	"github.com/srg/bandlink/internal/link"
	"github.com/srg/bandlink/internal/parser"
	"github.com/srg/bandlink/internal/sensor"
)

// CollectionMode selects how a sensor's readings are regrouped.
type CollectionMode int

const (
	// CollectByInterval batches by sample-time duration.
	CollectByInterval CollectionMode = iota
	// CollectBySampleCount batches by fixed count.
	CollectBySampleCount
)

// CollectionConfig is the per-sensor batching target. Absence of a
// config for a sensor means latest-value + optional recording only.
type CollectionConfig struct {
	Mode     CollectionMode
	Interval time.Duration // CollectByInterval
	Samples  int           // CollectBySampleCount
}

// BatchFunc receives a flushed batch. The slice is an immutable
// snapshot owned by the observer.
type BatchFunc func(t sensor.Type, readings []sensor.Reading)

// StateFunc receives connection state snapshots.
type StateFunc func(s link.Status)

// DiscoveredDevice is an advertisement seen during scanning that passed
// the device-name prefix filter.
type DiscoveredDevice struct {
	ID   string
	Name string
	RSSI int
}

// Pipeline is the orchestrator. It owns the selection set, per-sensor
// collection configs and batch windows, the latest-reading cache, and
// the monitoring/recording flags; the connection state is delegated to
// the link machine.
type Pipeline struct {
	cfg       *sensor.Config
	parser    *parser.Parser
	machine   *link.Machine
	transport Transport
	recorder  Recorder
	logger    *logrus.Logger

	selected   map[sensor.Type]bool
	collect    map[sensor.Type]CollectionConfig
	windows    map[sensor.Type]*batch.Window[sensor.Reading]
	latest     *orderedmap.OrderedMap[sensor.Type, sensor.Reading]
	discovered map[string]DiscoveredDevice

	monitoring bool
	recording  bool
	target     string // pending connect target while scanning

	batchObservers map[int]BatchFunc
	stateObservers map[int]StateFunc
	nextToken      int
}

// commanderProxy lets the machine issue transport commands through the
// pipeline's current transport, which may be wired after construction
// (the transport's event sink is usually a Dispatcher that needs the
// pipeline first).
type commanderProxy struct{ p *Pipeline }

func (c commanderProxy) StartScan() error {
	if c.p.transport == nil {
		return fmt.Errorf("no transport wired")
	}
	return c.p.transport.StartScan()
}

func (c commanderProxy) StopScan() error {
	if c.p.transport == nil {
		return fmt.Errorf("no transport wired")
	}
	return c.p.transport.StopScan()
}

func (c commanderProxy) Connect(id string) error {
	if c.p.transport == nil {
		return fmt.Errorf("no transport wired")
	}
	return c.p.transport.Connect(id)
}

func (c commanderProxy) Disconnect(id string) error {
	if c.p.transport == nil {
		return fmt.Errorf("no transport wired")
	}
	return c.p.transport.Disconnect(id)
}

// New creates a pipeline. transport and recorder may be nil and wired
// later via SetTransport/SetRecorder.
func New(cfg *sensor.Config, transport Transport, recorder Recorder, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Pipeline{
		cfg:            cfg,
		parser:         parser.New(cfg),
		transport:      transport,
		recorder:       recorder,
		logger:         logger,
		selected:       make(map[sensor.Type]bool),
		collect:        make(map[sensor.Type]CollectionConfig),
		windows:        make(map[sensor.Type]*batch.Window[sensor.Reading]),
		latest:         orderedmap.New[sensor.Type, sensor.Reading](),
		discovered:     make(map[string]DiscoveredDevice),
		batchObservers: make(map[int]BatchFunc),
		stateObservers: make(map[int]StateFunc),
	}
	p.machine = link.NewMachine(commanderProxy{p}, cfg.AutoReconnect, logger, p.notifyState)
	return p
}

// SetTransport wires the outbound transport. Must be called before any
// connection command when New was given a nil transport.
func (p *Pipeline) SetTransport(t Transport) { p.transport = t }

// SetRecorder wires the recording sink.
func (p *Pipeline) SetRecorder(r Recorder) { p.recorder = r }

// ----------------------------
// Observer registry
// ----------------------------

// RegisterBatchObserver registers a batch consumer and returns a token
// for UnregisterBatchObserver.
func (p *Pipeline) RegisterBatchObserver(fn BatchFunc) int {
	p.nextToken++
	p.batchObservers[p.nextToken] = fn
	return p.nextToken
}

// UnregisterBatchObserver removes a previously registered consumer.
func (p *Pipeline) UnregisterBatchObserver(token int) {
	delete(p.batchObservers, token)
}

// RegisterStateObserver registers a connection-state consumer.
func (p *Pipeline) RegisterStateObserver(fn StateFunc) int {
	p.nextToken++
	p.stateObservers[p.nextToken] = fn
	return p.nextToken
}

// UnregisterStateObserver removes a previously registered consumer.
func (p *Pipeline) UnregisterStateObserver(token int) {
	delete(p.stateObservers, token)
}

func (p *Pipeline) notifyState(s link.Status) {
	for _, fn := range p.stateObservers {
		fn(s)
	}
}

func (p *Pipeline) notifyBatch(t sensor.Type, readings []sensor.Reading) {
	for _, fn := range p.batchObservers {
		fn(t, readings)
	}
}

// ----------------------------
// Commands
// ----------------------------

// Status returns the current connection state snapshot.
func (p *Pipeline) Status() link.Status { return p.machine.Status() }

// IsRecording reports whether a recording session is active.
func (p *Pipeline) IsRecording() bool { return p.recording }

// IsMonitoring reports whether sensor monitoring is enabled.
func (p *Pipeline) IsMonitoring() bool { return p.monitoring }

// SelectSensors replaces the set of monitored sensors. Windows of
// deselected sensors are reset so a later reselect starts a fresh
// batch, and their notifications are disarmed so the device stops
// transmitting streams nothing consumes. Battery is always processed
// regardless of selection.
func (p *Pipeline) SelectSensors(types ...sensor.Type) {
	next := make(map[sensor.Type]bool, len(types))
	for _, t := range types {
		if t.Valid() {
			next[t] = true
		}
	}
	for t, w := range p.windows {
		if p.selected[t] && !next[t] {
			w.Reset()
		}
	}
	armed := p.monitoring && p.machine.Status().State == link.StateConnected && p.transport != nil
	if armed {
		for _, t := range sensor.Types() {
			if t == sensor.Battery || !p.selected[t] || next[t] {
				continue
			}
			char := sensor.Characteristic(t)
			if err := p.transport.SetNotify(char, false); err != nil {
				p.logger.WithFields(logrus.Fields{
					"sensor":    t,
					"char_uuid": char,
					"error":     err,
				}).Warn("Failed to disable notifications for deselected sensor")
			}
		}
	}
	p.selected = next
	if armed {
		p.armNotifications()
	}
}

// Selected returns the monitored sensor set in display order.
func (p *Pipeline) Selected() []sensor.Type {
	var out []sensor.Type
	for _, t := range sensor.Types() {
		if p.selected[t] {
			out = append(out, t)
		}
	}
	return out
}

// SetCollection sets or replaces a sensor's batching target. A nil
// config removes batching for the sensor. The sensor's window is
// recreated atomically so no partially-filled buffer crosses the
// configuration boundary.
func (p *Pipeline) SetCollection(t sensor.Type, cfg *CollectionConfig) error {
	if !t.Valid() {
		return fmt.Errorf("unknown sensor type %q", t)
	}
	if cfg == nil {
		delete(p.collect, t)
		delete(p.windows, t)
		return nil
	}
	switch cfg.Mode {
	case CollectByInterval:
		if cfg.Interval <= 0 {
			return fmt.Errorf("collection interval for %s must be positive", t)
		}
		p.windows[t] = batch.NewInterval[sensor.Reading](cfg.Interval.Seconds())
	case CollectBySampleCount:
		if cfg.Samples <= 0 {
			return fmt.Errorf("collection sample count for %s must be positive", t)
		}
		p.windows[t] = batch.NewCount[sensor.Reading](cfg.Samples)
	default:
		return fmt.Errorf("unknown collection mode %d", cfg.Mode)
	}
	p.collect[t] = *cfg
	return nil
}

// Collection returns the sensor's batching target, if any.
func (p *Pipeline) Collection(t sensor.Type) (CollectionConfig, bool) {
	cfg, ok := p.collect[t]
	return cfg, ok
}

// SetMonitoring enables or disables sensor monitoring. Enabling while
// connected arms notifications for the selected sensors. Disabling
// clears all per-sensor latest values (except battery), clears all
// buffers, and tears down all batch configurations.
func (p *Pipeline) SetMonitoring(enabled bool) {
	if p.monitoring == enabled {
		return
	}
	p.monitoring = enabled
	if enabled {
		if p.machine.Status().State == link.StateConnected {
			p.armNotifications()
		}
		return
	}
	p.disarmNotifications()
	for _, t := range sensor.Types() {
		if t != sensor.Battery {
			p.latest.Delete(t)
		}
	}
	p.windows = make(map[sensor.Type]*batch.Window[sensor.Reading])
	p.collect = make(map[sensor.Type]CollectionConfig)
}

// EnableAutoReconnect toggles the reconnect policy.
func (p *Pipeline) EnableAutoReconnect(enabled bool) {
	p.machine.SetAutoReconnect(enabled)
}

// StartScan begins device discovery.
func (p *Pipeline) StartScan() {
	p.discovered = make(map[string]DiscoveredDevice)
	p.machine.StartScan()
}

// StopScan ends discovery without connecting.
func (p *Pipeline) StopScan() {
	p.target = ""
	p.machine.StopScan()
}

// ConnectTo connects to a device. If the device has already been
// discovered the connect is issued immediately; otherwise a scan is
// started and the connect is issued on discovery.
func (p *Pipeline) ConnectTo(id string) {
	switch p.machine.Status().State {
	case link.StateScanning:
		if _, ok := p.discovered[id]; ok {
			p.target = ""
			p.machine.RequestConnect(id)
			return
		}
		p.target = id
	case link.StateDisconnected:
		p.target = id
		p.machine.StartScan()
	}
}

// DisconnectDevice applies the user's disconnect intent.
func (p *Pipeline) DisconnectDevice() {
	p.target = ""
	p.machine.RequestDisconnect()
}

// Latest returns the latest reading per sensor as an immutable
// snapshot, in first-seen order.
func (p *Pipeline) Latest() []sensor.Reading {
	out := make([]sensor.Reading, 0, p.latest.Len())
	for pair := p.latest.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// LatestFor returns the latest reading for one sensor.
func (p *Pipeline) LatestFor(t sensor.Type) (sensor.Reading, bool) {
	return p.latest.Get(t)
}

// Discovered returns a snapshot of the devices seen during the current
// scan.
func (p *Pipeline) Discovered() []DiscoveredDevice {
	out := make([]DiscoveredDevice, 0, len(p.discovered))
	for _, d := range p.discovered {
		out = append(out, d)
	}
	return out
}

// ----------------------------
// Transport event handlers
// ----------------------------

// HandleDeviceDiscovered records an advertisement and issues the
// pending connect if it matches the requested target.
func (p *Pipeline) HandleDeviceDiscovered(id, name string, rssi int) {
	p.discovered[id] = DiscoveredDevice{ID: id, Name: name, RSSI: rssi}
	if p.target != "" && p.target == id {
		p.target = ""
		p.machine.RequestConnect(id)
	}
}

// HandleConnected applies a transport connect success and arms
// notifications for the selected sensors when monitoring is on.
func (p *Pipeline) HandleConnected(id string) {
	p.machine.HandleConnected(id)
	if p.machine.Status().State != link.StateConnected {
		return
	}
	if p.monitoring {
		p.armNotifications()
	}
}

// HandleConnectFailed applies a transport connect failure.
func (p *Pipeline) HandleConnectFailed(id string, err error) {
	p.machine.HandleConnectFailed(id, err)
}

// HandleDisconnected applies a transport disconnect event.
func (p *Pipeline) HandleDisconnected(id string, err error) {
	p.machine.HandleDisconnected(id, err)
}

// HandleTransportState applies transport power/authorization changes.
func (p *Pipeline) HandleTransportState(available bool) {
	p.machine.SetTransportAvailable(available)
}

// HandleCharacteristicValue decodes one raw payload and runs it through
// the cache, recorder and batch window. Parse errors drop the payload
// and the stream continues. Readings for unselected sensors are dropped
// before reaching any buffer; battery bypasses the gate.
func (p *Pipeline) HandleCharacteristicValue(characteristic string, data []byte) {
	t, ok := sensor.ForCharacteristic(characteristic)
	if !ok {
		p.logger.WithField("char_uuid", characteristic).Debug("Payload for unmapped characteristic dropped")
		return
	}
	if t != sensor.Battery && (!p.monitoring || !p.selected[t]) {
		return
	}

	readings, err := p.parser.Parse(t, data)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"sensor": t,
			"len":    len(data),
			"error":  err,
		}).Warn("Dropping payload after parse error")
		return
	}

	for _, r := range readings {
		p.latest.Set(t, r)
		p.record(t, r)
		if w, ok := p.windows[t]; ok {
			if flushed := w.Push(r); flushed != nil {
				p.notifyBatch(t, flushed)
			}
		}
	}
}

// record forwards a reading to the recorder while a session is active.
// Battery is always recorded; other sensors only when a collection
// config exists for them.
func (p *Pipeline) record(t sensor.Type, r sensor.Reading) {
	if !p.recording || p.recorder == nil {
		return
	}
	if t != sensor.Battery {
		if _, ok := p.collect[t]; !ok {
			return
		}
	}
	if err := p.recorder.Record(t, r); err != nil {
		p.logger.WithFields(logrus.Fields{
			"sensor": t,
			"error":  err,
		}).Error("Recorder write failed")
		p.RecordingFailed(err)
	}
}

// ----------------------------
// Recorder acknowledgements
// ----------------------------

// RecordingStarted marks a recording session active.
func (p *Pipeline) RecordingStarted(at time.Time) {
	p.recording = true
	p.logger.WithField("at", at).Info("Recording started")
}

// RecordingStopped marks the session ended.
func (p *Pipeline) RecordingStopped(at time.Time, files RecordingFiles) {
	p.recording = false
	p.logger.WithFields(logrus.Fields{
		"at":    at,
		"files": len(files),
	}).Info("Recording stopped")
}

// RecordingFailed marks the session ended after a failure. The error is
// surfaced without affecting the connection or batching.
func (p *Pipeline) RecordingFailed(err error) {
	p.recording = false
	p.logger.WithField("error", err).Error("Recording failed")
}

// ----------------------------
// Notification arming
// ----------------------------

// armNotifications enables notifications for the selected sensors plus
// battery. Failures are logged per characteristic and do not abort the
// remaining subscriptions.
func (p *Pipeline) armNotifications() {
	if p.transport == nil {
		return
	}
	for _, t := range sensor.Types() {
		if t != sensor.Battery && !p.selected[t] {
			continue
		}
		char := sensor.Characteristic(t)
		if err := p.transport.SetNotify(char, true); err != nil {
			p.logger.WithFields(logrus.Fields{
				"sensor":    t,
				"char_uuid": char,
				"error":     err,
			}).Error("Failed to enable notifications")
		}
	}
}

// disarmNotifications disables all telemetry notifications.
func (p *Pipeline) disarmNotifications() {
	if p.transport == nil || p.machine.Status().State != link.StateConnected {
		return
	}
	for _, t := range sensor.Types() {
		char := sensor.Characteristic(t)
		if err := p.transport.SetNotify(char, false); err != nil {
			p.logger.WithFields(logrus.Fields{
				"sensor":    t,
				"char_uuid": char,
				"error":     err,
			}).Warn("Failed to disable notifications")
		}
	}
}
