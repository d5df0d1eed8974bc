// Package goble adapts the go-ble library to the pipeline's Transport
// interface. Scanning, dialing, profile discovery and notification
// arming happen here; every callback is forwarded to the pipeline
// through the Events sink (normally a pipeline.Dispatcher), so nothing
// in this package touches core state directly.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/srg/bandlink/internal/pipeline"
	"github.com/srg/bandlink/internal/sensor"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		// Wrap Bluetooth state errors with clearer messages
		if strings.Contains(err.Error(), "central manager has invalid state") {
			if strings.Contains(err.Error(), "have=4") { // StatePoweredOff
				return nil, fmt.Errorf("Bluetooth is turned off - please enable Bluetooth and retry")
			}
			return nil, fmt.Errorf("Bluetooth is not ready - %w", err)
		}
		return nil, err
	}
	return dev, nil
}

// Transport implements pipeline.Transport over go-ble.
type Transport struct {
	cfg    *sensor.Config
	events pipeline.Events
	logger *logrus.Logger

	connectTimeout time.Duration

	mu         sync.Mutex
	dev        ble.Device
	client     ble.Client
	chars      map[string]*ble.Characteristic // normalized UUID -> live handle
	scanCancel context.CancelFunc
	seen       *hashmap.Map[string, string] // addr -> name, dedup within one scan
}

// New creates a transport. events receives every callback; it must
// marshal onto the core's consumer context (pipeline.Dispatcher does).
func New(cfg *sensor.Config, events pipeline.Events, connectTimeout time.Duration, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	return &Transport{
		cfg:            cfg,
		events:         events,
		logger:         logger,
		connectTimeout: connectTimeout,
	}
}

// Open initializes the BLE device and reports transport availability.
// Call once before any scan or connect.
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		t.events.TransportState(false)
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	t.events.TransportState(true)
	return nil
}

// StartScan begins advertisement scanning, filtered by the configured
// device-name prefix. Each matching device is reported once per scan.
func (t *Transport) StartScan() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return fmt.Errorf("transport not opened")
	}
	if t.scanCancel != nil {
		return nil // scan already running
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.scanCancel = cancel
	t.seen = hashmap.New[string, string]()

	go func() {
		err := t.dev.Scan(ctx, true, t.handleAdvertisement)
		if err != nil && ctx.Err() == nil {
			t.logger.WithField("error", err).Warn("Scan terminated with error")
		}
	}()
	t.logger.WithField("prefix", t.cfg.DeviceNamePrefix).Info("Scanning for devices...")
	return nil
}

func (t *Transport) handleAdvertisement(adv ble.Advertisement) {
	name := adv.LocalName()
	if t.cfg.DeviceNamePrefix != "" && !strings.HasPrefix(name, t.cfg.DeviceNamePrefix) {
		return
	}
	addr := adv.Addr().String()
	if !t.seen.Insert(addr, name) {
		return // already reported in this scan
	}
	t.events.DeviceDiscovered(addr, name, adv.RSSI())
}

// StopScan cancels an active scan.
func (t *Transport) StopScan() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scanCancel != nil {
		t.scanCancel()
		t.scanCancel = nil
	}
	return nil
}

// Connect dials the device and discovers its profile asynchronously;
// the outcome arrives through the Connected/ConnectFailed events.
func (t *Transport) Connect(id string) error {
	t.mu.Lock()
	if t.dev == nil {
		t.mu.Unlock()
		return fmt.Errorf("transport not opened")
	}
	if t.client != nil {
		t.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	t.mu.Unlock()

	go t.dial(id)
	return nil
}

func (t *Transport) dial(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.connectTimeout)
	defer cancel()

	t.logger.WithField("address", id).Info("Connecting to BLE device...")
	client, err := ble.Dial(ctx, ble.NewAddr(id))
	if err != nil {
		t.events.ConnectFailed(id, fmt.Errorf("failed to connect to device with address %q: %w", id, err))
		return
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		t.events.ConnectFailed(id, fmt.Errorf("failed to discover profile: %w", err))
		return
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			chars[sensor.NormalizeUUID(c.UUID.String())] = c
		}
	}

	t.mu.Lock()
	t.client = client
	t.chars = chars
	t.mu.Unlock()

	// Watch for link loss (the Disconnected channel is Darwin-specific
	// in go-ble; other platforms surface loss through failed operations)
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		go func() {
			<-dc.Disconnected()
			t.mu.Lock()
			stillCurrent := t.client == client
			if stillCurrent {
				t.client = nil
				t.chars = nil
			}
			t.mu.Unlock()
			if stillCurrent {
				t.events.Disconnected(id, nil)
			}
		}()
	}

	t.logger.WithFields(logrus.Fields{
		"address":  id,
		"services": len(profile.Services),
	}).Info("BLE device connected")
	t.events.Connected(id)
}

// Disconnect cancels the connection to the device.
func (t *Transport) Disconnect(id string) error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.chars = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return fmt.Errorf("failed to disconnect from %q: %w", id, err)
	}
	return nil
}

// SetNotify enables or disables notifications for one characteristic.
func (t *Transport) SetNotify(characteristic string, enabled bool) error {
	t.mu.Lock()
	client := t.client
	char := t.chars[sensor.NormalizeUUID(characteristic)]
	t.mu.Unlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}
	if char == nil {
		return fmt.Errorf("characteristic %q not found on device", characteristic)
	}

	if enabled {
		uuid := sensor.NormalizeUUID(characteristic)
		return client.Subscribe(char, false, func(data []byte) {
			t.events.CharacteristicValue(uuid, data)
		})
	}

	// Try both notify and indicate modes; fail only if both fail
	err1 := client.Unsubscribe(char, false)
	err2 := client.Unsubscribe(char, true)
	if err1 != nil && err2 != nil {
		return fmt.Errorf("%s: notify=%v, indicate=%v", characteristic, err1, err2)
	}
	return nil
}

// Compile-time interface check
var _ pipeline.Transport = (*Transport)(nil)
