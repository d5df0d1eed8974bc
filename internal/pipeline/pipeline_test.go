package pipeline_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bandlink/internal/link"
	"github.com/srg/bandlink/internal/pipeline"
	"github.com/srg/bandlink/internal/sensor"
)

// fakeTransport records the commands the core issues.
type fakeTransport struct {
	calls    []string
	notifies map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notifies: make(map[string]bool)}
}

func (f *fakeTransport) StartScan() error { f.calls = append(f.calls, "startScan"); return nil }
func (f *fakeTransport) StopScan() error  { f.calls = append(f.calls, "stopScan"); return nil }

func (f *fakeTransport) Connect(id string) error {
	f.calls = append(f.calls, "connect:"+id)
	return nil
}

func (f *fakeTransport) Disconnect(id string) error {
	f.calls = append(f.calls, "disconnect:"+id)
	return nil
}

func (f *fakeTransport) SetNotify(characteristic string, enabled bool) error {
	f.notifies[sensor.NormalizeUUID(characteristic)] = enabled
	return nil
}

// fakeRecorder captures recorded readings, optionally failing.
type fakeRecorder struct {
	recorded []sensor.Type
	err      error
}

func (f *fakeRecorder) Record(t sensor.Type, _ sensor.Reading) error {
	f.recorded = append(f.recorded, t)
	return f.err
}

type PipelineTestSuite struct {
	suite.Suite
	transport *fakeTransport
	recorder  *fakeRecorder
	p         *pipeline.Pipeline
}

func (suite *PipelineTestSuite) SetupTest() {
	suite.transport = newFakeTransport()
	suite.recorder = &fakeRecorder{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	suite.p = pipeline.New(sensor.DefaultConfig(), suite.transport, suite.recorder, logger)
	suite.p.HandleTransportState(true)
}

// connect drives the pipeline to the Connected state for band-1.
func (suite *PipelineTestSuite) connect() {
	suite.p.StartScan()
	suite.p.HandleDeviceDiscovered("band-1", "LXB-4", -60)
	suite.p.ConnectTo("band-1")
	suite.p.HandleConnected("band-1")
	suite.Require().Equal(link.StateConnected, suite.p.Status().State)
	suite.transport.calls = nil
}

// eegPayload builds a header plus n zeroed EEG samples.
func eegPayload(n int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, 32768)
	for i := 0; i < n; i++ {
		b = append(b, make([]byte, 7)...)
	}
	return b
}

func (suite *PipelineTestSuite) TestConnectFlow() {
	// GOAL: Verify scan, discovery and connect orchestration
	//
	// TEST SCENARIO: Drive discovery events → observe transport commands and state

	suite.Run("connect to an already discovered device", func() {
		suite.p.StartScan()
		suite.p.HandleDeviceDiscovered("band-1", "LXB-4", -60)

		suite.p.ConnectTo("band-1")

		suite.Assert().Equal(link.StateConnecting, suite.p.Status().State)
		suite.Assert().Equal([]string{"startScan", "stopScan", "connect:band-1"}, suite.transport.calls)
	})

	suite.Run("connect to an unseen device waits for discovery", func() {
		suite.SetupTest()
		suite.p.StartScan()

		suite.p.ConnectTo("band-2")
		suite.Assert().Equal(link.StateScanning, suite.p.Status().State, "connect MUST wait until the device is seen")

		suite.p.HandleDeviceDiscovered("band-2", "LXB-4", -70)
		suite.Assert().Equal(link.StateConnecting, suite.p.Status().State, "discovery MUST trigger the pending connect")
		suite.Assert().Equal("band-2", suite.p.Status().DeviceID)
	})

	suite.Run("connect from disconnected starts a scan", func() {
		suite.SetupTest()
		suite.p.ConnectTo("band-3")

		suite.Assert().Equal(link.StateScanning, suite.p.Status().State)
		suite.Assert().Equal([]string{"startScan"}, suite.transport.calls)
	})

	suite.Run("discovered devices snapshot", func() {
		suite.SetupTest()
		suite.p.StartScan()
		suite.p.HandleDeviceDiscovered("band-1", "LXB-4", -60)
		suite.p.HandleDeviceDiscovered("band-1", "LXB-4", -58) // update, not duplicate

		devices := suite.p.Discovered()

		suite.Require().Len(devices, 1)
		suite.Assert().Equal(-58, devices[0].RSSI, "a repeat advertisement MUST update the entry")
	})
}

func (suite *PipelineTestSuite) TestNotificationArming() {
	// GOAL: Verify notifications are armed for selected sensors plus battery
	//
	// TEST SCENARIO: Select sensors, enable monitoring, connect → observe SetNotify calls

	suite.p.SelectSensors(sensor.EEG)
	suite.p.SetMonitoring(true)
	suite.connect()

	eegChar := sensor.NormalizeUUID(sensor.Characteristic(sensor.EEG))
	ppgChar := sensor.NormalizeUUID(sensor.Characteristic(sensor.PPG))
	batChar := sensor.NormalizeUUID(sensor.Characteristic(sensor.Battery))

	suite.Assert().True(suite.transport.notifies[eegChar], "selected sensor MUST be armed")
	suite.Assert().True(suite.transport.notifies[batChar], "battery MUST always be armed")
	_, armed := suite.transport.notifies[ppgChar]
	suite.Assert().False(armed, "unselected sensor MUST NOT be armed")

	suite.Run("deselection disarms while connected", func() {
		suite.p.SelectSensors(sensor.EEG, sensor.PPG)
		suite.Require().True(suite.transport.notifies[ppgChar])

		suite.p.SelectSensors(sensor.EEG)

		suite.Assert().False(suite.transport.notifies[ppgChar], "deselected sensor MUST be disarmed")
		suite.Assert().True(suite.transport.notifies[eegChar], "remaining selection MUST stay armed")
		suite.Assert().True(suite.transport.notifies[batChar], "battery MUST stay armed")
	})
}

func (suite *PipelineTestSuite) TestSelectionGating() {
	// GOAL: Verify payloads for unselected sensors are dropped before any buffer
	//
	// TEST SCENARIO: Feed payloads with varying selection → inspect the latest cache

	suite.connect()
	suite.p.SetMonitoring(true)

	suite.Run("unselected sensor is dropped", func() {
		suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(1))

		_, ok := suite.p.LatestFor(sensor.EEG)
		suite.Assert().False(ok, "reading for an unselected sensor MUST NOT reach the cache")
	})

	suite.Run("selected sensor is processed", func() {
		suite.p.SelectSensors(sensor.EEG)

		suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(1))

		r, ok := suite.p.LatestFor(sensor.EEG)
		suite.Require().True(ok)
		suite.Assert().Equal(sensor.EEG, r.SensorType())
	})

	suite.Run("battery bypasses selection and monitoring", func() {
		suite.p.SetMonitoring(false)

		suite.p.HandleCharacteristicValue(sensor.CharBatteryLevel, []byte{80})

		r, ok := suite.p.LatestFor(sensor.Battery)
		suite.Require().True(ok, "battery MUST be processed with monitoring off")
		suite.Assert().Equal(uint8(80), r.(sensor.BatteryReading).Level)
	})
}

func (suite *PipelineTestSuite) TestBatchDelivery() {
	// GOAL: Verify collection configs batch readings and notify observers
	//
	// TEST SCENARIO: Count-mode collection → feed samples → observe flushed batches

	suite.connect()
	suite.p.SetMonitoring(true)
	suite.p.SelectSensors(sensor.EEG)
	suite.Require().NoError(suite.p.SetCollection(sensor.EEG, &pipeline.CollectionConfig{
		Mode:    pipeline.CollectBySampleCount,
		Samples: 3,
	}))

	var batches [][]sensor.Reading
	token := suite.p.RegisterBatchObserver(func(t sensor.Type, readings []sensor.Reading) {
		suite.Assert().Equal(sensor.EEG, t)
		batches = append(batches, readings)
	})

	suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(2))
	suite.Require().Empty(batches, "two samples MUST NOT flush a count-3 window")

	suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(2))
	suite.Require().Len(batches, 1, "the third sample MUST flush")
	suite.Assert().Len(batches[0], 3, "flushed batch MUST hold exactly the configured count")

	suite.p.UnregisterBatchObserver(token)
	suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(2))
	suite.Assert().Len(batches, 1, "an unregistered observer MUST NOT be called")
}

func (suite *PipelineTestSuite) TestCollectionReconfiguration() {
	// GOAL: Verify changing a collection target resets the window atomically
	//
	// TEST SCENARIO: Buffer a partial batch, change the target → old samples MUST NOT leak

	suite.connect()
	suite.p.SetMonitoring(true)
	suite.p.SelectSensors(sensor.EEG)
	suite.Require().NoError(suite.p.SetCollection(sensor.EEG, &pipeline.CollectionConfig{
		Mode:    pipeline.CollectBySampleCount,
		Samples: 5,
	}))

	var batches [][]sensor.Reading
	suite.p.RegisterBatchObserver(func(_ sensor.Type, readings []sensor.Reading) {
		batches = append(batches, readings)
	})

	suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(2))

	suite.Require().NoError(suite.p.SetCollection(sensor.EEG, &pipeline.CollectionConfig{
		Mode:    pipeline.CollectBySampleCount,
		Samples: 2,
	}))

	suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(2))

	suite.Require().Len(batches, 1)
	suite.Assert().Len(batches[0], 2, "batch MUST hold only post-reconfiguration samples")

	suite.Run("removing the config stops batching", func() {
		suite.Require().NoError(suite.p.SetCollection(sensor.EEG, nil))
		_, ok := suite.p.Collection(sensor.EEG)
		suite.Assert().False(ok)

		before := len(batches)
		suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(2))
		suite.Assert().Len(batches, before, "no batches MUST flush without a config")
	})

	suite.Run("invalid targets are rejected", func() {
		suite.Assert().Error(suite.p.SetCollection(sensor.EEG, &pipeline.CollectionConfig{
			Mode:    pipeline.CollectBySampleCount,
			Samples: 0,
		}))
		suite.Assert().Error(suite.p.SetCollection(sensor.EEG, &pipeline.CollectionConfig{
			Mode: pipeline.CollectByInterval,
		}))
		suite.Assert().Error(suite.p.SetCollection(sensor.Type("bogus"), nil))
	})
}

func (suite *PipelineTestSuite) TestParseErrorContinuesStream() {
	// GOAL: Verify a malformed payload is dropped without poisoning the stream
	//
	// TEST SCENARIO: Feed garbage then a valid payload → only the valid one lands

	suite.connect()
	suite.p.SetMonitoring(true)
	suite.p.SelectSensors(sensor.EEG)

	suite.p.HandleCharacteristicValue(sensor.CharEEG, []byte{0x01, 0x02})
	_, ok := suite.p.LatestFor(sensor.EEG)
	suite.Require().False(ok, "malformed payload MUST NOT produce a reading")

	suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(1))
	_, ok = suite.p.LatestFor(sensor.EEG)
	suite.Assert().True(ok, "the stream MUST continue after a dropped payload")
}

func (suite *PipelineTestSuite) TestMonitoringDisableClears() {
	// GOAL: Verify disabling monitoring clears caches, buffers and collect configs
	//
	// TEST SCENARIO: Populate state, disable monitoring → everything but battery is gone

	suite.connect()
	suite.p.SetMonitoring(true)
	suite.p.SelectSensors(sensor.EEG)
	suite.Require().NoError(suite.p.SetCollection(sensor.EEG, &pipeline.CollectionConfig{
		Mode:    pipeline.CollectBySampleCount,
		Samples: 10,
	}))
	suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(1))
	suite.p.HandleCharacteristicValue(sensor.CharBatteryLevel, []byte{90})

	suite.p.SetMonitoring(false)

	_, ok := suite.p.LatestFor(sensor.EEG)
	suite.Assert().False(ok, "latest EEG MUST be cleared")
	_, ok = suite.p.LatestFor(sensor.Battery)
	suite.Assert().True(ok, "latest battery MUST survive")
	_, ok = suite.p.Collection(sensor.EEG)
	suite.Assert().False(ok, "collect configs MUST be torn down")
	suite.Assert().False(suite.p.IsMonitoring())
}

func (suite *PipelineTestSuite) TestRecording() {
	// GOAL: Verify the recording gate: battery always, others only with a collect config
	//
	// TEST SCENARIO: Drive acks and payloads → observe what reaches the recorder

	suite.connect()
	suite.p.SetMonitoring(true)
	suite.p.SelectSensors(sensor.EEG, sensor.PPG)
	suite.Require().NoError(suite.p.SetCollection(sensor.EEG, &pipeline.CollectionConfig{
		Mode:    pipeline.CollectBySampleCount,
		Samples: 100,
	}))

	suite.Run("nothing is recorded before the started ack", func() {
		suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(1))
		suite.Assert().Empty(suite.recorder.recorded)
	})

	suite.Run("collect-configured and battery readings are recorded", func() {
		suite.p.RecordingStarted(time.Now())
		suite.Require().True(suite.p.IsRecording())

		suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(1))
		suite.p.HandleCharacteristicValue(sensor.CharBatteryLevel, []byte{75})

		suite.Assert().Equal([]sensor.Type{sensor.EEG, sensor.Battery}, suite.recorder.recorded)
	})

	suite.Run("sensors without a collect config are not recorded", func() {
		before := len(suite.recorder.recorded)
		ppg := make([]byte, 4+6)
		suite.p.HandleCharacteristicValue(sensor.CharPPG, ppg)

		r, ok := suite.p.LatestFor(sensor.PPG)
		suite.Require().True(ok, "the reading MUST still reach the cache")
		suite.Assert().Equal(sensor.PPG, r.SensorType())
		suite.Assert().Len(suite.recorder.recorded, before, "it MUST NOT reach the recorder")
	})

	suite.Run("stopped ack ends the session", func() {
		suite.p.RecordingStopped(time.Now(), pipeline.RecordingFiles{"eeg.csv"})

		suite.Assert().False(suite.p.IsRecording())
		before := len(suite.recorder.recorded)
		suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(1))
		suite.Assert().Len(suite.recorder.recorded, before)
	})

	suite.Run("recorder write failure fails the session", func() {
		suite.p.RecordingStarted(time.Now())
		suite.recorder.err = errors.New("disk full")

		suite.p.HandleCharacteristicValue(sensor.CharEEG, eegPayload(1))

		suite.Assert().False(suite.p.IsRecording(), "a write failure MUST end the session")
		r, ok := suite.p.LatestFor(sensor.EEG)
		suite.Require().True(ok, "batching and the cache MUST be unaffected")
		suite.Assert().Equal(sensor.EEG, r.SensorType())
	})
}

func (suite *PipelineTestSuite) TestStateObservers() {
	// GOAL: Verify state observers see every transition until unregistered
	//
	// TEST SCENARIO: Register, drive transitions, unregister → observe deliveries

	var states []link.State
	token := suite.p.RegisterStateObserver(func(s link.Status) {
		states = append(states, s.State)
	})

	suite.p.StartScan()
	suite.p.HandleDeviceDiscovered("band-1", "LXB-4", -60)
	suite.p.ConnectTo("band-1")
	suite.p.HandleConnected("band-1")

	suite.Assert().Equal([]link.State{
		link.StateScanning,
		link.StateConnecting,
		link.StateConnected,
	}, states)

	suite.p.UnregisterStateObserver(token)
	suite.p.DisconnectDevice()
	suite.Assert().Len(states, 3, "an unregistered observer MUST NOT be called")
}

// TestPipelineTestSuite runs the test suite
func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}
