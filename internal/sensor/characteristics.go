package sensor

import "strings"

// GATT layout of the band. Telemetry streams live under one proprietary
// service sharing a base UUID; battery level uses the standard Battery
// Service characteristic (a plain 0-100 byte, which is exactly the wire
// format the parser expects).
const (
	// ServiceTelemetry is the proprietary telemetry service.
	ServiceTelemetry = "7a3b0000-8540-4e3b-9d0c-2ba51a5903a7"

	CharEEG     = "7a3b0001-8540-4e3b-9d0c-2ba51a5903a7"
	CharPPG     = "7a3b0002-8540-4e3b-9d0c-2ba51a5903a7"
	CharAccel   = "7a3b0003-8540-4e3b-9d0c-2ba51a5903a7"
	CharCommand = "7a3b000f-8540-4e3b-9d0c-2ba51a5903a7"

	// ServiceBattery / CharBatteryLevel are the Bluetooth SIG assigned
	// numbers (org.bluetooth.service.battery_service).
	ServiceBattery   = "180f"
	CharBatteryLevel = "2a19"
)

// NormalizeUUID converts a UUID string to the BLE library's internal
// format (lowercase, no dashes). Handles both dashed and already
// normalized input.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

var charToType = map[string]Type{
	NormalizeUUID(CharEEG):          EEG,
	NormalizeUUID(CharPPG):          PPG,
	NormalizeUUID(CharAccel):        Accelerometer,
	NormalizeUUID(CharBatteryLevel): Battery,
}

// ForCharacteristic resolves a characteristic UUID to the sensor stream
// it carries. Returns false for characteristics that are not telemetry
// (for example the command characteristic).
func ForCharacteristic(uuid string) (Type, bool) {
	t, ok := charToType[NormalizeUUID(uuid)]
	return t, ok
}

// Characteristic returns the notify characteristic UUID for a stream.
func Characteristic(t Type) string {
	switch t {
	case EEG:
		return CharEEG
	case PPG:
		return CharPPG
	case Accelerometer:
		return CharAccel
	case Battery:
		return CharBatteryLevel
	}
	return ""
}

// Service returns the service UUID owning a stream's characteristic.
func Service(t Type) string {
	if t == Battery {
		return ServiceBattery
	}
	return ServiceTelemetry
}
