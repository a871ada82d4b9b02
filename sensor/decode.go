// Package sensor implements the measurement side of the enviro-ble link:
// decoding rules for the environmental sensing characteristics and a bounded,
// auto-ranging history buffer per measurement channel.
//
// Peripherals are expected to run the Pimoroni enviro-ble firmware
// (https://github.com/pimoroni/enviro-ble), which exposes readings through the
// standard org.bluetooth environmental sensing service.
package sensor

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Bluetooth SIG assigned UUIDs used by enviro-ble peripherals, normalized to
// lowercase without dashes.
const (
	// ServiceEnvironmentalSensing is org.bluetooth.service.environmental_sensing.
	ServiceEnvironmentalSensing = "181a"

	UUIDTemperature = "2a6e" // org.bluetooth.characteristic.temperature
	UUIDPressure    = "2a6d"
	UUIDHumidity    = "2a6f"
	UUIDIrradiance  = "2a77" // not lux, but it'll do for now
)

// Decoder converts a raw characteristic payload into a physical quantity.
type Decoder func(data []byte) (float64, error)

// DecodeError indicates a payload that cannot be decoded for the declared
// measurement type, or a measurement type with no registered decoding rule.
type DecodeError struct {
	UUID   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %s", e.UUID, e.Reason)
}

// int16Scaled builds a decoder for the common enviro-ble wire format: a
// little-endian signed 16-bit integer divided by a fixed scale factor.
func int16Scaled(uuid string, scale float64) Decoder {
	return func(data []byte) (float64, error) {
		if len(data) != 2 {
			return 0, &DecodeError{UUID: uuid, Reason: fmt.Sprintf("expected 2 bytes, got %d", len(data))}
		}
		raw := int16(binary.LittleEndian.Uint16(data))
		return float64(raw) / scale, nil
	}
}

var decoders = map[string]Decoder{
	UUIDTemperature: int16Scaled(UUIDTemperature, 100.0), // °C with 0.01 resolution
	UUIDPressure:    int16Scaled(UUIDPressure, 10.0),     // hPa
	UUIDHumidity:    int16Scaled(UUIDHumidity, 100.0),    // % with 0.01 resolution
	UUIDIrradiance:  int16Scaled(UUIDIrradiance, 10.0),   // 0.1 W/m2
}

// DecoderFor returns the decoding rule registered for the given measurement
// characteristic UUID. The UUID may be given in any case, with or without
// dashes.
func DecoderFor(uuid string) (Decoder, error) {
	d, ok := decoders[NormalizeUUID(uuid)]
	if !ok {
		return nil, &DecodeError{UUID: uuid, Reason: "no decoder registered"}
	}
	return d, nil
}

// NormalizeUUID converts a UUID string to the internal format used throughout
// this module (lowercase, no dashes).
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
