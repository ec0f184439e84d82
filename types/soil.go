package types

// ------------------------
// Soil probe capabilities
// ------------------------

type MoistureInfo struct {
	Sensor string `json:"sensor"` // "chirp", ...
	Addr   uint16 `json:"addr"`   // I2C address
	Bus    string `json:"bus"`    // "i2c0", ...
}

type TemperatureInfo struct {
	Sensor string `json:"sensor"`
	Addr   uint16 `json:"addr"`
	Bus    string `json:"bus"`
}

type LightInfo struct {
	Sensor string `json:"sensor"`
	Addr   uint16 `json:"addr"`
	Bus    string `json:"bus"`
}

// Value payloads appear on hal/capability/<kind>/<id>/value (retained).
// Fixed-point, small types to suit TinyGo.

type MoistureValue struct {
	// Raw dielectric capacitance count from the probe.
	Raw uint16 `json:"raw"`
	// Tenths of a percent against the calibration bounds (e.g. 505 => 50.5%).
	// Not clamped; valid only when Calibrated is true.
	PercentX10 int32 `json:"percent_x10,omitempty"`
	Calibrated bool  `json:"calibrated"`
}

type TemperatureValue struct {
	// Tenths of °C (e.g. 231 => 23.1°C).
	DeciC int16 `json:"deci_c"`
}

type LightValue struct {
	// Raw light counter: 0 is brightest, 65535 darkest.
	Raw uint16 `json:"raw"`
}

// ------------------------
// Probe lifecycle controls
// ------------------------

// Wake rouses a sleeping probe. Zero WakeMs means the probe default (1s).
type Wake struct {
	WakeMs uint32 `json:"wake_ms,omitempty"`
}

// SetAddress moves the probe to a new I2C address (3..119). The probe
// resets as part of the change.
type SetAddress struct {
	Addr uint16 `json:"addr"`
}

type VersionReply struct {
	OK      bool  `json:"ok"`
	Version uint8 `json:"version"`
}

type AddressReply struct {
	OK   bool   `json:"ok"`
	Addr uint16 `json:"addr"`
}
