package chirp

// Value conversion helpers. All conversions are pure; nothing here touches
// the bus.

// MoistToPercent maps a raw capacitance count onto the calibrated 0..100%
// range. The result is NOT clamped: raw counts outside the calibration
// bounds give negative or >100 percentages, which callers can use to spot
// a drifted calibration. ErrCalibrationMissing is returned until bounds
// are set.
func (d *Device) MoistToPercent(raw uint16) (float64, error) {
	if !d.hasCalib || d.calib.Max == d.calib.Min {
		return 0, ErrCalibrationMissing
	}
	span := float64(d.calib.Max) - float64(d.calib.Min)
	return (float64(raw) - float64(d.calib.Min)) * 100 / span, nil
}

// MoisturePercent converts the last recorded moisture reading to percent.
// ErrNoReading is returned before the first successful moisture read.
func (d *Device) MoisturePercent() (float64, error) {
	if !d.hasMoist {
		return 0, ErrNoReading
	}
	return d.MoistToPercent(d.lastMoist.Raw)
}

// convertTemperature turns a raw register value (tenths of a degree
// Celsius) into the configured scale, applying the Celsius offset first.
func (d *Device) convertTemperature(raw int16) (float64, error) {
	c := float64(raw)/10 + d.offsetC
	switch d.scale {
	case Celsius:
		return c, nil
	case Fahrenheit:
		return CToF(c), nil
	case Kelvin:
		return CToK(c), nil
	}
	return 0, ErrInvalidScale
}

// CToF converts degrees Celsius to Fahrenheit.
func CToF(c float64) float64 { return c*9/5 + 32 }

// CToK converts degrees Celsius to Kelvin.
func CToK(c float64) float64 { return c + 273.15 }
