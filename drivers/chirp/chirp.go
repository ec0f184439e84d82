// Package chirp provides a driver for the Chirp/Catnip capacitive soil
// moisture probe, which also reports ambient light and soil temperature.
// It exposes a two-phase measurement API:
//
//	err := d.Trigger()       // start conversions for enabled channels (fast)
//	err = d.Collect(&s)      // fetch when ready; returns ErrNotReady while busy
//
// For convenience, d.ReadAllEnabled(ctx) performs trigger + busy-polling
// until the probe is idle, then collects every enabled channel. The
// per-channel ReadMoisture/ReadTemperature/ReadLight helpers run a full
// cycle for one channel and work whether or not that channel is enabled.
//
// The probe has a single conversion engine: reading the capacitance or
// temperature register returns the last completed value AND starts the next
// conversion, so the busy flag must be checked before every fresh read.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when
// both w and r are provided, without releasing the bus.
package chirp

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Errors returned by the driver. Transport failures are returned as-is.
var (
	ErrCalibrationMissing = errors.New("chirp: calibration bounds not set")
	ErrInvalidScale       = errors.New("chirp: invalid temperature scale")
	ErrInvalidAddress     = errors.New("chirp: address out of range 3..119")
	ErrUnresponsive       = errors.New("chirp: probe stayed busy past the poll bound")
	ErrNoReading          = errors.New("chirp: no reading recorded yet")
	ErrNotReady           = errors.New("chirp: not ready")
)

// DefaultWakeTime is how long the probe needs after a wake stimulus before
// its first measurements are trustworthy.
const DefaultWakeTime = time.Second

// DefaultPollInterval is the pause between busy-flag polls.
const DefaultPollInterval = 10 * time.Millisecond

// Scale selects the unit temperature readings are converted to.
type Scale uint8

const (
	Celsius Scale = iota
	Fahrenheit
	Kelvin
)

func (s Scale) String() string {
	switch s {
	case Celsius:
		return "celsius"
	case Fahrenheit:
		return "fahrenheit"
	case Kelvin:
		return "kelvin"
	}
	return "invalid"
}

// Channels is a set of measurement channels.
type Channels uint8

const (
	ChanMoisture Channels = 1 << iota
	ChanTemperature
	ChanLight

	ChanAll = ChanMoisture | ChanTemperature | ChanLight
)

func (c Channels) Has(ch Channels) bool { return c&ch != 0 }

// Calibration holds the raw capacitance counts that map to 0% and 100%
// soil moisture. A pair with Max == Min is rejected.
type Calibration struct {
	Min uint16
	Max uint16
}

// Config controls driver behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x20 if zero.
	Address uint16
	// PollInterval is the pause between busy polls. Default 10 ms.
	PollInterval time.Duration
	// MaxPolls bounds a single busy-wait; ErrUnresponsive is returned once
	// exceeded. Zero means no bound (the context still applies).
	MaxPolls int
	// Scale and OffsetC shape temperature readings: OffsetC is added to the
	// probe's Celsius value before conversion to Scale.
	Scale   Scale
	OffsetC float64
	// Calibration is optional; percent conversions fail until it is set.
	Calibration Calibration
	// Channels defaults to ChanAll if zero.
	Channels Channels
}

// Moisture is a recorded soil moisture reading.
type Moisture struct {
	Raw uint16
	At  time.Time
}

// Temperature is a recorded temperature reading, already offset and
// converted to the scale it carries.
type Temperature struct {
	Value float64
	Scale Scale
	At    time.Time
}

// Light is a recorded light reading. Raw 0 is brightest, 65535 darkest.
type Light struct {
	Raw uint16
	At  time.Time
}

// Sample holds the channels fetched by one Collect.
type Sample struct {
	Channels Channels // which fields below hold fresh data
	Moisture uint16
	DeciC    int16
	Light    uint16
}

// Device drives one probe. It is not safe for concurrent use; one logical
// caller owns a Device.
type Device struct {
	bus  drivers.I2C
	addr uint16

	pollInterval time.Duration
	maxPolls     int
	scale        Scale
	offsetC      float64
	hasCalib     bool
	calib        Calibration
	enabled      Channels

	lastMoist Moisture
	hasMoist  bool
	lastTemp  Temperature
	hasTemp   bool
	lastLight Light
	hasLight  bool

	// Fixed buffers to avoid per-call heap allocations.
	w [2]byte
	r [2]byte
}

// New creates a probe handle. The I2C bus must already be configured; the
// probe itself is not touched. A non-zero out-of-range address is rejected.
func New(bus drivers.I2C, cfg Config) (*Device, error) {
	addr := cfg.Address
	if addr == 0 {
		addr = AddressDefault
	}
	if addr < AddrMin || addr > AddrMax {
		return nil, ErrInvalidAddress
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Channels == 0 {
		cfg.Channels = ChanAll
	}
	d := &Device{
		bus:          bus,
		addr:         addr,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		scale:        cfg.Scale,
		offsetC:      cfg.OffsetC,
		enabled:      cfg.Channels,
	}
	if cfg.Calibration != (Calibration{}) {
		d.hasCalib = true
		d.calib = cfg.Calibration
	}
	return d, nil
}

// ---------------- Handle state ----------------

// Address returns the address the handle currently targets.
func (d *Device) Address() uint16 { return d.addr }

// Scale returns the configured temperature scale.
func (d *Device) Scale() Scale { return d.scale }

// SetScale switches the unit used for subsequent temperature readings.
func (d *Device) SetScale(s Scale) error {
	if s > Kelvin {
		return ErrInvalidScale
	}
	d.scale = s
	return nil
}

// Calibration returns the moisture bounds, if set.
func (d *Device) Calibration() (Calibration, bool) { return d.calib, d.hasCalib }

// SetCalibration installs the moisture percent bounds.
func (d *Device) SetCalibration(c Calibration) { d.calib, d.hasCalib = c, true }

// Enabled returns the channel set read by Trigger/Collect.
func (d *Device) Enabled() Channels { return d.enabled }

// SetEnabled switches the given channels on or off. Disabling a channel
// keeps its last recorded reading.
func (d *Device) SetEnabled(ch Channels, on bool) {
	if on {
		d.enabled |= ch
	} else {
		d.enabled &^= ch
	}
}

// Last recorded readings, per channel. The bool reports whether a reading
// has been recorded at all; values persist until overwritten by a newer
// read of the same channel.

func (d *Device) LastMoisture() (Moisture, bool)       { return d.lastMoist, d.hasMoist }
func (d *Device) LastTemperature() (Temperature, bool) { return d.lastTemp, d.hasTemp }
func (d *Device) LastLight() (Light, bool)             { return d.lastLight, d.hasLight }

// ---------------- Measurement ----------------

// Busy reads the status register. Safe to call in a tight loop.
func (d *Device) Busy() (bool, error) {
	v, err := d.readByte(regGetBusy)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// Trigger starts conversions for every enabled channel and returns after
// the bus writes; it never polls. Capacitance and temperature conversions
// are started by reading their registers (the stale values are discarded),
// light by the measure command.
func (d *Device) Trigger() error {
	var firstErr error
	if d.enabled.Has(ChanTemperature) {
		if _, err := d.readWord(regGetTemperature); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.enabled.Has(ChanMoisture) {
		if _, err := d.readWord(regGetCapacitance); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.enabled.Has(ChanLight) {
		if err := d.writeCmd(regMeasureLight); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Collect fetches one value per enabled channel into the device cache and
// the provided sample. If a conversion is still running, ErrNotReady is
// returned and nothing is recorded. Channels are independent: a failed
// register read does not stop the remaining channels, and the first error
// is returned after all have been attempted.
func (d *Device) Collect(out *Sample) error {
	busy, err := d.Busy()
	if err != nil {
		return err
	}
	if busy {
		return ErrNotReady
	}
	var s Sample
	var firstErr error
	if d.enabled.Has(ChanTemperature) {
		if err := d.collectTemperature(&s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.enabled.Has(ChanMoisture) {
		if err := d.collectMoisture(&s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.enabled.Has(ChanLight) {
		if err := d.collectLight(&s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if out != nil {
		*out = s
	}
	return firstErr
}

func (d *Device) collectMoisture(s *Sample) error {
	raw, err := d.readWord(regGetCapacitance)
	if err != nil {
		return err
	}
	d.lastMoist = Moisture{Raw: raw, At: time.Now()}
	d.hasMoist = true
	s.Moisture = raw
	s.Channels |= ChanMoisture
	return nil
}

func (d *Device) collectTemperature(s *Sample) error {
	raw, err := d.readS16(regGetTemperature)
	if err != nil {
		return err
	}
	v, err := d.convertTemperature(raw)
	if err != nil {
		return err
	}
	d.lastTemp = Temperature{Value: v, Scale: d.scale, At: time.Now()}
	d.hasTemp = true
	s.DeciC = raw
	s.Channels |= ChanTemperature
	return nil
}

func (d *Device) collectLight(s *Sample) error {
	raw, err := d.readWord(regGetLight)
	if err != nil {
		return err
	}
	d.lastLight = Light{Raw: raw, At: time.Now()}
	d.hasLight = true
	s.Light = raw
	s.Channels |= ChanLight
	return nil
}

// WaitIdle busy-polls until the probe reports idle. It sleeps PollInterval
// between polls and honours ctx; with MaxPolls set it gives up with
// ErrUnresponsive. This is the driver's only suspension point.
func (d *Device) WaitIdle(ctx context.Context) error {
	polls := 0
	for {
		busy, err := d.Busy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		polls++
		if d.maxPolls > 0 && polls >= d.maxPolls {
			return ErrUnresponsive
		}
		if err := sleep(ctx, d.pollInterval); err != nil {
			return err
		}
	}
}

// ReadAllEnabled runs a full cycle: trigger, busy-wait, collect. The
// returned sample covers the enabled channels that succeeded.
func (d *Device) ReadAllEnabled(ctx context.Context) (Sample, error) {
	var s Sample
	if err := d.Trigger(); err != nil {
		return s, err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return s, err
	}
	err := d.Collect(&s)
	return s, err
}

// Per-channel cycles. These honour an explicit call whether or not the
// channel is enabled; only Trigger/Collect/ReadAllEnabled gate on the
// enabled set.

// ReadMoisture runs a full moisture cycle and records the result.
func (d *Device) ReadMoisture(ctx context.Context) (Moisture, error) {
	// The stale value read here starts a fresh conversion.
	if _, err := d.readWord(regGetCapacitance); err != nil {
		return Moisture{}, err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return Moisture{}, err
	}
	raw, err := d.readWord(regGetCapacitance)
	if err != nil {
		return Moisture{}, err
	}
	d.lastMoist = Moisture{Raw: raw, At: time.Now()}
	d.hasMoist = true
	return d.lastMoist, nil
}

// ReadTemperature runs a full temperature cycle and records the result.
func (d *Device) ReadTemperature(ctx context.Context) (Temperature, error) {
	if _, err := d.readS16(regGetTemperature); err != nil {
		return Temperature{}, err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return Temperature{}, err
	}
	raw, err := d.readS16(regGetTemperature)
	if err != nil {
		return Temperature{}, err
	}
	v, err := d.convertTemperature(raw)
	if err != nil {
		return Temperature{}, err
	}
	d.lastTemp = Temperature{Value: v, Scale: d.scale, At: time.Now()}
	d.hasTemp = true
	return d.lastTemp, nil
}

// ReadLight runs a full light cycle and records the result.
func (d *Device) ReadLight(ctx context.Context) (Light, error) {
	if err := d.writeCmd(regMeasureLight); err != nil {
		return Light{}, err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return Light{}, err
	}
	raw, err := d.readWord(regGetLight)
	if err != nil {
		return Light{}, err
	}
	d.lastLight = Light{Raw: raw, At: time.Now()}
	d.hasLight = true
	return d.lastLight, nil
}

// ---------------- Lifecycle ----------------

// Sleep puts the probe into deep sleep. There is no readback; the probe
// stops responding until woken.
func (d *Device) Sleep() error {
	return d.writeCmd(regSleep)
}

// WakeUp rouses a sleeping probe and waits for it to stabilise. The wake
// stimulus is a version read whose result and error are deliberately
// discarded (a sleeping probe does not ACK). wake <= 0 waits
// DefaultWakeTime; waking for less means the first measurements may be
// nonsense.
func (d *Device) WakeUp(ctx context.Context, wake time.Duration) error {
	if wake <= 0 {
		wake = DefaultWakeTime
	}
	_, _ = d.readByte(regGetVersion)
	return sleep(ctx, wake)
}

// FirmwareVersion reads the probe's firmware version register.
func (d *Device) FirmwareVersion() (uint8, error) {
	return d.readByte(regGetVersion)
}

// ReadAddress reads the address register from the probe itself.
func (d *Device) ReadAddress() (uint16, error) {
	v, err := d.readByte(regGetAddress)
	return uint16(v), err
}

// SetAddress moves the probe to a new I2C address and resets it. The range
// is checked before anything is written; the handle's address is updated
// only after every bus operation succeeded, so a failed change leaves the
// handle targeting the probe where it still is. The register is written
// twice; single writes are not reliably latched by the firmware.
func (d *Device) SetAddress(addr uint16) error {
	if addr < AddrMin || addr > AddrMax {
		return ErrInvalidAddress
	}
	if err := d.writeByte(regSetAddress, byte(addr)); err != nil {
		return err
	}
	if err := d.writeByte(regSetAddress, byte(addr)); err != nil {
		return err
	}
	if err := d.writeCmd(regReset); err != nil {
		return err
	}
	d.addr = addr
	return nil
}

// Reset restarts the probe's firmware.
func (d *Device) Reset() error {
	return d.writeCmd(regReset)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
