// services/hal/internal/devices/chirpadpt/builder.go
package chirpadpt

import (
	"time"

	chirpdrv "soilcode-go/drivers/chirp"
	"soilcode-go/services/hal/internal/halerr"
	"soilcode-go/services/hal/internal/registry"
	"soilcode-go/services/hal/internal/util"
	"soilcode-go/x/mathx"
	"soilcode-go/x/strx"
)

// ---------------- Params supplied via config ----------------

type Params struct {
	Addr          int      `json:"addr,omitempty"`
	CalMin        uint16   `json:"cal_min,omitempty"`
	CalMax        uint16   `json:"cal_max,omitempty"`
	Scale         string   `json:"scale,omitempty"` // "celsius" (default), "fahrenheit", "kelvin"
	OffsetC       float64  `json:"offset_c,omitempty"`
	Channels      []string `json:"channels,omitempty"` // default: all three
	PollMS        int      `json:"poll_ms,omitempty"`
	MaxPolls      int      `json:"max_polls,omitempty"`
	SampleEveryMS int      `json:"sample_every_ms,omitempty"`
}

func parseScale(s string) (chirpdrv.Scale, bool) {
	switch s {
	case "celsius":
		return chirpdrv.Celsius, true
	case "fahrenheit":
		return chirpdrv.Fahrenheit, true
	case "kelvin":
		return chirpdrv.Kelvin, true
	}
	return 0, false
}

func parseChannels(names []string) (chirpdrv.Channels, bool) {
	if len(names) == 0 {
		return chirpdrv.ChanAll, true
	}
	var set chirpdrv.Channels
	for _, n := range names {
		switch n {
		case "moisture":
			set |= chirpdrv.ChanMoisture
		case "temperature":
			set |= chirpdrv.ChanTemperature
		case "light":
			set |= chirpdrv.ChanLight
		default:
			return 0, false
		}
	}
	return set, true
}

// Register builder.
func init() { registry.RegisterBuilder("chirp", builder{}) }

type builder struct{}

func (builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	if in.BusRefType != "i2c" || in.BusRefID == "" {
		return registry.BuildOutput{}, halerr.ErrMissingBusRef
	}
	i2c, ok := in.Buses.ByID(in.BusRefID)
	if !ok {
		return registry.BuildOutput{}, halerr.ErrUnknownBus
	}

	var p Params
	if err := util.DecodeJSON(in.ParamsJSON, &p); err != nil {
		return registry.BuildOutput{}, err
	}

	scale, ok := parseScale(strx.Coalesce(p.Scale, "celsius"))
	if !ok {
		return registry.BuildOutput{}, halerr.ErrInvalidParams
	}
	channels, ok := parseChannels(p.Channels)
	if !ok {
		return registry.BuildOutput{}, halerr.ErrInvalidParams
	}

	cfg := chirpdrv.Config{
		Address:  uint16(p.Addr),
		Scale:    scale,
		OffsetC:  p.OffsetC,
		Channels: channels,
		MaxPolls: mathx.Clamp(p.MaxPolls, 0, 10_000),
	}
	if p.PollMS > 0 {
		cfg.PollInterval = time.Duration(mathx.Clamp(p.PollMS, 1, 1000)) * time.Millisecond
	}
	if p.CalMin != 0 || p.CalMax != 0 {
		cfg.Calibration = chirpdrv.Calibration{Min: p.CalMin, Max: p.CalMax}
	}

	dev, err := chirpdrv.New(i2c, cfg)
	if err != nil {
		return registry.BuildOutput{}, err
	}

	// Let the first conversion finish before the first collect attempt.
	settle := 20 * time.Millisecond
	if p.PollMS > 0 {
		settle = 2 * time.Duration(p.PollMS) * time.Millisecond
	}

	ad := &adaptor{
		id:         in.DeviceID,
		dev:        dev,
		bus:        in.BusRefID,
		settle:     settle,
		offsetDeci: deciFrom(p.OffsetC),
	}

	out := registry.BuildOutput{
		Adaptor:     ad,
		BusID:       in.BusRefID,
		SampleEvery: time.Duration(mathx.Clamp(p.SampleEveryMS, 0, 3_600_000)) * time.Millisecond,
	}
	if out.SampleEvery <= 0 {
		out.SampleEvery = 2 * time.Second
	}
	return out, nil
}

// deciFrom converts a float offset in °C to tenths, rounding half away
// from zero.
func deciFrom(c float64) int16 {
	v := c * 10
	if v >= 0 {
		return int16(v + 0.5)
	}
	return int16(v - 0.5)
}
