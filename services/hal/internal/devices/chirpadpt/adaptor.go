// services/hal/internal/devices/chirpadpt/adaptor.go
//
// Adaptor exposing one Chirp soil probe as moisture/temperature/light
// capabilities. The probe shares its single conversion engine across
// channels, so Trigger starts everything at once and Collect drains the
// results when the busy flag clears.
package chirpadpt

import (
	"context"
	"errors"
	"time"

	chirpdrv "soilcode-go/drivers/chirp"
	"soilcode-go/errcode"
	"soilcode-go/services/hal/internal/consts"
	"soilcode-go/services/hal/internal/halcore"
	"soilcode-go/services/hal/internal/halerr"
	"soilcode-go/services/hal/internal/util"
	"soilcode-go/types"
	"soilcode-go/x/mathx"
	"soilcode-go/x/timex"
)

type adaptor struct {
	id         string
	dev        *chirpdrv.Device
	bus        string
	settle     time.Duration // Trigger -> Collect delay hint
	offsetDeci int16         // calibration offset applied to published temperatures
}

func (a *adaptor) ID() string { return a.id }

func (a *adaptor) Capabilities() []halcore.CapInfo {
	var out []halcore.CapInfo
	en := a.dev.Enabled()
	addr := a.dev.Address()
	if en.Has(chirpdrv.ChanMoisture) {
		out = append(out, halcore.CapInfo{
			Kind: consts.KindMoisture,
			Info: types.Info{SchemaVersion: 1, Driver: "chirp",
				Detail: types.MoistureInfo{Sensor: "chirp", Addr: addr, Bus: a.bus}},
		})
	}
	if en.Has(chirpdrv.ChanTemperature) {
		out = append(out, halcore.CapInfo{
			Kind: consts.KindTemperature,
			Info: types.Info{SchemaVersion: 1, Driver: "chirp",
				Detail: types.TemperatureInfo{Sensor: "chirp", Addr: addr, Bus: a.bus}},
		})
	}
	if en.Has(chirpdrv.ChanLight) {
		out = append(out, halcore.CapInfo{
			Kind: consts.KindLight,
			Info: types.Info{SchemaVersion: 1, Driver: "chirp",
				Detail: types.LightInfo{Sensor: "chirp", Addr: addr, Bus: a.bus}},
		})
	}
	return out
}

func (a *adaptor) Trigger(ctx context.Context) (time.Duration, error) {
	if err := a.dev.Trigger(); err != nil {
		return 0, err
	}
	return a.settle, nil
}

func (a *adaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	var s chirpdrv.Sample
	if err := a.dev.Collect(&s); err != nil {
		if errors.Is(err, chirpdrv.ErrNotReady) {
			return nil, halcore.ErrNotReady
		}
		return nil, err
	}

	ts := timex.NowMs()
	var out halcore.Sample
	if s.Channels.Has(chirpdrv.ChanMoisture) {
		mv := types.MoistureValue{Raw: s.Moisture}
		if pct, err := a.dev.MoistToPercent(s.Moisture); err == nil {
			mv.PercentX10 = roundX10(pct)
			mv.Calibrated = true
		}
		out = append(out, halcore.Reading{Kind: consts.KindMoisture, Payload: mv, TsMs: ts})
	}
	if s.Channels.Has(chirpdrv.ChanTemperature) {
		out = append(out, halcore.Reading{
			Kind:    consts.KindTemperature,
			Payload: types.TemperatureValue{DeciC: s.DeciC + a.offsetDeci},
			TsMs:    ts,
		})
	}
	if s.Channels.Has(chirpdrv.ChanLight) {
		out = append(out, halcore.Reading{Kind: consts.KindLight, Payload: types.LightValue{Raw: s.Light}, TsMs: ts})
	}
	return out, nil
}

// Control handles probe-level verbs. The probe is one physical device, so
// every capability kind it exposes accepts the same lifecycle verbs.
func (a *adaptor) Control(kind, method string, payload any) (any, error) {
	switch method {
	case consts.CtrlSleep:
		if err := a.dev.Sleep(); err != nil {
			return nil, wrap(method, err)
		}
		return types.OKReply{OK: true}, nil

	case consts.CtrlWake:
		var p types.Wake
		if err := util.DecodeJSON(payload, &p); err != nil {
			return nil, halerr.ErrInvalidPayload
		}
		// Blocks the control plane for the settle time; bounded above.
		wake := time.Duration(mathx.Clamp(p.WakeMs, 0, 10_000)) * time.Millisecond
		if err := a.dev.WakeUp(context.Background(), wake); err != nil {
			return nil, wrap(method, err)
		}
		return types.OKReply{OK: true}, nil

	case consts.CtrlSetAddress:
		var p types.SetAddress
		if err := util.DecodeJSON(payload, &p); err != nil {
			return nil, halerr.ErrInvalidPayload
		}
		if err := a.dev.SetAddress(p.Addr); err != nil {
			return nil, wrap(method, err)
		}
		return types.AddressReply{OK: true, Addr: a.dev.Address()}, nil

	case consts.CtrlReset:
		if err := a.dev.Reset(); err != nil {
			return nil, wrap(method, err)
		}
		return types.OKReply{OK: true}, nil

	case consts.CtrlVersion:
		v, err := a.dev.FirmwareVersion()
		if err != nil {
			return nil, wrap(method, err)
		}
		return types.VersionReply{OK: true, Version: v}, nil

	case consts.CtrlAddress:
		addr, err := a.dev.ReadAddress()
		if err != nil {
			return nil, wrap(method, err)
		}
		return types.AddressReply{OK: true, Addr: addr}, nil

	default:
		return nil, halcore.ErrUnsupported
	}
}

// wrap attaches the stable error code so control replies carry a short
// machine-readable prefix.
func wrap(method string, err error) error {
	return &errcode.E{C: errcode.MapDriverErr(err), Op: "chirp." + method, Msg: err.Error(), Err: err}
}

func roundX10(v float64) int32 {
	v *= 10
	if v >= 0 {
		return int32(v + 0.5)
	}
	return int32(v - 0.5)
}
