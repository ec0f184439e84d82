// services/hal/internal/service/service_test.go
package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"soilcode-go/bus"
	"soilcode-go/services/hal/internal/consts"
	"soilcode-go/services/hal/internal/halcore"
	"soilcode-go/services/hal/internal/platform"
	"soilcode-go/services/hal/internal/registry"
	"soilcode-go/types"
	"soilcode-go/x/timex"

	_ "soilcode-go/services/hal/internal/devices/chirpadpt"
)

// ---- Scripted I2C probe ----

// Probe register numbers, as documented for the sensor firmware.
const (
	regCap     = 0x00
	regLight   = 0x04
	regTemp    = 0x05
	regVersion = 0x07
)

// fakeProbe answers register reads from per-register queues; the last
// queued value sticks. Unqueued registers read as zero.
type fakeProbe struct {
	mu    sync.Mutex
	addr  uint16
	words map[byte][]uint16
}

func newFakeProbe(addr uint16) *fakeProbe {
	return &fakeProbe{addr: addr, words: map[byte][]uint16{}}
}

func (f *fakeProbe) queue(reg byte, vals ...uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.words[reg] = append(f.words[reg], vals...)
}

func (f *fakeProbe) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr != f.addr || len(w) == 0 {
		return errors.New("i2c: no ack from device")
	}
	if len(r) == 0 {
		return nil // command or register write
	}
	q := f.words[w[0]]
	var v uint16
	if len(q) > 0 {
		v = q[0]
		if len(q) > 1 {
			f.words[w[0]] = q[1:]
		}
	}
	if len(r) == 2 {
		r[0] = byte(v >> 8)
		r[1] = byte(v)
	} else {
		r[0] = byte(v)
	}
	return nil
}

// ---- Scripted adaptor for config plumbing tests ----

type scriptAdaptor struct{ id string }

func (a *scriptAdaptor) ID() string { return a.id }

func (a *scriptAdaptor) Capabilities() []halcore.CapInfo {
	return []halcore.CapInfo{{Kind: consts.KindMoisture,
		Info: types.Info{SchemaVersion: 1, Driver: "script"}}}
}

func (a *scriptAdaptor) Trigger(ctx context.Context) (time.Duration, error) {
	return time.Millisecond, nil
}

func (a *scriptAdaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	return halcore.Sample{{Kind: consts.KindMoisture,
		Payload: types.MoistureValue{Raw: 1}, TsMs: timex.NowMs()}}, nil
}

func (a *scriptAdaptor) Control(kind, method string, payload any) (any, error) {
	return types.OKReply{OK: true}, nil
}

type scriptBuilder struct{}

func (scriptBuilder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	return registry.BuildOutput{
		Adaptor:     &scriptAdaptor{id: in.DeviceID},
		BusID:       "bus0",
		SampleEvery: 250 * time.Millisecond,
	}, nil
}

func ensureRegistered(t *testing.T, typ string, b registry.Builder) {
	t.Helper()
	if _, ok := registry.Lookup(typ); !ok {
		registry.RegisterBuilder(typ, b)
	}
}

// ---- Helpers ----

func recvWithin[T any](t *testing.T, ch <-chan T, d time.Duration) (T, bool) {
	t.Helper()
	var zero T
	select {
	case v := <-ch:
		return v, true
	case <-time.After(d):
		return zero, false
	}
}

func waitServiceLevel(t *testing.T, sub *bus.Subscription, level string, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			t.Fatalf("timeout waiting for hal/state level=%q", level)
		}
		msg, ok := recvWithin(t, sub.Channel(), remain)
		if !ok {
			t.Fatalf("timeout waiting for hal/state level=%q", level)
		}
		st, ok := msg.Payload.(types.ServiceState)
		if !ok {
			t.Fatalf("hal/state payload type: got %T", msg.Payload)
		}
		if st.Level == level {
			return
		}
	}
}

func requestWait(t *testing.T, conn *bus.Connection, topic bus.Topic, payload any) *bus.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := conn.RequestWait(ctx, conn.NewMessage(topic, payload, false))
	if err != nil {
		t.Fatalf("request on %v failed: %v", topic, err)
	}
	return reply
}

func soilProbeConfig() types.HALConfig {
	return types.HALConfig{Devices: []types.Device{{
		ID:   "soil0",
		Type: "chirp",
		Params: map[string]any{
			"addr":            32,
			"cal_min":         240,
			"cal_max":         750,
			"sample_every_ms": 200,
		},
		BusRef: types.BusRef{Type: "i2c", ID: "i2c1"},
	}}}
}

// ---- Tests ----

func TestServicePublishesTypedValuesEndToEnd(t *testing.T) {
	probe := newFakeProbe(0x20)
	probe.queue(regCap, 495) // (495-240)*100/510 = 50.0%
	probe.queue(regTemp, 231)
	probe.queue(regLight, 291)
	probe.queue(regVersion, 0x26)

	buses := platform.NewFactory()
	buses.Add("i2c1", probe)

	b := bus.NewBus(16)
	conn := b.NewConnection("hal_test")
	svc := New(conn, buses)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	stateSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokState})
	defer conn.Unsubscribe(stateSub)
	waitServiceLevel(t, stateSub, "idle", time.Second)

	infoSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindMoisture, 0, consts.TokInfo})
	defer conn.Unsubscribe(infoSub)
	moistSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindMoisture, 0, consts.TokValue})
	defer conn.Unsubscribe(moistSub)
	tempSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindTemperature, 0, consts.TokValue})
	defer conn.Unsubscribe(tempSub)
	lightSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindLight, 0, consts.TokValue})
	defer conn.Unsubscribe(lightSub)
	capStSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindMoisture, 0, consts.TokState})
	defer conn.Unsubscribe(capStSub)

	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL}, soilProbeConfig(), false))
	waitServiceLevel(t, stateSub, "ready", time.Second)

	// Info document appears at configuration time.
	msg, ok := recvWithin(t, infoSub.Channel(), time.Second)
	if !ok {
		t.Fatal("timeout waiting for moisture info")
	}
	info, ok := msg.Payload.(types.Info)
	if !ok {
		t.Fatalf("info payload type: got %T", msg.Payload)
	}
	if info.Driver != "chirp" || info.SchemaVersion != 1 {
		t.Fatalf("unexpected info: %+v", info)
	}
	detail, ok := info.Detail.(types.MoistureInfo)
	if !ok || detail.Addr != 0x20 || detail.Bus != "i2c1" {
		t.Fatalf("unexpected info detail: %+v", info.Detail)
	}

	// First periodic reading lands shortly after configuration.
	msg, ok = recvWithin(t, moistSub.Channel(), 2*time.Second)
	if !ok {
		t.Fatal("timeout waiting for moisture value")
	}
	mv, ok := msg.Payload.(types.MoistureValue)
	if !ok {
		t.Fatalf("moisture payload type: got %T", msg.Payload)
	}
	if mv.Raw != 495 || mv.PercentX10 != 500 || !mv.Calibrated {
		t.Fatalf("moisture = %+v, want raw=495 percent_x10=500 calibrated", mv)
	}

	msg, ok = recvWithin(t, tempSub.Channel(), time.Second)
	if !ok {
		t.Fatal("timeout waiting for temperature value")
	}
	if tv := msg.Payload.(types.TemperatureValue); tv.DeciC != 231 {
		t.Fatalf("temperature = %+v, want deci_c=231", tv)
	}

	msg, ok = recvWithin(t, lightSub.Channel(), time.Second)
	if !ok {
		t.Fatal("timeout waiting for light value")
	}
	if lv := msg.Payload.(types.LightValue); lv.Raw != 291 {
		t.Fatalf("light = %+v, want raw=291", lv)
	}

	// Capability state follows the successful read.
	for {
		msg, ok = recvWithin(t, capStSub.Channel(), time.Second)
		if !ok {
			t.Fatal("timeout waiting for capability state")
		}
		if st := msg.Payload.(types.CapabilityStatus); st.Link == types.LinkUp {
			break
		}
	}

	// Control plane: immediate read, rate change, firmware version.
	reply := requestWait(t, conn,
		bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindMoisture, 0, consts.TokControl, consts.CtrlReadNow}, nil)
	if ack, ok := reply.Payload.(types.ReadNowAck); !ok || !ack.OK {
		t.Fatalf("read_now reply: %+v", reply.Payload)
	}

	reply = requestWait(t, conn,
		bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindMoisture, 0, consts.TokControl, consts.CtrlSetRate},
		types.SetRate{EveryMs: 300})
	if ack, ok := reply.Payload.(types.SetRateAck); !ok || !ack.OK || ack.EveryMs != 300 {
		t.Fatalf("set_rate reply: %+v", reply.Payload)
	}

	reply = requestWait(t, conn,
		bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindTemperature, 0, consts.TokControl, consts.CtrlVersion}, nil)
	if vr, ok := reply.Payload.(types.VersionReply); !ok || !vr.OK || vr.Version != 0x26 {
		t.Fatalf("version reply: %+v", reply.Payload)
	}
}

func TestServiceControlUnknownCapability(t *testing.T) {
	ensureRegistered(t, "script", scriptBuilder{})

	b := bus.NewBus(8)
	conn := b.NewConnection("hal_test_badcap")
	svc := New(conn, platform.NewFactory())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	stateSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokState})
	defer conn.Unsubscribe(stateSub)
	waitServiceLevel(t, stateSub, "idle", time.Second)

	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL},
		types.HALConfig{Devices: []types.Device{{ID: "dX", Type: "script"}}}, false))
	waitServiceLevel(t, stateSub, "ready", time.Second)

	// Capability id 7 was never allocated.
	reply := requestWait(t, conn,
		bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindMoisture, 7, consts.TokControl, consts.CtrlReadNow}, nil)
	er, ok := reply.Payload.(types.ErrorReply)
	if !ok || er.OK {
		t.Fatalf("expected error reply, got %+v", reply.Payload)
	}
}

func TestServiceApplyConfigRemovesDevices(t *testing.T) {
	ensureRegistered(t, "script", scriptBuilder{})

	b := bus.NewBus(8)
	conn := b.NewConnection("hal_test_rm")
	svc := New(conn, platform.NewFactory())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	stateSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokState})
	defer conn.Unsubscribe(stateSub)
	waitServiceLevel(t, stateSub, "idle", time.Second)

	capStSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, consts.KindMoisture, "+", consts.TokState})
	defer conn.Unsubscribe(capStSub)

	waitCapLink := func(want types.Link, d time.Duration) {
		deadline := time.Now().Add(d)
		for {
			remain := time.Until(deadline)
			if remain <= 0 {
				t.Fatalf("timeout waiting for capability link=%q", want)
			}
			msg, ok := recvWithin(t, capStSub.Channel(), remain)
			if !ok {
				t.Fatalf("timeout waiting for capability link=%q", want)
			}
			if st, ok := msg.Payload.(types.CapabilityStatus); ok && st.Link == want {
				return
			}
		}
	}

	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL},
		types.HALConfig{Devices: []types.Device{{ID: "dY", Type: "script"}}}, false))
	waitCapLink(types.LinkUp, 2*time.Second)

	// Removing the device retires its capabilities.
	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL},
		types.HALConfig{Devices: nil}, false))
	waitCapLink(types.LinkDown, 2*time.Second)
}
