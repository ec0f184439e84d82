// bridge/bridge_test.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"soilcode-go/bus"
	"soilcode-go/types"
)

func TestBridgeEstablishesUARTLinkAndReportsState(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)

	first := nextState(t, stateSub, 500*time.Millisecond)
	assertLevelStatus(t, first, "idle", "awaiting_config")

	// Inject a dialler backed by a net.Pipe; keep the remote end so the
	// test can cut the link.
	prevDial := UARTDial
	defer func() { UARTDial = prevDial }()
	var remote io.ReadWriteCloser
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		lc, rc := net.Pipe()
		remote = rc
		go remoteCollector(rc, nil)
		return lc, nil
	}

	cfg := `{"transport":{"type":"uart","uart":{"baud":115200,"rx_pin":1,"tx_pin":0}}}`
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))

	up := nextState(t, stateSub, time.Second)
	assertLevelStatus(t, up, "up", "link_established")

	// Cut the link; expect degraded with a retry note.
	if remote != nil {
		_ = remote.Close()
	}

	degraded := nextState(t, stateSub, time.Second)
	assertLevelStatus(t, degraded, "degraded", "link_lost_retrying")
}

func TestBridgeUplinksCapabilityValues(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_uplink_test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)
	_ = nextState(t, stateSub, 500*time.Millisecond) // awaiting_config

	prevDial := UARTDial
	defer func() { UARTDial = prevDial }()
	pubs := make(chan []byte, 8)
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		lc, rc := net.Pipe()
		go remoteCollector(rc, pubs)
		return lc, nil
	}

	cfg := `{"transport":{"type":"uart","uart":{"baud":115200,"rx_pin":1,"tx_pin":0}},"keepalive_ms":50}`
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))
	assertLevelStatus(t, nextState(t, stateSub, time.Second), "up", "link_established")

	val := types.MoistureValue{Raw: 412, PercentX10: 337, Calibrated: true}
	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "moisture", "soil0", "value"), val, true))

	body := nextPub(t, pubs, time.Second)
	var env struct {
		Topic []any           `json:"topic"`
		Value json.RawMessage `json:"value"`
		TsMs  int64           `json:"ts_ms"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("publish frame is not JSON: %v (%q)", err, body)
	}
	if len(env.Topic) != 5 || env.Topic[0] != "hal" || env.Topic[2] != "moisture" || env.Topic[3] != "soil0" {
		t.Fatalf("unexpected envelope topic: %v", env.Topic)
	}
	if env.TsMs == 0 {
		t.Fatalf("envelope missing timestamp")
	}
	var got types.MoistureValue
	if err := json.Unmarshal(env.Value, &got); err != nil {
		t.Fatalf("envelope value decode: %v", err)
	}
	if got != val {
		t.Fatalf("uplinked value = %+v, want %+v", got, val)
	}
}

func TestBridgeBuffersValuesAcrossLinkOutage(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_buffer_test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)
	_ = nextState(t, stateSub, 500*time.Millisecond) // awaiting_config

	prevDial := UARTDial
	defer func() { UARTDial = prevDial }()
	pubs := make(chan []byte, 8)
	var allow atomic.Bool
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		if !allow.Load() {
			return nil, errors.New("no carrier")
		}
		lc, rc := net.Pipe()
		go remoteCollector(rc, pubs)
		return lc, nil
	}

	cfg := `{"transport":{"type":"uart","uart":{"baud":115200,"rx_pin":1,"tx_pin":0}},"keepalive_ms":50,"ring_bytes":1024}`
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))
	assertLevelStatus(t, nextState(t, stateSub, time.Second), "degraded", "dial_failed_retrying")

	// Values published during the outage must survive to the reconnect.
	for _, raw := range []uint16{100, 200} {
		val := types.MoistureValue{Raw: raw, Calibrated: false}
		conn.Publish(conn.NewMessage(bus.T("hal", "capability", "moisture", "soil0", "value"), val, false))
	}
	time.Sleep(50 * time.Millisecond) // let the collector drain the subscription
	allow.Store(true)

	assertLevelStatus(t, nextStateMatching(t, stateSub, 3*time.Second, "up"), "up", "link_established")

	for _, want := range []uint16{100, 200} {
		body := nextPub(t, pubs, time.Second)
		var env struct {
			Value types.MoistureValue `json:"value"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			t.Fatalf("publish frame decode: %v", err)
		}
		if env.Value.Raw != want {
			t.Fatalf("buffered value out of order: got raw=%d, want %d", env.Value.Raw, want)
		}
	}
}

func TestBridgeUnknownTransportYieldsErrorState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test_bad")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)

	_ = nextState(t, stateSub, 500*time.Millisecond) // initial awaiting_config

	cfg := `{"transport":{"type":"bogus"}}`
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))

	errState := nextState(t, stateSub, time.Second)
	assertLevelStatus(t, errState, "error", "transport_init_failed")
}

func TestUplinkDropsWholeFramesWhenRingFull(t *testing.T) {
	up := newUplink(512)
	msg := &bus.Message{
		Topic:   bus.T("hal", "capability", "moisture", "soil0", "value"),
		Payload: types.MoistureValue{Raw: 7, PercentX10: 123, Calibrated: true},
	}

	queued := 0
	for i := 0; i < 100; i++ {
		if up.enqueue(msg) {
			queued++
		}
	}
	if queued == 0 || queued == 100 {
		t.Fatalf("expected some frames queued and some dropped, queued=%d", queued)
	}
	if got := up.Dropped(); got != uint32(100-queued) {
		t.Fatalf("Dropped() = %d, want %d", got, 100-queued)
	}

	// Every queued frame must come back whole and decodable.
	buf := make([]byte, up.maxFrameBytes())
	popped := 0
	for {
		f := up.popFrame(buf)
		if f == nil {
			break
		}
		if f[0] != framePub {
			t.Fatalf("frame %d: type = %#x, want framePub", popped, f[0])
		}
		var env struct {
			Value types.MoistureValue `json:"value"`
		}
		if err := json.Unmarshal(f[frameHeaderLen:], &env); err != nil {
			t.Fatalf("frame %d: payload decode: %v", popped, err)
		}
		if env.Value.Raw != 7 {
			t.Fatalf("frame %d: value raw = %d, want 7", popped, env.Value.Raw)
		}
		popped++
	}
	if popped != queued {
		t.Fatalf("popped %d frames, queued %d", popped, queued)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// remoteCollector services the wire protocol from the far end: it replies
// PONG to PING and hands publish payloads to pubs (when non-nil). It exits
// on read/write error.
func remoteCollector(c io.ReadWriteCloser, pubs chan<- []byte) {
	defer c.Close()
	hdr := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(c, hdr); err != nil {
			return
		}
		typ := hdr[0]
		n := int(hdr[1])<<8 | int(hdr[2])
		var payload []byte
		if n > 0 {
			payload = make([]byte, n)
			if _, err := io.ReadFull(c, payload); err != nil {
				return
			}
		}
		switch typ {
		case framePing:
			if _, err := c.Write([]byte{framePong, 0, 0}); err != nil {
				return
			}
		case framePub:
			if pubs != nil {
				select {
				case pubs <- payload:
				default:
				}
			}
		}
	}
}

func nextState(t *testing.T, sub *bus.Subscription, d time.Duration) types.ServiceState {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		st, ok := m.Payload.(types.ServiceState)
		if !ok {
			t.Fatalf("state payload type: got %T, want types.ServiceState", m.Payload)
		}
		return st
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return types.ServiceState{}
	}
}

// nextStateMatching skips intermediate states (e.g. repeated dial retries)
// until one with the wanted level arrives.
func nextStateMatching(t *testing.T, sub *bus.Subscription, d time.Duration, level string) types.ServiceState {
	t.Helper()
	deadline := time.Now().Add(d)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			t.Fatalf("timeout waiting for bridge/state level=%q", level)
		}
		st := nextState(t, sub, remain)
		if st.Level == level {
			return st
		}
	}
}

func nextPub(t *testing.T, pubs <-chan []byte, d time.Duration) []byte {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case p := <-pubs:
		return p
	case <-timer.C:
		t.Fatalf("timeout waiting for publish frame")
		return nil
	}
}

func assertLevelStatus(t *testing.T, st types.ServiceState, wantLevel, wantStatus string) {
	t.Helper()
	if st.Level != wantLevel || st.Status != wantStatus {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q (error=%q)",
			st.Level, st.Status, wantLevel, wantStatus, st.Error)
	}
}
