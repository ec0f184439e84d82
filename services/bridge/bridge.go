// Package bridge uplinks probe telemetry to a collector over a framed
// point-to-point link (UART to a gateway in the field units).
//
// The service watches "config/bridge" for its link configuration and
// supervises one link at a time: dial with exponential backoff, ping/pong
// keepalive, and reconnect on loss. Every retained value published under
// hal/capability/<kind>/<id>/value is encoded as a JSON publish frame;
// frames queued while the link is down are buffered in a byte ring and
// flushed on reconnect, so a flaky link loses as little as possible.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"soilcode-go/bus"
	"soilcode-go/types"
	"soilcode-go/x/fmtx"
	"soilcode-go/x/timex"
)

// Start runs the bridge service. It blocks until ctx is cancelled.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.Topic{"bridge", "state"},
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`
	// RingBytes sizes the store-and-forward buffer (rounded up to a power
	// of two, default 4096).
	RingBytes int `json:"ring_bytes,omitempty"`
	// KeepaliveMS is the ping interval, default 5000.
	KeepaliveMS int `json:"keepalive_ms,omitempty"`
}

type TransportConfig struct {
	// "uart" (built in) or a name registered via RegisterTransport.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
}

// UARTConfig carries enough for the injected dialler to open the UART.
type UARTConfig struct {
	Port           int `json:"port"` // UART instance, 0 or 1
	Baud           int `json:"baud"`
	RxPin          int `json:"rx_pin"` // platform pin numbers
	TxPin          int `json:"tx_pin"`
	ReadTimeoutMS  int `json:"read_timeout_ms,omitempty"`
	WriteTimeoutMS int `json:"write_timeout_ms,omitempty"`
}

func (c Config) keepalive() time.Duration {
	if c.KeepaliveMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.KeepaliveMS) * time.Millisecond
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

var topicValues = bus.Topic{"hal", "capability", "+", "+", "value"}

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.Topic{"config", "bridge"})
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	// The uplink outlives individual dials: whatever queues during an
	// outage is flushed on the next connect. Subscribing here replays the
	// retained current values, so a fresh link starts with a full picture.
	up := newUplink(cfg.RingBytes)
	valSub := s.conn.Subscribe(topicValues)
	defer s.conn.Unsubscribe(valSub)
	go up.collect(ctx, valSub)

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmtx.Errorf("%v (retry in %s)", err, delay.String()))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		if err := s.handleLink(ctx, rwc, up, cfg.keepalive()); err != nil {
			_ = rwc.Close()
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmtx.Errorf("%v (retry in %s)", err, delay.String()))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		// Clean close: restart only on new config.
		_ = rwc.Close()
		return
	}
}

// handleLink owns one established link until it drops or ctx ends.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser, up *uplink, keepalive time.Duration) error {
	rd := newFramedReader(rwc)
	wr := newFramedWriter(rwc)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			switch f.Type {
			case framePong:
				// Liveness confirmed; nothing to record yet.
			default:
				// The uplink is one-way; drop anything else.
			}
		}
	}()

	drain := make([]byte, up.maxFrameBytes())

	// Frames queued while disconnected go out before anything else.
	if err := flushRing(rwc, up, drain); err != nil {
		return err
	}

	tick := time.NewTicker(keepalive)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = wr.WriteFrame(Frame{Type: frameClose})
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
			return nil
		case <-up.ring.Readable():
			if err := flushRing(rwc, up, drain); err != nil {
				return err
			}
		case <-tick.C:
			// The tick doubles as a poll: Readable only fires on the
			// empty-to-non-empty edge, which a concurrent flush can miss.
			if err := flushRing(rwc, up, drain); err != nil {
				return err
			}
			if err := wr.WriteFrame(Frame{Type: framePing}); err != nil {
				return err
			}
		}
	}
}

// flushRing copies queued frames from the ring to the link. A failed
// write loses only the frame in flight; the rest stay queued.
func flushRing(w io.Writer, up *uplink, buf []byte) error {
	for {
		f := up.popFrame(buf)
		if f == nil {
			return nil
		}
		if _, err := w.Write(f); err != nil {
			return err
		}
	}
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu     sync.RWMutex
	registry  = map[string]transportFactory{}
	errNoDial = errors.New("no UART dialler installed for this platform")
)

// RegisterTransport lets other packages add link types (e.g. "tcp").
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "uart":
		return newUARTTransport(cfg)
	default:
		return nil, fmtx.Errorf("unknown transport type: %s", cfg.Type)
	}
}

// UARTDial is injected by platform code; see uart_rp2xxx.go for the MCU
// wiring. Tests substitute an in-memory pipe.
var UARTDial func(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error)

type uartTransport struct {
	cfg TransportConfig
}

func newUARTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.UART == nil {
		return nil, errors.New("uart transport requires uart config")
	}
	return &uartTransport{cfg: cfg}, nil
}

func (u *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if UARTDial == nil {
		return nil, errNoDial
	}
	return UARTDial(ctx, *u.cfg.UART)
}

func (u *uartTransport) String() string { return "uart" }

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case []byte:
		err := json.Unmarshal(v, &cfg)
		return cfg, err
	case string:
		err := json.Unmarshal([]byte(v), &cfg)
		return cfg, err
	default:
		// Already-decoded object (the config service publishes maps);
		// re-marshal for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		err = json.Unmarshal(b, &cfg)
		return cfg, err
	}
}

func (s *Service) publishState(level, status string, err error) {
	pl := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		pl.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, pl, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
