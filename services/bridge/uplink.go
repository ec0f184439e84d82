package bridge

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"soilcode-go/bus"
	"soilcode-go/x/shmring"
	"soilcode-go/x/timex"
)

// uplink turns capability value messages into publish frames and buffers
// them in a byte ring until the link writer drains them. The ring is the
// store-and-forward stage: frames queued while the link is down are sent
// once it comes back. Single producer (the collector goroutine), single
// consumer (the link writer).
type uplink struct {
	ring    *shmring.Ring
	scratch []byte // producer-side frame assembly buffer
	dropped atomic.Uint32
}

// valueEnvelope is the JSON payload of a publish frame.
type valueEnvelope struct {
	Topic []any `json:"topic"`
	Value any   `json:"value"`
	TsMs  int64 `json:"ts_ms"`
}

func newUplink(ringBytes int) *uplink {
	if ringBytes < 512 {
		ringBytes = 4096
	}
	// Round up to a power of two, as the ring requires.
	size := 512
	for size < ringBytes {
		size <<= 1
	}
	return &uplink{ring: shmring.New(size)}
}

// collect drains a value subscription into the ring until the channel
// closes or ctx ends. Runs on its own goroutine.
func (u *uplink) collect(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			u.enqueue(msg)
		}
	}
}

// enqueue frames one message into the ring. Frames that do not fit whole
// are dropped and counted: a torn frame would desynchronise the remote
// decoder after a reconnect, losing every later frame instead of one.
func (u *uplink) enqueue(msg *bus.Message) bool {
	env := valueEnvelope{Topic: msg.Topic, Value: msg.Payload, TsMs: timex.NowMs()}
	body, err := json.Marshal(env)
	if err != nil || len(body) > maxFramePayload {
		u.dropped.Add(1)
		return false
	}
	u.scratch = u.scratch[:0]
	u.scratch, _ = appendFrame(u.scratch, framePub, body)
	if u.ring.Space() < len(u.scratch) {
		u.dropped.Add(1)
		return false
	}
	u.ring.TryWriteFrom(u.scratch)
	return true
}

// popFrame copies the next whole frame from the ring into buf and returns
// it, or nil when the ring holds none. Because enqueue only ever writes
// complete frames, a visible header guarantees the payload is present.
func (u *uplink) popFrame(buf []byte) []byte {
	if u.ring.Available() < frameHeaderLen {
		return nil
	}
	buf = buf[:frameHeaderLen]
	readFull(u.ring, buf)
	n := int(buf[1])<<8 | int(buf[2])
	if n == 0 {
		return buf
	}
	buf = buf[:frameHeaderLen+n]
	readFull(u.ring, buf[frameHeaderLen:])
	return buf
}

// Dropped reports frames discarded because they could not fit the ring.
func (u *uplink) Dropped() uint32 { return u.dropped.Load() }

// maxFrameBytes bounds any single frame: enqueue refuses frames larger
// than the ring, so a drain buffer this big always fits popFrame.
func (u *uplink) maxFrameBytes() int { return u.ring.Cap() }

func readFull(r *shmring.Ring, dst []byte) {
	got := 0
	for got < len(dst) {
		got += r.TryReadInto(dst[got:])
	}
}
