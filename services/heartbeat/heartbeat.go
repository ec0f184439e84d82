// Package heartbeat emits a periodic liveness tick: a println for the
// serial console and a retained message on "heartbeat/state" so other
// services (and the uplink) can see the probe is alive.
package heartbeat

import (
	"context"
	"time"

	"soilcode-go/bus"
	"soilcode-go/types"
	"soilcode-go/x/timex"
)

var (
	topicConfigHeartbeat = bus.Topic{"config", "heartbeat"}
	topicState           = bus.Topic{"heartbeat", "state"}
)

// DefaultInterval is used until config arrives.
const DefaultInterval = time.Second

type Service struct{}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(DefaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			println("[heartbeat] stopping")
			return

		case t := <-tick.C:
			println("[heartbeat]", t.Format("15:04:05"))
			conn.Publish(conn.NewMessage(topicState,
				types.ServiceState{Level: "up", Status: "tick", TS: timex.NowMs()}, true))

		case msg := <-cfgSub.Channel():
			// Config is {"interval": seconds}; fractional values are fine.
			if d, ok := intervalFrom(msg.Payload); ok {
				tick.Reset(d)
				println("[heartbeat] interval set")
			}
		}
	}
}

func intervalFrom(payload any) (time.Duration, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0, false
	}
	secs, ok := m["interval"].(float64)
	if !ok || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Start launches the heartbeat loop in its own goroutine.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
