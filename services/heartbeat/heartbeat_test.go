package heartbeat

import (
	"context"
	"testing"
	"time"

	"soilcode-go/bus"
	"soilcode-go/types"
)

func TestHeartbeatPublishesRetainedState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("heartbeat-test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := (&Service{}).Start(ctx, conn); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub := conn.Subscribe(topicState)
	defer conn.Unsubscribe(sub)

	select {
	case m := <-sub.Channel():
		st, ok := m.Payload.(types.ServiceState)
		if !ok {
			t.Fatalf("payload type = %T, want types.ServiceState", m.Payload)
		}
		if st.Level != "up" || st.TS == 0 {
			t.Fatalf("state = %+v", st)
		}
		if !m.Retained {
			t.Fatal("heartbeat state should be retained")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat within 2s of the default interval")
	}
}

func TestIntervalFrom(t *testing.T) {
	if d, ok := intervalFrom(map[string]any{"interval": 2.0}); !ok || d != 2*time.Second {
		t.Fatalf("interval 2 = %v, %v", d, ok)
	}
	if d, ok := intervalFrom(map[string]any{"interval": 0.5}); !ok || d != 500*time.Millisecond {
		t.Fatalf("interval 0.5 = %v, %v", d, ok)
	}
	if _, ok := intervalFrom(map[string]any{"interval": 0.0}); ok {
		t.Fatal("zero interval accepted")
	}
	if _, ok := intervalFrom(map[string]any{"interval": "fast"}); ok {
		t.Fatal("string interval accepted")
	}
	if _, ok := intervalFrom("not a map"); ok {
		t.Fatal("non-map payload accepted")
	}
}
