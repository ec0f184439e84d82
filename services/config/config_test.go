package config

import (
	"context"
	"testing"
	"time"

	"soilcode-go/bus"
)

func TestConfigPublishEmbeddedRetainedPerKey(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "probe-test" {
			return nil, false
		}
		return []byte(`{
			"mode": "dev",
			"debug": true,
			"hal": {"devices": []}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "probe-test")
	svc.Start(ctx, conn)

	// Retained messages reach a subscription made after the publish.
	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})
	defer conn.Unsubscribe(sub)

	wantCount := 3
	got := map[string]any{}
	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < wantCount && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if len(m.Topic) < 2 {
				t.Fatalf("unexpected topic length: %#v", m.Topic)
			}
			if prefix, ok := m.Topic[0].(string); !ok || prefix != configPrefix {
				t.Fatalf("unexpected prefix token: %#v", m.Topic[0])
			}
			key, ok := m.Topic[1].(string)
			if !ok {
				t.Fatalf("topic[1] type %T, want string", m.Topic[1])
			}
			if !m.Retained {
				t.Fatalf("config/%s not retained", key)
			}
			got[key] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != wantCount {
		t.Fatalf("expected %d retained messages, got %d (%v)", wantCount, len(got), got)
	}

	if s, ok := got["mode"].(string); !ok || s != "dev" {
		t.Fatalf("mode payload = %#v, want \"dev\"", got["mode"])
	}
	if v, ok := got["debug"].(bool); !ok || v != true {
		t.Fatalf("debug payload = %#v, want true", got["debug"])
	}
	if m, ok := got["hal"].(map[string]any); !ok {
		t.Fatalf("hal payload type = %T, want map[string]any", got["hal"])
	} else if _, ok := m["devices"]; !ok {
		t.Fatalf("hal payload missing devices: %#v", m)
	}
}

func TestConfigPublishMissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewConfigService()

	if err := svc.publishConfig(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestConfigPublishNoConfigFound(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	if err := svc.publishConfig(ctx, conn); err == nil {
		t.Fatal("expected error for missing embedded config, got nil")
	}
}

func TestEmbeddedSoilProbeConfigShape(t *testing.T) {
	// The shipped default must stay parseable and cover every service key.
	b := bus.NewBus(16)
	conn := b.NewConnection("test-defaults")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "soilprobe")
	if err := svc.publishConfig(ctx, conn); err != nil {
		t.Fatalf("publishConfig: %v", err)
	}

	for _, key := range []string{"hal", "heartbeat", "bridge"} {
		sub := conn.Subscribe(bus.T(configPrefix, key))
		select {
		case m := <-sub.Channel():
			if _, ok := m.Payload.(map[string]any); !ok {
				t.Errorf("config/%s payload type = %T", key, m.Payload)
			}
		case <-time.After(200 * time.Millisecond):
			t.Errorf("no retained config/%s", key)
		}
		conn.Unsubscribe(sub)
	}
}
