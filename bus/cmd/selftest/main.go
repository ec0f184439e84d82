// Standalone bus exercise. Runs on host and on MCU targets alike, so it
// avoids fmt and the testing package; the exit code reports the result.
package main

import (
	"context"
	"os"
	"time"

	"soilcode-go/bus"
)

func logln(s string) { println(s) }

func expect(sub *bus.Subscription, want any, timeout time.Duration) bool {
	select {
	case got := <-sub.Channel():
		return got.Payload == want
	case <-time.After(timeout):
		return false
	}
}

func expectNone(sub *bus.Subscription, timeout time.Duration) bool {
	select {
	case <-sub.Channel():
		return false
	case <-time.After(timeout):
		return true
	}
}

func testBasicPubSub() bool {
	b := bus.NewBus(4)
	conn := b.NewConnection("selftest")
	sub := conn.Subscribe(bus.T("config", "geo"))
	conn.Publish(conn.NewMessage(bus.T("config", "geo"), "hello", false))
	return expect(sub, "hello", 100*time.Millisecond)
}

func testRetained() bool {
	b := bus.NewBus(2)
	conn := b.NewConnection("selftest")
	conn.Publish(b.NewMessage(bus.T("config", "geo"), "persist", true))
	sub := conn.Subscribe(bus.T("config", "geo"))
	return expect(sub, "persist", 100*time.Millisecond)
}

func testRetainedClear() bool {
	b := bus.NewBus(4)
	conn := b.NewConnection("selftest")
	conn.Publish(b.NewMessage(bus.T("a", "b"), "keep", true))
	conn.Publish(b.NewMessage(bus.T("a", "b"), nil, true))
	sub := conn.Subscribe(bus.T("a", "b"))
	return expectNone(sub, 60*time.Millisecond)
}

func testSingleLevelWildcard() bool {
	b := bus.NewBus(8)
	c := b.NewConnection("selftest")
	s := c.Subscribe(bus.T("a", "+", "c"))

	c.Publish(b.NewMessage(bus.T("a", "b", "c"), "m1", false))
	if !expect(s, "m1", 200*time.Millisecond) {
		return false
	}
	// "+" consumes exactly one token.
	c.Publish(b.NewMessage(bus.T("a", "c"), "m2", false))
	return expectNone(s, 60*time.Millisecond)
}

func testMultiLevelWildcard() bool {
	b := bus.NewBus(8)
	c := b.NewConnection("selftest")
	s := c.Subscribe(bus.T("a", "#"))

	// "#" matches an empty remainder too.
	c.Publish(b.NewMessage(bus.T("a"), "p1", false))
	if !expect(s, "p1", 200*time.Millisecond) {
		return false
	}
	c.Publish(b.NewMessage(bus.T("a", "b", "c"), "p2", false))
	return expect(s, "p2", 200*time.Millisecond)
}

func testRequestReply() bool {
	b := bus.NewBus(8)
	reqConn := b.NewConnection("requester")
	respConn := b.NewConnection("responder")

	reqTopic := bus.T("sensor", "read")
	respSub := respConn.Subscribe(reqTopic)
	defer respConn.Unsubscribe(respSub)

	go func() {
		if msg, ok := <-respSub.Channel(); ok {
			respConn.Reply(msg, "OK", false)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	reply, err := reqConn.RequestWait(ctx, b.NewMessage(reqTopic, nil, false))
	if err != nil {
		return false
	}
	return reply.Payload == "OK"
}

func testRequestTimeout() bool {
	b := bus.NewBus(8)
	conn := b.NewConnection("requester")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := conn.RequestWait(ctx, b.NewMessage(bus.T("service", "noop"), nil, false))
	return err != nil
}

func testInvalidTokenPanics() (ok bool) {
	defer func() { ok = recover() != nil }()
	_ = bus.T([]byte{1, 2, 3})
	return false
}

func main() {
	tests := []struct {
		name string
		fn   func() bool
	}{
		{"BasicPubSub", testBasicPubSub},
		{"Retained", testRetained},
		{"RetainedClear", testRetainedClear},
		{"SingleLevelWildcard", testSingleLevelWildcard},
		{"MultiLevelWildcard", testMultiLevelWildcard},
		{"RequestReply", testRequestReply},
		{"RequestTimeout", testRequestTimeout},
		{"InvalidTokenPanics", testInvalidTokenPanics},
	}

	failed := 0
	logln("== bus self-test starting ==")
	for _, tc := range tests {
		if tc.fn() {
			logln("[PASS] " + tc.name)
		} else {
			logln("[FAIL] " + tc.name)
			failed++
		}
		time.Sleep(10 * time.Millisecond)
	}
	if failed != 0 {
		logln("== bus self-test FAILED ==")
		os.Exit(1)
	}
	logln("== bus self-test passed ==")
}
