package main

import (
	"context"
	"time"

	"soilcode-go/bus"
	"soilcode-go/services/bridge"
	"soilcode-go/services/config"
	"soilcode-go/services/hal"
	"soilcode-go/services/heartbeat"
	"soilcode-go/types"
	"soilcode-go/x/conv"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("soil-probe boot")

	// The config service resolves its embedded JSON by device ID.
	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, "soilprobe")

	b := bus.NewBus(16)

	hb := &heartbeat.Service{}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	go hal.Run(ctx, b.NewConnection("hal"))
	go bridge.Start(ctx, b.NewConnection("bridge"))

	// Config last: every subscriber is already listening, and retained
	// delivery covers any that are not.
	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	monitor(ctx, b.NewConnection("monitor"))
}

// monitor mirrors capability values onto the serial console.
func monitor(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(bus.T("hal", "capability", "+", "+", "value"))
	defer conn.Unsubscribe(sub)

	var buf [22]byte
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			switch v := msg.Payload.(type) {
			case types.MoistureValue:
				line := "[moisture] raw=" + string(conv.Itoa(buf[:], int64(v.Raw)))
				if v.Calibrated {
					line += " " + string(conv.AppendDeci(buf[:], int64(v.PercentX10))) + "%"
				}
				println(line)
			case types.TemperatureValue:
				println("[temperature] " + string(conv.AppendDeci(buf[:], int64(v.DeciC))) + " C")
			case types.LightValue:
				println("[light] raw=" + string(conv.Itoa(buf[:], int64(v.Raw))))
			}
		}
	}
}
