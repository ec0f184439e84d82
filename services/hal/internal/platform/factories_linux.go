// services/hal/internal/platform/factories_linux.go
//go:build linux && !(rp2040 || rp2350)

package platform

import (
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"soilcode-go/services/hal/internal/halcore"
)

// DefaultI2CFactory opens the system I²C adapters through periph. Buses
// that fail to open are simply absent; builders then report unknown_bus.
func DefaultI2CFactory() halcore.I2CBusFactory {
	f := NewFactory()
	if _, err := host.Init(); err != nil {
		return f
	}
	// periph bus "N" is /dev/i2c-N; keep the firmware's i2cN naming.
	for _, n := range []string{"0", "1"} {
		if b, err := i2creg.Open(n); err == nil {
			f.Add("i2c"+n, b)
		}
	}
	return f
}
