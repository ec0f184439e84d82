// services/hal/internal/platform/factories_host.go
//go:build !linux && !(rp2040 || rp2350)

package platform

import (
	"soilcode-go/services/hal/internal/halcore"
)

// DefaultI2CFactory creates inert host I²C buses "i2c0" and "i2c1" so the
// firmware composition runs on a dev machine without hardware.
func DefaultI2CFactory() halcore.I2CBusFactory {
	f := NewFactory()
	f.Add("i2c0", &HostI2C{})
	f.Add("i2c1", &HostI2C{})
	return f
}
