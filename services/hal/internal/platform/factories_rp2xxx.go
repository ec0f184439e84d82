// services/hal/internal/platform/factories_rp2xxx.go
//go:build rp2040 || rp2350

package platform

import (
	"machine"

	"soilcode-go/services/hal/internal/halcore"
)

// DefaultI2CFactory configures i2c0 and i2c1 with board-default pins.
// 100 kHz: the probe's ATtiny firmware clock-stretches and misbehaves at
// higher bus speeds.
func DefaultI2CFactory() halcore.I2CBusFactory {
	f := NewFactory()

	b0 := machine.I2C0
	_ = b0.Configure(machine.I2CConfig{
		Frequency: 100 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	})
	f.Add("i2c0", b0)

	b1 := machine.I2C1
	_ = b1.Configure(machine.I2CConfig{
		Frequency: 100 * machine.KHz,
		SDA:       machine.I2C1_SDA_PIN,
		SCL:       machine.I2C1_SCL_PIN,
	})
	f.Add("i2c1", b1)

	return f
}
