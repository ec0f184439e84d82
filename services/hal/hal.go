// Package hal exposes configured hardware as bus capabilities.
//
// The service listens for typed (or JSON) configuration on "config/hal",
// builds a device adaptor per entry through the builder registry, and
// publishes per-capability retained documents under
//
//	hal/capability/<kind>/<id>/info    what the capability is
//	hal/capability/<kind>/<id>/state   link state + last error code
//	hal/capability/<kind>/<id>/value   last reading
//
// Control requests arrive on hal/capability/<kind>/<id>/control/<method>;
// read_now and set_rate are handled by the service itself, everything else
// is passed through to the device adaptor. Devices sharing an I²C bus are
// serialised by one measurement worker per bus.
package hal

import (
	"context"

	"soilcode-go/bus"
	"soilcode-go/services/hal/internal/platform"
	"soilcode-go/services/hal/internal/service"

	// Device builders register themselves on import.
	_ "soilcode-go/services/hal/internal/devices/chirpadpt"
)

// Run starts the HAL against the platform-default buses and blocks until
// ctx is cancelled. One goroutine per call; the connection is owned by the
// service for the lifetime of the run.
func Run(ctx context.Context, conn *bus.Connection) {
	service.New(conn, platform.DefaultI2CFactory()).Run(ctx)
}
