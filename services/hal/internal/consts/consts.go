// services/hal/internal/consts/consts.go
package consts

// Top-level topics
const (
	TokConfig     = "config"
	TokHAL        = "hal"
	TokCapability = "capability"
	TokInfo       = "info"
	TokState      = "state"
	TokValue      = "value"
	TokControl    = "control"
)

// Control verbs
const (
	CtrlReadNow    = "read_now"
	CtrlSetRate    = "set_rate"
	CtrlSleep      = "sleep"
	CtrlWake       = "wake"
	CtrlSetAddress = "set_address"
	CtrlReset      = "reset"
	CtrlVersion    = "version"
	CtrlAddress    = "address"
)

// Capability kinds used in service wiring
const (
	KindMoisture    = "moisture"
	KindTemperature = "temperature"
	KindLight       = "light"
)
