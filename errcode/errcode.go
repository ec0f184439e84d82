package errcode

import (
	"context"
	"errors"

	"soilcode-go/drivers/chirp"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	UnknownCapability Code = "unknown_capability"
	HALNotReady       Code = "hal_not_ready"
	InvalidTopic      Code = "invalid_topic"

	UnknownBus Code = "unknown_bus"
	BusInUse   Code = "bus_in_use"
	BusFault   Code = "bus_fault"
	Timeout    Code = "timeout"

	CalibrationMissing Code = "calibration_missing"
	InvalidScale       Code = "invalid_scale"
	InvalidAddress     Code = "invalid_address"
	Unresponsive       Code = "unresponsive"
	NoReading          Code = "no_reading"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapDriverErr maps low-level driver errors to a Code.
// Unrecognized errors are treated as transport faults, since drivers
// surface them verbatim from the underlying bus.
func MapDriverErr(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, chirp.ErrNotReady):
		return Busy
	case errors.Is(err, chirp.ErrCalibrationMissing):
		return CalibrationMissing
	case errors.Is(err, chirp.ErrInvalidScale):
		return InvalidScale
	case errors.Is(err, chirp.ErrInvalidAddress):
		return InvalidAddress
	case errors.Is(err, chirp.ErrUnresponsive):
		return Unresponsive
	case errors.Is(err, chirp.ErrNoReading):
		return NoReading
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Timeout
	}
	return BusFault
}
