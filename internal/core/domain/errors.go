package domain

import (
	"errors"
	"fmt"
)

const (
	DEVICE_METER    = "meter"
	DEVICE_INVERTER = "inverter"
)

// CommunicationError is a transport level failure reaching a device:
// connection refused, timeout, unexpected HTTP status, modbus exception.
type CommunicationError struct {
	Device string
	Op     string
	Err    error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s %s: communication error: %v", e.Device, e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// ParseError is a response that arrived but could not be interpreted.
type ParseError struct {
	Device string
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: cannot parse %q: %v", e.Device, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ConfigurationError is fatal, the process must not start with it.
type ConfigurationError struct {
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid config param %s: %s", e.Param, e.Reason)
}

func NewCommunicationError(device, op string, err error) *CommunicationError {
	return &CommunicationError{Device: device, Op: op, Err: err}
}

func NewParseError(device, field string, err error) *ParseError {
	return &ParseError{Device: device, Field: field, Err: err}
}

// ErrorKind names the class of a recoverable device error for logs and telemetry.
func ErrorKind(err error) string {
	var commErr *CommunicationError
	var parseErr *ParseError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &commErr):
		return "communication"
	default:
		return "unknown"
	}
}

// ErrorDevice returns the device a recoverable error originated from, if known.
func ErrorDevice(err error) string {
	var commErr *CommunicationError
	var parseErr *ParseError
	switch {
	case errors.As(err, &parseErr):
		return parseErr.Device
	case errors.As(err, &commErr):
		return commErr.Device
	default:
		return ""
	}
}

// ErrInverterUnavailable is reported when the inverter answers but declares itself unreachable.
var ErrInverterUnavailable = errors.New("inverter is not available")
