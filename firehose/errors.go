package firehose

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by raw transfers issued before Configure.
var ErrNotConfigured = errors.New("firehose: session not configured")

// DeviceRejectedError is a NAK. It fails the current operation only; the
// session stays usable.
type DeviceRejectedError struct {
	// Op is the request tag, e.g. "program"
	Op string

	// Reason is the device-reported text, taken from the log lines that
	// accompanied the NAK. Empty if the device said nothing.
	Reason string

	// Response is the NAK itself
	Response *Response
}

func (e *DeviceRejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s rejected by device (NAK)", e.Op)
	}
	return fmt.Sprintf("%s rejected by device: %s", e.Op, e.Reason)
}

// ProtocolViolationError means the device sent something that cannot be
// framed or is out of sequence. The session is unusable afterwards.
type ProtocolViolationError struct {
	Reason string
	Err    error
}

func (e *ProtocolViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("firehose protocol violation: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("firehose protocol violation: %s", e.Reason)
}

func (e *ProtocolViolationError) Unwrap() error {
	return e.Err
}

// TransportTimeoutError means the device stopped answering. Fatal for the session.
type TransportTimeoutError struct {
	Op  string
	Err error
}

func (e *TransportTimeoutError) Error() string {
	return fmt.Sprintf("firehose %s: device timed out", e.Op)
}

func (e *TransportTimeoutError) Unwrap() error {
	return e.Err
}

// IOError wraps any other transport failure. Fatal for the session.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("firehose %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// PayloadError means the host could not read the data of a raw transfer.
// The device received zeros in place of the missing data and confirmed the
// transfer, so the session stays usable, but the written region is corrupt.
type PayloadError struct {
	Op  string
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s payload: %v", e.Op, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err leaves the session unusable. Device rejections
// and payload read failures are recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var rejected *DeviceRejectedError
	var payload *PayloadError
	return !errors.As(err, &rejected) && !errors.As(err, &payload)
}
