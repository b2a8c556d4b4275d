package sahara

import (
	"errors"
	"fmt"
)

// ErrHandshakeIncomplete is returned when the device answers Done with a status
// other than "image transfer complete".
var ErrHandshakeIncomplete = errors.New("sahara: handshake incomplete")

// ProtocolViolationError indicates a malformed or unexpected packet.
// It always ends the handshake.
type ProtocolViolationError struct {
	// Command is the offending command, zero if it could not be decoded
	Command Command

	// Reason describes the violation
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	if e.Command == 0 {
		return fmt.Sprintf("sahara protocol violation: %s", e.Reason)
	}
	return fmt.Sprintf("sahara protocol violation (%s): %s", e.Command, e.Reason)
}

// UnsupportedVersionError indicates the device's protocol range does not overlap ours.
type UnsupportedVersionError struct {
	Version    uint32
	Compatible uint32
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("sahara: unsupported protocol version %d (compatible %d), host supports %d-%d",
		e.Version, e.Compatible, MinVersion, Version)
}

// UnsupportedModeError indicates the device asked for a mode other than image transfer.
type UnsupportedModeError struct {
	Mode Mode
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("sahara: unsupported mode %s (0x%02X)", e.Mode, uint32(e.Mode))
}

// OutOfBoundsError indicates a read request past the end of the programmer image.
type OutOfBoundsError struct {
	Offset    uint64
	Length    uint64
	ImageSize int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("sahara: read of %d bytes at offset %d exceeds image size %d",
		e.Length, e.Offset, e.ImageSize)
}

// TransferError carries a non-success status reported in EndImageTransfer.
type TransferError struct {
	Image  uint32
	Status uint32
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("sahara: device reported transfer error for image %d: %s (0x%02X)",
		e.Image, StatusName(e.Status), e.Status)
}
