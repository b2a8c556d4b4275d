package sahara

import (
	"encoding/binary"
	"fmt"
)

// Packet is a decoded Sahara packet: header plus the command-specific body.
//
// Wire format (little-endian):
//
//	[COMMAND(4)][LENGTH(4)][BODY(LENGTH-8)]
type Packet struct {
	Command Command
	Length  uint32
	Body    []byte
}

// Hello is the first packet the device sends.
type Hello struct {
	Version    uint32
	Compatible uint32
	MaxLength  uint32
	Mode       Mode
}

// ReadData asks the host for Length bytes of image Image starting at Offset.
// Both the 32-bit and 64-bit request variants decode into it.
type ReadData struct {
	Image  uint64
	Offset uint64
	Length uint64
}

// EndImageTransfer terminates the image transfer loop.
type EndImageTransfer struct {
	Image  uint32
	Status uint32
}

// Decode validates the header of frame and returns the packet.
// frame must hold exactly one packet.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < HeaderSize {
		return nil, &ProtocolViolationError{
			Reason: fmt.Sprintf("packet too short: got %d bytes, minimum is %d", len(frame), HeaderSize),
		}
	}

	cmd := Command(binary.LittleEndian.Uint32(frame[0:4]))
	length := binary.LittleEndian.Uint32(frame[4:8])

	want, ok := PacketLength(cmd)
	if !ok {
		return nil, &ProtocolViolationError{
			Reason: fmt.Sprintf("unknown command 0x%02X", uint32(cmd)),
		}
	}
	if length != want {
		return nil, &ProtocolViolationError{
			Command: cmd,
			Reason:  fmt.Sprintf("length mismatch: packet says %d bytes, %s is %d", length, cmd, want),
		}
	}
	if uint32(len(frame)) != length {
		return nil, &ProtocolViolationError{
			Command: cmd,
			Reason:  fmt.Sprintf("frame length mismatch: got %d bytes, expected %d", len(frame), length),
		}
	}

	return &Packet{
		Command: cmd,
		Length:  length,
		Body:    frame[HeaderSize:],
	}, nil
}

// ParseHello decodes a Hello packet body.
//
// Body format:
//
//	[VERSION(4)][COMPATIBLE(4)][MAX_LEN(4)][MODE(4)][RESERVED(24)]
func ParseHello(p *Packet) (*Hello, error) {
	if err := expect(p, CmdHello); err != nil {
		return nil, err
	}
	return &Hello{
		Version:    binary.LittleEndian.Uint32(p.Body[0:4]),
		Compatible: binary.LittleEndian.Uint32(p.Body[4:8]),
		MaxLength:  binary.LittleEndian.Uint32(p.Body[8:12]),
		Mode:       Mode(binary.LittleEndian.Uint32(p.Body[12:16])),
	}, nil
}

// ParseReadData decodes a ReadData or ReadData64 packet body.
//
// Body format:
//
//	ReadData:   [IMAGE(4)][OFFSET(4)][LENGTH(4)]
//	ReadData64: [IMAGE(8)][OFFSET(8)][LENGTH(8)]
func ParseReadData(p *Packet) (*ReadData, error) {
	le := binary.LittleEndian
	switch p.Command {
	case CmdReadData:
		return &ReadData{
			Image:  uint64(le.Uint32(p.Body[0:4])),
			Offset: uint64(le.Uint32(p.Body[4:8])),
			Length: uint64(le.Uint32(p.Body[8:12])),
		}, nil
	case CmdReadData64:
		return &ReadData{
			Image:  le.Uint64(p.Body[0:8]),
			Offset: le.Uint64(p.Body[8:16]),
			Length: le.Uint64(p.Body[16:24]),
		}, nil
	default:
		return nil, &ProtocolViolationError{
			Command: p.Command,
			Reason:  "expected read data",
		}
	}
}

// ParseEndImageTransfer decodes an EndImageTransfer packet body.
//
// Body format:
//
//	[IMAGE(4)][STATUS(4)]
func ParseEndImageTransfer(p *Packet) (*EndImageTransfer, error) {
	if err := expect(p, CmdEndImageTransfer); err != nil {
		return nil, err
	}
	return &EndImageTransfer{
		Image:  binary.LittleEndian.Uint32(p.Body[0:4]),
		Status: binary.LittleEndian.Uint32(p.Body[4:8]),
	}, nil
}

// ParseDoneResponse returns the image transfer status of a DoneResponse.
func ParseDoneResponse(p *Packet) (uint32, error) {
	if err := expect(p, CmdDoneResponse); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p.Body[0:4]), nil
}

// BuildHelloResponse constructs a HelloResponse packet.
//
// Frame structure:
//
//	[CMD][LEN][VERSION][COMPATIBLE][STATUS][MODE][RESERVED(24)]
func BuildHelloResponse(version, compatible, status uint32, mode Mode) []byte {
	return build(CmdHelloResponse, version, compatible, status, uint32(mode))
}

// BuildDone constructs a Done packet.
func BuildDone() []byte {
	return build(CmdDone)
}

// BuildReset constructs a Reset packet.
func BuildReset() []byte {
	return build(CmdReset)
}

// The builders below produce device-originated packets. They are used by
// simulated devices in tests.

// BuildHello constructs a Hello packet.
func BuildHello(version, compatible uint32, mode Mode) []byte {
	return build(CmdHello, version, compatible, MaxPacketSize, uint32(mode))
}

// BuildReadData constructs a 32-bit ReadData packet.
func BuildReadData(image, offset, length uint32) []byte {
	return build(CmdReadData, image, offset, length)
}

// BuildReadData64 constructs a 64-bit ReadData packet.
func BuildReadData64(image, offset, length uint64) []byte {
	frame := build(CmdReadData64)
	le := binary.LittleEndian
	le.PutUint64(frame[8:16], image)
	le.PutUint64(frame[16:24], offset)
	le.PutUint64(frame[24:32], length)
	return frame
}

// BuildEndImageTransfer constructs an EndImageTransfer packet.
func BuildEndImageTransfer(image, status uint32) []byte {
	return build(CmdEndImageTransfer, image, status)
}

// BuildDoneResponse constructs a DoneResponse packet.
func BuildDoneResponse(status uint32) []byte {
	return build(CmdDoneResponse, status)
}

// BuildResetResponse constructs a ResetResponse packet.
func BuildResetResponse() []byte {
	return build(CmdResetResponse)
}

// build lays out header and 32-bit fields for cmd; the remainder of the
// fixed-length packet stays zero.
func build(cmd Command, fields ...uint32) []byte {
	length, ok := PacketLength(cmd)
	if !ok {
		panic(fmt.Sprintf("sahara: no packet length for command 0x%02X", uint32(cmd)))
	}

	frame := make([]byte, length)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(cmd))
	binary.LittleEndian.PutUint32(frame[4:8], length)
	for i, f := range fields {
		binary.LittleEndian.PutUint32(frame[HeaderSize+4*i:], f)
	}
	return frame
}

func expect(p *Packet, cmd Command) error {
	if p.Command != cmd {
		return &ProtocolViolationError{
			Command: p.Command,
			Reason:  fmt.Sprintf("expected %s", cmd),
		}
	}
	return nil
}
