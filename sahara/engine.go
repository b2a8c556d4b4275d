package sahara

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/moffa90/go-qdl/transport"
)

// Engine runs the host side of the Sahara handshake.
//
// An Engine is single-use per device enumeration: once Run fails the device
// has to be re-enumerated before another attempt.
type Engine struct {
	transport transport.Transport
	config    Config
	buf       []byte
}

// New creates an Engine on top of t.
func New(t transport.Transport, opts ...Option) *Engine {
	if t == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Engine{
		transport: t,
		config:    cfg,
	}
}

// Run performs the handshake and uploads image as the programmer:
//  1. Wait for Hello and validate the protocol version
//  2. Dispatch on the announced mode; only image transfer is supported
//  3. Serve ReadData requests until EndImageTransfer
//  4. Send Done and check the DoneResponse
//
// On success the programmer is running and speaks Firehose on the same transport.
func (e *Engine) Run(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("programmer image cannot be empty")
	}

	p, err := e.readPacket(ctx)
	if err != nil {
		return fmt.Errorf("await hello: %w", err)
	}
	hello, err := ParseHello(p)
	if err != nil {
		return err
	}

	e.logDebug("hello",
		"version", hello.Version,
		"compatible", hello.Compatible,
		"max_len", hello.MaxLength,
		"mode", hello.Mode.String(),
	)

	if hello.Compatible > Version || hello.Version < MinVersion {
		// Tell the device why before giving up.
		reject := BuildHelloResponse(Version, MinVersion, StatusProtocolMismatch, hello.Mode)
		if err := e.send(reject); err != nil {
			e.logError("hello rejection not delivered", "error", err)
		}
		return &UnsupportedVersionError{Version: hello.Version, Compatible: hello.Compatible}
	}

	switch hello.Mode {
	case ModeImageTransferPending:
		return e.transferImage(ctx, image)
	default:
		return &UnsupportedModeError{Mode: hello.Mode}
	}
}

// transferImage is the ImageTransferPending branch: serve reads, then Done.
func (e *Engine) transferImage(ctx context.Context, image []byte) error {
	ack := BuildHelloResponse(Version, MinVersion, StatusSuccess, ModeImageTransferPending)
	if err := e.send(ack); err != nil {
		return fmt.Errorf("send hello response: %w", err)
	}

	var served uint64
	for requests := 0; ; requests++ {
		if requests >= e.config.MaxReadRequests {
			return &ProtocolViolationError{
				Reason: fmt.Sprintf("more than %d read requests", e.config.MaxReadRequests),
			}
		}

		p, err := e.readPacket(ctx)
		if err != nil {
			return fmt.Errorf("image transfer: %w", err)
		}

		switch p.Command {
		case CmdReadData, CmdReadData64:
			req, err := ParseReadData(p)
			if err != nil {
				return err
			}
			if req.Offset > uint64(len(image)) || req.Length > uint64(len(image))-req.Offset {
				return &OutOfBoundsError{Offset: req.Offset, Length: req.Length, ImageSize: len(image)}
			}

			chunk := image[req.Offset : req.Offset+req.Length]
			if err := e.send(chunk); err != nil {
				return fmt.Errorf("send image data (offset %d, length %d): %w", req.Offset, req.Length, err)
			}
			served += req.Length

			e.logDebug("read data", "image", req.Image, "offset", req.Offset, "length", req.Length)
			if e.config.ProgressCallback != nil {
				e.config.ProgressCallback(TransferProgress{
					Offset:    req.Offset,
					Length:    req.Length,
					Served:    served,
					ImageSize: len(image),
				})
			}

		case CmdEndImageTransfer:
			eoi, err := ParseEndImageTransfer(p)
			if err != nil {
				return err
			}
			if eoi.Status != StatusSuccess {
				return &TransferError{Image: eoi.Image, Status: eoi.Status}
			}
			e.logInfo("image transferred", "image", eoi.Image, "bytes_served", served)
			return e.done(ctx)

		default:
			return &ProtocolViolationError{
				Command: p.Command,
				Reason:  "unexpected during image transfer",
			}
		}
	}
}

// done sends Done and waits for a DoneResponse reporting completion.
func (e *Engine) done(ctx context.Context) error {
	if err := e.send(BuildDone()); err != nil {
		return fmt.Errorf("send done: %w", err)
	}

	p, err := e.readPacket(ctx)
	if err != nil {
		return fmt.Errorf("await done response: %w", err)
	}
	status, err := ParseDoneResponse(p)
	if err != nil {
		return err
	}
	if status != DoneImageTransferComplete {
		return fmt.Errorf("%w: done response status %d", ErrHandshakeIncomplete, status)
	}

	e.logInfo("programmer loaded")
	return nil
}

// Reset asks the device to restart its Sahara state machine. A Hello still
// queued from enumeration is skipped.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.send(BuildReset()); err != nil {
		return fmt.Errorf("send reset: %w", err)
	}
	for {
		p, err := e.readPacket(ctx)
		if err != nil {
			return fmt.Errorf("await reset response: %w", err)
		}
		if p.Command == CmdHello {
			e.logDebug("skipping hello while resetting")
			continue
		}
		return expect(p, CmdResetResponse)
	}
}

// Buffered returns bytes received after the last decoded packet. The Firehose
// session must start from them.
func (e *Engine) Buffered() []byte {
	return e.buf
}

// readPacket returns the next complete packet, receiving as often as needed.
// Lengths are checked against the command schema as soon as the header is in,
// so a bogus length is never waited for.
func (e *Engine) readPacket(ctx context.Context) (*Packet, error) {
	for {
		if len(e.buf) >= HeaderSize {
			cmd := Command(binary.LittleEndian.Uint32(e.buf[0:4]))
			declared := binary.LittleEndian.Uint32(e.buf[4:8])

			want, ok := PacketLength(cmd)
			if !ok {
				return nil, &ProtocolViolationError{Reason: fmt.Sprintf("unknown command 0x%02X", uint32(cmd))}
			}
			if declared != want {
				return nil, &ProtocolViolationError{
					Command: cmd,
					Reason:  fmt.Sprintf("length mismatch: packet says %d bytes, %s is %d", declared, cmd, want),
				}
			}
			if uint32(len(e.buf)) >= want {
				frame := make([]byte, want)
				copy(frame, e.buf[:want])
				e.buf = e.buf[want:]
				return Decode(frame)
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cancelled: %w", err)
		}

		data, err := e.transport.Receive(e.config.ReadSize, e.config.ReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("receive: %w", err)
		}
		e.buf = append(e.buf, data...)
	}
}

func (e *Engine) send(p []byte) error {
	return e.transport.Send(p)
}

func (e *Engine) logDebug(msg string, keysAndValues ...interface{}) {
	e.config.Logger.Debug(msg, keysAndValues...)
}

func (e *Engine) logInfo(msg string, keysAndValues ...interface{}) {
	e.config.Logger.Info(msg, keysAndValues...)
}

func (e *Engine) logError(msg string, keysAndValues ...interface{}) {
	e.config.Logger.Error(msg, keysAndValues...)
}
