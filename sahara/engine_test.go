package sahara

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/moffa90/go-qdl/transport"
)

// MockDevice replays scripted device packets and records what the host sends.
type MockDevice struct {
	responses [][]byte
	respIdx   int
	sent      [][]byte
	resets    int
}

func NewMockDevice(responses ...[]byte) *MockDevice {
	return &MockDevice{responses: responses}
}

func (m *MockDevice) Send(p []byte) error {
	m.sent = append(m.sent, append([]byte(nil), p...))
	return nil
}

func (m *MockDevice) Receive(maxLen int, timeout time.Duration) ([]byte, error) {
	if m.respIdx >= len(m.responses) {
		return nil, transport.ErrTimeout
	}
	resp := m.responses[m.respIdx]
	m.respIdx++
	if len(resp) > maxLen {
		resp = resp[:maxLen]
	}
	return resp, nil
}

func (m *MockDevice) Reset() error {
	m.resets++
	return nil
}

func testImage(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i*7 + i/251)
	}
	return img
}

func TestRunImageTransfer(t *testing.T) {
	image := testImage(4096)
	device := NewMockDevice(
		BuildHello(2, 1, ModeImageTransferPending),
		BuildReadData(13, 0, 2048),
		BuildReadData(13, 2048, 2048),
		BuildEndImageTransfer(13, StatusSuccess),
		BuildDoneResponse(DoneImageTransferComplete),
	)

	var progress []TransferProgress
	engine := New(device, WithProgressCallback(func(p TransferProgress) {
		progress = append(progress, p)
	}))

	if err := engine.Run(context.Background(), image); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(device.sent) != 4 {
		t.Fatalf("host sent %d messages, want 4", len(device.sent))
	}

	resp, err := Decode(device.sent[0])
	if err != nil {
		t.Fatalf("hello response: %v", err)
	}
	if resp.Command != CmdHelloResponse {
		t.Errorf("first message = %s, want hello response", resp.Command)
	}
	if status := binary.LittleEndian.Uint32(resp.Body[8:12]); status != StatusSuccess {
		t.Errorf("hello response status = %d, want success", status)
	}

	if !bytes.Equal(device.sent[1], image[0:2048]) {
		t.Error("first read not served with image[0:2048]")
	}
	if !bytes.Equal(device.sent[2], image[2048:4096]) {
		t.Error("second read not served with image[2048:4096]")
	}
	if !bytes.Equal(device.sent[3], BuildDone()) {
		t.Error("last message is not done")
	}

	if len(progress) != 2 || progress[1].Served != 4096 {
		t.Errorf("progress = %+v", progress)
	}
}

func TestRunServesOverlappingOutOfOrderReads(t *testing.T) {
	image := testImage(8192)
	reads := []struct{ off, n uint32 }{
		{4096, 4096},
		{0, 512},
		{100, 1000},
		{0, 8192},
		{8191, 1},
		{300, 0},
	}

	responses := [][]byte{BuildHello(2, 1, ModeImageTransferPending)}
	for _, r := range reads {
		responses = append(responses, BuildReadData(0, r.off, r.n))
	}
	responses = append(responses,
		BuildReadData64(0, 10, 20),
		BuildEndImageTransfer(0, StatusSuccess),
		BuildDoneResponse(DoneImageTransferComplete),
	)

	device := NewMockDevice(responses...)
	if err := New(device).Run(context.Background(), image); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for i, r := range reads {
		got := device.sent[1+i]
		if !bytes.Equal(got, image[r.off:r.off+r.n]) {
			t.Errorf("read %d (offset %d, length %d) served wrong bytes", i, r.off, r.n)
		}
	}
	if got := device.sent[1+len(reads)]; !bytes.Equal(got, image[10:30]) {
		t.Error("64-bit read served wrong bytes")
	}
}

func TestRunReassemblesSplitPackets(t *testing.T) {
	image := testImage(64)

	var stream []byte
	stream = append(stream, BuildHello(2, 1, ModeImageTransferPending)...)
	stream = append(stream, BuildReadData(0, 0, 64)...)
	stream = append(stream, BuildEndImageTransfer(0, StatusSuccess)...)

	stream = append(stream, BuildDoneResponse(DoneImageTransferComplete)...)

	// Three-byte pieces, so headers and bodies straddle receives.
	var pieces [][]byte
	for len(stream) > 0 {
		n := 3
		if n > len(stream) {
			n = len(stream)
		}
		pieces = append(pieces, stream[:n])
		stream = stream[n:]
	}

	device := NewMockDevice(pieces...)
	if err := New(device).Run(context.Background(), image); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !bytes.Equal(device.sent[1], image) {
		t.Error("image not served")
	}
}

func TestRunErrors(t *testing.T) {
	image := testImage(4096)

	tests := []struct {
		name      string
		responses [][]byte
		check     func(t *testing.T, err error, sent [][]byte)
	}{
		{
			name:      "unsupported version",
			responses: [][]byte{BuildHello(3, 3, ModeImageTransferPending)},
			check: func(t *testing.T, err error, sent [][]byte) {
				var ve *UnsupportedVersionError
				if !errors.As(err, &ve) {
					t.Fatalf("error = %v, want UnsupportedVersionError", err)
				}
				if len(sent) != 1 {
					t.Fatalf("sent %d messages, want a rejection", len(sent))
				}
				if status := binary.LittleEndian.Uint32(sent[0][16:20]); status != StatusProtocolMismatch {
					t.Errorf("rejection status = %d, want protocol mismatch", status)
				}
			},
		},
		{
			name:      "command mode",
			responses: [][]byte{BuildHello(2, 1, ModeCommand)},
			check: func(t *testing.T, err error, sent [][]byte) {
				var me *UnsupportedModeError
				if !errors.As(err, &me) || me.Mode != ModeCommand {
					t.Fatalf("error = %v, want UnsupportedModeError(command)", err)
				}
			},
		},
		{
			name:      "memory debug mode",
			responses: [][]byte{BuildHello(2, 1, ModeMemoryDebug)},
			check: func(t *testing.T, err error, sent [][]byte) {
				var me *UnsupportedModeError
				if !errors.As(err, &me) {
					t.Fatalf("error = %v, want UnsupportedModeError", err)
				}
			},
		},
		{
			name: "read past end of image",
			responses: [][]byte{
				BuildHello(2, 1, ModeImageTransferPending),
				BuildReadData(0, 4000, 200),
			},
			check: func(t *testing.T, err error, sent [][]byte) {
				var oob *OutOfBoundsError
				if !errors.As(err, &oob) {
					t.Fatalf("error = %v, want OutOfBoundsError", err)
				}
				if len(sent) != 1 {
					t.Errorf("image bytes were sent for an out of bounds read")
				}
			},
		},
		{
			name: "offset overflow",
			responses: [][]byte{
				BuildHello(2, 1, ModeImageTransferPending),
				BuildReadData64(0, ^uint64(0), 2),
			},
			check: func(t *testing.T, err error, sent [][]byte) {
				var oob *OutOfBoundsError
				if !errors.As(err, &oob) {
					t.Fatalf("error = %v, want OutOfBoundsError", err)
				}
			},
		},
		{
			name: "device reported transfer error",
			responses: [][]byte{
				BuildHello(2, 1, ModeImageTransferPending),
				BuildEndImageTransfer(13, StatusImageAuthFailure),
			},
			check: func(t *testing.T, err error, sent [][]byte) {
				var te *TransferError
				if !errors.As(err, &te) || te.Status != StatusImageAuthFailure {
					t.Fatalf("error = %v, want TransferError(auth failure)", err)
				}
			},
		},
		{
			name: "done response incomplete",
			responses: [][]byte{
				BuildHello(2, 1, ModeImageTransferPending),
				BuildEndImageTransfer(13, StatusSuccess),
				BuildDoneResponse(DoneImageTransferPending),
			},
			check: func(t *testing.T, err error, sent [][]byte) {
				if !errors.Is(err, ErrHandshakeIncomplete) {
					t.Fatalf("error = %v, want ErrHandshakeIncomplete", err)
				}
			},
		},
		{
			name: "unknown command",
			responses: [][]byte{
				BuildHello(2, 1, ModeImageTransferPending),
				{0x99, 0, 0, 0, 0x08, 0, 0, 0},
			},
			check: func(t *testing.T, err error, sent [][]byte) {
				var pv *ProtocolViolationError
				if !errors.As(err, &pv) {
					t.Fatalf("error = %v, want ProtocolViolationError", err)
				}
			},
		},
		{
			name: "bad length for known command",
			responses: [][]byte{
				{0x01, 0, 0, 0, 0x20, 0, 0, 0},
			},
			check: func(t *testing.T, err error, sent [][]byte) {
				var pv *ProtocolViolationError
				if !errors.As(err, &pv) || pv.Command != CmdHello {
					t.Fatalf("error = %v, want ProtocolViolationError(hello)", err)
				}
			},
		},
		{
			name: "unexpected command during transfer",
			responses: [][]byte{
				BuildHello(2, 1, ModeImageTransferPending),
				BuildDoneResponse(DoneImageTransferComplete),
			},
			check: func(t *testing.T, err error, sent [][]byte) {
				var pv *ProtocolViolationError
				if !errors.As(err, &pv) {
					t.Fatalf("error = %v, want ProtocolViolationError", err)
				}
			},
		},
		{
			name: "device goes silent",
			responses: [][]byte{
				BuildHello(2, 1, ModeImageTransferPending),
			},
			check: func(t *testing.T, err error, sent [][]byte) {
				if !errors.Is(err, transport.ErrTimeout) {
					t.Fatalf("error = %v, want transport.ErrTimeout", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := NewMockDevice(tt.responses...)
			err := New(device).Run(context.Background(), image)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			tt.check(t, err, device.sent)
		})
	}
}

func TestRunEmptyImage(t *testing.T) {
	if err := New(NewMockDevice()).Run(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty image")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(NewMockDevice()).Run(ctx, testImage(16))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestReset(t *testing.T) {
	device := NewMockDevice(BuildResetResponse())
	if err := New(device).Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !bytes.Equal(device.sent[0], BuildReset()) {
		t.Error("reset packet not sent")
	}
}

func TestResetSkipsQueuedHello(t *testing.T) {
	device := NewMockDevice(BuildHello(2, 1, ModeImageTransferPending), BuildResetResponse())
	if err := New(device).Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
}

func TestNewPanicsOnNilTransport(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(nil) did not panic")
		}
	}()
	New(nil)
}
