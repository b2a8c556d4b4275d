package firehose

import (
	"errors"
	"strings"
	"testing"
)

func TestScannerNext(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantOK   bool
		wantLogs []string
		wantResp string
		wantRaw  bool
		wantErr  bool
	}{
		{
			name:     "ack",
			input:    `<?xml version="1.0" encoding="UTF-8" ?><data><response value="ACK" /></data>`,
			wantOK:   true,
			wantResp: ValueACK,
		},
		{
			name:     "logs then nak",
			input:    `<?xml version="1.0" ?><data><log value="INFO: start" /><log value="ERROR: bad sector" /><response value="NAK" /></data>`,
			wantOK:   true,
			wantLogs: []string{"INFO: start", "ERROR: bad sector"},
			wantResp: ValueNAK,
		},
		{
			name:     "log only",
			input:    `<?xml version="1.0" ?><data><log value="hello" /></data>`,
			wantOK:   true,
			wantLogs: []string{"hello"},
		},
		{
			name:     "rawmode",
			input:    `<?xml version="1.0" ?><data><response value="ACK" rawmode="true" /></data>`,
			wantOK:   true,
			wantResp: ValueACK,
			wantRaw:  true,
		},
		{
			name:   "truncated",
			input:  `<?xml version="1.0" ?><data><response val`,
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "",
			wantOK: false,
		},
		{
			name:    "two responses",
			input:   `<data><response value="ACK" /><response value="ACK" /></data>`,
			wantErr: true,
		},
		{
			name:    "wrong root",
			input:   `<patches><patch /></patches>`,
			wantErr: true,
		},
		{
			name:    "mismatched tags",
			input:   `<data><log value="x"></data>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScanner(0)
			s.Feed([]byte(tt.input))

			frame, ok, err := s.Next()
			if tt.wantErr {
				var pv *ProtocolViolationError
				if !errors.As(err, &pv) {
					t.Fatalf("Next() error = %v, want ProtocolViolationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("Next() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}

			if strings.Join(frame.Logs, "|") != strings.Join(tt.wantLogs, "|") {
				t.Errorf("Logs = %q, want %q", frame.Logs, tt.wantLogs)
			}
			if tt.wantResp == "" {
				if frame.Response != nil {
					t.Errorf("Response = %+v, want none", frame.Response)
				}
				return
			}
			if frame.Response == nil {
				t.Fatal("Response = nil")
			}
			if frame.Response.Value != tt.wantResp {
				t.Errorf("Value = %q, want %q", frame.Response.Value, tt.wantResp)
			}
			if frame.Response.RawMode != tt.wantRaw {
				t.Errorf("RawMode = %v, want %v", frame.Response.RawMode, tt.wantRaw)
			}
		})
	}
}

func TestScannerByteAtATime(t *testing.T) {
	input := `<?xml version="1.0" ?><data><log value="a" /></data>` +
		`<?xml version="1.0" ?><data><response value="ACK" MaxPayloadSizeToTargetInBytes="524288" /></data>`

	s := NewScanner(0)
	var frames []*Frame
	for i := 0; i < len(input); i++ {
		s.Feed([]byte{input[i]})
		for {
			f, ok, err := s.Next()
			if err != nil {
				t.Fatalf("Next() after byte %d: %v", i, err)
			}
			if !ok {
				break
			}
			frames = append(frames, f)
		}
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Response != nil || len(frames[0].Logs) != 1 {
		t.Errorf("first frame = %+v, want one log and no response", frames[0])
	}
	v, ok := frames[1].Response.Uint("MaxPayloadSizeToTargetInBytes")
	if !ok || v != 524288 {
		t.Errorf("MaxPayloadSizeToTargetInBytes = %d, %v; want 524288", v, ok)
	}
}

func TestScannerLeavesTrailingBytes(t *testing.T) {
	s := NewScanner(0)
	s.Feed([]byte(`<data><response value="ACK" rawmode="true" /></data>`))
	s.Feed([]byte{0xDE, 0xAD, 0xBE, 0xEF})

	f, ok, err := s.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", f, ok, err)
	}
	if s.Buffered() != 4 {
		t.Fatalf("Buffered() = %d, want 4", s.Buffered())
	}
	if raw := s.TakeRaw(10); len(raw) != 4 || raw[0] != 0xDE || raw[3] != 0xEF {
		t.Errorf("TakeRaw() = % X", raw)
	}
	if s.Buffered() != 0 {
		t.Errorf("Buffered() after TakeRaw = %d, want 0", s.Buffered())
	}
}

func TestScannerFrameLimit(t *testing.T) {
	s := NewScanner(64)
	s.Feed([]byte(`<data><log value="` + strings.Repeat("x", 100)))

	_, _, err := s.Next()
	var pv *ProtocolViolationError
	if !errors.As(err, &pv) {
		t.Fatalf("Next() error = %v, want ProtocolViolationError", err)
	}
}
