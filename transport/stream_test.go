package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestStreamSendReceive(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()
	defer dev.Close()

	s := NewStream(host)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := dev.Read(buf)
		done <- buf[:n]
		_, _ = dev.Write([]byte("pong"))
	}()

	if err := s.Send([]byte("ping")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := <-done; !bytes.Equal(got, []byte("ping")) {
		t.Errorf("device received %q, want %q", got, "ping")
	}

	got, err := s.Receive(16, time.Second)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(got) != "pong" {
		t.Errorf("Receive() = %q, want %q", got, "pong")
	}
}

func TestStreamReceiveTimeout(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()
	defer dev.Close()

	s := NewStream(host)
	_, err := s.Receive(16, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Receive() error = %v, want ErrTimeout", err)
	}
}

func TestStreamReceiveInvalidLength(t *testing.T) {
	s := NewStream(&bytes.Buffer{})
	if _, err := s.Receive(0, 0); err == nil {
		t.Fatal("expected error for zero maxLen")
	}
}

type resettable struct {
	bytes.Buffer
	resets int
}

func (r *resettable) Reset() error {
	r.resets++
	return nil
}

func TestStreamReset(t *testing.T) {
	rw := &resettable{}
	s := NewStream(rw)
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if rw.resets != 1 {
		t.Errorf("resets = %d, want 1", rw.resets)
	}

	if err := NewStream(&bytes.Buffer{}).Reset(); err != nil {
		t.Errorf("Reset() on plain buffer error = %v", err)
	}
}
