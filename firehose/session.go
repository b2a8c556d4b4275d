package firehose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/moffa90/go-qdl/transport"
)

// ConfigureOptions are the host's side of the configure negotiation.
type ConfigureOptions struct {
	// MemoryName is the storage type: emmc, ufs, nand or spinor
	MemoryName string

	// MaxPayloadSize is the largest raw chunk the host wants to send (0 = 1 MiB)
	MaxPayloadSize int

	// SectorSize is the default sector size for this session (0 = by storage type)
	SectorSize int

	// Verbose asks the programmer for more log output
	Verbose bool

	// SkipStorageInit leaves storage uninitialized, as needed for UFS provisioning
	SkipStorageInit bool
}

// Negotiated is the outcome of Configure.
type Negotiated struct {
	MemoryName     string
	MaxPayloadSize int
	SectorSize     int

	// MaxXMLSize is the device's XML frame limit, 0 if not reported
	MaxXMLSize int
}

// Completed records one acknowledged operation.
type Completed struct {
	Seq      int
	Op       string
	Bytes    int64
	Duration time.Duration
}

// Session is a Firehose conversation with a running programmer.
//
// All methods are serialized: a call waits for any call in progress to finish,
// including its raw transfer. After a fatal error (timeout, transport failure,
// unparseable data) every call returns that error.
type Session struct {
	mu sync.Mutex

	transport transport.Transport
	config    Config
	scanner   *Scanner

	negotiated *Negotiated
	history    []Completed
	fatal      error

	// logs received since the last request was sent
	logs []string
}

// New creates a Session on top of t. Sahara must have completed on t.
func New(t transport.Transport, opts ...Option) *Session {
	if t == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		transport: t,
		config:    cfg,
		scanner:   NewScanner(cfg.MaxFrameSize),
	}
	s.scanner.Feed(cfg.Pending)
	return s
}

// Configure negotiates storage type and maximum payload size.
//
// The payload size the device acknowledges becomes the hard ceiling for raw
// chunks. If the device NAKs but names a supported size, configure is retried
// once with that size.
func (s *Session) Configure(ctx context.Context, opts ConfigureOptions) (Negotiated, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.MemoryName == "" {
		opts.MemoryName = MemoryUFS
	}
	if opts.MaxPayloadSize <= 0 {
		opts.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if opts.SectorSize <= 0 {
		opts.SectorSize = DefaultSectorSize(opts.MemoryName)
	}

	zlp := true
	if r, ok := s.transport.(transport.ZLPReporter); ok {
		zlp = r.SendsZLP()
	}

	requested := opts.MaxPayloadSize
	for attempt := 0; attempt < 2; attempt++ {
		req := Configure{
			MemoryName:      opts.MemoryName,
			MaxPayloadSize:  requested,
			Verbose:         opts.Verbose,
			ZLPAwareHost:    zlp,
			SkipStorageInit: opts.SkipStorageInit,
		}

		resp, reason, err := s.roundTrip(ctx, req)
		if err != nil {
			return Negotiated{}, err
		}

		if !resp.ACK() {
			supported, ok := resp.Uint(attrMaxPayloadToTargetSupported)
			if attempt == 0 && ok && supported > 0 && int(supported) < requested {
				s.logInfo("device rejected payload size, retrying",
					"requested", requested, "supported", supported)
				requested = int(supported)
				continue
			}
			return Negotiated{}, &DeviceRejectedError{Op: req.Tag(), Reason: reason, Response: resp}
		}

		n := Negotiated{
			MemoryName:     opts.MemoryName,
			MaxPayloadSize: requested,
			SectorSize:     opts.SectorSize,
		}
		if v, ok := resp.Uint(attrMaxPayloadToTarget); ok && v > 0 && int(v) < requested {
			n.MaxPayloadSize = int(v)
		}
		if v, ok := resp.Uint(attrMaxXMLSize); ok {
			n.MaxXMLSize = int(v)
		}
		if n.MaxPayloadSize < n.SectorSize {
			return Negotiated{}, &ProtocolViolationError{
				Reason: fmt.Sprintf("negotiated payload size %d is smaller than a %d byte sector",
					n.MaxPayloadSize, n.SectorSize),
			}
		}

		s.negotiated = &n
		s.record(req.Tag(), 0, 0)
		s.logInfo("configured",
			"memory", n.MemoryName,
			"max_payload", n.MaxPayloadSize,
			"sector_size", n.SectorSize,
		)
		return n, nil
	}

	// Unreachable: the second attempt always returns.
	return Negotiated{}, &DeviceRejectedError{Op: "configure"}
}

// Execute sends a request without raw payload and waits for its response.
// A NAK is returned as *DeviceRejectedError together with the response.
func (s *Session) Execute(ctx context.Context, req Request) (*Response, error) {
	switch req.(type) {
	case Program, *Program, Read, *Read:
		return nil, fmt.Errorf("%s carries raw data, use ExecuteRaw or ReadRaw", req.Tag())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	resp, reason, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.ACK() {
		return resp, &DeviceRejectedError{Op: req.Tag(), Reason: reason, Response: resp}
	}
	s.record(req.Tag(), 0, time.Since(start))
	return resp, nil
}

// ExecuteRaw sends a program request and streams its sector data.
//
// Exactly req.RawLength() bytes are sent after the device's rawmode ACK, in
// sector-aligned chunks no larger than the negotiated payload size. If payload
// ends early the rest is zero-filled. The call returns once the device has
// confirmed the transfer.
//
// If reading payload fails, the transfer is still completed with zeros and a
// *PayloadError is returned after the device's response. Once the raw data is
// sent the response is awaited even if ctx is cancelled.
func (s *Session) ExecuteRaw(ctx context.Context, req Program, payload io.Reader) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rawPreconditions(req.SectorSize); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, reason, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.ACK() {
		return resp, &DeviceRejectedError{Op: req.Tag(), Reason: reason, Response: resp}
	}
	if !resp.RawMode {
		return resp, s.fail(&ProtocolViolationError{Reason: "program acknowledged without rawmode"})
	}

	total := req.RawLength()
	readErr, err := s.sendRaw(total, req.SectorSize, payload)
	if err != nil {
		return nil, err
	}

	final, reason, err := s.awaitCompletion("program")
	if err != nil {
		return nil, err
	}
	if !final.ACK() {
		return final, &DeviceRejectedError{Op: req.Tag(), Reason: reason, Response: final}
	}
	if readErr != nil {
		return final, &PayloadError{Op: req.Tag(), Err: readErr}
	}

	s.record(req.Tag(), total, time.Since(start))
	s.logDebug("programmed",
		"partition", req.PhysicalPartition,
		"start_sector", req.StartSector,
		"sectors", req.NumSectors,
		"elapsed", time.Since(start).String(),
	)
	return final, nil
}

// ReadRaw reads the sectors described by req.
func (s *Session) ReadRaw(ctx context.Context, req Read) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(req.RawLength()))
	if _, err := s.ReadRawTo(ctx, req, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadRawTo reads the sectors described by req into w.
//
// If w fails, the remaining raw bytes are still drained so the session stays
// in step with the device; the write error is returned afterwards.
func (s *Session) ReadRawTo(ctx context.Context, req Read, w io.Writer) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rawPreconditions(req.SectorSize); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, reason, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.ACK() {
		return resp, &DeviceRejectedError{Op: req.Tag(), Reason: reason, Response: resp}
	}
	if !resp.RawMode {
		return resp, s.fail(&ProtocolViolationError{Reason: "read acknowledged without rawmode"})
	}

	total := req.RawLength()
	var writeErr error
	sink := func(p []byte) {
		if writeErr == nil {
			_, writeErr = w.Write(p)
		}
	}

	remaining := total
	if n := s.scanner.Buffered(); n > 0 {
		chunk := s.scanner.TakeRaw(int(min64(int64(n), remaining)))
		sink(chunk)
		remaining -= int64(len(chunk))
	}
	for remaining > 0 {
		data, err := s.receive("read")
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > remaining {
			// The completion response arrived in the same transfer.
			s.scanner.Feed(data[remaining:])
			data = data[:remaining]
		}
		sink(data)
		remaining -= int64(len(data))
	}

	final, reason, err := s.awaitCompletion("read")
	if err != nil {
		return nil, err
	}
	if !final.ACK() {
		return final, &DeviceRejectedError{Op: req.Tag(), Reason: reason, Response: final}
	}
	if writeErr != nil {
		return final, fmt.Errorf("write read data: %w", writeErr)
	}

	s.record(req.Tag(), total, time.Since(start))
	return final, nil
}

// Nop pings the programmer.
func (s *Session) Nop(ctx context.Context) error {
	_, err := s.Execute(ctx, Nop{})
	return err
}

// SetBootableStorageDrive marks physical partition n as the boot LUN.
func (s *Session) SetBootableStorageDrive(ctx context.Context, n int) error {
	_, err := s.Execute(ctx, SetBootableStorageDrive{Value: n})
	return err
}

// Power resets or powers off the device. value is PowerReset or PowerOff.
func (s *Session) Power(ctx context.Context, value string) error {
	_, err := s.Execute(ctx, Power{Value: value})
	return err
}

// Erase erases a sector range.
func (s *Session) Erase(ctx context.Context, req Erase) error {
	_, err := s.Execute(ctx, req)
	return err
}

// Peek asks the programmer to dump size bytes at address into its log.
func (s *Session) Peek(ctx context.Context, address uint64, size int) error {
	_, err := s.Execute(ctx, Peek{Address: address, SizeInBytes: size})
	return err
}

// Poke writes value into size bytes at address.
func (s *Session) Poke(ctx context.Context, address uint64, size int, value uint64) error {
	_, err := s.Execute(ctx, Poke{Address: address, SizeInBytes: size, Value: value})
	return err
}

// GetStorageInfo returns the log lines in which the programmer describes
// physical partition n.
func (s *Session) GetStorageInfo(ctx context.Context, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := GetStorageInfo{PhysicalPartition: n}
	resp, reason, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	lines := append([]string(nil), s.logs...)
	if !resp.ACK() {
		return lines, &DeviceRejectedError{Op: req.Tag(), Reason: reason, Response: resp}
	}
	s.record(req.Tag(), 0, 0)
	return lines, nil
}

// Negotiated returns the configure result, or false before Configure succeeded.
func (s *Session) Negotiated() (Negotiated, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.negotiated == nil {
		return Negotiated{}, false
	}
	return *s.negotiated, true
}

// MaxPayloadSize returns the negotiated raw chunk ceiling, 0 before Configure.
func (s *Session) MaxPayloadSize() int {
	n, _ := s.Negotiated()
	return n.MaxPayloadSize
}

// SectorSize returns the session's default sector size, 0 before Configure.
func (s *Session) SectorSize() int {
	n, _ := s.Negotiated()
	return n.SectorSize
}

// History returns the acknowledged operations in completion order.
func (s *Session) History() []Completed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Completed(nil), s.history...)
}

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

func (s *Session) rawPreconditions(sectorSize int) error {
	if s.fatal != nil {
		return s.fatal
	}
	if s.negotiated == nil {
		return ErrNotConfigured
	}
	if sectorSize <= 0 {
		return fmt.Errorf("invalid sector size %d", sectorSize)
	}
	if sectorSize > s.negotiated.MaxPayloadSize {
		panic(fmt.Sprintf("firehose: sector size %d exceeds negotiated payload size %d",
			sectorSize, s.negotiated.MaxPayloadSize))
	}
	return nil
}

// sendRaw streams total bytes from payload in sector-aligned chunks. A failed
// payload read is returned as readErr; err is a transport failure.
func (s *Session) sendRaw(total int64, sectorSize int, payload io.Reader) (readErr, err error) {
	ceiling := s.negotiated.MaxPayloadSize
	chunk := make([]byte, (ceiling/sectorSize)*sectorSize)
	exhausted := payload == nil
	src := &payloadReader{r: payload}

	for remaining := total; remaining > 0; {
		buf := chunk[:min64(int64(len(chunk)), remaining)]
		if len(buf) > ceiling {
			panic(fmt.Sprintf("firehose: raw chunk of %d bytes exceeds ceiling %d", len(buf), ceiling))
		}

		n := 0
		if !exhausted {
			var rerr error
			n, rerr = io.ReadFull(src, buf)
			if rerr != nil {
				exhausted = true
			}
			if src.err != nil {
				// The device is waiting for exactly total bytes; keep it in step.
				s.logError("payload read failed, padding with zeros", "error", src.err)
			}
		}
		clear(buf[n:])

		if err := s.transport.Send(buf); err != nil {
			return src.err, s.fail(transportError("program", err))
		}
		remaining -= int64(len(buf))
	}
	return src.err, nil
}

// payloadReader remembers the first read error other than io.EOF.
type payloadReader struct {
	r   io.Reader
	err error
}

func (p *payloadReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err != nil && err != io.EOF && p.err == nil {
		p.err = err
	}
	return n, err
}

// roundTrip sends req and waits for its response.
func (s *Session) roundTrip(ctx context.Context, req Request) (*Response, string, error) {
	if s.fatal != nil {
		return nil, "", s.fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("cancelled: %w", err)
	}

	doc := Encode(req)
	s.logs = s.logs[:0]
	s.logDebug("send", "request", string(doc))
	if err := s.transport.Send(doc); err != nil {
		return nil, "", s.fail(transportError(req.Tag(), err))
	}
	return s.await(ctx, req.Tag())
}

// awaitCompletion waits for the response that ends a raw transfer. The device
// has already taken the raw data, so cancellation is not honoured here; the
// wait is bounded by the read timeout only.
func (s *Session) awaitCompletion(op string) (*Response, string, error) {
	return s.await(context.Background(), op)
}

// await reads frames until one carries a response. Log lines on the way are
// passed to the log callback; the last one is returned as the reason.
func (s *Session) await(ctx context.Context, op string) (*Response, string, error) {
	var logs []string
	for {
		frame, ok, err := s.scanner.Next()
		if err != nil {
			return nil, "", s.fail(err)
		}
		if ok {
			for _, line := range frame.Logs {
				s.deviceLog(line)
			}
			logs = append(logs, frame.Logs...)
			s.logs = append(s.logs, frame.Logs...)
			if frame.Response != nil {
				s.logDebug("response", "op", op, "value", frame.Response.Value, "rawmode", frame.Response.RawMode)
				return frame.Response, reasonFrom(logs), nil
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			// The response is still in flight; the conversation is out of step.
			return nil, "", s.fail(fmt.Errorf("cancelled awaiting %s response: %w", op, err))
		}
		data, err := s.receive(op)
		if err != nil {
			return nil, "", err
		}
		s.scanner.Feed(data)
	}
}

func (s *Session) receive(op string) ([]byte, error) {
	size := s.config.ReadSize
	if s.negotiated != nil && s.negotiated.MaxPayloadSize > size {
		size = s.negotiated.MaxPayloadSize
	}
	data, err := s.transport.Receive(size, s.config.ReadTimeout)
	if err != nil {
		return nil, s.fail(transportError(op, err))
	}
	return data, nil
}

func (s *Session) fail(err error) error {
	if s.fatal == nil {
		s.fatal = err
		s.logError("session failed", "error", err)
	}
	return err
}

func (s *Session) record(op string, n int64, d time.Duration) {
	s.history = append(s.history, Completed{
		Seq:      len(s.history) + 1,
		Op:       op,
		Bytes:    n,
		Duration: d,
	})
}

func (s *Session) deviceLog(line string) {
	s.logDebug("device", "log", line)
	if s.config.LogCallback != nil {
		s.config.LogCallback(line)
	}
}

func transportError(op string, err error) error {
	if errors.Is(err, transport.ErrTimeout) {
		return &TransportTimeoutError{Op: op, Err: err}
	}
	return &IOError{Op: op, Err: err}
}

// reasonFrom picks the device's explanation out of the logs preceding a response.
func reasonFrom(logs []string) string {
	for i := len(logs) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(logs[i]); line != "" {
			return line
		}
	}
	return ""
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (s *Session) logDebug(msg string, keysAndValues ...interface{}) {
	s.config.Logger.Debug(msg, keysAndValues...)
}

func (s *Session) logInfo(msg string, keysAndValues ...interface{}) {
	s.config.Logger.Info(msg, keysAndValues...)
}

func (s *Session) logError(msg string, keysAndValues ...interface{}) {
	s.config.Logger.Error(msg, keysAndValues...)
}
