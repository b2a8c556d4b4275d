// Package edltest provides a simulated EDL device for tests and demos.
//
// A Device implements transport.Transport. It plays the device side of Sahara
// (pulling a programmer image with ReadData requests) and then answers
// Firehose requests against in-memory storage, one byte slice per physical
// partition.
//
//	dev := edltest.NewDevice(edltest.WithProgrammerSize(len(prog)))
//	f := edl.New(dev)
//	report, err := f.Run(ctx, prog, batch)
//	data := dev.Storage(0)
package edltest

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/moffa90/go-qdl/firehose"
	"github.com/moffa90/go-qdl/sahara"
	"github.com/moffa90/go-qdl/transport"
)

type phase int

const (
	phaseSahara phase = iota
	phaseFirehose
	phaseDead
)

// Request is a Firehose request as the device saw it.
type Request struct {
	Tag   string
	Attrs map[string]string
}

// Uint returns the named attribute as a number.
func (r Request) Uint(name string) uint64 {
	n, _ := strconv.ParseUint(r.Attrs[name], 0, 64)
	return n
}

// Rejection is returned by a NAK hook to refuse a request.
type Rejection struct {
	Reason string
}

// NAKFunc decides whether the device refuses req. Returning nil accepts it.
type NAKFunc func(req Request) *Rejection

// Device is a simulated EDL device. It is safe for use by one host
// conversation at a time.
type Device struct {
	mu sync.Mutex

	config Config
	phase  phase

	// outbox holds device-to-host bytes not yet received
	outbox []byte

	// Sahara state
	nextOffset int
	awaiting   int
	image      []byte

	// Firehose state
	configured bool
	maxPayload int
	raw        *rawWrite
	requests   []Request
	storage    map[int][]byte
	resets     int
	handled    int
}

type rawWrite struct {
	req       Request
	partition int
	offset    int64
	remaining int64
	data      []byte
}

// NewDevice returns a device that has just entered EDL and sent Hello.
func NewDevice(opts ...Option) *Device {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Device{
		config:  cfg,
		storage: make(map[int][]byte),
	}
	for n, data := range cfg.Storage {
		d.storage[n] = append([]byte(nil), data...)
	}
	if cfg.SkipSahara {
		d.phase = phaseFirehose
	} else {
		d.queue(sahara.BuildHello(cfg.SaharaVersion, cfg.SaharaCompatible, cfg.Mode))
	}
	return d
}

// Send delivers host bytes to the device.
func (d *Device) Send(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.phase {
	case phaseSahara:
		return d.handleSahara(p)
	case phaseFirehose:
		if d.raw != nil {
			d.consumeRaw(p)
			return nil
		}
		if len(p) == 0 {
			return nil
		}
		return d.handleFirehose(p)
	default:
		return fmt.Errorf("edltest: device is gone")
	}
}

// Receive returns up to maxLen bytes of pending device output, at most
// FragmentSize at a time when set. With nothing pending it fails with
// transport.ErrTimeout, as a silent device would.
func (d *Device) Receive(maxLen int, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.outbox) == 0 {
		return nil, transport.ErrTimeout
	}
	n := len(d.outbox)
	if n > maxLen {
		n = maxLen
	}
	if d.config.FragmentSize > 0 && n > d.config.FragmentSize {
		n = d.config.FragmentSize
	}
	out := append([]byte(nil), d.outbox[:n]...)
	d.outbox = d.outbox[n:]
	return out, nil
}

// Reset models a USB port reset: the conversation is over.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	d.phase = phaseDead
	d.outbox = nil
	return nil
}

// Programmer returns the image assembled from the host's Sahara data.
func (d *Device) Programmer() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.image...)
}

// Requests returns every Firehose request received, in order.
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

// Tags returns the tags of every Firehose request received, in order.
func (d *Device) Tags() []string {
	reqs := d.Requests()
	tags := make([]string, len(reqs))
	for i, r := range reqs {
		tags[i] = r.Tag
	}
	return tags
}

// Storage returns a copy of physical partition n.
func (d *Device) Storage(n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.storage[n]...)
}

// Resets returns how often Reset was called.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

func (d *Device) queue(p []byte) {
	d.outbox = append(d.outbox, p...)
}

func (d *Device) handleSahara(p []byte) error {
	// Image data is the only host traffic that is not a packet.
	if d.awaiting > 0 {
		if len(p) != d.awaiting {
			return fmt.Errorf("edltest: got %d bytes of image data, asked for %d", len(p), d.awaiting)
		}
		d.image = append(d.image, p...)
		d.awaiting = 0
		d.requestNext()
		return nil
	}

	pkt, err := sahara.Decode(p)
	if err != nil {
		return fmt.Errorf("edltest: %w", err)
	}

	switch pkt.Command {
	case sahara.CmdHelloResponse:
		status := binary.LittleEndian.Uint32(pkt.Body[8:12])
		if status != sahara.StatusSuccess {
			d.phase = phaseDead
			return nil
		}
		d.requestNext()
	case sahara.CmdDone:
		d.queue(sahara.BuildDoneResponse(sahara.DoneImageTransferComplete))
		d.phase = phaseFirehose
		if d.config.Greeting != "" {
			d.queue(logFrame(d.config.Greeting))
		}
	case sahara.CmdReset:
		d.queue(sahara.BuildResetResponse())
	default:
		return fmt.Errorf("edltest: unexpected %s during sahara", pkt.Command)
	}
	return nil
}

// requestNext asks for the next piece of the programmer or ends the transfer.
func (d *Device) requestNext() {
	if d.nextOffset >= d.config.ProgrammerSize {
		d.queue(sahara.BuildEndImageTransfer(d.config.ImageID, d.config.TransferStatus))
		return
	}
	n := d.config.ProgrammerSize - d.nextOffset
	if n > d.config.ReadChunk {
		n = d.config.ReadChunk
	}
	d.queue(sahara.BuildReadData(d.config.ImageID, uint32(d.nextOffset), uint32(n)))
	d.nextOffset += n
	d.awaiting = n
}

func (d *Device) handleFirehose(p []byte) error {
	req, err := parseRequest(p)
	if err != nil {
		return fmt.Errorf("edltest: %w", err)
	}
	d.requests = append(d.requests, req)
	d.handled++

	if d.config.HangAfter > 0 && d.handled > d.config.HangAfter {
		return nil
	}

	if d.config.NAK != nil {
		if rej := d.config.NAK(req); rej != nil {
			if rej.Reason != "" {
				d.queue(logFrame(rej.Reason))
			}
			d.queue(response(firehose.ValueNAK))
			return nil
		}
	}

	switch req.Tag {
	case "configure":
		return d.configure(req)
	case "program":
		return d.program(req)
	case "read":
		return d.read(req)
	case "erase":
		return d.erase(req)
	case "patch", "nop", "setbootablestoragedrive", "ufs", "peek", "poke":
		d.queue(response(firehose.ValueACK))
	case "getstorageinfo":
		d.queue(logFrame(fmt.Sprintf("INFO: {\"storage_info\": {\"total_blocks\":%d, \"block_size\":%d}}",
			d.config.DiskSectors, d.config.SectorSize)))
		d.queue(response(firehose.ValueACK))
	case "power":
		d.queue(response(firehose.ValueACK))
		d.phase = phaseDead
	default:
		d.queue(logFrame("ERROR: unknown command " + req.Tag))
		d.queue(response(firehose.ValueNAK))
	}
	return nil
}

func (d *Device) configure(req Request) error {
	want := int(req.Uint("MaxPayloadSizeToTargetInBytes"))
	if want > d.config.MaxPayload {
		if d.config.StrictPayload {
			d.queue(response(firehose.ValueNAK,
				"MaxPayloadSizeToTargetInBytes", strconv.Itoa(want),
				"MaxPayloadSizeToTargetInBytesSupported", strconv.Itoa(d.config.MaxPayload)))
			return nil
		}
		want = d.config.MaxPayload
	}
	d.configured = true
	d.maxPayload = want
	d.queue(logFrame("INFO: Calling handler for configure"))
	d.queue(response(firehose.ValueACK,
		"MemoryName", req.Attrs["MemoryName"],
		"MaxPayloadSizeToTargetInBytes", strconv.Itoa(want),
		"MaxPayloadSizeToTargetInBytesSupported", strconv.Itoa(d.config.MaxPayload),
		"MaxXMLSizeInBytes", "4096",
		"Version", "1",
	))
	return nil
}

func (d *Device) program(req Request) error {
	if !d.configured {
		d.queue(logFrame("ERROR: not configured"))
		d.queue(response(firehose.ValueNAK))
		return nil
	}
	offset, length, err := d.region(req)
	if err != nil {
		d.queue(logFrame("ERROR: " + err.Error()))
		d.queue(response(firehose.ValueNAK))
		return nil
	}
	d.raw = &rawWrite{
		req:       req,
		partition: int(req.Uint("physical_partition_number")),
		offset:    offset,
		remaining: length,
	}
	d.queue(response(firehose.ValueACK, "rawmode", "true"))
	return nil
}

func (d *Device) consumeRaw(p []byte) {
	w := d.raw
	if len(p) > d.maxPayload {
		d.queue(logFrame(fmt.Sprintf("ERROR: %d byte transfer exceeds payload size %d", len(p), d.maxPayload)))
	}
	if int64(len(p)) > w.remaining {
		p = p[:w.remaining]
	}
	w.data = append(w.data, p...)
	w.remaining -= int64(len(p))
	if w.remaining > 0 {
		return
	}

	d.raw = nil
	if d.config.FailWrite != nil {
		if rej := d.config.FailWrite(w.req); rej != nil {
			if rej.Reason != "" {
				d.queue(logFrame(rej.Reason))
			}
			d.queue(response(firehose.ValueNAK, "rawmode", "false"))
			return
		}
	}
	d.write(w.partition, w.offset, w.data)
	d.queue(response(firehose.ValueACK, "rawmode", "false"))
}

func (d *Device) read(req Request) error {
	offset, length, err := d.region(req)
	if err != nil {
		d.queue(logFrame("ERROR: " + err.Error()))
		d.queue(response(firehose.ValueNAK))
		return nil
	}
	part := d.storage[int(req.Uint("physical_partition_number"))]
	data := make([]byte, length)
	if offset < int64(len(part)) {
		copy(data, part[offset:])
	}
	d.queue(response(firehose.ValueACK, "rawmode", "true"))
	d.queue(data)
	d.queue(response(firehose.ValueACK, "rawmode", "false"))
	return nil
}

func (d *Device) erase(req Request) error {
	offset, length, err := d.region(req)
	if err != nil {
		d.queue(logFrame("ERROR: " + err.Error()))
		d.queue(response(firehose.ValueNAK))
		return nil
	}
	d.write(int(req.Uint("physical_partition_number")), offset, make([]byte, length))
	d.queue(response(firehose.ValueACK))
	return nil
}

// region returns the byte range addressed by a sector-based request.
func (d *Device) region(req Request) (int64, int64, error) {
	sectorSize := int64(req.Uint("SECTOR_SIZE_IN_BYTES"))
	sectors := int64(req.Uint("num_partition_sectors"))
	start, err := d.evalSector(req.Attrs["start_sector"])
	if err != nil {
		return 0, 0, err
	}
	if sectorSize == 0 {
		return 0, 0, fmt.Errorf("SECTOR_SIZE_IN_BYTES missing")
	}
	if start+uint64(sectors) > d.config.DiskSectors {
		return 0, 0, fmt.Errorf("sectors %d..%d beyond the end of the disk", start, start+uint64(sectors))
	}
	return int64(start) * sectorSize, sectors * sectorSize, nil
}

// evalSector understands plain numbers and NUM_DISK_SECTORS-N.
func (d *Device) evalSector(expr string) (uint64, error) {
	s := strings.TrimSuffix(strings.TrimSpace(expr), ".")
	if rest, ok := strings.CutPrefix(s, "NUM_DISK_SECTORS-"); ok {
		n, err := strconv.ParseUint(rest, 10, 64)
		if err != nil || n > d.config.DiskSectors {
			return 0, fmt.Errorf("bad start_sector %q", expr)
		}
		return d.config.DiskSectors - n, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad start_sector %q", expr)
	}
	return n, nil
}

func (d *Device) write(partition int, offset int64, data []byte) {
	part := d.storage[partition]
	if end := offset + int64(len(data)); end > int64(len(part)) {
		grown := make([]byte, end)
		copy(grown, part)
		part = grown
	}
	copy(part[offset:], data)
	d.storage[partition] = part
}

func parseRequest(p []byte) (Request, error) {
	dec := xml.NewDecoder(bytes.NewReader(p))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return Request{}, fmt.Errorf("bad request %q: %w", p, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			if _, end := tok.(xml.EndElement); end {
				depth--
			}
			continue
		}
		depth++
		if depth == 1 {
			if se.Name.Local != "data" {
				return Request{}, fmt.Errorf("root <%s>, want <data>", se.Name.Local)
			}
			continue
		}
		req := Request{Tag: se.Name.Local, Attrs: make(map[string]string, len(se.Attr))}
		for _, a := range se.Attr {
			req.Attrs[a.Name.Local] = a.Value
		}
		return req, nil
	}
}

func response(value string, attrs ...string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" ?><data><response value="` + value + `"`)
	for i := 0; i+1 < len(attrs); i += 2 {
		fmt.Fprintf(&b, " %s=%q", attrs[i], attrs[i+1])
	}
	b.WriteString(" /></data>")
	return []byte(b.String())
}

func logFrame(line string) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" ?><data><log value="`)
	xml.EscapeText(&b, []byte(line))
	b.WriteString(`" /></data>`)
	return b.Bytes()
}
