// Package usb carries EDL conversations over libusb bulk endpoints.
//
// A device in Emergency Download mode enumerates as 05c6:9008 with one
// vendor-specific interface holding a bulk IN and a bulk OUT endpoint. Device
// implements transport.Transport on top of those endpoints.
package usb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/moffa90/go-qdl/logging"
	"github.com/moffa90/go-qdl/transport"
)

// EDL mode identifiers.
const (
	VendorID  gousb.ID = 0x05c6
	ProductID gousb.ID = 0x9008
)

// DefaultWriteChunk bounds one bulk OUT transfer.
const DefaultWriteChunk = 1 << 20

// ErrNotFound is returned by Open when no EDL device is attached.
var ErrNotFound = errors.New("usb: no EDL device found")

// Error wraps a failed USB operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "usb: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err *error) {
	if *err != nil {
		*err = &Error{op, *err}
	}
}

// Info describes an attached EDL device.
type Info struct {
	Bus     int
	Address int
	Path    []int

	// Serial is the chip serial the boot ROM reports in its product string
	Serial  string
	Product string
}

func (i Info) String() string {
	if i.Serial == "" {
		return fmt.Sprintf("%d:%d", i.Bus, i.Address)
	}
	return fmt.Sprintf("%d:%d %s", i.Bus, i.Address, i.Serial)
}

// Options select and tune the device Open attaches to.
type Options struct {
	// Serial picks the device with that serial; empty accepts exactly one device
	Serial string

	// WriteChunk bounds one bulk OUT transfer (0 = DefaultWriteChunk)
	WriteChunk int

	Logger logging.Logger
}

// Device is an opened EDL device.
type Device struct {
	mu sync.Mutex

	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	info       Info
	maxPacket  int
	writeChunk int
	logger     logging.Logger

	// pending holds IN data read past what the caller asked for
	pending []byte
}

// List returns every attached EDL device.
func List() (infos []Info, err error) {
	defer wrapErr("List", &err)

	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(isEDL)
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return nil, err
	}

	for _, d := range devs {
		infos = append(infos, describe(d))
	}
	return infos, nil
}

// Open attaches to an EDL device and claims its bulk interface.
func Open(opts Options) (d *Device, err error) {
	defer wrapErr("Open", &err)

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard
	}

	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(isEDL)
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, err
	}

	var chosen *gousb.Device
	var candidates []string
	for _, dev := range devs {
		info := describe(dev)
		candidates = append(candidates, info.String())
		if chosen == nil && (opts.Serial == "" || strings.EqualFold(info.Serial, opts.Serial)) {
			chosen = dev
			continue
		}
		dev.Close()
	}

	switch {
	case chosen == nil:
		ctx.Close()
		return nil, ErrNotFound
	case opts.Serial == "" && len(devs) > 1:
		chosen.Close()
		ctx.Close()
		return nil, fmt.Errorf("%d EDL devices attached (%s), select one by serial",
			len(devs), strings.Join(candidates, ", "))
	}

	d, err = attach(ctx, chosen, logger)
	if err != nil {
		chosen.Close()
		ctx.Close()
		return nil, err
	}

	d.writeChunk = opts.WriteChunk
	if d.writeChunk <= 0 {
		d.writeChunk = DefaultWriteChunk
	}
	logger.Info("usb device opened",
		"device", d.info.String(),
		"max_packet", d.maxPacket,
	)
	return d, nil
}

func attach(ctx *gousb.Context, dev *gousb.Device, logger logging.Logger) (*Device, error) {
	cn, in, an, ok := edlInterface(dev.Desc)
	if !ok {
		return nil, fmt.Errorf("device %d:%d has no EDL interface", dev.Desc.Bus, dev.Desc.Address)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		logger.Debug("auto detach unsupported", "error", err)
	}

	cfg, err := dev.Config(cn)
	if err != nil {
		return nil, err
	}
	intf, err := cfg.Interface(in, an)
	if err != nil {
		cfg.Close()
		return nil, err
	}

	var rxn, txn, maxPacket int
	for _, ed := range intf.Setting.Endpoints {
		if ed.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ed.Direction == gousb.EndpointDirectionIn {
			rxn = ed.Number
		} else {
			txn = ed.Number
			maxPacket = ed.MaxPacketSize
		}
	}
	if rxn == 0 || txn == 0 {
		intf.Close()
		cfg.Close()
		return nil, errors.New("EDL interface lacks a bulk endpoint pair")
	}

	ie, err := intf.InEndpoint(rxn)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, err
	}
	oe, err := intf.OutEndpoint(txn)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, err
	}
	if maxPacket <= 0 {
		maxPacket = 512
	}

	return &Device{
		ctx:       ctx,
		dev:       dev,
		cfg:       cfg,
		intf:      intf,
		in:        ie,
		out:       oe,
		info:      describe(dev),
		maxPacket: maxPacket,
		logger:    logger,
	}, nil
}

// Info describes the opened device.
func (d *Device) Info() Info {
	return d.info
}

// Send writes p in bulk transfers of at most WriteChunk bytes.
func (d *Device) Send(p []byte) (err error) {
	defer wrapErr("Send", &err)

	d.mu.Lock()
	defer d.mu.Unlock()

	for len(p) > 0 {
		n := len(p)
		if n > d.writeChunk {
			n = d.writeChunk
		}
		written, err := d.out.Write(p[:n])
		if err != nil {
			return err
		}
		if written != n {
			return fmt.Errorf("short write: %d of %d bytes", written, n)
		}
		p = p[n:]
	}
	return nil
}

// SendsZLP reports false: gousb drops zero-length writes, so transfers that
// end on a packet boundary are not terminated. Firehose configure then tells
// the programmer the host is not ZLP aware.
func (d *Device) SendsZLP() bool {
	return false
}

// Receive reads one bulk IN transfer, waiting at most timeout. It returns
// transport.ErrTimeout if nothing arrived.
func (d *Device) Receive(maxLen int, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) > 0 {
		return d.takePending(maxLen), nil
	}

	// Reads must cover whole packets or the host controller reports overflow.
	size := (maxLen + d.maxPacket - 1) / d.maxPacket * d.maxPacket
	buf := make([]byte, size)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := d.in.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, gousb.TransferTimedOut) || errors.Is(err, gousb.TransferCancelled) {
			if n == 0 {
				return nil, transport.ErrTimeout
			}
		} else {
			return nil, &Error{"Receive", err}
		}
	}

	d.pending = buf[:n]
	return d.takePending(maxLen), nil
}

func (d *Device) takePending(maxLen int) []byte {
	n := len(d.pending)
	if n > maxLen {
		n = maxLen
	}
	out := d.pending[:n:n]
	d.pending = d.pending[n:]
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return out
}

// Reset issues a USB port reset. The device leaves EDL mode and re-enumerates.
func (d *Device) Reset() (err error) {
	defer wrapErr("Reset", &err)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = nil
	d.logger.Info("resetting usb device", "device", d.info.String())
	return d.dev.Reset()
}

// Close releases the interface and the device.
func (d *Device) Close() (err error) {
	defer wrapErr("Close", &err)

	d.intf.Close()
	d.cfg.Close()
	err = d.dev.Close()
	if cerr := d.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}

func isEDL(desc *gousb.DeviceDesc) bool {
	if desc.Vendor != VendorID || desc.Product != ProductID {
		return false
	}
	_, _, _, ok := edlInterface(desc)
	return ok
}

// edlInterface finds the vendor-specific interface EDL runs on:
// class ff, subclass ff, protocol ff or 10.
func edlInterface(desc *gousb.DeviceDesc) (cfg, intf, alt int, ok bool) {
	for _, c := range desc.Configs {
		for _, id := range c.Interfaces {
			for _, is := range id.AltSettings {
				if is.Class != gousb.ClassVendorSpec || is.SubClass != gousb.ClassVendorSpec {
					continue
				}
				if is.Protocol != 0xff && is.Protocol != 0x10 {
					continue
				}
				if len(is.Endpoints) != 2 {
					continue
				}
				return c.Number, id.Number, is.Alternate, true
			}
		}
	}
	return 0, 0, 0, false
}

func describe(dev *gousb.Device) Info {
	info := Info{
		Bus:     dev.Desc.Bus,
		Address: dev.Desc.Address,
		Path:    dev.Desc.Path,
	}
	if product, err := dev.Product(); err == nil {
		info.Product = product
		info.Serial = serialFromProduct(product)
	}
	return info
}

// serialFromProduct extracts the chip serial from a boot ROM product string
// such as "QUSB__BULK_CID:0402_SN:1A2B3C4D".
func serialFromProduct(product string) string {
	i := strings.Index(product, "_SN:")
	if i < 0 {
		return ""
	}
	serial := product[i+len("_SN:"):]
	if j := strings.IndexAny(serial, " _"); j >= 0 {
		serial = serial[:j]
	}
	return serial
}
