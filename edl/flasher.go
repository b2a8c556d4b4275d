package edl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/moffa90/go-qdl/descriptor"
	"github.com/moffa90/go-qdl/firehose"
	"github.com/moffa90/go-qdl/gpt"
	"github.com/moffa90/go-qdl/plan"
	"github.com/moffa90/go-qdl/sahara"
	"github.com/moffa90/go-qdl/transport"
)

// Executor runs Firehose requests. *firehose.Session implements it.
type Executor interface {
	Execute(ctx context.Context, req firehose.Request) (*firehose.Response, error)
	ExecuteRaw(ctx context.Context, req firehose.Program, payload io.Reader) (*firehose.Response, error)
	ReadRaw(ctx context.Context, req firehose.Read) ([]byte, error)
	Erase(ctx context.Context, req firehose.Erase) error
	SetBootableStorageDrive(ctx context.Context, n int) error
	Power(ctx context.Context, value string) error
	SectorSize() int
}

// FinalizeOptions control what happens after the batch was applied.
type FinalizeOptions struct {
	// SetBootable sends setbootablestoragedrive with BootablePartition
	SetBootable       bool
	BootablePartition int

	// Reset powers the device through a reset; the connection ends
	Reset bool
}

// Flasher drives a device from EDL mode to a flashed, rebooted device.
//
// Connect, Apply and Finalize are serialized: a second call waits until the
// one in progress returns.
type Flasher struct {
	transport transport.Transport
	config    Config

	mu         sync.Mutex
	session    Executor
	negotiated firehose.Negotiated

	start   time.Time
	written int64
	total   int64
}

// New creates a new Flasher instance.
// The transport must be connected to a device in EDL mode (or one whose
// programmer already runs, see Resume).
//
// Example:
//
//	dev, _ := usb.Open(ctx, usb.Options{})
//	f := edl.New(dev,
//	    edl.WithStorage("emmc"),
//	    edl.WithProgressCallback(progressFunc),
//	)
func New(t transport.Transport, opts ...Option) *Flasher {
	if t == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Flasher{
		transport: t,
		config:    cfg,
	}
}

// Connect uploads programmer through Sahara and configures the Firehose
// session.
func (f *Flasher) Connect(ctx context.Context, programmer []byte) error {
	return f.connect(ctx, programmer, false)
}

// Resume configures a Firehose session with a programmer that already runs.
func (f *Flasher) Resume(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.begin()
	return f.configure(ctx, nil, false)
}

func (f *Flasher) connect(ctx context.Context, programmer []byte, skipStorageInit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.begin()
	f.reportProgress(Progress{Phase: PhaseSahara})
	f.logInfo("uploading programmer", "size", len(programmer))

	engine := sahara.New(f.transport,
		sahara.WithLogger(f.config.Logger),
		sahara.WithTimeout(f.config.SaharaTimeout),
	)
	if err := engine.Run(ctx, programmer); err != nil {
		f.logError("sahara failed", "error", err)
		return fmt.Errorf("sahara: %w", err)
	}

	return f.configure(ctx, engine.Buffered(), skipStorageInit)
}

func (f *Flasher) configure(ctx context.Context, pending []byte, skipStorageInit bool) error {
	f.reportProgress(Progress{Phase: PhaseConfiguring})

	opts := []firehose.Option{
		firehose.WithLogger(f.config.Logger),
		firehose.WithTimeout(f.config.FirehoseTimeout),
		firehose.WithPending(pending),
	}
	if f.config.LogCallback != nil {
		opts = append(opts, firehose.WithLogCallback(f.config.LogCallback))
	}
	s := firehose.New(f.transport, opts...)

	n, err := s.Configure(ctx, firehose.ConfigureOptions{
		MemoryName:      f.config.Storage,
		MaxPayloadSize:  f.config.MaxPayloadSize,
		SectorSize:      f.config.SectorSize,
		Verbose:         f.config.Verbose,
		SkipStorageInit: skipStorageInit,
	})
	if err != nil {
		f.logError("configure failed", "error", err)
		return fmt.Errorf("configure: %w", err)
	}

	f.logInfo("programmer configured",
		"memory", n.MemoryName,
		"max_payload", n.MaxPayloadSize,
		"sector_size", n.SectorSize,
	)
	f.session = s
	f.negotiated = n
	return nil
}

// Negotiated returns the outcome of configure. ok is false before Connect.
func (f *Flasher) Negotiated() (n firehose.Negotiated, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.negotiated, f.session != nil
}

// Apply runs batch against the connected programmer:
//  1. UFS provisioning, if the batch carries it; the run ends there
//  2. Read the partition tables that symbolic start sectors refer to
//  3. Program and erase, in descriptor order
//  4. Patch, skipping partitions where a program failed
//
// A NAK fails its entry only; it is recorded in the report and the run goes
// on. Transport failures and cancellation end the run. On cancellation no
// further request is issued and the transport is reset.
//
// The returned error covers the run as a whole; per-entry failures are in
// Report.Err.
func (f *Flasher) Apply(ctx context.Context, batch *Batch) (*Report, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil {
		return nil, ErrNotConnected
	}

	f.begin()
	start := time.Now()
	report := &Report{}
	defer func() { report.Elapsed = time.Since(start) }()

	if batch.UFS != nil {
		report.Provisioned = true
		return report, f.provision(ctx, batch.UFS)
	}

	layouts, layoutErrs, err := f.readLayouts(ctx, batch)
	if err != nil {
		return report, err
	}

	planned := batch.Plan(layouts)
	failed := make(map[int]bool)
	for _, res := range planned.Failures {
		if cause, ok := layoutErrs[res.PhysicalPartition]; ok {
			var unresolved *plan.UnresolvedSectorError
			if errors.As(res.Err, &unresolved) {
				res.Err = &LayoutError{PhysicalPartition: res.PhysicalPartition, Err: cause}
			}
		}
		f.logError("cannot plan entry", "descriptor", res.Descriptor, "entry", res.Entry, "error", res.Err)
		if res.Kind != plan.KindPatch {
			failed[res.PhysicalPartition] = true
		}
		f.result(report, res)
	}

	f.written = 0
	f.total = planned.Bytes()
	f.logInfo("applying batch",
		"programs", len(planned.Programs),
		"patches", len(planned.Patches),
		"bytes", f.total,
	)

	for i, step := range planned.Programs {
		if err := ctx.Err(); err != nil {
			return report, f.cancel(err)
		}
		f.reportProgress(Progress{
			Phase:   PhaseProgramming,
			Current: i + 1,
			Total:   len(planned.Programs),
			Label:   step.Label,
		})

		res, err := f.execute(ctx, step, PhaseProgramming, i+1, len(planned.Programs))
		if res.Status == StatusFailed {
			failed[step.PhysicalPartition] = true
		}
		f.result(report, res)
		if err != nil {
			return report, err
		}
	}

	for i, step := range planned.Patches {
		if err := ctx.Err(); err != nil {
			return report, f.cancel(err)
		}
		f.reportProgress(Progress{
			Phase:   PhasePatching,
			Current: i + 1,
			Total:   len(planned.Patches),
			Label:   step.Label,
		})

		if failed[step.PhysicalPartition] {
			f.logInfo("skipping patch", "what", step.Label, "partition", step.PhysicalPartition)
			f.result(report, Result{
				Kind:              step.Kind,
				Descriptor:        step.Descriptor,
				Entry:             step.Entry,
				Label:             step.Label,
				PhysicalPartition: step.PhysicalPartition,
				Status:            StatusSkipped,
				Err:               &SkippedError{PhysicalPartition: step.PhysicalPartition},
			})
			continue
		}

		res, err := f.execute(ctx, step, PhasePatching, i+1, len(planned.Patches))
		f.result(report, res)
		if err != nil {
			return report, err
		}
	}

	f.logInfo("batch applied",
		"done", report.Count(StatusDone),
		"failed", report.Count(StatusFailed),
		"skipped", report.Count(StatusSkipped),
		"bytes", report.BytesWritten,
	)
	return report, nil
}

// Finalize marks the boot partition and resets the device, as opts asks.
// After a reset the Flasher must Connect again.
func (f *Flasher) Finalize(ctx context.Context, opts FinalizeOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil {
		return ErrNotConnected
	}
	f.reportProgress(Progress{Phase: PhaseFinalizing})

	if opts.SetBootable {
		f.logInfo("setting bootable storage drive", "partition", opts.BootablePartition)
		if err := f.session.SetBootableStorageDrive(ctx, opts.BootablePartition); err != nil {
			return fmt.Errorf("set bootable storage drive %d: %w", opts.BootablePartition, err)
		}
	}

	if opts.Reset {
		f.logInfo("resetting device")
		if err := f.session.Power(ctx, firehose.PowerReset); err != nil {
			return fmt.Errorf("power reset: %w", err)
		}
		f.session = nil
	}
	return nil
}

// Run connects, applies batch and finalizes: the whole flashing flow.
//
// A provisioning batch configures without storage init and ends after
// provisioning. Otherwise the device is pointed at the bootloader's physical
// partition, if the batch programs one, and reset when ResetOnFinish is set.
// Entry failures do not stop finalizing; they are returned in the report.
func (f *Flasher) Run(ctx context.Context, programmer []byte, batch *Batch) (*Report, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch cannot be nil")
	}

	if err := f.connect(ctx, programmer, batch.UFS != nil); err != nil {
		return nil, err
	}

	report, err := f.Apply(ctx, batch)
	if err != nil {
		return report, err
	}
	if report.Provisioned {
		f.reportProgress(Progress{Phase: PhaseComplete})
		return report, nil
	}

	opts := FinalizeOptions{Reset: f.config.ResetOnFinish}
	opts.BootablePartition, opts.SetBootable = batch.BootablePartition()
	if err := f.Finalize(ctx, opts); err != nil {
		return report, err
	}

	f.reportProgress(Progress{Phase: PhaseComplete})
	return report, nil
}

func (f *Flasher) provision(ctx context.Context, u *descriptor.UFS) error {
	reqs := u.Requests()
	f.logInfo("provisioning UFS", "requests", len(reqs), "commit", u.Commit())

	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			return f.cancel(err)
		}
		f.reportProgress(Progress{
			Phase:   PhaseProvisioning,
			Current: i + 1,
			Total:   len(reqs),
			Label:   fmt.Sprintf("ufs %d/%d", i+1, len(reqs)),
		})
		if _, err := f.session.Execute(ctx, req); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return f.cancel(ctxErr)
			}
			return fmt.Errorf("ufs provisioning request %d: %w", i+1, err)
		}
	}

	if !u.Commit() {
		f.logInfo("provisioning was not committed; the device keeps its previous configuration after reset")
	}
	return nil
}

// readLayouts reads and parses the primary GPT of every physical partition the
// batch needs. Failures that leave the session usable are returned per
// partition; anything else ends the run.
func (f *Flasher) readLayouts(ctx context.Context, batch *Batch) (plan.Layouts, map[int]error, error) {
	needed := batch.LayoutsNeeded()
	layouts := make(plan.Layouts, len(needed))
	failures := make(map[int]error)

	for i, n := range needed {
		if err := ctx.Err(); err != nil {
			return nil, nil, f.cancel(err)
		}
		f.reportProgress(Progress{
			Phase:   PhaseLayout,
			Current: i + 1,
			Total:   len(needed),
			Label:   fmt.Sprintf("physical partition %d", n),
		})

		sectorSize := batch.layoutSectorSize(n, f.session.SectorSize())
		if err := f.checkSectorSize(sectorSize); err != nil {
			f.logError("cannot read layout", "partition", n, "error", err)
			failures[n] = err
			continue
		}
		data, err := f.session.ReadRaw(ctx, firehose.Read{
			SectorSize:        sectorSize,
			NumSectors:        uint64(gpt.PrimarySectors(sectorSize)),
			PhysicalPartition: n,
			StartSector:       "0",
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, f.cancel(ctxErr)
			}
			if firehose.IsFatal(err) {
				return nil, nil, &LayoutError{PhysicalPartition: n, Err: err}
			}
			f.logError("layout read rejected", "partition", n, "error", err)
			failures[n] = err
			continue
		}

		layout, err := gpt.Parse(data, sectorSize)
		if err != nil {
			f.logError("layout unreadable", "partition", n, "error", err)
			failures[n] = err
			continue
		}
		f.logDebug("layout read", "partition", n, "partitions", len(layout.Partitions))
		layouts[n] = layout
	}
	return layouts, failures, nil
}

// execute runs one planned step. A NAK, an unreadable image or a sector size
// the session cannot carry fails the step only; any other error is returned
// and ends the run.
func (f *Flasher) execute(ctx context.Context, step Step, phase string, current, total int) (Result, error) {
	res := Result{
		Kind:              step.Kind,
		Descriptor:        step.Descriptor,
		Entry:             step.Entry,
		Label:             step.Label,
		PhysicalPartition: step.PhysicalPartition,
	}
	start := time.Now()

	var err error
	switch req := step.Request.(type) {
	case firehose.Program:
		if sizeErr := f.checkSectorSize(req.SectorSize); sizeErr != nil {
			res.Status = StatusFailed
			res.Err = sizeErr
			f.logError("cannot program", "label", step.Label, "error", sizeErr)
			return res, nil
		}
		rc, openErr := step.Payload.Open()
		if openErr != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("open image: %w", openErr)
			f.logError("cannot open image", "label", step.Label, "error", openErr)
			return res, nil
		}

		before := f.written
		pr := &progressReader{
			r:     rc,
			f:     f,
			phase: phase,
			label: step.Label,
			cur:   current,
			total: total,
			next:  f.written + f.config.ProgressInterval,
		}
		_, err = f.session.ExecuteRaw(ctx, req, pr)
		rc.Close()
		if err == nil {
			res.Bytes = step.Bytes()
			f.written = before + res.Bytes
		} else {
			f.written = before
		}
	case firehose.Erase:
		err = f.session.Erase(ctx, req)
	default:
		_, err = f.session.Execute(ctx, req)
	}
	res.Duration = time.Since(start)

	if err == nil {
		res.Status = StatusDone
		f.logDebug("operation done", "op", step.String(), "bytes", res.Bytes, "duration", res.Duration)
		return res, nil
	}

	res.Status = StatusFailed
	res.Err = err

	var rejected *firehose.DeviceRejectedError
	if errors.As(err, &rejected) {
		res.Reason = rejected.Reason
		f.logError("operation rejected", "op", step.String(), "reason", rejected.Reason)
		return res, nil
	}
	var payload *firehose.PayloadError
	if errors.As(err, &payload) {
		f.logError("image read failed, region written with zeros", "op", step.String(), "error", payload.Err)
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, f.cancel(ctxErr)
	}
	f.logError("operation failed", "op", step.String(), "error", err)
	return res, fmt.Errorf("%s: %w", step.String(), err)
}

// checkSectorSize rejects sectors larger than one negotiated raw chunk.
func (f *Flasher) checkSectorSize(sectorSize int) error {
	if sectorSize > f.negotiated.MaxPayloadSize {
		return &SectorSizeError{SectorSize: sectorSize, MaxPayloadSize: f.negotiated.MaxPayloadSize}
	}
	return nil
}

// cancel resets the transport after the run was cancelled. The session is
// gone afterwards.
func (f *Flasher) cancel(cause error) error {
	f.logInfo("cancelled, resetting device")
	if err := f.transport.Reset(); err != nil {
		f.logError("reset failed", "error", err)
	}
	f.session = nil
	return fmt.Errorf("cancelled: %w", cause)
}

func (f *Flasher) result(report *Report, res Result) {
	report.add(res)
	if f.config.ResultCallback != nil {
		f.config.ResultCallback(res)
	}
}

func (f *Flasher) begin() {
	if f.start.IsZero() {
		f.start = time.Now()
	}
}

// reportProgress fills in the byte counters and calls the progress callback.
func (f *Flasher) reportProgress(p Progress) {
	if f.config.ProgressCallback == nil {
		return
	}
	p.BytesWritten = f.written
	p.TotalBytes = f.total
	if f.total > 0 {
		p.Percentage = float64(f.written) / float64(f.total) * 100.0
	}
	p.ElapsedTime = time.Since(f.start)
	f.config.ProgressCallback(p)
}

// Logging helpers
func (f *Flasher) logDebug(msg string, keysAndValues ...interface{}) {
	f.config.Logger.Debug(msg, keysAndValues...)
}

func (f *Flasher) logInfo(msg string, keysAndValues ...interface{}) {
	f.config.Logger.Info(msg, keysAndValues...)
}

func (f *Flasher) logError(msg string, keysAndValues ...interface{}) {
	f.config.Logger.Error(msg, keysAndValues...)
}

// progressReader counts raw bytes as the session pulls them and reports
// progress every ProgressInterval bytes.
type progressReader struct {
	r     io.Reader
	f     *Flasher
	phase string
	label string
	cur   int
	total int
	next  int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.f.written += int64(n)
	if p.f.written >= p.next {
		p.next = p.f.written + p.f.config.ProgressInterval
		p.f.reportProgress(Progress{
			Phase:   p.phase,
			Current: p.cur,
			Total:   p.total,
			Label:   p.label,
		})
	}
	return n, err
}
