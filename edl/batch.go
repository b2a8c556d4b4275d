package edl

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/moffa90/go-qdl/descriptor"
	"github.com/moffa90/go-qdl/image"
	"github.com/moffa90/go-qdl/plan"
)

// Batch is one flashing job: rawprogram files, patch files and optionally a
// UFS provisioning file.
type Batch struct {
	Programs []*descriptor.Program
	Patches  []*descriptor.Patch

	// UFS provisions the storage instead of flashing it. A batch with UFS set
	// ends after provisioning; programs and patches are ignored.
	UFS *descriptor.UFS

	// Images locates the files program entries name
	Images descriptor.Images
}

// LoadBatch detects and loads every descriptor in paths. finalize makes UFS
// provisioning permanent.
func LoadBatch(paths []string, images descriptor.Images, finalize bool) (*Batch, error) {
	b := &Batch{Images: images}
	for _, path := range paths {
		t, err := descriptor.DetectFile(path)
		if err != nil {
			return nil, err
		}

		switch t {
		case descriptor.TypeProgram:
			p, err := descriptor.LoadProgram(path)
			if err != nil {
				return nil, err
			}
			b.Programs = append(b.Programs, p)
		case descriptor.TypePatch:
			p, err := descriptor.LoadPatch(path)
			if err != nil {
				return nil, err
			}
			b.Patches = append(b.Patches, p)
		case descriptor.TypeUFS:
			if b.UFS != nil {
				return nil, fmt.Errorf("%s: more than one UFS provisioning file", path)
			}
			u, err := descriptor.LoadUFS(path)
			if err != nil {
				return nil, err
			}
			u.SetCommit(finalize)
			b.UFS = u
		case descriptor.TypeContents:
			return nil, fmt.Errorf("%s: %s: %w", path, t, descriptor.ErrUnsupported)
		default:
			return nil, fmt.Errorf("%s: cannot detect descriptor type", path)
		}
	}
	return b, nil
}

// Step is a planned operation with the descriptor it came from.
type Step struct {
	Descriptor string
	plan.Operation
}

// Planned is a batch turned into operations. Programs (including erases) run
// before Patches.
type Planned struct {
	Programs []Step
	Patches  []Step

	// Failures lists the entries that could not be planned
	Failures []Result
}

// Bytes is the raw byte count of every program step.
func (p *Planned) Bytes() int64 {
	var n int64
	for _, s := range p.Programs {
		n += s.Bytes()
	}
	return n
}

// Plan plans every descriptor of the batch. layouts must hold the partition
// tables of LayoutsNeeded; entries that need a missing one end up in Failures.
func (b *Batch) Plan(layouts plan.Layouts) *Planned {
	out := &Planned{}
	for _, p := range b.Programs {
		ops, err := plan.Program(p.Entries, b.sources(p), layouts)
		for _, op := range ops {
			out.Programs = append(out.Programs, Step{Descriptor: p.Path, Operation: op})
		}
		entries := p.Entries
		out.Failures = append(out.Failures, planFailures(p.Path, err, func(i int) int {
			return entries[i].PhysicalPartition
		})...)
	}
	for _, p := range b.Patches {
		ops, err := plan.Patch(p.Entries)
		for _, op := range ops {
			out.Patches = append(out.Patches, Step{Descriptor: p.Path, Operation: op})
		}
		entries := p.Entries
		out.Failures = append(out.Failures, planFailures(p.Path, err, func(i int) int {
			return entries[i].PhysicalPartition
		})...)
	}
	return out
}

// LayoutsNeeded lists the physical partitions whose partition table must be
// read before the batch can be planned.
func (b *Batch) LayoutsNeeded() []int {
	return plan.LayoutsNeeded(b.entries())
}

// BootablePartition returns the physical partition the device should boot
// from, taken from the primary bootloader entry.
func (b *Batch) BootablePartition() (int, bool) {
	return plan.BootablePartition(b.entries())
}

func planFailures(desc string, err error, partition func(int) int) []Result {
	if err == nil {
		return nil
	}
	var errs []error
	var merr *multierror.Error
	if errors.As(err, &merr) {
		errs = merr.Errors
	} else {
		errs = []error{err}
	}

	var out []Result
	for _, e := range errs {
		var entryErr *plan.EntryError
		if !errors.As(e, &entryErr) {
			out = append(out, Result{Descriptor: desc, Entry: -1, Status: StatusFailed, Err: e})
			continue
		}
		out = append(out, Result{
			Kind:              entryErr.Kind,
			Descriptor:        desc,
			Entry:             entryErr.Entry,
			Label:             entryErr.Label,
			PhysicalPartition: partition(entryErr.Entry),
			Status:            StatusFailed,
			Err:               entryErr.Err,
		})
	}
	return out
}

// layoutSectorSize is the sector size the entries on partition n use, or
// fallback if none says.
func (b *Batch) layoutSectorSize(n, fallback int) int {
	for _, e := range b.entries() {
		if e.PhysicalPartition == n && plan.IsSymbolic(e.StartSector) && e.SectorSize > 0 {
			return e.SectorSize
		}
	}
	return fallback
}

// sources resolves images relative to one rawprogram file.
func (b *Batch) sources(p *descriptor.Program) func(descriptor.ProgramEntry) (image.Source, error) {
	return func(e descriptor.ProgramEntry) (image.Source, error) {
		return b.Images.Source(p, e)
	}
}

// entries returns the entries of every rawprogram file.
func (b *Batch) entries() []descriptor.ProgramEntry {
	var all []descriptor.ProgramEntry
	for _, p := range b.Programs {
		all = append(all, p.Entries...)
	}
	return all
}
