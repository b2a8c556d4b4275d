package edl

import (
	"time"

	"github.com/moffa90/go-qdl/plan"
)

// Progress phases.
const (
	PhaseSahara       = "sahara"
	PhaseConfiguring  = "configuring"
	PhaseProvisioning = "provisioning"
	PhaseLayout       = "reading layout"
	PhaseProgramming  = "programming"
	PhasePatching     = "patching"
	PhaseFinalizing   = "finalizing"
	PhaseComplete     = "complete"
)

// Progress contains information about the flashing progress.
// Passed to ProgressCallback as the run advances.
type Progress struct {
	// Phase is one of the Phase constants
	Phase string

	// Current is the 1-based operation within the phase, 0 before the first
	Current int

	// Total is the number of operations in the phase
	Total int

	// Label names the current operation
	Label string

	// BytesWritten counts raw bytes sent to storage so far, across all phases
	BytesWritten int64

	// TotalBytes is the raw byte count of every planned program operation
	TotalBytes int64

	// Percentage is BytesWritten relative to TotalBytes (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time since the run started
	ElapsedTime time.Duration
}

// ProgressCallback is called as the run advances.
// Implementations should return quickly to avoid stalling the transfer.
//
// Example:
//
//	f := edl.New(dev,
//	    edl.WithProgressCallback(func(p edl.Progress) {
//	        fmt.Printf("[%s] %d/%d %s %.1f%%\n",
//	            p.Phase, p.Current, p.Total, p.Label, p.Percentage)
//	    }),
//	)
type ProgressCallback func(Progress)

// Status is the outcome of one descriptor entry.
type Status int

const (
	StatusDone Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result reports the outcome of one descriptor entry.
type Result struct {
	Kind plan.Kind

	// Descriptor is the file the entry came from
	Descriptor string

	// Entry is the entry's index in its descriptor
	Entry int

	Label             string
	PhysicalPartition int
	Status            Status

	// Err is set for failed and skipped entries
	Err error

	// Reason is the device's own explanation of a NAK, if it gave one
	Reason string

	Bytes    int64
	Duration time.Duration
}

// ResultCallback receives every entry outcome as soon as it is known.
type ResultCallback func(Result)
