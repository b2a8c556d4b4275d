package edl

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// Report summarizes one Apply.
type Report struct {
	Results []Result

	// Provisioned is set when the batch was a UFS provisioning run
	Provisioned bool

	BytesWritten int64
	Elapsed      time.Duration

	errs *multierror.Error
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	if res.Status == StatusDone {
		r.BytesWritten += res.Bytes
		return
	}
	r.errs = multierror.Append(r.errs, &EntryError{
		Kind:       res.Kind,
		Descriptor: res.Descriptor,
		Entry:      res.Entry,
		Label:      res.Label,
		Err:        res.Err,
	})
}

// Err returns every failed and skipped entry as one error, or nil if all
// entries succeeded.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	return r.errs.ErrorOrNil()
}

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}
