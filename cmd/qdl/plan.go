package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-qdl/descriptor"
	"github.com/moffa90/go-qdl/edl"
	"github.com/moffa90/go-qdl/firehose"
	"github.com/moffa90/go-qdl/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan <xml>...",
	Short: "Show the operations a flash would run, without a device",
	Long: `plan loads the descriptors, finds every image and prints the requests
qdl would send. Start sectors that refer to the device's partition table
(LOWEST_FREE, label:<name>) cannot be resolved without a device and are
listed as needing a layout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := edl.LoadBatch(args, descriptor.Images{Include: cfg.Include}, cfg.FinalizeProvisioning)
		if err != nil {
			return err
		}
		return printPlan(cmd.OutOrStdout(), batch)
	},
}

func printPlan(out io.Writer, batch *edl.Batch) error {
	if batch.UFS != nil {
		reqs := batch.UFS.Requests()
		fmt.Fprintf(out, "UFS provisioning from %s: %d requests, commit=%v\n",
			batch.UFS.Path, len(reqs), batch.UFS.Commit())
		return nil
	}

	planned := batch.Plan(nil)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tKIND\tLABEL\tPARTITION\tSTART\tSECTORS\tSIZE\tSOURCE")
	for _, step := range planned.Programs {
		printStep(w, "program", step)
	}
	for _, step := range planned.Patches {
		printStep(w, "patch", step)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if n, ok := batch.BootablePartition(); ok {
		fmt.Fprintf(out, "\nboot partition: %d\n", n)
	}
	fmt.Fprintf(out, "total: %s in %d program and %d patch operations\n",
		humanize.IBytes(uint64(planned.Bytes())), len(planned.Programs), len(planned.Patches))

	if len(planned.Failures) > 0 {
		fmt.Fprintf(out, "\n%d entries need the device or cannot be planned:\n", len(planned.Failures))
		for _, f := range planned.Failures {
			fmt.Fprintf(out, "  %s %s[%d] %s: %v\n", f.Kind, f.Descriptor, f.Entry, f.Label, f.Err)
		}
	}
	return nil
}

func printStep(w io.Writer, phase string, step edl.Step) {
	var start string
	var sectors uint64
	var size, source string

	switch req := step.Request.(type) {
	case firehose.Program:
		start, sectors = req.StartSector, req.NumSectors
		size = humanize.IBytes(uint64(req.RawLength()))
		source = step.Payload.Name()
	case firehose.Erase:
		start, sectors = req.StartSector, req.NumSectors
		size = humanize.IBytes(uint64(req.SectorSize) * req.NumSectors)
		source = "-"
	case firehose.Patch:
		start = req.StartSector
		size = fmt.Sprintf("%d B @%d", req.SizeInBytes, req.ByteOffset)
		source = req.Value
	}

	sectorCol := "-"
	if step.Kind != plan.KindPatch {
		sectorCol = fmt.Sprint(sectors)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
		phase, step.Kind, step.Label, step.PhysicalPartition, start, sectorCol, size, source)
}
