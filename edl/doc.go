// Package edl flashes a device in Qualcomm Emergency Download mode.
//
// A Flasher ties the pieces together. Connect uploads the programmer over
// Sahara and configures the Firehose session that follows on the same
// transport. Apply then runs a Batch (rawprogram files, patch files and
// optionally a UFS provisioning file) and Finalize marks the boot partition
// and resets the device. Run does all three.
//
// Basic usage:
//
//	dev, err := usb.Open(ctx, usb.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	batch, err := edl.LoadBatch(
//	    []string{"rawprogram0.xml", "patch0.xml"},
//	    descriptor.Images{},
//	    false,
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	f := edl.New(dev, edl.WithStorage("ufs"))
//	report, err := f.Run(ctx, programmer, batch)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := report.Err(); err != nil {
//	    log.Printf("some entries failed: %v", err)
//	}
//
// A device NAK fails one entry. The run continues and the failure, with the
// device's reason, is reported through WithResultCallback and Report.Err.
// Patches on a physical partition where a program failed are skipped.
// Transport errors, protocol violations and cancellation end the run; on
// cancellation the transport is reset.
package edl
