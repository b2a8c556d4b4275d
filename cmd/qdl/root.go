package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-qdl/descriptor"
	"github.com/moffa90/go-qdl/edl"
	"github.com/moffa90/go-qdl/usb"
)

var (
	flags flagValues

	// cfg is resolved in PersistentPreRunE
	cfg Config
)

var rootCmd = &cobra.Command{
	Use:   "qdl [flags] <programmer> <xml>...",
	Short: "Flash Qualcomm devices in Emergency Download mode",
	Long: `qdl uploads a Firehose programmer to a device in Emergency Download (EDL)
mode and then writes the images described by rawprogram and patch files.
A UFS provisioning file instead configures the storage and ends the run.`,
	Args:          cobra.MinimumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// glog only honours its flags once the standard flag set is parsed.
		if err := flag.CommandLine.Parse(nil); err != nil {
			return err
		}

		path := flags.config
		if path == "" {
			path = DefaultConfigPath()
		}
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", path, err)
		}
		flags.override(&cfg, cmd.Flags())

		if cfg.Debug {
			flag.Set("v", "1")
		}
		return nil
	},
	RunE: runFlash,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "config file (default "+DefaultConfigPath()+")")
	pf.StringVar(&flags.storage, "storage", "ufs", "storage type: ufs or emmc")
	pf.StringSliceVarP(&flags.include, "include", "i", nil, "directory to search for images before the descriptor's own (repeatable)")
	pf.BoolVar(&flags.finalizeProvisioning, "finalize-provisioning", false, "make UFS provisioning permanent")
	pf.BoolVar(&flags.debug, "debug", false, "log protocol details and device messages")

	f := rootCmd.Flags()
	f.StringVarP(&flags.serial, "serial", "S", "", "serial of the device to flash")
	f.IntVar(&flags.maxPayloadSize, "max-payload-size", 1<<20, "raw chunk size offered to the programmer")
	f.BoolVar(&flags.noReset, "no-reset", false, "leave the device in EDL mode after flashing")
	f.StringVar(&flags.deviceLog, "device-log", "", "write programmer log lines to this rotating file")
	f.DurationVar(&flags.timeout, "timeout", 10*time.Second, "per-response timeout")
	f.DurationVar(&flags.wait, "wait", 0, "how long to wait for a device to appear")

	rootCmd.AddCommand(planCmd, devicesCmd, resetCmd)
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	programmer, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read programmer: %w", err)
	}

	batch, err := edl.LoadBatch(args[1:], descriptor.Images{Include: cfg.Include}, cfg.FinalizeProvisioning)
	if err != nil {
		return err
	}

	dev, err := openDevice(ctx, cfg.Serial, cfg.Wait)
	if err != nil {
		return err
	}
	defer dev.Close()

	logLine, closer := deviceLog(cfg.DeviceLog)
	defer closer.Close()

	f := edl.New(dev,
		edl.WithLogger(glogLogger{}),
		edl.WithLogCallback(logLine),
		edl.WithStorage(cfg.Storage),
		edl.WithMaxPayloadSize(cfg.MaxPayloadSize),
		edl.WithFirehoseTimeout(cfg.Timeout),
		edl.WithVerbose(cfg.Debug),
		edl.WithResetOnFinish(!cfg.NoReset),
		edl.WithProgressCallback(progressPrinter()),
		edl.WithResultCallback(func(r edl.Result) {
			if r.Status != edl.StatusDone {
				glog.Errorf("%s %s (%s): %s: %v", r.Kind, r.Label, r.Descriptor, r.Status, r.Err)
			}
		}),
	)

	report, err := f.Run(ctx, programmer, batch)
	if err != nil {
		return err
	}

	if report.Provisioned {
		fmt.Fprintln(cmd.OutOrStdout(), "UFS provisioning done")
		return nil
	}

	var rate float64
	if secs := report.Elapsed.Seconds(); secs > 0 {
		rate = float64(report.BytesWritten) / secs
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s written in %s (%s/s), %d done, %d failed, %d skipped\n",
		humanize.IBytes(uint64(report.BytesWritten)),
		report.Elapsed.Round(time.Millisecond),
		humanize.IBytes(uint64(rate)),
		report.Count(edl.StatusDone),
		report.Count(edl.StatusFailed),
		report.Count(edl.StatusSkipped),
	)
	return report.Err()
}

// openDevice opens the EDL device, waiting up to wait for it to enumerate.
func openDevice(ctx context.Context, serial string, wait time.Duration) (*usb.Device, error) {
	var dev *usb.Device
	args := retry.CallArgs{
		Func: func() error {
			d, err := usb.Open(usb.Options{Serial: serial, Logger: glogLogger{}})
			if err != nil {
				return err
			}
			dev = d
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, usb.ErrNotFound)
		},
		NotifyFunc: func(err error, attempt int) {
			if attempt == 1 {
				glog.Infof("waiting for EDL device...")
			}
		},
		Delay: 500 * time.Millisecond,
		Clock: clock.WallClock,
		Stop:  ctx.Done(),
	}
	if wait > 0 {
		args.MaxDuration = wait
	} else {
		args.Attempts = 1
	}

	if err := retry.Call(args); err != nil {
		return nil, retry.LastError(err)
	}
	return dev, nil
}

// progressPrinter logs one line per operation and every 10% of the data.
func progressPrinter() edl.ProgressCallback {
	var lastPhase string
	var lastCurrent int
	var lastDecile int
	return func(p edl.Progress) {
		decile := int(p.Percentage / 10)
		if p.Phase == lastPhase && p.Current == lastCurrent && decile == lastDecile {
			return
		}
		lastPhase, lastCurrent, lastDecile = p.Phase, p.Current, decile

		if p.Total == 0 {
			glog.Infof("[%s]", p.Phase)
			return
		}
		glog.Infof("[%s] %d/%d %s  %s/%s (%.1f%%)",
			p.Phase, p.Current, p.Total, p.Label,
			humanize.IBytes(uint64(p.BytesWritten)),
			humanize.IBytes(uint64(p.TotalBytes)),
			p.Percentage,
		)
	}
}
