package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-qdl/sahara"
	"github.com/moffa90/go-qdl/usb"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices in EDL mode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := usb.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no EDL devices found")
			return nil
		}
		for _, info := range infos {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", info, info.Product)
		}
		return nil
	},
}

var resetSerial string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restart the Sahara handshake of a device stuck in EDL mode",
	Long: `reset asks the boot ROM to restart its Sahara state machine, which
recovers a device after an interrupted programmer upload.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		dev, err := openDevice(ctx, resetSerial, cfg.Wait)
		if err != nil {
			return err
		}
		defer dev.Close()

		engine := sahara.New(dev, sahara.WithLogger(glogLogger{}), sahara.WithTimeout(cfg.Timeout))
		if err := engine.Reset(ctx); err != nil {
			return fmt.Errorf("sahara reset: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: sahara reset\n", dev.Info())
		return nil
	},
}

func init() {
	resetCmd.Flags().StringVarP(&resetSerial, "serial", "S", "", "serial of the device to reset")
}
