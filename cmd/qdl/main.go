// Command qdl flashes Qualcomm devices in Emergency Download mode.
//
//	qdl [--storage ufs|emmc] [--include dir]... prog_firehose.elf rawprogram*.xml patch*.xml
//	qdl plan rawprogram*.xml patch*.xml
//	qdl devices
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
)

func main() {
	// glog writes to files unless told otherwise; a CLI wants stderr.
	flag.Set("logtostderr", "true")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	if err := rootCmd.Execute(); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}
