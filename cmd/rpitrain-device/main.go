// Command rpitrain-device runs a peripheral: it drives servos and reads
// input pins on behalf of a layout controller.
//
// Usage:
//
//	rpitrain-device [flags]
//
// The device reads rpitrain-device.yaml (see pkg/config). By default it
// listens on :10000 for its controller; with controller set it dials out
// instead. The sim driver keeps servo angles and pin levels in memory, the
// rpio driver uses the Raspberry Pi's hardware PWM and GPIO.
//
// Examples:
//
//	# Simulated device with a console to ground pins
//	rpitrain-device --simulate -i
//
//	# Real hardware on another port
//	rpitrain-device --listen :10001
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type flags struct {
	config      string
	listen      string
	protocolLog string
	logLevel    string
	simulate    bool
	interactive bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "rpitrain-device",
		Short:         "Model railway peripheral",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.config, "config", "c", "", "config file (default rpitrain-device.yaml in ., /etc/rpitrain, ~/.rpitrain)")
	cmd.Flags().StringVar(&f.listen, "listen", "", "listen address, overrides the config")
	cmd.Flags().StringVar(&f.protocolLog, "protocol-log", "", "record protocol lines to this file, overrides the config")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the config")
	cmd.Flags().BoolVar(&f.simulate, "simulate", false, "use the sim driver regardless of the config")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "start the interactive console")
	return cmd
}
