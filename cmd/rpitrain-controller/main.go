// Command rpitrain-controller drives the turnouts and sensors of a model
// railway layout through networked peripherals.
//
// Usage:
//
//	rpitrain-controller [flags]
//	rpitrain-controller check [flags] [address...]
//
// The controller reads rpitrain-controller.yaml (see pkg/config) and the
// layout file it names, opens one session per peripheral endpoint, moves
// turnouts with an initial position and then runs until interrupted.
//
// Examples:
//
//	# Run with the layout in the working directory
//	rpitrain-controller
//
//	# Interactive console
//	rpitrain-controller -i
//
//	# Record every protocol line
//	rpitrain-controller --protocol-log controller.rtlog
//
//	# Validate a layout and some addresses without connecting
//	rpitrain-controller check --layout yard.yaml "3[80][100]:10.0.0.7" "8:10.0.0.7"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// flags shared by the commands.
type flags struct {
	config      string
	layout      string
	protocolLog string
	logLevel    string
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
		Use:           "rpitrain-controller",
		Short:         "Model railway layout controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.PersistentFlags().StringVarP(&f.config, "config", "c", "", "config file (default rpitrain-controller.yaml in ., /etc/rpitrain, ~/.rpitrain)")
	cmd.PersistentFlags().StringVar(&f.layout, "layout", "", "layout file, overrides the config")
	cmd.Flags().StringVar(&f.protocolLog, "protocol-log", "", "record protocol lines to this file, overrides the config")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the config")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "start the interactive console")

	cmd.AddCommand(newCheckCmd(&f))
	return cmd
}
