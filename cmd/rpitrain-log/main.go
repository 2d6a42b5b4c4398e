// Command rpitrain-log views and analyzes protocol trace files.
//
// Trace files are written by rpitrain-controller and rpitrain-device when
// protocol_log is set in their configuration.
//
// Usage:
//
//	rpitrain-log <command> [flags] <file.rtlog>
//
// Examples:
//
//	# View a trace without heartbeats
//	rpitrain-log view --no-heartbeats controller.rtlog
//
//	# Only session state changes for one peripheral
//	rpitrain-log view --category state --endpoint 192.168.1.20:10000 controller.rtlog
//
//	# Export to CSV
//	rpitrain-log export --format csv controller.rtlog > trace.csv
//
//	# Keep one connection
//	rpitrain-log filter --conn-id 3f2a9c1e-... -o one.rtlog controller.rtlog
//
//	# Show statistics
//	rpitrain-log stats controller.rtlog
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sreekarkrishna/RPiModelTrainController/cmd/rpitrain-log/commands"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rpitrain-log",
		Short:         "Protocol trace analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newViewCmd(), newExportCmd(), newFilterCmd(), newStatsCmd())
	return root
}

func newViewCmd() *cobra.Command {
	var (
		layer, direction, category, role, endpoint string
		noHeartbeats                              bool
	)
	cmd := &cobra.Command{
		Use:   "view <file.rtlog>",
		Short: "View a trace in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := commands.ViewFilter{Endpoint: endpoint, HideHeartbeats: noHeartbeats}
			if layer != "" {
				l, err := commands.ParseLayer(layer)
				if err != nil {
					return err
				}
				filter.Layer = &l
			}
			if direction != "" {
				d, err := commands.ParseDirection(direction)
				if err != nil {
					return err
				}
				filter.Direction = &d
			}
			if category != "" {
				c, err := commands.ParseCategory(category)
				if err != nil {
					return err
				}
				filter.Category = &c
			}
			if role != "" {
				r, err := commands.ParseRole(role)
				if err != nil {
					return err
				}
				filter.Role = &r
			}
			return commands.RunView(args[0], filter, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&layer, "layer", "", "filter by layer (transport, session)")
	cmd.Flags().StringVar(&direction, "direction", "", "filter by direction (in, out)")
	cmd.Flags().StringVar(&category, "category", "", "filter by category (message, control, state, error)")
	cmd.Flags().StringVar(&role, "role", "", "filter by recording side (controller, peripheral)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "filter by session endpoint")
	cmd.Flags().BoolVar(&noHeartbeats, "no-heartbeats", false, "hide HEARTBEAT lines")
	return cmd
}

func newExportCmd() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <file.rtlog>",
		Short: "Export a trace as JSON lines or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			return commands.RunExport(args[0], format, w)
		},
	}
	cmd.Flags().StringVar(&format, "format", "jsonl", "output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newFilterCmd() *cobra.Command {
	var opts commands.FilterOptions
	cmd := &cobra.Command{
		Use:   "filter <file.rtlog>",
		Short: "Write the matching events to a new trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Output == "" {
				return fmt.Errorf("output file required (-o)")
			}
			count, err := commands.RunFilter(args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d events to %s\n", count, opts.Output)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Output, "output", "o", "", "output trace file")
	f.StringVar(&opts.ConnID, "conn-id", "", "filter by connection ID")
	f.StringVar(&opts.Endpoint, "endpoint", "", "filter by session endpoint")
	f.StringVar(&opts.TimeStart, "time-start", "", "events at or after this RFC3339 time")
	f.StringVar(&opts.TimeEnd, "time-end", "", "events before this RFC3339 time")
	f.StringVar(&opts.Layer, "layer", "", "filter by layer (transport, session)")
	f.StringVar(&opts.Direction, "direction", "", "filter by direction (in, out)")
	f.StringVar(&opts.Category, "category", "", "filter by category (message, control, state, error)")
	f.StringVar(&opts.Role, "role", "", "filter by recording side (controller, peripheral)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.rtlog>",
		Short: "Show statistics about a trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunStats(args[0], cmd.OutOrStdout())
		},
	}
}
