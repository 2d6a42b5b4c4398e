package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/address"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/layout"
)

func newCheckCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [address...]",
		Short: "Validate the configuration, the layout and any addresses given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*f)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "config: ok")

			failed := false
			if _, statErr := os.Stat(cfg.Layout); statErr == nil || f.layout != "" {
				if err := checkLayout(w, cfg.Layout); err != nil {
					fmt.Fprintf(w, "layout %s: %v\n", cfg.Layout, err)
					failed = true
				}
			} else {
				fmt.Fprintf(w, "layout %s: not found, skipped\n", cfg.Layout)
			}

			for _, arg := range args {
				if err := checkAddress(w, arg); err != nil {
					fmt.Fprintf(w, "%s: %v\n", arg, err)
					failed = true
				}
			}
			if failed {
				return errors.New("check failed")
			}
			return nil
		},
	}
}

func checkLayout(w io.Writer, path string) error {
	l, err := layout.Load(path)
	if err != nil {
		return err
	}
	endpoints := make(map[address.Endpoint]bool)
	for _, t := range l.Turnouts {
		endpoints[t.Output().Endpoint] = true
	}
	for _, s := range l.Sensors {
		endpoints[s.Input().Endpoint] = true
	}
	for _, s := range l.Signals {
		endpoints[s.Head().Endpoint] = true
	}
	fmt.Fprintf(w, "layout %s: ok (%d turnouts, %d sensors, %d signals, %d devices)\n",
		path, len(l.Turnouts), len(l.Sensors), len(l.Signals), len(endpoints))
	return nil
}

// checkAddress accepts a signal head address if the text has a dollar
// sign, an output address if it has a bracket, otherwise an input address.
func checkAddress(w io.Writer, text string) error {
	if strings.Contains(text, "$") {
		h, err := address.ParseSignalHead(text)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: signal head %s board 0x%02x red %d green %d on %s\n",
			text, h.ID, h.Board, h.Red, h.Green, h.Endpoint.Address())
		return nil
	}
	if strings.Contains(text, "[") {
		out, err := address.ParseOutput(text)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: output channel %d thrown %g closed %g on %s\n",
			text, out.Channel, out.ThrownAngle, out.ClosedAngle, out.Endpoint.Address())
		return nil
	}
	in, err := address.ParseInput(text)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: input pin %d on %s\n", text, in.Pin, in.Endpoint.Address())
	return nil
}
