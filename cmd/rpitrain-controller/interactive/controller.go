// Package interactive provides the interactive command-line interface
// for the layout controller.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/address"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/layout"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/registry"
)

// Controller handles interactive mode for rpitrain-controller.
type Controller struct {
	reg    *registry.Registry
	layout *layout.Bound
	rl     *readline.Instance
}

// New creates the console. Call SetRegistry before Run, and Attach once
// the layout is bound.
func New() (*Controller, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "controller> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Controller{rl: rl}, nil
}

// SetRegistry sets the registry used by send, watch and status.
func (c *Controller) SetRegistry(reg *registry.Registry) {
	c.reg = reg
}

// Attach sets the bound layout used by the name-based commands.
func (c *Controller) Attach(b *layout.Bound) {
	c.layout = b
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Controller) Stdout() io.Writer {
	return c.rl.Stdout()
}

// SensorChanged prints a sensor transition. It matches layout.SensorFunc.
func (c *Controller) SensorChanged(name string, grounded bool) {
	fmt.Fprintf(c.rl.Stdout(), "[SENSOR] %s %s\n", name, groundedLabel(grounded))
}

// Run starts the interactive command loop. It returns when the user quits,
// calling cancel, or when ctx is done.
func (c *Controller) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "turnouts", "t":
			c.cmdTurnouts()

		case "sensors", "s":
			c.cmdSensors()

		case "throw":
			c.cmdPosition(args, true)

		case "close":
			c.cmdPosition(args, false)

		case "angle", "a":
			c.cmdAngle(args)

		case "signals", "sig":
			c.cmdSignals()

		case "signal":
			c.cmdSignal(args)

		case "send":
			c.cmdSend(args)

		case "aspect":
			c.cmdAspect(args)

		case "watch":
			c.cmdWatch(args)

		case "status", "st":
			c.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Controller) printHelp() {
	fmt.Fprint(c.rl.Stdout(), `
Commands:
  turnouts, t              List turnouts and their last command
  sensors, s               List sensors and their last level
  throw <turnout>          Move a turnout to its thrown angle
  close <turnout>          Move a turnout to its closed angle
  angle, a <turnout> <deg> Move a turnout to an explicit angle
  signals, sig             List signals and their last appearance
  signal <signal> <aspect> Set a signal to dark, red, green, flashred or flashgreen
  send <output> <deg>      Send an angle to a raw output address, e.g. 3[80][100]:10.0.0.7
  aspect <head> <aspect>   Set a raw signal head address, e.g. SH1$0x24$R6$G14:10.0.0.7
  watch <input>            Print transitions of a raw input address, e.g. 8:10.0.0.7
  status, st               Show device sessions
  help, ?                  Show this help
  quit, q                  Exit

`)
}

func (c *Controller) cmdTurnouts() {
	w := c.rl.Stdout()
	if c.layout == nil || len(c.layout.TurnoutNames()) == 0 {
		fmt.Fprintln(w, "No turnouts in layout")
		return
	}
	fmt.Fprintf(w, "%-16s %-28s %-8s %7s  %s\n", "NAME", "ADDRESS", "POSITION", "ANGLE", "SESSION")
	for _, t := range c.layout.Turnouts() {
		pos := string(t.Position)
		if pos == "" {
			pos = "-"
		}
		angle := "-"
		if t.Moved {
			angle = strconv.FormatFloat(t.Angle, 'f', -1, 64)
		}
		fmt.Fprintf(w, "%-16s %-28s %-8s %7s  %s\n", t.Name, t.Address, pos, angle, t.State)
	}
}

func (c *Controller) cmdSensors() {
	w := c.rl.Stdout()
	if c.layout == nil || len(c.layout.Sensors()) == 0 {
		fmt.Fprintln(w, "No sensors in layout")
		return
	}
	fmt.Fprintf(w, "%-16s %-24s %s\n", "NAME", "ADDRESS", "LEVEL")
	for _, s := range c.layout.Sensors() {
		level := "unknown"
		if s.Known {
			level = groundedLabel(s.Grounded)
		}
		fmt.Fprintf(w, "%-16s %-24s %s\n", s.Name, s.Address, level)
	}
}

func (c *Controller) cmdSignals() {
	w := c.rl.Stdout()
	if c.layout == nil || len(c.layout.Signals()) == 0 {
		fmt.Fprintln(w, "No signals in layout")
		return
	}
	fmt.Fprintf(w, "%-16s %-32s %-10s  %s\n", "NAME", "ADDRESS", "APPEARANCE", "SESSION")
	for _, s := range c.layout.Signals() {
		appearance := "-"
		if s.Set {
			appearance = s.Appearance.String()
		}
		fmt.Fprintf(w, "%-16s %-32s %-10s  %s\n", s.Name, s.Address, appearance, s.State)
	}
}

func (c *Controller) cmdSignal(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: signal <signal> <appearance>")
		return
	}
	if c.layout == nil {
		fmt.Fprintln(c.rl.Stdout(), "No layout loaded")
		return
	}
	a, err := layout.ParseAppearance(args[1])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if err := c.layout.SetSignal(args[0], a); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "%s -> %s queued\n", args[0], a)
}

func (c *Controller) cmdAspect(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: aspect <signal-head-address> <appearance>")
		return
	}
	a, err := layout.ParseAppearance(args[1])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	h, err := c.reg.ResolveSignalHeadString(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	c.reg.SetAppearance(h, a)
	fmt.Fprintf(c.rl.Stdout(), "%s -> %s queued (session %s)\n", h.Address(), a, h.State())
}

func (c *Controller) cmdPosition(args []string, thrown bool) {
	if len(args) != 1 {
		if thrown {
			fmt.Fprintln(c.rl.Stdout(), "Usage: throw <turnout>")
		} else {
			fmt.Fprintln(c.rl.Stdout(), "Usage: close <turnout>")
		}
		return
	}
	if c.layout == nil {
		fmt.Fprintln(c.rl.Stdout(), "No layout loaded")
		return
	}

	var err error
	if thrown {
		err = c.layout.Throw(args[0])
	} else {
		err = c.layout.Close(args[0])
	}
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "%s queued\n", args[0])
}

func (c *Controller) cmdAngle(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: angle <turnout> <degrees>")
		return
	}
	if c.layout == nil {
		fmt.Fprintln(c.rl.Stdout(), "No layout loaded")
		return
	}
	angle, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid angle: %s\n", args[1])
		return
	}
	if err := c.layout.SetAngle(args[0], angle); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "%s -> %g queued\n", args[0], angle)
}

func (c *Controller) cmdSend(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: send <output-address> <degrees>")
		return
	}
	angle, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid angle: %s\n", args[1])
		return
	}
	out, err := c.reg.ResolveOutputString(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	c.reg.SendAngle(out, angle)
	fmt.Fprintf(c.rl.Stdout(), "%s -> %g queued (session %s)\n", out.Address(), angle, out.State())
}

func (c *Controller) cmdWatch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: watch <input-address>")
		return
	}
	err := c.reg.ResolveInputString(args[0], func(in address.Input, grounded bool) {
		fmt.Fprintf(c.rl.Stdout(), "[INPUT] %s %s\n", in, groundedLabel(grounded))
	})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Watching %s\n", args[0])
}

func (c *Controller) cmdStatus() {
	w := c.rl.Stdout()
	sessions := c.reg.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No device sessions")
		return
	}
	fmt.Fprintf(w, "%-24s %-11s %8s %7s %7s  %-10s %s\n", "ENDPOINT", "STATE", "ATTEMPTS", "RETRY", "PENDING", "LAST SEEN", "LAST ERROR")
	for _, s := range sessions {
		seen := "never"
		if !s.LastSeen.IsZero() {
			seen = time.Since(s.LastSeen).Round(time.Second).String() + " ago"
		}
		lastErr := "-"
		if s.LastError != nil {
			lastErr = s.LastError.Error()
		}
		retry := "-"
		if s.Retries > 0 {
			retry = s.RetryDelay.String()
		}
		fmt.Fprintf(w, "%-24s %-11s %8d %7s %7d  %-10s %s\n", s.Endpoint, s.State, s.Attempts, retry, s.Pending, seen, lastErr)
	}
}

func groundedLabel(grounded bool) string {
	if grounded {
		return "ACTIVE"
	}
	return "INACTIVE"
}
