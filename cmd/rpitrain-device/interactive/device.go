// Package interactive provides the interactive command-line interface
// for a peripheral device.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/agent"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/hardware"
)

// Device handles interactive mode for rpitrain-device.
type Device struct {
	agent *agent.Agent
	sim   *hardware.Sim
	rl    *readline.Instance
}

// New creates the console. sim is nil when real hardware is driven; the
// pin commands are then unavailable.
func New(sim *hardware.Sim) (*Device, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "device> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Device{sim: sim, rl: rl}, nil
}

// SetAgent sets the agent shown by status.
func (d *Device) SetAgent(a *agent.Agent) {
	d.agent = a
}

// Stdout returns a writer that coordinates with the readline prompt.
func (d *Device) Stdout() io.Writer {
	return d.rl.Stdout()
}

// Run starts the interactive command loop.
func (d *Device) Run(ctx context.Context, cancel context.CancelFunc) {
	defer d.rl.Close()

	d.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := d.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(d.rl.Stdout(), "Exiting...")
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
			d.printHelp()

		case "ground", "g":
			d.cmdPin(args, true)

		case "release", "r":
			d.cmdPin(args, false)

		case "servos", "sv":
			d.cmdServos()

		case "pins", "p":
			d.cmdPins()

		case "signals", "sig":
			d.cmdSignals()

		case "status", "st":
			d.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(d.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(d.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (d *Device) printHelp() {
	w := d.rl.Stdout()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	if d.sim != nil {
		fmt.Fprintln(w, "  ground, g <pin>    Pull a simulated input pin to ground")
		fmt.Fprintln(w, "  release, r <pin>   Release a simulated input pin")
		fmt.Fprintln(w, "  servos, sv         Show simulated servo angles")
	}
	fmt.Fprintln(w, "  pins, p            Show watched pins")
	fmt.Fprintln(w, "  signals, sig       Show signal head appearances")
	fmt.Fprintln(w, "  status, st         Show the controller session")
	fmt.Fprintln(w, "  help, ?            Show this help")
	fmt.Fprintln(w, "  quit, q            Exit")
	fmt.Fprintln(w)
}

func (d *Device) cmdPin(args []string, grounded bool) {
	if d.sim == nil {
		fmt.Fprintln(d.rl.Stdout(), "Pin commands need the sim driver")
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: ground|release <pin>")
		return
	}
	pin, err := strconv.Atoi(args[0])
	if err != nil || pin < 0 {
		fmt.Fprintf(d.rl.Stdout(), "Invalid pin: %s\n", args[0])
		return
	}
	d.sim.SetGrounded(pin, grounded)
	if grounded {
		fmt.Fprintf(d.rl.Stdout(), "Pin %d grounded\n", pin)
	} else {
		fmt.Fprintf(d.rl.Stdout(), "Pin %d released\n", pin)
	}
}

func (d *Device) cmdServos() {
	if d.sim == nil {
		fmt.Fprintln(d.rl.Stdout(), "Servo readback needs the sim driver")
		return
	}
	angles := d.sim.Angles()
	if len(angles) == 0 {
		fmt.Fprintln(d.rl.Stdout(), "No servo moved yet")
		return
	}
	channels := make([]int, 0, len(angles))
	for ch := range angles {
		channels = append(channels, ch)
	}
	sort.Ints(channels)
	for _, ch := range channels {
		fmt.Fprintf(d.rl.Stdout(), "  channel %2d: %g\n", ch, angles[ch])
	}
	fmt.Fprintf(d.rl.Stdout(), "  (%d writes)\n", d.sim.Writes())
}

func (d *Device) cmdPins() {
	if d.agent == nil {
		return
	}
	pins := d.agent.Watched()
	if len(pins) == 0 {
		fmt.Fprintln(d.rl.Stdout(), "No pins watched")
		return
	}
	grounded := make(map[int]bool)
	if d.sim != nil {
		for _, p := range d.sim.GroundedPins() {
			grounded[p] = true
		}
	}
	for _, p := range pins {
		if d.sim != nil {
			level := "INACTIVE"
			if grounded[p] {
				level = "ACTIVE"
			}
			fmt.Fprintf(d.rl.Stdout(), "  pin %2d: %s\n", p, level)
		} else {
			fmt.Fprintf(d.rl.Stdout(), "  pin %2d\n", p)
		}
	}
}

func (d *Device) cmdSignals() {
	if d.agent == nil {
		return
	}
	w := d.rl.Stdout()
	heads := d.agent.SignalHeads()
	if len(heads) == 0 {
		fmt.Fprintln(w, "No signal head set")
		return
	}
	for _, id := range heads {
		a, _ := d.agent.Appearance(id)
		fmt.Fprintf(w, "  %-12s %s\n", id, a)
	}
	if d.sim == nil {
		return
	}
	lit := d.sim.LitLamps()
	boards := make([]int, 0, len(lit))
	for b := range lit {
		boards = append(boards, b)
	}
	sort.Ints(boards)
	for _, b := range boards {
		fmt.Fprintf(w, "  board 0x%02x lit: %v\n", b, lit[b])
	}
}

func (d *Device) cmdStatus() {
	if d.agent == nil {
		return
	}
	s := d.agent.Session()
	w := d.rl.Stdout()
	fmt.Fprintf(w, "Session:  %s (%s)\n", s.Name(), s.State())
	fmt.Fprintf(w, "Attempts: %d\n", s.Attempts())
	fmt.Fprintf(w, "Pending:  %d\n", s.Pending())
	if n := s.Retries(); n > 0 {
		fmt.Fprintf(w, "Retries:  %d (next after %s)\n", n, s.RetryDelay())
	}
	if seen := s.LastSeen(); !seen.IsZero() {
		fmt.Fprintf(w, "Last seen: %s ago\n", time.Since(seen).Round(time.Second))
	}
	if err := s.LastError(); err != nil {
		fmt.Fprintf(w, "Last error: %v\n", err)
	}
}
