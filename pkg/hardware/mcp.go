package hardware

import (
	"errors"
	"fmt"
	"sync"

	"github.com/racerxdl/go-mcp23017"
)

// ErrNoSuchLamp is returned for a lamp outside an expander's range.
var ErrNoSuchLamp = errors.New("no such lamp")

// Expander addressing. A board is the I2C address set by the A0-A2 straps.
const (
	MinExpander = 0x20
	MaxExpander = 0x27
	LampPins    = 16
)

// lampBoard is the part of an expander the lamp driver uses.
type lampBoard interface {
	setOutput(pin uint8) error
	write(pin uint8, lit bool) error
	Close() error
}

// mcpBoard adapts an MCP23017 to lampBoard.
type mcpBoard struct {
	dev *mcp23017.Device
}

func (b mcpBoard) setOutput(pin uint8) error {
	return b.dev.PinMode(pin, mcp23017.OUTPUT)
}

func (b mcpBoard) write(pin uint8, lit bool) error {
	return b.dev.DigitalWrite(pin, mcp23017.PinLevel(lit))
}

func (b mcpBoard) Close() error {
	return b.dev.Close()
}

func openMCP(bus, devNum uint8) (lampBoard, error) {
	dev, err := mcp23017.Open(bus, devNum)
	if err != nil {
		return nil, err
	}
	return mcpBoard{dev: dev}, nil
}

// MCP drives signal lamps on MCP23017 expanders sharing one I2C bus. Boards
// are opened on first use with all sixteen pins as dark outputs.
type MCP struct {
	bus  uint8
	open func(bus, devNum uint8) (lampBoard, error)

	mu     sync.Mutex
	boards map[int]lampBoard
}

// NewMCP returns a lamp driver for I2C bus number bus.
func NewMCP(bus uint8) *MCP {
	return &MCP{
		bus:    bus,
		open:   openMCP,
		boards: make(map[int]lampBoard),
	}
}

// SetLamp drives one expander pin high or low.
func (m *MCP) SetLamp(board, pin int, lit bool) error {
	if board < MinExpander || board > MaxExpander || pin < 0 || pin >= LampPins {
		return fmt.Errorf("%w: board 0x%02x pin %d", ErrNoSuchLamp, board, pin)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.board(board)
	if err != nil {
		return err
	}
	if err := b.write(uint8(pin), lit); err != nil {
		return fmt.Errorf("board 0x%02x pin %d: %w", board, pin, err)
	}
	return nil
}

// board returns the open expander at addr. Called with mu held.
func (m *MCP) board(addr int) (lampBoard, error) {
	if b, ok := m.boards[addr]; ok {
		return b, nil
	}
	b, err := m.open(m.bus, uint8(addr-MinExpander))
	if err != nil {
		return nil, fmt.Errorf("open expander 0x%02x: %w", addr, err)
	}
	for pin := uint8(0); pin < LampPins; pin++ {
		if err := b.setOutput(pin); err == nil {
			err = b.write(pin, false)
		}
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("configure expander 0x%02x pin %d: %w", addr, pin, err)
		}
	}
	m.boards[addr] = b
	return b, nil
}

// Boards returns how many expanders are open.
func (m *MCP) Boards() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boards)
}

// Close darkens every lamp and closes the expanders.
func (m *MCP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for addr, b := range m.boards {
		for pin := uint8(0); pin < LampPins; pin++ {
			_ = b.write(pin, false)
		}
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close expander 0x%02x: %w", addr, err))
		}
		delete(m.boards, addr)
	}
	return errors.Join(errs...)
}

// Pi combines the GPIO servo and input driver with expander lamps.
type Pi struct {
	*RPIO
	*MCP
}

// Close releases both drivers.
func (p Pi) Close() error {
	return errors.Join(p.MCP.Close(), p.RPIO.Close())
}
