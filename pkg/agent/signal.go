package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// SignalDriver lights the lamps of signal heads.
type SignalDriver interface {
	// SetLamp drives one pin of the expander at I2C address board.
	SetLamp(board, pin int, lit bool) error
}

// head is the applied state of one signal head.
type head struct {
	signal  wire.Signal
	flasher *flasher
}

// flasher blinks one lamp until stopped.
type flasher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop ends the blinking and waits until the goroutine no longer touches
// the lamp.
func (f *flasher) stop() {
	f.cancel()
	<-f.done
}

// Appearance returns the appearance last applied to a signal head.
func (a *Agent) Appearance(id string) (wire.Appearance, bool) {
	a.headMu.Lock()
	defer a.headMu.Unlock()
	h, ok := a.heads[id]
	if !ok {
		return 0, false
	}
	return h.signal.Appearance, true
}

// SignalHeads returns the IDs of every head that was set, sorted.
func (a *Agent) SignalHeads() []string {
	a.headMu.Lock()
	defer a.headMu.Unlock()
	ids := make([]string, 0, len(a.heads))
	for id := range a.heads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (a *Agent) setSignal(s *connection.Session, m wire.Signal) {
	if a.signals == nil {
		a.reject(s, fmt.Sprintf("signal head %s: no signal driver", m.Head))
		return
	}

	a.headMu.Lock()
	defer a.headMu.Unlock()

	prev, known := a.heads[m.Head]
	if known && prev.signal == m {
		a.logger.Debug("Appearance unchanged", zap.String("head", m.Head), zap.Stringer("appearance", m.Appearance))
		return
	}
	if known && prev.flasher != nil {
		prev.flasher.stop()
	}
	delete(a.heads, m.Head)

	red, green := m.Appearance.Lamps()
	if err := a.signals.SetLamp(m.Board, m.Red, red && !m.Appearance.Flashing()); err != nil {
		a.reject(s, fmt.Sprintf("signal head %s: red lamp: %v", m.Head, err))
		return
	}
	if err := a.signals.SetLamp(m.Board, m.Green, green && !m.Appearance.Flashing()); err != nil {
		a.reject(s, fmt.Sprintf("signal head %s: green lamp: %v", m.Head, err))
		return
	}

	h := &head{signal: m}
	switch m.Appearance {
	case wire.AppearanceFlashRed:
		h.flasher = a.flash(m.Head, m.Board, m.Red)
	case wire.AppearanceFlashGreen:
		h.flasher = a.flash(m.Head, m.Board, m.Green)
	}
	a.heads[m.Head] = h
	a.logger.Debug("Appearance applied", zap.String("head", m.Head), zap.Stringer("appearance", m.Appearance))
}

// flash starts blinking a lamp, beginning with it lit. It is called with
// headMu held; the goroutine never takes it.
func (a *Agent) flash(id string, board, pin int) *flasher {
	ctx, cancel := context.WithCancel(a.ctx)
	f := &flasher{cancel: cancel, done: make(chan struct{})}
	if ctx.Err() != nil {
		// Stopping.
		close(f.done)
		return f
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(f.done)

		ticker := time.NewTicker(a.config.FlashInterval)
		defer ticker.Stop()

		lit := true
		failing := false
		for {
			if err := a.signals.SetLamp(board, pin, lit); err != nil {
				if !failing {
					a.logger.Warn("Flashing lamp failed", zap.String("head", id), zap.Int("pin", pin), zap.Error(err))
					failing = true
				}
			} else {
				failing = false
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lit = !lit
			}
		}
	}()
	return f
}
