package registry

import (
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/address"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// SignalHead is a resolved signal head. Like Output it outlives any single
// connection.
type SignalHead struct {
	addr   address.SignalHead
	device *device
}

// Address returns the address the head was resolved from.
func (h *SignalHead) Address() address.SignalHead {
	return h.addr
}

// SetAppearance queues the appearance without blocking. While the
// peripheral is unreachable only the newest appearance is kept.
func (h *SignalHead) SetAppearance(a wire.Appearance) {
	h.device.session.Submit(wire.Signal{
		Head:       h.addr.ID,
		Board:      h.addr.Board,
		Red:        h.addr.Red,
		Green:      h.addr.Green,
		Appearance: a,
	})
}

// State returns the state of the session the head is bound to.
func (h *SignalHead) State() connection.State {
	return h.device.session.State()
}

// PendingAppearance returns the appearance queued but not yet sent.
func (h *SignalHead) PendingAppearance() (wire.Appearance, bool) {
	m, ok := h.device.session.Outbox().Get(wire.Slot{Kind: wire.KindSignal, Key: h.addr.ID})
	if !ok {
		return 0, false
	}
	return m.(wire.Signal).Appearance, true
}
