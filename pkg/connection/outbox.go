package connection

import (
	"sync"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// Outbox holds at most one pending message per slot. A newer message for
// an occupied slot replaces the old one and moves to the back, so draining
// sends slots in the order of their latest update.
type Outbox struct {
	mu      sync.Mutex
	pending map[wire.Slot]wire.Slotted
	order   []wire.Slot
}

// NewOutbox returns an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{pending: make(map[wire.Slot]wire.Slotted)}
}

// Put stores m, superseding any pending message for the same slot.
func (o *Outbox) Put(m wire.Slotted) {
	o.mu.Lock()
	defer o.mu.Unlock()

	slot := m.Slot()
	if _, ok := o.pending[slot]; ok {
		o.remove(slot)
	}
	o.pending[slot] = m
	o.order = append(o.order, slot)
}

// Drain removes and returns every pending message in send order.
func (o *Outbox) Drain() []wire.Slotted {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.order) == 0 {
		return nil
	}
	out := make([]wire.Slotted, 0, len(o.order))
	for _, slot := range o.order {
		out = append(out, o.pending[slot])
	}
	o.pending = make(map[wire.Slot]wire.Slotted)
	o.order = nil
	return out
}

// Restore puts back messages that were drained but not sent. A message is
// dropped if its slot was filled again in the meantime, since the newer
// value supersedes it. Restored messages go to the front.
func (o *Outbox) Restore(msgs []wire.Slotted) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var front []wire.Slot
	for _, m := range msgs {
		slot := m.Slot()
		if _, ok := o.pending[slot]; ok {
			continue
		}
		o.pending[slot] = m
		front = append(front, slot)
	}
	o.order = append(front, o.order...)
}

// Get returns the pending message for slot, if any.
func (o *Outbox) Get(slot wire.Slot) (wire.Slotted, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.pending[slot]
	return m, ok
}

// Len returns the number of pending messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}

func (o *Outbox) remove(slot wire.Slot) {
	for i, s := range o.order {
		if s == slot {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}
