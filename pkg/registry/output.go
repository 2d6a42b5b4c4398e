package registry

import (
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/address"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/connection"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// Output is a resolved servo output. It stays valid for the lifetime of the
// registry, whatever happens to the connection underneath.
type Output struct {
	addr   address.Output
	device *device
}

// Address returns the address the output was resolved from.
func (o *Output) Address() address.Output {
	return o.addr
}

// SendAngle queues the angle for the output's channel without blocking.
func (o *Output) SendAngle(angle float64) {
	o.device.session.Submit(wire.SetAngle{Channel: o.addr.Channel, Angle: angle})
}

// Set moves the turnout to its thrown or closed calibration angle.
func (o *Output) Set(thrown bool) {
	o.SendAngle(o.addr.Angle(thrown))
}

// State returns the state of the session the output is bound to.
func (o *Output) State() connection.State {
	return o.device.session.State()
}

// PendingAngle returns the angle queued for the channel but not yet sent.
func (o *Output) PendingAngle() (float64, bool) {
	m, ok := o.device.session.Outbox().Get(wire.Slot{Kind: wire.KindSetAngle, Index: o.addr.Channel})
	if !ok {
		return 0, false
	}
	return m.(wire.SetAngle).Angle, true
}
