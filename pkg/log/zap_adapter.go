package log

import (
	"go.uber.org/zap"
)

// ZapAdapter writes trace events to a zap logger at debug level, so that a
// console run with debug logging shows every line on the wire.
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter returns an adapter writing to logger.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAdapter{logger: logger.Named("trace")}
}

// Log writes the event at debug level.
func (a *ZapAdapter) Log(event Event) {
	if ce := a.logger.Check(zap.DebugLevel, "Protocol event"); ce != nil {
		ce.Write(eventFields(event)...)
	}
}

func eventFields(event Event) []zap.Field {
	fields := []zap.Field{
		zap.String("role", event.LocalRole.String()),
		zap.String("direction", event.Direction.String()),
		zap.String("layer", event.Layer.String()),
		zap.String("category", event.Category.String()),
	}
	if event.ConnectionID != "" {
		fields = append(fields, zap.String("conn_id", event.ConnectionID))
	}
	if event.Endpoint != "" {
		fields = append(fields, zap.String("endpoint", event.Endpoint))
	}
	if event.RemoteAddr != "" {
		fields = append(fields, zap.String("remote", event.RemoteAddr))
	}

	switch {
	case event.Line != nil:
		fields = append(fields,
			zap.String("line", event.Line.Text),
			zap.Int("size", event.Line.Size),
		)
	case event.StateChange != nil:
		fields = append(fields,
			zap.String("old_state", event.StateChange.OldState),
			zap.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			fields = append(fields, zap.String("reason", event.StateChange.Reason))
		}
		if event.StateChange.Attempt != 0 {
			fields = append(fields, zap.Uint64("attempt", event.StateChange.Attempt))
		}
		if event.StateChange.Delay != 0 {
			fields = append(fields, zap.Duration("delay", event.StateChange.Delay))
		}
	case event.Error != nil:
		fields = append(fields,
			zap.String("error_layer", event.Error.Layer.String()),
			zap.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			fields = append(fields, zap.String("error_context", event.Error.Context))
		}
	}
	return fields
}

var _ Logger = (*ZapAdapter)(nil)
