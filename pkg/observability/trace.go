package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/log"
)

// Trace is the protocol trace sink handed to sessions.
type Trace struct {
	log.Logger
	file *log.FileLogger
}

// OpenTrace builds the protocol trace. With a path, events are appended to
// that file. When logger is enabled at debug level, events are also written
// to it. The result is never nil; Close releases the file.
func OpenTrace(path string, logger *zap.Logger) (*Trace, error) {
	var sinks []log.Logger
	t := &Trace{}
	if path != "" {
		f, err := log.NewFileLogger(path)
		if err != nil {
			return nil, err
		}
		t.file = f
		sinks = append(sinks, f)
	}
	if logger != nil && logger.Core().Enabled(zapcore.DebugLevel) {
		sinks = append(sinks, log.NewZapAdapter(logger))
	}
	switch len(sinks) {
	case 0:
		t.Logger = log.NoopLogger{}
	case 1:
		t.Logger = sinks[0]
	default:
		t.Logger = log.NewMultiLogger(sinks...)
	}
	return t, nil
}

// Dropped returns how many events failed to reach the trace file.
func (t *Trace) Dropped() int {
	if t.file == nil {
		return 0
	}
	return t.file.Dropped()
}

// Close flushes the trace file, if any.
func (t *Trace) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}
