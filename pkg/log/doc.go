// Package log records a machine-readable trace of the protocol.
//
// It is separate from operational logging (zap). Every line sent or
// received, every session state change and every connection failure can be
// captured as an Event and written to a CBOR trace file for later
// inspection with rpitrain-log.
//
// # Basic Usage
//
//	// console: trace events appear as zap debug entries
//	trace := log.NewZapAdapter(logger)
//
//	// file: append to a trace file
//	file, _ := log.NewFileLogger("/var/log/rpitrain/controller.rtlog")
//
//	// both
//	trace := log.NewMultiLogger(log.NewZapAdapter(logger), file)
//
// Pass nil or NoopLogger to disable tracing.
//
// # File Format
//
// A trace file is a plain concatenation of CBOR-encoded Events with
// integer keys. Files may be appended to by several runs.
package log
