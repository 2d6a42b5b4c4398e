package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/log"
	"github.com/sreekarkrishna/RPiModelTrainController/pkg/wire"
)

// DefaultMaxLineSize is the longest line accepted, terminator included.
const DefaultMaxLineSize = wire.MaxLineLength

// Framing errors.
var (
	// ErrLineTooLong indicates a line without terminator within the limit.
	ErrLineTooLong = errors.New("line too long")

	// ErrLineTruncated indicates the stream ended in the middle of a line.
	ErrLineTruncated = errors.New("line truncated")

	// ErrLineUnterminated indicates a write of a line without "\n".
	ErrLineUnterminated = errors.New("line not terminated")
)

// TraceInfo labels the trace events emitted for one connection.
type TraceInfo struct {
	ConnectionID string
	Role         log.Role
	Endpoint     string
	RemoteAddr   string
}

func (ti TraceInfo) lineEvent(line []byte, direction log.Direction) log.Event {
	text := strings.TrimRight(string(line), "\r\n")
	category := log.CategoryMessage
	if strings.HasPrefix(text, wire.KindHeartbeat.String()) || strings.HasPrefix(text, wire.KindHello.String()) {
		category = log.CategoryControl
	}
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: ti.ConnectionID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     category,
		LocalRole:    ti.Role,
		RemoteAddr:   ti.RemoteAddr,
		Endpoint:     ti.Endpoint,
		Line:         &log.LineEvent{Text: text, Size: len(line)},
	}
}

// LineWriter writes newline-terminated lines. Safe for concurrent use.
type LineWriter struct {
	w   io.Writer
	max int
	mu  sync.Mutex

	logger log.Logger
	trace  TraceInfo
}

// NewLineWriter creates a line writer with the default size limit.
func NewLineWriter(w io.Writer) *LineWriter {
	return NewLineWriterWithMaxSize(w, DefaultMaxLineSize)
}

// NewLineWriterWithMaxSize creates a line writer with a custom size limit.
func NewLineWriterWithMaxSize(w io.Writer, maxSize int) *LineWriter {
	return &LineWriter{w: w, max: maxSize}
}

// SetLogger configures tracing for this writer. Pass nil to disable.
func (lw *LineWriter) SetLogger(logger log.Logger, trace TraceInfo) {
	lw.logger = logger
	lw.trace = trace
}

// WriteLine writes one complete line, which must end in "\n".
func (lw *LineWriter) WriteLine(line []byte) error {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		return ErrLineUnterminated
	}
	if len(line) > lw.max {
		return fmt.Errorf("%w: %d > %d", ErrLineTooLong, len(line), lw.max)
	}

	lw.mu.Lock()
	defer lw.mu.Unlock()

	if _, err := lw.w.Write(line); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	if lw.logger != nil {
		lw.logger.Log(lw.trace.lineEvent(line, log.DirectionOut))
	}
	return nil
}

// LineReader reads newline-terminated lines. Not safe for concurrent use;
// each connection has exactly one reader goroutine.
type LineReader struct {
	r   *bufio.Reader
	max int

	logger log.Logger
	trace  TraceInfo
}

// NewLineReader creates a line reader with the default size limit.
func NewLineReader(r io.Reader) *LineReader {
	return NewLineReaderWithMaxSize(r, DefaultMaxLineSize)
}

// NewLineReaderWithMaxSize creates a line reader with a custom size limit.
func NewLineReaderWithMaxSize(r io.Reader, maxSize int) *LineReader {
	return &LineReader{
		r:   bufio.NewReaderSize(r, maxSize),
		max: maxSize,
	}
}

// SetLogger configures tracing for this reader. Pass nil to disable.
func (lr *LineReader) SetLogger(logger log.Logger, trace TraceInfo) {
	lr.logger = logger
	lr.trace = trace
}

// ReadLine returns the next line including its "\n". It returns io.EOF
// when the peer closed the stream on a line boundary.
func (lr *LineReader) ReadLine() ([]byte, error) {
	slice, err := lr.r.ReadSlice('\n')
	if err != nil {
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			return nil, fmt.Errorf("%w: no terminator within %d bytes", ErrLineTooLong, lr.max)
		case errors.Is(err, io.EOF) && len(slice) > 0:
			return nil, ErrLineTruncated
		}
		return nil, err
	}

	line := make([]byte, len(slice))
	copy(line, slice)

	if lr.logger != nil {
		lr.logger.Log(lr.trace.lineEvent(line, log.DirectionIn))
	}
	return line, nil
}

// Framer combines line reading and writing over one stream.
type Framer struct {
	*LineReader
	*LineWriter
}

// NewFramer creates a framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxLineSize)
}

// NewFramerWithMaxSize creates a framer with a custom line size limit.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize int) *Framer {
	return &Framer{
		LineReader: NewLineReaderWithMaxSize(rw, maxSize),
		LineWriter: NewLineWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures tracing for both directions. Pass nil to disable.
func (f *Framer) SetLogger(logger log.Logger, trace TraceInfo) {
	f.LineReader.SetLogger(logger, trace)
	f.LineWriter.SetLogger(logger, trace)
}
