package logger

import (
	"bytes"
	"io"
	"sync"
)

// GateState represents the state of the log gate
type GateState int

const (
	// GateClosed means logs are buffered but not written
	GateClosed GateState = iota
	// GateOpen means logs flow through immediately
	GateOpen
)

// GatedWriter is an io.Writer that buffers output until the gate is opened.
// The server keeps it closed while it prints its configuration banner so that
// startup logs do not interleave with it.
type GatedWriter struct {
	mu         sync.Mutex
	underlying io.Writer
	buffer     bytes.Buffer
	state      GateState
	maxBuffer  int // 0 = unlimited
}

// GatedWriterConfig configures a GatedWriter
type GatedWriterConfig struct {
	Underlying   io.Writer
	InitialState GateState

	// MaxBufferSize limits buffered bytes; the oldest bytes are dropped first.
	MaxBufferSize int
}

// NewGatedWriter creates a new gated writer
func NewGatedWriter(config GatedWriterConfig) *GatedWriter {
	if config.Underlying == nil {
		config.Underlying = io.Discard
	}
	return &GatedWriter{
		underlying: config.Underlying,
		state:      config.InitialState,
		maxBuffer:  config.MaxBufferSize,
	}
}

// Write implements io.Writer
func (gw *GatedWriter) Write(p []byte) (int, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.state == GateOpen {
		return gw.underlying.Write(p)
	}

	if gw.maxBuffer > 0 && gw.buffer.Len()+len(p) > gw.maxBuffer {
		excess := gw.buffer.Len() + len(p) - gw.maxBuffer
		gw.buffer.Next(excess)
	}
	return gw.buffer.Write(p)
}

// OpenGate opens the gate and flushes all buffered output
func (gw *GatedWriter) OpenGate() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.state == GateOpen {
		return nil
	}
	gw.state = GateOpen

	if gw.buffer.Len() == 0 {
		return nil
	}
	_, err := gw.underlying.Write(gw.buffer.Bytes())
	gw.buffer.Reset()
	return err
}

// IsOpen returns true if the gate is open
func (gw *GatedWriter) IsOpen() bool {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.state == GateOpen
}

// BufferedSize returns the number of buffered bytes
func (gw *GatedWriter) BufferedSize() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.buffer.Len()
}

// GatedLogger is a Logger whose console output goes through a GatedWriter.
// Loggers derived from it share the same gate.
type GatedLogger struct {
	Logger
	gate *GatedWriter
}

// NewGatedLogger creates a logger with gated console output. The first entry of
// config.Outputs (stdout when empty) becomes the gate's underlying writer.
func NewGatedLogger(config *Config, gateConfig GatedWriterConfig) *GatedLogger {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	if gateConfig.Underlying == nil && len(cfg.Outputs) > 0 {
		gateConfig.Underlying = cfg.Outputs[0]
	}
	gate := NewGatedWriter(gateConfig)
	cfg.Outputs = []io.Writer{gate}

	return &GatedLogger{
		Logger: NewZerologLogger(&cfg),
		gate:   gate,
	}
}

// OpenGate opens the gate and flushes buffered logs
func (gl *GatedLogger) OpenGate() error {
	return gl.gate.OpenGate()
}

// IsGateOpen returns true if the gate is open
func (gl *GatedLogger) IsGateOpen() bool {
	return gl.gate.IsOpen()
}
