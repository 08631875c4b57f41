// Package telemetry forwards occupancy changes to a UART-attached BLE module,
// one JSON object per line, so nearby mesh nodes can pick up the current
// counter value.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

var ErrWriteFailed = errors.New("failed to write to telemetry port")

var logf = monitoring.Scoped("telemetry")

// Frame is the line written for each event.
type Frame struct {
	Counter uint32 `json:"counter"`
	Delta   string `json:"delta"`
	TS      int64  `json:"ts"` // Unix milliseconds
}

// FrameFor builds the telemetry line payload for e.
func FrameFor(e occupancy.Event) Frame {
	return Frame{
		Counter: e.Count,
		Delta:   string(e.Delta),
		TS:      e.At.UnixMilli(),
	}
}

// Writer serialises frames onto a port. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	port io.WriteCloser
	sent uint64
}

// NewWriter wraps an already open port.
func NewWriter(port io.WriteCloser) *Writer {
	return &Writer{port: port}
}

// Open opens the serial device at path.
func Open(path string, opts PortOptions) (*Writer, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry port %s: %w", path, err)
	}
	return NewWriter(port), nil
}

// Send writes one frame for e.
func (w *Writer) Send(e occupancy.Event) error {
	line, err := json.Marshal(FrameFor(e))
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.port.Write(line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	w.sent++
	return nil
}

// Sent returns the number of frames written successfully.
func (w *Writer) Sent() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent
}

// Run sends every event received on events until the channel is closed or ctx
// is cancelled. Write failures are logged and the event is dropped.
func (w *Writer) Run(ctx context.Context, events <-chan occupancy.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.Send(e); err != nil {
				logf("dropping event %s: %v", e.ID, err)
			}
		}
	}
}

// Close closes the underlying port.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.port.Close()
}
