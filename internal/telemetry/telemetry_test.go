package telemetry

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// testPort records writes. shortBy truncates every write by that many bytes.
type testPort struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	shortBy int
	err     error
	closed  bool
}

func (p *testPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	n := len(b) - p.shortBy
	p.buf.Write(b[:n])
	return n, nil
}

func (p *testPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *testPort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

var at = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSend(t *testing.T) {
	port := &testPort{}
	w := NewWriter(port)

	require.NoError(t, w.Send(occupancy.Event{ID: "x", Delta: occupancy.Entered, Count: 3, At: at}))
	require.NoError(t, w.Send(occupancy.Event{ID: "y", Delta: occupancy.Left, Count: 2, At: at.Add(time.Second)}))

	want := `{"counter":3,"delta":"entered","ts":1772355600000}` + "\n" +
		`{"counter":2,"delta":"left","ts":1772355601000}` + "\n"
	assert.Equal(t, want, port.String())
	assert.Equal(t, uint64(2), w.Sent())
}

func TestSend_Errors(t *testing.T) {
	t.Run("short write", func(t *testing.T) {
		w := NewWriter(&testPort{shortBy: 1})
		err := w.Send(occupancy.Event{Delta: occupancy.Entered, At: at})
		assert.ErrorIs(t, err, ErrWriteFailed)
		assert.Zero(t, w.Sent())
	})

	t.Run("port error", func(t *testing.T) {
		boom := errors.New("device gone")
		w := NewWriter(&testPort{err: boom})
		assert.ErrorIs(t, w.Send(occupancy.Event{At: at}), boom)
	})
}

func TestRun(t *testing.T) {
	port := &testPort{}
	w := NewWriter(port)
	ch := make(chan occupancy.Event, 2)
	ch <- occupancy.Event{Delta: occupancy.Entered, Count: 1, At: at}
	ch <- occupancy.Event{Delta: occupancy.Left, Count: 0, At: at}
	close(ch)

	require.NoError(t, w.Run(context.Background(), ch))
	assert.Equal(t, uint64(2), w.Sent())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx, make(chan occupancy.Event)), context.Canceled)

	require.NoError(t, w.Close())
	assert.True(t, port.closed)
}

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{
			name: "defaults",
			in:   PortOptions{},
			want: PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "explicit even parity",
			in:   PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: " even "},
			want: PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "E"},
		},
		{name: "bad data bits", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.OddParity,
		StopBits: serial.TwoStopBits,
	}, mode)

	_, err = PortOptions{Parity: "x"}.SerialMode()
	assert.Error(t, err)
}
