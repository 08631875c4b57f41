// Package mlx90640 reads raw frames from a Melexis MLX90640 32x24 thermal
// array over I²C.
package mlx90640

import (
	"encoding/binary"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// DefaultAddr is the factory I²C address.
const DefaultAddr uint16 = 0x33

// ramStart is the first word of the pixel RAM; pixels follow row by row.
const ramStart uint16 = 0x0400

const frameBytes = occupancy.FrameWidth * occupancy.FrameHeight * 2

// Dev is one thermal array on a bus.
type Dev struct {
	mu     sync.Mutex
	dev    i2c.Dev
	closer i2c.BusCloser
}

// New returns a Dev talking to addr on bus. A zero addr selects DefaultAddr.
func New(bus i2c.Bus, addr uint16) *Dev {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &Dev{dev: i2c.Dev{Bus: bus, Addr: addr}}
}

// Open opens the named bus (empty for the first one registered) and returns
// a Dev that closes the bus on Close.
func Open(busName string, addr uint16) (*Dev, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", busName, err)
	}
	d := New(bus, addr)
	d.closer = bus
	return d, nil
}

// ReadFrame reads the whole pixel RAM in one transaction. Words are
// big-endian signed values, laid out y-major.
func (d *Dev) ReadFrame() (occupancy.ThermalFrame, error) {
	var frame occupancy.ThermalFrame
	w := ramAddress()
	r := make([]byte, frameBytes)

	d.mu.Lock()
	err := d.dev.Tx(w, r)
	d.mu.Unlock()
	if err != nil {
		return frame, fmt.Errorf("mlx90640 read at %#04x: %w", d.dev.Addr, err)
	}

	for y := 0; y < occupancy.FrameHeight; y++ {
		for x := 0; x < occupancy.FrameWidth; x++ {
			i := (y*occupancy.FrameWidth + x) * 2
			frame[y][x] = int16(binary.BigEndian.Uint16(r[i:]))
		}
	}
	return frame, nil
}

// ramAddress is the big-endian register pointer written before a frame read.
func ramAddress() []byte {
	w := make([]byte, 2)
	binary.BigEndian.PutUint16(w, ramStart)
	return w
}

// Close releases the bus when the Dev was created by Open.
func (d *Dev) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// String implements fmt.Stringer.
func (d *Dev) String() string {
	return "mlx90640:" + d.dev.String()
}
