// Package hcsr04 drives an HC-SR04 style ultrasonic ranger over two GPIO
// lines: a trigger output and an echo input whose high pulse width is the
// round trip time of the ping.
//
// Edge times are taken from the wall clock as soon as WaitForEdge returns, so
// scheduling latency adds to the measured pulse. The periph edge API does not
// report which edge fired; the echo level is read after the clock to tell a
// stale falling edge from the rise. If the whole echo has already ended by
// that read (pulses under a millisecond, i.e. a few centimetres) the reading
// can be lost as NoEcho.
package hcsr04

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// speedOfSoundCmPerSec at roughly 20°C.
const speedOfSoundCmPerSec = 34300

const triggerPulse = 10 * time.Microsecond

var ErrPinNotFound = errors.New("gpio pin not found")

// Options tune a single ranger.
type Options struct {
	EchoTimeout   time.Duration // Longest wait for each echo edge
	MaxDistanceCm int           // Readings beyond this are reported as no echo
}

func (o Options) withDefaults() Options {
	if o.EchoTimeout <= 0 {
		o.EchoTimeout = 25 * time.Millisecond
	}
	if o.MaxDistanceCm <= 0 {
		o.MaxDistanceCm = 400
	}
	return o
}

// Sensor is one ranger. MeasureCentimeters may be called from one goroutine
// at a time; concurrent calls are serialised.
type Sensor struct {
	mu   sync.Mutex
	trig gpio.PinOut
	echo gpio.PinIn
	opts Options

	now   func() time.Time
	sleep func(time.Duration)
}

// New configures trig as a low output and echo as an edge-triggered input.
func New(trig gpio.PinOut, echo gpio.PinIn, opts Options) (*Sensor, error) {
	if err := trig.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to drive trigger %s low: %w", trig, err)
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("failed to configure echo %s: %w", echo, err)
	}
	return &Sensor{
		trig:  trig,
		echo:  echo,
		opts:  opts.withDefaults(),
		now:   time.Now,
		sleep: time.Sleep,
	}, nil
}

// Open looks both pins up by name in the host GPIO registry.
func Open(trigName, echoName string, opts Options) (*Sensor, error) {
	trig := gpioreg.ByName(trigName)
	if trig == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, trigName)
	}
	echo := gpioreg.ByName(echoName)
	if echo == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, echoName)
	}
	return New(trig, echo, opts)
}

// MeasureCentimeters fires one ping and times the echo pulse. It returns
// occupancy.NoEcho when either edge does not arrive within EchoTimeout or the
// distance exceeds MaxDistanceCm.
func (s *Sensor) MeasureCentimeters() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.trig.Out(gpio.High); err != nil {
		return occupancy.NoEcho
	}
	s.sleep(triggerPulse)
	if err := s.trig.Out(gpio.Low); err != nil {
		return occupancy.NoEcho
	}

	rise, ok := s.waitEdge()
	if !ok {
		return occupancy.NoEcho
	}
	// a falling edge left over from the previous ping; wait once more
	if s.echo.Read() == gpio.Low {
		if rise, ok = s.waitEdge(); !ok {
			return occupancy.NoEcho
		}
	}

	fall, ok := s.waitEdge()
	if !ok {
		return occupancy.NoEcho
	}
	pulse := fall.Sub(rise)

	cm := int(math.Round(pulse.Seconds() * speedOfSoundCmPerSec / 2))
	if cm < 0 || cm > s.opts.MaxDistanceCm {
		return occupancy.NoEcho
	}
	return cm
}

// waitEdge blocks for the next echo edge and stamps it before anything else
// runs.
func (s *Sensor) waitEdge() (time.Time, bool) {
	if !s.echo.WaitForEdge(s.opts.EchoTimeout) {
		return time.Time{}, false
	}
	return s.now(), true
}

// String implements fmt.Stringer.
func (s *Sensor) String() string {
	return fmt.Sprintf("hcsr04(trig=%s, echo=%s)", s.trig, s.echo)
}
