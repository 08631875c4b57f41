// Package sim models a doorway with people walking through it on a fixed
// schedule. It stands in for both ultrasonic lanes and the thermal array when
// no hardware is attached.
package sim

import (
	"sort"
	"time"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// Readings reported by the simulated hardware.
const (
	BlockedCm = 5
	FreeCm    = 120
	WarmPixel = -40
	ColdPixel = -400
)

// Timing of one walk-through, relative to its start. The first lane is
// blocked for [0, FirstLaneFor), the second for [SecondLaneAt, SecondLaneAt+
// SecondLaneFor) and the body is visible to the thermal array for [0, WarmFor).
const (
	FirstLaneFor  = 600 * time.Millisecond
	SecondLaneAt  = 300 * time.Millisecond
	SecondLaneFor = 600 * time.Millisecond
	WarmFor       = 900 * time.Millisecond
)

// Crossing is one scheduled walk-through.
type Crossing struct {
	At        time.Duration   // Offset into the cycle
	Direction occupancy.Delta // Entered starts on the enter lane
}

// DefaultPeriod and DefaultPattern give two entries followed by two exits
// every 20 seconds, leaving the room empty at the end of each cycle.
const DefaultPeriod = 20 * time.Second

func DefaultPattern() []Crossing {
	return []Crossing{
		{At: 2 * time.Second, Direction: occupancy.Entered},
		{At: 6 * time.Second, Direction: occupancy.Entered},
		{At: 10 * time.Second, Direction: occupancy.Left},
		{At: 14 * time.Second, Direction: occupancy.Left},
	}
}

// Corridor replays a crossing pattern against a clock.
type Corridor struct {
	clock   timeutil.Clock
	start   time.Time
	period  time.Duration
	pattern []Crossing
}

// NewCorridor starts the pattern at the clock's current time, repeating every
// period. A non-positive period plays the pattern once.
func NewCorridor(clock timeutil.Clock, pattern []Crossing, period time.Duration) *Corridor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	p := append([]Crossing(nil), pattern...)
	sort.Slice(p, func(i, j int) bool { return p[i].At < p[j].At })
	return &Corridor{
		clock:   clock,
		start:   clock.Now(),
		period:  period,
		pattern: p,
	}
}

// offset returns the position within the current cycle.
func (c *Corridor) offset() time.Duration {
	elapsed := c.clock.Since(c.start)
	if c.period <= 0 {
		return elapsed
	}
	return elapsed % c.period
}

// active returns the crossing in progress and how far into it we are.
func (c *Corridor) active() (Crossing, time.Duration, bool) {
	off := c.offset()
	for _, cr := range c.pattern {
		into := off - cr.At
		if into >= 0 && into < WarmFor {
			return cr, into, true
		}
	}
	return Crossing{}, 0, false
}

func (c *Corridor) laneBlocked(lane occupancy.Lane) bool {
	cr, into, ok := c.active()
	if !ok {
		return false
	}
	first := occupancy.LaneEnter
	if cr.Direction == occupancy.Left {
		first = occupancy.LaneLeave
	}
	if lane == first {
		return into < FirstLaneFor
	}
	return into >= SecondLaneAt && into < SecondLaneAt+SecondLaneFor
}

// Lane returns a DistanceSensor for one side of the doorway.
func (c *Corridor) Lane(lane occupancy.Lane) occupancy.DistanceSensor {
	return laneSensor{c: c, lane: lane}
}

// ReadFrame implements occupancy.ThermalArray.
func (c *Corridor) ReadFrame() (occupancy.ThermalFrame, error) {
	v := int16(ColdPixel)
	if _, _, ok := c.active(); ok {
		v = WarmPixel
	}
	var f occupancy.ThermalFrame
	for y := range f {
		for x := range f[y] {
			f[y][x] = v
		}
	}
	return f, nil
}

type laneSensor struct {
	c    *Corridor
	lane occupancy.Lane
}

func (s laneSensor) MeasureCentimeters() int {
	if s.c.laneBlocked(s.lane) {
		return BlockedCm
	}
	return FreeCm
}
