// Package occupancy counts people crossing a doorway. Two ultrasonic lanes
// establish direction and a thermal array confirms a warm body is in the
// crossing zone; the Machine fuses them into Entered/Left deltas.
package occupancy

import "time"

// Lane identifies one of the two directional ultrasonic sensors.
type Lane string

const (
	LaneEnter Lane = "enter" // Beam crossed first by someone walking in
	LaneLeave Lane = "leave" // Beam crossed first by someone walking out
)

// NoEcho is the distance reported when a lane sensor timed out without an echo.
const NoEcho = -1

// DistanceReading is one lane measurement taken during a Step.
type DistanceReading struct {
	Lane        Lane `json:"lane"`
	Centimeters int  `json:"cm"`
}

// Valid reports whether the reading is a real distance. Any negative value is
// treated as the no-echo sentinel.
func (r DistanceReading) Valid() bool {
	return r.Centimeters >= 0
}

// Below reports whether something is in the beam closer than threshold.
// A no-echo reading is never below threshold.
func (r DistanceReading) Below(thresholdCm int) bool {
	return r.Valid() && r.Centimeters < thresholdCm
}

// Clear reports whether the beam is free: either no echo or a distance
// beyond threshold. A reading exactly at threshold is neither Below nor Clear.
func (r DistanceReading) Clear(thresholdCm int) bool {
	return !r.Valid() || r.Centimeters > thresholdCm
}

// State is the lifecycle state of the crossing detector.
type State string

const (
	StateIdle          State = "idle"           // Waiting for either lane to trigger
	StateEnterDetect   State = "enter_detect"   // Enter lane tripped, waiting for leave lane + body
	StateLeaveDetect   State = "leave_detect"   // Leave lane tripped, waiting for enter lane + body
	StateEnterComplete State = "enter_complete" // Crossing confirmed, waiting for leave lane to clear
	StateLeaveComplete State = "leave_complete" // Crossing confirmed, waiting for enter lane to clear
)

// Delta is a recognised crossing.
type Delta string

const (
	Entered Delta = "entered"
	Left    Delta = "left"
)

// Event is a Delta stamped for consumers: storage, telemetry and HTTP.
type Event struct {
	ID    string    `json:"id"`
	Delta Delta     `json:"delta"`
	Count uint32    `json:"count"` // Occupancy after applying Delta
	At    time.Time `json:"at"`
}

// DistanceSensor measures one lane. MeasureCentimeters returns a fresh
// non-negative reading or NoEcho; it must not cache or retry.
type DistanceSensor interface {
	MeasureCentimeters() int
}

// PresenceSource answers whether a warm body is in the crossing zone right now.
type PresenceSource interface {
	SamplePresence() Presence
}
