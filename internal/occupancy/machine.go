package occupancy

import (
	"sync"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

var logf = monitoring.Scoped("occupancy")

// Config holds the constants the state machine is tuned with.
type Config struct {
	DistanceThresholdCm int            // Lane distance below which something is in the beam
	PresenceThreshold   float64        // Thermal score above which a body is present
	PresenceMetric      PresenceMetric // Frame reduction used by the sampler
	DetectionTimeout    time.Duration  // Longest a detect window stays open
	PollInterval        time.Duration  // Cadence at which Step is driven
	PresenceHistory     int            // Presence samples kept for diagnostics
}

// DefaultConfig returns the constants the doorway counter is tuned with.
func DefaultConfig() Config {
	return ConfigFromSettings(config.Empty())
}

// ConfigFromSettings builds a Config from a loaded station configuration.
func ConfigFromSettings(cfg *config.Config) Config {
	return Config{
		DistanceThresholdCm: cfg.GetDistanceThresholdCm(),
		PresenceThreshold:   cfg.GetPresenceThreshold(),
		PresenceMetric:      PresenceMetric(cfg.GetPresenceMetric()),
		DetectionTimeout:    cfg.GetDetectionTimeout(),
		PollInterval:        cfg.GetPollInterval(),
		PresenceHistory:     cfg.GetPresenceHistory(),
	}
}

// Stats are running tallies kept for diagnostics.
type Stats struct {
	Entered       uint64 `json:"entered"`
	Left          uint64 `json:"left"`
	Timeouts      uint64 `json:"timeouts"`       // Detect windows closed by the timer
	Underflows    uint64 `json:"underflows"`     // Leave crossings seen at zero occupancy
	ThermalFaults uint64 `json:"thermal_faults"` // Presence samples that failed to read
}

// Snapshot is a consistent copy of the machine, taken between steps.
type Snapshot struct {
	State         State
	Count         uint32
	Enter         DistanceReading // Last enter-lane reading
	Leave         DistanceReading // Last leave-lane reading
	Presence      Presence        // Last presence sample in the current window
	DetectStartMs int64           // Window open time; zero outside detect states
	LastStepMs    int64           // nowMs passed to the latest Step
	Steps         uint64
	Stats         Stats
}

// Machine is the occupancy state machine. All of its state changes inside
// Step under one lock, so Snapshot never observes a half-applied crossing.
type Machine struct {
	mu       sync.Mutex
	cfg      Config
	enter    DistanceSensor
	leave    DistanceSensor
	presence PresenceSource

	state         State
	count         uint32
	detectStartMs int64
	lastPresence  Presence
	lastEnter     DistanceReading
	lastLeave     DistanceReading
	lastStepMs    int64
	steps         uint64
	stats         Stats
}

// NewMachine returns a machine in Idle with an occupancy of zero.
func NewMachine(cfg Config, enter, leave DistanceSensor, presence PresenceSource) *Machine {
	return &Machine{
		cfg:      cfg,
		enter:    enter,
		leave:    leave,
		presence: presence,
		state:    StateIdle,
	}
}

// Step measures both lanes once, advances the machine and returns the
// crossing completed by this step, if any. nowMs is a monotonic millisecond
// clock; only differences between calls matter.
func (m *Machine) Step(nowMs int64) (Delta, bool) {
	delta, _, ok := m.StepCount(nowMs)
	return delta, ok
}

// StepCount is Step that also returns the occupancy left by this step, read
// under the same lock as the transition.
func (m *Machine) StepCount(nowMs int64) (Delta, uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta, ok := m.advance(nowMs)
	return delta, m.count, ok
}

func (m *Machine) advance(nowMs int64) (Delta, bool) {
	enter := DistanceReading{Lane: LaneEnter, Centimeters: m.enter.MeasureCentimeters()}
	leave := DistanceReading{Lane: LaneLeave, Centimeters: m.leave.MeasureCentimeters()}
	m.lastEnter, m.lastLeave = enter, leave
	m.lastStepMs = nowMs
	m.steps++

	threshold := m.cfg.DistanceThresholdCm

	switch m.state {
	case StateIdle:
		m.lastPresence = Presence{}
		if enter.Below(threshold) {
			m.openWindow(StateEnterDetect, nowMs)
		} else if leave.Below(threshold) {
			m.openWindow(StateLeaveDetect, nowMs)
		}

	case StateEnterDetect:
		if m.windowExpired(nowMs) {
			m.stats.Timeouts++
			m.toIdle()
			break
		}
		if m.samplePresence().Detected && leave.Below(threshold) {
			m.state = StateEnterComplete
		}

	case StateLeaveDetect:
		if m.windowExpired(nowMs) {
			m.stats.Timeouts++
			m.toIdle()
			break
		}
		if m.samplePresence().Detected && enter.Below(threshold) {
			m.state = StateLeaveComplete
		}

	case StateEnterComplete:
		if leave.Clear(threshold) {
			m.count++
			m.stats.Entered++
			m.toIdle()
			return Entered, true
		}

	case StateLeaveComplete:
		if m.count == 0 {
			m.stats.Underflows++
			logf("leave crossing at zero occupancy ignored (underflow guard)")
			m.toIdle()
			break
		}
		if enter.Clear(threshold) {
			m.count--
			m.stats.Left++
			m.toIdle()
			return Left, true
		}

	default:
		logf("unknown state %q, resetting to idle", m.state)
		m.toIdle()
	}

	return "", false
}

func (m *Machine) openWindow(next State, nowMs int64) {
	m.state = next
	m.detectStartMs = nowMs
}

// windowExpired reports whether strictly more than DetectionTimeout has
// elapsed since the detect window opened.
func (m *Machine) windowExpired(nowMs int64) bool {
	return nowMs-m.detectStartMs > m.cfg.DetectionTimeout.Milliseconds()
}

func (m *Machine) samplePresence() Presence {
	p := m.presence.SamplePresence()
	if p.Fault {
		m.stats.ThermalFaults++
	}
	m.lastPresence = p
	return p
}

func (m *Machine) toIdle() {
	m.state = StateIdle
	m.detectStartMs = 0
	m.lastPresence = Presence{}
}

// Count returns the current occupancy.
func (m *Machine) Count() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the constants the machine runs with.
func (m *Machine) Config() Config {
	return m.cfg
}

// Snapshot returns a copy of the machine state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:         m.state,
		Count:         m.count,
		Enter:         m.lastEnter,
		Leave:         m.lastLeave,
		Presence:      m.lastPresence,
		DetectStartMs: m.detectStartMs,
		LastStepMs:    m.lastStepMs,
		Steps:         m.steps,
		Stats:         m.stats,
	}
}
