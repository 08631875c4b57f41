// Package sensors assembles the inputs the occupancy machine reads: two
// ultrasonic lanes and a thermal array, either real hardware or a simulated
// doorway.
package sensors

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/host/v3"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/sensors/hcsr04"
	"github.com/banshee-data/occupancy.report/internal/sensors/mlx90640"
	"github.com/banshee-data/occupancy.report/internal/sensors/sim"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

var logf = monitoring.Scoped("sensors")

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the host GPIO and I²C drivers. It is safe to call more than once.
func Init() error {
	initOnce.Do(func() {
		state, err := host.Init()
		if err != nil {
			initErr = fmt.Errorf("failed to initialise host drivers: %w", err)
			return
		}
		for _, d := range state.Loaded {
			logf("loaded driver %s", d)
		}
		for _, f := range state.Failed {
			logf("driver %s failed: %v", f.D, f.Err)
		}
	})
	return initErr
}

// Set is the trio of inputs fed to occupancy.NewMachine.
type Set struct {
	Enter   occupancy.DistanceSensor
	Leave   occupancy.DistanceSensor
	Thermal occupancy.ThermalArray

	closers []func() error
}

// Close releases any buses held by the set.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenHardware initialises the host and opens the lanes and thermal array
// named in cfg.
func OpenHardware(cfg *config.Config) (*Set, error) {
	if err := Init(); err != nil {
		return nil, err
	}

	opts := hcsr04.Options{
		EchoTimeout:   cfg.GetEchoTimeout(),
		MaxDistanceCm: cfg.GetMaxDistanceCm(),
	}
	enter, err := hcsr04.Open(cfg.GetEnterTrigPin(), cfg.GetEnterEchoPin(), opts)
	if err != nil {
		return nil, fmt.Errorf("enter lane: %w", err)
	}
	leave, err := hcsr04.Open(cfg.GetLeaveTrigPin(), cfg.GetLeaveEchoPin(), opts)
	if err != nil {
		return nil, fmt.Errorf("leave lane: %w", err)
	}
	thermal, err := mlx90640.Open(cfg.GetI2CBus(), cfg.GetThermalAddress())
	if err != nil {
		return nil, fmt.Errorf("thermal array: %w", err)
	}
	logf("using %s, %s, %s", enter, leave, thermal)

	return &Set{
		Enter:   enter,
		Leave:   leave,
		Thermal: thermal,
		closers: []func() error{thermal.Close},
	}, nil
}

// Simulated returns a set backed by the default simulated doorway.
func Simulated(clock timeutil.Clock) *Set {
	c := sim.NewCorridor(clock, sim.DefaultPattern(), sim.DefaultPeriod)
	return &Set{
		Enter:   c.Lane(occupancy.LaneEnter),
		Leave:   c.Lane(occupancy.LaneLeave),
		Thermal: c,
	}
}
