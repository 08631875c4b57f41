package sim

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestCorridorLanes(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	c := NewCorridor(clock, []Crossing{
		{At: time.Second, Direction: occupancy.Left},
		{At: 0, Direction: occupancy.Entered},
	}, 0)
	enter := c.Lane(occupancy.LaneEnter)
	leave := c.Lane(occupancy.LaneLeave)

	tests := []struct {
		at        time.Duration
		wantEnter int
		wantLeave int
		wantWarm  bool
	}{
		{at: 0, wantEnter: BlockedCm, wantLeave: FreeCm, wantWarm: true},
		{at: 300 * time.Millisecond, wantEnter: BlockedCm, wantLeave: BlockedCm, wantWarm: true},
		{at: 600 * time.Millisecond, wantEnter: FreeCm, wantLeave: BlockedCm, wantWarm: true},
		{at: 900 * time.Millisecond, wantEnter: FreeCm, wantLeave: FreeCm, wantWarm: false},
		{at: 1000 * time.Millisecond, wantEnter: FreeCm, wantLeave: BlockedCm, wantWarm: true},
		{at: 1300 * time.Millisecond, wantEnter: BlockedCm, wantLeave: BlockedCm, wantWarm: true},
		{at: 5 * time.Second, wantEnter: FreeCm, wantLeave: FreeCm, wantWarm: false},
	}

	for _, tt := range tests {
		clock.Set(epoch.Add(tt.at))
		assert.Equal(t, tt.wantEnter, enter.MeasureCentimeters(), "enter lane at %v", tt.at)
		assert.Equal(t, tt.wantLeave, leave.MeasureCentimeters(), "leave lane at %v", tt.at)

		frame, err := c.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, tt.wantWarm, frame[12][16] == WarmPixel, "thermal at %v", tt.at)
	}
}

func TestCorridorRepeats(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	c := NewCorridor(clock, []Crossing{{At: 0, Direction: occupancy.Entered}}, 10*time.Second)

	clock.Set(epoch.Add(30*time.Second + 100*time.Millisecond))
	assert.Equal(t, BlockedCm, c.Lane(occupancy.LaneEnter).MeasureCentimeters())
}

// The default pattern driven through the real machine should count two people
// in and out again every cycle.
func TestDefaultPatternThroughMachine(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	c := NewCorridor(clock, DefaultPattern(), DefaultPeriod)

	cfg := occupancy.DefaultConfig()
	sampler := occupancy.NewPresenceSampler(c, cfg.PresenceThreshold, cfg.PresenceMetric, nil)
	m := occupancy.NewMachine(cfg, c.Lane(occupancy.LaneEnter), c.Lane(occupancy.LaneLeave), sampler)
	p := occupancy.NewPoller(m, clock, cfg.PollInterval, nil)

	type step struct {
		Delta occupancy.Delta
		Count uint32
	}
	var got []step
	for elapsed := time.Duration(0); elapsed < 2*DefaultPeriod; elapsed += cfg.PollInterval {
		if e, ok := p.Poll(); ok {
			got = append(got, step{e.Delta, e.Count})
		}
		clock.Advance(cfg.PollInterval)
	}

	cycle := []step{
		{occupancy.Entered, 1},
		{occupancy.Entered, 2},
		{occupancy.Left, 1},
		{occupancy.Left, 0},
	}
	want := append(append([]step(nil), cycle...), cycle...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("crossings mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, m.Snapshot().Stats.Timeouts)
}
