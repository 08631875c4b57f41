package occupancy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// Publisher receives every crossing event produced by a Poller.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

// Poller drives a Machine at a fixed cadence and publishes the crossings it
// recognises. It is the single goroutine that calls Step.
type Poller struct {
	machine  *Machine
	clock    timeutil.Clock
	interval time.Duration
	pub      Publisher
	start    time.Time
}

// NewPoller returns a poller stepping m every interval. The monotonic time
// origin is fixed at construction.
func NewPoller(m *Machine, clock timeutil.Clock, interval time.Duration, pub Publisher) *Poller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Poller{
		machine:  m,
		clock:    clock,
		interval: interval,
		pub:      pub,
		start:    clock.Now(),
	}
}

// Run polls until ctx is cancelled and returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	logf("polling every %v", p.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			p.Poll()
		}
	}
}

// Poll performs one Step at the current clock time. A completed crossing is
// published and returned.
func (p *Poller) Poll() (Event, bool) {
	delta, count, ok := p.machine.StepCount(timeutil.MillisSince(p.clock, p.start))
	if !ok {
		return Event{}, false
	}

	e := Event{
		ID:    uuid.NewString(),
		Delta: delta,
		Count: count,
		At:    p.clock.Now().UTC(),
	}
	logf("%s: occupancy now %d", e.Delta, e.Count)
	if p.pub != nil {
		p.pub.Publish(e)
	}
	return e, true
}
