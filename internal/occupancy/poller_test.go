package occupancy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNewPollerDefaults(t *testing.T) {
	r := newRig(t)
	p := NewPoller(r.m, nil, 0, nil)

	assert.Equal(t, 50*time.Millisecond, p.interval)
	assert.IsType(t, timeutil.RealClock{}, p.clock)
}

func TestPollPublishesCrossing(t *testing.T) {
	r := newRig(t)
	clock := timeutil.NewMockClock(epoch)
	pub := &recordingPublisher{}
	p := NewPoller(r.m, clock, 50*time.Millisecond, pub)

	r.enter.cm = 5
	_, ok := p.Poll()
	require.False(t, ok)

	clock.Advance(300 * time.Millisecond)
	r.presence.detected = true
	r.leave.cm = 4
	_, ok = p.Poll()
	require.False(t, ok)

	clock.Advance(50 * time.Millisecond)
	r.enter.cm = NoEcho
	r.leave.cm = NoEcho
	e, ok := p.Poll()
	require.True(t, ok)

	assert.Equal(t, Entered, e.Delta)
	assert.Equal(t, uint32(1), e.Count)
	assert.Equal(t, epoch.Add(350*time.Millisecond), e.At)
	_, err := uuid.Parse(e.ID)
	assert.NoError(t, err)

	assert.Equal(t, []Event{e}, pub.Events())
	assert.Equal(t, int64(350), r.m.Snapshot().LastStepMs)
}

func TestPollUsesElapsedMillisForTimeout(t *testing.T) {
	r := newRig(t)
	clock := timeutil.NewMockClock(epoch)
	p := NewPoller(r.m, clock, 50*time.Millisecond, nil)

	r.enter.cm = 5
	p.Poll()
	require.Equal(t, StateEnterDetect, r.m.State())

	clock.Advance(2 * time.Second)
	p.Poll()
	require.Equal(t, StateEnterDetect, r.m.State())

	clock.Advance(time.Millisecond)
	p.Poll()
	assert.Equal(t, StateIdle, r.m.State())
}

func TestPollerRun(t *testing.T) {
	r := newRig(t)
	clock := timeutil.NewMockClock(epoch)
	pub := &recordingPublisher{}
	p := NewPoller(r.m, clock, 50*time.Millisecond, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)

	tick := func() {
		prev := r.m.Snapshot().Steps
		clock.Advance(50 * time.Millisecond)
		require.Eventually(t, func() bool { return r.m.Snapshot().Steps > prev }, time.Second, time.Millisecond)
	}

	r.presence.detected = true
	r.enter.cm = 5
	tick()
	r.leave.cm = 4
	tick()
	r.enter.cm = NoEcho
	r.leave.cm = NoEcho
	tick()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, Entered, events[0].Delta)
}
