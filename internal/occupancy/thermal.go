package occupancy

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Thermal array geometry.
const (
	FrameWidth  = 32
	FrameHeight = 24
)

// ThermalFrame is one raw readout of the thermal array, indexed [y][x].
type ThermalFrame [FrameHeight][FrameWidth]int16

// ThermalArray reads whole frames from the thermal sensor.
type ThermalArray interface {
	ReadFrame() (ThermalFrame, error)
}

// PresenceMetric selects how a frame is reduced to a single score.
type PresenceMetric string

const (
	// MetricDecayed halves a running accumulator after every pixel outside
	// the first row and column, so the last pixels scanned dominate. The
	// default presence threshold was tuned against this weighting.
	MetricDecayed PresenceMetric = "decayed"
	// MetricMean is the arithmetic mean of all pixels.
	MetricMean PresenceMetric = "mean"
)

// DecayedAverage reduces f with the decayed running average. Pixels are
// scanned row by row; the accumulator is halved after adding every pixel
// where both x and y are non-zero.
func DecayedAverage(f *ThermalFrame) float64 {
	var avg float64
	for y := 0; y < FrameHeight; y++ {
		for x := 0; x < FrameWidth; x++ {
			avg += float64(f[y][x])
			if x != 0 && y != 0 {
				avg /= 2
			}
		}
	}
	return avg
}

// MeanScore returns the arithmetic mean pixel value of f.
func MeanScore(f *ThermalFrame) float64 {
	values := make([]float64, 0, FrameWidth*FrameHeight)
	for y := range f {
		for x := range f[y] {
			values = append(values, float64(f[y][x]))
		}
	}
	return stat.Mean(values, nil)
}

// Presence is the outcome of one thermal check.
type Presence struct {
	Score    float64 `json:"-"`        // NaN when the frame could not be read; see ScoreOrNil
	Detected bool    `json:"detected"` // Score > threshold and no fault
	Fault    bool    `json:"fault"`    // Frame read failed
}

// ScoreOrNil returns the score, or nil for a faulted sample since NaN has no
// JSON encoding.
func (p Presence) ScoreOrNil() *float64 {
	if math.IsNaN(p.Score) {
		return nil
	}
	s := p.Score
	return &s
}

// PresenceSampler turns fresh thermal frames into Presence decisions. It keeps
// no decision state between calls; only the diagnostic ScoreLog is appended.
type PresenceSampler struct {
	array     ThermalArray
	threshold float64
	metric    PresenceMetric
	log       *ScoreLog
}

// NewPresenceSampler builds a sampler over array. log may be nil.
func NewPresenceSampler(array ThermalArray, threshold float64, metric PresenceMetric, log *ScoreLog) *PresenceSampler {
	if metric == "" {
		metric = MetricDecayed
	}
	return &PresenceSampler{
		array:     array,
		threshold: threshold,
		metric:    metric,
		log:       log,
	}
}

// SamplePresence reads one frame and scores it. A read error fails closed:
// the score is NaN and Detected is false.
func (s *PresenceSampler) SamplePresence() Presence {
	frame, err := s.array.ReadFrame()
	if err != nil {
		logf("thermal frame read failed: %v", err)
		p := Presence{Score: math.NaN(), Fault: true}
		s.log.Add(p)
		return p
	}

	var score float64
	switch s.metric {
	case MetricMean:
		score = MeanScore(&frame)
	default:
		score = DecayedAverage(&frame)
	}

	p := Presence{
		Score:    score,
		Detected: !math.IsNaN(score) && score > s.threshold,
	}
	s.log.Add(p)
	return p
}

// Threshold returns the score a frame must exceed to count as presence.
func (s *PresenceSampler) Threshold() float64 {
	return s.threshold
}

// ScoreLog is a bounded ring of recent presence samples.
type ScoreLog struct {
	mu      sync.Mutex
	samples []Presence
	next    int
	full    bool
}

// NewScoreLog returns a log retaining the last size samples. A size of zero
// returns nil, which discards everything.
func NewScoreLog(size int) *ScoreLog {
	if size <= 0 {
		return nil
	}
	return &ScoreLog{samples: make([]Presence, size)}
}

// Add records p, overwriting the oldest sample when full.
func (l *ScoreLog) Add(p Presence) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples[l.next] = p
	l.next++
	if l.next == len(l.samples) {
		l.next = 0
		l.full = true
	}
}

// Samples returns the retained samples, oldest first.
func (l *ScoreLog) Samples() []Presence {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]Presence, l.next)
		copy(out, l.samples[:l.next])
		return out
	}
	out := make([]Presence, 0, len(l.samples))
	out = append(out, l.samples[l.next:]...)
	out = append(out, l.samples[:l.next]...)
	return out
}
