package pipeline

import (
	"fmt"
	"math"
	"time"
)

// Resampler turns samples arriving at irregular wall-clock instants into a
// uniform stream by linear interpolation on a virtual clock.
//
// The virtual clock is origin + k*step rather than a running sum, so input
// that already arrives on the step grid is reproduced exactly.
type Resampler struct {
	step     float64 // ms per uniform sample
	stall    float64 // ms behind "now" after which the clock is resynchronised
	maxSteps int     // hard cap on uniform samples emitted per tick

	started      bool
	lastRawTime  float64
	lastRawValue float64
	origin       float64
	k            int64

	stalls int
}

// NewResampler returns a resampler producing rate samples per second.
func NewResampler(rate float64, stall time.Duration) (*Resampler, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("%w: resample rate must be positive, got %g", ErrSampleRate, rate)
	}
	if stall <= 0 {
		return nil, fmt.Errorf("stall reset must be positive, got %s", stall)
	}

	step := 1000 / rate
	stallMs := float64(stall) / float64(time.Millisecond)
	return &Resampler{
		step:     step,
		stall:    stallMs,
		maxSteps: int(math.Ceil(stallMs/step)) + 1,
	}, nil
}

// VirtualTime returns the time in ms of the next uniform sample.
func (r *Resampler) VirtualTime() float64 {
	return r.origin + float64(r.k)*r.step
}

// Step returns the uniform sample period in ms.
func (r *Resampler) Step() float64 {
	return r.step
}

// MaxSteps returns the per-tick emission cap.
func (r *Resampler) MaxSteps() int {
	return r.maxSteps
}

// Stalls returns how many times the clock has been resynchronised.
func (r *Resampler) Stalls() int {
	return r.stalls
}

// Started reports whether a first sample has anchored the clock.
func (r *Resampler) Started() bool {
	return r.started
}

// Advance feeds one tick observed at nowMs. When ok is false the tick carried
// no measurement and nothing happens. Otherwise emit is called once for every
// uniform instant in [virtual time, nowMs), interpolated between the previous
// sample and this one. It returns the number of emitted samples and whether
// the clock was resynchronised after a stall.
func (r *Resampler) Advance(nowMs, sample float64, ok bool, emit func(float64)) (n int, stalled bool) {
	if !ok {
		return 0, false
	}
	if !r.started {
		r.started = true
		r.anchor(nowMs, sample)
		r.resync(nowMs)
		return 0, false
	}

	if nowMs-r.VirtualTime() > r.stall {
		r.resync(nowMs)
		r.stalls++
		stalled = true
	}

	span := nowMs - r.lastRawTime
	for v := r.VirtualTime(); v < nowMs && n < r.maxSteps; v = r.VirtualTime() {
		t := 0.0
		if span > 0 {
			t = max(0, (v-r.lastRawTime)/span)
		}
		emit(r.lastRawValue + t*(sample-r.lastRawValue))
		r.k++
		n++
	}

	r.anchor(nowMs, sample)
	return n, stalled
}

// Reset forgets the clock; the next sample anchors it again.
func (r *Resampler) Reset() {
	r.started = false
	r.lastRawTime, r.lastRawValue = 0, 0
	r.origin, r.k = 0, 0
}

func (r *Resampler) anchor(nowMs, sample float64) {
	r.lastRawTime = nowMs
	r.lastRawValue = sample
}

func (r *Resampler) resync(nowMs float64) {
	r.origin = nowMs
	r.k = 0
}
