package source

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	DemoHeartRateHz = 1.2
	DemoAmplitude   = 0.05
	DemoNoise       = 0.01
)

// Demo synthesises a 72 BPM pulse with a little uniform noise, for running
// without a camera or sensor.
type Demo struct {
	mu    sync.Mutex
	rng   *rand.Rand
	start time.Time
}

// NewDemo returns a demo source whose noise is reproducible for seed.
func NewDemo(seed int64) *Demo {
	return &Demo{rng: rand.New(rand.NewSource(seed))}
}

// Sample returns sin(2π·1.2·t)·0.05 + noise, t in seconds since the first call.
func (d *Demo) Sample(now time.Time) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.start.IsZero() {
		d.start = now
	}
	t := now.Sub(d.start).Seconds()
	v := math.Sin(2*math.Pi*DemoHeartRateHz*t)*DemoAmplitude + (d.rng.Float64()-0.5)*DemoNoise
	return v, true
}

func (d *Demo) Close() error { return nil }
