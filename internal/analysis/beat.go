package analysis

import "math"

// BeatDetector finds individual heartbeats in the amplified filtered stream.
// A beat is the local maximum of a run of samples above the threshold,
// separated from the previous beat by at least the refractory period.
type BeatDetector struct {
	threshold  float64
	refractory int // ticks

	prev, prevPrev float64
	sinceBeat      int
}

// NewBeatDetector returns a detector for a stream sampled at sampleRate.
// maxBPM bounds the refractory period; threshold is in amplified units.
func NewBeatDetector(threshold, maxBPM, sampleRate float64) *BeatDetector {
	refractory := 1
	if maxBPM > 0 && sampleRate > 0 {
		refractory = max(1, int(math.Floor(sampleRate*60/maxBPM)))
	}
	return &BeatDetector{
		threshold:  math.Abs(threshold),
		refractory: refractory,
		sinceBeat:  refractory,
	}
}

// Process feeds one sample and reports whether the previous sample was a beat.
func (d *BeatDetector) Process(x float64) bool {
	beat := d.prev > d.threshold &&
		d.prev >= d.prevPrev &&
		d.prev > x &&
		d.sinceBeat >= d.refractory

	d.prevPrev, d.prev = d.prev, x
	if beat {
		d.sinceBeat = 1
	} else {
		d.sinceBeat++
	}
	return beat
}

// Reset forgets the sample history.
func (d *BeatDetector) Reset() {
	d.prev, d.prevPrev = 0, 0
	d.sinceBeat = d.refractory
}
