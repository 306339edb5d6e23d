package analysis

import (
	"errors"
	"fmt"
	"math"

	"pulse/internal/fft"

	"gonum.org/v1/gonum/floats"
)

// EstimatorConfig holds the thresholds and smoothing constants of the
// rate/quality estimator.
type EstimatorConfig struct {
	MinSignalPower float64 // RMS of the filtered window below which no peak is trusted
	RatioSmoothing float64 // weight of the newest peak/noise ratio
	BPMSmoothing   float64 // weight of the newest BPM candidate
	JumpBPM        float64 // candidate farther than this from the estimate is a fresh lock
	Decay          float64 // per-evaluation fade applied when no peak is usable
	GoodRatio      float64 // smoothed ratio above which quality is Good
	ExcellentRatio float64 // smoothed ratio above which quality is Excellent
	NoiseFloor     float64 // used as mean noise when the band holds only the peak bin
}

// DefaultEstimatorConfig returns the tuning used for camera pulse signals.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		MinSignalPower: 0.05,
		RatioSmoothing: 0.1,
		BPMSmoothing:   0.1,
		JumpBPM:        30,
		Decay:          0.95,
		GoodRatio:      4,
		ExcellentRatio: 8,
		NoiseFloor:     1e-6,
	}
}

// Validate checks that every weight lies in its usable range.
func (c EstimatorConfig) Validate() error {
	if c.MinSignalPower < 0 {
		return fmt.Errorf("min signal power must not be negative, got %g", c.MinSignalPower)
	}
	for name, w := range map[string]float64{
		"ratio smoothing": c.RatioSmoothing,
		"bpm smoothing":   c.BPMSmoothing,
		"decay":           c.Decay,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %g", name, w)
		}
	}
	if c.GoodRatio >= c.ExcellentRatio {
		return errors.New("good ratio threshold must be below the excellent threshold")
	}
	if c.NoiseFloor <= 0 {
		return fmt.Errorf("noise floor must be positive, got %g", c.NoiseFloor)
	}
	return nil
}

// Estimate is the outcome of one evaluation.
type Estimate struct {
	BPM         float64 `json:"bpm"`
	Ratio       float64 `json:"ratio"`
	Quality     Quality `json:"quality"`
	PeakBin     int     `json:"peak_bin"` // -1 when no usable peak
	PeakHz      float64 `json:"peak_hz"`
	SignalPower float64 `json:"signal_power"`
}

// Estimator turns spectra of the filtered window into a smoothed heart rate
// and a quality level. The smoothing accumulators persist across calls.
type Estimator struct {
	cfg EstimatorConfig

	smoothedBPM   float64
	smoothedRatio float64
	last          Estimate
}

// NewEstimator validates cfg and returns an estimator with zeroed accumulators.
func NewEstimator(cfg EstimatorConfig) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid estimator config: %w", err)
	}
	return &Estimator{cfg: cfg, last: Estimate{PeakBin: -1}}, nil
}

// PassbandBins maps a passband onto inclusive FFT bin bounds, excluding DC
// and the Nyquist bin. low > high means the band holds no bins.
func PassbandBins(lowCut, highCut, sampleRate float64, size int) (low, high int) {
	resolution := sampleRate / float64(size)
	low = max(1, int(math.Floor(lowCut/resolution)))
	high = min(size/2-1, int(math.Ceil(highCut/resolution)))
	return low, high
}

// RMS returns the root mean square of x.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

// Update evaluates the spectrum of the filtered window. filtered is the
// time-domain window the spectrum was computed from.
func (e *Estimator) Update(sp fft.Spectrum, filtered []float64, lowCut, highCut float64) Estimate {
	size := len(sp.Re)
	if size == 0 {
		return e.Miss()
	}
	lowBin, highBin := PassbandBins(lowCut, highCut, sp.SampleRate, size)

	peakIndex, peakMag := -1, math.Inf(-1)
	for i := lowBin; i <= highBin; i++ {
		if sp.Magnitude[i] > peakMag {
			peakIndex, peakMag = i, sp.Magnitude[i]
		}
	}

	power := RMS(filtered)
	if peakIndex < 0 || !(power > e.cfg.MinSignalPower) {
		est := e.Miss()
		e.last.SignalPower = power
		est.SignalPower = power
		return est
	}

	avgNoise := e.cfg.NoiseFloor
	if count := highBin - lowBin; count > 0 {
		avgNoise = (floats.Sum(sp.Magnitude[lowBin:highBin+1]) - peakMag) / float64(count)
	}
	if avgNoise <= 0 {
		avgNoise = e.cfg.NoiseFloor
	}
	instant := peakMag / avgNoise

	e.smoothedRatio = (1-e.cfg.RatioSmoothing)*e.smoothedRatio + e.cfg.RatioSmoothing*instant

	peakHz := float64(peakIndex) * sp.Resolution()
	candidate := peakHz * 60
	if e.smoothedBPM == 0 || math.Abs(e.smoothedBPM-candidate) > e.cfg.JumpBPM {
		e.smoothedBPM = candidate
	} else {
		e.smoothedBPM = (1-e.cfg.BPMSmoothing)*e.smoothedBPM + e.cfg.BPMSmoothing*candidate
	}

	e.last = Estimate{
		BPM:         e.smoothedBPM,
		Ratio:       e.smoothedRatio,
		Quality:     Classify(e.smoothedRatio, e.cfg.GoodRatio, e.cfg.ExcellentRatio),
		PeakBin:     peakIndex,
		PeakHz:      peakHz,
		SignalPower: power,
	}
	return e.last
}

// Miss records an evaluation without a usable peak: quality drops to Poor
// and both accumulators fade instead of resetting.
func (e *Estimator) Miss() Estimate {
	e.smoothedBPM *= e.cfg.Decay
	e.smoothedRatio *= e.cfg.Decay

	e.last = Estimate{
		BPM:     e.smoothedBPM,
		Ratio:   e.smoothedRatio,
		Quality: Poor,
		PeakBin: -1,
	}
	return e.last
}

// Last returns the most recent estimate.
func (e *Estimator) Last() Estimate {
	return e.last
}

// BPM returns the smoothed heart rate.
func (e *Estimator) BPM() float64 {
	return e.smoothedBPM
}

// Ratio returns the smoothed peak/noise ratio.
func (e *Estimator) Ratio() float64 {
	return e.smoothedRatio
}

// ResetRatio clears the quality accumulator, keeping the heart rate.
func (e *Estimator) ResetRatio() {
	e.smoothedRatio = 0
	e.last.Ratio = 0
}

// Reset clears both accumulators.
func (e *Estimator) Reset() {
	e.smoothedBPM, e.smoothedRatio = 0, 0
	e.last = Estimate{PeakBin: -1}
}

// SetMinSignalPower changes the power gate. Negative values are clamped to 0.
func (e *Estimator) SetMinSignalPower(p float64) {
	e.cfg.MinSignalPower = max(0, p)
}

// Config returns the active configuration.
func (e *Estimator) Config() EstimatorConfig {
	return e.cfg
}
