package pipeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"pulse/internal/analysis"
	"pulse/internal/fft"
	"pulse/internal/filter"
	applog "pulse/internal/log"
	"pulse/pkg/bitint"
)

var (
	// ErrBufferSize reports a window length that is not a power of two.
	ErrBufferSize = errors.New("buffer size must be a power of 2")
	// ErrCutoff and ErrSampleRate are the filter package's configuration errors.
	ErrCutoff     = filter.ErrCutoff
	ErrSampleRate = filter.ErrSampleRate
)

const (
	// MaxAlpha bounds the amplification factor.
	MaxAlpha = 1000.0
)

// Kind selects the raw (detrended) or the bandpass-filtered series.
type Kind int

const (
	Raw Kind = iota
	Filtered
)

func (k Kind) String() string {
	if k == Raw {
		return "raw"
	}
	return "filtered"
}

// Config holds everything needed to build a Pipeline.
type Config struct {
	SampleRate        float64       // uniform rate in Hz
	BufferSize        int           // window length N, power of two
	LowCutoff         float64       // Hz
	HighCutoff        float64       // Hz
	HighPass          bool          // high-pass section enabled
	LowPass           bool          // low-pass section enabled
	StallReset        time.Duration // resynchronise the clock when this far behind
	MinSignalPower    float64       // RMS gate of the estimator
	Alpha             float64       // amplification of the filtered sample
	DropoutGraceTicks int           // no-sample ticks tolerated before Analyze reports Poor
}

// DefaultConfig returns the 30 Hz / 256-sample pulse configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:        30,
		BufferSize:        256,
		LowCutoff:         0.7,
		HighCutoff:        3.0,
		HighPass:          true,
		LowPass:           false,
		StallReset:        500 * time.Millisecond,
		MinSignalPower:    0.05,
		Alpha:             100,
		DropoutGraceTicks: 2,
	}
}

// Validate reports configuration errors; see ErrBufferSize, ErrCutoff and
// ErrSampleRate.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: %g Hz", ErrSampleRate, c.SampleRate)
	}
	if c.BufferSize < 2 || !bitint.IsPowerOfTwo(c.BufferSize) {
		return fmt.Errorf("%w, got %d (next usable size is %d)", ErrBufferSize, c.BufferSize, bitint.NextPowerOfTwo(c.BufferSize))
	}
	if err := filter.ValidatePassband(c.LowCutoff, c.HighCutoff, c.SampleRate); err != nil {
		return err
	}
	if c.StallReset <= 0 {
		return fmt.Errorf("stall reset must be positive, got %s", c.StallReset)
	}
	if c.MinSignalPower < 0 {
		return fmt.Errorf("min signal power must not be negative, got %g", c.MinSignalPower)
	}
	if c.DropoutGraceTicks < 0 {
		return fmt.Errorf("dropout grace must not be negative, got %d", c.DropoutGraceTicks)
	}
	return nil
}

// Pipeline owns every stage between raw samples and the heart-rate estimate.
// It is driven from a single goroutine: OnTick once per rendered frame and
// Analyze whenever the display wants fresh spectra.
type Pipeline struct {
	cfg   Config
	alpha float64

	resampler *Resampler
	detrender *Detrender
	bandpass  *filter.Bandpass
	raw       *Ring // detrended uniform samples
	filtered  *Ring // bandpass output

	rawFFT      *fft.Analyzer
	filteredFFT *fft.Analyzer
	estimator   *analysis.Estimator

	lastFiltered float64
	missedTicks  int

	window      []float64 // ordered copy of a ring for the analyzers
	rawMag      []float64 // magnitudes of the last Analyze
	filteredMag []float64

	emitFn func(float64)
}

// New validates cfg and allocates all buffers and analyzers.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	resampler, err := NewResampler(cfg.SampleRate, cfg.StallReset)
	if err != nil {
		return nil, err
	}
	bandpass, err := filter.NewBandpass(cfg.LowCutoff, cfg.HighCutoff, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	bandpass.SetEnabled(filter.HighPass, cfg.HighPass)
	bandpass.SetEnabled(filter.LowPass, cfg.LowPass)

	rawFFT, err := fft.NewAnalyzer(cfg.BufferSize, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	filteredFFT, err := fft.NewAnalyzer(cfg.BufferSize, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	estCfg := analysis.DefaultEstimatorConfig()
	estCfg.MinSignalPower = cfg.MinSignalPower
	estimator, err := analysis.NewEstimator(estCfg)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:         cfg,
		alpha:       clampAlpha(cfg.Alpha),
		resampler:   resampler,
		detrender:   NewDetrender(cfg.BufferSize),
		bandpass:    bandpass,
		raw:         NewRing(cfg.BufferSize),
		filtered:    NewRing(cfg.BufferSize),
		rawFFT:      rawFFT,
		filteredFFT: filteredFFT,
		estimator:   estimator,
		window:      make([]float64, cfg.BufferSize),
		rawMag:      make([]float64, cfg.BufferSize/2),
		filteredMag: make([]float64, cfg.BufferSize/2),
	}
	p.emitFn = p.push

	applog.Infof("Pipeline: %d samples at %.0f Hz, passband %.2f-%.2f Hz (HP=%t LP=%t)",
		cfg.BufferSize, cfg.SampleRate, cfg.LowCutoff, cfg.HighCutoff, cfg.HighPass, cfg.LowPass)
	return p, nil
}

// OnTick feeds one render tick observed at nowMs (monotonic milliseconds).
// ok=false means the tick carried no measurement, and so does a NaN or
// infinite sample. It returns the number of uniform samples produced.
func (p *Pipeline) OnTick(nowMs, sample float64, ok bool) int {
	if ok && (math.IsNaN(sample) || math.IsInf(sample, 0)) {
		applog.Debugf("Pipeline: dropping non-finite sample %v", sample)
		ok = false
	}
	if !ok {
		p.missedTicks++
		return 0
	}
	p.missedTicks = 0

	n, stalled := p.resampler.Advance(nowMs, sample, ok, p.emitFn)
	if stalled {
		applog.Debugf("Pipeline: clock stalled, resynchronised at %.1f ms", nowMs)
	}
	return n
}

// push runs one uniform sample through detrend and bandpass.
func (p *Pipeline) push(x float64) {
	d := p.detrender.Apply(x)
	p.raw.Push(d)
	f := p.bandpass.Process(d)
	p.filtered.Push(f)
	p.lastFiltered = f
}

// Analyze computes both spectra and updates the heart-rate estimate. It does
// nothing until the first uniform sample has been produced.
func (p *Pipeline) Analyze() analysis.Estimate {
	if !p.detrender.Seeded() {
		return p.estimator.Last()
	}

	p.raw.CopyTo(p.window)
	copy(p.rawMag, p.rawFFT.Analyze(p.window).Magnitude)

	p.filtered.CopyTo(p.window)
	sp := p.filteredFFT.Analyze(p.window)
	copy(p.filteredMag, sp.Magnitude)

	if p.missedTicks > p.cfg.DropoutGraceTicks {
		return p.estimator.Miss()
	}
	low, high := p.bandpass.Passband()
	return p.estimator.Update(sp, p.window, low, high)
}

// SetPassband redesigns both sections and clears buffers and filter history.
// Invalid cutoffs leave the pipeline untouched.
func (p *Pipeline) SetPassband(lowHz, highHz float64) error {
	if err := p.bandpass.UpdateCoefficients(lowHz, highHz, p.cfg.SampleRate); err != nil {
		return err
	}
	p.cfg.LowCutoff, p.cfg.HighCutoff = lowHz, highHz
	p.resetSignal()
	applog.Infof("Pipeline: passband set to %.2f-%.2f Hz", lowHz, highHz)
	return nil
}

// SetFilterEnabled toggles one section and clears buffers and filter history.
func (p *Pipeline) SetFilterEnabled(stage filter.Stage, enabled bool) {
	p.bandpass.SetEnabled(stage, enabled)
	switch stage {
	case filter.HighPass:
		p.cfg.HighPass = enabled
	case filter.LowPass:
		p.cfg.LowPass = enabled
	}
	p.resetSignal()
	applog.Infof("Pipeline: %s filter enabled=%t", stage, enabled)
}

// resetSignal clears what a filter change invalidates. The clock and the
// heart-rate accumulator are kept.
func (p *Pipeline) resetSignal() {
	p.detrender.Reset()
	p.raw.Reset()
	p.filtered.Reset()
	p.bandpass.Reset()
	p.estimator.ResetRatio()
	p.lastFiltered = 0
	clear(p.rawMag)
	clear(p.filteredMag)
}

// Reset clears all state, including the resampling clock and both smoothing
// accumulators. Call it when the sample source or region changes.
func (p *Pipeline) Reset() {
	p.resetSignal()
	p.resampler.Reset()
	p.estimator.Reset()
	p.missedTicks = 0
	applog.Debugf("Pipeline: reset")
}

// SetAlpha sets the amplification factor, clamped to [0, MaxAlpha].
func (p *Pipeline) SetAlpha(alpha float64) {
	p.alpha = clampAlpha(alpha)
}

// Alpha returns the amplification factor.
func (p *Pipeline) Alpha() float64 {
	return p.alpha
}

func clampAlpha(a float64) float64 {
	return max(0, min(a, MaxAlpha))
}

// SetMinSignalPower changes the estimator's RMS gate.
func (p *Pipeline) SetMinSignalPower(power float64) {
	p.estimator.SetMinSignalPower(power)
	p.cfg.MinSignalPower = p.estimator.Config().MinSignalPower
}

// CurrentAmplifiedSample returns the latest filtered sample times alpha.
func (p *Pipeline) CurrentAmplifiedSample() float64 {
	return p.lastFiltered * p.alpha
}

// CurrentFilteredSample returns the latest bandpass output.
func (p *Pipeline) CurrentFilteredSample() float64 {
	return p.lastFiltered
}

// TimeDomainSeries returns an ordered copy of the last N samples of kind.
func (p *Pipeline) TimeDomainSeries(kind Kind) []float64 {
	return p.ring(kind).Values()
}

// SeriesInto copies the last N samples of kind into dst without allocating.
func (p *Pipeline) SeriesInto(kind Kind, dst []float64) int {
	return p.ring(kind).CopyTo(dst)
}

// FrequencySpectrum returns a copy of the N/2 magnitudes computed by the
// last Analyze.
func (p *Pipeline) FrequencySpectrum(kind Kind) []float64 {
	return append([]float64(nil), p.magnitudes(kind)...)
}

// SpectrumInto copies the N/2 magnitudes of kind into dst.
func (p *Pipeline) SpectrumInto(kind Kind, dst []float64) int {
	return copy(dst, p.magnitudes(kind))
}

func (p *Pipeline) ring(kind Kind) *Ring {
	if kind == Raw {
		return p.raw
	}
	return p.filtered
}

func (p *Pipeline) magnitudes(kind Kind) []float64 {
	if kind == Raw {
		return p.rawMag
	}
	return p.filteredMag
}

// HeartRate returns the smoothed BPM.
func (p *Pipeline) HeartRate() float64 {
	return p.estimator.BPM()
}

// Quality returns the classification of the last evaluation.
func (p *Pipeline) Quality() analysis.Quality {
	return p.estimator.Last().Quality
}

// QualityRatio returns the smoothed peak/noise ratio.
func (p *Pipeline) QualityRatio() float64 {
	return p.estimator.Ratio()
}

// Estimate returns the full result of the last evaluation.
func (p *Pipeline) Estimate() analysis.Estimate {
	return p.estimator.Last()
}

// Initialized reports whether a uniform sample has been produced since the
// last reset.
func (p *Pipeline) Initialized() bool {
	return p.detrender.Seeded()
}

// Passband returns the active cutoffs.
func (p *Pipeline) Passband() (lowHz, highHz float64) {
	return p.bandpass.Passband()
}

// FilterEnabled reports whether a section is active.
func (p *Pipeline) FilterEnabled(stage filter.Stage) bool {
	return p.bandpass.Enabled(stage)
}

// Config returns the active configuration, including runtime changes.
func (p *Pipeline) Config() Config {
	cfg := p.cfg
	cfg.Alpha = p.alpha
	return cfg
}

// Resampler exposes the virtual clock for diagnostics.
func (p *Pipeline) Resampler() *Resampler {
	return p.resampler
}

// TimeAxis returns the time in seconds of each series sample, oldest first,
// ending at 0 for the newest.
func (p *Pipeline) TimeAxis() []float64 {
	n := p.cfg.BufferSize
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = -float64(n-1-i) / p.cfg.SampleRate
	}
	return axis
}

// FrequencyAxis returns the centre frequency in Hz of each spectrum bin.
func (p *Pipeline) FrequencyAxis() []float64 {
	axis := make([]float64, p.cfg.BufferSize/2)
	for i := range axis {
		axis[i] = p.filteredFFT.BinFrequency(i)
	}
	return axis
}
