package pipeline

import (
	"math"
	"testing"

	"pulse/internal/analysis"
	"pulse/internal/filter"
	"pulse/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

// drive feeds ticks and evaluates after each one, like a render loop.
func drive(p *Pipeline, ticks []utils.Tick) analysis.Estimate {
	var est analysis.Estimate
	for _, tk := range ticks {
		p.OnTick(tk.NowMs, tk.Value, tk.OK)
		est = p.Analyze()
	}
	return est
}

// pulseTicks is a 1.2 Hz sinusoid of amplitude 0.05 sampled at exactly 30 Hz.
func pulseTicks(n int) []utils.Tick {
	return utils.UniformTicks(n, 30, 0, utils.Pulse(1.2, 0.05, 0))
}

func TestRing(t *testing.T) {
	r := NewRing(4)
	assert.Equal(t, []float64{0, 0, 0, 0}, r.Values())

	for i := 1; i <= 6; i++ {
		r.Push(float64(i))
	}
	assert.Equal(t, []float64{3, 4, 5, 6}, r.Values())
	assert.Equal(t, 3.0, r.At(0))
	assert.Equal(t, 6.0, r.Last())
	assert.InDelta(t, 4.5, r.Mean(), 1e-12)

	r.Fill(2)
	assert.Equal(t, []float64{2, 2, 2, 2}, r.Values())
	r.Reset()
	assert.Equal(t, 0.0, r.Mean())
}

func TestDetrenderSeedsWindow(t *testing.T) {
	d := NewDetrender(8)
	assert.False(t, d.Seeded())

	assert.Zero(t, d.Apply(5), "seed sample is its own mean")
	assert.True(t, d.Seeded())
	assert.Equal(t, []float64{5, 5, 5, 5, 5, 5, 5, 5}, d.Window().Values())

	assert.InDelta(t, 13-(5*7+13)/8.0, d.Apply(13), 1e-12)

	d.Reset()
	assert.False(t, d.Seeded())
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		desc   string
		mutate func(*Config)
		want   error
	}{
		{"Buffer not power of two", func(c *Config) { c.BufferSize = 100 }, ErrBufferSize},
		{"Buffer too small", func(c *Config) { c.BufferSize = 1 }, ErrBufferSize},
		{"Cutoff at Nyquist", func(c *Config) { c.HighCutoff = 15 }, ErrCutoff},
		{"Inverted band", func(c *Config) { c.LowCutoff, c.HighCutoff = 3, 1 }, ErrCutoff},
		{"Zero sample rate", func(c *Config) { c.SampleRate = 0 }, ErrSampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	for _, mutate := range []func(*Config){
		func(c *Config) { c.StallReset = 0 },
		func(c *Config) { c.MinSignalPower = -1 },
		func(c *Config) { c.DropoutGraceTicks = -1 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate())
	}
}

func TestDefaultFilterFlags(t *testing.T) {
	p := newTestPipeline(t, nil)
	assert.True(t, p.FilterEnabled(filter.HighPass))
	assert.False(t, p.FilterEnabled(filter.LowPass))
}

func TestBuffersAlwaysHoldN(t *testing.T) {
	p := newTestPipeline(t, nil)
	check := func(stage string) {
		for _, kind := range []Kind{Raw, Filtered} {
			assert.Len(t, p.TimeDomainSeries(kind), 256, "%s %s series", stage, kind)
			assert.Len(t, p.FrequencySpectrum(kind), 128, "%s %s spectrum", stage, kind)
		}
	}

	check("fresh")
	drive(p, pulseTicks(10))
	check("partial")
	drive(p, utils.UniformTicks(1000, 30, 10_000, utils.Pulse(1.2, 0.05, 0)))
	check("wrapped")
	p.Reset()
	check("reset")
}

func TestAnalyzeBeforeInitialization(t *testing.T) {
	p := newTestPipeline(t, nil)

	est := p.Analyze()
	assert.Equal(t, analysis.Poor, est.Quality)
	assert.False(t, p.Initialized())
	assert.Zero(t, p.HeartRate())

	// The first tick only anchors the clock.
	p.OnTick(0, 0.5, true)
	assert.False(t, p.Initialized())
	p.OnTick(1000.0/30, 0.5, true)
	assert.True(t, p.Initialized())
	assert.Zero(t, p.TimeDomainSeries(Raw)[255], "seeded detrend of a constant is zero")
}

func TestPulseConvergence(t *testing.T) {
	// A 0.05 sinusoid has RMS ~0.035, so the power gate is lowered to let
	// the estimator see it.
	p := newTestPipeline(t, func(c *Config) { c.MinSignalPower = 0.01 })

	est := drive(p, pulseTicks(600))

	assert.InDelta(t, 72, p.HeartRate(), 5)
	assert.InDelta(t, 72, est.BPM, 5)
	assert.GreaterOrEqual(t, p.Quality(), analysis.Fair)
	assert.Greater(t, p.QualityRatio(), 0.0)

	mags := p.FrequencySpectrum(Filtered)
	assert.InDelta(t, 10, utils.FindPeakBin(mags, 1, len(mags)-1), 1, "spectral peak near 1.2 Hz")
}

func TestDefaultPowerGateRejectsWeakPulse(t *testing.T) {
	p := newTestPipeline(t, nil)

	est := drive(p, pulseTicks(600))

	assert.Equal(t, analysis.Poor, est.Quality)
	assert.Zero(t, p.HeartRate())
	assert.Less(t, est.SignalPower, 0.05)
}

func TestDropoutDecay(t *testing.T) {
	p := newTestPipeline(t, func(c *Config) { c.MinSignalPower = 0.01 })
	drive(p, pulseTicks(600))
	require.InDelta(t, 72, p.HeartRate(), 5)

	grace := p.Config().DropoutGraceTicks
	prevBPM, prevRatio := p.HeartRate(), p.QualityRatio()
	for i := range 50 {
		p.OnTick(20_000+float64(i)*1000/60, 0, false)
		est := p.Analyze()

		bpm, ratio := p.HeartRate(), p.QualityRatio()
		require.False(t, math.IsNaN(bpm) || math.IsNaN(ratio), "tick %d", i)
		require.GreaterOrEqual(t, bpm, 0.0)
		require.GreaterOrEqual(t, ratio, 0.0)

		if i >= grace {
			assert.Equal(t, analysis.Poor, est.Quality, "tick %d", i)
			assert.InDelta(t, prevBPM*0.95, bpm, 1e-9, "tick %d", i)
			assert.InDelta(t, prevRatio*0.95, ratio, 1e-9, "tick %d", i)
		}
		prevBPM, prevRatio = bpm, ratio
	}
	assert.Greater(t, p.HeartRate(), 0.0, "decay fades instead of resetting")
}

func TestNonFiniteSamplesAreSkipped(t *testing.T) {
	p := newTestPipeline(t, func(c *Config) { c.MinSignalPower = 0.01 })
	drive(p, pulseTicks(300))
	require.InDelta(t, 72, p.HeartRate(), 5)

	for i, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.Zero(t, p.OnTick(9_970+float64(i), bad, true))
	}

	// Resume on the same 30 Hz grid.
	ticks := utils.UniformTicks(600, 30, 10_000, utils.Pulse(1.2, 0.05, 0))
	est := drive(p, ticks)

	assert.False(t, math.IsNaN(p.CurrentFilteredSample()))
	for _, v := range p.TimeDomainSeries(Filtered) {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	assert.InDelta(t, 72, est.BPM, 5)
	assert.GreaterOrEqual(t, est.Quality, analysis.Fair)
}

func TestToggleClearsHistory(t *testing.T) {
	p := newTestPipeline(t, func(c *Config) { c.MinSignalPower = 0.01 })
	drive(p, pulseTicks(300))
	bpm := p.HeartRate()
	require.NotZero(t, bpm)
	require.NotEqual(t, [4]float64{}, p.bandpass.Section(filter.HighPass).State())

	p.SetFilterEnabled(filter.HighPass, false)
	assert.Equal(t, [4]float64{}, p.bandpass.Section(filter.HighPass).State(), "taps zeroed immediately")
	assert.False(t, p.Initialized())
	assert.Zero(t, p.QualityRatio())
	assert.Equal(t, bpm, p.HeartRate(), "heart rate survives a filter change")
	for _, v := range p.TimeDomainSeries(Filtered) {
		require.Zero(t, v)
	}

	drive(p, utils.UniformTicks(30, 30, 20_000, utils.Pulse(1.2, 0.05, 0)))
	assert.Equal(t, [4]float64{}, p.bandpass.Section(filter.HighPass).State(), "disabled section keeps no history")

	p.SetFilterEnabled(filter.HighPass, true)
	assert.Equal(t, [4]float64{}, p.bandpass.Section(filter.HighPass).State(), "re-enable starts from zero")
	assert.True(t, p.Config().HighPass)
}

func TestSetPassband(t *testing.T) {
	p := newTestPipeline(t, nil)
	drive(p, pulseTicks(100))
	before := p.TimeDomainSeries(Filtered)

	err := p.SetPassband(0.7, 20)
	assert.ErrorIs(t, err, ErrCutoff)
	low, high := p.Passband()
	assert.Equal(t, [2]float64{0.7, 3.0}, [2]float64{low, high})
	assert.Equal(t, before, p.TimeDomainSeries(Filtered), "invalid passband must not touch state")

	require.NoError(t, p.SetPassband(1.0, 2.5))
	low, high = p.Passband()
	assert.Equal(t, [2]float64{1.0, 2.5}, [2]float64{low, high})
	assert.False(t, p.Initialized())
	assert.Equal(t, make([]float64, 256), p.TimeDomainSeries(Raw))
}

func TestAmplification(t *testing.T) {
	p := newTestPipeline(t, nil)
	drive(p, pulseTicks(100))

	assert.InDelta(t, p.CurrentFilteredSample()*100, p.CurrentAmplifiedSample(), 1e-12)

	p.SetAlpha(250)
	assert.InDelta(t, p.CurrentFilteredSample()*250, p.CurrentAmplifiedSample(), 1e-12)

	p.SetAlpha(-5)
	assert.Zero(t, p.Alpha())
	p.SetAlpha(5000)
	assert.Equal(t, MaxAlpha, p.Alpha())
}

func TestResetClearsEverything(t *testing.T) {
	p := newTestPipeline(t, func(c *Config) { c.MinSignalPower = 0.01 })
	drive(p, pulseTicks(400))
	require.NotZero(t, p.HeartRate())

	p.Reset()
	assert.Zero(t, p.HeartRate())
	assert.Zero(t, p.QualityRatio())
	assert.False(t, p.Initialized())
	assert.False(t, p.Resampler().Started())
	assert.Zero(t, p.CurrentAmplifiedSample())
}

func TestAxes(t *testing.T) {
	p := newTestPipeline(t, nil)

	ta := p.TimeAxis()
	require.Len(t, ta, 256)
	assert.Equal(t, 0.0, ta[255])
	assert.InDelta(t, -255.0/30, ta[0], 1e-12)

	fa := p.FrequencyAxis()
	require.Len(t, fa, 128)
	assert.Zero(t, fa[0])
	assert.InDelta(t, 30.0/256, fa[1], 1e-12)
	assert.Less(t, fa[127], 15.0)
}

func TestSnapshot(t *testing.T) {
	p := newTestPipeline(t, func(c *Config) { c.MinSignalPower = 0.01 })
	drive(p, pulseTicks(300))

	s := p.Snapshot(false)
	assert.True(t, s.Initialized)
	assert.Equal(t, p.HeartRate(), s.BPM)
	assert.Equal(t, p.Quality().Color(), s.QualityColor)
	assert.Nil(t, s.FilteredSeries)

	full := p.Snapshot(true)
	assert.Len(t, full.RawSeries, 256)
	assert.Len(t, full.FilteredSpectrum, 128)

	// The snapshot owns its slices.
	full.FilteredSeries[0] = 42
	assert.NotEqual(t, 42.0, p.TimeDomainSeries(Filtered)[0])
}

func TestTickZeroAllocs(t *testing.T) {
	p := newTestPipeline(t, nil)
	ticks := pulseTicks(300)
	drive(p, ticks)

	now := ticks[len(ticks)-1].NowMs
	allocs := testing.AllocsPerRun(50, func() {
		now += 1000.0 / 30
		p.OnTick(now, 0.05*math.Sin(now/1000*2*math.Pi*1.2), true)
		p.Analyze()
	})
	assert.Zero(t, allocs, "OnTick and Analyze must not allocate")
}

func BenchmarkTick(b *testing.B) {
	p, _ := New(DefaultConfig())
	now := 0.0
	b.ReportAllocs()
	for b.Loop() {
		now += 1000.0 / 30
		p.OnTick(now, math.Sin(now/1000*2*math.Pi*1.2)*0.05, true)
		p.Analyze()
	}
}
