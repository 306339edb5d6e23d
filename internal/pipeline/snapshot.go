package pipeline

import (
	"pulse/internal/analysis"
	"pulse/internal/filter"
)

// Snapshot is an immutable copy of every pipeline output, safe to hand to
// other goroutines.
type Snapshot struct {
	Initialized  bool             `json:"initialized"`
	Amplified    float64          `json:"amplified"`
	Filtered     float64          `json:"filtered"`
	Alpha        float64          `json:"alpha"`
	BPM          float64          `json:"bpm"`
	Ratio        float64          `json:"ratio"`
	Quality      analysis.Quality `json:"quality"`
	QualityColor string           `json:"quality_color"`
	PeakHz       float64          `json:"peak_hz"`
	SignalPower  float64          `json:"signal_power"`

	LowCutoff  float64 `json:"low_cutoff"`
	HighCutoff float64 `json:"high_cutoff"`
	HighPass   bool    `json:"high_pass"`
	LowPass    bool    `json:"low_pass"`
	SampleRate float64 `json:"sample_rate"`

	RawSeries        []float64 `json:"raw_series,omitempty"`
	FilteredSeries   []float64 `json:"filtered_series,omitempty"`
	RawSpectrum      []float64 `json:"raw_spectrum,omitempty"`
	FilteredSpectrum []float64 `json:"filtered_spectrum,omitempty"`
}

// Snapshot copies the current outputs. Series and spectra are included only
// when withSeries is set.
func (p *Pipeline) Snapshot(withSeries bool) Snapshot {
	est := p.estimator.Last()
	low, high := p.bandpass.Passband()

	s := Snapshot{
		Initialized:  p.Initialized(),
		Amplified:    p.CurrentAmplifiedSample(),
		Filtered:     p.lastFiltered,
		Alpha:        p.alpha,
		BPM:          p.estimator.BPM(),
		Ratio:        p.estimator.Ratio(),
		Quality:      est.Quality,
		QualityColor: est.Quality.Color(),
		PeakHz:       est.PeakHz,
		SignalPower:  est.SignalPower,
		LowCutoff:    low,
		HighCutoff:   high,
		HighPass:     p.bandpass.Enabled(filter.HighPass),
		LowPass:      p.bandpass.Enabled(filter.LowPass),
		SampleRate:   p.cfg.SampleRate,
	}
	if withSeries {
		s.RawSeries = p.TimeDomainSeries(Raw)
		s.FilteredSeries = p.TimeDomainSeries(Filtered)
		s.RawSpectrum = p.FrequencySpectrum(Raw)
		s.FilteredSpectrum = p.FrequencySpectrum(Filtered)
	}
	return s
}
