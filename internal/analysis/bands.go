package analysis

import (
	"errors"
	"fmt"
	"math"
)

// Band is a named frequency range of the pulse spectrum.
type Band struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// DefaultBands splits the 30 Hz spectrum into the ranges that matter for a
// camera pulse signal: breathing, the cardiac band and motion/lighting noise.
func DefaultBands() []Band {
	return []Band{
		{Name: "respiration", LowHz: 0.1, HighHz: 0.5},
		{Name: "cardiac", LowHz: 0.7, HighHz: 3.0},
		{Name: "motion", LowHz: 3.0, HighHz: 15.0},
	}
}

// BandPower is the mean power of one band for one frame.
type BandPower struct {
	Name  string  `json:"name"`
	Power float64 `json:"power"`
	Bins  int     `json:"bins"`
}

// BandPowerProcessor averages |X[k]|² over each band of a SpectrumProvider.
type BandPowerProcessor struct {
	provider SpectrumProvider
	bands    []Band

	magnitudes []float64
	result     []BandPower
}

// NewBandPowerProcessor validates bands and pre-allocates the frame buffers.
func NewBandPowerProcessor(provider SpectrumProvider, bands []Band) (*BandPowerProcessor, error) {
	if provider == nil {
		return nil, errors.New("band power processor requires a spectrum provider")
	}
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	for _, b := range bands {
		if b.LowHz < 0 || b.HighHz <= b.LowHz {
			return nil, fmt.Errorf("band %q: invalid range %.2f-%.2f Hz", b.Name, b.LowHz, b.HighHz)
		}
	}

	result := make([]BandPower, len(bands))
	for i, b := range bands {
		result[i].Name = b.Name
	}
	return &BandPowerProcessor{
		provider:   provider,
		bands:      bands,
		magnitudes: make([]float64, provider.Size()/2),
		result:     result,
	}, nil
}

// Process computes the band powers of the provider's latest spectrum. The
// returned slice is reused by the next call.
func (p *BandPowerProcessor) Process() ([]BandPower, error) {
	if err := p.provider.MagnitudesInto(p.magnitudes); err != nil {
		return nil, fmt.Errorf("band power: %w", err)
	}

	for i := range p.result {
		p.result[i].Power = 0
		p.result[i].Bins = 0
	}

	for k, m := range p.magnitudes {
		freq := p.provider.BinFrequency(k)
		for i, b := range p.bands {
			if freq >= b.LowHz && freq < b.HighHz {
				p.result[i].Power += m * m
				p.result[i].Bins++
				break
			}
		}
	}

	for i := range p.result {
		if p.result[i].Bins > 0 {
			p.result[i].Power /= float64(p.result[i].Bins)
		}
	}
	return p.result, nil
}

// Dominance returns the share of the named band in the total power, or NaN
// when the name is unknown or the spectrum is silent.
func Dominance(powers []BandPower, name string) float64 {
	var total, own float64
	found := false
	for _, bp := range powers {
		total += bp.Power
		if bp.Name == name {
			own, found = bp.Power, true
		}
	}
	if !found || total == 0 {
		return math.NaN()
	}
	return own / total
}
