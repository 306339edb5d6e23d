package filter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCutoff reports a passband that is empty, non-positive, or reaches Nyquist.
	ErrCutoff = errors.New("invalid cutoff frequency")
	// ErrSampleRate reports a non-positive sample rate.
	ErrSampleRate = errors.New("invalid sample rate")
)

// Stage selects one section of a Bandpass.
type Stage int

const (
	HighPass Stage = iota
	LowPass
)

// String returns the short name used in logs and the CLI.
func (s Stage) String() string {
	switch s {
	case HighPass:
		return "HP"
	case LowPass:
		return "LP"
	default:
		return "unknown"
	}
}

// ParseStage converts "hp"/"highpass"/"lp"/"lowpass" (case-insensitive).
func ParseStage(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hp", "highpass", "high-pass":
		return HighPass, nil
	case "lp", "lowpass", "low-pass":
		return LowPass, nil
	default:
		return HighPass, fmt.Errorf("unknown filter stage: '%s'", name)
	}
}

// Bandpass cascades a high-pass section into a low-pass section.
type Bandpass struct {
	hp, lp Section

	lowCut     float64
	highCut    float64
	sampleRate float64
}

// NewBandpass returns a bandpass with the given cutoffs and the high-pass
// section enabled and low-pass section disabled.
func NewBandpass(lowCut, highCut, sampleRate float64) (*Bandpass, error) {
	b := &Bandpass{}
	if err := b.UpdateCoefficients(lowCut, highCut, sampleRate); err != nil {
		return nil, err
	}
	b.hp.Enabled = true
	return b, nil
}

// ValidatePassband checks 0 < lowCut < highCut < sampleRate/2.
func ValidatePassband(lowCut, highCut, sampleRate float64) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: %g Hz", ErrSampleRate, sampleRate)
	}
	nyquist := sampleRate / 2
	if lowCut <= 0 {
		return fmt.Errorf("%w: low cutoff %g Hz must be positive", ErrCutoff, lowCut)
	}
	if highCut <= lowCut {
		return fmt.Errorf("%w: high cutoff %g Hz must exceed low cutoff %g Hz", ErrCutoff, highCut, lowCut)
	}
	if highCut >= nyquist {
		return fmt.Errorf("%w: high cutoff %g Hz must be below Nyquist %g Hz", ErrCutoff, highCut, nyquist)
	}
	return nil
}

// UpdateCoefficients redesigns both sections. History is left untouched;
// callers that change the passband mid-stream reset it themselves.
func (b *Bandpass) UpdateCoefficients(lowCut, highCut, sampleRate float64) error {
	if err := ValidatePassband(lowCut, highCut, sampleRate); err != nil {
		return err
	}

	b.hp.Coefficients = HighPassCoefficients(lowCut, sampleRate)
	b.lp.Coefficients = LowPassCoefficients(highCut, sampleRate)
	b.lowCut, b.highCut, b.sampleRate = lowCut, highCut, sampleRate
	return nil
}

// Process runs x through the high-pass section and then the low-pass section.
func (b *Bandpass) Process(x float64) float64 {
	return b.lp.Process(b.hp.Process(x))
}

// SetEnabled toggles one section. Disabling zeroes its history immediately.
func (b *Bandpass) SetEnabled(stage Stage, enabled bool) {
	s := b.Section(stage)
	s.Enabled = enabled
	if !enabled {
		s.Reset()
	}
}

// Enabled reports whether a section is active.
func (b *Bandpass) Enabled(stage Stage) bool {
	return b.Section(stage).Enabled
}

// Section exposes one section for inspection.
func (b *Bandpass) Section(stage Stage) *Section {
	if stage == LowPass {
		return &b.lp
	}
	return &b.hp
}

// Reset clears the history of both sections.
func (b *Bandpass) Reset() {
	b.hp.Reset()
	b.lp.Reset()
}

// Passband returns the configured cutoffs in Hz.
func (b *Bandpass) Passband() (lowCut, highCut float64) {
	return b.lowCut, b.highCut
}

// SampleRate returns the rate the coefficients were designed for.
func (b *Bandpass) SampleRate() float64 {
	return b.sampleRate
}

// Response returns the combined response of the enabled sections at freqHz.
func (b *Bandpass) Response(freqHz float64) complex128 {
	h := complex(1, 0)
	if b.hp.Enabled {
		h *= b.hp.Response(freqHz, b.sampleRate)
	}
	if b.lp.Enabled {
		h *= b.lp.Response(freqHz, b.sampleRate)
	}
	return h
}
