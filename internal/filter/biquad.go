/*
Package filter implements the second-order IIR sections that band-limit the
detrended pulse signal.

A Bandpass is a cascade of two Butterworth sections designed with the
bilinear transform: a high-pass at the low cutoff followed by a low-pass at
the high cutoff. Each section can be switched off independently; a disabled
section passes its input through untouched and holds its history at zero so
that no stale energy re-enters the signal when it is switched back on.

Real-Time Safety:
- Sections are plain value structs, no allocations while processing
- No locks; the owning pipeline is single-threaded
*/
package filter

import (
	"math"
	"math/cmplx"
)

// Coefficients holds the transfer function of one biquad section with a0
// normalized to 1:
//
//	y[n] = B0*x[n] + B1*x[n-1] + B2*x[n-2] - A1*y[n-1] - A2*y[n-2]
type Coefficients struct {
	B0, B1, B2 float64 // feedforward
	A1, A2     float64 // feedback
}

// HighPassCoefficients designs a second-order Butterworth high-pass at fc.
// The sample rate is clamped to at least 1 Hz.
func HighPassCoefficients(fc, fs float64) Coefficients {
	omega := math.Tan(math.Pi * fc / math.Max(1, fs))
	norm := 1 / (1 + math.Sqrt2*omega + omega*omega)

	b0 := norm
	return Coefficients{
		B0: b0,
		B1: -2 * b0,
		B2: b0,
		A1: 2 * (omega*omega - 1) * norm,
		A2: (1 - math.Sqrt2*omega + omega*omega) * norm,
	}
}

// LowPassCoefficients designs a second-order Butterworth low-pass at fc.
// The sample rate is clamped to at least 1 Hz.
func LowPassCoefficients(fc, fs float64) Coefficients {
	omega := math.Tan(math.Pi * fc / math.Max(1, fs))
	norm := 1 / (1 + math.Sqrt2*omega + omega*omega)

	b0 := omega * omega * norm
	return Coefficients{
		B0: b0,
		B1: 2 * b0,
		B2: b0,
		A1: 2 * (omega*omega - 1) * norm,
		A2: (1 - math.Sqrt2*omega + omega*omega) * norm,
	}
}

// Response returns the complex frequency response H(e^jw) at freqHz.
func (c Coefficients) Response(freqHz, sampleRate float64) complex128 {
	w := 2 * math.Pi * freqHz / sampleRate
	z1 := cmplx.Exp(complex(0, -w))
	z2 := cmplx.Exp(complex(0, -2*w))

	num := complex(c.B0, 0) + complex(c.B1, 0)*z1 + complex(c.B2, 0)*z2
	den := 1 + complex(c.A1, 0)*z1 + complex(c.A2, 0)*z2
	return num / den
}

// Stable reports whether both poles lie strictly inside the unit circle
// (the stability triangle of a second-order denominator).
func (c Coefficients) Stable() bool {
	return math.Abs(c.A2) < 1 && math.Abs(c.A1) < 1+c.A2
}

// Section is one biquad with its persisted Direct Form I history.
type Section struct {
	Coefficients
	Enabled bool

	x1, x2 float64 // input history
	y1, y2 float64 // output history
}

// Process filters one sample. A disabled section zeroes its history on every
// call and returns x unchanged.
func (s *Section) Process(x float64) float64 {
	if !s.Enabled {
		s.x1, s.x2, s.y1, s.y2 = 0, 0, 0, 0
		return x
	}

	y := s.B0*x + s.B1*s.x1 + s.B2*s.x2 - s.A1*s.y1 - s.A2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}

// Reset clears the history without touching the coefficients.
func (s *Section) Reset() {
	s.x1, s.x2, s.y1, s.y2 = 0, 0, 0, 0
}

// State returns the history taps as [x1, x2, y1, y2].
func (s *Section) State() [4]float64 {
	return [4]float64{s.x1, s.x2, s.y1, s.y2}
}
