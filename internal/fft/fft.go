package fft

import (
	"errors"
	"fmt"
	"math"

	"pulse/pkg/bitint"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/dsp/window"
)

// ErrSize reports a transform length that is not a power of two.
var ErrSize = errors.New("fft size must be a power of 2")

// Spectrum is the result of one analysis pass. The slices alias the
// analyzer's workspace and are overwritten by the next call to Analyze.
type Spectrum struct {
	Re, Im     []float64 // full complex spectrum, N values
	Magnitude  []float64 // |X[k]| for the N/2 usable bins
	SampleRate float64
}

// Bins returns the number of usable (below Nyquist) bins.
func (s Spectrum) Bins() int {
	return len(s.Magnitude)
}

// Resolution returns the bin spacing in Hz.
func (s Spectrum) Resolution() float64 {
	if len(s.Re) == 0 {
		return 0
	}
	return s.SampleRate / float64(len(s.Re))
}

// workspace holds pre-allocated buffers for the transform.
type workspace struct {
	re        []float64 // ...for windowed input, then real output
	im        []float64 // ...for imaginary output
	magnitude []float64 // ...for N/2 magnitudes
	window    []float64 // ...for Hann coefficients
}

// Analyzer windows a block of N samples and runs an in-place radix-2 FFT.
// It is not safe for concurrent use; each pipeline owns its analyzers.
type Analyzer struct {
	size       int
	sampleRate float64

	rev  []int     // bit-reversed index for each input position
	twRe []float64 // cos(2πk/N), k < N/2
	twIm []float64 // -sin(2πk/N), k < N/2

	workspace workspace
}

// NewAnalyzer pre-allocates all buffers and pre-computes the Hann window,
// the bit-reversal permutation and the twiddle factors for size.
func NewAnalyzer(size int, sampleRate float64) (*Analyzer, error) {
	if !bitint.IsPowerOfTwo(size) || size < 2 {
		return nil, fmt.Errorf("%w, got %d", ErrSize, size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	coeffs := make([]float64, size)
	for i := range coeffs {
		coeffs[i] = 1
	}
	window.Hann(coeffs)

	twRe, twIm := twiddles(size)
	return &Analyzer{
		size:       size,
		sampleRate: sampleRate,
		rev:        permutation(size),
		twRe:       twRe,
		twIm:       twIm,
		workspace: workspace{
			re:        make([]float64, size),
			im:        make([]float64, size),
			magnitude: make([]float64, size/2),
			window:    coeffs,
		},
	}, nil
}

// Analyze applies the Hann window to buffer, transforms it and computes the
// magnitudes of the first N/2 bins. Buffers shorter than N are zero-padded;
// extra samples are ignored.
func (a *Analyzer) Analyze(buffer []float64) Spectrum {
	ws := &a.workspace

	n := copy(ws.re, buffer)
	clear(ws.re[n:])
	clear(ws.im)
	vecmath.MulBlockInPlace(ws.re, ws.window)

	radix2(ws.re, ws.im, a.rev, a.twRe, a.twIm)

	half := a.size / 2
	vecmath.Magnitude(ws.magnitude, ws.re[:half], ws.im[:half])

	return Spectrum{
		Re:         ws.re,
		Im:         ws.im,
		Magnitude:  ws.magnitude,
		SampleRate: a.sampleRate,
	}
}

// Window returns the Hann coefficients used by Analyze.
func (a *Analyzer) Window() []float64 {
	return a.workspace.window
}

// Size returns the transform length N.
func (a *Analyzer) Size() int {
	return a.size
}

// SampleRate returns the rate used to label bins.
func (a *Analyzer) SampleRate() float64 {
	return a.sampleRate
}

// BinFrequency returns the frequency in Hz of bin i, or 0 outside [0, N/2).
func (a *Analyzer) BinFrequency(i int) float64 {
	if i < 0 || i >= a.size/2 {
		return 0
	}
	return float64(i) * a.sampleRate / float64(a.size)
}

// Transform computes the forward DFT of (re, im) in place. Both slices
// must have the same power-of-two length. It allocates its tables on every
// call; use an Analyzer on hot paths.
func Transform(re, im []float64) error {
	n := len(re)
	if len(im) != n {
		return fmt.Errorf("fft: real and imaginary parts differ in length (%d != %d)", n, len(im))
	}
	if !bitint.IsPowerOfTwo(n) {
		return fmt.Errorf("%w, got %d", ErrSize, n)
	}
	if n == 1 {
		return nil
	}

	twRe, twIm := twiddles(n)
	radix2(re, im, permutation(n), twRe, twIm)
	return nil
}

func permutation(n int) []int {
	width := bitint.Log2(n)
	rev := make([]int, n)
	for i := range rev {
		rev[i] = bitint.ReverseBits(i, width)
	}
	return rev
}

func twiddles(n int) (re, im []float64) {
	re = make([]float64, n/2)
	im = make([]float64, n/2)
	for k := range re {
		s, c := math.Sincos(2 * math.Pi * float64(k) / float64(n))
		re[k], im[k] = c, -s
	}
	return re, im
}

// radix2 is the iterative Cooley-Tukey butterfly: a bit-reversal
// permutation followed by log2(N) stages. The twiddle for index k of a
// stage of width size is e^{-2πik/size} = tw[k*N/size].
func radix2(re, im []float64, rev []int, twRe, twIm []float64) {
	n := len(re)
	for i, j := range rev {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		stride := n / size
		for start := 0; start < n; start += size {
			for k := range half {
				wr, wi := twRe[k*stride], twIm[k*stride]
				e, o := start+k, start+k+half

				tr := wr*re[o] - wi*im[o]
				ti := wr*im[o] + wi*re[o]

				re[o], im[o] = re[e]-tr, im[e]-ti
				re[e] += tr
				im[e] += ti
			}
		}
	}
}
