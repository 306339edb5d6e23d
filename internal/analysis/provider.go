package analysis

// SpectrumProvider exposes the latest magnitude spectrum to consumers that run
// outside the tick loop (publishers, band power, the terminal monitor).
// Implementations must be safe for concurrent use.
type SpectrumProvider interface {
	MagnitudesInto(dst []float64) error // copies the latest N/2 magnitudes into dst
	BinFrequency(bin int) float64       // centre frequency of bin in Hz
	Size() int                          // transform length N
	SampleRate() float64
}
