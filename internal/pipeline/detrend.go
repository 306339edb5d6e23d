package pipeline

// Detrender subtracts the mean of the last N uniform samples from each new
// one. The first sample after a reset fills the whole window so the mean is
// not dragged towards zero while the window warms up.
type Detrender struct {
	window *Ring
	seeded bool
}

// NewDetrender returns a detrender over a window of n samples.
func NewDetrender(n int) *Detrender {
	return &Detrender{window: NewRing(n)}
}

// Apply pushes x into the window and returns x minus the window mean.
func (d *Detrender) Apply(x float64) float64 {
	if !d.seeded {
		d.window.Fill(x)
		d.seeded = true
	} else {
		d.window.Push(x)
	}
	return x - d.window.Mean()
}

// Seeded reports whether a sample has been applied since the last reset.
func (d *Detrender) Seeded() bool {
	return d.seeded
}

// Window exposes the uniform (pre-detrend) samples.
func (d *Detrender) Window() *Ring {
	return d.window
}

// Reset zero-fills the window and waits for a new seed.
func (d *Detrender) Reset() {
	d.window.Reset()
	d.seeded = false
}
