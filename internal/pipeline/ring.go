package pipeline

import "gonum.org/v1/gonum/stat"

// Ring is a fixed-capacity FIFO window. It always holds exactly Len values;
// pushing drops the oldest. Index 0 is the oldest value.
type Ring struct {
	data []float64
	head int // position of the oldest value
}

// NewRing returns a zero-filled ring of capacity n.
func NewRing(n int) *Ring {
	return &Ring{data: make([]float64, n)}
}

// Len returns the capacity, which is also the number of values held.
func (r *Ring) Len() int {
	return len(r.data)
}

// Push appends x and drops the oldest value.
func (r *Ring) Push(x float64) {
	r.data[r.head] = x
	r.head++
	if r.head == len(r.data) {
		r.head = 0
	}
}

// Fill overwrites every slot with x.
func (r *Ring) Fill(x float64) {
	for i := range r.data {
		r.data[i] = x
	}
	r.head = 0
}

// Reset zero-fills the ring.
func (r *Ring) Reset() {
	clear(r.data)
	r.head = 0
}

// At returns the i-th oldest value.
func (r *Ring) At(i int) float64 {
	return r.data[(r.head+i)%len(r.data)]
}

// Last returns the newest value.
func (r *Ring) Last() float64 {
	return r.At(len(r.data) - 1)
}

// CopyTo writes the values oldest-first into dst and returns the count copied.
func (r *Ring) CopyTo(dst []float64) int {
	n := copy(dst, r.data[r.head:])
	n += copy(dst[n:], r.data[:r.head])
	return n
}

// Values returns an ordered copy of the window.
func (r *Ring) Values() []float64 {
	out := make([]float64, len(r.data))
	r.CopyTo(out)
	return out
}

// Mean returns the arithmetic mean of the window.
func (r *Ring) Mean() float64 {
	return stat.Mean(r.data, nil)
}
