package utils

import (
	"math"
	"math/rand"
	"sync"
)

// MockTransport implements the Transport interface for testing. It records
// every message instead of transmitting it.
type MockTransport struct {
	mu       sync.Mutex
	Messages []any
	Closed   bool
	Err      error // returned by Send when set
}

// Send stores data for later inspection.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Count returns the number of messages received.
func (m *MockTransport) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// Last returns the most recent message, or nil.
func (m *MockTransport) Last() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return nil
	}
	return m.Messages[len(m.Messages)-1]
}

// Tick is one render frame: a wall-clock instant and an optional sample.
type Tick struct {
	NowMs float64
	Value float64
	OK    bool
}

// Signal maps a time in seconds to a sample value.
type Signal func(t float64) float64

// Pulse returns amplitude*sin(2π·hz·t) + offset.
func Pulse(hz, amplitude, offset float64) Signal {
	return func(t float64) float64 {
		return amplitude*math.Sin(2*math.Pi*hz*t) + offset
	}
}

// UniformTicks returns n ticks at exactly rate Hz starting at startMs. Tick
// times are startMs + i*1000/rate.
func UniformTicks(n int, rate, startMs float64, sig Signal) []Tick {
	step := 1000 / rate
	ticks := make([]Tick, n)
	for i := range ticks {
		now := startMs + float64(i)*step
		ticks[i] = Tick{NowMs: now, Value: sig(now / 1000), OK: true}
	}
	return ticks
}

// JitteredTicks returns n ticks around rate Hz whose intervals vary by up to
// ±jitter (fraction of the period), reproducibly for a given seed.
func JitteredTicks(n int, rate, jitter float64, seed int64, sig Signal) []Tick {
	rng := rand.New(rand.NewSource(seed))
	period := 1000 / rate
	ticks := make([]Tick, n)
	now := 1000.0
	for i := range ticks {
		ticks[i] = Tick{NowMs: now, Value: sig(now / 1000), OK: true}
		now += period * (1 + jitter*(2*rng.Float64()-1))
	}
	return ticks
}

// GenerateSineWave returns size samples of a sine at frequency Hz.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = amplitude * math.Sin(2*math.Pi*frequency*t)
	}
	return buffer
}

// GenerateNoisyPulse returns a pulse at hz plus uniform noise of ±noise/2.
func GenerateNoisyPulse(size int, sampleRate, hz, amplitude, noise float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	buffer := GenerateSineWave(size, sampleRate, hz, amplitude)
	for i := range buffer {
		buffer[i] += (rng.Float64() - 0.5) * noise
	}
	return buffer
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
