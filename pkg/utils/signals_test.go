package utils

import (
	"errors"
	"math"
	"os"
	"testing"
)

const (
	testSize       = 256
	testSampleRate = 30.0
	testFrequency  = 1.2 // 72 BPM
)

var testMagnitudes []float64

func TestMain(m *testing.M) {
	testMagnitudes = make([]float64, testSize/2)

	// Creates a "hill" with peak at position 10.
	for i := range testMagnitudes {
		testMagnitudes[i] = math.Exp(-0.1 * math.Pow(float64(i-10), 2))
	}

	os.Exit(m.Run())
}

func TestMockTransport(t *testing.T) {
	mt := &MockTransport{}
	for _, msg := range []any{"a", 2, map[string]float64{"bpm": 72}} {
		if err := mt.Send(msg); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if mt.Count() != 3 {
		t.Errorf("Count() = %d, want 3", mt.Count())
	}
	if m, ok := mt.Last().(map[string]float64); !ok || m["bpm"] != 72 {
		t.Errorf("Last() = %v", mt.Last())
	}

	mt.Err = errors.New("down")
	if err := mt.Send("x"); err == nil || mt.Count() != 3 {
		t.Error("Send should fail without recording when Err is set")
	}

	if err := mt.Close(); err != nil || !mt.Closed {
		t.Error("Close did not mark the transport closed")
	}
	if (&MockTransport{}).Last() != nil {
		t.Error("empty transport should return nil")
	}
}

func TestUniformTicks(t *testing.T) {
	ticks := UniformTicks(90, testSampleRate, 500, Pulse(testFrequency, 0.05, 0.5))
	if len(ticks) != 90 {
		t.Fatalf("got %d ticks, want 90", len(ticks))
	}
	for i, tk := range ticks {
		want := 500 + float64(i)*(1000/testSampleRate)
		if math.Abs(tk.NowMs-want) > 1e-9 || !tk.OK {
			t.Fatalf("tick %d at %v, want %v", i, tk.NowMs, want)
		}
		if tk.Value < 0.45-1e-12 || tk.Value > 0.55+1e-12 {
			t.Fatalf("tick %d value %v outside 0.5±0.05", i, tk.Value)
		}
	}
}

func TestJitteredTicks(t *testing.T) {
	a := JitteredTicks(200, testSampleRate, 0.3, 7, Pulse(1, 1, 0))
	b := JitteredTicks(200, testSampleRate, 0.3, 7, Pulse(1, 1, 0))

	period := 1000 / testSampleRate
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d differs between runs with the same seed", i)
		}
		if i == 0 {
			continue
		}
		dt := a[i].NowMs - a[i-1].NowMs
		if dt < 0.7*period-1e-9 || dt > 1.3*period+1e-9 {
			t.Fatalf("interval %v outside ±30%% of %v", dt, period)
		}
	}
}

func TestGenerateSineWave(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
		frequency  float64
	}{
		{"Resting", 256, 30, 1.2},
		{"Exercise", 256, 30, 2.5},
		{"Slow", 512, 30, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateSineWave(tt.size, tt.sampleRate, tt.frequency, 1)

			if len(result) != tt.size {
				t.Errorf("GenerateSineWave() buffer size = %d, want %d", len(result), tt.size)
			}

			crossCount := 0
			for i := 1; i < tt.size; i++ {
				if (result[i-1] < 0 && result[i] >= 0) || (result[i-1] >= 0 && result[i] < 0) {
					crossCount++
				}
			}

			// Two crossings per cycle, with 20% margin for phase alignment.
			expected := 2 * float64(tt.size) * tt.frequency / tt.sampleRate
			if math.Abs(float64(crossCount)-expected) > 0.2*expected {
				t.Errorf("zero crossings = %d, expected approximately %.1f", crossCount, expected)
			}
		})
	}
}

func TestGenerateNoisyPulse(t *testing.T) {
	clean := GenerateSineWave(testSize, testSampleRate, testFrequency, 0.05)
	noisy := GenerateNoisyPulse(testSize, testSampleRate, testFrequency, 0.05, 0.01, 1)

	for i := range clean {
		if d := math.Abs(noisy[i] - clean[i]); d > 0.005 {
			t.Fatalf("sample %d deviates by %v, want <= 0.005", i, d)
		}
	}
}

func TestFindPeakBin(t *testing.T) {
	n := len(testMagnitudes)
	tests := []struct {
		name     string
		mags     []float64
		start    int
		end      int
		expected int
	}{
		{"Full Range", testMagnitudes, 0, n - 1, 10},
		{"Partial Range Start", testMagnitudes, 5, n - 1, 10},
		{"Partial Range End", testMagnitudes, 0, 8, 8},
		{"Negative Start", testMagnitudes, -10, n - 1, 10},
		{"Out of Range End", testMagnitudes, 0, n * 2, 10},
		{"Empty Slice", []float64{}, 0, 10, 0},
		{"Single Value", []float64{1.0}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := FindPeakBin(tt.mags, tt.start, tt.end); result != tt.expected {
				t.Errorf("FindPeakBin() = %d, want %d", result, tt.expected)
			}
		})
	}

	allocs := testing.AllocsPerRun(100, func() {
		FindPeakBin(testMagnitudes, 0, n-1)
	})
	if allocs > 0 {
		t.Errorf("FindPeakBin allocated memory: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkFindPeakBin(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		FindPeakBin(testMagnitudes, 0, len(testMagnitudes)-1)
	}
}
