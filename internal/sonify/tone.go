// Package sonify turns the filtered pulse signal into an audible tone whose
// pitch rises and falls with each beat.
package sonify

import (
	"fmt"
	"math"
	"sync/atomic"

	applog "pulse/internal/log"

	"github.com/gordonklaus/portaudio"
)

const (
	BaseHz  = 200.0
	MinHz   = 50.0
	MaxHz   = 800.0
	OnGain  = 0.3
	hzPerAU = 2.0 // Hz per amplified unit

	// Gain and pitch follow their targets with this time constant.
	glideSeconds = 0.05
)

// ToneFrequency maps a filtered sample to a pitch in [MinHz, MaxHz].
func ToneFrequency(filtered, alpha float64) float64 {
	f := BaseHz + filtered*alpha*hzPerAU
	if math.IsNaN(f) {
		return BaseHz
	}
	return max(MinHz, min(MaxHz, f))
}

// Oscillator renders a phase-continuous sine whose frequency and gain glide
// towards their targets. It is not safe for concurrent use.
type Oscillator struct {
	sampleRate float64
	coeff      float64 // per-sample smoothing factor

	phase      float64
	freq, gain float64

	targetFreq, targetGain float64
}

func NewOscillator(sampleRate float64) *Oscillator {
	return &Oscillator{
		sampleRate: sampleRate,
		coeff:      1 - math.Exp(-1/(glideSeconds*sampleRate)),
		freq:       BaseHz,
		targetFreq: BaseHz,
	}
}

// SetTarget sets the frequency and gain the oscillator glides towards.
func (o *Oscillator) SetTarget(freq, gain float64) {
	o.targetFreq = freq
	o.targetGain = gain
}

// Gain returns the instantaneous gain.
func (o *Oscillator) Gain() float64 { return o.gain }

// Frequency returns the instantaneous frequency.
func (o *Oscillator) Frequency() float64 { return o.freq }

// Render fills out with the next len(out) samples.
func (o *Oscillator) Render(out []float32) {
	for i := range out {
		o.freq += (o.targetFreq - o.freq) * o.coeff
		o.gain += (o.targetGain - o.gain) * o.coeff

		out[i] = float32(math.Sin(o.phase) * o.gain)

		o.phase += 2 * math.Pi * o.freq / o.sampleRate
		if o.phase >= 2*math.Pi {
			o.phase -= 2 * math.Pi
		}
	}
}

// Tone plays an Oscillator on a PortAudio output stream. Update and
// SetEnabled may be called from any goroutine.
type Tone struct {
	stream  *portaudio.Stream
	osc     *Oscillator
	freq    atomic.Uint64 // math.Float64bits
	enabled atomic.Bool
}

// NewTone opens a mono output stream on deviceID. PortAudio must be
// initialized.
func NewTone(deviceID int, sampleRate float64, framesPerBuffer int) (*Tone, error) {
	device, err := OutputDevice(deviceID)
	if err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		sampleRate = device.DefaultSampleRate
	}

	t := &Tone{osc: NewOscillator(sampleRate)}
	t.freq.Store(math.Float64bits(BaseHz))

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, t.process)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream on %s: %w", device.Name, err)
	}
	t.stream = stream
	applog.Infof("Sonify: output on %s at %.0f Hz", device.Name, sampleRate)
	return t, nil
}

func (t *Tone) process(out []float32) {
	gain := 0.0
	if t.enabled.Load() {
		gain = OnGain
	}
	t.osc.SetTarget(math.Float64frombits(t.freq.Load()), gain)
	t.osc.Render(out)
}

// Update retunes the tone for the latest filtered sample.
func (t *Tone) Update(filtered, alpha float64) {
	t.freq.Store(math.Float64bits(ToneFrequency(filtered, alpha)))
}

// SetEnabled fades the tone in or out.
func (t *Tone) SetEnabled(on bool) {
	if t.enabled.Swap(on) == on {
		return
	}
	if on {
		applog.Infof("Sonify: tone on")
	} else {
		applog.Infof("Sonify: tone off")
	}
}

func (t *Tone) Enabled() bool {
	return t.enabled.Load()
}

func (t *Tone) Start() error {
	return t.stream.Start()
}

// Close stops and closes the stream.
func (t *Tone) Close() error {
	if t.stream == nil {
		return nil
	}
	if err := t.stream.Stop(); err != nil {
		return err
	}
	err := t.stream.Close()
	t.stream = nil
	return err
}
