// Package record writes the amplified uniform signal to a mono WAV file so a
// session can be replayed or inspected in an audio editor.
package record

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	applog "pulse/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	BitDepth     = 16
	maxAmplitude = 1<<(BitDepth-1) - 1
	blockSize    = 64
)

var ErrRecording = errors.New("already recording")

// Recorder encodes samples in [-scale, scale] as 16-bit PCM at the pipeline
// sample rate. Write is safe to call from the tick loop while Start and Stop
// run on another goroutine.
type Recorder struct {
	sampleRate int
	scale      float64

	isRecording atomic.Bool
	mu          sync.Mutex
	path        string
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer
	written     int
}

// New returns a stopped recorder. scale is the amplitude that maps to full
// scale; values beyond it clip.
func New(sampleRate int, scale float64) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid recording sample rate: %d", sampleRate)
	}
	if !(scale > 0) {
		return nil, fmt.Errorf("invalid recording scale: %g", scale)
	}
	return &Recorder{sampleRate: sampleRate, scale: scale}, nil
}

// Start creates filename and begins encoding.
func (r *Recorder) Start(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() {
		return ErrRecording
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	r.path = filename
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, BitDepth, 1, 1)
	r.sampleBuf = &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: r.sampleRate},
		Data:           make([]int, 0, blockSize),
		SourceBitDepth: BitDepth,
	}
	r.written = 0
	r.isRecording.Store(true)

	applog.Infof("Recorder: writing %s (%d Hz, %d-bit)", filename, r.sampleRate, BitDepth)
	return nil
}

// Write appends samples. It is a no-op while stopped.
func (r *Recorder) Write(samples []float64) error {
	if !r.isRecording.Load() || len(samples) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return nil
	}

	for len(samples) > 0 {
		n := min(len(samples), blockSize)
		r.sampleBuf.Data = r.sampleBuf.Data[:n]
		for i, x := range samples[:n] {
			r.sampleBuf.Data[i] = Quantize(x, r.scale)
		}
		if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
			return fmt.Errorf("failed to write WAV samples: %w", err)
		}
		r.written += n
		samples = samples[n:]
	}
	return nil
}

// Quantize maps x in [-scale, scale] to a 16-bit sample, clipping outside.
func Quantize(x, scale float64) int {
	v := math.Round(x / scale * maxAmplitude)
	return int(max(-maxAmplitude, min(maxAmplitude, v)))
}

// Stop finalises the WAV header and closes the file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRecording.Load() {
		return nil
	}
	r.isRecording.Store(false)

	var err error
	if r.wavEncoder != nil {
		err = r.wavEncoder.Close()
		r.wavEncoder = nil
	}
	if r.outputFile != nil {
		if cerr := r.outputFile.Close(); err == nil {
			err = cerr
		}
		r.outputFile = nil
	}
	if err != nil {
		return fmt.Errorf("failed to finalise recording: %w", err)
	}

	applog.Infof("Recorder: wrote %d samples to %s", r.written, r.path)
	return nil
}

// Recording reports whether a file is open.
func (r *Recorder) Recording() bool {
	return r.isRecording.Load()
}

// Written returns the number of samples in the current or last recording.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

func (r *Recorder) Close() error {
	return r.Stop()
}
