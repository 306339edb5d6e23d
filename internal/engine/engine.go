/*
Package engine drives the pulse pipeline from a render clock.

Each tick reads one sample from the source, feeds it through the pipeline,
re-estimates the heart rate and publishes a Frame. Recording, sonification,
beat detection and band powers hang off the same tick.

Thread Safety:
  - Tick and Run must be called from a single goroutine
  - Controls, Latest and the SpectrumProvider methods may be called concurrently
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pulse/internal/analysis"
	applog "pulse/internal/log"
	"pulse/internal/pipeline"
	"pulse/internal/record"
	"pulse/internal/source"
	"pulse/internal/transport"

	"github.com/google/uuid"
)

// Config holds the host-side settings.
type Config struct {
	RenderRate    float64 // ticks per second
	SeriesEvery   int     // include series and spectra in every n-th frame, 0 never
	BeatThreshold float64 // amplified units
	MaxBPM        float64 // bounds the beat refractory period
}

func DefaultConfig() Config {
	return Config{
		RenderRate:    60,
		SeriesEvery:   4,
		BeatThreshold: 1,
		MaxBPM:        200,
	}
}

func (c Config) Validate() error {
	if !(c.RenderRate > 0) {
		return fmt.Errorf("render rate must be positive, got %g", c.RenderRate)
	}
	if c.SeriesEvery < 0 {
		return fmt.Errorf("series interval must not be negative, got %d", c.SeriesEvery)
	}
	return nil
}

// Frame is what the engine publishes after every tick.
type Frame struct {
	Session uuid.UUID            `json:"session"`
	Seq     uint64               `json:"seq"`
	Time    time.Time            `json:"time"`
	FPS     int                  `json:"fps"`
	Beat    bool                 `json:"beat"`
	Bands   []analysis.BandPower `json:"bands,omitempty"`
	Tone    bool                 `json:"tone"`
	Rec     bool                 `json:"recording"`
	pipeline.Snapshot
}

// Tone is the sonification output driven by the filtered signal.
type Tone interface {
	Update(filtered, alpha float64)
	SetEnabled(on bool)
	Enabled() bool
	Close() error
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithTransport publishes every frame to t.
func WithTransport(t transport.Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithRecorder records the amplified uniform signal.
func WithRecorder(r *record.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTone sonifies the filtered signal.
func WithTone(t Tone) Option {
	return func(e *Engine) { e.tone = t }
}

// WithSession overrides the random session identifier.
func WithSession(id uuid.UUID) Option {
	return func(e *Engine) { e.session = id }
}

type Engine struct {
	cfg     Config
	session uuid.UUID
	src     source.Source

	transport transport.Transport
	recorder  *record.Recorder
	tone      Tone

	mu     sync.Mutex // guards everything below
	pipe   *pipeline.Pipeline
	beats  *analysis.BeatDetector
	latest Frame
	seq    uint64
	fps    FPSCounter
	origin time.Time

	// Tick scratch.
	series    []float64
	amplified []float64

	bands    *analysis.BandPowerProcessor
	recError bool
}

// New wires a pipeline to a source. The engine takes ownership of src and of
// every collaborator passed as an Option.
func New(cfg Config, pipe *pipeline.Pipeline, src source.Source, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if pipe == nil || src == nil {
		return nil, errors.New("engine requires a pipeline and a source")
	}

	pcfg := pipe.Config()
	e := &Engine{
		cfg:       cfg,
		session:   uuid.New(),
		src:       src,
		pipe:      pipe,
		beats:     analysis.NewBeatDetector(cfg.BeatThreshold, cfg.MaxBPM, pcfg.SampleRate),
		series:    make([]float64, pcfg.BufferSize),
		amplified: make([]float64, 0, pcfg.BufferSize),
	}
	for _, opt := range opts {
		opt(e)
	}

	bands, err := analysis.NewBandPowerProcessor(e, analysis.DefaultBands())
	if err != nil {
		return nil, err
	}
	e.bands = bands

	e.latest = Frame{Session: e.session, Snapshot: pipe.Snapshot(false)}
	applog.Infof("Engine: session %s, rendering at %.0f Hz", e.session, cfg.RenderRate)
	return e, nil
}

// Session returns the identifier stamped on every frame.
func (e *Engine) Session() uuid.UUID {
	return e.session
}

// Run ticks at the render rate until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / e.cfg.RenderRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	applog.Debugf("Engine: tick interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			value, ok := e.src.Sample(now)
			e.Tick(now, value, ok)
		}
	}
}

// Tick runs one render frame and returns the published frame.
func (e *Engine) Tick(now time.Time, value float64, ok bool) Frame {
	e.mu.Lock()
	if e.origin.IsZero() {
		e.origin = now
	}
	nowMs := float64(now.Sub(e.origin)) / float64(time.Millisecond)

	n := e.pipe.OnTick(nowMs, value, ok)
	e.pipe.Analyze()

	alpha := e.pipe.Alpha()
	beat := false
	e.amplified = e.amplified[:0]
	if n > 0 {
		// The last n filtered samples are the ones this tick produced.
		size := e.pipe.SeriesInto(pipeline.Filtered, e.series)
		for _, f := range e.series[size-min(n, size) : size] {
			a := f * alpha
			e.amplified = append(e.amplified, a)
			if e.beats.Process(a) {
				beat = true
			}
		}
	}

	e.seq++
	withSeries := e.cfg.SeriesEvery > 0 && e.seq%uint64(e.cfg.SeriesEvery) == 0
	frame := Frame{
		Session:  e.session,
		Seq:      e.seq,
		Time:     now,
		FPS:      e.fps.Tick(now),
		Beat:     beat,
		Snapshot: e.pipe.Snapshot(withSeries),
	}
	filtered := e.pipe.CurrentFilteredSample()
	e.mu.Unlock()

	if e.recorder != nil {
		if err := e.recorder.Write(e.amplified); err != nil && !e.recError {
			e.recError = true
			applog.Errorf("Engine: recording failed: %v", err)
		}
		frame.Rec = e.recorder.Recording()
	}
	if e.tone != nil {
		e.tone.Update(filtered, alpha)
		frame.Tone = e.tone.Enabled()
	}
	if withSeries {
		if powers, err := e.bands.Process(); err == nil {
			frame.Bands = append([]analysis.BandPower(nil), powers...)
		}
	}

	e.mu.Lock()
	e.latest = frame
	e.mu.Unlock()

	if e.transport != nil {
		if err := e.transport.Send(frame); err != nil {
			applog.Debugf("Engine: publish frame %d: %v", frame.Seq, err)
		}
	}
	return frame
}

// Latest returns the most recent frame.
func (e *Engine) Latest() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// MagnitudesInto copies the latest filtered spectrum.
func (e *Engine) MagnitudesInto(dst []float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	want := e.pipe.Config().BufferSize / 2
	if len(dst) < want {
		return fmt.Errorf("destination holds %d bins, need %d", len(dst), want)
	}
	e.pipe.SpectrumInto(pipeline.Filtered, dst)
	return nil
}

// BinFrequency returns the centre frequency of a spectrum bin.
func (e *Engine) BinFrequency(bin int) float64 {
	cfg := e.Config()
	return float64(bin) * cfg.SampleRate / float64(cfg.BufferSize)
}

func (e *Engine) Size() int {
	return e.Config().BufferSize
}

func (e *Engine) SampleRate() float64 {
	return e.Config().SampleRate
}

// Estimate returns the latest heart-rate estimate.
func (e *Engine) Estimate() analysis.Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	est := e.pipe.Estimate()
	est.BPM = e.pipe.HeartRate()
	est.Ratio = e.pipe.QualityRatio()
	return est
}

// Config returns the pipeline configuration including runtime changes.
func (e *Engine) Config() pipeline.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pipe.Config()
}

// Close releases the source and every collaborator.
func (e *Engine) Close() error {
	var errs []error
	if e.recorder != nil {
		errs = append(errs, e.recorder.Stop())
	}
	if e.tone != nil {
		errs = append(errs, e.tone.Close())
	}
	if e.transport != nil {
		errs = append(errs, e.transport.Close())
	}
	errs = append(errs, e.src.Close())
	applog.Infof("Engine: closed after %d frames", e.Latest().Seq)
	return errors.Join(errs...)
}

var _ analysis.SpectrumProvider = (*Engine)(nil)
