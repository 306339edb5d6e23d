package config

import (
	"fmt"
	"image"
	"strings"
	"time"

	"pulse/internal/engine"
	"pulse/internal/pipeline"
	"pulse/internal/source"
)

// DefaultFile is the file LoadConfig looks for when no path is given.
const DefaultFile = "pulse.yaml"

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug mode (debug log level).
	LogLevel  string          `yaml:"log_level"` // Logging level ("debug", "info", "warn", "error").
	Pipeline  PipelineConfig  `yaml:"pipeline"`  // Signal chain settings.
	Source    SourceConfig    `yaml:"source"`    // Where samples come from and how often they are read.
	Recording RecordingConfig `yaml:"recording"` // WAV recording of the amplified signal.
	Sonify    SonifyConfig    `yaml:"sonify"`    // Tone output.
	Transport TransportConfig `yaml:"transport"` // Frame and spectrum publishing.
}

// PipelineConfig mirrors pipeline.Config.
type PipelineConfig struct {
	SampleRate        float64       `yaml:"sample_rate"`
	BufferSize        int           `yaml:"buffer_size"`
	LowCutoff         float64       `yaml:"low_cutoff"`
	HighCutoff        float64       `yaml:"high_cutoff"`
	HighPass          bool          `yaml:"high_pass"`
	LowPass           bool          `yaml:"low_pass"`
	StallReset        time.Duration `yaml:"stall_reset"`
	MinSignalPower    float64       `yaml:"min_signal_power"`
	Alpha             float64       `yaml:"alpha"`
	DropoutGraceTicks int           `yaml:"dropout_grace_ticks"`
}

// Region is a pixel rectangle in image coordinates.
type Region struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Rect converts the region; a zero region yields the empty rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// SourceConfig selects the sample source.
type SourceConfig struct {
	Kind          string  `yaml:"kind"`           // demo, sensor, nats or image.
	RenderRate    float64 `yaml:"render_rate"`    // Ticks per second.
	Seed          int64   `yaml:"seed"`           // Demo noise seed.
	SensorBus     string  `yaml:"sensor_bus"`     // I2C bus name, empty for the first bus.
	SensorAddress uint16  `yaml:"sensor_address"` // I2C address, 0 for 0x57.
	SensorChannel string  `yaml:"sensor_channel"` // "red" or "ir".
	NATSURL       string  `yaml:"nats_url"`
	NATSSubject   string  `yaml:"nats_subject"`
	ImageDir      string  `yaml:"image_dir"` // Directory of PNG/JPEG frames.
	Region        Region  `yaml:"region"`    // Manual ROI, empty for the default region.
}

// RecordingConfig holds settings related to recording.
type RecordingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	OutputDir string  `yaml:"output_dir"` // Directory to save recordings.
	Scale     float64 `yaml:"scale"`      // Amplified value that maps to full scale.
}

// SonifyConfig holds settings for the tone output.
type SonifyConfig struct {
	Enabled         bool    `yaml:"enabled"`
	OutputDevice    int     `yaml:"output_device"` // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
}

// TransportConfig holds settings related to sending frames over the network.
type TransportConfig struct {
	SeriesEvery int `yaml:"series_every"` // Attach series and spectra to every n-th frame.
	LogEvery    int `yaml:"log_every"`    // Log every n-th frame at info level, 0 disables the log transport.

	WebSocketEnabled  bool          `yaml:"websocket_enabled"`
	WebSocketAddress  string        `yaml:"websocket_address"`
	WebSocketPath     string        `yaml:"websocket_path"`
	WebSocketInterval time.Duration `yaml:"websocket_interval"` // Minimum time between broadcasts.

	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending spectra over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.

	NATSEnabled bool   `yaml:"nats_enabled"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := pipeline.DefaultConfig()
	e := engine.DefaultConfig()
	return Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			SampleRate:        p.SampleRate,
			BufferSize:        p.BufferSize,
			LowCutoff:         p.LowCutoff,
			HighCutoff:        p.HighCutoff,
			HighPass:          p.HighPass,
			LowPass:           p.LowPass,
			StallReset:        p.StallReset,
			MinSignalPower:    p.MinSignalPower,
			Alpha:             p.Alpha,
			DropoutGraceTicks: p.DropoutGraceTicks,
		},
		Source: SourceConfig{
			Kind:          string(source.KindDemo),
			RenderRate:    e.RenderRate,
			Seed:          1,
			SensorChannel: "ir",
			NATSURL:       "nats://127.0.0.1:4222",
			NATSSubject:   source.DefaultNATSSubject,
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
			Scale:     10,
		},
		Sonify: SonifyConfig{
			OutputDevice:    -1,
			SampleRate:      44100,
			FramesPerBuffer: 256,
		},
		Transport: TransportConfig{
			SeriesEvery:       e.SeriesEvery,
			LogEvery:          0,
			WebSocketAddress:  "127.0.0.1:8080",
			WebSocketPath:     "/pulse",
			WebSocketInterval: 33 * time.Millisecond,
			UDPTargetAddress:  "127.0.0.1:9090",
			UDPSendInterval:   33 * time.Millisecond, // ~30Hz.
			NATSURL:           "nats://127.0.0.1:4222",
			NATSSubject:       "pulse.frames",
		},
	}
}

// PipelineConfig converts the pipeline section.
func (c *Config) PipelineConfig() pipeline.Config {
	p := c.Pipeline
	return pipeline.Config{
		SampleRate:        p.SampleRate,
		BufferSize:        p.BufferSize,
		LowCutoff:         p.LowCutoff,
		HighCutoff:        p.HighCutoff,
		HighPass:          p.HighPass,
		LowPass:           p.LowPass,
		StallReset:        p.StallReset,
		MinSignalPower:    p.MinSignalPower,
		Alpha:             p.Alpha,
		DropoutGraceTicks: p.DropoutGraceTicks,
	}
}

// EngineConfig converts the render settings.
func (c *Config) EngineConfig() engine.Config {
	e := engine.DefaultConfig()
	e.RenderRate = c.Source.RenderRate
	e.SeriesEvery = c.Transport.SeriesEvery
	return e
}

// SourceOptions converts the source section.
func (c *Config) SourceOptions() (source.Options, error) {
	kind, err := source.ParseKind(c.Source.Kind)
	if err != nil {
		return source.Options{}, err
	}
	s := c.Source
	return source.Options{
		Kind:          kind,
		SensorBus:     s.SensorBus,
		SensorAddr:    s.SensorAddress,
		SensorChannel: s.SensorChannel,
		NATSURL:       s.NATSURL,
		NATSSubject:   s.NATSSubject,
		ImageDir:      s.ImageDir,
		ImageRegion:   s.Region.Rect(),
		Seed:          s.Seed,
	}, nil
}

// Validate checks every section. Pipeline errors wrap the pipeline sentinels.
func (c *Config) Validate() error {
	if err := c.PipelineConfig().Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if _, err := c.SourceOptions(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if c.Source.Kind == string(source.KindImage) && c.Source.ImageDir == "" {
		return fmt.Errorf("source.image_dir must be set for the image source")
	}

	if c.Recording.Enabled && !(c.Recording.Scale > 0) {
		return fmt.Errorf("recording.scale must be positive, got %g", c.Recording.Scale)
	}
	if c.Sonify.Enabled && (c.Sonify.SampleRate <= 0 || c.Sonify.FramesPerBuffer <= 0) {
		return fmt.Errorf("sonify.sample_rate and sonify.frames_per_buffer must be positive")
	}

	t := c.Transport
	if t.LogEvery < 0 {
		return fmt.Errorf("transport.log_every must not be negative")
	}
	if t.WebSocketEnabled && !strings.Contains(t.WebSocketAddress, ":") {
		return fmt.Errorf("transport.websocket_address '%s' appears invalid (missing port?)", t.WebSocketAddress)
	}
	if t.UDPEnabled {
		if t.UDPTargetAddress == "" {
			return fmt.Errorf("transport.udp_target_address must be set when UDP is enabled")
		}
		if !strings.Contains(t.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", t.UDPTargetAddress)
		}
		if t.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if t.NATSEnabled && (t.NATSURL == "" || t.NATSSubject == "") {
		return fmt.Errorf("transport.nats_url and transport.nats_subject must be set when NATS is enabled")
	}
	return nil
}
