package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pulse/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsDefaults(t *testing.T) {
	opts, err := ParseArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, opts.Command)
	assert.True(t, opts.TUIMode)
	assert.Empty(t, opts.OutputFile)
	assert.Equal(t, pipeline.DefaultConfig(), opts.Config.PipelineConfig())
}

func TestParseArgsOverrides(t *testing.T) {
	opts, err := ParseArgs([]string{
		"--source", "sensor", "--low", "0.8", "--high", "2.5", "--low-pass",
		"--alpha", "50", "--render-rate", "30", "--udp", "127.0.0.1:9999",
		"--sonify", "-d", "3", "--headless", "-r",
	})
	require.NoError(t, err)

	cfg := opts.Config
	assert.False(t, opts.TUIMode)
	assert.Equal(t, "sensor", cfg.Source.Kind)
	assert.Equal(t, 30.0, cfg.Source.RenderRate)
	assert.Equal(t, 0.8, cfg.Pipeline.LowCutoff)
	assert.Equal(t, 2.5, cfg.Pipeline.HighCutoff)
	assert.True(t, cfg.Pipeline.LowPass)
	assert.True(t, cfg.Pipeline.HighPass)
	assert.Equal(t, 50.0, cfg.Pipeline.Alpha)
	assert.True(t, cfg.Transport.UDPEnabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Transport.UDPTargetAddress)
	assert.True(t, cfg.Sonify.Enabled)
	assert.Equal(t, 3, cfg.Sonify.OutputDevice)

	assert.True(t, cfg.Recording.Enabled)
	assert.True(t, strings.HasPrefix(filepath.Base(opts.OutputFile), "pulse-"))
	assert.Equal(t, ".wav", filepath.Ext(opts.OutputFile))
}

func TestParseArgsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  low_cutoff: 1.0\n  alpha: 20\n"), 0644))

	opts, err := ParseArgs([]string{"--config", path, "--alpha", "40"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, opts.Config.Pipeline.LowCutoff, "file value kept")
	assert.Equal(t, 40.0, opts.Config.Pipeline.Alpha, "flag wins over file")
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		desc string
		args []string
	}{
		{"Inverted passband", []string{"--low", "2", "--high", "1"}},
		{"Unknown source", []string{"--source", "webcam"}},
		{"Unknown flag", []string{"--colour"}},
		{"Missing config", []string{"--config", "/nonexistent/pulse.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestParseArgsCommands(t *testing.T) {
	opts, err := ParseArgs([]string{"list", "-i"})
	require.NoError(t, err)
	assert.Equal(t, CommandList, opts.Command)
	assert.True(t, opts.Interactive)
	require.NotNil(t, opts.Config)

	opts, err = ParseArgs([]string{"version"})
	require.NoError(t, err)
	assert.Equal(t, CommandVersion, opts.Command)
}
