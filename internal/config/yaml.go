package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	applog "pulse/internal/log"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations (DefaultFile). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{DefaultFile}
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, ".config", "pulse", DefaultFile))
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applog.Debugf("Config: loaded %s", path)
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides replaces values with ENV_* variables. Unparseable values
// are ignored with a warning.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	envBool("ENV_DEBUG", &cfg.Debug)
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		applog.Infof("Config: overriding log_level from env: %s", val)
	}

	// ENV_{LOW,HIGH}_CUTOFF
	envFloat("ENV_LOW_CUTOFF", &cfg.Pipeline.LowCutoff)
	envFloat("ENV_HIGH_CUTOFF", &cfg.Pipeline.HighCutoff)

	// ENV_UDP_ENABLED
	envBool("ENV_UDP_ENABLED", &cfg.Transport.UDPEnabled)
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		applog.Infof("Config: overriding transport.udp_target_address from env: %s", val)
	}

	// ENV_NATS_URL applies to both the source and the publisher.
	if val, ok := os.LookupEnv("ENV_NATS_URL"); ok {
		cfg.Source.NATSURL = val
		cfg.Transport.NATSURL = val
		applog.Infof("Config: overriding nats_url from env: %s", val)
	}
}

func envBool(name string, dst *bool) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		applog.Warnf("Config: ignoring %s=%q: %v", name, val, err)
		return
	}
	*dst = b
	applog.Infof("Config: overriding from env: %s=%v", name, b)
}

func envFloat(name string, dst *float64) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		applog.Warnf("Config: ignoring %s=%q: %v", name, val, err)
		return
	}
	*dst = f
	applog.Infof("Config: overriding from env: %s=%g", name, f)
}
