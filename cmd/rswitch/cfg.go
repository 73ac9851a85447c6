package main

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/rp4-platform/rswitch/common/logging"
	"github.com/rp4-platform/rswitch/dataplane"
)

// Config is the daemon configuration.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Dataplane describes the pipeline geometry.
	Dataplane *dataplane.Config `yaml:"dataplane"`
	// Replay optionally feeds a pcap file through the pipeline.
	Replay ReplayConfig `yaml:"replay"`
}

// ReplayConfig describes the pcap replay harness.
type ReplayConfig struct {
	// InputPath is the pcap file to read frames from. Empty disables
	// replay.
	InputPath string `yaml:"input_path"`
	// OutputPath is the pcap file for surviving frames. Empty discards
	// them after processing.
	OutputPath string `yaml:"output_path"`
	// IngressIf is the ingress interface id assigned to every frame.
	IngressIf int32 `yaml:"ingress_if"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level: zapcore.InfoLevel,
		},
		Dataplane: dataplane.DefaultConfig(),
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}
