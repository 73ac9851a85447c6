package logging

import "go.uber.org/zap/zapcore"

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Encoding selects the log encoder, either "console" or "json".
	//
	// Empty means "console".
	Encoding string `yaml:"encoding"`
}
