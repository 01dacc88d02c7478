// Package logging builds the logrus logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Config selects level, format and destination.
type Config struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
	// File appends logs to a file instead of stderr when set.
	File string `mapstructure:"file" yaml:"file"`
}

// DefaultConfig logs warnings and above as text.
func DefaultConfig() Config {
	return Config{Level: "warn", Format: "text"}
}

// Validate checks the level and format names.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	switch c.Format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("logging format %q (want text or json)", c.Format)
}

// New returns a logger writing to stderr, or to cfg.File when set. The
// returned closer releases the file and is never nil.
func New(cfg Config, stderr io.Writer) (*logrus.Logger, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, _ := logrus.ParseLevel(cfg.Level)

	logger := logrus.New()
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: cfg.File == "", FullTimestamp: true})
	}

	if cfg.File == "" {
		logger.SetOutput(stderr)
		return logger, io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, f, nil
}
