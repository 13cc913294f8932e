// Package logging builds the logrus loggers used across lockberry.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

const timestampFormat = "2006-01-02T15:04:05.000000Z07:00"

// Config holds logger configuration
type Config struct {
	Level  string `yaml:"level" env:"LOCKBERRY_LOG_LEVEL"`
	Format string `yaml:"format" env:"LOCKBERRY_LOG_FORMAT"`
	// Output is "stdout", "stderr" or a file path
	Output string `yaml:"output" env:"LOCKBERRY_LOG_OUTPUT"`
}

// DefaultConfig returns info-level text logging to stderr
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatText,
		Output: "stderr",
	}
}

// ValidateBasic checks the level and format
func (c Config) ValidateBasic() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", FormatText, FormatJSON:
		return nil
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
}

// New builds a logger from cfg. The returned closer releases a log file.
func New(cfg Config) (*logrus.Logger, io.Closer, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, nil, err
	}
	level, _ := logrus.ParseLevel(cfg.Level)

	logger := logrus.New()
	logger.SetLevel(level)

	if strings.ToLower(cfg.Format) == FormatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	}

	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "", "stderr":
		logger.SetOutput(os.Stderr)
	case "stdout":
		logger.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		closer = f
	}

	return logger, closer, nil
}

// Discard returns a logger that writes nothing
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
