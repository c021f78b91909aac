// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is parsed from LLMFILL_LOG_* variables.
type Config struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
	// Output is stderr, file or both.
	Output     string `env:"OUTPUT" envDefault:"stderr"`
	File       string `env:"FILE"`
	MaxSize    int    `env:"MAX_SIZE" envDefault:"20"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"3"`
	MaxAge     int    `env:"MAX_AGE" envDefault:"14"`
	Compress   bool   `env:"COMPRESS" envDefault:"true"`
}

// New returns a configured logger and a closer for its file writer. stderr
// receives console output when Output is stderr or both.
func New(cfg Config, stderr io.Writer) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	default:
		return nil, nil, fmt.Errorf("log format %q: must be text or json", cfg.Format)
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	output := strings.ToLower(strings.TrimSpace(cfg.Output))
	if output == "file" || output == "both" {
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output %q requires a log file", cfg.Output)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		fw := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fw)
		closer = fw
	}
	switch output {
	case "", "stderr", "both":
		writers = append(writers, stderr)
	case "file":
	default:
		return nil, nil, fmt.Errorf("log output %q: must be stderr, file or both", cfg.Output)
	}
	logger.SetOutput(io.MultiWriter(writers...))
	return logger, closer, nil
}

// Discard returns a logger that drops everything; used where no logger was
// injected.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
