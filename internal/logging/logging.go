// Package logging configures the process wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/packetcap/go-pcapfwd/internal/config"
)

// Setup apply cfg to the standard logger. Logs always go to stderr, and to a
// rotated file when cfg.File is set. The returned closer releases that file.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	return apply(log.StandardLogger(), cfg, os.Stderr)
}

func apply(logger *log.Logger, cfg config.LogConfig, stderr io.Writer) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	var formatter log.Formatter
	switch strings.ToLower(cfg.Format) {
	case "json":
		formatter = &log.JSONFormatter{}
	case "text", "":
		formatter = &log.TextFormatter{
			FullTimestamp:    true,
			QuoteEmptyFields: true,
		}
	default:
		return nil, errors.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	out := stderr
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(stderr, file)
		closer = file
	}

	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.SetOutput(out)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
