package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"talkpaste/internal/config"
)

// Configure builds the root logger: a rotating file, optionally teed to
// stdout. The returned closer releases the log file.
func Configure(cfg config.LoggingConfig) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return zerolog.Nop(), nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     30,
	}

	var out io.Writer = rotator
	if cfg.Stdout {
		out = io.MultiWriter(os.Stdout, rotator)
	}
	return New(out, cfg.Level, cfg.Format), rotator, nil
}

// New returns a logger writing to out in the given format ("json" or
// console text) at the given level. Unknown levels fall back to info.
func New(out io.Writer, level string, format string) zerolog.Logger {
	if strings.ToLower(format) != "json" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.DateTime,
			NoColor:    true,
		}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Int("pid", os.Getpid()).Logger()
}
