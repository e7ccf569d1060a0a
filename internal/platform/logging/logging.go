// Package logging builds the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
)

type Options struct {
	Level   string
	Console bool
	// File enables a daily rotated JSON log next to stdout output.
	File string
}

// New returns the logger and a closer for the rotated file, if any.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	var out io.Writer = os.Stdout
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rl, err := newRotator(opts.File)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		out = zerolog.MultiLevelWriter(out, rl)
		closer = rl
	}

	logger := zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()
	return logger, closer, nil
}

func newRotator(path string) (*rotatelogs.RotateLogs, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	rl, err := rotatelogs.New(
		base+".%Y%m%d"+ext,
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return rl, nil
}

// ParseLevel falls back to info for unknown names.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
