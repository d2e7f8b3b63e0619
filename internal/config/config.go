// Package config holds the startup configuration of the server.
package config

import (
	"errors"
	"fmt"
	"time"

	"pixelflut/internal/protocol"
)

var (
	ErrInvalidSize    = errors.New("canvas width and height must be positive")
	ErrNoListen       = errors.New("listen address must not be empty")
	ErrInvalidBuffer  = errors.New("buffer size too small")
	ErrInvalidFPS     = errors.New("fps must be positive")
	ErrInvalidTiming  = errors.New("stats interval must be positive")
	ErrInvalidLogging = errors.New("unknown log setting")
)

// Config is filled once from the command line before the listener starts.
type Config struct {
	// Width and Height of the canvas in pixels.
	// Default: 1920x1080.
	Width  int
	Height int

	// ListenAddress is the TCP address for pixelflut clients.
	// Default: "[::]:1234".
	ListenAddress string

	// WebAddress serves the live view, PNG snapshots and /metrics.
	// Empty disables it. Default: ":8080".
	WebAddress string

	// BufferSize is the receive buffer per connection, lookahead margin
	// included. Default: 256 KiB.
	BufferSize int

	// StatsInterval is how often rates are computed and published.
	// Default: 1 second.
	StatsInterval time.Duration

	// WebFPS is the frame rate of the WebSocket live view.
	// Default: 5.
	WebFPS int

	// RTMPAddress enables the ffmpeg sink when set, e.g.
	// "rtmp://127.0.0.1:1935/live/test".
	RTMPAddress string

	// RTMPFPS is the frame rate fed to ffmpeg.
	// Default: 30.
	RTMPFPS int

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string

	// LogFormat is text or json. Default: text.
	LogFormat string
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Width:         1920,
		Height:        1080,
		ListenAddress: "[::]:1234",
		WebAddress:    ":8080",
		BufferSize:    256 * 1024,
		StatsInterval: time.Second,
		WebFPS:        5,
		RTMPFPS:       30,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// MinBufferSize is the smallest usable receive buffer: room for one
// carried over partial command, one fresh read and the lookahead margin.
const MinBufferSize = 3 * protocol.Lookahead

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("%w: got %dx%d", ErrInvalidSize, c.Width, c.Height))
	}
	if c.ListenAddress == "" {
		errs = append(errs, ErrNoListen)
	}
	if c.BufferSize < MinBufferSize {
		errs = append(errs, fmt.Errorf("%w: %d < %d", ErrInvalidBuffer, c.BufferSize, MinBufferSize))
	}
	if c.StatsInterval <= 0 {
		errs = append(errs, ErrInvalidTiming)
	}
	if c.WebAddress != "" && c.WebFPS <= 0 {
		errs = append(errs, fmt.Errorf("%w: web fps %d", ErrInvalidFPS, c.WebFPS))
	}
	if c.RTMPAddress != "" && c.RTMPFPS <= 0 {
		errs = append(errs, fmt.Errorf("%w: rtmp fps %d", ErrInvalidFPS, c.RTMPFPS))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: level %q", ErrInvalidLogging, c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: format %q", ErrInvalidLogging, c.LogFormat))
	}
	return errors.Join(errs...)
}
