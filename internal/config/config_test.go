package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1920, cfg.Width)
	assert.Equal(t, 1080, cfg.Height)
	assert.Equal(t, "[::]:1234", cfg.ListenAddress)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"zero width", func(c *Config) { c.Width = 0 }, ErrInvalidSize},
		{"negative height", func(c *Config) { c.Height = -1 }, ErrInvalidSize},
		{"no listen address", func(c *Config) { c.ListenAddress = "" }, ErrNoListen},
		{"tiny buffer", func(c *Config) { c.BufferSize = MinBufferSize - 1 }, ErrInvalidBuffer},
		{"zero stats interval", func(c *Config) { c.StatsInterval = 0 }, ErrInvalidTiming},
		{"web fps", func(c *Config) { c.WebFPS = 0 }, ErrInvalidFPS},
		{"rtmp fps", func(c *Config) { c.RTMPAddress = "rtmp://x"; c.RTMPFPS = 0 }, ErrInvalidFPS},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, ErrInvalidLogging},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, ErrInvalidLogging},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidateIgnoresDisabledCollaborators(t *testing.T) {
	cfg := Default()
	cfg.WebAddress = ""
	cfg.WebFPS = 0
	cfg.RTMPFPS = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Width = 0
	cfg.ListenAddress = ""
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.ErrorIs(t, err, ErrNoListen)
}
