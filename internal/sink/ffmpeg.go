// Package sink streams the canvas to an RTMP endpoint through ffmpeg.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"pixelflut/internal/canvas"
	"pixelflut/internal/stats"
)

// Config configures an FFmpeg sink.
type Config struct {
	// Address is the RTMP URL, e.g. rtmp://127.0.0.1:1935/live/test.
	Address string

	// FPS is the frame rate written to ffmpeg. Default: 30.
	FPS int

	// Binary is the ffmpeg executable. Default: "ffmpeg".
	Binary string

	// Stats counts written frames. Optional.
	Stats *stats.Collector

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// FFmpeg feeds raw canvas frames to an ffmpeg process.
type FFmpeg struct {
	canvas *canvas.Canvas
	cfg    Config
	logger *slog.Logger
}

// NewFFmpeg creates a sink for c.
func NewFFmpeg(c *canvas.Canvas, cfg Config) *FFmpeg {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FFmpeg{
		canvas: c,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "ffmpeg"),
	}
}

// Args returns the ffmpeg command line: raw rgb0 video on stdin plus a
// silent audio track, encoded to H.264/AAC in an FLV container.
func (f *FFmpeg) Args() []string {
	fps := strconv.Itoa(f.cfg.FPS)
	return []string{
		// Video input
		"-f", "rawvideo",
		"-pixel_format", "rgb0",
		"-video_size", fmt.Sprintf("%dx%d", f.canvas.Width(), f.canvas.Height()),
		"-framerate", fps,
		"-i", "-",
		// Audio input
		"-f", "lavfi",
		"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		// Output
		"-vcodec", "libx264",
		"-acodec", "aac",
		"-pix_fmt", "yuv420p",
		"-x264-params", "keyint=48:min-keyint=48:scenecut=-1",
		"-preset", "fast",
		"-crf", "28",
		"-r", fps,
		"-g", "60",
		"-ar", "44100",
		"-b:v", "4500k",
		"-b:a", "128k",
		"-threads", "8",
		"-f", "flv",
		f.cfg.Address,
	}
}

// Run starts ffmpeg and writes one frame per tick until ctx is cancelled
// or ffmpeg stops reading.
func (f *FFmpeg) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, f.cfg.Binary, f.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	f.logger.Debug("starting ffmpeg", "args", cmd.Args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	f.logger.Info("streaming canvas", "address", f.cfg.Address, "fps", f.cfg.FPS)

	err = f.feed(ctx, stdin)
	stdin.Close()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return fmt.Errorf("ffmpeg exited: %w", waitErr)
}

// feed writes the raw canvas to w at the configured rate.
func (f *FFmpeg) feed(ctx context.Context, w io.Writer) error {
	ticker := time.NewTicker(time.Second / time.Duration(f.cfg.FPS))
	defer ticker.Stop()

	for ctx.Err() == nil {
		if _, err := w.Write(f.canvas.Bytes()); err != nil {
			if errors.Is(err, io.ErrClosedPipe) && ctx.Err() != nil {
				return nil
			}
			return err
		}
		if f.cfg.Stats != nil {
			f.cfg.Stats.FrameRendered(stats.SinkRTMP)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
