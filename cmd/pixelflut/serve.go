package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pixelflut/internal/canvas"
	"pixelflut/internal/config"
	"pixelflut/internal/server"
	"pixelflut/internal/sink"
	"pixelflut/internal/stats"
	"pixelflut/internal/web"
)

func serveCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pixelflut server",
		Long: `Start the pixelflut server.

Examples:
  pixelflut serve
  pixelflut serve --width 1280 --height 720 -l [::]:1337
  pixelflut serve --rtmp rtmp://127.0.0.1:1935/live/test`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat))
		},
	}

	bindFlags(cmd, cfg)
	return cmd
}

func bindFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.IntVar(&cfg.Width, "width", cfg.Width, "Canvas width in pixels")
	f.IntVar(&cfg.Height, "height", cfg.Height, "Canvas height in pixels")
	f.StringVarP(&cfg.ListenAddress, "listen", "l", cfg.ListenAddress, "Pixelflut TCP listen address")
	f.StringVar(&cfg.WebAddress, "web", cfg.WebAddress, "Live view and metrics address, empty to disable")
	f.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Receive buffer per connection in bytes")
	f.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "Statistics interval")
	f.IntVar(&cfg.WebFPS, "web-fps", cfg.WebFPS, "Live view frame rate")
	f.StringVar(&cfg.RTMPAddress, "rtmp", cfg.RTMPAddress, "Stream the canvas to this RTMP address")
	f.IntVar(&cfg.RTMPFPS, "rtmp-fps", cfg.RTMPFPS, "RTMP frame rate")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// runServe starts every component and blocks until ctx is cancelled or
// one of them fails.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.SetDefault(logger)

	c := canvas.New(cfg.Width, cfg.Height)
	collector := stats.New(stats.WithRegistry(prometheus.DefaultRegisterer))
	reporter := stats.NewReporter(collector, cfg.StatsInterval, logger)

	g, ctx := errgroup.WithContext(ctx)

	srv := server.New(c, server.Config{
		Address:    cfg.ListenAddress,
		BufferSize: cfg.BufferSize,
		Stats:      collector,
		Logger:     logger,
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	g.Go(func() error {
		return reporter.Run(ctx)
	})

	if cfg.WebAddress != "" {
		ws := web.New(c, web.Config{
			Address:  cfg.WebAddress,
			FPS:      cfg.WebFPS,
			Gatherer: prometheus.DefaultGatherer,
			Stats:    collector,
			Reporter: reporter,
			Logger:   logger,
		})
		g.Go(func() error {
			return ws.Run(ctx)
		})
	}

	if cfg.RTMPAddress != "" {
		ff := sink.NewFFmpeg(c, sink.Config{
			Address: cfg.RTMPAddress,
			FPS:     cfg.RTMPFPS,
			Stats:   collector,
			Logger:  logger,
		})
		g.Go(func() error {
			return ff.Run(ctx)
		})
	}

	err := g.Wait()
	logger.Info("shut down", "error", err)
	return err
}
