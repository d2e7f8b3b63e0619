// Package server accepts pixelflut connections and runs one session per
// connection.
//
// Sessions share nothing but the canvas. They are never cancelled: a
// session ends when its peer closes the connection or the transport fails,
// and process exit ends the rest.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pixelflut/internal/canvas"
	"pixelflut/internal/stats"
)

const tracerName = "pixelflut/server"

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address.
	Address string

	// BufferSize is the receive buffer per connection.
	BufferSize int

	// Stats receives per connection counters. If nil, a collector on a
	// private registry is used.
	Stats *stats.Collector

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Server is the pixelflut TCP listener.
type Server struct {
	canvas     *canvas.Canvas
	address    string
	bufferSize int
	stats      *stats.Collector
	logger     *slog.Logger
	tracer     trace.Tracer

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New creates a Server drawing to c.
func New(c *canvas.Canvas, cfg Config) *Server {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 256 * 1024
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New(stats.WithRegistry(prometheus.NewRegistry()))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return &Server{
		canvas:     c,
		address:    cfg.Address,
		bufferSize: cfg.BufferSize,
		stats:      cfg.Stats,
		logger:     cfg.Logger.With("component", "server"),
		tracer:     cfg.Tracer,
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Close is
// called. Every accepted connection gets its own goroutine; there is no
// limit on the number of connections.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	s.logger.Info("started pixelflut server",
		"address", ln.Addr().String(),
		"width", s.canvas.Width(),
		"height", s.canvas.Height(),
	)

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if isTemporary(err) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warn("accept failed, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			s.logger.Error("accept failed", "error", err)
			return fmt.Errorf("accept: %w", err)
		}
		tempDelay = 0

		go s.handle(ctx, conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections. Open sessions keep running.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()
	ip := remoteIP(conn.RemoteAddr())

	_, span := s.tracer.Start(ctx, "pixelflut.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("net.peer.ip", ip.String()),
		),
	)
	defer span.End()

	sc := s.stats.Open(ip)
	defer sc.Close()

	logger := s.logger.With("session", id, "ip", ip.String())
	logger.Debug("connection opened")

	sess := newSession(id, conn, s.canvas, sc, s.bufferSize)
	err := sess.run()

	span.SetAttributes(
		attribute.Int64("pixelflut.bytes_read", sess.bytesRead),
		attribute.Int64("pixelflut.pixels_set", sess.pixelsSet),
		attribute.Int64("pixelflut.pixels_read", sess.pixelsRead),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connection failed")
		logger.Debug("connection closed", "error", err)
		return
	}
	logger.Debug("connection closed")
}

// remoteIP returns the peer address with IPv4-mapped IPv6 addresses
// unmapped, so a client counts once whichever stack it came in on.
func remoteIP(addr net.Addr) netip.Addr {
	if addr == nil {
		return netip.Addr{}
	}
	if ta, ok := addr.(*net.TCPAddr); ok {
		return ta.AddrPort().Addr().Unmap()
	}
	if ap, err := netip.ParseAddrPort(addr.String()); err == nil {
		return ap.Addr().Unmap()
	}
	return netip.Addr{}
}

func isTemporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET)
}
