// Package web serves the canvas to browsers: a live view over WebSocket,
// PNG snapshots and the Prometheus endpoint.
package web

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixelflut/internal/canvas"
	"pixelflut/internal/stats"
)

//go:embed static/index.html
var indexHTML []byte

// Config configures the web server.
type Config struct {
	// Address is the HTTP listen address.
	Address string

	// FPS is the live view frame rate. Default: 5.
	FPS int

	// FrameWidth scales live view frames down to this width. Zero sends
	// full size frames.
	FrameWidth int

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Stats counts rendered frames. Optional.
	Stats *stats.Collector

	// Reporter feeds /stats and the stats messages. Optional.
	Reporter *stats.Reporter

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server renders the canvas for browsers.
type Server struct {
	canvas   *canvas.Canvas
	cfg      Config
	hub      *Hub
	engine   *gin.Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates the web server and its routes.
func New(c *canvas.Canvas, cfg Config) *Server {
	if cfg.FPS <= 0 {
		cfg.FPS = 5
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "web")

	s := &Server{
		canvas: c,
		cfg:    cfg,
		hub:    NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // The live view is public
			},
		},
		logger: logger,
	}

	if cfg.Reporter != nil {
		cfg.Reporter.Subscribe(func(info stats.Information) {
			s.hub.BroadcastJSON(Message{Type: TypeStats, Data: info})
		})
	}

	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	r.GET("/size", s.handleSize)
	r.GET("/stats", s.handleStats)
	r.GET("/canvas.png", s.handleSnapshot)
	r.GET("/ws", s.handleWebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the live view hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves HTTP and pushes frames until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.runFrames(ctx)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("started web server", "address", ln.Addr().String(), "fps", s.cfg.FPS)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// Hijacked WebSocket connections are not tracked by Shutdown.
			return srv.Close()
		}
		return nil
	}
}

// runFrames broadcasts a PNG frame to all viewers at the configured rate.
// No frame is encoded while nobody is watching.
func (s *Server) runFrames(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Len() == 0 {
				continue
			}
			s.broadcastFrame()
		}
	}
}

func (s *Server) broadcastFrame() {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, s.canvas, s.cfg.FrameWidth); err != nil {
		s.logger.Error("encode frame", "error", err)
		return
	}
	s.hub.Broadcast(websocket.BinaryMessage, buf.Bytes())
	if s.cfg.Stats != nil {
		s.cfg.Stats.FrameRendered(stats.SinkWeb)
	}
}

func (s *Server) size() SizeInfo {
	return SizeInfo{Width: s.canvas.Width(), Height: s.canvas.Height()}
}

func (s *Server) handleSize(c *gin.Context) {
	c.JSON(http.StatusOK, s.size())
}

func (s *Server) handleStats(c *gin.Context) {
	if s.cfg.Reporter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "statistics disabled"})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Reporter.Latest())
}

func (s *Server) handleSnapshot(c *gin.Context) {
	width := 0
	if q := c.Query("width"); q != "" {
		w, err := strconv.Atoi(q)
		if err != nil || w < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "width must be a positive integer"})
			return
		}
		width = min(w, s.canvas.Width())
	}

	var buf bytes.Buffer
	if err := EncodePNG(&buf, s.canvas, width); err != nil {
		s.logger.Error("encode snapshot", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	viewer := &Viewer{
		ID:   uuid.NewString(),
		Conn: conn,
		Hub:  s.hub,
		Send: make(chan outbound, 16),
	}

	// Say hello before the viewer starts receiving broadcasts
	hello := Message{Type: TypeHello, ViewerID: viewer.ID, Data: s.size()}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return
	}

	s.hub.AddViewer(viewer)
	s.logger.Debug("viewer joined", "viewer", viewer.ID, "remote", c.Request.RemoteAddr)

	// Start pumps
	go viewer.writePump()
	viewer.readPump()
}

// requestLogger logs every request at debug level.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
