// Package stats counts what the server does and exports it to Prometheus.
//
// Sessions get a *Conn handle from Collector.Open. The handle caches the
// per IP series, so counting on the read path is a couple of atomic adds.
// A Reporter turns the running totals into per second rates.
package stats

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink names used with FrameRendered.
const (
	SinkWeb  = "web"
	SinkRTMP = "rtmp"
)

// Options configures the Prometheus collectors.
type Options struct {
	// Namespace is the metrics namespace (default: "pixelflut").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Options)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(o *Options) {
		o.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registry = registry
	}
}

// Collector aggregates connection, traffic and frame statistics.
type Collector struct {
	connections      prometheus.Gauge
	ips              prometheus.Gauge
	connectionsPerIP *prometheus.GaugeVec
	bytesRead        *prometheus.CounterVec
	pixels           *prometheus.CounterVec
	frames           *prometheus.CounterVec
	readErrors       prometheus.Counter
	writeErrors      prometheus.Counter

	pixelsSetTotal  prometheus.Counter
	pixelsReadTotal prometheus.Counter

	// Running totals for the Reporter.
	bytes      atomic.Uint64
	pixelsSet  atomic.Uint64
	pixelsRead atomic.Uint64
	frameCount atomic.Uint64

	mu         sync.Mutex
	connsPerIP map[netip.Addr]int
}

// New creates a Collector and registers its metrics.
func New(opts ...Option) *Collector {
	o := Options{
		Namespace: "pixelflut",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	factory := promauto.With(o.Registry)

	c := &Collector{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: o.Namespace,
			Name:      "connections",
			Help:      "Number of open pixelflut connections",
		}),
		ips: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: o.Namespace,
			Name:      "ips",
			Help:      "Number of distinct client IPs with an open connection",
		}),
		connectionsPerIP: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: o.Namespace,
			Name:      "connections_per_ip",
			Help:      "Open connections by client IP",
		}, []string{"ip"}),
		bytesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.Namespace,
			Name:      "bytes_read_total",
			Help:      "Bytes received by client IP",
		}, []string{"ip"}),
		pixels: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.Namespace,
			Name:      "pixels_total",
			Help:      "PX commands executed by operation",
		}, []string{"op"}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.Namespace,
			Name:      "frames_total",
			Help:      "Frames handed to a sink",
		}, []string{"sink"}),
		readErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: o.Namespace,
			Name:      "read_errors_total",
			Help:      "Connections closed by a read error",
		}),
		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: o.Namespace,
			Name:      "write_errors_total",
			Help:      "Connections closed by a write error",
		}),
		connsPerIP: make(map[netip.Addr]int),
	}
	c.pixelsSetTotal = c.pixels.WithLabelValues("set")
	c.pixelsReadTotal = c.pixels.WithLabelValues("get")
	return c
}

// Open records a new connection from ip and returns its handle.
func (c *Collector) Open(ip netip.Addr) *Conn {
	ip = ip.Unmap()
	label := ip.String()

	c.mu.Lock()
	c.connsPerIP[ip]++
	c.ips.Set(float64(len(c.connsPerIP)))
	c.mu.Unlock()

	c.connections.Inc()
	c.connectionsPerIP.WithLabelValues(label).Inc()

	return &Conn{
		collector: c,
		ip:        ip,
		bytes:     c.bytesRead.WithLabelValues(label),
	}
}

func (c *Collector) close(ip netip.Addr) {
	c.connections.Dec()

	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.connsPerIP[ip] - 1
	if n <= 0 {
		delete(c.connsPerIP, ip)
		c.connectionsPerIP.DeleteLabelValues(ip.String())
	} else {
		c.connsPerIP[ip] = n
		c.connectionsPerIP.WithLabelValues(ip.String()).Dec()
	}
	c.ips.Set(float64(len(c.connsPerIP)))
}

// FrameRendered counts one frame delivered by the named sink.
func (c *Collector) FrameRendered(sink string) {
	c.frameCount.Add(1)
	c.frames.WithLabelValues(sink).Inc()
}

// Totals is a point in time copy of the running counters.
type Totals struct {
	Connections      int            `json:"connections"`
	IPs              int            `json:"ips"`
	LegacyIPs        int            `json:"legacyIps"`
	Bytes            uint64         `json:"bytes"`
	PixelsSet        uint64         `json:"pixelsSet"`
	PixelsRead       uint64         `json:"pixelsRead"`
	Frames           uint64         `json:"frames"`
	ConnectionsPerIP map[string]int `json:"connectionsPerIp"`
}

// Totals returns the current counters.
func (c *Collector) Totals() Totals {
	t := Totals{
		Bytes:            c.bytes.Load(),
		PixelsSet:        c.pixelsSet.Load(),
		PixelsRead:       c.pixelsRead.Load(),
		Frames:           c.frameCount.Load(),
		ConnectionsPerIP: make(map[string]int),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for ip, n := range c.connsPerIP {
		t.Connections += n
		t.ConnectionsPerIP[ip.String()] = n
		if ip.Is4() {
			t.LegacyIPs++
		}
	}
	t.IPs = len(c.connsPerIP)
	return t
}

// Conn counts the traffic of one connection.
type Conn struct {
	collector *Collector
	ip        netip.Addr
	bytes     prometheus.Counter
	closed    atomic.Bool
}

// IP returns the canonical client address.
func (c *Conn) IP() netip.Addr {
	return c.ip
}

// AddBytes records n received bytes.
func (c *Conn) AddBytes(n int) {
	if n <= 0 {
		return
	}
	c.bytes.Add(float64(n))
	c.collector.bytes.Add(uint64(n))
}

// AddPixels records executed PX writes and reads.
func (c *Conn) AddPixels(set, read int) {
	if set > 0 {
		c.collector.pixelsSetTotal.Add(float64(set))
		c.collector.pixelsSet.Add(uint64(set))
	}
	if read > 0 {
		c.collector.pixelsReadTotal.Add(float64(read))
		c.collector.pixelsRead.Add(uint64(read))
	}
}

// ReadError counts a connection ended by a failed read.
func (c *Conn) ReadError() {
	c.collector.readErrors.Inc()
}

// WriteError counts a connection ended by a failed write.
func (c *Conn) WriteError() {
	c.collector.writeErrors.Inc()
}

// Close records the end of the connection. Calling it twice is harmless.
func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.collector.close(c.ip)
}
