package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WindowSize is the number of samples averaged for the per second rates.
const WindowSize = 5

// Information is what the Reporter publishes on every tick.
type Information struct {
	Totals

	BytesPerSecond  uint64    `json:"bytesPerSecond"`
	PixelsPerSecond uint64    `json:"pixelsPerSecond"`
	FPS             uint64    `json:"fps"`
	At              time.Time `json:"at"`
}

// Reporter periodically turns Collector totals into rates and hands them to
// subscribers.
type Reporter struct {
	collector *Collector
	interval  time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	subs   []func(Information)
	latest Information

	prev       Totals
	prevAt     time.Time
	bytesRate  movingAverage
	pixelsRate movingAverage
	framesRate movingAverage
}

// NewReporter creates a Reporter for c.
func NewReporter(c *Collector, interval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		collector: c,
		interval:  interval,
		logger:    logger.With("component", "stats"),
	}
}

// Subscribe registers fn to be called with every new Information. fn runs
// on the reporter goroutine and must not block.
func (r *Reporter) Subscribe(fn func(Information)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Latest returns the most recent Information.
func (r *Reporter) Latest() Information {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Run ticks until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.prevAt = time.Now()
	r.prev = r.collector.Totals()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			info := r.tick(now)
			r.logger.Debug("statistics",
				"connections", info.Connections,
				"ips", info.IPs,
				"bytes_per_second", info.BytesPerSecond,
				"pixels_per_second", info.PixelsPerSecond,
				"fps", info.FPS,
			)
		}
	}
}

// tick computes one Information from the totals at now and publishes it.
func (r *Reporter) tick(now time.Time) Information {
	t := r.collector.Totals()

	elapsedMs := uint64(now.Sub(r.prevAt).Milliseconds())
	if elapsedMs == 0 {
		elapsedMs = 1
	}
	pixels := t.PixelsSet + t.PixelsRead
	prevPixels := r.prev.PixelsSet + r.prev.PixelsRead

	r.bytesRate.add(delta(t.Bytes, r.prev.Bytes) * 1000 / elapsedMs)
	r.pixelsRate.add(delta(pixels, prevPixels) * 1000 / elapsedMs)
	r.framesRate.add(delta(t.Frames, r.prev.Frames) * 1000 / elapsedMs)
	r.prev = t
	r.prevAt = now

	info := Information{
		Totals:          t,
		BytesPerSecond:  r.bytesRate.average(),
		PixelsPerSecond: r.pixelsRate.average(),
		FPS:             r.framesRate.average(),
		At:              now,
	}

	r.mu.Lock()
	r.latest = info
	subs := r.subs
	r.mu.Unlock()

	for _, fn := range subs {
		fn(info)
	}
	return info
}

func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// movingAverage is a simple moving average over the last WindowSize samples.
type movingAverage struct {
	samples [WindowSize]uint64
	next    int
	count   int
	sum     uint64
}

func (m *movingAverage) add(v uint64) {
	m.sum -= m.samples[m.next]
	m.samples[m.next] = v
	m.sum += v
	m.next = (m.next + 1) % WindowSize
	if m.count < WindowSize {
		m.count++
	}
}

func (m *movingAverage) average() uint64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / uint64(m.count)
}
