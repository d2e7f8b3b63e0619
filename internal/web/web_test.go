package web

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelflut/internal/canvas"
	"pixelflut/internal/stats"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, c *canvas.Canvas) (*Server, *httptest.Server, *stats.Collector) {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector := stats.New(stats.WithRegistry(reg))
	s := New(c, Config{
		Gatherer: reg,
		Stats:    collector,
		Reporter: stats.NewReporter(collector, time.Second, nil),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, collector
}

func TestIndex(t *testing.T) {
	_, ts, _ := newTestServer(t, canvas.New(4, 4))

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "WebSocket")
}

func TestSize(t *testing.T) {
	_, ts, _ := newTestServer(t, canvas.New(640, 480))

	resp, err := http.Get(ts.URL + "/size")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got SizeInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, SizeInfo{Width: 640, Height: 480}, got)
}

func TestSnapshot(t *testing.T) {
	c := canvas.New(8, 4)
	c.Set(3, 2, canvas.FromHex(0xff8000))
	_, ts, _ := newTestServer(t, c)

	resp, err := http.Get(ts.URL + "/canvas.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	r, g, b, a := img.At(3, 2).RGBA()
	assert.Equal(t, []uint32{0xffff, 0x8080, 0, 0xffff}, []uint32{r, g, b, a})
}

func TestSnapshotScaled(t *testing.T) {
	_, ts, _ := newTestServer(t, canvas.New(100, 50))

	tests := []struct {
		query  string
		status int
		width  int
		height int
	}{
		{"?width=10", http.StatusOK, 10, 5},
		{"?width=500", http.StatusOK, 100, 50},
		{"?width=0", http.StatusBadRequest, 0, 0},
		{"?width=abc", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/canvas.png" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusOK {
				return
			}
			img, err := png.Decode(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.width, img.Bounds().Dx())
			assert.Equal(t, tt.height, img.Bounds().Dy())
		})
	}
}

func TestMetricsAndStats(t *testing.T) {
	_, ts, collector := newTestServer(t, canvas.New(4, 4))
	collector.FrameRendered(stats.SinkRTMP)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `pixelflut_frames_total{sink="rtmp"} 1`)

	resp, err = http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsDisabled(t *testing.T) {
	s := New(canvas.New(1, 1), Config{Gatherer: prometheus.NewRegistry()})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func dialViewer(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestLiveView(t *testing.T) {
	c := canvas.New(6, 3)
	c.Set(5, 2, canvas.FromHex(0x00ff00))
	s, ts, collector := newTestServer(t, c)

	conn := dialViewer(t, ts)

	var hello struct {
		Type     string   `json:"type"`
		ViewerID string   `json:"viewerId"`
		Data     SizeInfo `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, TypeHello, hello.Type)
	assert.NotEmpty(t, hello.ViewerID)
	assert.Equal(t, SizeInfo{Width: 6, Height: 3}, hello.Data)

	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)

	s.broadcastFrame()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	_, g, _, _ := img.At(5, 2).RGBA()
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint64(1), collector.Totals().Frames)

	s.hub.BroadcastJSON(Message{Type: TypeStats, Data: map[string]int{"connections": 3}})
	kind, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"type":"stats","data":{"connections":3}}`, string(data))

	conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubDropsForSlowViewer(t *testing.T) {
	h := NewHub(slog.Default())
	v := &Viewer{ID: "slow", Hub: h, Send: make(chan outbound, 1)}
	h.AddViewer(v)

	h.Broadcast(websocket.TextMessage, []byte("a"))
	h.Broadcast(websocket.TextMessage, []byte("b"))

	require.Len(t, v.Send, 1)
	assert.Equal(t, []byte("a"), (<-v.Send).data)

	v.closed = true
	assert.False(t, v.enqueue(outbound{kind: websocket.TextMessage}))

	h.RemoveViewer(v)
	assert.Equal(t, 0, h.Len())
}

func TestEncodePNGKeepsSizeForBadWidth(t *testing.T) {
	c := canvas.New(10, 2)
	for _, w := range []int{0, -3, 10, 11} {
		var buf bytes.Buffer
		require.NoError(t, EncodePNG(&buf, c, w))
		img, err := png.Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, 10, img.Bounds().Dx(), "width %d", w)
	}

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, c, 1))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dy(), "height is at least one pixel")
}
