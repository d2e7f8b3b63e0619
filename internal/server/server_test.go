package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelflut/internal/canvas"
)

func startServer(t *testing.T, c *canvas.Canvas) (*Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := New(c, Config{BufferSize: 4096})

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, ln.Addr().String()
}

type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(t *testing.T, s string) {
	t.Helper()
	_, err := c.conn.Write([]byte(s))
	require.NoError(t, err)
}

func (c *client) line(t *testing.T) string {
	t.Helper()
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestServerSize(t *testing.T) {
	_, addr := startServer(t, canvas.New(1920, 1080))

	cl := dial(t, addr)
	cl.send(t, "SIZE\n")
	assert.Equal(t, "SIZE 1920 1080\n", cl.line(t))
}

func TestServerNoiseAndRoundTrip(t *testing.T) {
	_, addr := startServer(t, canvas.New(1920, 1080))

	cl := dial(t, addr)
	cl.send(t, "garbage\nPX 9999 0 abcdef\nPX 9999 0\nPX 7 8 C0FFEE\nPX 7 8\n")
	assert.Equal(t, "PX 7 8 c0ffee\n", cl.line(t))
}

func TestServerFragmentedWrites(t *testing.T) {
	_, addr := startServer(t, canvas.New(100, 100))

	cl := dial(t, addr)
	for _, part := range []string{"PX 4", "2 4", "2 1234", "56\nPX 42 ", "42\n"} {
		cl.send(t, part)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, "PX 42 42 123456\n", cl.line(t))
}

func TestServerConcurrentDisjointWrites(t *testing.T) {
	const n = 50
	c := canvas.New(n, n)
	_, addr := startServer(t, c)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(10 * time.Second))

			color := fmt.Sprintf("%06x", i*1000)
			fmt.Fprintf(conn, "PX %d %d %s\nPX %d %d\n", i, i, color, i, i)
			line, err := bufio.NewReader(conn).ReadString('\n')
			if assert.NoError(t, err) {
				assert.Equal(t, fmt.Sprintf("PX %d %d %s\n", i, i, color), line)
			}
		}(i)
	}
	wg.Wait()

	cl := dial(t, addr)
	for i := 0; i < n; i++ {
		cl.send(t, fmt.Sprintf("PX %d %d\n", i, i))
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("PX %d %d %06x\n", i, i, i*1000), cl.line(t))
	}
}

func TestServerSessionsAreIndependent(t *testing.T) {
	_, addr := startServer(t, canvas.New(100, 100))

	a := dial(t, addr)
	b := dial(t, addr)

	a.send(t, "OFFSET 50 50\nPX 0 0 ffffff\nSIZE\n")
	assert.Equal(t, "SIZE 100 100\n", a.line(t))

	// b has no offset and sees the pixel at its absolute position.
	b.send(t, "PX 50 50\nPX 0 0\n")
	assert.Equal(t, "PX 50 50 ffffff\n", b.line(t))
	assert.Equal(t, "PX 0 0 000000\n", b.line(t))
}

func TestServerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := New(canvas.New(1, 1), Config{})

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServerClose(t *testing.T) {
	srv := New(canvas.New(1, 1), Config{})
	require.NoError(t, srv.Close())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Serve(context.Background(), ln), ErrServerClosed)
}

func TestListenAndServeBadAddress(t *testing.T) {
	srv := New(canvas.New(1, 1), Config{Address: "256.0.0.1:-1"})
	assert.Error(t, srv.ListenAndServe(context.Background()))
}

func TestRemoteIP(t *testing.T) {
	mapped := &net.TCPAddr{IP: net.ParseIP("::ffff:192.0.2.1"), Port: 1234}
	assert.Equal(t, "192.0.2.1", remoteIP(mapped).String())

	v6 := &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 1234}
	assert.Equal(t, "2001:db8::1", remoteIP(v6).String())

	assert.False(t, remoteIP(nil).IsValid())
}
