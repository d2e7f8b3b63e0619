package server

import (
	"bufio"
	"errors"
	"io"
	"net"

	"pixelflut/internal/canvas"
	"pixelflut/internal/protocol"
	"pixelflut/internal/stats"
)

// writeBufferSize bounds how many reply bytes are collected before they are
// pushed to the socket in the middle of a scan.
const writeBufferSize = 64 * 1024

// session owns the receive buffer and offset of one connection.
//
// The buffer is split into a data region and a trailing margin of
// protocol.Lookahead bytes that reads never touch. Before each scan the
// margin is zeroed so the scanner can peek past the data without bounds
// checks and without finding stale commands there.
type session struct {
	id     string
	conn   io.ReadWriter
	canvas *canvas.Canvas
	stats  *stats.Conn
	buf    []byte
	w      *bufio.Writer
	offset protocol.Offset

	bytesRead  int64
	pixelsSet  int64
	pixelsRead int64
}

func newSession(id string, conn io.ReadWriter, c *canvas.Canvas, sc *stats.Conn, bufferSize int) *session {
	return &session{
		id:     id,
		conn:   conn,
		canvas: c,
		stats:  sc,
		buf:    make([]byte, bufferSize),
		w:      bufio.NewWriterSize(conn, writeBufferSize),
	}
}

// run loops read, scan, keep leftover until the peer closes the connection
// or a transport error occurs. An orderly close returns nil.
func (s *session) run() error {
	dataEnd := len(s.buf) - protocol.Lookahead
	leftover := 0

	for {
		n, err := s.conn.Read(s.buf[leftover:dataEnd])
		if err != nil && !errors.Is(err, io.EOF) {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.stats.ReadError()
			return &SessionError{SessionID: s.id, Op: "read", Err: err}
		}

		if n > 0 {
			s.stats.AddBytes(n)
			s.bytesRead += int64(n)

			var werr error
			leftover, werr = s.process(leftover + n)
			if werr != nil {
				s.stats.WriteError()
				return &SessionError{SessionID: s.id, Op: "write", Err: werr}
			}
		}

		if err != nil {
			// io.EOF. The leftover was already scanned against a zeroed
			// margin, no more data can complete it.
			return nil
		}
	}
}

// process scans buf[:filled], flushes replies, and moves the unconsumed
// tail to the front of the buffer. It returns the new leftover length.
func (s *session) process(filled int) (int, error) {
	margin := s.buf[filled : filled+protocol.Lookahead]
	clear(margin)

	res := protocol.Scan(s.buf[:filled+protocol.Lookahead], s.canvas, s.w, s.offset)
	s.offset = res.Offset
	s.pixelsSet += int64(res.PixelsSet)
	s.pixelsRead += int64(res.PixelsRead)
	s.stats.AddPixels(res.PixelsSet, res.PixelsRead)

	if s.w.Buffered() > 0 {
		if err := s.w.Flush(); err != nil {
			return 0, err
		}
	}

	// A valid command always fits the margin, so anything longer than
	// that can never complete and is dropped.
	leftover := filled - res.Consumed
	if leftover > protocol.Lookahead {
		leftover = protocol.Lookahead
	}
	copy(s.buf, s.buf[filled-leftover:filled])
	return leftover, nil
}
