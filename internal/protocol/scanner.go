// Package protocol implements the pixelflut text protocol.
//
// Commands are recognized directly on the receive buffer without
// tokenizing. The scanner walks the buffer one position at a time and tries
// the keyword prefixes "PX ", "SIZE", "HELP" and "OFFSET " in that order.
// Bytes that start no command are skipped. A command that is cut off or
// malformed is abandoned and scanning resumes at the byte that broke it.
//
// Every call expects Lookahead zero bytes at the end of the buffer. Commands
// are only looked for before that margin, which lets the matcher peek ahead
// without checking the buffer length on every access.
package protocol

import (
	"io"
	"strconv"

	"pixelflut/internal/canvas"
)

// Lookahead is the length of the longest command. Callers reserve this many
// zeroed bytes after the data they pass in.
const Lookahead = len("PX 1234 1234 rrggbbaa\n")

// MaxDigits is the number of decimal digits read for a coordinate. Any
// further digit is not part of the number.
const MaxDigits = 4

// HelpText is sent in reply to HELP.
var HelpText = []byte(`Pixelflut server powered by breakwater https://github.com/sbernauer/breakwater
Available commands:
HELP: Show this help
PX x y rrggbb: Color the pixel (x,y) with the given hexadecimal color
PX x y rrggbbaa: Color the pixel (x,y) with the given hexadecimal color rrggbb (alpha channel is ignored for now)
PX x y: Get the color value of the pixel (x,y)
SIZE: Get the size of the drawing surface, e.g. ` + "`SIZE 1920 1080`" + `
OFFSET x y: Apply offset (x,y) to all further pixel draws on this connection
`)

// Offset is the per connection translation added to PX coordinates.
type Offset struct {
	X, Y int
}

// Result reports what a Scan or Execute call did.
type Result struct {
	// Offset is the connection offset after the last OFFSET command.
	Offset Offset
	// Consumed is the number of bytes up to and including the last fully
	// recognized command. Bytes after it must be scanned again once more
	// data is available.
	Consumed int
	// PixelsSet and PixelsRead count PX writes and reads, in bounds or not.
	PixelsSet  int
	PixelsRead int
}

// Scan recognizes and executes every complete command in buf[:len(buf)-Lookahead].
// Pixel commands go to c, replies are written to w. Write errors are not
// reported; a buffered w keeps them for the caller to see on flush.
func Scan(buf []byte, c *canvas.Canvas, w io.Writer, off Offset) Result {
	e := executor{canvas: c, w: w}
	e.res.Offset = off

	end := len(buf) - Lookahead
	for i := 0; i < end; {
		cmd, next, ok := match(buf, i)
		if ok {
			e.apply(cmd)
			e.res.Consumed = next
		}
		i = next
	}
	return e.res
}

// Parse recognizes the commands in buf[:len(buf)-Lookahead] without running
// them. It returns the commands and the consumed byte count as Scan would.
func Parse(buf []byte) ([]Command, int) {
	var cmds []Command
	consumed := 0

	end := len(buf) - Lookahead
	for i := 0; i < end; {
		cmd, next, ok := match(buf, i)
		if ok {
			cmds = append(cmds, cmd)
			consumed = next
		}
		i = next
	}
	return cmds, consumed
}

// Execute runs already parsed commands. Result.Consumed is left zero.
func Execute(cmds []Command, c *canvas.Canvas, w io.Writer, off Offset) Result {
	e := executor{canvas: c, w: w}
	e.res.Offset = off
	for _, cmd := range cmds {
		e.apply(cmd)
	}
	return e.res
}

type executor struct {
	canvas  *canvas.Canvas
	w       io.Writer
	res     Result
	scratch [32]byte
}

func (e *executor) apply(cmd Command) {
	switch cmd.Op {
	case OpPixelSet:
		e.res.PixelsSet++
		e.canvas.Set(cmd.X+e.res.Offset.X, cmd.Y+e.res.Offset.Y, cmd.Color)
	case OpPixelGet:
		e.res.PixelsRead++
		p, ok := e.canvas.Get(cmd.X+e.res.Offset.X, cmd.Y+e.res.Offset.Y)
		if !ok {
			return
		}
		// Coordinates are echoed as the client sent them, relative to its offset.
		b := append(e.scratch[:0], "PX "...)
		b = appendCoords(b, cmd.X, cmd.Y)
		b = append(b, ' ')
		b = appendHex6(b, p.Hex())
		b = append(b, '\n')
		e.w.Write(b)
	case OpSetOffset:
		e.res.Offset = Offset{X: cmd.X, Y: cmd.Y}
	case OpSize:
		b := append(e.scratch[:0], "SIZE "...)
		b = strconv.AppendInt(b, int64(e.canvas.Width()), 10)
		b = append(b, ' ')
		b = strconv.AppendInt(b, int64(e.canvas.Height()), 10)
		b = append(b, '\n')
		e.w.Write(b)
	case OpHelp:
		e.w.Write(HelpText)
	}
}

// match tries to recognize a command starting at buf[i]. On success it
// returns the command and the index just past it. Otherwise next is where
// scanning continues: i+1 when no keyword starts at i, or the first byte
// that did not fit the command grammar.
func match(buf []byte, i int) (cmd Command, next int, ok bool) {
	switch buf[i] {
	case 'P':
		if buf[i+1] == 'X' && buf[i+2] == ' ' {
			return matchPixel(buf, i+3)
		}
	case 'S':
		if string(buf[i+1:i+4]) == "IZE" {
			return Size(), i + 4, true
		}
	case 'H':
		if string(buf[i+1:i+4]) == "ELP" {
			return Help(), i + 4, true
		}
	case 'O':
		if string(buf[i+1:i+7]) == "FFSET " {
			return matchOffset(buf, i+7)
		}
	}
	return Command{}, i + 1, false
}

// matchPixel parses the part after "PX ".
func matchPixel(buf []byte, i int) (Command, int, bool) {
	x, y, i, ok := parseCoords(buf, i)
	if !ok {
		return Command{}, i, false
	}

	switch buf[i] {
	case '\n':
		return PixelGet(x, y), i + 1, true
	case ' ':
		j := i + 1
		if buf[j+6] == '\n' {
			return PixelSet(x, y, decodeColor(buf, j)), j + 7, true
		}
		if buf[j+8] == '\n' {
			// Alpha is decoded by the grammar but never stored.
			return PixelSet(x, y, decodeColor(buf, j)), j + 9, true
		}
		return Command{}, j, false
	}
	return Command{}, i, false
}

// matchOffset parses the part after "OFFSET ".
func matchOffset(buf []byte, i int) (Command, int, bool) {
	x, y, i, ok := parseCoords(buf, i)
	if !ok || buf[i] != '\n' {
		return Command{}, i, false
	}
	return SetOffset(x, y), i + 1, true
}

// parseCoords parses "x y" and returns the index after y.
func parseCoords(buf []byte, i int) (x, y, next int, ok bool) {
	x, next = parseDigits(buf, i)
	if next == i || buf[next] != ' ' {
		return 0, 0, next, false
	}
	i = next + 1
	y, next = parseDigits(buf, i)
	if next == i {
		return 0, 0, next, false
	}
	return x, y, next, true
}

// parseDigits reads up to MaxDigits decimal digits starting at buf[i] and
// stops at the first non-digit. next == i means no digit was found.
func parseDigits(buf []byte, i int) (n, next int) {
	next = i
	for next-i < MaxDigits {
		d := buf[next] - '0'
		if d > 9 {
			break
		}
		n = n*10 + int(d)
		next++
	}
	return n, next
}
