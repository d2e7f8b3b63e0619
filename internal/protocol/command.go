package protocol

import (
	"strconv"

	"pixelflut/internal/canvas"
)

// Op identifies a recognized command.
type Op uint8

const (
	OpNone Op = iota
	OpPixelSet
	OpPixelGet
	OpSetOffset
	OpSize
	OpHelp
)

func (o Op) String() string {
	switch o {
	case OpPixelSet:
		return "pixel_set"
	case OpPixelGet:
		return "pixel_get"
	case OpSetOffset:
		return "offset"
	case OpSize:
		return "size"
	case OpHelp:
		return "help"
	default:
		return "none"
	}
}

// Command is one parsed request. X and Y are the coordinates as sent by the
// client, before the connection offset is applied. Color is only meaningful
// for OpPixelSet.
type Command struct {
	Op    Op
	X, Y  int
	Color canvas.Pixel
}

// PixelSet returns a PX write command.
func PixelSet(x, y int, color canvas.Pixel) Command {
	return Command{Op: OpPixelSet, X: x, Y: y, Color: color}
}

// PixelGet returns a PX read command.
func PixelGet(x, y int) Command {
	return Command{Op: OpPixelGet, X: x, Y: y}
}

// SetOffset returns an OFFSET command.
func SetOffset(x, y int) Command {
	return Command{Op: OpSetOffset, X: x, Y: y}
}

// Size returns a SIZE command.
func Size() Command {
	return Command{Op: OpSize}
}

// Help returns a HELP command.
func Help() Command {
	return Command{Op: OpHelp}
}

// AppendTo appends the wire form of the command, newline included.
func (c Command) AppendTo(dst []byte) []byte {
	switch c.Op {
	case OpPixelSet:
		dst = append(dst, "PX "...)
		dst = appendCoords(dst, c.X, c.Y)
		dst = append(dst, ' ')
		dst = appendHex6(dst, c.Color.Hex())
	case OpPixelGet:
		dst = append(dst, "PX "...)
		dst = appendCoords(dst, c.X, c.Y)
	case OpSetOffset:
		dst = append(dst, "OFFSET "...)
		dst = appendCoords(dst, c.X, c.Y)
	case OpSize:
		dst = append(dst, "SIZE"...)
	case OpHelp:
		dst = append(dst, "HELP"...)
	default:
		return dst
	}
	return append(dst, '\n')
}

func (c Command) String() string {
	b := c.AppendTo(nil)
	if len(b) == 0 {
		return ""
	}
	return string(b[:len(b)-1])
}

func appendCoords(dst []byte, x, y int) []byte {
	dst = strconv.AppendInt(dst, int64(x), 10)
	dst = append(dst, ' ')
	return strconv.AppendInt(dst, int64(y), 10)
}

const hexDigits = "0123456789abcdef"

func appendHex6(dst []byte, rgb uint32) []byte {
	return append(dst,
		hexDigits[rgb>>20&0xf],
		hexDigits[rgb>>16&0xf],
		hexDigits[rgb>>12&0xf],
		hexDigits[rgb>>8&0xf],
		hexDigits[rgb>>4&0xf],
		hexDigits[rgb&0xf],
	)
}

// AppendDrawRect appends PX write commands covering the w×h rectangle at
// (x0, y0), row by row.
func AppendDrawRect(dst []byte, x0, y0, w, h int, color canvas.Pixel) []byte {
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			dst = PixelSet(x, y, color).AppendTo(dst)
		}
	}
	return dst
}

// AppendReadRect appends PX read commands covering the w×h rectangle at
// (x0, y0), row by row.
func AppendReadRect(dst []byte, x0, y0, w, h int) []byte {
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			dst = PixelGet(x, y).AppendTo(dst)
		}
	}
	return dst
}
