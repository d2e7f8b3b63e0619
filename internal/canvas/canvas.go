// Package canvas holds the pixel grid shared by every connection.
//
// The grid is a flat slice of 32 bit cells addressed by y*width+x. Each cell
// is accessed with single-word atomic loads and stores and nothing else: no
// lock guards the canvas and no ordering exists between different cells.
// A reader may see a frame where some pixels are newer than others, but it
// never sees a pixel assembled from two different writes.
package canvas

import (
	"image"
	"sync/atomic"
	"unsafe"
)

// Pixel is a packed 24 bit color. The red channel is in the lowest byte,
// then green, then blue; the top byte is unused and always zero. On little
// endian hosts the in-memory byte order is R, G, B, 0.
type Pixel uint32

// RGB packs three channels into a Pixel.
func RGB(r, g, b uint8) Pixel {
	return Pixel(uint32(r) | uint32(g)<<8 | uint32(b)<<16)
}

// FromHex converts a 0xRRGGBB value as written on the wire into a Pixel.
func FromHex(rgb uint32) Pixel {
	return RGB(uint8(rgb>>16), uint8(rgb>>8), uint8(rgb))
}

// RGB returns the individual channels.
func (p Pixel) RGB() (r, g, b uint8) {
	return uint8(p), uint8(p >> 8), uint8(p >> 16)
}

// Hex returns the pixel as a 0xRRGGBB value.
func (p Pixel) Hex() uint32 {
	r, g, b := p.RGB()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// Canvas is a fixed size grid of atomically accessed pixels.
type Canvas struct {
	width  int
	height int
	cells  []atomic.Uint32
}

// New allocates a black canvas.
func New(width, height int) *Canvas {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Canvas{
		width:  width,
		height: height,
		cells:  make([]atomic.Uint32, width*height),
	}
}

// Width returns the canvas width in pixels.
func (c *Canvas) Width() int {
	return c.width
}

// Height returns the canvas height in pixels.
func (c *Canvas) Height() int {
	return c.height
}

// Len returns the number of pixels.
func (c *Canvas) Len() int {
	return len(c.cells)
}

// Get returns the pixel at (x, y). ok is false when the coordinate lies
// outside the canvas.
func (c *Canvas) Get(x, y int) (p Pixel, ok bool) {
	if uint(x) >= uint(c.width) || uint(y) >= uint(c.height) {
		return 0, false
	}
	return Pixel(c.cells[y*c.width+x].Load()), true
}

// Set stores p at (x, y). Out of bounds coordinates are ignored.
func (c *Canvas) Set(x, y int, p Pixel) {
	if uint(x) >= uint(c.width) || uint(y) >= uint(c.height) {
		return
	}
	c.cells[y*c.width+x].Store(uint32(p))
}

// Fill sets every pixel to p.
func (c *Canvas) Fill(p Pixel) {
	for i := range c.cells {
		c.cells[i].Store(uint32(p))
	}
}

// Bytes returns the backing storage as a read-only byte view without
// copying, four bytes per pixel in row-major order. Concurrent writers keep
// mutating the memory behind the view, so a consumer must accept torn
// frames. Callers must not write to the returned slice.
func (c *Canvas) Bytes() []byte {
	if len(c.cells) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&c.cells[0])), len(c.cells)*4)
}

// Image copies the canvas into an opaque RGBA image. Each pixel is loaded
// atomically.
func (c *Canvas) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	for i := range c.cells {
		r, g, b := Pixel(c.cells[i].Load()).RGB()
		o := i * 4
		img.Pix[o+0] = r
		img.Pix[o+1] = g
		img.Pix[o+2] = b
		img.Pix[o+3] = 0xff
	}
	return img
}
