package web

import (
	"image"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"pixelflut/internal/canvas"
)

var pngEncoder = png.Encoder{CompressionLevel: png.BestSpeed}

// EncodePNG writes the canvas as PNG. A width between 1 and the canvas width
// scales the image down, keeping the aspect ratio; any other value keeps
// the full size.
func EncodePNG(w io.Writer, c *canvas.Canvas, width int) error {
	var img image.Image = c.Image()
	if width > 0 && width < c.Width() {
		img = scale(img, width, c.Height()*width/c.Width())
	}
	return pngEncoder.Encode(w, img)
}

func scale(src image.Image, width, height int) image.Image {
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
