package protocol

import "pixelflut/internal/canvas"

// hexValues maps every byte to its hexadecimal digit value. Bytes that are
// not hex digits map to zero.
var hexValues = [256]uint8{
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4, '5': 5, '6': 6, '7': 7, '8': 8, '9': 9,
	'a': 10, 'b': 11, 'c': 12, 'd': 13, 'e': 14, 'f': 15,
	'A': 10, 'B': 11, 'C': 12, 'D': 13, 'E': 14, 'F': 15,
}

// HexValue returns the nibble value of an ASCII hex digit, or 0.
func HexValue(c byte) uint8 {
	return hexValues[c]
}

// decodeColor reads the six hex digits rrggbb at buf[i:].
func decodeColor(buf []byte, i int) canvas.Pixel {
	r := hexValues[buf[i]]<<4 | hexValues[buf[i+1]]
	g := hexValues[buf[i+2]]<<4 | hexValues[buf[i+3]]
	b := hexValues[buf[i+4]]<<4 | hexValues[buf[i+5]]
	return canvas.RGB(r, g, b)
}
