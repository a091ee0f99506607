package canvas

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/openclaw/remarkable-hal/internal/eink"
)

// Blit copies rect of src into the backend's mapped buffer at the same
// coordinates, converting to the buffer's pixel format. It returns the area
// actually written, which is rect clipped to the panel.
func Blit(b eink.Backend, src *image.Gray, rect image.Rectangle) (image.Rectangle, error) {
	g := eink.GeometryOf(b.VarScreenInfo(), b.FixScreenInfo())
	rect = rect.Intersect(g.Bounds()).Intersect(src.Bounds())
	if rect.Empty() {
		return rect, nil
	}
	frame := b.Frame()
	if need := (rect.Max.Y-1)*g.Stride + rect.Max.X*g.BPP/8; need > len(frame) {
		return image.Rectangle{}, fmt.Errorf("canvas: frame of %d bytes too small for %v", len(frame), rect)
	}

	switch g.BPP {
	case 8:
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			row := frame[y*g.Stride:]
			copy(row[rect.Min.X:rect.Max.X], src.Pix[src.PixOffset(rect.Min.X, y):])
		}
	case 16:
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			row := frame[y*g.Stride:]
			for x := rect.Min.X; x < rect.Max.X; x++ {
				binary.LittleEndian.PutUint16(row[2*x:], pack16(g, src.GrayAt(x, y).Y))
			}
		}
	default:
		return image.Rectangle{}, fmt.Errorf("canvas: unsupported depth %d bpp", g.BPP)
	}
	return rect, nil
}

// pack16 places a gray level into each channel's bitfield.
func pack16(g eink.Geometry, y uint8) uint16 {
	var px uint16
	for _, bf := range []eink.Bitfield{g.Red, g.Green, g.Blue} {
		if bf.Length == 0 {
			continue
		}
		px |= uint16(y>>(8-bf.Length)) << bf.Offset
	}
	return px
}

// unpack16 recovers a gray level from a 16-bit pixel using its green
// channel, the widest in RGB565.
func unpack16(g eink.Geometry, px uint16) uint8 {
	bf := g.Green
	if bf.Length == 0 {
		bf = g.Red
	}
	if bf.Length == 0 {
		return 0
	}
	v := (px >> bf.Offset) & (1<<bf.Length - 1)
	// replicate the high bits into the low ones so white stays 255
	v8 := v << (8 - bf.Length)
	v8 |= v8 >> bf.Length
	return uint8(v8)
}

