package canvas

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"

	"github.com/openclaw/remarkable-hal/internal/eink"
)

// Snapshot reads the visible part of the backend's buffer back as gray.
func Snapshot(b eink.Backend) (*image.Gray, error) {
	g := eink.GeometryOf(b.VarScreenInfo(), b.FixScreenInfo())
	frame := b.Frame()
	if len(frame) < g.FrameLength() {
		return nil, fmt.Errorf("canvas: frame of %d bytes shorter than %d", len(frame), g.FrameLength())
	}
	img := image.NewGray(g.Bounds())
	switch g.BPP {
	case 8:
		for y := 0; y < g.Height; y++ {
			copy(img.Pix[y*img.Stride:(y+1)*img.Stride], frame[y*g.Stride:])
		}
	case 16:
		for y := 0; y < g.Height; y++ {
			row := frame[y*g.Stride:]
			for x := 0; x < g.Width; x++ {
				img.Pix[y*img.Stride+x] = unpack16(g, binary.LittleEndian.Uint16(row[2*x:]))
			}
		}
	default:
		return nil, fmt.Errorf("canvas: unsupported depth %d bpp", g.BPP)
	}
	return img, nil
}

func SnapshotPNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func SnapshotBase64(img image.Image) (string, error) {
	data, err := SnapshotPNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
