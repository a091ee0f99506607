package canvas

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	White uint8 = 255
	Black uint8 = 0

	bannerPad = 8
	lineGap   = 4
)

// Renderer draws diagnostics into an 8-bit gray image the size of the panel.
type Renderer struct {
	Width  int
	Height int
	Image  *image.Gray
	face   font.Face
}

func NewRenderer(width, height int) *Renderer {
	img := image.NewGray(image.Rect(0, 0, width, height))
	r := &Renderer{
		Width:  width,
		Height: height,
		Image:  img,
		face:   basicfont.Face7x13,
	}
	r.Clear()
	return r
}

func (r *Renderer) Clear() {
	r.FillRect(r.Image.Bounds(), White)
}

func (r *Renderer) FillRect(rect image.Rectangle, gray uint8) {
	draw.Draw(r.Image, rect.Intersect(r.Image.Bounds()), &image.Uniform{C: color.Gray{Y: gray}}, image.Point{}, draw.Src)
}

func (r *Renderer) StrokeRect(rect image.Rectangle, gray uint8) {
	rect = rect.Intersect(r.Image.Bounds())
	if rect.Empty() {
		return
	}
	c := color.Gray{Y: gray}
	for x := rect.Min.X; x < rect.Max.X; x++ {
		r.Image.SetGray(x, rect.Min.Y, c)
		r.Image.SetGray(x, rect.Max.Y-1, c)
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		r.Image.SetGray(rect.Min.X, y, c)
		r.Image.SetGray(rect.Max.X-1, y, c)
	}
}

// MeasureText returns the advance width of text in pixels.
func (r *Renderer) MeasureText(text string) int {
	return font.MeasureString(r.face, text).Ceil()
}

func (r *Renderer) lineHeight() int {
	return r.face.Metrics().Height.Ceil() + lineGap
}

// DrawText writes one line with its top edge at rect.Min.Y. align is
// "left", "center" or "right".
func (r *Renderer) DrawText(text string, rect image.Rectangle, gray uint8, align string) {
	if text == "" {
		return
	}
	d := &font.Drawer{
		Dst:  r.Image,
		Src:  image.NewUniform(color.Gray{Y: gray}),
		Face: r.face,
	}
	width := d.MeasureString(text).Ceil()
	x := rect.Min.X + 2
	switch align {
	case "center":
		x = rect.Min.X + (rect.Dx()-width)/2
	case "right":
		x = rect.Max.X - width - 2
	}
	d.Dot = fixed.P(x, rect.Min.Y+r.face.Metrics().Ascent.Ceil())
	d.DrawString(text)
}

// Banner draws a framed box at origin holding a title line and the given
// lines, and returns the area it touched.
func (r *Renderer) Banner(origin image.Point, title string, lines []string) image.Rectangle {
	width := r.MeasureText(title)
	for _, line := range lines {
		if w := r.MeasureText(line); w > width {
			width = w
		}
	}
	lh := r.lineHeight()
	height := lh * (1 + len(lines))
	box := image.Rect(0, 0, width+2*bannerPad, height+2*bannerPad+lineGap).Add(origin)
	box = box.Intersect(r.Image.Bounds())
	if box.Empty() {
		return box
	}

	r.FillRect(box, White)
	r.StrokeRect(box, Black)
	r.StrokeRect(box.Inset(2), Black)

	y := box.Min.Y + bannerPad
	r.DrawText(title, image.Rect(box.Min.X+bannerPad, y, box.Max.X-bannerPad, y+lh), Black, "left")
	y += lh
	r.FillRect(image.Rect(box.Min.X+bannerPad, y, box.Max.X-bannerPad, y+1), Black)
	y += lineGap
	for _, line := range lines {
		r.DrawText(line, image.Rect(box.Min.X+bannerPad, y, box.Max.X-bannerPad, y+lh), Black, "left")
		y += lh
	}
	return box
}

// Mark draws a crosshair centred on (x, y) and returns its bounds.
func (r *Renderer) Mark(x, y, radius int) image.Rectangle {
	area := image.Rect(x-radius, y-radius, x+radius+1, y+radius+1).Intersect(r.Image.Bounds())
	if area.Empty() {
		return area
	}
	r.FillRect(image.Rect(x-radius, y, x+radius+1, y+1), Black)
	r.FillRect(image.Rect(x, y-radius, x+1, y+radius+1), Black)
	r.StrokeRect(area, Black)
	return area
}
