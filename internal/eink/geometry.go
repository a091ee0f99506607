package eink

import "image"

// Bitfield mirrors struct fb_bitfield.
type Bitfield struct {
	Offset   uint32
	Length   uint32
	MSBRight uint32
}

// FixScreeninfo mirrors struct fb_fix_screeninfo. The two address fields are
// unsigned long in the kernel, hence uintptr.
type FixScreeninfo struct {
	ID         [16]byte
	SMemStart  uintptr
	SMemLen    uint32
	Type       uint32
	TypeAux    uint32
	Visual     uint32
	XPanStep   uint16
	YPanStep   uint16
	YWrapStep  uint16
	LineLength uint32
	MMIOStart  uintptr
	MMIOLen    uint32
	Accel      uint32
	Cap        uint16
	Reserved   [2]uint16
}

// VarScreeninfo mirrors struct fb_var_screeninfo.
type VarScreeninfo struct {
	XRes         uint32
	YRes         uint32
	XResVirtual  uint32
	YResVirtual  uint32
	XOffset      uint32
	YOffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32
	Red          Bitfield
	Green        Bitfield
	Blue         Bitfield
	Transp       Bitfield
	NonStd       uint32
	Activate     uint32
	Height       uint32
	Width        uint32
	AccelFlags   uint32
	Pixclock     uint32
	LeftMargin   uint32
	RightMargin  uint32
	UpperMargin  uint32
	LowerMargin  uint32
	HsyncLen     uint32
	VsyncLen     uint32
	Sync         uint32
	Vmode        uint32
	Rotate       uint32
	Colorspace   uint32
	Reserved     [4]uint32
}

const (
	PanelWidth  = 1404
	PanelHeight = 1872

	fbVmodeNonInterlaced = 0
)

// PanelVarScreeninfo overwrites the mode fields of v with the fixed timing
// of the reMarkable 1 panel. Everything else is left as the driver reported.
func PanelVarScreeninfo(v VarScreeninfo) VarScreeninfo {
	v.XRes = PanelWidth
	v.YRes = PanelHeight
	v.Rotate = 1
	v.Width = 0xffffffff
	v.Height = 0xffffffff
	v.Pixclock = 6250
	v.LeftMargin = 32
	v.RightMargin = 326
	v.UpperMargin = 4
	v.LowerMargin = 12
	v.HsyncLen = 44
	v.VsyncLen = 1
	v.Sync = 0
	v.Vmode = fbVmodeNonInterlaced
	v.AccelFlags = 0
	return v
}

// Geometry is the subset of the screen info needed to address pixels in
// the mapped buffer.
type Geometry struct {
	Width  int
	Height int
	Stride int
	BPP    int
	Red    Bitfield
	Green  Bitfield
	Blue   Bitfield
}

func GeometryOf(v VarScreeninfo, f FixScreeninfo) Geometry {
	return Geometry{
		Width:  int(v.XRes),
		Height: int(v.YRes),
		Stride: int(f.LineLength),
		BPP:    int(v.BitsPerPixel),
		Red:    v.Red,
		Green:  v.Green,
		Blue:   v.Blue,
	}
}

func (g Geometry) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Width, g.Height)
}

// FrameLength is the number of bytes covered by the visible rows.
func (g Geometry) FrameLength() int {
	return g.Stride * g.Height
}
