package input

import (
	"errors"
	"image"
	"os"
)

var errNoPosition = errors.New("input: device has no position axes")

// AxisRange is the span an absolute axis reports, as EVIOCGABS gives it.
type AxisRange struct {
	Min int32
	Max int32
}

// Orientation places the digitizer axes on the panel. SwapXY is applied
// before the flips, which are in panel space.
type Orientation struct {
	SwapXY bool
	FlipX  bool
	FlipY  bool
}

// Gen1Orientation and Gen2Orientation are how the digitizers sit relative
// to the portrait panel. The Wacom X axis runs along the panel height from
// the bottom edge on both models.
var (
	Gen1Orientation = map[DeviceClass]Orientation{
		Multitouch: {FlipX: true, FlipY: true},
		Stylus:     {SwapXY: true, FlipY: true},
	}
	Gen2Orientation = map[DeviceClass]Orientation{
		Multitouch: {FlipY: true},
		Stylus:     {SwapXY: true, FlipY: true},
	}
)

// Calibration maps the raw coordinates of one device onto the panel.
type Calibration struct {
	X AxisRange
	Y AxisRange
	Orientation
}

// ToPanel converts a raw position into pixel coordinates on a width×height
// panel. Out of range values are clamped to the edge.
func (c Calibration) ToPanel(x, y int32, width, height int) image.Point {
	xr, yr := c.X, c.Y
	if c.SwapXY {
		x, y = y, x
		xr, yr = yr, xr
	}
	p := image.Pt(scaleAxis(x, xr, width), scaleAxis(y, yr, height))
	if c.FlipX {
		p.X = width - 1 - p.X
	}
	if c.FlipY {
		p.Y = height - 1 - p.Y
	}
	return p
}

func scaleAxis(v int32, r AxisRange, out int) int {
	if out <= 1 || r.Max <= r.Min {
		return 0
	}
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	return int(int64(v-r.Min) * int64(out-1) / int64(r.Max-r.Min))
}

func positionAxes(class DeviceClass) (x, y uint16, ok bool) {
	switch class {
	case Multitouch:
		return ABSMTPositionX, ABSMTPositionY, true
	case Stylus:
		return ABSX, ABSY, true
	}
	return 0, 0, false
}

// calibrate reads the position ranges of an opened device.
func calibrate(f *os.File, class DeviceClass, o Orientation) (Calibration, error) {
	xc, yc, ok := positionAxes(class)
	if !ok {
		return Calibration{}, errNoPosition
	}
	x, err := queryAxis(f, xc)
	if err != nil {
		return Calibration{}, err
	}
	y, err := queryAxis(f, yc)
	if err != nil {
		return Calibration{}, err
	}
	return Calibration{X: x, Y: y, Orientation: o}, nil
}
