package eink

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
)

var (
	ErrRegionEmpty       = errors.New("eink: update region is empty")
	ErrRegionOutOfBounds = errors.New("eink: update region outside panel")
)

// Waveform selects the refresh algorithm the EPDC applies to a region.
type Waveform uint32

const (
	WaveformInit     Waveform = 0x0
	WaveformDU       Waveform = 0x1
	WaveformGC16     Waveform = 0x2
	WaveformGC16Fast Waveform = 0x3
	WaveformGLR16    Waveform = 0x4
	WaveformGLD16    Waveform = 0x5
	WaveformGL16Fast Waveform = 0x6
	WaveformDU4      Waveform = 0x7
	WaveformREAGL    Waveform = 0x8
	WaveformREAGLD   Waveform = 0x9
	WaveformGL4      Waveform = 0xA
	WaveformGL16Inv  Waveform = 0xB
	WaveformAuto     Waveform = 0x101
)

// Aliases for the two modes most callers pick between.
const (
	WaveformFastMono = WaveformDU
	WaveformHighGray = WaveformGC16
)

var waveformNames = map[Waveform]string{
	WaveformInit:     "init",
	WaveformDU:       "du",
	WaveformGC16:     "gc16",
	WaveformGC16Fast: "gc16-fast",
	WaveformGLR16:    "glr16",
	WaveformGLD16:    "gld16",
	WaveformGL16Fast: "gl16-fast",
	WaveformDU4:      "du4",
	WaveformREAGL:    "reagl",
	WaveformREAGLD:   "reagld",
	WaveformGL4:      "gl4",
	WaveformGL16Inv:  "gl16-inv",
	WaveformAuto:     "auto",
}

func (w Waveform) String() string {
	if name, ok := waveformNames[w]; ok {
		return name
	}
	return fmt.Sprintf("waveform(%#x)", uint32(w))
}

// ParseWaveform accepts the names produced by String.
func ParseWaveform(name string) (Waveform, error) {
	for w, n := range waveformNames {
		if n == name {
			return w, nil
		}
	}
	return 0, fmt.Errorf("eink: unknown waveform %q", name)
}

type UpdateMode uint32

const (
	UpdateModePartial UpdateMode = 0
	UpdateModeFull    UpdateMode = 1
)

type UpdateFlags uint32

const (
	FlagEnableInversion UpdateFlags = 0x0001
	FlagForceMonochrome UpdateFlags = 0x0002
	FlagUseCmap         UpdateFlags = 0x0004
	FlagUseAltBuffer    UpdateFlags = 0x0100
	FlagTestCollision   UpdateFlags = 0x0200
	FlagGroupUpdate     UpdateFlags = 0x0400
	FlagDitheringY1     UpdateFlags = 0x2000
	FlagDitheringY4     UpdateFlags = 0x4000
)

type DitherMode int32

const (
	DitherPassthrough    DitherMode = 0
	DitherFloydSteinberg DitherMode = 1
	DitherAtkinson       DitherMode = 2
	DitherOrdered        DitherMode = 3
	DitherQuantOnly      DitherMode = 4
)

const (
	TempUseAmbient        int32 = 0x1000
	TempUseRemarkableDraw int32 = 0x0018

	AutoUpdateModeRegion    uint32 = 0x0
	AutoUpdateModeAutomatic uint32 = 0x1

	UpdateSchemeSnapshot      uint32 = 0x0
	UpdateSchemeQueue         uint32 = 0x1
	UpdateSchemeQueueAndMerge uint32 = 0x2
)

// Update is one refresh request. Region.Max is exclusive.
type Update struct {
	Region   image.Rectangle
	Waveform Waveform
	Mode     UpdateMode
	Flags    UpdateFlags
	// Temp of zero selects TempUseRemarkableDraw.
	Temp   int32
	Dither DitherMode
	Quant  int32
}

// Validate reports whether the region can be refreshed on a panel with the
// given bounds.
func (u Update) Validate(bounds image.Rectangle) error {
	if u.Region.Empty() {
		return ErrRegionEmpty
	}
	if !u.Region.In(bounds) {
		return fmt.Errorf("%w: %v not in %v", ErrRegionOutOfBounds, u.Region, bounds)
	}
	return nil
}

// Data builds the mxcfb_update_data record for this update.
func (u Update) Data(marker uint32) UpdateData {
	temp := u.Temp
	if temp == 0 {
		temp = TempUseRemarkableDraw
	}
	return UpdateData{
		UpdateRegion: Rect{
			Top:    uint32(u.Region.Min.Y),
			Left:   uint32(u.Region.Min.X),
			Width:  uint32(u.Region.Dx()),
			Height: uint32(u.Region.Dy()),
		},
		WaveformMode: uint32(u.Waveform),
		UpdateMode:   uint32(u.Mode),
		UpdateMarker: marker,
		Temp:         temp,
		Flags:        uint32(u.Flags),
		DitherMode:   int32(u.Dither),
		QuantBit:     u.Quant,
	}
}

// Rect mirrors struct mxcfb_rect.
type Rect struct {
	Top    uint32
	Left   uint32
	Width  uint32
	Height uint32
}

func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(int(r.Left), int(r.Top), int(r.Left+r.Width), int(r.Top+r.Height))
}

// AltBufferData mirrors struct mxcfb_alt_buffer_data as built for the
// reMarkable kernel (no virtual address member).
type AltBufferData struct {
	PhysAddr        uint32
	Width           uint32
	Height          uint32
	AltUpdateRegion Rect
}

// UpdateData mirrors struct mxcfb_update_data. It is both the
// MXCFB_SEND_UPDATE argument and the UPDATE payload of the swtfb protocol,
// 72 bytes with no padding.
type UpdateData struct {
	UpdateRegion  Rect
	WaveformMode  uint32
	UpdateMode    uint32
	UpdateMarker  uint32
	Temp          int32
	Flags         uint32
	DitherMode    int32
	QuantBit      int32
	AltBufferData AltBufferData
}

type updateMarkerData struct {
	UpdateMarker  uint32
	CollisionTest uint32
}

// Marker hands out update markers. The first marker is 1.
type Marker struct {
	last atomic.Uint32
}

func (m *Marker) Next() uint32 {
	return m.last.Add(1)
}

// Last returns the most recently issued marker, or 0.
func (m *Marker) Last() uint32 {
	return m.last.Load()
}
