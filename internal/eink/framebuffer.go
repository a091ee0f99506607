package eink

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var ErrClosed = errors.New("eink: framebuffer closed")

// Framebuffer drives a gen1 panel directly through the mxcfb driver.
//
// Writes into Frame are not serialized against PutVarScreenInfo; callers that
// change geometry while drawing own that lock.
type Framebuffer struct {
	dev    controller
	logger zerolog.Logger
	marker Marker
	closed atomic.Bool

	mu    sync.RWMutex
	data  []byte
	vinfo VarScreeninfo
	finfo FixScreeninfo
}

// Open configures the panel at path for the reMarkable 1 timing and maps
// its memory. Any failure is returned before a Framebuffer exists.
func Open(path string, logger zerolog.Logger) (*Framebuffer, error) {
	dev, err := openDevice(path)
	if err != nil {
		return nil, fmt.Errorf("eink: open %s: %w", path, err)
	}
	fb, err := newFramebuffer(dev, logger)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return fb, nil
}

func newFramebuffer(dev controller, logger zerolog.Logger) (*Framebuffer, error) {
	fb := &Framebuffer{dev: dev, logger: logger}

	vinfo, err := fb.QueryVarScreenInfo()
	if err != nil {
		return nil, err
	}
	vinfo = PanelVarScreeninfo(vinfo)
	if err := fb.putVar(&vinfo); err != nil {
		logger.Warn().Err(err).Msg("panel mode rejected, keeping driver mode")
		if vinfo, err = fb.QueryVarScreenInfo(); err != nil {
			return nil, err
		}
	}
	finfo, err := fb.QueryFixScreenInfo()
	if err != nil {
		return nil, err
	}
	length := GeometryOf(vinfo, finfo).FrameLength()
	if length <= 0 {
		return nil, fmt.Errorf("eink: invalid frame length %d", length)
	}
	data, err := dev.mmap(length)
	if err != nil {
		return nil, fmt.Errorf("eink: mmap %d bytes: %w", length, err)
	}
	fb.data = data
	fb.vinfo = vinfo
	fb.finfo = finfo
	logger.Debug().
		Uint32("xres", vinfo.XRes).
		Uint32("yres", vinfo.YRes).
		Uint32("bpp", vinfo.BitsPerPixel).
		Uint32("stride", finfo.LineLength).
		Int("length", length).
		Msg("framebuffer mapped")
	return fb, nil
}

// QueryVarScreenInfo reads the variable screen info from the device.
func (fb *Framebuffer) QueryVarScreenInfo() (VarScreeninfo, error) {
	var vinfo VarScreeninfo
	if err := fb.dev.ioctl(fbioGetVScreenInfo, unsafe.Pointer(&vinfo)); err != nil {
		return VarScreeninfo{}, fmt.Errorf("eink: FBIOGET_VSCREENINFO: %w", err)
	}
	return vinfo, nil
}

// QueryFixScreenInfo reads the fixed screen info from the device.
func (fb *Framebuffer) QueryFixScreenInfo() (FixScreeninfo, error) {
	var finfo FixScreeninfo
	if err := fb.dev.ioctl(fbioGetFScreenInfo, unsafe.Pointer(&finfo)); err != nil {
		return FixScreeninfo{}, fmt.Errorf("eink: FBIOGET_FSCREENINFO: %w", err)
	}
	return finfo, nil
}

func (fb *Framebuffer) control(req uintptr, arg unsafe.Pointer) error {
	if fb.closed.Load() {
		return ErrClosed
	}
	return fb.dev.ioctl(req, arg)
}

func (fb *Framebuffer) putVar(vinfo *VarScreeninfo) error {
	if err := fb.dev.ioctl(fbioPutVScreenInfo, unsafe.Pointer(vinfo)); err != nil {
		return fmt.Errorf("eink: FBIOPUT_VSCREENINFO: %w", err)
	}
	return nil
}

func (fb *Framebuffer) VarScreenInfo() VarScreeninfo {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.vinfo
}

func (fb *Framebuffer) FixScreenInfo() FixScreeninfo {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.finfo
}

// PutVarScreenInfo writes vinfo to the device. The cached copies only change
// when the driver accepted the write; the mapping is redone when the new
// stride or height changes the frame length.
func (fb *Framebuffer) PutVarScreenInfo(vinfo VarScreeninfo) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.closed.Load() {
		return ErrClosed
	}
	if err := fb.putVar(&vinfo); err != nil {
		return err
	}
	finfo, err := fb.QueryFixScreenInfo()
	if err != nil {
		return err
	}
	length := GeometryOf(vinfo, finfo).FrameLength()
	if length != len(fb.data) {
		data, err := fb.dev.mmap(length)
		if err != nil {
			return fmt.Errorf("eink: remap %d bytes: %w", length, err)
		}
		if err := fb.dev.munmap(fb.data); err != nil {
			fb.logger.Warn().Err(err).Msg("munmap previous frame")
		}
		fb.data = data
	}
	fb.vinfo = vinfo
	fb.finfo = finfo
	return nil
}

// Frame returns the mapped display memory. The slice is replaced when a
// geometry change remaps the buffer.
func (fb *Framebuffer) Frame() []byte {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.data
}

func (fb *Framebuffer) Geometry() Geometry {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return GeometryOf(fb.vinfo, fb.finfo)
}

// SetEPDCAccess hands the buffer to the EPDC (true) or to software (false).
func (fb *Framebuffer) SetEPDCAccess(enabled bool) error {
	req := mxcfbDisableEPDCAccess
	if enabled {
		req = mxcfbEnableEPDCAccess
	}
	if err := fb.control(req, nil); err != nil {
		return fmt.Errorf("eink: set epdc access %t: %w", enabled, err)
	}
	return nil
}

func (fb *Framebuffer) SetAutoUpdateMode(mode uint32) error {
	if err := fb.control(mxcfbSetAutoUpdateMode, unsafe.Pointer(&mode)); err != nil {
		return fmt.Errorf("eink: set auto update mode %d: %w", mode, err)
	}
	return nil
}

func (fb *Framebuffer) SetUpdateScheme(scheme uint32) error {
	if err := fb.control(mxcfbSetUpdateScheme, unsafe.Pointer(&scheme)); err != nil {
		return fmt.Errorf("eink: set update scheme %d: %w", scheme, err)
	}
	return nil
}

// SendUpdate asks the EPDC to refresh update.Region and returns the marker
// assigned to it.
func (fb *Framebuffer) SendUpdate(update Update) (uint32, error) {
	if err := update.Validate(fb.Geometry().Bounds()); err != nil {
		return 0, err
	}
	marker := fb.marker.Next()
	data := update.Data(marker)
	if err := fb.control(mxcfbSendUpdate, unsafe.Pointer(&data)); err != nil {
		return marker, fmt.Errorf("eink: MXCFB_SEND_UPDATE: %w", err)
	}
	return marker, nil
}

// WaitForUpdateComplete blocks until the driver reports marker done. A
// driver timeout is reported as (false, nil).
func (fb *Framebuffer) WaitForUpdateComplete(marker uint32) (bool, error) {
	data := updateMarkerData{UpdateMarker: marker}
	err := fb.control(mxcfbWaitForUpdateComplete, unsafe.Pointer(&data))
	if errors.Is(err, unix.ETIMEDOUT) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("eink: MXCFB_WAIT_FOR_UPDATE_COMPLETE: %w", err)
	}
	return true, nil
}

func (fb *Framebuffer) Close() error {
	if fb == nil {
		return nil
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if !fb.closed.CompareAndSwap(false, true) {
		return nil
	}
	if fb.data != nil {
		_ = fb.dev.munmap(fb.data)
		fb.data = nil
	}
	return fb.dev.Close()
}
