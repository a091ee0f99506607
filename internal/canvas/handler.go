package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/openclaw/remarkable-hal/internal/eink"
	"github.com/openclaw/remarkable-hal/internal/input"
	"github.com/rs/zerolog"
)

var ErrUnknownCommand = errors.New("canvas: unknown command")

type InvokeRequest struct {
	Command string
	Args    json.RawMessage
}

type RefreshArgs struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Waveform string `json:"waveform,omitempty"`
	Full     bool   `json:"full,omitempty"`
	Wait     bool   `json:"wait,omitempty"`
}

type BannerArgs struct {
	Title string   `json:"title"`
	Lines []string `json:"lines,omitempty"`
	X     int      `json:"x,omitempty"`
	Y     int      `json:"y,omitempty"`
}

type UpdateResult struct {
	Marker    uint32 `json:"marker"`
	Completed bool   `json:"completed"`
}

type SnapshotResult struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Base64 string `json:"base64"`
}

// Handler draws into a backend on behalf of remote commands and local input.
type Handler struct {
	mu           sync.Mutex
	backend      eink.Backend
	renderer     *Renderer
	logger       zerolog.Logger
	echo         bool
	calibrations map[input.DeviceClass]input.Calibration
}

// NewHandler sizes its renderer to the backend. With echo set, touches and
// pen contacts are marked on the panel.
func NewHandler(backend eink.Backend, echo bool, logger zerolog.Logger) *Handler {
	g := eink.GeometryOf(backend.VarScreenInfo(), backend.FixScreenInfo())
	return &Handler{
		backend:      backend,
		renderer:     NewRenderer(g.Width, g.Height),
		logger:       logger,
		echo:         echo,
		calibrations: make(map[input.DeviceClass]input.Calibration),
	}
}

// SetCalibration maps echo coordinates from class onto the panel. Devices
// without one are taken to report panel pixels.
func (h *Handler) SetCalibration(class input.DeviceClass, cal input.Calibration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calibrations[class] = cal
}

func (h *Handler) Renderer() *Renderer {
	return h.renderer
}

func (h *Handler) HandleInvokeRequest(ctx context.Context, req InvokeRequest) (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch strings.TrimSpace(req.Command) {
	case "display.refresh":
		var args RefreshArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return h.refresh(args)
	case "display.banner":
		var args BannerArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return h.banner(args)
	case "display.clear":
		h.renderer.Clear()
		return h.present(h.renderer.Image.Bounds(), eink.WaveformGC16, eink.UpdateModeFull, true)
	case "display.snapshot":
		return h.snapshot()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("canvas: invalid args: %w", err)
	}
	return nil
}

func (h *Handler) refresh(args RefreshArgs) (interface{}, error) {
	waveform := eink.WaveformGC16
	if args.Waveform != "" {
		var err error
		if waveform, err = eink.ParseWaveform(args.Waveform); err != nil {
			return nil, err
		}
	}
	region := image.Rect(args.X, args.Y, args.X+args.Width, args.Y+args.Height)
	if args.Width == 0 && args.Height == 0 {
		region = h.renderer.Image.Bounds()
	}
	mode := eink.UpdateModePartial
	if args.Full {
		mode = eink.UpdateModeFull
	}
	return h.update(region, waveform, mode, args.Wait)
}

func (h *Handler) banner(args BannerArgs) (interface{}, error) {
	if args.Title == "" {
		return nil, errors.New("canvas: banner requires a title")
	}
	area := h.renderer.Banner(image.Pt(args.X, args.Y), args.Title, args.Lines)
	return h.present(area, eink.WaveformGC16, eink.UpdateModePartial, true)
}

// ShowBanner draws a banner at the top left and waits for it to settle.
func (h *Handler) ShowBanner(title string, lines ...string) (UpdateResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	res, err := h.banner(BannerArgs{Title: title, Lines: lines, X: 16, Y: 16})
	if err != nil {
		return UpdateResult{}, err
	}
	return res.(UpdateResult), nil
}

func (h *Handler) present(area image.Rectangle, waveform eink.Waveform, mode eink.UpdateMode, wait bool) (interface{}, error) {
	written, err := Blit(h.backend, h.renderer.Image, area)
	if err != nil {
		return nil, err
	}
	return h.update(written, waveform, mode, wait)
}

func (h *Handler) update(region image.Rectangle, waveform eink.Waveform, mode eink.UpdateMode, wait bool) (UpdateResult, error) {
	marker, err := h.backend.SendUpdate(eink.Update{Region: region, Waveform: waveform, Mode: mode})
	if err != nil {
		return UpdateResult{}, err
	}
	res := UpdateResult{Marker: marker}
	if wait {
		if res.Completed, err = h.backend.WaitForUpdateComplete(marker); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (h *Handler) snapshot() (interface{}, error) {
	img, err := Snapshot(h.backend)
	if err != nil {
		return nil, err
	}
	encoded, err := SnapshotBase64(img)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return SnapshotResult{Format: "png", Width: b.Dx(), Height: b.Dy(), Base64: encoded}, nil
}

// HandleEvent marks new touches and pen contacts when echo is on.
func (h *Handler) HandleEvent(ev input.Event) {
	if !h.echo {
		return
	}
	var rx, ry int32
	switch e := ev.(type) {
	case input.TouchEvent:
		if e.Phase != input.TouchDown {
			return
		}
		rx, ry = e.X, e.Y
	case input.PenEvent:
		if !e.Touching {
			return
		}
		rx, ry = e.X, e.Y
	default:
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	x, y := int(rx), int(ry)
	if cal, ok := h.calibrations[ev.Source()]; ok {
		p := cal.ToPanel(rx, ry, h.renderer.Width, h.renderer.Height)
		x, y = p.X, p.Y
	}
	area := h.renderer.Mark(x, y, 6)
	if area.Empty() {
		return
	}
	if _, err := h.present(area, eink.WaveformDU, eink.UpdateModePartial, false); err != nil {
		h.logger.Warn().Err(err).Int("x", x).Int("y", y).Msg("echo mark failed")
	}
}
