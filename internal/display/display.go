// Package display picks the panel backend for the running hardware.
package display

import (
	"fmt"
	"os"
	"strings"

	"github.com/openclaw/remarkable-hal/internal/eink"
	"github.com/openclaw/remarkable-hal/internal/input"
	"github.com/openclaw/remarkable-hal/internal/swtfb"
	"github.com/rs/zerolog"
)

// Generation is the hardware revision. Auto asks Detect.
type Generation int

const (
	Auto Generation = 0
	Gen1 Generation = 1
	Gen2 Generation = 2
)

const (
	DefaultMachinePath = "/sys/devices/soc0/machine"
	DefaultFramebuffer = "/dev/fb0"
)

func (g Generation) String() string {
	switch g {
	case Auto:
		return "auto"
	case Gen1:
		return "gen1"
	case Gen2:
		return "gen2"
	}
	return fmt.Sprintf("generation(%d)", int(g))
}

// InputPaths returns the event devices wired on g.
func (g Generation) InputPaths() map[input.DeviceClass]string {
	if g == Gen2 {
		return input.Gen2Paths
	}
	return input.Gen1Paths
}

// InputOrientation returns how the digitizers of g sit on the panel.
func (g Generation) InputOrientation() map[input.DeviceClass]input.Orientation {
	if g == Gen2 {
		return input.Gen2Orientation
	}
	return input.Gen1Orientation
}

// Detect reads the SoC machine name, e.g. "reMarkable 2.0". Anything that
// is not a reMarkable 2 is treated as generation 1.
func Detect(machinePath string) (Generation, error) {
	if machinePath == "" {
		machinePath = DefaultMachinePath
	}
	raw, err := os.ReadFile(machinePath)
	if err != nil {
		return Auto, fmt.Errorf("display: read machine name: %w", err)
	}
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "reMarkable 2") {
		return Gen2, nil
	}
	return Gen1, nil
}

type Config struct {
	Generation  Generation
	MachinePath string
	// Framebuffer is the gen1 device node.
	Framebuffer string
	// Swtfb configures the gen2 client.
	Swtfb  swtfb.Config
	Logger zerolog.Logger
}

// Open returns the direct framebuffer on generation 1 and the rm2fb client
// on generation 2.
func Open(cfg Config) (eink.Backend, Generation, error) {
	gen := cfg.Generation
	if gen == Auto {
		detected, err := Detect(cfg.MachinePath)
		if err != nil {
			return nil, Auto, err
		}
		gen = detected
	}
	logger := cfg.Logger.With().Str("generation", gen.String()).Logger()

	switch gen {
	case Gen1:
		path := cfg.Framebuffer
		if path == "" {
			path = DefaultFramebuffer
		}
		fb, err := eink.Open(path, logger)
		if err != nil {
			return nil, gen, err
		}
		logger.Info().Str("device", path).Msg("direct framebuffer opened")
		return fb, gen, nil
	case Gen2:
		sc := cfg.Swtfb
		sc.Logger = logger
		client, err := swtfb.Connect(sc)
		if err != nil {
			return nil, gen, err
		}
		logger.Info().Bool("nested", client.Nested()).Msg("rm2fb client connected")
		return client, gen, nil
	}
	return nil, gen, fmt.Errorf("display: unsupported generation %d", int(gen))
}
