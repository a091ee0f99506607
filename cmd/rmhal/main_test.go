package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/openclaw/remarkable-hal/internal/config"
	"github.com/openclaw/remarkable-hal/internal/display"
	"github.com/openclaw/remarkable-hal/internal/eink"
	"github.com/openclaw/remarkable-hal/internal/input"
	"github.com/rs/zerolog"
)

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Input.Echo = true
	applyOverrides(cfg, overrides{
		generation: "gen1",
		devices:    " stylus, ,buttons ",
		relayURL:   "ws://10.0.0.2/events",
		logLevel:   "debug",
		banner:     true,
	})
	if cfg.Display.Generation != "gen1" || cfg.Relay.URL != "ws://10.0.0.2/events" || cfg.LogLevel != "debug" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.Input.Devices) != 2 || cfg.Input.Devices[0] != "stylus" || cfg.Input.Devices[1] != "buttons" {
		t.Fatalf("unexpected devices %q", cfg.Input.Devices)
	}
	if !cfg.Display.Banner || !cfg.Input.Echo || cfg.Relay.Tailnet.Enabled {
		t.Fatalf("unexpected switches %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestApplyOverridesKeepsFileValues(t *testing.T) {
	cfg := config.Default()
	cfg.Display.Framebuffer = "/dev/fb1"
	applyOverrides(cfg, overrides{})
	if cfg.Display.Framebuffer != "/dev/fb1" || len(cfg.Input.Devices) != 3 {
		t.Fatalf("empty overrides changed config: %+v", cfg)
	}
}

func TestBuildHello(t *testing.T) {
	hello := buildHello(display.Gen2, eink.Geometry{Width: 1404, Height: 1872, BPP: 16}, []string{"stylus"})
	if hello.Generation != "gen2" || hello.Width != 1404 || hello.Height != 1872 {
		t.Fatalf("unexpected hello %+v", hello)
	}
	if len(hello.Inputs) != 1 || len(hello.Commands) != 4 {
		t.Fatalf("unexpected hello lists %+v", hello)
	}
}

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	logEvent(logger, input.TouchEvent{Slot: 2, TrackingID: 7, Phase: input.TouchDown, X: 10, Y: 20})
	out := buf.String()
	for _, want := range []string{`"source":"multitouch"`, `"phase":"down"`, `"slot":2`, `"x":10`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}
