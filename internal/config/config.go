// Package config loads the rmhal YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/openclaw/remarkable-hal/internal/display"
	"github.com/openclaw/remarkable-hal/internal/input"
	"github.com/openclaw/remarkable-hal/internal/power"
	"github.com/openclaw/remarkable-hal/internal/swtfb"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string        `yaml:"log_level"`
	Display  DisplayConfig `yaml:"display"`
	Input    InputConfig   `yaml:"input"`
	Relay    RelayConfig   `yaml:"relay"`
	Power    PowerConfig   `yaml:"power"`
}

type DisplayConfig struct {
	// Generation is "auto", "gen1" or "gen2".
	Generation  string      `yaml:"generation"`
	MachinePath string      `yaml:"machine"`
	Framebuffer string      `yaml:"framebuffer"`
	Swtfb       SwtfbConfig `yaml:"swtfb"`
	// Banner draws a status banner once the backend is open.
	Banner bool `yaml:"banner"`
}

type SwtfbConfig struct {
	BufferPath  string        `yaml:"buffer"`
	QueueKey    int           `yaml:"queue_key"`
	SemDir      string        `yaml:"sem_dir"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	NoWait      bool          `yaml:"no_wait"`
}

type InputConfig struct {
	Devices []string          `yaml:"devices"`
	Paths   map[string]string `yaml:"paths,omitempty"`
	// Orientation overrides how a digitizer sits on the panel.
	Orientation map[string]OrientationConfig `yaml:"orientation,omitempty"`
	Buffer      int                          `yaml:"buffer"`
	// Echo marks touches and pen contacts on the panel.
	Echo bool `yaml:"echo"`
}

type OrientationConfig struct {
	SwapXY bool `yaml:"swap_xy"`
	FlipX  bool `yaml:"flip_x"`
	FlipY  bool `yaml:"flip_y"`
}

type RelayConfig struct {
	// URL of the websocket sink. Empty disables the relay.
	URL       string        `yaml:"url"`
	UserAgent string        `yaml:"user_agent"`
	Tailnet   TailnetConfig `yaml:"tailnet"`
}

type PowerConfig struct {
	// Suspend enables suspend on a short power-key press and after
	// IdleTimeout without input. Zero IdleTimeout disables idle suspend.
	Suspend     bool          `yaml:"suspend"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// LongPress exits rmhal.
	LongPress time.Duration `yaml:"long_press"`
}

type TailnetConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	StateDir  string `yaml:"state_dir"`
	AuthKey   string `yaml:"auth_key,omitempty"`
	Ephemeral bool   `yaml:"ephemeral"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Display.Generation == "" {
		c.Display.Generation = display.Auto.String()
	}
	if c.Display.MachinePath == "" {
		c.Display.MachinePath = display.DefaultMachinePath
	}
	if c.Display.Framebuffer == "" {
		c.Display.Framebuffer = display.DefaultFramebuffer
	}
	if c.Display.Swtfb.BufferPath == "" {
		c.Display.Swtfb.BufferPath = swtfb.DefaultBufferPath
	}
	if c.Display.Swtfb.QueueKey == 0 {
		c.Display.Swtfb.QueueKey = swtfb.QueueKey
	}
	if c.Display.Swtfb.WaitTimeout <= 0 {
		c.Display.Swtfb.WaitTimeout = swtfb.DefaultWaitTimeout
	}
	if c.Input.Devices == nil {
		c.Input.Devices = []string{input.Buttons.String(), input.Multitouch.String(), input.Stylus.String()}
	}
	if c.Input.Buffer <= 0 {
		c.Input.Buffer = input.DefaultBuffer
	}
	if c.Relay.UserAgent == "" {
		c.Relay.UserAgent = "rmhal/0.1"
	}
	if c.Relay.Tailnet.Hostname == "" {
		c.Relay.Tailnet.Hostname = "remarkable"
	}
	if c.Power.LongPress <= 0 {
		c.Power.LongPress = power.DefaultLongPress
	}
}

// Load reads path and normalizes it. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Generation(); err != nil {
		return err
	}
	if _, err := c.DeviceClasses(); err != nil {
		return err
	}
	for name := range c.Input.Paths {
		if _, err := input.ParseDeviceClass(name); err != nil {
			return fmt.Errorf("config: input paths: %w", err)
		}
	}
	for name := range c.Input.Orientation {
		if _, err := input.ParseDeviceClass(name); err != nil {
			return fmt.Errorf("config: input orientation: %w", err)
		}
	}
	return nil
}

func (c *Config) Generation() (display.Generation, error) {
	for _, g := range []display.Generation{display.Auto, display.Gen1, display.Gen2} {
		if g.String() == c.Display.Generation {
			return g, nil
		}
	}
	return display.Auto, fmt.Errorf("config: unknown display generation %q", c.Display.Generation)
}

func (c *Config) DeviceClasses() ([]input.DeviceClass, error) {
	classes := make([]input.DeviceClass, 0, len(c.Input.Devices))
	for _, name := range c.Input.Devices {
		class, err := input.ParseDeviceClass(name)
		if err != nil {
			return nil, fmt.Errorf("config: input devices: %w", err)
		}
		classes = append(classes, class)
	}
	return classes, nil
}

// InputPaths overlays the configured paths on the defaults for gen.
func (c *Config) InputPaths(gen display.Generation) map[input.DeviceClass]string {
	paths := make(map[input.DeviceClass]string)
	for class, path := range gen.InputPaths() {
		paths[class] = path
	}
	for name, path := range c.Input.Paths {
		if class, err := input.ParseDeviceClass(name); err == nil {
			paths[class] = path
		}
	}
	return paths
}

// InputOrientation overlays the configured orientations on the defaults
// for gen.
func (c *Config) InputOrientation(gen display.Generation) map[input.DeviceClass]input.Orientation {
	out := make(map[input.DeviceClass]input.Orientation)
	for class, o := range gen.InputOrientation() {
		out[class] = o
	}
	for name, o := range c.Input.Orientation {
		if class, err := input.ParseDeviceClass(name); err == nil {
			out[class] = input.Orientation{SwapXY: o.SwapXY, FlipX: o.FlipX, FlipY: o.FlipY}
		}
	}
	return out
}

// DisplayOptions converts the file settings for display.Open.
func (c *Config) DisplayOptions() (display.Config, error) {
	gen, err := c.Generation()
	if err != nil {
		return display.Config{}, err
	}
	return display.Config{
		Generation:  gen,
		MachinePath: c.Display.MachinePath,
		Framebuffer: c.Display.Framebuffer,
		Swtfb: swtfb.Config{
			QueueKey:    c.Display.Swtfb.QueueKey,
			BufferPath:  c.Display.Swtfb.BufferPath,
			SemDir:      c.Display.Swtfb.SemDir,
			WaitTimeout: c.Display.Swtfb.WaitTimeout,
			NoWait:      c.Display.Swtfb.NoWait,
		},
	}, nil
}
