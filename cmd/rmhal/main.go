package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openclaw/remarkable-hal/internal/canvas"
	"github.com/openclaw/remarkable-hal/internal/config"
	"github.com/openclaw/remarkable-hal/internal/display"
	"github.com/openclaw/remarkable-hal/internal/eink"
	"github.com/openclaw/remarkable-hal/internal/input"
	"github.com/openclaw/remarkable-hal/internal/power"
	"github.com/openclaw/remarkable-hal/internal/relay"
	"github.com/openclaw/remarkable-hal/internal/tailnet"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type overrides struct {
	generation  string
	framebuffer string
	devices     string
	relayURL    string
	logLevel    string
	banner      bool
	echo        bool
	tailnet     bool
}

func main() {
	cfgPath := flag.String("config", "/home/root/.config/rmhal/config.yaml", "path to config file")
	var o overrides
	flag.StringVar(&o.generation, "generation", "", "display generation: auto, gen1 or gen2")
	flag.StringVar(&o.framebuffer, "framebuffer", "", "gen1 framebuffer device path")
	flag.StringVar(&o.devices, "devices", "", "comma separated input devices (buttons,multitouch,stylus)")
	flag.StringVar(&o.relayURL, "relay", "", "websocket URL to relay input events to")
	flag.StringVar(&o.logLevel, "log-level", "", "log level")
	flag.BoolVar(&o.banner, "banner", false, "draw a status banner on start")
	flag.BoolVar(&o.echo, "echo", false, "mark touches and pen contacts on the panel")
	flag.BoolVar(&o.tailnet, "tailnet", false, "dial the relay through tailscale")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, o)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("rmhal exited")
	}
}

func applyOverrides(cfg *config.Config, o overrides) {
	if o.generation != "" {
		cfg.Display.Generation = o.generation
	}
	if o.framebuffer != "" {
		cfg.Display.Framebuffer = o.framebuffer
	}
	if o.devices != "" {
		var devices []string
		for _, name := range strings.Split(o.devices, ",") {
			if name = strings.TrimSpace(name); name != "" {
				devices = append(devices, name)
			}
		}
		cfg.Input.Devices = devices
	}
	if o.relayURL != "" {
		cfg.Relay.URL = o.relayURL
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	cfg.Display.Banner = o.banner || cfg.Display.Banner
	cfg.Input.Echo = o.echo || cfg.Input.Echo
	cfg.Relay.Tailnet.Enabled = o.tailnet || cfg.Relay.Tailnet.Enabled
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if parsed, err := zerolog.ParseLevel(level); err == nil {
		log.Logger = log.Level(parsed)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts, err := cfg.DisplayOptions()
	if err != nil {
		return err
	}
	opts.Logger = log.Logger
	backend, gen, err := display.Open(opts)
	if err != nil {
		return fmt.Errorf("open display: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn().Err(err).Msg("display close failed")
		}
	}()
	geometry := eink.GeometryOf(backend.VarScreenInfo(), backend.FixScreenInfo())

	handler := canvas.NewHandler(backend, cfg.Input.Echo, log.Logger)
	if cfg.Display.Banner {
		res, err := handler.ShowBanner("rmhal", gen.String(), fmt.Sprintf("%dx%d %dbpp", geometry.Width, geometry.Height, geometry.BPP))
		if err != nil {
			log.Warn().Err(err).Msg("banner failed")
		} else {
			log.Info().Uint32("marker", res.Marker).Bool("completed", res.Completed).Msg("banner shown")
		}
	}

	pm := &power.Manager{
		SuspendEnabled: cfg.Power.Suspend,
		IdleTimeout:    cfg.Power.IdleTimeout,
		LongPress:      cfg.Power.LongPress,
		Logger:         log.Logger,
		OnLongPress: func() {
			log.Info().Msg("power long press: exiting")
			cancel()
		},
		OnResume: func() {
			log.Info().Msg("resumed")
		},
	}
	go func() {
		_ = pm.Run(ctx)
	}()

	classes, err := cfg.DeviceClasses()
	if err != nil {
		return err
	}
	mux := input.New(input.Options{
		Paths:       cfg.InputPaths(gen),
		Orientation: cfg.InputOrientation(gen),
		Buffer:      cfg.Input.Buffer,
		Logger:      log.Logger,
	})
	defer func() {
		_ = mux.Close()
	}()
	var started []string
	for _, class := range classes {
		if err := mux.Start(class); err != nil {
			log.Warn().Err(err).Str("device", class.String()).Msg("input device unavailable")
			continue
		}
		started = append(started, class.String())
		if cal, ok := mux.Calibration(class); ok {
			handler.SetCalibration(class, cal)
		}
	}

	var sink *relay.Client
	relayDone := make(chan error, 1)
	if cfg.Relay.URL != "" {
		client, closeDialer, err := newRelay(cfg, buildHello(gen, geometry, started), handler, pm)
		if err != nil {
			return err
		}
		defer closeDialer()
		sink = client
		go func() {
			relayDone <- client.Run(ctx)
		}()
	}

	go func() {
		<-ctx.Done()
		_ = mux.Close()
	}()

	if len(started) == 0 {
		log.Warn().Msg("no input devices started")
		<-ctx.Done()
		return ctx.Err()
	}
	for ev := range mux.Events() {
		logEvent(log.Logger, ev)
		pm.HandleEvent(ev)
		handler.HandleEvent(ev)
		if sink != nil {
			if err := sink.Publish(ev); err != nil && !errors.Is(err, relay.ErrNotConnected) {
				log.Warn().Err(err).Msg("relay publish failed")
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Warn().Msg("all input readers ended")
	if sink != nil {
		select {
		case <-ctx.Done():
		case err := <-relayDone:
			return err
		}
	}
	return ctx.Err()
}

func newRelay(cfg *config.Config, hello relay.Hello, handler *canvas.Handler, pm *power.Manager) (*relay.Client, func(), error) {
	closeDialer := func() {}
	rc := relay.Config{
		URL:    cfg.Relay.URL,
		Header: http.Header{"User-Agent": {cfg.Relay.UserAgent}},
		Hello:  hello,
		Logger: log.Logger,
		OnCommand: func(ctx context.Context, req relay.CommandRequest) (interface{}, error) {
			release := pm.Hold()
			defer release()
			return handler.HandleInvokeRequest(ctx, canvas.InvokeRequest{Command: req.Command, Args: req.Args})
		},
	}
	if cfg.Relay.Tailnet.Enabled {
		tail, err := tailnet.New(tailnet.Config{
			Hostname:  cfg.Relay.Tailnet.Hostname,
			StateDir:  cfg.Relay.Tailnet.StateDir,
			AuthKey:   cfg.Relay.Tailnet.AuthKey,
			Ephemeral: cfg.Relay.Tailnet.Ephemeral,
			Logger:    log.Logger,
		})
		if err != nil {
			return nil, nil, err
		}
		rc.Dialer = tail.DialContext
		closeDialer = func() {
			_ = tail.Close()
		}
	}
	return relay.New(rc), closeDialer, nil
}

func buildHello(gen display.Generation, g eink.Geometry, inputs []string) relay.Hello {
	hostname, _ := os.Hostname()
	return relay.Hello{
		Device:     hostname,
		Generation: gen.String(),
		Width:      g.Width,
		Height:     g.Height,
		Inputs:     inputs,
		Commands:   []string{"display.refresh", "display.banner", "display.clear", "display.snapshot"},
	}
}

func logEvent(logger zerolog.Logger, ev input.Event) {
	e := logger.Debug().Str("source", ev.Source().String())
	switch v := ev.(type) {
	case input.KeyEvent:
		e = e.Uint16("code", v.Code).Stringer("state", v.State)
	case input.TouchEvent:
		e = e.Int("slot", v.Slot).Int32("id", v.TrackingID).Stringer("phase", v.Phase).Int32("x", v.X).Int32("y", v.Y)
	case input.PenEvent:
		e = e.Stringer("tool", v.Tool).Int32("x", v.X).Int32("y", v.Y).Int32("pressure", v.Pressure).Bool("touching", v.Touching)
	}
	e.Msg("input event")
}
