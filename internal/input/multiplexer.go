package input

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("input: multiplexer closed")

// DefaultBuffer is the capacity of the merged event channel.
const DefaultBuffer = 64

// Gen1Paths are the reMarkable 1 event devices.
var Gen1Paths = map[DeviceClass]string{
	Buttons:    "/dev/input/event2",
	Multitouch: "/dev/input/event1",
	Stylus:     "/dev/input/event0",
}

// Gen2Paths are the reMarkable 2 event devices.
var Gen2Paths = map[DeviceClass]string{
	Buttons:    "/dev/input/event0",
	Multitouch: "/dev/input/event2",
	Stylus:     "/dev/input/event1",
}

type Options struct {
	// Paths maps each class to its device file. Defaults to Gen1Paths.
	Paths map[DeviceClass]string
	// Orientation is combined with the axis ranges read by Start. Defaults
	// to Gen1Orientation.
	Orientation map[DeviceClass]Orientation
	Buffer      int
	Logger      zerolog.Logger
}

// Multiplexer merges any number of device readers into one channel. Each
// source keeps its own order; the interleaving across sources is whatever
// order the readers happened to deliver in.
//
// The channel closes once every reader has exited and the consumer has begun
// draining (the first Events or Recv call), or after Close.
type Multiplexer struct {
	paths       map[DeviceClass]string
	orientation map[DeviceClass]Orientation
	logger      zerolog.Logger
	events      chan Event
	done        chan struct{}

	mu           sync.Mutex
	sources      []io.ReadCloser
	calibrations map[DeviceClass]Calibration
	active       int
	draining     bool
	shutdown     bool
	finished     bool
}

func New(opts Options) *Multiplexer {
	if opts.Paths == nil {
		opts.Paths = Gen1Paths
	}
	if opts.Orientation == nil {
		opts.Orientation = Gen1Orientation
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Multiplexer{
		paths:        opts.Paths,
		orientation:  opts.Orientation,
		logger:       opts.Logger,
		events:       make(chan Event, opts.Buffer),
		done:         make(chan struct{}),
		calibrations: make(map[DeviceClass]Calibration),
	}
}

// Path reports the device file used for class.
func (m *Multiplexer) Path(class DeviceClass) (string, bool) {
	path, ok := m.paths[class]
	return path, ok
}

// Start opens the device file configured for class and reads it. For touch
// and pen devices the axis ranges are read first, see Calibration.
func (m *Multiplexer) Start(class DeviceClass) error {
	path, ok := m.paths[class]
	if !ok {
		return fmt.Errorf("input: no device configured for %s", class)
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("input: open %s device %s: %w", class, path, err)
	}
	if cal, err := calibrate(file, class, m.orientation[class]); err == nil {
		m.SetCalibration(class, cal)
		m.logger.Debug().
			Str("device", class.String()).
			Interface("x", cal.X).
			Interface("y", cal.Y).
			Msg("input axes calibrated")
	} else if !errors.Is(err, errNoPosition) {
		m.logger.Debug().Err(err).Str("device", class.String()).Msg("input axes unknown")
	}
	if err := m.Attach(class, file); err != nil {
		_ = file.Close()
		return err
	}
	m.logger.Info().Str("device", class.String()).Str("path", path).Msg("input device started")
	return nil
}

// Calibration returns the panel mapping for class, if one is known.
func (m *Multiplexer) Calibration(class DeviceClass) (Calibration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cal, ok := m.calibrations[class]
	return cal, ok
}

// SetCalibration records the panel mapping for class, for sources bound with
// Attach or devices whose ranges cannot be queried.
func (m *Multiplexer) SetCalibration(class DeviceClass, cal Calibration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibrations[class] = cal
}

// Attach reads src as a device of the given class. The multiplexer owns src
// from here on and closes it on Close.
func (m *Multiplexer) Attach(class DeviceClass, src io.ReadCloser) error {
	m.mu.Lock()
	if m.shutdown || m.finished {
		m.mu.Unlock()
		return ErrClosed
	}
	m.sources = append(m.sources, src)
	m.active++
	m.mu.Unlock()

	r := newReader(class, src, m.logger)
	go func() {
		defer m.readerDone()
		r.run(m.emit)
	}()
	return nil
}

func (m *Multiplexer) emit(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Multiplexer) readerDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
	m.finishLocked()
}

func (m *Multiplexer) finishLocked() {
	if m.finished || m.active > 0 {
		return
	}
	if m.draining || m.shutdown {
		m.finished = true
		close(m.events)
	}
}

// Events returns the merged stream.
func (m *Multiplexer) Events() <-chan Event {
	m.mu.Lock()
	if !m.draining {
		m.draining = true
		m.finishLocked()
	}
	m.mu.Unlock()
	return m.events
}

// Recv blocks for the next event. ok is false once the stream has closed.
func (m *Multiplexer) Recv() (Event, bool) {
	ev, ok := <-m.Events()
	return ev, ok
}

// Close closes every attached source, which ends their readers, and closes
// the stream once they have exited. Events already buffered stay readable.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	sources := m.sources
	m.sources = nil
	close(m.done)
	m.finishLocked()
	m.mu.Unlock()

	var errs []error
	for _, src := range sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
