package swtfb

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync/atomic"
	"time"

	"github.com/openclaw/remarkable-hal/internal/eink"
	"github.com/openclaw/remarkable-hal/internal/namedsem"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	DefaultBufferPath  = "/dev/shm/swtfb.01"
	DefaultWaitTimeout = 200 * time.Millisecond
)

var ErrGeometryFixed = errors.New("swtfb: geometry is owned by the server")

type Config struct {
	// Queue overrides the SysV queue opened from QueueKey.
	Queue       Queue
	QueueKey    int
	BufferPath  string
	SemDir      string
	WaitTimeout time.Duration
	// NoWait skips WaitForUpdateComplete. RM2FB_NO_WAIT_IOCTL has the same
	// effect.
	NoWait  bool
	Session *Session
	PID     int
	Logger  zerolog.Logger
}

// Client is the gen2 display backend. It satisfies eink.Backend.
type Client struct {
	queue       Queue
	logger      zerolog.Logger
	marker      eink.Marker
	file        *os.File
	data        []byte
	semDir      string
	waitTimeout time.Duration
	noWait      bool
	pid         int
	nested      bool
	closed      atomic.Bool
}

var _ eink.Backend = (*Client)(nil)

// Connect opens the queue, maps the shared buffer and then registers with
// the session. On failure nothing is left open and the session is unchanged.
func Connect(cfg Config) (*Client, error) {
	applyDefaults(&cfg)

	queue := cfg.Queue
	if queue == nil {
		var err error
		if queue, err = OpenQueue(cfg.QueueKey); err != nil {
			return nil, err
		}
	}
	c := &Client{
		queue:       queue,
		logger:      cfg.Logger,
		semDir:      cfg.SemDir,
		waitTimeout: cfg.WaitTimeout,
		noWait:      cfg.NoWait,
		pid:         cfg.PID,
	}
	if err := c.openBuffer(cfg.BufferPath); err != nil {
		if rmErr := queue.Remove(); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return nil, err
	}
	c.nested = cfg.Session.Register()
	c.logger.Debug().
		Bool("nested", c.nested).
		Bool("wait", !c.noWait).
		Str("buffer", cfg.BufferPath).
		Msg("swtfb client connected")
	return c, nil
}

func applyDefaults(cfg *Config) {
	if cfg.QueueKey == 0 {
		cfg.QueueKey = QueueKey
	}
	if cfg.BufferPath == "" {
		cfg.BufferPath = DefaultBufferPath
	}
	if cfg.SemDir == "" {
		cfg.SemDir = namedsem.DefaultDir
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if _, ok := os.LookupEnv(EnvNoWait); ok {
		cfg.NoWait = true
	}
	if cfg.Session == nil {
		cfg.Session = ProcessSession()
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
}

func (c *Client) openBuffer(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("swtfb: open %s: %w", path, err)
	}
	if err := file.Truncate(BufferSize); err != nil {
		_ = file.Close()
		return fmt.Errorf("swtfb: truncate %s: %w", path, err)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, BufferSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("swtfb: mmap %s: %w", path, err)
	}
	c.file = file
	c.data = data
	return nil
}

// Nested reports whether another client was active when this one connected.
func (c *Client) Nested() bool {
	return c.nested
}

// Frame returns the shared RGB565 buffer. Once an update covering a region
// is sent, the server may read that region at any time.
func (c *Client) Frame() []byte {
	return c.data
}

func (c *Client) FixScreenInfo() eink.FixScreeninfo {
	return eink.FixScreeninfo{
		SMemLen:    BufferSize,
		LineLength: Width * 2,
	}
}

func (c *Client) VarScreenInfo() eink.VarScreeninfo {
	return eink.VarScreeninfo{
		XRes:         Width,
		YRes:         Height,
		XResVirtual:  Width,
		YResVirtual:  Height,
		BitsPerPixel: 16,
		Red:          eink.Bitfield{Offset: 11, Length: 5},
		Green:        eink.Bitfield{Offset: 5, Length: 6},
		Blue:         eink.Bitfield{Offset: 0, Length: 5},
	}
}

func (c *Client) PutVarScreenInfo(eink.VarScreeninfo) error {
	return ErrGeometryFixed
}

func (c *Client) send(m Message) error {
	if c.closed.Load() {
		return fmt.Errorf("swtfb: send %s: client closed", m.Type)
	}
	frame, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := c.queue.Send(frame); err != nil {
		return fmt.Errorf("swtfb: send %s: %w", m.Type, err)
	}
	return nil
}

// SendUpdate posts an UPDATE for update.Region and returns its marker.
func (c *Client) SendUpdate(update eink.Update) (uint32, error) {
	if err := update.Validate(image.Rect(0, 0, Width, Height)); err != nil {
		return 0, err
	}
	marker := c.marker.Next()
	err := c.send(Message{Type: MsgUpdate, Update: update.Data(marker)})
	return marker, err
}

// SendExternalUpdate posts a region reported by xochitl's own drawing path.
func (c *Client) SendExternalUpdate(data XochitlData) error {
	return c.send(Message{Type: MsgExternalUpdate, External: data})
}

// WaitForUpdateComplete asks the server to post /rm2fb.wait.<pid> and waits
// for it until the wait timeout after the call. The marker is not part of
// the protocol; the server signals once its queue is drained. A timeout
// returns (false, nil), as does a client configured not to wait.
func (c *Client) WaitForUpdateComplete(uint32) (bool, error) {
	if c.noWait {
		return false, nil
	}
	deadline := time.Now().Add(c.waitTimeout)
	name := fmt.Sprintf("/rm2fb.wait.%d", c.pid)
	wait, err := NewWaitData(name)
	if err != nil {
		return false, err
	}
	if err := c.send(Message{Type: MsgWait, Wait: wait}); err != nil {
		return false, err
	}
	defer func() {
		if err := namedsem.Unlink(c.semDir, name); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("sem", name).Msg("unlink wait semaphore")
		}
	}()
	sem, err := namedsem.Open(c.semDir, name)
	if err != nil {
		return false, err
	}
	defer sem.Close()
	done, err := sem.TimedWait(deadline)
	if err != nil {
		return false, err
	}
	if !done {
		c.logger.Debug().Dur("timeout", c.waitTimeout).Msg("update completion not confirmed")
	}
	return done, nil
}

// Close unmaps the buffer and destroys the message queue. A queue that
// cannot be destroyed would wedge later server/client pairs, so that failure
// panics.
func (c *Client) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if c.data != nil {
		errs = append(errs, unix.Munmap(c.data))
		c.data = nil
	}
	if c.file != nil {
		errs = append(errs, c.file.Close())
		c.file = nil
	}
	if err := c.queue.Remove(); err != nil {
		panic(fmt.Sprintf("swtfb: destroy message queue: %v", err))
	}
	return errors.Join(errs...)
}
