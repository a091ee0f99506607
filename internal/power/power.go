// Package power turns power-key presses and inactivity into suspend and
// shutdown requests.
package power

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openclaw/remarkable-hal/internal/input"
	"github.com/rs/zerolog"
)

var (
	ErrSuspendInProgress = errors.New("power: suspend already in progress")
	ErrSuspendBlocked    = errors.New("power: suspend blocked")
)

const (
	DefaultLongPress = 3 * time.Second
	DefaultStatePath = "/sys/power/state"
)

type timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

type clock interface {
	Now() time.Time
	NewTimer(d time.Duration) timer
}

type systemClock struct{}

func (systemClock) Now() time.Time                 { return time.Now() }
func (systemClock) NewTimer(d time.Duration) timer { return &systemTimer{timer: time.NewTimer(d)} }

type systemTimer struct {
	timer *time.Timer
}

func (t *systemTimer) C() <-chan time.Time        { return t.timer.C }
func (t *systemTimer) Stop() bool                 { return t.timer.Stop() }
func (t *systemTimer) Reset(d time.Duration) bool { return t.timer.Reset(d) }

// Manager suspends the tablet on a short power-key press or after
// IdleTimeout without input, and reports long presses to OnLongPress.
type Manager struct {
	IdleTimeout    time.Duration
	SuspendEnabled bool
	// LongPress is how long the power key must be held to count as a long
	// press. Defaults to DefaultLongPress.
	LongPress   time.Duration
	OnLongPress func()
	OnSuspend   func()
	OnResume    func()
	Logger      zerolog.Logger

	clock        clock
	suspendFunc  func() error
	debounce     time.Duration
	initOnce     sync.Once
	idleMu       sync.Mutex
	idleTimer    timer
	suspending   atomic.Bool
	busy         atomic.Int32
	lastWakeNano atomic.Int64

	keyMu     sync.Mutex
	pressedAt time.Time
}

// HandleEvent counts every event as activity and acts on the power key.
func (m *Manager) HandleEvent(ev input.Event) {
	m.init()
	m.ResetIdle()
	key, ok := ev.(input.KeyEvent)
	if !ok || key.Code != input.KEYPower {
		return
	}
	switch key.State {
	case input.KeyPressed:
		m.keyMu.Lock()
		m.pressedAt = key.At
		m.keyMu.Unlock()
	case input.KeyReleased:
		m.keyMu.Lock()
		pressedAt := m.pressedAt
		m.pressedAt = time.Time{}
		m.keyMu.Unlock()
		if pressedAt.IsZero() {
			return
		}
		held := key.At.Sub(pressedAt)
		if held >= m.LongPress {
			m.Logger.Info().Dur("held", held).Msg("power key long press")
			if m.OnLongPress != nil {
				m.OnLongPress()
			}
			return
		}
		if err := m.Suspend(); err != nil {
			m.Logger.Warn().Err(err).Msg("suspend failed")
		}
	}
}

// Hold blocks suspend until the returned release func is called.
func (m *Manager) Hold() (release func()) {
	m.busy.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { m.busy.Add(-1) })
	}
}

func (m *Manager) ResetIdle() {
	m.init()
	if !m.SuspendEnabled || m.IdleTimeout <= 0 {
		return
	}
	m.idleMu.Lock()
	defer m.idleMu.Unlock()
	if m.idleTimer == nil {
		m.idleTimer = m.clock.NewTimer(m.IdleTimeout)
		return
	}
	if !m.idleTimer.Stop() {
		drainTimer(m.idleTimer)
	}
	m.idleTimer.Reset(m.IdleTimeout)
}

func (m *Manager) Suspend() error {
	m.init()
	if !m.SuspendEnabled {
		return nil
	}
	if !m.suspending.CompareAndSwap(false, true) {
		return ErrSuspendInProgress
	}
	defer m.suspending.Store(false)
	if !m.canSuspend() {
		return ErrSuspendBlocked
	}
	if m.OnSuspend != nil {
		m.OnSuspend()
	}
	m.Logger.Info().Msg("suspending")
	if err := m.suspendFunc(); err != nil {
		return err
	}
	m.lastWakeNano.Store(m.clock.Now().UnixNano())
	if m.OnResume != nil {
		m.OnResume()
	}
	m.ResetIdle()
	return nil
}

// Run drives idle suspend until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.init()
	if !m.SuspendEnabled || m.IdleTimeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	m.idleMu.Lock()
	if m.idleTimer == nil {
		m.idleTimer = m.clock.NewTimer(m.IdleTimeout)
	}
	timer := m.idleTimer
	m.idleMu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			if err := m.Suspend(); err != nil {
				m.Logger.Debug().Err(err).Msg("idle suspend skipped")
			}
			m.ResetIdle()
		}
	}
}

func (m *Manager) canSuspend() bool {
	if m.busy.Load() > 0 {
		return false
	}
	if last := m.lastWakeNano.Load(); last != 0 {
		if m.clock.Now().Sub(time.Unix(0, last)) < m.debounce {
			return false
		}
	}
	return true
}

func (m *Manager) init() {
	m.initOnce.Do(func() {
		if m.clock == nil {
			m.clock = systemClock{}
		}
		if m.suspendFunc == nil {
			m.suspendFunc = suspendToRAM
		}
		if m.debounce == 0 {
			m.debounce = 30 * time.Second
		}
		if m.LongPress <= 0 {
			m.LongPress = DefaultLongPress
		}
	})
}

func drainTimer(t timer) {
	for {
		select {
		case <-t.C():
		default:
			return
		}
	}
}

func suspendToRAM() error {
	return os.WriteFile(DefaultStatePath, []byte("mem"), 0)
}
