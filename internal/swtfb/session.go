package swtfb

import (
	"os"
	"sync"
)

const (
	EnvActive = "RM2FB_ACTIVE"
	EnvNested = "RM2FB_NESTED"
	EnvNoWait = "RM2FB_NO_WAIT_IOCTL"
)

// Session records whether this process is the primary rm2fb client or a
// nested one. The process session is seeded from the environment so a child
// of an active client starts out nested, and it is exported back so our own
// children see it. Markers are set on Register and never cleared.
//
// Nesting is only recorded: a nested client talks to the same queue as the
// primary one.
type Session struct {
	mu     sync.Mutex
	active bool
	nested bool
	export bool
}

// NewSession returns a session that is neither active nor exported.
func NewSession() *Session {
	return &Session{}
}

var processSession = sync.OnceValue(newProcessSession)

func newProcessSession() *Session {
	s := &Session{export: true}
	_, s.active = os.LookupEnv(EnvActive)
	_, s.nested = os.LookupEnv(EnvNested)
	return s
}

// ProcessSession returns the session shared by every client in the process.
func ProcessSession() *Session {
	return processSession()
}

// Register marks a new client and reports whether it is nested.
func (s *Session) Register() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.nested = true
		s.setenv(EnvNested)
		return true
	}
	s.active = true
	s.setenv(EnvActive)
	return false
}

// Markers returns the primary and nested markers.
func (s *Session) Markers() (active, nested bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.nested
}

func (s *Session) setenv(key string) {
	if s.export {
		_ = os.Setenv(key, "1")
	}
}
