package transport

import (
	"errors"
	"sync"

	"github.com/ageniuscoder/mmchat/realtime/internal/config"
)

var ErrAlreadyInitialized = errors.New("transport already initialized")

var (
	defaultMu      sync.Mutex
	defaultSession *Session
)

// Init creates the process-wide session. A second call returns the existing
// session together with ErrAlreadyInitialized.
func Init(cfg config.Client, opts ...Option) (*Session, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSession != nil {
		return defaultSession, ErrAlreadyInitialized
	}
	defaultSession = New(cfg, opts...)
	return defaultSession, nil
}

// Default returns the session created by Init, or nil.
func Default() *Session {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultSession
}

// Destroy tears down the process-wide session. Init may be called again
// afterwards.
func Destroy() {
	defaultMu.Lock()
	s := defaultSession
	defaultSession = nil
	defaultMu.Unlock()
	if s != nil {
		s.Destroy()
	}
}
