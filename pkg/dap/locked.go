package dap

import "sync"

// Locked wraps a DAP behind a mutex so pkg/armv8's CTI and Target types can
// share one DAP while still holding the lock across a whole multi-step
// sequence (e.g. a TAR write followed by a BD-window access) instead of
// just a single MemAP call. Mirrors the Rust original's Mutex<DAP<T>>,
// which callers lock explicitly rather than DAP managing its own locking.
type Locked struct {
	mu  sync.Mutex
	DAP *DAP
}

// NewLocked wraps dap for shared use.
func NewLocked(dap *DAP) *Locked {
	return &Locked{DAP: dap}
}

func (l *Locked) Lock()   { l.mu.Lock() }
func (l *Locked) Unlock() { l.mu.Unlock() }
