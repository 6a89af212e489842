package jtag

import (
	"fmt"
	"sync"

	"github.com/OpenTraceLab/armdbg/pkg/tap"
)

// Locked wraps a Core behind a mutex so multiple Handles (and, one layer
// up, multiple DAP/CTI/Target instances) can share one physical chain
// without tearing each other's scan sequences apart. Go's sync.Mutex is not
// reentrant, so every operation that needs more than one Core call locks
// once for its whole duration rather than nesting locked calls.
type Locked struct {
	mu   sync.Mutex
	Core *Core
}

// NewLocked wraps core for shared use.
func NewLocked(core *Core) *Locked {
	return &Locked{Core: core}
}

func (l *Locked) Lock()   { l.mu.Lock() }
func (l *Locked) Unlock() { l.mu.Unlock() }

// Handle is a TAP handle scoped to one IR length, matching spec.md §4.3's
// TapHandle. It acquires the shared Core's lock for the duration of every
// public method, and forces a Test-Logic-Reset on Close the way the
// original Rust TAP's Drop impl does — Go has no destructors, so callers
// must defer Close() themselves.
type Handle struct {
	shared *Locked
	irLen  int
	closed bool
}

// NewHandle scopes shared to irLen-bit instructions.
func NewHandle(shared *Locked, irLen int) *Handle {
	return &Handle{shared: shared, irLen: irLen}
}

// WriteInstruction shifts a single IR-length instruction into the chain.
func (h *Handle) WriteInstruction(ir uint8) error {
	h.shared.Lock()
	defer h.shared.Unlock()
	return h.shared.Core.WriteIR(ir, h.irLen)
}

// ReadWriteDR shifts data bits through Shift-DR, sampling TDO back into
// data in place.
func (h *Handle) ReadWriteDR(data []bool) error {
	h.shared.Lock()
	defer h.shared.Unlock()
	return h.shared.Core.ReadWriteDR(data)
}

// Close forces the TAP back to Test-Logic-Reset. Safe to call more than
// once; subsequent calls are no-ops.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.shared.Lock()
	defer h.shared.Unlock()
	if err := h.shared.Core.ChangeState(tap.StateTestLogicReset); err != nil {
		return fmt.Errorf("jtag: reset on close: %w", err)
	}
	return nil
}
