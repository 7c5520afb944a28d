package agent

import "sync/atomic"

// InterruptHandle is a one-shot latch requesting cooperative
// termination of the running turn. The engine checks it between tool
// calls and streaming chunks; nothing is force-killed mid-syscall.
//
// Set is idempotent; Clear re-arms the handle for the next turn.
type InterruptHandle struct {
	set atomic.Bool
}

// NewInterruptHandle returns an unset handle.
func NewInterruptHandle() *InterruptHandle {
	return &InterruptHandle{}
}

// Set raises the interrupt. Safe to call repeatedly.
func (h *InterruptHandle) Set() {
	h.set.Store(true)
}

// IsSet reports whether an interrupt was requested.
func (h *InterruptHandle) IsSet() bool {
	return h.set.Load()
}

// Clear re-arms the handle.
func (h *InterruptHandle) Clear() {
	h.set.Store(false)
}
