package service

import (
	"context"
	"sync"
)

// PauseGate blocks workers while the pipeline is paused. Use NewPauseGate.
type PauseGate struct {
	mu     sync.Mutex
	paused bool
	open   chan struct{} // closed while running
	halted chan struct{} // closed while paused
}

func NewPauseGate() *PauseGate {
	open := make(chan struct{})
	close(open)
	return &PauseGate{open: open, halted: make(chan struct{})}
}

// Pause closes the gate. It reports false if the gate was already closed.
func (g *PauseGate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false
	}
	g.paused = true
	g.open = make(chan struct{})
	close(g.halted)
	return true
}

func (g *PauseGate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	g.halted = make(chan struct{})
	close(g.open)
	return true
}

func (g *PauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Opened returns a channel that is closed once the gate is open.
func (g *PauseGate) Opened() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Halted returns a channel that is closed once the gate is paused.
func (g *PauseGate) Halted() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted
}

// Wait returns once the gate is open or ctx is done.
func (g *PauseGate) Wait(ctx context.Context) error {
	select {
	case <-g.Opened():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
