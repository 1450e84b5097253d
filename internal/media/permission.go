package media

import (
	"context"
	"sync"
)

// AccessGate acquires and releases local camera and microphone access
type AccessGate interface {
	Acquire(ctx context.Context) error
	Release()
}

// PermissionGate is an AccessGate fed by the client's permission prompt.
// Acquire blocks until the client has answered or ctx is done.
type PermissionGate struct {
	mu       sync.Mutex
	decided  chan struct{}
	answered bool
	granted  bool
	holders  int
}

// NewPermissionGate creates a gate with no answer yet
func NewPermissionGate() *PermissionGate {
	return &PermissionGate{decided: make(chan struct{})}
}

// Resolve records the client's answer. Later answers replace earlier ones.
func (g *PermissionGate) Resolve(granted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.granted = granted
	if !g.answered {
		g.answered = true
		close(g.decided)
	}
}

func (g *PermissionGate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	decided := g.decided
	g.mu.Unlock()

	select {
	case <-decided:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.granted {
		return ErrMediaAccess
	}
	g.holders++
	return nil
}

func (g *PermissionGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holders > 0 {
		g.holders--
	}
}

// Holders returns the number of connections currently holding access
func (g *PermissionGate) Holders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holders
}
