package internal

import (
	"sync"

	"github.com/pkg/errors"
)

// FakeHandle is an in-memory service handle whose loss is triggered by Drop.
type FakeHandle struct {
	name string

	mu     sync.Mutex
	onLost []func()
	lost   bool
	closed bool
}

// NewFakeHandle returns a live handle for name.
func NewFakeHandle(name string) *FakeHandle {
	return &FakeHandle{name: name}
}

func (h *FakeHandle) Name() string { return h.name }

func (h *FakeHandle) NotifyLost(fn func()) {
	h.mu.Lock()
	if h.lost {
		h.mu.Unlock()
		fn()
		return
	}
	h.onLost = append(h.onLost, fn)
	h.mu.Unlock()
}

// Drop simulates the remote side going away.
func (h *FakeHandle) Drop() {
	h.mu.Lock()
	if h.lost {
		h.mu.Unlock()
		return
	}
	h.lost = true
	fns := h.onLost
	h.onLost = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Closed reports whether Close was called.
func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// ErrUnreachable is what FakeConnector returns while a service is down.
var ErrUnreachable = errors.New("service unreachable")

// FakeConnector hands out FakeHandles for names marked up and counts every
// attempt. Attempts may arrive from any goroutine.
type FakeConnector struct {
	mu       sync.Mutex
	up       map[string]bool
	attempts map[string]int
	issued   map[string][]*FakeHandle
}

// NewFakeConnector returns a connector with every service down.
func NewFakeConnector() *FakeConnector {
	return &FakeConnector{
		up:       map[string]bool{},
		attempts: map[string]int{},
		issued:   map[string][]*FakeHandle{},
	}
}

// SetUp marks name reachable or not.
func (c *FakeConnector) SetUp(name string, up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.up[name] = up
}

// Connect makes one attempt.
func (c *FakeConnector) Connect(name string) (*FakeHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[name]++
	if !c.up[name] {
		return nil, errors.Wrap(ErrUnreachable, name)
	}
	h := NewFakeHandle(name)
	c.issued[name] = append(c.issued[name], h)
	return h, nil
}

// Attempts returns how many connection attempts name has seen.
func (c *FakeConnector) Attempts(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[name]
}

// Latest returns the most recent handle issued for name.
func (c *FakeConnector) Latest(name string) *FakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.issued[name]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}
