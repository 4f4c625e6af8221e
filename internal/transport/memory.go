package transport

import (
	"context"
	"sync"
)

// MemoryAdapter is an in-process Adapter backed by channels, used by tests
// and single-process simulations. It never reorders or duplicates on its
// own, and drops a frame only when the target address is unknown or the
// target's inbox is full; callers wanting to exercise the rest of the
// "best-effort" contract wrap it or inject failures explicitly.
type MemoryAdapter struct {
	mu      sync.Mutex
	inbox   chan inboundFrame
	network *MemoryNetwork
	address string
	closed  bool
}

type inboundFrame struct {
	from  string
	frame []byte
}

// MemoryNetwork is a shared registry of MemoryAdapters addressed by name,
// standing in for a real network in tests.
type MemoryNetwork struct {
	mu    sync.Mutex
	nodes map[string]*MemoryAdapter
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*MemoryAdapter)}
}

// NewAdapter registers and returns a new MemoryAdapter at address.
func (n *MemoryNetwork) NewAdapter(address string) *MemoryAdapter {
	a := &MemoryAdapter{
		inbox:   make(chan inboundFrame, 256),
		address: address,
		network: n,
	}
	n.mu.Lock()
	n.nodes[address] = a
	n.mu.Unlock()
	return a
}

func (n *MemoryNetwork) lookup(address string) (*MemoryAdapter, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.nodes[address]
	return a, ok
}

func (a *MemoryAdapter) Send(ctx context.Context, address string, frame []byte) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil
	}
	target, ok := a.network.lookup(address)
	if !ok {
		return nil // unknown peer: best-effort transport drops silently
	}
	select {
	case target.inbox <- inboundFrame{from: a.address, frame: frame}:
	default:
		// Full inbox: drop, matching the backpressure policy of dropping
		// the newest non-priority message rather than blocking the sender.
	}
	return nil
}

func (a *MemoryAdapter) Receive(ctx context.Context) (string, []byte, error) {
	select {
	case f := <-a.inbox:
		return f.from, f.frame, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
