package gossip

import (
	"crypto/rand"
	"math/big"
	"sync"
)

// queuedMessage is one outbound message waiting in the mix pool.
type queuedMessage struct {
	address string
	msg     Message
}

// mixPool batches non-priority outbound messages and releases a random
// fraction of them in randomized order once the pool is large enough,
// so an observer correlating send times against game events sees batches
// rather than individual messages.
type mixPool struct {
	mu      sync.Mutex
	minSize int
	queue   []queuedMessage
}

func newMixPool(minSize int) *mixPool {
	return &mixPool{minSize: minSize}
}

// deposit adds a message to the pool.
func (m *mixPool) deposit(address string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queuedMessage{address: address, msg: msg})
}

// drain releases messages if the pool has reached its minimum size: a
// random count of at most half the pool (a single-message pool releases
// that message), removed at random positions and returned in randomized
// order. An undersized or empty pool releases nothing.
func (m *mixPool) drain() []queuedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 || (m.minSize > 0 && len(m.queue) < m.minSize) {
		return nil
	}
	max := len(m.queue) / 2
	if max == 0 {
		max = len(m.queue)
	}
	n := 1 + randIntn(max)

	out := make([]queuedMessage, 0, n)
	for i := 0; i < n; i++ {
		j := randIntn(len(m.queue))
		out = append(out, m.queue[j])
		m.queue[j] = m.queue[len(m.queue)-1]
		m.queue = m.queue[:len(m.queue)-1]
	}
	return out
}

// flush empties the pool unconditionally, in randomized order. Used at
// shutdown so queued messages are not silently lost.
func (m *mixPool) flush() []queuedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	for i := len(out) - 1; i > 0; i-- {
		j := randIntn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// randIntn draws a uniform integer in [0, n) from the CSPRNG. Mixing and
// probabilistic forwarding are privacy mechanisms, so a predictable PRNG
// would defeat their purpose.
func randIntn(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
