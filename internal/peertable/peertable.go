// Package peertable tracks this node's view of the gossip network: one
// entry per peer, refreshed on every received message, aged out on
// inactivity, and ranked by a reliability/latency score for fanout
// selection.
package peertable

import (
	"sort"
	"sync"
	"time"

	"ocpoker/internal/ocrypto"
)

// Peer is one tracked remote node.
type Peer struct {
	NodeID      ocrypto.Hash256
	PublicKey   ocrypto.PublicKey
	Address     string
	LastSeen    time.Time
	Reliability float64 // EWMA over delivery successes, in [0, 1]
	Latency     time.Duration
	Inactive    bool

	// ObservedLatestSequence is the highest log sequence this peer has
	// advertised for its own origin, updated from its announcements.
	ObservedLatestSequence uint64

	// Bond is an optional, informational stake hint carried alongside the
	// reliability score. It carries no protocol weight.
	Bond uint64
}

// score ranks a peer for fanout selection: reliability weighted down by
// latency, so a fast-but-flaky peer and a slow-but-solid peer can land
// close together rather than one dimension dominating.
func (p Peer) score() float64 {
	latencyFactor := 1.0 / (1.0 + p.Latency.Seconds())
	return p.Reliability * latencyFactor
}

// Table is this node's concurrent-safe peer directory.
type Table struct {
	mu             sync.RWMutex
	peers          map[ocrypto.Hash256]*Peer
	maxPeers       int
	peerTimeout    time.Duration
	evictionFactor time.Duration // a peer inactive longer than peerTimeout*evictionFactor is evicted
}

// New constructs an empty peer table. maxPeers bounds total tracked
// peers (0 disables the bound); peerTimeout marks a peer inactive after
// that long without a refresh, and eviction follows three timeouts later.
func New(maxPeers int, peerTimeout time.Duration) *Table {
	return &Table{
		peers:          make(map[ocrypto.Hash256]*Peer),
		maxPeers:       maxPeers,
		peerTimeout:    peerTimeout,
		evictionFactor: 3,
	}
}

// ErrPeerTableFull is returned by Upsert when the table is at capacity and
// nodeID is not already tracked.
type ErrPeerTableFull struct{}

func (ErrPeerTableFull) Error() string { return "peertable: table full" }

// Upsert refreshes (or inserts) a peer entry in response to any received
// message from it, marking it active and resetting LastSeen.
func (t *Table) Upsert(nodeID ocrypto.Hash256, pub ocrypto.PublicKey, address string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.peers[nodeID]; ok {
		p.PublicKey = pub
		p.Address = address
		p.LastSeen = now
		p.Inactive = false
		return nil
	}
	if t.maxPeers > 0 && len(t.peers) >= t.maxPeers {
		if !t.evictOneLocked() {
			return ErrPeerTableFull{}
		}
	}
	t.peers[nodeID] = &Peer{
		NodeID:      nodeID,
		PublicKey:   pub,
		Address:     address,
		LastSeen:    now,
		Reliability: 0.5,
	}
	return nil
}

// evictOneLocked removes the least-recently-seen peer to make room for a
// new one; returns false if the table holds nothing evictable.
func (t *Table) evictOneLocked() bool {
	var oldest ocrypto.Hash256
	var oldestSeen time.Time
	found := false
	for id, p := range t.peers {
		if !found || p.LastSeen.Before(oldestSeen) {
			oldest, oldestSeen = id, p.LastSeen
			found = true
		}
	}
	if !found {
		return false
	}
	delete(t.peers, oldest)
	return true
}

// Refresh resets LastSeen for an already-tracked peer without touching
// its key or address, in response to any received message from it.
func (t *Table) Refresh(nodeID ocrypto.Hash256, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[nodeID]; ok {
		p.LastSeen = now
		p.Inactive = false
	}
}

// ObserveLatestSequence records the highest sequence a peer has announced
// for its own log.
func (t *Table) ObserveLatestSequence(nodeID ocrypto.Hash256, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[nodeID]; ok && seq > p.ObservedLatestSequence {
		p.ObservedLatestSequence = seq
	}
}

// SetBond records the optional informational stake hint for a peer.
func (t *Table) SetBond(nodeID ocrypto.Hash256, bond uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[nodeID]; ok {
		p.Bond = bond
	}
}

// RecordSuccess applies the success EWMA update: r <- 0.9r + 0.1.
func (t *Table) RecordSuccess(nodeID ocrypto.Hash256, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[nodeID]
	if !ok {
		return
	}
	p.Reliability = 0.9*p.Reliability + 0.1
	p.Latency = latency
}

// RecordFailure applies the failure EWMA update: r <- 0.9r.
func (t *Table) RecordFailure(nodeID ocrypto.Hash256) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[nodeID]
	if !ok {
		return
	}
	p.Reliability = 0.9 * p.Reliability
}

// Prune marks peers inactive past peerTimeout and evicts those inactive
// past peerTimeout*evictionFactor. Called by the maintenance task.
func (t *Table) Prune(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	evictAt := t.peerTimeout * time.Duration(t.evictionFactor)
	for id, p := range t.peers {
		age := now.Sub(p.LastSeen)
		switch {
		case evictAt > 0 && age > evictAt:
			delete(t.peers, id)
		case t.peerTimeout > 0 && age > t.peerTimeout:
			p.Inactive = true
		}
	}
}

// Get returns a copy of the tracked peer, if any.
func (t *Table) Get(nodeID ocrypto.Hash256) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[nodeID]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Ranked returns every active (non-inactive) peer ordered best-first by
// score.
func (t *Table) Ranked() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Inactive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score() > out[j].score() })
	return out
}

// Fanout returns up to n of the highest-scoring active peers, the set
// gossip forwards a message to each round.
func (t *Table) Fanout(n int) []Peer {
	ranked := t.Ranked()
	if n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}

// ActivePeerCount reports how many tracked peers are currently active.
// Consensus fixes each round's quorum threshold from this count.
func (t *Table) ActivePeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, p := range t.peers {
		if !p.Inactive {
			n++
		}
	}
	return n
}

// Len reports the number of tracked peers (active and inactive).
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
