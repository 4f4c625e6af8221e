// Package consensus implements the propose/vote/commit round used for
// entries two peers could legitimately produce simultaneously. An entry
// commits only when a strict majority of the active peer set accepts it;
// a round that cannot reach quorum within its deadline is abandoned and
// may be re-proposed under a higher round number.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"cosmossdk.io/log"

	"ocpoker/internal/entry"
	"ocpoker/internal/gossip"
	"ocpoker/internal/logstore"
	"ocpoker/internal/ocrypto"
)

var (
	ErrQuorumTimeout       = errors.New("consensus: quorum timeout")
	ErrConflictingProposal = errors.New("consensus: conflicting proposal for round")
	ErrRoundAbandoned      = errors.New("consensus: round abandoned")
)

// Broadcaster is the slice of the gossip engine consensus needs: fanout
// broadcast for PROPOSE/COMMIT and directed replies for VOTE.
type Broadcaster interface {
	Broadcast(ctx context.Context, typ gossip.MessageType, payload []byte)
	SendTo(ctx context.Context, nodeID ocrypto.Hash256, typ gossip.MessageType, payload []byte)
}

// ActivePeerCounter reports how many peers are currently active, which
// fixes the quorum threshold for a round at proposal time.
type ActivePeerCounter interface {
	ActivePeerCount() int
}

// Validator decides whether this node accepts a proposed entry: signature
// checks and table-state legality both live behind this hook so the
// consensus round itself stays protocol-only.
type Validator func(e entry.Entry) error

// ProposePayload opens a round: the leader asks the network to vote on
// one entry.
type ProposePayload struct {
	Round  uint64          `json:"round"`
	Leader ocrypto.Hash256 `json:"leader"`
	Entry  entry.Entry     `json:"entry"`
}

// VotePayload is one peer's accept/reject reply, sent directly to the
// leader.
type VotePayload struct {
	Round  uint64          `json:"round"`
	Leader ocrypto.Hash256 `json:"leader"`
	Voter  ocrypto.Hash256 `json:"voter"`
	Accept bool            `json:"accept"`
}

// CommitPayload closes a round: the leader announces quorum was reached
// and every node appends the entry.
type CommitPayload struct {
	Round  uint64          `json:"round"`
	Leader ocrypto.Hash256 `json:"leader"`
	Entry  entry.Entry     `json:"entry"`
}

// round is the leader-side state of one in-flight proposal.
type round struct {
	number    uint64
	proposed  entry.Entry
	votes     map[ocrypto.Hash256]bool
	quorum    int
	committed bool
	done      chan struct{}
}

// Engine drives consensus rounds for the local node, both as leader
// (Propose) and as voter/acceptor (HandleConsensusMessage, registered
// with the gossip engine).
type Engine struct {
	logger  log.Logger
	self    ocrypto.Hash256
	store   *logstore.Store
	bcast   Broadcaster
	peers   ActivePeerCounter
	check   Validator
	timeout time.Duration

	mu        sync.Mutex
	nextRound uint64
	rounds    map[uint64]*round
}

// New constructs a consensus engine. timeout bounds each round; an
// expired round is abandoned, never silently retried.
func New(logger log.Logger, self ocrypto.Hash256, store *logstore.Store, bcast Broadcaster, peers ActivePeerCounter, check Validator, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Engine{
		logger:  logger.With("module", "consensus"),
		self:    self,
		store:   store,
		bcast:   bcast,
		peers:   peers,
		check:   check,
		timeout: timeout,
		rounds:  make(map[uint64]*round),
	}
}

// Propose leads a new round for e: broadcast PROPOSE, gather votes, and
// on strict majority broadcast COMMIT and install the entry locally.
// Blocks until commit, rejection-by-timeout, or ctx cancellation. The
// caller may re-propose after ErrQuorumTimeout; the new attempt gets a
// fresh, higher round number.
func (c *Engine) Propose(ctx context.Context, e entry.Entry) error {
	active := c.peers.ActivePeerCount()
	quorum := active/2 + 1

	c.mu.Lock()
	c.nextRound++
	r := &round{
		number:   c.nextRound,
		proposed: e,
		votes:    make(map[ocrypto.Hash256]bool),
		quorum:   quorum,
		done:     make(chan struct{}),
	}
	c.rounds[r.number] = r
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.rounds, r.number)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(ProposePayload{Round: r.number, Leader: c.self, Entry: e})
	if err != nil {
		return err
	}
	c.bcast.Broadcast(ctx, gossip.TypePropose, payload)
	c.logger.Info("proposed", "round", r.number, "kind", e.Kind, "quorum", quorum, "active", active)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		c.mu.Lock()
		committed := r.committed
		c.mu.Unlock()
		if !committed {
			return ErrRoundAbandoned
		}
		return nil
	case <-timer.C:
		c.logger.Info("round timed out", "round", r.number)
		return ErrQuorumTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleConsensusMessage implements gossip.ConsensusHandler.
func (c *Engine) HandleConsensusMessage(typ gossip.MessageType, sender ocrypto.Hash256, payload []byte) {
	switch typ {
	case gossip.TypePropose:
		c.onPropose(payload)
	case gossip.TypeVote:
		c.onVote(payload)
	case gossip.TypeCommit:
		c.onCommit(payload)
	}
}

// onPropose validates a remote proposal and replies with a directed VOTE.
func (c *Engine) onPropose(payload []byte) {
	var p ProposePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	if p.Leader == c.self {
		return // our own broadcast looping back
	}
	accept := true
	if c.check != nil {
		if err := c.check(p.Entry); err != nil {
			c.logger.Info("rejecting proposal", "round", p.Round, "leader", p.Leader, "err", err)
			accept = false
		}
	}
	vote, err := json.Marshal(VotePayload{Round: p.Round, Leader: p.Leader, Voter: c.self, Accept: accept})
	if err != nil {
		return
	}
	c.bcast.SendTo(context.Background(), p.Leader, gossip.TypeVote, vote)
}

// onVote tallies a vote for a round this node leads. A quorum of accepts
// triggers the COMMIT broadcast exactly once.
func (c *Engine) onVote(payload []byte) {
	var v VotePayload
	if err := json.Unmarshal(payload, &v); err != nil {
		return
	}
	if v.Leader != c.self {
		return
	}

	c.mu.Lock()
	r, ok := c.rounds[v.Round]
	if !ok || r.committed {
		c.mu.Unlock()
		return
	}
	r.votes[v.Voter] = v.Accept
	accepts := 0
	for _, a := range r.votes {
		if a {
			accepts++
		}
	}
	reached := accepts >= r.quorum
	if reached {
		r.committed = true
	}
	entryCopy := r.proposed
	number := r.number
	c.mu.Unlock()

	if !reached {
		return
	}

	commit, err := json.Marshal(CommitPayload{Round: number, Leader: c.self, Entry: entryCopy})
	if err != nil {
		return
	}
	c.bcast.Broadcast(context.Background(), gossip.TypeCommit, commit)
	c.install(entryCopy)
	c.logger.Info("committed", "round", number, "accepts", accepts)

	c.mu.Lock()
	if r2, ok := c.rounds[number]; ok {
		close(r2.done)
	}
	c.mu.Unlock()
}

// onCommit installs a committed entry announced by a remote leader.
func (c *Engine) onCommit(payload []byte) {
	var cm CommitPayload
	if err := json.Unmarshal(payload, &cm); err != nil {
		return
	}
	if cm.Leader == c.self {
		return
	}
	c.install(cm.Entry)
}

func (c *Engine) install(e entry.Entry) {
	err := c.store.InstallRemote(e)
	switch {
	case err == nil, errors.Is(err, logstore.ErrDuplicate):
	default:
		c.logger.Error("install committed entry", "origin", e.OriginNodeID, "seq", e.Sequence, "err", err)
	}
}

// VoteCount returns (accepts, total) for a round this node leads, for
// status surfaces and tests.
func (c *Engine) VoteCount(roundNumber uint64) (accepts, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rounds[roundNumber]
	if !ok {
		return 0, 0
	}
	for _, a := range r.votes {
		if a {
			accepts++
		}
	}
	return accepts, len(r.votes)
}
