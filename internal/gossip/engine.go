package gossip

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cosmossdk.io/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"ocpoker/internal/entry"
	"ocpoker/internal/logstore"
	"ocpoker/internal/ocrypto"
	"ocpoker/internal/peertable"
	"ocpoker/internal/transport"
)

// Options are the gossip engine's tunables. DefaultOptions matches the
// documented defaults; node wiring overrides them from loaded config.
type Options struct {
	Interval           time.Duration
	Fanout             int
	TTL                int
	ForwardProbability float64
	ResponseMax        int
	MixMin             int
	SeenCacheSize      int
	MessageExpiry      time.Duration
	NoiseEnabled       bool
	NoiseInterval      time.Duration
	MaintenanceEvery   time.Duration
	InboundQueue       int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Interval:           100 * time.Millisecond,
		Fanout:             8,
		TTL:                7,
		ForwardProbability: 1.0,
		ResponseMax:        256,
		MixMin:             10,
		SeenCacheSize:      10_000,
		MessageExpiry:      5 * time.Minute,
		NoiseEnabled:       false,
		NoiseInterval:      5 * time.Second,
		MaintenanceEvery:   10 * time.Second,
		InboundQueue:       1024,
	}
}

// ConsensusHandler receives the consensus-round messages gossip carries
// but does not interpret. The consensus engine registers itself here.
type ConsensusHandler interface {
	HandleConsensusMessage(typ MessageType, sender ocrypto.Hash256, payload []byte)
}

// Counters are the engine's drop/reject tallies, surfaced instead of
// errors for conditions the protocol treats as routine (bad frames,
// duplicates, overflow). All fields are updated atomically.
type Counters struct {
	BadFrames      atomic.Uint64
	Duplicates     atomic.Uint64
	Malformed      atomic.Uint64
	QueueDropped   atomic.Uint64
	NoSession      atomic.Uint64
	Installed      atomic.Uint64
	RangeRequested atomic.Uint64
}

type inbound struct {
	address string
	frame   []byte
}

// Engine runs the gossip protocol: one announcement round per interval,
// range reconciliation when a peer is ahead, TTL-bounded probabilistic
// forwarding of broadcasts, duplicate suppression, and optional mix-pool
// batching with cover traffic.
type Engine struct {
	logger log.Logger
	opts   Options

	self    ocrypto.Hash256
	store   *logstore.Store
	peers   *peertable.Table
	adapter transport.Adapter

	seen *lru.Cache[ocrypto.Hash256, time.Time]
	mix  *mixPool

	sessMu   sync.RWMutex
	sessions map[string]transport.SessionKeys

	consMu    sync.RWMutex
	consensus ConsensusHandler

	inboundCh chan inbound

	Counters Counters
}

// New constructs an engine. The adapter is best-effort: the engine never
// assumes delivery, ordering, or uniqueness of frames.
func New(logger log.Logger, opts Options, self ocrypto.Hash256, store *logstore.Store, peers *peertable.Table, adapter transport.Adapter) (*Engine, error) {
	seen, err := lru.New[ocrypto.Hash256, time.Time](opts.SeenCacheSize)
	if err != nil {
		return nil, err
	}
	if opts.InboundQueue <= 0 {
		opts.InboundQueue = DefaultOptions().InboundQueue
	}
	return &Engine{
		logger:    logger.With("module", "gossip"),
		opts:      opts,
		self:      self,
		store:     store,
		peers:     peers,
		adapter:   adapter,
		seen:      seen,
		mix:       newMixPool(opts.MixMin),
		sessions:  make(map[string]transport.SessionKeys),
		inboundCh: make(chan inbound, opts.InboundQueue),
	}, nil
}

// SetConsensusHandler registers the consumer of PROPOSE/VOTE/COMMIT
// traffic.
func (g *Engine) SetConsensusHandler(h ConsensusHandler) {
	g.consMu.Lock()
	defer g.consMu.Unlock()
	g.consensus = h
}

// SetSession installs the authenticated-encryption session key for a peer
// address, as established at handshake time. Frames to or from an address
// with no session are dropped.
func (g *Engine) SetSession(address string, keys transport.SessionKeys) {
	g.sessMu.Lock()
	defer g.sessMu.Unlock()
	g.sessions[address] = keys
}

func (g *Engine) session(address string) (transport.SessionKeys, bool) {
	g.sessMu.RLock()
	defer g.sessMu.RUnlock()
	k, ok := g.sessions[address]
	return k, ok
}

// Run starts the engine's long-running cooperative tasks and blocks until
// ctx is cancelled: the receiver (adapter demux), the processor, the
// gossip round ticker, and maintenance. All of them observe ctx and
// unwind promptly on shutdown.
func (g *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.receiveLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.processLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.gossipLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.maintenanceLoop(ctx)
	}()

	if g.opts.NoiseEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.noiseLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	// Shutdown: release whatever the mix pool still holds so queued
	// messages are not silently lost. Best-effort, like every other send.
	flushCtx := context.Background()
	if batch := g.mix.flush(); len(batch) > 0 {
		for _, qm := range batch {
			g.sendNow(flushCtx, qm.address, qm.msg)
		}
		g.logger.Debug("flushed mix pool at shutdown", "messages", len(batch))
	}
	return ctx.Err()
}

// receiveLoop pulls frames off the adapter and hands them to the bounded
// processing queue. A full queue drops the oldest queued frame so fresh
// traffic keeps flowing, recording the incident.
func (g *Engine) receiveLoop(ctx context.Context) {
	for {
		address, frame, err := g.adapter.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			g.logger.Debug("receive error", "err", err)
			continue
		}
		select {
		case g.inboundCh <- inbound{address: address, frame: frame}:
		default:
			select {
			case <-g.inboundCh:
				g.Counters.QueueDropped.Add(1)
			default:
			}
			select {
			case g.inboundCh <- inbound{address: address, frame: frame}:
			default:
				g.Counters.QueueDropped.Add(1)
			}
		}
	}
}

func (g *Engine) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-g.inboundCh:
			g.HandleFrame(ctx, in.address, in.frame)
		}
	}
}

func (g *Engine) gossipLoop(ctx context.Context) {
	ticker := time.NewTicker(g.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.RunRound(ctx)
		}
	}
}

func (g *Engine) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(g.opts.MaintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.peers.Prune(time.Now())
			g.DrainMixPool(ctx)
		}
	}
}

func (g *Engine) noiseLoop(ctx context.Context) {
	ticker := time.NewTicker(g.opts.NoiseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.emitNoise(ctx)
		}
	}
}

// RunRound executes one gossip round: build the local announcement and
// send it to up to Fanout of the best-ranked active peers. Exposed (rather
// than buried in the ticker loop) so tests and simulations can drive
// rounds deterministically.
func (g *Engine) RunRound(ctx context.Context) {
	ann := g.buildAnnouncement()
	if len(ann.Origins) == 0 {
		return
	}
	payload, err := json.Marshal(ann)
	if err != nil {
		g.logger.Error("marshal announcement", "err", err)
		return
	}
	msg := NewMessage(TypeAnnounce, g.self, time.Now().UnixMilli(), g.opts.TTL, payload)
	for _, p := range g.peers.Fanout(g.opts.Fanout) {
		g.enqueue(ctx, p.Address, msg, false)
	}
	g.DrainMixPool(ctx)
}

func (g *Engine) buildAnnouncement() AnnouncePayload {
	var ann AnnouncePayload
	for _, origin := range g.store.Origins() {
		ann.Origins = append(ann.Origins, OriginSequence{
			Origin:         origin,
			LatestSequence: g.store.LatestSequence(origin),
			MerkleRoot:     g.store.MerkleRoot(origin),
		})
	}
	return ann
}

// HandleFrame authenticates, decodes, deduplicates, and dispatches one
// inbound frame. Frames failing authentication are silently dropped per
// the transport contract.
func (g *Engine) HandleFrame(ctx context.Context, address string, frame []byte) {
	keys, ok := g.session(address)
	if !ok {
		g.Counters.NoSession.Add(1)
		return
	}
	body, ok, err := transport.Open(keys, frame)
	if err != nil || !ok {
		g.Counters.BadFrames.Add(1)
		return
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		g.Counters.Malformed.Add(1)
		return
	}
	g.handleMessage(ctx, address, msg)
}

func (g *Engine) handleMessage(ctx context.Context, address string, msg Message) {
	if !g.markSeen(msg.MessageID) {
		g.Counters.Duplicates.Add(1)
		return
	}
	g.peers.Refresh(msg.Sender, time.Now())

	switch msg.Type {
	case TypeAnnounce:
		g.handleAnnounce(ctx, address, msg)
	case TypeRangeRequest:
		g.handleRangeRequest(ctx, address, msg)
	case TypeRangeResponse:
		g.handleRangeResponse(ctx, address, msg)
	case TypePropose, TypeVote, TypeCommit:
		g.consMu.RLock()
		h := g.consensus
		g.consMu.RUnlock()
		if h != nil {
			h.HandleConsensusMessage(msg.Type, msg.Sender, msg.Payload)
		}
		g.forwardBroadcast(ctx, address, msg)
	case TypeNoise:
		// Cover traffic: drop after the dedup bookkeeping above.
	default:
		g.Counters.Malformed.Add(1)
	}
}

// markSeen records a message id in the duplicate-suppression cache,
// reporting whether the id was fresh. Entries older than the expiry
// window count as fresh again so the bounded cache cannot poison
// far-future replays of recycled ids.
func (g *Engine) markSeen(id ocrypto.Hash256) bool {
	now := time.Now()
	if at, ok := g.seen.Get(id); ok {
		if g.opts.MessageExpiry <= 0 || now.Sub(at) < g.opts.MessageExpiry {
			return false
		}
	}
	g.seen.Add(id, now)
	return true
}

func (g *Engine) handleAnnounce(ctx context.Context, address string, msg Message) {
	var ann AnnouncePayload
	if err := json.Unmarshal(msg.Payload, &ann); err != nil {
		g.Counters.Malformed.Add(1)
		return
	}
	for _, adv := range ann.Origins {
		if adv.Origin == msg.Sender {
			g.peers.ObserveLatestSequence(msg.Sender, adv.LatestSequence)
		}
		local := g.store.LatestSequence(adv.Origin)
		if adv.LatestSequence <= local {
			continue
		}
		g.requestRange(ctx, address, adv.Origin, local+1, adv.LatestSequence)
	}
}

func (g *Engine) requestRange(ctx context.Context, address string, origin ocrypto.Hash256, from, to uint64) {
	payload, err := json.Marshal(RangeRequestPayload{Origin: origin, From: from, To: to})
	if err != nil {
		return
	}
	g.Counters.RangeRequested.Add(1)
	msg := NewMessage(TypeRangeRequest, g.self, time.Now().UnixMilli(), 1, payload)
	g.enqueue(ctx, address, msg, true)
}

func (g *Engine) handleRangeRequest(ctx context.Context, address string, msg Message) {
	var req RangeRequestPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		g.Counters.Malformed.Add(1)
		return
	}
	entries := g.store.Range(req.Origin, req.From, req.To)
	if len(entries) == 0 {
		return
	}
	if g.opts.ResponseMax > 0 && len(entries) > g.opts.ResponseMax {
		entries = entries[:g.opts.ResponseMax]
	}
	payload, err := json.Marshal(RangeResponsePayload{Origin: req.Origin, Entries: entries})
	if err != nil {
		return
	}
	resp := NewMessage(TypeRangeResponse, g.self, time.Now().UnixMilli(), 1, payload)
	g.enqueue(ctx, address, resp, true)
}

func (g *Engine) handleRangeResponse(ctx context.Context, address string, msg Message) {
	var resp RangeResponsePayload
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		g.Counters.Malformed.Add(1)
		return
	}
	for _, e := range resp.Entries {
		err := g.store.InstallRemote(e)
		switch {
		case err == nil:
			g.Counters.Installed.Add(1)
		case errors.Is(err, logstore.ErrDuplicate):
			// A redundant path delivered an entry we already hold.
		case errors.Is(err, logstore.ErrOutOfOrder):
			// A gap remains below this entry; ask the same peer for it.
			local := g.store.LatestSequence(e.OriginNodeID)
			if e.Sequence > local+1 {
				g.requestRange(ctx, address, e.OriginNodeID, local+1, e.Sequence)
			}
			return
		default:
			g.logger.Debug("reject remote entry", "origin", e.OriginNodeID, "seq", e.Sequence, "err", err)
			g.peers.RecordFailure(msg.Sender)
			return
		}
	}
	g.peers.RecordSuccess(msg.Sender, 0)
}

// Broadcast sends a consensus-round message to every active peer up to
// the fanout bound. Consensus traffic is priority: it bypasses the mix
// pool.
func (g *Engine) Broadcast(ctx context.Context, typ MessageType, payload []byte) {
	msg := NewMessage(typ, g.self, time.Now().UnixMilli(), g.opts.TTL, payload)
	g.markSeen(msg.MessageID) // never re-forward our own broadcast
	for _, p := range g.peers.Fanout(g.opts.Fanout) {
		g.enqueue(ctx, p.Address, msg, true)
	}
}

// SendTo sends a consensus-round message to one specific peer.
func (g *Engine) SendTo(ctx context.Context, nodeID ocrypto.Hash256, typ MessageType, payload []byte) {
	p, ok := g.peers.Get(nodeID)
	if !ok {
		return
	}
	msg := NewMessage(typ, g.self, time.Now().UnixMilli(), 1, payload)
	g.enqueue(ctx, p.Address, msg, true)
}

// forwardBroadcast re-sends a broadcast to this node's own fanout with a
// decremented TTL, each peer independently forwarded with probability
// ForwardProbability, never back to the address it arrived from.
func (g *Engine) forwardBroadcast(ctx context.Context, fromAddress string, msg Message) {
	if msg.TTL <= 1 {
		return
	}
	fwd := msg
	fwd.TTL--
	for _, p := range g.peers.Fanout(g.opts.Fanout) {
		if p.Address == fromAddress || p.NodeID == msg.Sender {
			continue
		}
		if g.opts.ForwardProbability < 1.0 {
			if float64(randIntn(1_000_000))/1_000_000 >= g.opts.ForwardProbability {
				continue
			}
		}
		g.enqueue(ctx, p.Address, fwd, true)
	}
}

// enqueue routes an outbound message either directly to the wire
// (priority) or into the mix pool for batched, reordered release.
func (g *Engine) enqueue(ctx context.Context, address string, msg Message, priority bool) {
	if !priority && g.opts.MixMin > 0 {
		g.mix.deposit(address, msg)
		return
	}
	g.sendNow(ctx, address, msg)
}

// DrainMixPool releases a batch from the mix pool if it is large enough.
func (g *Engine) DrainMixPool(ctx context.Context) {
	for _, qm := range g.mix.drain() {
		g.sendNow(ctx, qm.address, qm.msg)
	}
}

func (g *Engine) sendNow(ctx context.Context, address string, msg Message) {
	keys, ok := g.session(address)
	if !ok {
		g.Counters.NoSession.Add(1)
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		g.logger.Error("marshal message", "type", msg.Type, "err", err)
		return
	}
	frame, err := transport.Seal(keys, body)
	if err != nil {
		g.logger.Error("seal frame", "err", err)
		return
	}
	if err := g.adapter.Send(ctx, address, frame); err != nil {
		g.logger.Debug("send failed", "address", address, "err", err)
	}
}

// emitNoise sends one dummy message with a random payload and a short TTL
// to a random active peer.
func (g *Engine) emitNoise(ctx context.Context) {
	ranked := g.peers.Ranked()
	if len(ranked) == 0 {
		return
	}
	p := ranked[randIntn(len(ranked))]
	payload, err := ocrypto.RandBytes(64 + randIntn(192))
	if err != nil {
		return
	}
	msg := NewMessage(TypeNoise, g.self, time.Now().UnixMilli(), 2, payload)
	g.enqueue(ctx, p.Address, msg, false)
}

// AnnounceEntry pushes a freshly appended local entry's existence to the
// network without waiting for the next timer tick. Registered as a log
// store observer by node wiring.
func (g *Engine) AnnounceEntry(ctx context.Context, e entry.Entry) {
	if e.OriginNodeID != g.self {
		return
	}
	g.RunRound(ctx)
}
