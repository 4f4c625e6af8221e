// Package node assembles the core components into one runnable peer: the
// identity, the log store, the peer table, the transport adapter, the
// gossip engine, and the consensus engine, plus the persistence glue that
// makes a restart resume where the node left off.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cosmossdk.io/log"

	"ocpoker/internal/config"
	"ocpoker/internal/consensus"
	"ocpoker/internal/entry"
	"ocpoker/internal/gossip"
	"ocpoker/internal/identity"
	"ocpoker/internal/logstore"
	"ocpoker/internal/ocrypto"
	"ocpoker/internal/peertable"
	"ocpoker/internal/replay"
	"ocpoker/internal/transport"
)

// Node is one running peer.
type Node struct {
	cfg    config.Config
	logger log.Logger
	home   string

	id      *identity.Identity
	store   *logstore.Store
	peers   *peertable.Table
	adapter transport.Adapter
	gossip  *gossip.Engine
	cons    *consensus.Engine

	// Static X25519 handshake keypair, derived from the node's identity
	// so peers can compute the mutual session key from published
	// directory data alone.
	handshake transport.HandshakeKeypair

	mu     sync.RWMutex
	known  map[ocrypto.Hash256]ocrypto.PublicKey // node id -> signing key directory
	hsPubs map[ocrypto.Hash256][32]byte          // node id -> static handshake key
}

// New loads (or creates) the node's identity and persisted state under
// home and wires every component together. The adapter is owned by the
// caller until Run, after which the node drives it.
func New(home string, cfg config.Config, logger log.Logger, adapter transport.Adapter) (*Node, error) {
	id, err := identity.Load(home, cfg.DisplayName)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		logger:  logger.With("module", "node"),
		home:    home,
		id:      id,
		peers:   peertable.New(cfg.MaxPeers, cfg.PeerTimeout()),
		adapter: adapter,
		known:   make(map[ocrypto.Hash256]ocrypto.PublicKey),
		hsPubs:  make(map[ocrypto.Hash256][32]byte),
	}
	n.known[id.NodeID()] = id.Public().PublicKey

	hs, err := transport.StaticHandshakeKeypair(id.HandshakeSeed())
	if err != nil {
		return nil, err
	}
	n.handshake = hs

	store, err := logstore.Load(home, cfg.LogInitialCap*64, n.resolvePublicKey)
	if err != nil {
		return nil, err
	}
	n.store = store

	opts := gossip.Options{
		Interval:           cfg.GossipInterval(),
		Fanout:             cfg.GossipFanout,
		TTL:                cfg.MessageTTL,
		ForwardProbability: cfg.ForwardProbability,
		ResponseMax:        cfg.ResponseMaxEntries,
		MixMin:             cfg.MixMin,
		SeenCacheSize:      cfg.SeenMessageCache,
		MessageExpiry:      cfg.MessageExpiry(),
		NoiseEnabled:       cfg.NoiseEnabled,
		NoiseInterval:      cfg.NoiseInterval(),
		MaintenanceEvery:   10 * time.Second,
		InboundQueue:       1024,
	}
	g, err := gossip.New(logger, opts, id.NodeID(), store, n.peers, adapter)
	if err != nil {
		return nil, err
	}
	n.gossip = g

	n.cons = consensus.New(logger, id.NodeID(), store, g, n.peers, n.validateProposal, cfg.ConsensusTimeout())
	g.SetConsensusHandler(n.cons)

	if err := n.loadPeers(); err != nil {
		return nil, err
	}
	return n, nil
}

// resolvePublicKey backs the log store's signature verification: the
// directory of signing keys learned from the identity itself and from
// added peers.
func (n *Node) resolvePublicKey(origin ocrypto.Hash256) (ocrypto.PublicKey, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	pub, ok := n.known[origin]
	return pub, ok
}

// validateProposal is the consensus vote check: the proposed entry must
// carry a valid signature under its claimed origin's registered key and a
// decodable payload of a known kind.
func (n *Node) validateProposal(e entry.Entry) error {
	pub, ok := n.resolvePublicKey(e.OriginNodeID)
	if !ok {
		return logstore.ErrUnknownOrigin
	}
	if !e.VerifySignature(pub) {
		return entry.ErrInvalidSignature
	}
	if entry.IsKnown(e.Kind) {
		if _, err := entry.DecodePayload(e.Kind, e.Payload); err != nil {
			return err
		}
	}
	return nil
}

// AddPeer registers a remote node from its directory entry: signing key,
// static handshake public key, and transport address. The session key for
// the peer's address follows from the two nodes' handshake keys.
func (n *Node) AddPeer(pub ocrypto.PublicKey, handshakePub [32]byte, address string) error {
	nodeID := ocrypto.NodeID(pub)
	if err := n.peers.Upsert(nodeID, pub, address, time.Now()); err != nil {
		return fmt.Errorf("node: add peer: %w", err)
	}
	n.mu.Lock()
	n.known[nodeID] = pub
	n.hsPubs[nodeID] = handshakePub
	n.mu.Unlock()

	n.gossip.SetSession(address, n.handshake.DeriveSession(handshakePub))
	return nil
}

// Run starts the node's long-running tasks and blocks until ctx is
// cancelled, then persists the log store and peer directory before
// returning.
func (n *Node) Run(ctx context.Context) error {
	n.store.Subscribe(func(e entry.Entry) {
		if e.OriginNodeID == n.id.NodeID() {
			n.gossip.AnnounceEntry(context.Background(), e)
		}
	})

	n.logger.Info("node running",
		"id", n.id.NodeID(),
		"peers", n.peers.Len(),
	)
	err := n.gossip.Run(ctx)

	if saveErr := n.store.Save(n.home); saveErr != nil {
		n.logger.Error("persist log store", "err", saveErr)
	}
	if saveErr := n.savePeers(); saveErr != nil {
		n.logger.Error("persist peer table", "err", saveErr)
	}
	if err == context.Canceled {
		return nil
	}
	return err
}

// AppendLocal encodes and appends a new local entry, which the gossip
// observer then announces.
func (n *Node) AppendLocal(kind entry.Kind, tableID uint64, payload any) (entry.Entry, error) {
	raw, err := entry.EncodePayload(payload)
	if err != nil {
		return entry.Entry{}, err
	}
	return n.store.AppendSigned(n.id, kind, tableID, raw)
}

// Propose routes an entry through a consensus round instead of a plain
// append, for entries peers could legitimately contest.
func (n *Node) Propose(ctx context.Context, e entry.Entry) error {
	return n.cons.Propose(ctx, e)
}

// ProposeLocal builds a signed entry at the node's next sequence and
// routes it through a consensus round. On commit the entry lands in the
// log via the consensus engine; the local sequence is not consumed until
// then, so an abandoned round leaves no gap.
func (n *Node) ProposeLocal(ctx context.Context, kind entry.Kind, tableID uint64, payload any) (entry.Entry, error) {
	raw, err := entry.EncodePayload(payload)
	if err != nil {
		return entry.Entry{}, err
	}
	self := n.id.NodeID()
	e := entry.Entry{
		Sequence:     n.store.LatestSequence(self) + 1,
		Timestamp:    time.Now().UnixMilli(),
		OriginNodeID: self,
		Kind:         kind,
		TableID:      tableID,
		Payload:      raw,
	}
	sig, err := n.id.Sign(e.SigningBytes())
	if err != nil {
		return entry.Entry{}, err
	}
	e.Signature = sig
	if err := n.cons.Propose(ctx, e); err != nil {
		return entry.Entry{}, err
	}
	return e, nil
}

// ReplayTable folds every held entry for tableID into a table state.
// Semantic violations in individual entries are logged and skipped rather
// than halting the fold, so one bad entry cannot wedge the whole table.
func (n *Node) ReplayTable(tableID uint64) *replay.Table {
	t := replay.NewTable(tableID)
	for _, e := range n.store.EntriesForTable(tableID) {
		if !entry.IsKnown(e.Kind) {
			n.logger.Info("skipping unknown entry kind in replay", "kind", e.Kind, "seq", e.Sequence)
			continue
		}
		if err := t.Apply(e); err != nil {
			n.logger.Info("skipping entry in replay", "kind", e.Kind, "seq", e.Sequence, "err", err)
		}
	}
	return t
}

// Identity returns the node's identity.
func (n *Node) Identity() *identity.Identity { return n.id }

// Store returns the node's log store.
func (n *Node) Store() *logstore.Store { return n.store }

// Peers returns the node's peer table.
func (n *Node) Peers() *peertable.Table { return n.peers }

// Gossip returns the node's gossip engine.
func (n *Node) Gossip() *gossip.Engine { return n.gossip }

// HandshakePublic returns the node's static X25519 handshake public key,
// published alongside its signing key in peer directories.
func (n *Node) HandshakePublic() [32]byte { return n.handshake.Public }

// --- peer directory persistence ---

type persistedPeer struct {
	PublicKey    []byte `json:"publicKey"`
	HandshakePub []byte `json:"handshakePub"`
	Address      string `json:"address"`
}

type persistedPeers struct {
	Peers []persistedPeer `json:"peers"`
}

func (n *Node) peersPath() string { return filepath.Join(n.home, "peers.json") }

func (n *Node) loadPeers() error {
	b, err := os.ReadFile(n.peersPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("node: read peers: %w", err)
	}
	var pp persistedPeers
	if err := json.Unmarshal(b, &pp); err != nil {
		return fmt.Errorf("node: decode peers: %w", err)
	}
	for _, p := range pp.Peers {
		pub, err := ocrypto.PublicKeyFromBytes(p.PublicKey)
		if err != nil {
			n.logger.Error("skipping bad persisted peer", "err", err)
			continue
		}
		if len(p.HandshakePub) != 32 {
			n.logger.Error("skipping persisted peer with bad handshake key")
			continue
		}
		var hsPub [32]byte
		copy(hsPub[:], p.HandshakePub)
		if err := n.AddPeer(pub, hsPub, p.Address); err != nil {
			n.logger.Error("skipping persisted peer", "err", err)
		}
	}
	return nil
}

func (n *Node) savePeers() error {
	var pp persistedPeers
	n.mu.RLock()
	for _, p := range n.peers.Ranked() {
		hs, ok := n.hsPubs[p.NodeID]
		if !ok {
			continue
		}
		pp.Peers = append(pp.Peers, persistedPeer{
			PublicKey:    p.PublicKey.Bytes(),
			HandshakePub: hs[:],
			Address:      p.Address,
		})
	}
	n.mu.RUnlock()
	b, err := json.MarshalIndent(pp, "", "  ")
	if err != nil {
		return fmt.Errorf("node: encode peers: %w", err)
	}
	if err := os.WriteFile(n.peersPath(), b, 0o644); err != nil {
		return fmt.Errorf("node: write peers: %w", err)
	}
	return nil
}
