package gossip

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"

	"ocpoker/internal/entry"
	"ocpoker/internal/logstore"
	"ocpoker/internal/ocrypto"
	"ocpoker/internal/peertable"
	"ocpoker/internal/transport"
)

// testNode bundles one engine with its identity and adapter so tests can
// pump frames between nodes deterministically, without the timer loops.
type testNode struct {
	priv    ocrypto.PrivateKey
	pub     ocrypto.PublicKey
	id      ocrypto.Hash256
	store   *logstore.Store
	peers   *peertable.Table
	adapter *transport.MemoryAdapter
	engine  *Engine
	address string
}

func newTestNode(t *testing.T, net *transport.MemoryNetwork, name string, resolve logstore.PublicKeyResolver, opts Options) *testNode {
	t.Helper()
	seed := ocrypto.Hash([]byte(name))
	priv, pub, err := ocrypto.PrivateKeyFromSeed(seed.Bytes())
	require.NoError(t, err)

	n := &testNode{
		priv:    priv,
		pub:     pub,
		id:      ocrypto.NodeID(pub),
		store:   logstore.New(0, resolve),
		peers:   peertable.New(0, 30*time.Second),
		adapter: net.NewAdapter(name),
		address: name,
	}
	eng, err := New(log.NewNopLogger(), opts, n.id, n.store, n.peers, n.adapter)
	require.NoError(t, err)
	n.engine = eng
	return n
}

// connect makes a and b mutual peers with a shared session.
func connect(t *testing.T, a, b *testNode) {
	t.Helper()
	hsA, err := transport.StaticHandshakeKeypair(ocrypto.Hash([]byte("hs"), a.pub.Bytes()).Bytes())
	require.NoError(t, err)
	hsB, err := transport.StaticHandshakeKeypair(ocrypto.Hash([]byte("hs"), b.pub.Bytes()).Bytes())
	require.NoError(t, err)

	require.NoError(t, a.peers.Upsert(b.id, b.pub, b.address, time.Now()))
	require.NoError(t, b.peers.Upsert(a.id, a.pub, a.address, time.Now()))
	a.engine.SetSession(b.address, hsA.DeriveSession(hsB.Public))
	b.engine.SetSession(a.address, hsB.DeriveSession(hsA.Public))
}

// pump delivers every queued frame for n into its engine, returning how
// many frames were processed.
func pump(ctx context.Context, t *testing.T, n *testNode) int {
	t.Helper()
	count := 0
	for {
		rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		addr, frame, err := n.adapter.Receive(rctx)
		cancel()
		if err != nil {
			return count
		}
		n.engine.HandleFrame(ctx, addr, frame)
		count++
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.MixMin = 0 // send directly; mixing is covered by its own tests
	return opts
}

func TestAnnounceTriggersRangeReconciliation(t *testing.T) {
	ctx := context.Background()
	net := transport.NewMemoryNetwork()

	var resolve logstore.PublicKeyResolver
	known := make(map[ocrypto.Hash256]ocrypto.PublicKey)
	resolve = func(id ocrypto.Hash256) (ocrypto.PublicKey, bool) {
		pub, ok := known[id]
		return pub, ok
	}

	x := newTestNode(t, net, "x", resolve, testOptions())
	y := newTestNode(t, net, "y", resolve, testOptions())
	known[x.id] = x.pub
	known[y.id] = y.pub
	connect(t, x, y)

	// Y holds 7 entries of its own; X holds the first 5 of them.
	var all []entry.Entry
	for i := 0; i < 7; i++ {
		e, err := y.store.AppendLocal(y.priv, y.id, entry.KindChatMessage, 1, []byte(`{"text":"m"}`))
		require.NoError(t, err)
		all = append(all, e)
	}
	for _, e := range all[:5] {
		require.NoError(t, x.store.InstallRemote(e))
	}

	// One round on Y announces; X requests [6,7]; Y responds; X installs.
	y.engine.RunRound(ctx)
	require.Equal(t, 1, pump(ctx, t, x)) // announce
	require.Equal(t, uint64(1), x.engine.Counters.RangeRequested.Load())
	require.Equal(t, 1, pump(ctx, t, y)) // range request
	require.Equal(t, 1, pump(ctx, t, x)) // range response

	require.Equal(t, uint64(7), x.store.LatestSequence(y.id))
	require.Equal(t, y.store.MerkleRoot(y.id), x.store.MerkleRoot(y.id))
	require.Equal(t, uint64(2), x.engine.Counters.Installed.Load())
}

func TestAnnounceWhenInSyncIsQuiet(t *testing.T) {
	ctx := context.Background()
	net := transport.NewMemoryNetwork()
	known := make(map[ocrypto.Hash256]ocrypto.PublicKey)
	resolve := func(id ocrypto.Hash256) (ocrypto.PublicKey, bool) { pub, ok := known[id]; return pub, ok }

	x := newTestNode(t, net, "x", resolve, testOptions())
	y := newTestNode(t, net, "y", resolve, testOptions())
	known[x.id] = x.pub
	known[y.id] = y.pub
	connect(t, x, y)

	e, err := y.store.AppendLocal(y.priv, y.id, entry.KindChatMessage, 1, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, x.store.InstallRemote(e))

	y.engine.RunRound(ctx)
	pump(ctx, t, x)
	require.Zero(t, x.engine.Counters.RangeRequested.Load())
	require.Zero(t, pump(ctx, t, y))
}

func TestDuplicateSuppression(t *testing.T) {
	ctx := context.Background()
	net := transport.NewMemoryNetwork()
	known := make(map[ocrypto.Hash256]ocrypto.PublicKey)
	resolve := func(id ocrypto.Hash256) (ocrypto.PublicKey, bool) { pub, ok := known[id]; return pub, ok }

	x := newTestNode(t, net, "x", resolve, testOptions())
	y := newTestNode(t, net, "y", resolve, testOptions())
	known[x.id] = x.pub
	known[y.id] = y.pub
	connect(t, x, y)

	_, err := y.store.AppendLocal(y.priv, y.id, entry.KindChatMessage, 1, []byte(`{}`))
	require.NoError(t, err)

	// The same announcement delivered twice: the second copy is dropped
	// by the seen cache, so no second range request goes out.
	ann := y.engine.buildAnnouncement()
	payload, err := json.Marshal(ann)
	require.NoError(t, err)
	msg := NewMessage(TypeAnnounce, y.id, time.Now().UnixMilli(), 7, payload)
	y.engine.sendNow(ctx, x.address, msg)
	y.engine.sendNow(ctx, x.address, msg)

	require.Equal(t, 2, pump(ctx, t, x))
	require.Equal(t, uint64(1), x.engine.Counters.Duplicates.Load())
	require.Equal(t, uint64(1), x.engine.Counters.RangeRequested.Load())
}

func TestTamperedFrameSilentlyDropped(t *testing.T) {
	ctx := context.Background()
	net := transport.NewMemoryNetwork()
	resolve := func(ocrypto.Hash256) (ocrypto.PublicKey, bool) { return ocrypto.PublicKey{}, false }

	x := newTestNode(t, net, "x", resolve, testOptions())
	y := newTestNode(t, net, "y", resolve, testOptions())
	connect(t, x, y)

	msg := NewMessage(TypeNoise, y.id, time.Now().UnixMilli(), 2, []byte("cover"))
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	keys, ok := y.engine.session(x.address)
	require.True(t, ok)
	frame, err := transport.Seal(keys, body)
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xff

	require.NoError(t, y.adapter.Send(ctx, x.address, frame))
	require.Equal(t, 1, pump(ctx, t, x))
	require.Equal(t, uint64(1), x.engine.Counters.BadFrames.Load())
}

func TestForwardBroadcastDecrementsTTLAndSkipsSource(t *testing.T) {
	ctx := context.Background()
	net := transport.NewMemoryNetwork()
	resolve := func(ocrypto.Hash256) (ocrypto.PublicKey, bool) { return ocrypto.PublicKey{}, false }

	a := newTestNode(t, net, "a", resolve, testOptions())
	b := newTestNode(t, net, "b", resolve, testOptions())
	c := newTestNode(t, net, "c", resolve, testOptions())
	connect(t, a, b)
	connect(t, b, c)
	connect(t, a, c)

	// A broadcasts a proposal; B forwards it to C but not back to A.
	a.engine.Broadcast(ctx, TypePropose, []byte(`{"round":1}`))
	require.Equal(t, 1, pump(ctx, t, b))

	got := 0
	for {
		rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		addr, frame, err := c.adapter.Receive(rctx)
		cancel()
		if err != nil {
			break
		}
		keys, ok := c.engine.session(addr)
		require.True(t, ok)
		body, ok, err := transport.Open(keys, frame)
		require.NoError(t, err)
		require.True(t, ok)
		var msg Message
		require.NoError(t, json.Unmarshal(body, &msg))
		if msg.Type == TypePropose && addr == b.address {
			require.Equal(t, DefaultOptions().TTL-1, msg.TTL)
			got++
		}
	}
	require.Equal(t, 1, got)

	// Nothing came back to A beyond its own send: B excluded the source.
	require.Zero(t, pump(ctx, t, a))
}

func TestMixPoolHoldsUntilMinimum(t *testing.T) {
	pool := newMixPool(10)
	for i := 0; i < 9; i++ {
		pool.deposit("peer", Message{Type: TypeNoise})
	}
	require.Empty(t, pool.drain())

	pool.deposit("peer", Message{Type: TypeNoise})
	batch := pool.drain()
	require.NotEmpty(t, batch)
	require.LessOrEqual(t, len(batch), 5)

	// flush releases the remainder and leaves the pool empty.
	rest := pool.flush()
	require.Len(t, rest, 10-len(batch))
	require.Empty(t, pool.flush())
}

func TestMixPoolDefersNonPriorityTraffic(t *testing.T) {
	ctx := context.Background()
	net := transport.NewMemoryNetwork()
	resolve := func(ocrypto.Hash256) (ocrypto.PublicKey, bool) { return ocrypto.PublicKey{}, false }

	opts := DefaultOptions()
	opts.MixMin = 3
	x := newTestNode(t, net, "x", resolve, opts)
	y := newTestNode(t, net, "y", resolve, opts)
	connect(t, x, y)

	// Non-priority messages sit in the pool below the minimum.
	msg := NewMessage(TypeNoise, x.id, time.Now().UnixMilli(), 2, []byte("n1"))
	x.engine.enqueue(ctx, y.address, msg, false)
	x.engine.DrainMixPool(ctx)
	require.Zero(t, pump(ctx, t, y))

	// Priority traffic bypasses the pool entirely.
	x.engine.enqueue(ctx, y.address, NewMessage(TypeVote, x.id, time.Now().UnixMilli(), 1, []byte("v")), true)
	require.Equal(t, 1, pump(ctx, t, y))

	// Shutdown flushes the held non-priority message instead of
	// dropping it.
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- x.engine.Run(runCtx) }()
	cancel()
	<-done
	require.Equal(t, 1, pump(ctx, t, y))
}
