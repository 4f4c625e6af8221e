package node

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"

	"ocpoker/internal/config"
	"ocpoker/internal/entry"
	"ocpoker/internal/transport"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.GossipIntervalMS = 20
	cfg.MixMin = 0 // direct sends keep the test deterministic in time
	return cfg
}

func newNode(t *testing.T, net *transport.MemoryNetwork, address string) *Node {
	t.Helper()
	cfg := testConfig()
	cfg.DisplayName = address
	n, err := New(t.TempDir(), cfg, log.NewNopLogger(), net.NewAdapter(address))
	require.NoError(t, err)
	return n
}

func link(t *testing.T, a, b *Node, addrA, addrB string) {
	t.Helper()
	require.NoError(t, a.AddPeer(b.Identity().Public().PublicKey, b.HandshakePublic(), addrB))
	require.NoError(t, b.AddPeer(a.Identity().Public().PublicKey, a.HandshakePublic(), addrA))
}

func TestTwoNodesConvergeOverGossip(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := newNode(t, net, "a")
	b := newNode(t, net, "b")
	link(t, a, b, "a", "b")

	_, err := a.AppendLocal(entry.KindChatMessage, 1, &entry.ChatMessagePayload{
		TableID: 1, SenderID: a.Identity().NodeID(), Text: "hello", Timestamp: 1700000000000,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = a.Run(ctx); done <- struct{}{} }()
	go func() { _ = b.Run(ctx); done <- struct{}{} }()

	require.Eventually(t, func() bool {
		return b.Store().LatestSequence(a.Identity().NodeID()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	<-done
}

func TestAppendLocalFlowsIntoReplay(t *testing.T) {
	net := transport.NewMemoryNetwork()
	n := newNode(t, net, "solo")
	self := n.Identity().NodeID()

	_, err := n.AppendLocal(entry.KindTableCreate, 7, &entry.TableCreatePayload{
		TableID: 7, Name: "home game", Variant: "NT", MaxPlayers: 6, SmallBlind: 1, BigBlind: 2, CreatorID: self,
	})
	require.NoError(t, err)
	_, err = n.AppendLocal(entry.KindPlayerJoin, 7, &entry.PlayerJoinPayload{
		PlayerID: self, TableID: 7, Seat: 0, BuyIn: 200,
	})
	require.NoError(t, err)

	table := n.ReplayTable(7)
	require.Equal(t, "home game", table.Name)
	require.Len(t, table.Seats, 1)
	require.Equal(t, uint64(200), table.Seats[0].Stack)
}

func TestPeerDirectoryPersistsAcrossRestart(t *testing.T) {
	net := transport.NewMemoryNetwork()
	homeA := t.TempDir()
	cfg := testConfig()

	a, err := New(homeA, cfg, log.NewNopLogger(), net.NewAdapter("a1"))
	require.NoError(t, err)
	b := newNode(t, net, "b1")
	require.NoError(t, a.AddPeer(b.Identity().Public().PublicKey, b.HandshakePublic(), "b1"))
	require.NoError(t, a.savePeers())

	// A fresh node over the same home re-learns the peer and its key.
	a2, err := New(homeA, cfg, log.NewNopLogger(), net.NewAdapter("a2"))
	require.NoError(t, err)
	require.Equal(t, a.Identity().NodeID(), a2.Identity().NodeID())
	p, ok := a2.Peers().Get(b.Identity().NodeID())
	require.True(t, ok)
	require.Equal(t, "b1", p.Address)
}

func TestValidateProposalRejectsForgery(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := newNode(t, net, "val-a")
	b := newNode(t, net, "val-b")
	link(t, a, b, "val-a", "val-b")

	good, err := b.AppendLocal(entry.KindChatMessage, 1, &entry.ChatMessagePayload{
		TableID: 1, SenderID: b.Identity().NodeID(), Text: "legit", Timestamp: 1,
	})
	require.NoError(t, err)
	require.NoError(t, a.validateProposal(good))

	forged := good
	forged.Payload = []byte(`{"text":"forged"}`)
	require.Error(t, a.validateProposal(forged))

	unknownOrigin := good
	unknownOrigin.OriginNodeID[0] ^= 0xff
	require.Error(t, a.validateProposal(unknownOrigin))
}
