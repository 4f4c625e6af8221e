package peertable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ocpoker/internal/ocrypto"
)

func TestUpsertAndRank(t *testing.T) {
	table := New(0, time.Minute)
	now := time.Now()

	a := ocrypto.Hash([]byte("a"))
	b := ocrypto.Hash([]byte("b"))

	_, _, pubA, _ := newKeys(t)
	_, _, pubB, _ := newKeys(t)

	require.NoError(t, table.Upsert(a, pubA, "addr-a", now))
	require.NoError(t, table.Upsert(b, pubB, "addr-b", now))
	require.Equal(t, 2, table.Len())

	table.RecordSuccess(a, 10*time.Millisecond)
	table.RecordFailure(b)

	ranked := table.Ranked()
	require.Len(t, ranked, 2)
	require.Equal(t, a, ranked[0].NodeID) // higher reliability ranks first
}

func TestPruneMarksInactiveThenEvicts(t *testing.T) {
	table := New(0, time.Minute)
	a := ocrypto.Hash([]byte("a"))
	_, _, pubA, _ := newKeys(t)

	start := time.Now()
	require.NoError(t, table.Upsert(a, pubA, "addr-a", start))

	table.Prune(start.Add(2 * time.Minute))
	p, ok := table.Get(a)
	require.True(t, ok)
	require.True(t, p.Inactive)

	table.Prune(start.Add(10 * time.Minute))
	_, ok = table.Get(a)
	require.False(t, ok)
}

func TestFanoutBounds(t *testing.T) {
	table := New(0, time.Minute)
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := ocrypto.Hash([]byte{byte(i)})
		_, _, pub, _ := newKeys(t)
		require.NoError(t, table.Upsert(id, pub, "addr", now))
	}
	require.Len(t, table.Fanout(3), 3)
	require.Len(t, table.Fanout(100), 5)
}

func TestReliabilityEWMA(t *testing.T) {
	table := New(0, time.Minute)
	a := ocrypto.Hash([]byte("a"))
	_, _, pub, _ := newKeys(t)
	require.NoError(t, table.Upsert(a, pub, "addr", time.Now()))

	// Starts at 0.5; success moves toward 1, failure decays by 0.9.
	table.RecordSuccess(a, time.Millisecond)
	p, _ := table.Get(a)
	require.InDelta(t, 0.9*0.5+0.1, p.Reliability, 1e-9)

	table.RecordFailure(a)
	p, _ = table.Get(a)
	require.InDelta(t, 0.9*(0.9*0.5+0.1), p.Reliability, 1e-9)
}

func TestRefreshReactivatesAndActiveCount(t *testing.T) {
	table := New(0, time.Minute)
	a := ocrypto.Hash([]byte("a"))
	_, _, pub, _ := newKeys(t)

	start := time.Now()
	require.NoError(t, table.Upsert(a, pub, "addr", start))
	require.Equal(t, 1, table.ActivePeerCount())

	table.Prune(start.Add(2 * time.Minute))
	require.Equal(t, 0, table.ActivePeerCount())

	table.Refresh(a, start.Add(2*time.Minute))
	require.Equal(t, 1, table.ActivePeerCount())

	table.ObserveLatestSequence(a, 9)
	table.ObserveLatestSequence(a, 4) // never regresses
	table.SetBond(a, 500)
	p, _ := table.Get(a)
	require.Equal(t, uint64(9), p.ObservedLatestSequence)
	require.Equal(t, uint64(500), p.Bond)
}

func TestEvictsOldestWhenFull(t *testing.T) {
	table := New(2, time.Minute)
	now := time.Now()
	a := ocrypto.Hash([]byte("a"))
	b := ocrypto.Hash([]byte("b"))
	c := ocrypto.Hash([]byte("c"))
	_, _, pub, _ := newKeys(t)

	require.NoError(t, table.Upsert(a, pub, "addr-a", now.Add(-2*time.Second)))
	require.NoError(t, table.Upsert(b, pub, "addr-b", now.Add(-time.Second)))
	require.NoError(t, table.Upsert(c, pub, "addr-c", now))

	require.Equal(t, 2, table.Len())
	_, ok := table.Get(a)
	require.False(t, ok) // oldest went first
}

func newKeys(t *testing.T) (priv ocrypto.PrivateKey, id ocrypto.Hash256, pub ocrypto.PublicKey, err error) {
	t.Helper()
	priv, pub, err = ocrypto.GenerateKeypair()
	require.NoError(t, err)
	return priv, ocrypto.NodeID(pub), pub, nil
}
