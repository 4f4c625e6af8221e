package logstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ocpoker/internal/entry"
	"ocpoker/internal/ocrypto"
)

type testOrigin struct {
	priv ocrypto.PrivateKey
	pub  ocrypto.PublicKey
	id   ocrypto.Hash256
}

func newTestOrigin(t *testing.T, seed string) testOrigin {
	t.Helper()
	s := ocrypto.Hash([]byte(seed))
	priv, pub, err := ocrypto.PrivateKeyFromSeed(s.Bytes())
	require.NoError(t, err)
	return testOrigin{priv: priv, pub: pub, id: ocrypto.NodeID(pub)}
}

func resolverFor(origins ...testOrigin) PublicKeyResolver {
	m := make(map[ocrypto.Hash256]ocrypto.PublicKey, len(origins))
	for _, o := range origins {
		m[o.id] = o.pub
	}
	return func(id ocrypto.Hash256) (ocrypto.PublicKey, bool) {
		pub, ok := m[id]
		return pub, ok
	}
}

// signedEntry builds a correctly signed entry at a chosen sequence, as a
// remote peer would have produced it.
func signedEntry(t *testing.T, o testOrigin, seq uint64, text string) entry.Entry {
	t.Helper()
	e := entry.Entry{
		Sequence:     seq,
		Timestamp:    1700000000000 + int64(seq),
		OriginNodeID: o.id,
		Kind:         entry.KindChatMessage,
		TableID:      1,
		Payload:      []byte(`{"text":"` + text + `"}`),
	}
	require.NoError(t, e.Sign(o.priv))
	return e
}

func TestAppendLocalSequencesAndNotifies(t *testing.T) {
	o := newTestOrigin(t, "local")
	s := New(0, resolverFor(o))

	var notified []entry.Entry
	s.Subscribe(func(e entry.Entry) { notified = append(notified, e) })

	for i := 1; i <= 3; i++ {
		e, err := s.AppendLocal(o.priv, o.id, entry.KindChatMessage, 1, []byte(`{"text":"hi"}`))
		require.NoError(t, err)
		require.Equal(t, uint64(i), e.Sequence)
		require.True(t, e.VerifySignature(o.pub))
	}
	require.Equal(t, uint64(3), s.LatestSequence(o.id))
	require.Len(t, notified, 3)
}

func TestAppendLocalRejectsOversizedPayload(t *testing.T) {
	o := newTestOrigin(t, "local")
	s := New(0, resolverFor(o))

	big := make([]byte, entry.MaxPayloadBytes+1)
	_, err := s.AppendLocal(o.priv, o.id, entry.KindChatMessage, 1, big)
	require.ErrorIs(t, err, entry.ErrPayloadTooLarge)

	exact := make([]byte, entry.MaxPayloadBytes)
	_, err = s.AppendLocal(o.priv, o.id, entry.KindChatMessage, 1, exact)
	require.NoError(t, err)
}

func TestAppendLocalStoreFull(t *testing.T) {
	o := newTestOrigin(t, "local")
	s := New(2, resolverFor(o))

	for i := 0; i < 2; i++ {
		_, err := s.AppendLocal(o.priv, o.id, entry.KindChatMessage, 1, []byte(`{}`))
		require.NoError(t, err)
	}
	_, err := s.AppendLocal(o.priv, o.id, entry.KindChatMessage, 1, []byte(`{}`))
	require.ErrorIs(t, err, ErrStoreFull)
}

func TestInstallRemoteOrderingRules(t *testing.T) {
	remote := newTestOrigin(t, "remote")
	s := New(0, resolverFor(remote))

	e1 := signedEntry(t, remote, 1, "one")
	e2 := signedEntry(t, remote, 2, "two")
	e3 := signedEntry(t, remote, 3, "three")

	// Sequence N+2 while current is N fails out of order.
	require.ErrorIs(t, s.InstallRemote(e2), ErrOutOfOrder)

	require.NoError(t, s.InstallRemote(e1))
	require.Equal(t, uint64(1), s.LatestSequence(remote.id))

	// Replaying an installed sequence is a duplicate, even with different
	// content.
	require.ErrorIs(t, s.InstallRemote(e1), ErrDuplicate)
	conflicting := signedEntry(t, remote, 1, "other content")
	require.ErrorIs(t, s.InstallRemote(conflicting), ErrDuplicate)

	require.ErrorIs(t, s.InstallRemote(e3), ErrOutOfOrder)
	require.NoError(t, s.InstallRemote(e2))
	require.NoError(t, s.InstallRemote(e3))
	require.Equal(t, uint64(3), s.LatestSequence(remote.id))
}

func TestInstallRemoteRejectsBadSignature(t *testing.T) {
	remote := newTestOrigin(t, "remote")
	imposter := newTestOrigin(t, "imposter")
	s := New(0, resolverFor(remote))

	e := signedEntry(t, imposter, 1, "forged")
	e.OriginNodeID = remote.id // claims to be remote, signed by imposter
	require.ErrorIs(t, s.InstallRemote(e), ErrBadSignature)

	unknown := signedEntry(t, imposter, 1, "unknown")
	require.ErrorIs(t, s.InstallRemote(unknown), ErrUnknownOrigin)
}

func TestRangeWindows(t *testing.T) {
	o := newTestOrigin(t, "local")
	s := New(0, resolverFor(o))
	for i := 0; i < 5; i++ {
		_, err := s.AppendLocal(o.priv, o.id, entry.KindChatMessage, 1, []byte(`{}`))
		require.NoError(t, err)
	}

	es := s.Range(o.id, 2, 4)
	require.Len(t, es, 3)
	require.Equal(t, uint64(2), es[0].Sequence)
	require.Equal(t, uint64(4), es[2].Sequence)

	// Clamped above, empty below/absent.
	require.Len(t, s.Range(o.id, 4, 99), 2)
	require.Empty(t, s.Range(o.id, 6, 9))
	require.Empty(t, s.Range(o.id, 0, 3))
	require.Empty(t, s.Range(ocrypto.Hash([]byte("nobody")), 1, 5))
}

func TestMerkleRootTracksAppends(t *testing.T) {
	o := newTestOrigin(t, "a")
	s1 := New(0, resolverFor(o))
	s2 := New(0, resolverFor(o))

	require.Equal(t, ocrypto.Hash256{}, s1.MerkleRoot(o.id))

	var entries []entry.Entry
	for i := 0; i < 4; i++ {
		e, err := s1.AppendLocal(o.priv, o.id, entry.KindChatMessage, 1, []byte(`{}`))
		require.NoError(t, err)
		entries = append(entries, e)
	}

	// A second store installing the identical entries converges on the
	// identical root; roots at different lengths differ.
	for i, e := range entries {
		require.NotEqual(t, s1.MerkleRoot(o.id), s2.MerkleRoot(o.id))
		require.NoError(t, s2.InstallRemote(e))
		if i == len(entries)-1 {
			require.Equal(t, s1.MerkleRoot(o.id), s2.MerkleRoot(o.id))
		}
	}
}

func TestGossipReconciliationRangeTransfer(t *testing.T) {
	// Node X holds A:1..5, node Y holds A:1..7; X pulls [6,7] from Y and
	// converges.
	a := newTestOrigin(t, "A")
	x := New(0, resolverFor(a))
	y := New(0, resolverFor(a))

	var all []entry.Entry
	for i := 1; i <= 7; i++ {
		e := signedEntry(t, a, uint64(i), "msg")
		all = append(all, e)
		require.NoError(t, y.InstallRemote(e))
	}
	for _, e := range all[:5] {
		require.NoError(t, x.InstallRemote(e))
	}

	gap := y.Range(a.id, x.LatestSequence(a.id)+1, y.LatestSequence(a.id))
	require.Len(t, gap, 2)
	for _, e := range gap {
		require.NoError(t, x.InstallRemote(e))
	}
	require.Equal(t, uint64(7), x.LatestSequence(a.id))
	require.Equal(t, y.MerkleRoot(a.id), x.MerkleRoot(a.id))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	o := newTestOrigin(t, "persist")
	home := t.TempDir()

	s := New(0, resolverFor(o))
	for i := 0; i < 3; i++ {
		_, err := s.AppendLocal(o.priv, o.id, entry.KindChatMessage, 2, []byte(`{"text":"x"}`))
		require.NoError(t, err)
	}
	require.NoError(t, s.Save(home))

	loaded, err := Load(home, 0, resolverFor(o))
	require.NoError(t, err)
	require.Equal(t, uint64(3), loaded.LatestSequence(o.id))
	require.Equal(t, s.MerkleRoot(o.id), loaded.MerkleRoot(o.id))
	require.Equal(t, s.Range(o.id, 1, 3), loaded.Range(o.id, 1, 3))
}

func TestAppendSignedUsesSignerIdentity(t *testing.T) {
	o := newTestOrigin(t, "signer")
	s := New(0, resolverFor(o))

	e, err := s.AppendSigned(signerFunc{o}, entry.KindChatMessage, 1, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, o.id, e.OriginNodeID)
	require.True(t, e.VerifySignature(o.pub))
}

type signerFunc struct{ o testOrigin }

func (s signerFunc) NodeID() ocrypto.Hash256           { return s.o.id }
func (s signerFunc) Sign(msg []byte) ([]byte, error)   { return s.o.priv.Sign(msg) }
