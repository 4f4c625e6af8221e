package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ocpoker/internal/ocrypto"
)

func TestNewDerivesNodeIDFromPublicKey(t *testing.T) {
	id, err := New("alice")
	require.NoError(t, err)
	require.Equal(t, ocrypto.NodeID(id.Public().PublicKey), id.NodeID())
	require.Equal(t, "alice", id.Public().DisplayName)
}

func TestLoadCreatesThenReloadsSameIdentity(t *testing.T) {
	home := t.TempDir()

	first, err := Load(home, "bob")
	require.NoError(t, err)

	second, err := Load(home, "ignored-fallback")
	require.NoError(t, err)
	require.Equal(t, first.NodeID(), second.NodeID())
	require.Equal(t, "bob", second.Public().DisplayName)
}

func TestSignVerify(t *testing.T) {
	id, err := New("carol")
	require.NoError(t, err)
	msg := []byte("the quick brown fox")
	sig, err := id.Sign(msg)
	require.NoError(t, err)
	require.True(t, Verify(id.Public().PublicKey, msg, sig))
	require.False(t, Verify(id.Public().PublicKey, []byte("tampered"), sig))
}

func TestReputationClampsToUnitInterval(t *testing.T) {
	id, err := New("dave")
	require.NoError(t, err)
	require.Equal(t, 0.5, id.Reputation())

	id.AdjustReputation(10)
	require.Equal(t, 1.0, id.Reputation())
	id.AdjustReputation(-20)
	require.Equal(t, 0.0, id.Reputation())
}

func TestHandshakeSeedIsStableAndDistinct(t *testing.T) {
	home := t.TempDir()
	a, err := Load(home, "a")
	require.NoError(t, err)
	b, err := New("b")
	require.NoError(t, err)

	require.Equal(t, a.HandshakeSeed(), a.HandshakeSeed())
	require.NotEqual(t, a.HandshakeSeed(), b.HandshakeSeed())

	reloaded, err := Load(home, "a")
	require.NoError(t, err)
	require.Equal(t, a.HandshakeSeed(), reloaded.HandshakeSeed())
}
