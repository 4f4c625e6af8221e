// Package transport defines the contract the gossip engine relies on for
// sending and receiving opaque frames: best-effort, possibly dropping,
// reordering, or duplicating messages. Every invariant above this layer
// must hold under those conditions. Frames are authenticated-encrypted
// before being handed to the adapter; a frame that fails authentication
// on receipt is silently dropped rather than surfaced as an error.
package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"ocpoker/internal/ocrypto"
)

// Adapter frames an opaque byte message to a peer address. Implementations
// need not guarantee delivery, ordering, or deduplication.
type Adapter interface {
	Send(ctx context.Context, address string, frame []byte) error
	// Receive blocks until a frame arrives on any address this adapter
	// listens on, or ctx is cancelled.
	Receive(ctx context.Context) (address string, frame []byte, err error)
	Close() error
}

// SessionKeys are the result of a peer handshake: a shared secretbox key
// derived from an X25519 (nacl/box) key exchange, used to seal every
// subsequent frame exchanged with that peer.
type SessionKeys struct {
	SharedKey [ocrypto.SymmetricKeySize]byte
}

// HandshakeKeypair is this node's ephemeral X25519 keypair for one
// handshake. A fresh pair should be generated per peer session.
type HandshakeKeypair struct {
	Public  [32]byte
	private [32]byte
}

func GenerateHandshakeKeypair() (HandshakeKeypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return HandshakeKeypair{}, fmt.Errorf("transport: generate handshake keypair: %w", err)
	}
	return HandshakeKeypair{Public: *pub, private: *priv}, nil
}

// StaticHandshakeKeypair derives a deterministic X25519 keypair from a
// node's secret seed. The public half is published in peer directories;
// two nodes that know each other's directory entries then compute the
// mutual session key with no extra round trips. The seed must be private
// key material, never anything an observer could reconstruct.
func StaticHandshakeKeypair(seed []byte) (HandshakeKeypair, error) {
	secret := ocrypto.DeriveSymmetricKey("ocpoker/v1/static-handshake", seed)
	pub, priv, err := box.GenerateKey(bytes.NewReader(secret[:]))
	if err != nil {
		return HandshakeKeypair{}, fmt.Errorf("transport: derive handshake keypair: %w", err)
	}
	return HandshakeKeypair{Public: *pub, private: *priv}, nil
}

// DeriveSession computes the shared session key from this node's private
// handshake key and the peer's public handshake key via X25519, then
// folds the resulting shared secret down to a secretbox key.
func (k HandshakeKeypair) DeriveSession(peerPublic [32]byte) SessionKeys {
	var shared [32]byte
	box.Precompute(&shared, &peerPublic, &k.private)
	return SessionKeys{SharedKey: ocrypto.DeriveSymmetricKey("ocpoker/v1/transport-session", shared[:])}
}

// Seal authenticated-encrypts a plaintext frame body under the session
// key, prefixing it with a 4-byte length-delimited frame header so
// adapters built on top of a raw byte stream can find frame boundaries.
func Seal(session SessionKeys, body []byte) ([]byte, error) {
	sealed, err := ocrypto.Seal(session.SharedKey, body)
	if err != nil {
		return nil, fmt.Errorf("transport: seal frame: %w", err)
	}
	out := make([]byte, 4+len(sealed))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(sealed)))
	copy(out[4:], sealed)
	return out, nil
}

// Open reverses Seal. A frame that fails authentication returns
// (nil, false, nil): the caller is expected to silently drop it, per the
// contract above, not to treat it as a hard error.
func Open(session SessionKeys, framed []byte) (body []byte, ok bool, err error) {
	if len(framed) < 4 {
		return nil, false, nil
	}
	n := binary.LittleEndian.Uint32(framed[:4])
	if uint32(len(framed)-4) != n {
		return nil, false, nil
	}
	plain, openErr := ocrypto.Open(session.SharedKey, framed[4:])
	if openErr != nil {
		return nil, false, nil
	}
	return plain, true, nil
}
